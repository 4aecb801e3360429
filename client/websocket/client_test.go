package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primaryapi/rofex-sdk-go/common"
)

type wsEventType int

const (
	wsEventConnOpened wsEventType = iota
	wsEventMsg
)

// wsEvent represents an event like new opened connection or new received
// websocket message
type wsEvent struct {
	eventType wsEventType

	// The fields below are only relevant if eventType is wsEventMsg
	data []byte
	err  error
}

type closeCommand struct {
	code   int
	reason string
}

type testServerParams struct {
	rx        <-chan wsEvent
	tx        chan<- []byte
	closeConn chan<- closeCommand
	url       string
}

func withTestServer(t *testing.T, cb func(tp *testServerParams) error) error {
	// tx and rx are channels to communicate raw websocket messages with the
	// test server: everything received by the server will be delivered to rx,
	// and everything sent to tx will be sent by the server to the client.
	// A command on closeConn makes the server close the current connection
	// with the given close code.
	rx := make(chan wsEvent, 128)
	tx := make(chan []byte, 128)
	closeConn := make(chan closeCommand, 1)

	// connLimiter ensures no more than one connection is opened at a time,
	// so the rx/tx channels always talk to a single well-defined connection.
	connLimiter := make(chan struct{}, 1)

	ts := httptest.NewServer(http.HandlerFunc(getStreamHandler(t, rx, tx, closeConn, connLimiter)))
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	if err != nil {
		return errors.Trace(err)
	}
	u.Scheme = "ws"

	if err := cb(&testServerParams{
		rx:        rx,
		tx:        tx,
		closeConn: closeConn,
		url:       u.String(),
	}); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// getStreamHandler returns an http handler which upgrades the connection to
// websocket, forwards events (opened connections and received messages) to
// the rx channel, and forwards messages from tx channel to websocket.
func getStreamHandler(
	t *testing.T,
	rx chan<- wsEvent,
	tx <-chan []byte,
	closeConn <-chan closeCommand,
	connLimiter chan struct{},
) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		connLimiter <- struct{}{}
		defer func() {
			<-connLimiter
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer ws.Close()

		t.Logf("new websocket conn is opened")

		rx <- wsEvent{
			eventType: wsEventConnOpened,
		}

		go func() {
			for {
				_, message, err := ws.ReadMessage()
				t.Logf("websocket rx: data=%s, err=%v", message, err)

				rx <- wsEvent{
					eventType: wsEventMsg,
					data:      message,
					err:       err,
				}

				if err != nil {
					// Signal tx loop to exit as well
					cancel()
					break
				}
			}
		}()

	txLoop:
		for {
			select {
			case msg := <-tx:
				t.Logf("websocket tx: data=%s", msg)
				if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
					t.Logf("error writing to websocket: %s", err)
					break txLoop
				}

			case cmd := <-closeConn:
				t.Logf("closing websocket conn with code %d", cmd.code)
				msg := websocket.FormatCloseMessage(cmd.code, cmd.reason)
				if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
					t.Logf("error writing close frame: %s", err)
				}
				ws.Close()
				break txLoop

			case <-ctx.Done():
				break txLoop
			}
		}
	}
}

func waitConnOpened(t *testing.T, tp *testServerParams) error {
	t.Helper()

	for {
		select {
		case event := <-tp.rx:
			// Read errors from a connection being torn down can race with
			// the next connection; skip them.
			if event.eventType == wsEventMsg && event.err != nil {
				continue
			}
			if event.eventType != wsEventConnOpened {
				return errors.Errorf("expected conn opened event, got %+v", event)
			}
			return nil
		case <-time.After(3 * time.Second):
			return errors.New("timed out waiting for connection")
		}
	}
}

func waitMsg(t *testing.T, tp *testServerParams) ([]byte, error) {
	t.Helper()

	select {
	case event := <-tp.rx:
		if event.eventType != wsEventMsg {
			return nil, errors.Errorf("expected message event, got %+v", event)
		}
		if event.err != nil {
			return nil, errors.Trace(event.err)
		}
		return event.data, nil
	case <-time.After(3 * time.Second):
		return nil, errors.New("timed out waiting for message")
	}
}

func expectNoEvents(tp *testServerParams, wait time.Duration) error {
	select {
	case event := <-tp.rx:
		return errors.Errorf("expected no events, but got %+v", event)
	case <-time.After(wait):
		return nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	client, err := NewClient(&Params{
		URL:    url,
		Token:  "test-token",
		Logger: testLogger(),
	})
	require.NoError(t, err)

	return client
}

func TestClientConnect(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client := newTestClient(t, tp.url)

		assert.False(t, client.IsConnected())

		client.Connect()

		if err := waitConnOpened(t, tp); err != nil {
			return errors.Trace(err)
		}

		assert.True(t, client.IsConnected())

		// A second Connect on a live session is a no-op: no new connection
		// shows up on the server side.
		client.Connect()
		if err := expectNoEvents(tp, 200*time.Millisecond); err != nil {
			return errors.Trace(err)
		}

		if err := client.Close(); err != nil {
			return errors.Trace(err)
		}

		return nil
	})
	require.NoError(t, err)
}

func TestClientDispatch(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client := newTestClient(t, tp.url)

		mdRx := make(chan MarketDataUpdate, 8)
		orRx := make(chan OrderReport, 8)
		errRx := make(chan VenueError, 8)
		excRx := make(chan error, 8)

		client.AddMarketDataHandler(func(update MarketDataUpdate) { mdRx <- update })
		client.AddOrderReportHandler(func(report OrderReport) { orRx <- report })
		client.AddErrorHandler(func(venueErr VenueError) { errRx <- venueErr })
		client.SetExceptionHandler(func(err error) { excRx <- err })

		client.Connect()
		if err := waitConnOpened(t, tp); err != nil {
			return errors.Trace(err)
		}

		// Market data frame goes to market data handlers only.
		tp.tx <- []byte(`{"type":"Md","timestamp":1577836800000,` +
			`"instrumentId":{"symbol":"DLR/DIC23","marketId":"ROFX"},` +
			`"marketData":{"BI":[{"price":301.5,"size":10}],"LA":{"price":302.0,"size":5,"date":1577836800000}}}`)

		select {
		case update := <-mdRx:
			assert.Equal(t, "DLR/DIC23", update.Instrument.Symbol)
			assert.Equal(t, common.MarketROFX, update.Instrument.MarketID)
			assert.Equal(t, int64(1577836800000), update.Timestamp)
			assert.Contains(t, update.Entries, common.Bids)
			assert.Contains(t, update.Entries, common.Last)
		case <-time.After(3 * time.Second):
			return errors.New("timed out waiting for market data update")
		}

		// Order report frame, type matched case-insensitively.
		tp.tx <- []byte(`{"type":"or","timestamp":1577836801000,` +
			`"orderReport":{"clOrdId":"abc123","status":"NEW"}}`)

		select {
		case report := <-orRx:
			assert.Equal(t, int64(1577836801000), report.Timestamp)

			var parsed map[string]interface{}
			require.NoError(t, json.Unmarshal(report.Report, &parsed))
			assert.Equal(t, "abc123", parsed["clOrdId"])
		case <-time.After(3 * time.Second):
			return errors.New("timed out waiting for order report")
		}

		// Venue error frame goes to error handlers.
		tp.tx <- []byte(`{"status":"ERROR","description":"Invalid symbol"}`)

		select {
		case venueErr := <-errRx:
			assert.Equal(t, "ERROR", venueErr.Status)
			assert.Equal(t, "Invalid symbol", venueErr.Description)
		case <-time.After(3 * time.Second):
			return errors.New("timed out waiting for venue error")
		}

		// Unknown frame type also goes to error handlers.
		tp.tx <- []byte(`{"type":"bogus"}`)

		select {
		case venueErr := <-errRx:
			assert.Contains(t, venueErr.Description, "not supported")
		case <-time.After(3 * time.Second):
			return errors.New("timed out waiting for unknown-type error")
		}

		// Malformed JSON goes to the exception handler.
		tp.tx <- []byte(`{not json`)

		select {
		case err := <-excRx:
			assert.Error(t, err)
		case <-time.After(3 * time.Second):
			return errors.New("timed out waiting for exception")
		}

		// Nothing leaked into the wrong category.
		assert.Empty(t, mdRx)
		assert.Empty(t, orRx)
		assert.Empty(t, errRx)

		return errors.Trace(client.Close())
	})
	require.NoError(t, err)
}

func TestClientSubscriptions(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client := newTestClient(t, tp.url)

		client.Connect()
		if err := waitConnOpened(t, tp); err != nil {
			return errors.Trace(err)
		}

		entries := []common.MarketDataEntry{common.Bids, common.Offers}

		// Two identical subscriptions: both hit the wire, but the ledger
		// keeps a single record.
		for i := 0; i < 2; i++ {
			if err := client.MarketDataSubscription([]string{"DLR/DIC23"}, entries, common.MarketROFX, 2); err != nil {
				return errors.Trace(err)
			}
		}

		for i := 0; i < 2; i++ {
			data, err := waitMsg(t, tp)
			if err != nil {
				return errors.Trace(err)
			}

			var msg map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.Equal(t, "smd", msg["type"])
			assert.Equal(t, float64(1), msg["level"])
			assert.Equal(t, float64(2), msg["depth"])
			assert.Equal(t, []interface{}{"BI", "OF"}, msg["entries"])
		}

		if err := client.OrderReportSubscription("ACC-100", true); err != nil {
			return errors.Trace(err)
		}

		data, err := waitMsg(t, tp)
		if err != nil {
			return errors.Trace(err)
		}

		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "os", msg["type"])
		assert.Equal(t, map[string]interface{}{"id": "ACC-100"}, msg["account"])
		assert.Equal(t, true, msg["snapshotOnlyActive"])

		mdSubs, orSubs := client.ActiveSubscriptions()
		assert.Len(t, mdSubs, 1)
		assert.Len(t, orSubs, 1)

		client.ClearSubscriptions()
		mdSubs, orSubs = client.ActiveSubscriptions()
		assert.Empty(t, mdSubs)
		assert.Empty(t, orSubs)

		return errors.Trace(client.Close())
	})
	require.NoError(t, err)
}

func TestClientOrders(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client := newTestClient(t, tp.url)

		client.Connect()
		if err := waitConnOpened(t, tp); err != nil {
			return errors.Trace(err)
		}

		price := 301.5
		err := client.SendOrder(&OrderParams{
			Ticker:      "DLR/DIC23",
			Market:      common.MarketROFX,
			Side:        common.BuyOrder,
			OrderType:   common.LimitOrder,
			TimeInForce: common.Day,
			Size:        10,
			Price:       &price,
			Account:     "ACC-100",
		})
		if err != nil {
			return errors.Trace(err)
		}

		data, err := waitMsg(t, tp)
		if err != nil {
			return errors.Trace(err)
		}

		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "no", msg["type"])
		assert.Equal(t, "DLR/DIC23", msg["product"].(map[string]interface{})["symbol"])
		assert.Equal(t, "BUY", msg["side"])
		assert.Equal(t, 301.5, msg["price"])

		if err := client.CancelOrder("abc123", "PBCP"); err != nil {
			return errors.Trace(err)
		}

		data, err = waitMsg(t, tp)
		if err != nil {
			return errors.Trace(err)
		}

		msg = nil
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "co", msg["type"])
		assert.Equal(t, "abc123", msg["clientId"])
		assert.Equal(t, "PBCP", msg["proprietary"])

		return errors.Trace(client.Close())
	})
	require.NoError(t, err)
}

func TestClientNotConnected(t *testing.T) {
	client := newTestClient(t, "ws://localhost:12345")

	err := client.MarketDataSubscription([]string{"DLR/DIC23"}, nil, common.MarketROFX, 1)
	assert.Equal(t, ErrNotConnected, errors.Cause(err))

	err = client.OrderReportSubscription("ACC-100", false)
	assert.Equal(t, ErrNotConnected, errors.Cause(err))

	err = client.CancelOrder("abc123", "PBCP")
	assert.Equal(t, ErrNotConnected, errors.Cause(err))

	err = client.Close()
	assert.Equal(t, ErrNotConnected, errors.Cause(err))

	// Subscriptions are still recorded while disconnected, so they will be
	// requested once a connection exists.
	mdSubs, _ := client.ActiveSubscriptions()
	assert.Len(t, mdSubs, 1)
}

func TestClientHandlerPanicIsolated(t *testing.T) {
	err := withTestServer(t, func(tp *testServerParams) error {
		client := newTestClient(t, tp.url)

		mdRx := make(chan MarketDataUpdate, 8)
		excRx := make(chan error, 8)

		client.AddMarketDataHandler(func(update MarketDataUpdate) { panic("boom") })
		client.AddMarketDataHandler(func(update MarketDataUpdate) { mdRx <- update })
		client.SetExceptionHandler(func(err error) { excRx <- err })

		client.Connect()
		if err := waitConnOpened(t, tp); err != nil {
			return errors.Trace(err)
		}

		tp.tx <- []byte(`{"type":"MD","timestamp":1,"instrumentId":{"symbol":"X","marketId":"ROFX"},"marketData":{}}`)

		// The panic goes to the exception handler, and the second handler
		// still receives the update.
		select {
		case err := <-excRx:
			assert.Contains(t, err.Error(), "handler panic")
		case <-time.After(3 * time.Second):
			return errors.New("timed out waiting for panic exception")
		}

		select {
		case update := <-mdRx:
			assert.Equal(t, "X", update.Instrument.Symbol)
		case <-time.After(3 * time.Second):
			return errors.New("timed out waiting for market data update")
		}

		return errors.Trace(client.Close())
	})
	require.NoError(t, err)
}
