package websocket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/primaryapi/rofex-sdk-go/client/websocket/internal"
	"github.com/primaryapi/rofex-sdk-go/common"
)

// The following errors are returned from Client, or delivered to the
// exception handler.
var (
	// ErrNotConnected means no connection is established when the client
	// tried to e.g. send a message, or close the connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionFailed means the connection could not be established
	// within the connection timeout. It is delivered to the exception
	// handler rather than returned from Connect, so that the direct and
	// recovery connection paths surface failures the same way.
	ErrConnectionFailed = errors.New("connection could not be established")

	// ErrReconnectionExhausted means every automatic reconnection attempt
	// failed. No further attempts are made until the caller reconnects
	// manually. It is delivered to the exception handler.
	ErrReconnectionExhausted = errors.New("automatic reconnection failed")
)

const (
	// connTimeout is how long Connect waits for the connection to reach the
	// open state before signalling ErrConnectionFailed.
	connTimeout = 5 * time.Second

	defaultHeartbeatInterval = 30 * time.Second

	statusError = "ERROR"

	msgTypeMarketData  = "MD"
	msgTypeOrderReport = "OR"
)

// ReconnectOpts are settings for automatic recovery after an abnormal
// closure (websocket close code 1008, which the venue uses to drop sessions
// with expired credentials).
type ReconnectOpts struct {
	// AutoReconnect switch: if true, an abnormal closure triggers a recovery
	// run. If false, the client stays disconnected.
	AutoReconnect bool

	// MaxAttempts is the number of reconnection attempts per recovery run.
	MaxAttempts int

	// BaseDelay is the wait before the first attempt; it doubles after every
	// attempt.
	BaseDelay time.Duration
}

var defaultReconnectOpts = ReconnectOpts{
	AutoReconnect: true,
	MaxAttempts:   3,
	BaseDelay:     2 * time.Second,
}

// TokenRefresher obtains a fresh authentication token. During a recovery run
// it is invoked before every re-authenticating attempt (the second attempt
// onwards), to cover the case where the session was dropped because the
// token expired.
type TokenRefresher interface {
	UpdateToken() (string, error)
}

// Params contains options for creating a Client.
type Params struct {
	// URL is the websocket URL of the Primary API environment.
	URL string

	// Token is the current authentication token, sent as the X-Auth-Token
	// header on the websocket handshake.
	Token string

	// TokenRefresher is optional; without it, re-authenticating reconnection
	// attempts reuse the existing token.
	TokenRefresher TokenRefresher

	// HeartbeatInterval is how often a ping frame is sent to the server.
	// Defaults to 30 seconds.
	HeartbeatInterval time.Duration

	TLSConfig *tls.Config

	// ReconnectOpts contains settings for automatic recovery. Sensible
	// defaults are used.
	ReconnectOpts *ReconnectOpts

	// Logger is used for connection lifecycle and recovery logging.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Below are mockables; should only be set for tests. By default, prod
	// values will be used.

	clk clock.Clock
}

// Client maintains a single persistent websocket session to the Primary API:
// it translates subscription and order requests into wire messages,
// dispatches inbound events to registered handlers, and transparently
// recovers the session (including re-authentication and replay of standing
// subscriptions) after an abnormal closure.
//
// Typically you will create an instance with NewClient, register handlers,
// and then call Connect.
type Client struct {
	params Params

	handlers handlerRegistry
	ledger   subscriptionLedger

	clk clock.Clock
	log *slog.Logger

	// recovering is the single-flight guard for recovery runs: a second
	// abnormal closure while a run is active must not spawn another one.
	recovering atomic.Bool

	mtx sync.Mutex
	// transport is the currently live session, or nil before the first
	// connect. It is replaced wholesale on every (re)connection.
	transport *internal.TransportConn
	token     string
	// reconnectOpts is mutable via SetAutoReconnect / DisableAutoReconnect.
	reconnectOpts ReconnectOpts
}

// NewClient creates a new Client with the given params. It does not connect;
// register handlers first, then call Connect.
func NewClient(params *Params) (*Client, error) {
	// Copy params defensively
	p := *params

	if p.URL == "" {
		return nil, errors.New("URL is empty")
	}

	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = defaultHeartbeatInterval
	}

	reconnectOpts := defaultReconnectOpts
	if p.ReconnectOpts != nil {
		reconnectOpts = *p.ReconnectOpts
	}

	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	if p.clk == nil {
		p.clk = clock.New()
	}

	return &Client{
		params:        p,
		clk:           p.clk,
		log:           p.Logger,
		token:         p.Token,
		reconnectOpts: reconnectOpts,
	}, nil
}

// Handler registration. Adding a handler that is already registered is a
// no-op, as is removing one that was never registered. Handlers for a given
// category are invoked in registration order, sequentially, on the listener
// goroutine that decoded the frame; a handler must not block for long, or it
// will starve further inbound delivery.

// AddMarketDataHandler registers a handler for market-data updates.
func (c *Client) AddMarketDataHandler(cb MarketDataCB) { c.handlers.addMarketData(cb) }

// RemoveMarketDataHandler removes a previously registered market-data handler.
func (c *Client) RemoveMarketDataHandler(cb MarketDataCB) { c.handlers.removeMarketData(cb) }

// AddOrderReportHandler registers a handler for order reports.
func (c *Client) AddOrderReportHandler(cb OrderReportCB) { c.handlers.addOrderReport(cb) }

// RemoveOrderReportHandler removes a previously registered order-report handler.
func (c *Client) RemoveOrderReportHandler(cb OrderReportCB) { c.handlers.removeOrderReport(cb) }

// AddErrorHandler registers a handler for venue error frames and
// unclassifiable frames.
func (c *Client) AddErrorHandler(cb ErrorCB) { c.handlers.addError(cb) }

// RemoveErrorHandler removes a previously registered error handler.
func (c *Client) RemoveErrorHandler(cb ErrorCB) { c.handlers.removeError(cb) }

// SetExceptionHandler sets the exception sink, replacing any previous one.
// The sink receives client-side faults; see ExceptionCB.
func (c *Client) SetExceptionHandler(cb ExceptionCB) { c.handlers.setException(cb) }

// Connect establishes the websocket session and starts the background
// listener. It is a no-op if a session is already live or being established.
// Connect blocks until the connection is open, or up to the connection
// timeout; a failure to connect is signalled to the exception handler, not
// returned, so the direct and recovery paths behave the same.
func (c *Client) Connect() {
	if err := c.connect(); err != nil {
		c.dispatchException(errors.Trace(err))
	}
}

func (c *Client) connect() error {
	c.mtx.Lock()

	if c.transport != nil {
		switch c.transport.State() {
		case internal.TransportStateOpen, internal.TransportStateConnecting:
			c.mtx.Unlock()
			return nil
		}
	}

	header := http.Header{}
	header.Set("X-Auth-Token", c.token)

	transport := internal.NewTransportConn(&internal.TransportParams{
		URL:               c.params.URL,
		RequestHeader:     header,
		HeartbeatInterval: c.params.HeartbeatInterval,
		TLSConfig:         c.params.TLSConfig,
	})

	// states receives every transport transition; connect only cares about
	// reaching Open (or terminally failing to).
	states := make(chan internal.TransportState, 8)
	transport.OnStateChange(func(_, state internal.TransportState) {
		select {
		case states <- state:
		default:
		}
	})

	transport.OnRead(c.handleFrame)
	transport.OnClose(c.handleClose)
	transport.OnError(c.handleTransportError)

	c.transport = transport
	c.mtx.Unlock()

	if err := transport.Connect(); err != nil {
		return errors.Trace(err)
	}

	timeout := c.clk.Timer(connTimeout)
	defer timeout.Stop()

	for {
		select {
		case state := <-states:
			switch state {
			case internal.TransportStateOpen:
				c.log.Info("connection established", "url", c.params.URL)
				return nil
			case internal.TransportStateDisconnected:
				return errors.Trace(ErrConnectionFailed)
			}

		case <-timeout.C:
			return errors.Trace(ErrConnectionFailed)
		}
	}
}

// Close performs a deliberate closure of the session. A normal closure never
// triggers recovery.
func (c *Client) Close() error {
	c.mtx.Lock()
	transport := c.transport
	c.mtx.Unlock()

	if transport == nil {
		return errors.Trace(ErrNotConnected)
	}

	err := transport.Close()
	if errors.Cause(err) == internal.ErrNotConnected {
		return errors.Trace(ErrNotConnected)
	}

	return errors.Trace(err)
}

// IsConnected reports whether the session is open.
func (c *Client) IsConnected() bool {
	c.mtx.Lock()
	transport := c.transport
	c.mtx.Unlock()

	return transport != nil && transport.State() == internal.TransportStateOpen
}

// MarketDataSubscription subscribes to market data for the given symbols.
// The subscription is recorded for replay after a reconnection, one record
// per distinct parameter set; the wire request is sent on every call, even
// when an identical record already exists.
func (c *Client) MarketDataSubscription(symbols []string, entries []common.MarketDataEntry, market common.MarketID, depth int) error {
	sub := MarketDataSubscription{
		Symbols: slices.Clone(symbols),
		Entries: slices.Clone(entries),
		Market:  market,
		Depth:   depth,
	}

	if c.ledger.addMarketData(sub) {
		c.log.Debug("recorded market data subscription", "symbols", symbols, "market", market)
	}

	data, err := encodeMarketDataSubscribe(sub)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.send(data))
}

// OrderReportSubscription subscribes to execution reports for the given
// account. If snapshot is true, reports for orders placed before the
// subscription are suppressed. Like MarketDataSubscription, the record is
// kept once but the wire request is sent on every call.
func (c *Client) OrderReportSubscription(account string, snapshot bool) error {
	sub := OrderReportSubscription{Account: account, Snapshot: snapshot}

	if c.ledger.addOrderReport(sub) {
		c.log.Debug("recorded order report subscription", "account", account)
	}

	data, err := encodeOrderReportSubscribe(sub)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.send(data))
}

// SendOrder sends a new order request. Orders are one-shot commands: they
// are not recorded and never replayed on reconnection.
func (c *Client) SendOrder(o *OrderParams) error {
	data, err := encodeNewOrder(o)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.send(data))
}

// CancelOrder sends a cancel request for the order with the given client
// order ID and proprietary. Like SendOrder, it is a one-shot command.
func (c *Client) CancelOrder(clientOrderID, proprietary string) error {
	data, err := encodeCancelOrder(clientOrderID, proprietary)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.send(data))
}

// SetAutoReconnect configures automatic recovery: whether abnormal closures
// trigger it at all, how many attempts a run makes, and the initial delay
// (which doubles after every attempt). A run that is already active is not
// affected.
func (c *Client) SetAutoReconnect(enabled bool, maxAttempts int, baseDelay time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.reconnectOpts = ReconnectOpts{
		AutoReconnect: enabled,
		MaxAttempts:   maxAttempts,
		BaseDelay:     baseDelay,
	}
}

// DisableAutoReconnect turns off automatic recovery; other reconnection
// settings are left as they are.
func (c *Client) DisableAutoReconnect() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.reconnectOpts.AutoReconnect = false
}

// ActiveSubscriptions returns copies of the recorded market-data and
// order-report subscriptions, in insertion order.
func (c *Client) ActiveSubscriptions() ([]MarketDataSubscription, []OrderReportSubscription) {
	return c.ledger.snapshot()
}

// ClearSubscriptions forgets all recorded subscriptions; a subsequent
// reconnection replays nothing. It does not unsubscribe on the wire.
func (c *Client) ClearSubscriptions() {
	c.ledger.clear()
	c.log.Info("cleared recorded subscriptions")
}

// send writes an encoded message to the live session. Operations fail fast
// with ErrNotConnected while disconnected; nothing is queued.
func (c *Client) send(data []byte) error {
	c.mtx.Lock()
	transport := c.transport
	c.mtx.Unlock()

	if transport == nil {
		return errors.Trace(ErrNotConnected)
	}

	err := transport.Send(context.Background(), data)
	if errors.Cause(err) == internal.ErrNotConnected {
		return errors.Trace(ErrNotConnected)
	}

	return errors.Trace(err)
}

// handleFrame decodes and dispatches one inbound frame. It runs on the
// listener goroutine; any fault is routed to the exception sink, never
// allowed to terminate the listener.
func (c *Client) handleFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.dispatchException(errors.Annotatef(err, "decoding frame"))
		return
	}

	switch {
	case frame.Status == statusError:
		c.dispatchError(VenueError{
			Status:      frame.Status,
			Description: frame.Description,
			Raw:         data,
		})

	case frame.Type != "":
		switch strings.ToUpper(frame.Type) {
		case msgTypeMarketData:
			var md marketDataFrame
			if err := json.Unmarshal(data, &md); err != nil {
				c.dispatchException(errors.Annotatef(err, "decoding market data frame"))
				return
			}
			c.dispatchMarketData(MarketDataUpdate{
				Timestamp:  md.Timestamp,
				Instrument: md.InstrumentID,
				Entries:    md.MarketData,
				Raw:        data,
			})

		case msgTypeOrderReport:
			var or orderReportFrame
			if err := json.Unmarshal(data, &or); err != nil {
				c.dispatchException(errors.Annotatef(err, "decoding order report frame"))
				return
			}
			c.dispatchOrderReport(OrderReport{
				Timestamp: or.Timestamp,
				Report:    or.OrderReport,
				Raw:       data,
			})

		default:
			c.dispatchError(VenueError{
				Description: "websocket: message type " + frame.Type + " not supported",
				Raw:         data,
			})
		}

	default:
		c.dispatchError(VenueError{
			Description: "websocket: message not supported",
			Raw:         data,
		})
	}
}

// handleTransportError treats transport errors on a live session as fatal to
// it: the socket is closed, then the error goes to the exception sink.
// Errors from a session still being established (failed dials in particular)
// are only logged; the connect path reports those as ErrConnectionFailed.
func (c *Client) handleTransportError(err error) {
	c.mtx.Lock()
	transport := c.transport
	c.mtx.Unlock()

	if transport == nil || transport.State() != internal.TransportStateOpen {
		c.log.Warn("websocket transport error", "error", err)
		return
	}

	_ = transport.Close()

	c.dispatchException(errors.Annotatef(err, "websocket transport"))
}

// handleClose runs when the session is torn down. A policy-violation close
// (code 1008) is how the venue drops sessions with expired credentials, so
// it triggers a recovery run; at most one run may be active at a time.
func (c *Client) handleClose(code int, reason string) {
	c.log.Info("connection closed", "code", code, "reason", reason)

	if code != websocket.ClosePolicyViolation {
		return
	}

	c.mtx.Lock()
	opts := c.reconnectOpts
	c.mtx.Unlock()

	if !opts.AutoReconnect {
		return
	}

	if !c.recovering.CompareAndSwap(false, true) {
		return
	}

	c.log.Warn("abnormal closure, starting automatic reconnection", "code", code)
	go c.runRecovery(opts)
}

func (c *Client) dispatchMarketData(update MarketDataUpdate) {
	for _, cb := range c.handlers.marketDataSnapshot() {
		c.invoke(func() { cb(update) })
	}
}

func (c *Client) dispatchOrderReport(report OrderReport) {
	for _, cb := range c.handlers.orderReportSnapshot() {
		c.invoke(func() { cb(report) })
	}
}

func (c *Client) dispatchError(venueErr VenueError) {
	for _, cb := range c.handlers.errorsSnapshot() {
		c.invoke(func() { cb(venueErr) })
	}
}

// invoke runs one handler, isolating faults: a panicking handler is reported
// to the exception sink and does not prevent delivery to the handlers after
// it.
func (c *Client) invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			c.dispatchException(errors.Errorf("handler panic: %v", r))
		}
	}()

	f()
}

func (c *Client) dispatchException(err error) {
	cb := c.handlers.exceptionHandler()
	if cb == nil {
		c.log.Error("unhandled client exception", "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("exception handler panic", "panic", r)
		}
	}()

	cb(err)
}
