package internal

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// TransportState represents the state of a transport connection.
type TransportState int

// The following constants represent every possible TransportState.
const (
	// TransportStateDisconnected means there is no websocket connection and no
	// connection loop running.
	TransportStateDisconnected TransportState = iota

	// TransportStateConnecting means the connection loop is dialing the server
	// right now.
	TransportStateConnecting

	// TransportStateOpen means the websocket connection is established and the
	// read loop is consuming frames.
	TransportStateOpen

	// TransportStateClosing means a deliberate closure was requested and we're
	// waiting for the server to acknowledge it.
	TransportStateClosing
)

// TransportStateNames contains human-readable names for TransportState.
var TransportStateNames = map[TransportState]string{
	TransportStateDisconnected: "disconnected",
	TransportStateConnecting:   "connecting",
	TransportStateOpen:         "open",
	TransportStateClosing:      "closing",
}

const (
	handshakeTimeout = 45 * time.Second
	controlSendWait  = 5 * time.Second
)

var (
	ErrNotConnected   = errors.New("transport error: not connected")
	ErrConnLoopActive = errors.New("transport error: connection loop is already active")
)

// TransportParams contains params for opening a transport connection (see
// TransportConn).
type TransportParams struct {
	URL string

	// RequestHeader is sent with the websocket handshake; it carries the
	// X-Auth-Token authentication header.
	RequestHeader http.Header

	// HeartbeatInterval is how often a ping control frame is sent to the
	// server. Zero disables client-side heartbeats.
	HeartbeatInterval time.Duration

	TLSConfig *tls.Config
}

// TransportConn owns a single physical websocket connection: it dials,
// runs the read loop, serializes writes, and reports lifecycle transitions
// through callbacks. It never reconnects on its own; once the connection is
// gone the TransportConn is spent, and recovery is the caller's business.
type TransportConn struct {
	params TransportParams

	connTx chan websocketTx

	// Current state
	state TransportState

	// wsConn is the currently active websocket connection, or nil if no
	// connection is established.
	wsConn *websocket.Conn

	// done is closed when the connection loop exits; it stops the write and
	// heartbeat loops and unblocks pending Send calls.
	done chan struct{}

	onReadCB        onReadCallback
	onStateChangeCB onStateChangeCallback
	onCloseCB       onCloseCallback
	onErrorCB       onErrorCallback

	mtx sync.Mutex
}

// websocketTx represents a message to send to the websocket.
type websocketTx struct {
	messageType int
	data        []byte
	res         chan error
}

type onReadCallback func(data []byte)
type onStateChangeCallback func(oldState, state TransportState)
type onCloseCallback func(code int, reason string)
type onErrorCallback func(err error)

// NewTransportConn creates a new transport connection with the given params.
//
// Note that a client should manually call Connect on a newly created
// connection; the rationale is that clients might register state and/or
// message handlers before the connection, to avoid any possible races.
func NewTransportConn(params *TransportParams) *TransportConn {
	return &TransportConn{
		// Copy params defensively
		params: *params,

		state:  TransportStateDisconnected,
		connTx: make(chan websocketTx, 1),
	}
}

// OnRead sets the on-read callback; it should be called once right after
// creation of the TransportConn, before the connection is established.
func (c *TransportConn) OnRead(cb onReadCallback) {
	c.onReadCB = cb
}

// OnStateChange sets the state transition callback; same caveats as OnRead.
func (c *TransportConn) OnStateChange(cb onStateChangeCallback) {
	c.onStateChangeCB = cb
}

// OnClose sets the callback invoked after the connection is torn down, with
// the websocket close code and reason received from (or attributed to) the
// peer; same caveats as OnRead.
func (c *TransportConn) OnClose(cb onCloseCallback) {
	c.onCloseCB = cb
}

// OnError sets the callback invoked for transport-level errors which are not
// graceful closures; same caveats as OnRead.
func (c *TransportConn) OnError(cb onErrorCallback) {
	c.onErrorCB = cb
}

// Connect starts the connection loop goroutine. It doesn't wait for the
// connection to establish, and returns immediately; openness is reported via
// the OnStateChange callback. Returns ErrConnLoopActive if the loop is
// already running.
func (c *TransportConn) Connect() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.state != TransportStateDisconnected {
		return errors.Trace(ErrConnLoopActive)
	}

	c.done = make(chan struct{})
	c.updateState(TransportStateConnecting)

	go c.connLoop(c.done)
	go c.writeLoop(c.done)

	return nil
}

// Close performs a deliberate closure: it sends a "normal closure" websocket
// message to the server, and the read loop terminates once the server
// acknowledges it. If the graceful closure fails, a forceful one is
// performed. Returns ErrNotConnected if there is no live connection loop.
func (c *TransportConn) Close() error {
	c.mtx.Lock()

	if c.state == TransportStateDisconnected {
		c.mtx.Unlock()
		return errors.Trace(ErrNotConnected)
	}

	wsConn := c.wsConn
	c.updateState(TransportStateClosing)
	c.mtx.Unlock()

	if wsConn == nil {
		// Still dialing; connLoop will notice the Closing state and tear the
		// connection down as soon as the dial resolves.
		return nil
	}

	data := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := wsConn.WriteControl(websocket.CloseMessage, data, time.Now().Add(controlSendWait)); err != nil {
		// Graceful close failed, close forcefully
		return errors.Trace(wsConn.Close())
	}

	return nil
}

// State returns the current connection state.
func (c *TransportConn) State() TransportState {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// URL returns the url used for the connection.
func (c *TransportConn) URL() string {
	return c.params.URL
}

// Send writes data to the websocket as a single text frame. It returns
// ErrNotConnected if no connection is established.
func (c *TransportConn) Send(ctx context.Context, data []byte) error {
	c.mtx.Lock()
	if c.wsConn == nil {
		c.mtx.Unlock()
		return errors.Trace(ErrNotConnected)
	}
	done := c.done
	c.mtx.Unlock()

	res := make(chan error, 1)

	select {
	case c.connTx <- websocketTx{
		messageType: websocket.TextMessage,
		data:        data,
		res:         res,
	}:
	case <-done:
		return errors.Trace(ErrNotConnected)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}

	select {
	case err := <-res:
		if err != nil {
			return errors.Annotatef(err, "sending msg")
		}
	case <-done:
		return errors.Trace(ErrNotConnected)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}

	return nil
}

// NOTE: updateState should only be called with c.mtx locked.
func (c *TransportConn) updateState(state TransportState) {
	if c.state == state {
		return
	}

	oldState := c.state
	c.state = state

	if c.onStateChangeCB != nil {
		c.onStateChangeCB(oldState, state)
	}
}

// connLoop dials the server, then keeps receiving all websocket messages
// (and calls the on-read callback for each of them) until the connection is
// closed, then reports the closure and quits.
func (c *TransportConn) connLoop(done chan struct{}) {
	defer close(done)

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  c.params.TLSConfig,
	}

	wsConn, resp, err := dialer.Dial(c.params.URL, c.params.RequestHeader)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}

		c.mtx.Lock()
		c.updateState(TransportStateDisconnected)
		c.mtx.Unlock()

		if c.onErrorCB != nil {
			c.onErrorCB(errors.Annotatef(err, "dialing %s", c.params.URL))
		}
		return
	}

	c.mtx.Lock()
	if c.state == TransportStateClosing {
		// Close was requested while the dial was in flight
		c.updateState(TransportStateDisconnected)
		c.mtx.Unlock()

		wsConn.Close()

		if c.onCloseCB != nil {
			c.onCloseCB(websocket.CloseNormalClosure, "")
		}
		return
	}
	c.wsConn = wsConn
	c.updateState(TransportStateOpen)
	c.mtx.Unlock()

	if c.params.HeartbeatInterval > 0 {
		go c.heartbeatLoop(wsConn, done)
	}

	closeCode := websocket.CloseAbnormalClosure
	closeReason := ""

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				closeCode = closeErr.Code
				closeReason = closeErr.Text
			} else if c.onErrorCB != nil && !isClosedConnError(err) {
				c.onErrorCB(errors.Trace(err))
			}
			break
		}

		if c.onReadCB != nil {
			c.onReadCB(data)
		}
	}

	wsConn.Close()

	c.mtx.Lock()
	c.wsConn = nil
	c.updateState(TransportStateDisconnected)
	c.mtx.Unlock()

	if c.onCloseCB != nil {
		c.onCloseCB(closeCode, closeReason)
	}
}

// writeLoop receives messages from c.connTx and tries to send them to the
// active websocket connection, if any.
func (c *TransportConn) writeLoop(done chan struct{}) {
	for {
		select {
		case <-done:
			return

		case msg := <-c.connTx:
			c.mtx.Lock()
			wsConn := c.wsConn
			c.mtx.Unlock()

			if wsConn == nil {
				msg.res <- errors.Trace(ErrNotConnected)
				continue
			}

			msg.res <- errors.Trace(wsConn.WriteMessage(msg.messageType, msg.data))
		}
	}
}

// heartbeatLoop sends ping control frames at the configured interval. Control
// frames may be written concurrently with writeLoop.
func (c *TransportConn) heartbeatLoop(wsConn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.params.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ticker.C:
			if err := wsConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlSendWait)); err != nil {
				// The read loop will observe the broken connection shortly
				return
			}
		}
	}
}

// isClosedConnError is needed because we don't have a separate type for
// that kind of error. Too bad.
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}

	return strings.Contains(err.Error(), "use of closed network connection")
}
