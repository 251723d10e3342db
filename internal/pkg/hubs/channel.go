package hubs

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/korovkin/limiter"
	"github.com/pkg/errors"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

// State is the channel's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHandshake
	StateReady
	StateListening
)

const (
	defaultInvokeTimeout  = 10 * time.Second
	defaultReceiveTimeout = 5 * time.Minute
	reconnectDelay        = 5 * time.Second
	// Callback fan-out is bounded; callbacks are fire-and-forget and must
	// never block the listen loop.
	callbackConcurrency = 8
)

// ConnectCallback runs after the channel (re)connects; subscriptions are
// re-issued from here because a reconnect is a restart, not a resumption.
type ConnectCallback func()

// DisconnectCallback runs after the listen loop unwinds.
type DisconnectCallback func()

// EventCallback receives decoded invocation/event frames.
type EventCallback func(Event)

// Channel owns one live socket to one hub.  It implements the frame
// protocol (handshake, ping/pong, invoke, close), a watchdog that forces
// reconnection on silence, and callback registries for connect, disconnect
// and event notifications.
type Channel struct {
	cfg       *Config
	userAgent string

	invokeTimeout  time.Duration
	receiveTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	ready   bool
	readyCh chan struct{}
	closing bool

	writeMu sync.Mutex

	cbMu          sync.Mutex
	nextCbID      int
	connectCbs    map[int]ConnectCallback
	disconnectCbs map[int]DisconnectCallback
	eventCbs      map[int]EventCallback

	watchdog *Watchdog
	fanout   *limiter.ConcurrencyLimiter
}

// ChannelOption customizes a channel.
type ChannelOption func(*Channel)

// WithWatchdogTimeout overrides the silence bound before a forced
// reconnect.
func WithWatchdogTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		c.watchdog = NewWatchdog(d, c.watchdogExpired)
	}
}

// WithInvokeTimeout overrides how long Invoke waits for readiness.
func WithInvokeTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) { c.invokeTimeout = d }
}

func NewChannel(cfg *Config, userAgent string, opts ...ChannelOption) *Channel {
	c := &Channel{
		cfg:            cfg,
		userAgent:      userAgent,
		invokeTimeout:  defaultInvokeTimeout,
		receiveTimeout: defaultReceiveTimeout,
		connectCbs:     map[int]ConnectCallback{},
		disconnectCbs:  map[int]DisconnectCallback{},
		eventCbs:       map[int]EventCallback{},
		fanout:         limiter.NewConcurrencyLimiter(callbackConcurrency),
	}
	c.watchdog = NewWatchdog(DefaultWatchdogTimeout, c.watchdogExpired)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the hub configuration this channel is bound to.
func (c *Channel) Config() *Config {
	return c.cfg
}

// Connected reports whether the socket is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AddConnectCallback registers a callback fired after connecting.  The
// returned func removes it.
func (c *Channel) AddConnectCallback(cb ConnectCallback) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	id := c.nextCbID
	c.nextCbID++
	c.connectCbs[id] = cb
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		delete(c.connectCbs, id)
	}
}

// AddDisconnectCallback registers a callback fired after the listen loop
// unwinds.
func (c *Channel) AddDisconnectCallback(cb DisconnectCallback) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	id := c.nextCbID
	c.nextCbID++
	c.disconnectCbs[id] = cb
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		delete(c.disconnectCbs, id)
	}
}

// AddEventCallback registers a callback receiving decoded events.
func (c *Channel) AddEventCallback(cb EventCallback) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	id := c.nextCbID
	c.nextCbID++
	c.eventCbs[id] = cb
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		delete(c.eventCbs, id)
	}
}

// Connect dials the hub, sends the protocol handshake and arms the
// watchdog.  Connecting twice is a logged no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		logging.Logger(ctx).Debug("Websocket: Connect() called but already connected")
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	c.mu.Unlock()

	logging.Logger(ctx).Infof("Websocket: Connecting to %s hub", c.cfg.Name)

	headers := http.Header{}
	headers.Set("User-Agent", c.userAgent)
	headers.Set("Pragma", "no-cache")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Origin", "http://localhost")
	headers.Set("Accept-Language", "en-US,en;q=0.9")

	dialer := websocket.Dialer{
		HandshakeTimeout:  15 * time.Second,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL(c.cfg.FullURL), headers)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		if resp != nil {
			switch resp.StatusCode {
			case 401, 403, 404, 409:
				return errors.Wrapf(transport.ErrInvalidCredentials,
					"dialing %s hub: status %d", c.cfg.Name, resp.StatusCode)
			}
		}
		return errors.Wrapf(ErrCannotConnect, "dialing %s hub: %v", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateAwaitingHandshake
	c.ready = false
	c.readyCh = make(chan struct{})
	c.mu.Unlock()

	// The hub will not emit anything until it sees the protocol handshake.
	if err := c.send(map[string]interface{}{"protocol": "json", "version": 1}); err != nil {
		c.Disconnect()
		return errors.Wrapf(ErrCannotConnect, "sending handshake to %s hub: %v", c.cfg.Name, err)
	}

	logging.Logger(ctx).Infof("Connected to %s hub", c.cfg.Name)
	c.watchdog.Trigger()
	c.fireConnect()

	return nil
}

// wsURL rewrites the negotiated http(s) URL to the websocket scheme.
func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

// Listen enters the read loop until the socket closes, errors or the
// watchdog kills it.  On exit the watchdog is cancelled and the disconnect
// callbacks fire exactly once.  A connection-closed condition from an
// intentional Disconnect returns nil; everything else returns the typed
// error so the owner can decide between reconnect and abort.
func (c *Channel) Listen(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.state = StateListening
	c.mu.Unlock()

	logging.Logger(ctx).Info("Websocket: Listen started")

	var loopErr error
loop:
	for {
		frames, err := c.receive(conn)
		if err != nil {
			loopErr = err
			break
		}

		for _, raw := range frames {
			if err := c.handleFrame(ctx, raw); err != nil {
				loopErr = err
				break loop
			}
		}
	}

	intentional := c.isClosing()

	logging.Logger(ctx).Info("Websocket: Listen completed; cleaning up")
	c.watchdog.Cancel()
	c.teardown()
	c.fireDisconnect()

	if intentional || loopErr == nil {
		return nil
	}
	if errors.Is(loopErr, ErrConnectionClosed) {
		logging.Logger(ctx).WithError(loopErr).Error("Websocket: Closed while listening")
	} else if errors.Is(loopErr, ErrInvalidMessage) {
		logging.Logger(ctx).WithError(loopErr).Warn("Websocket: Received invalid message")
	}
	return loopErr
}

func (c *Channel) receive(conn *websocket.Conn) ([][]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.receiveTimeout)); err != nil {
		return nil, errors.Wrap(ErrConnectionFailed, err.Error())
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			return nil, errors.Wrap(ErrConnectionClosed, err.Error())
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// Nothing heard within the receive bound; treat as a stall.
			return nil, errors.Wrap(ErrConnectionFailed, "receive timed out")
		}
		if c.isClosing() {
			return nil, errors.Wrap(ErrConnectionClosed, err.Error())
		}
		return nil, errors.Wrap(ErrConnectionFailed, err.Error())
	}

	if msgType != websocket.TextMessage {
		return nil, errors.Wrapf(ErrInvalidMessage, "received non-text message type %d", msgType)
	}

	// Every inbound frame feeds the watchdog.
	c.watchdog.Trigger()

	return splitFrames(data), nil
}

func (c *Channel) handleFrame(ctx context.Context, raw []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return errors.Wrapf(ErrInvalidMessage, "invalid JSON frame: %.100s", raw)
	}

	// The protocol's handshake acknowledgement is an empty JSON object.
	if len(probe) == 0 {
		c.markReady(ctx)
		return nil
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return errors.Wrapf(ErrInvalidMessage, "invalid frame shape: %.100s", raw)
	}

	switch typeOf(f.Type) {
	case MsgPing:
		// Reply with a pong, no callback fan-out.
		c.fanout.Execute(func() {
			if err := c.pong(); err != nil {
				logging.Logger(ctx).WithError(err).Debug("sending pong")
			}
		})
		return nil
	case MsgClose:
		logging.Logger(ctx).Errorf("Websocket: Received close frame: target %s error %s", f.Target, f.Error)
		return errors.Wrap(ErrConnectionClosed, "close frame received")
	default:
		c.fireEvent(eventFromFrame(f))
		return nil
	}
}

func (c *Channel) markReady(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return
	}
	c.ready = true
	if c.state == StateAwaitingHandshake {
		c.state = StateReady
	}
	close(c.readyCh)
	logging.Logger(ctx).Info("Websocket: Ready for data")
}

// Invoke sends an invocation frame to the hub.  If the channel is not yet
// ready it blocks on the readiness event up to a bounded timeout; if the
// timeout elapses the invoke is dropped with a log record rather than
// queued indefinitely, so a stuck invoke never blocks the caller forever.
func (c *Channel) Invoke(ctx context.Context, args []interface{}, target string, invocationID int) error {
	c.mu.Lock()
	ready := c.ready
	readyCh := c.readyCh
	c.mu.Unlock()

	if !ready {
		logging.Logger(ctx).Warnf("Delaying invoke %s %d: Websocket not ready", target, invocationID)
		select {
		case <-readyCh:
		case <-time.After(c.invokeTimeout):
			logging.Logger(ctx).Warnf("Dropping invoke %s %d: Websocket never became ready", target, invocationID)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return c.send(map[string]interface{}{
		"arguments":    args,
		"invocationId": strconv.Itoa(invocationID),
		"target":       target,
		"type":         int(MsgInvoke),
	})
}

func (c *Channel) pong() error {
	return c.send(map[string]interface{}{"type": int(MsgPing)})
}

func (c *Channel) send(payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := encodeFrame(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(ErrConnectionFailed, err.Error())
	}
	return nil
}

// Disconnect cancels the watchdog and closes the socket.  Disconnect
// callbacks fire from the listen loop's unwind, not from here.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	c.watchdog.Cancel()
	c.teardown()
}

func (c *Channel) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.ready = false
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		logging.Logger(nil).Info("Disconnected from websocket server")
	}
}

// Reconnect restarts the connection: disconnect, a short delay, connect.
// No frame replay happens; owners re-subscribe from their connect
// callbacks.
func (c *Channel) Reconnect(ctx context.Context) error {
	logging.Logger(ctx).Warn("Websocket: Reconnecting")
	c.Disconnect()

	select {
	case <-time.After(reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.Connect(ctx)
}

// watchdogExpired runs outside any request/response call stack; it
// schedules an asynchronous reconnect rather than failing synchronously.
func (c *Channel) watchdogExpired() {
	if err := c.Reconnect(context.Background()); err != nil {
		logging.Logger(nil).WithError(err).Error("Websocket: watchdog reconnect failed")
	}
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Channel) fireConnect() {
	c.cbMu.Lock()
	cbs := make([]ConnectCallback, 0, len(c.connectCbs))
	for _, cb := range c.connectCbs {
		cbs = append(cbs, cb)
	}
	c.cbMu.Unlock()

	for _, cb := range cbs {
		cb := cb
		c.fanout.Execute(func() { cb() })
	}
}

func (c *Channel) fireDisconnect() {
	c.cbMu.Lock()
	cbs := make([]DisconnectCallback, 0, len(c.disconnectCbs))
	for _, cb := range c.disconnectCbs {
		cbs = append(cbs, cb)
	}
	c.cbMu.Unlock()

	for _, cb := range cbs {
		cb := cb
		c.fanout.Execute(func() { cb() })
	}
}

func (c *Channel) fireEvent(ev Event) {
	c.cbMu.Lock()
	cbs := make([]EventCallback, 0, len(c.eventCbs))
	for _, cb := range c.eventCbs {
		cbs = append(cbs, cb)
	}
	c.cbMu.Unlock()

	for _, cb := range cbs {
		cb := cb
		c.fanout.Execute(func() { cb(ev) })
	}
}
