package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/retry"
)

const (
	maxInboundMessageSize = 1 << 20
	writeWait             = 5 * time.Second
)

// ChannelConfig configures a signaling client.
type ChannelConfig struct {
	URL            string
	SessionCode    domain.SessionCode
	Role           domain.Role
	Token          string
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MessageTimeout time.Duration
	SendQueueSize  int
	Reconnect      retry.Policy
}

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventMessage
)

// Event is delivered to the channel's handler, in order, on a single goroutine.
type Event struct {
	Kind    EventKind
	State   domain.ConnectionState
	Err     error
	Message domain.Message
}

// Channel is a reconnecting websocket signaling client. All state transitions
// happen on one event-loop goroutine; the socket reader, writer and dialer
// report back to it through the input queue.
type Channel struct {
	cfg     ChannelConfig
	dialer  *websocket.Dialer
	logger  *zap.SugaredLogger
	metrics ports.Metrics
	handler func(Event)

	input chan interface{}
	out   chan Event
	quit  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	state     atomic.Int32

	mu   sync.Mutex
	conn *connection

	// owned by run
	gen            uint64
	backoff        *retry.Backoff
	dialCancel     context.CancelFunc
	connectTimer   *time.Timer
	pongTimer      *time.Timer
	messageTimer   *time.Timer
	reconnectTimer *time.Timer
	pingTicker     *time.Ticker
	terminal       bool
}

type openRequest struct{}

type dialResult struct {
	gen uint64
	ws  *websocket.Conn
	err error
}

type inboundMessage struct {
	gen uint64
	msg domain.Message
}

// inboundTraffic reports a frame that arrived but could not be decoded.
type inboundTraffic struct {
	gen uint64
}

type readFailed struct {
	gen uint64
	err error
}

// NewChannel builds an idle channel. handler receives every state change and
// every inbound application message; it may call Send and Close.
func NewChannel(cfg ChannelConfig, handler func(Event), logger *zap.SugaredLogger, metrics ports.Metrics) *Channel {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}
	if handler == nil {
		handler = func(Event) {}
	}
	c := &Channel{
		cfg:     cfg,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.ConnectTimeout},
		logger:  logger.With("component", "signaling", "role", string(cfg.Role), "session_code", string(cfg.SessionCode)),
		metrics: metrics,
		handler: handler,
		input:   make(chan interface{}, 16),
		out:     make(chan Event, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		backoff: retry.NewBackoff(cfg.Reconnect),
	}
	c.state.Store(int32(domain.StateIdle))
	return c
}

// State returns the current connection state.
func (c *Channel) State() domain.ConnectionState {
	return domain.ConnectionState(c.state.Load())
}

// Open starts connecting. Calling Open more than once, or after Close, has no effect.
func (c *Channel) Open() {
	c.startOnce.Do(func() {
		go c.dispatch()
		go c.run()
		c.post(openRequest{})
	})
}

// Close tears the channel down. It is idempotent, and once it returns no
// further handler invocation starts.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.quit)
	})
	c.startOnce.Do(func() {
		c.state.Store(int32(domain.StateClosed))
		close(c.done)
	})
	<-c.done
}

// Send queues msg for the server. It fails with ErrNotConnected unless the
// channel is Connected.
func (c *Channel) Send(msg domain.Message) error {
	if c.State() != domain.StateConnected {
		c.logger.Warnw("Dropping outbound message, channel not connected", "type", msg.Type(), "state", c.State().String())
		return domain.ErrNotConnected
	}
	data, err := Encode(msg)
	if err != nil {
		return apperrors.NewProtocolError(err.Error())
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	if !conn.enqueue(data) {
		c.logger.Warnw("Outbound queue full, dropping message", "type", msg.Type())
		return domain.ErrQueueFull
	}
	return nil
}

func (c *Channel) post(in interface{}) bool {
	select {
	case c.input <- in:
		return true
	case <-c.quit:
		return false
	case <-c.done:
		return false
	}
}

func (c *Channel) dispatch() {
	for ev := range c.out {
		if c.closed.Load() {
			continue
		}
		c.handler(ev)
	}
}

func (c *Channel) emit(ev Event) {
	select {
	case c.out <- ev:
	case <-c.quit:
	}
}

func (c *Channel) run() {
	defer close(c.done)
	defer close(c.out)

	for !c.terminal {
		select {
		case <-c.quit:
			c.teardown()
			c.state.Store(int32(domain.StateClosed))
			c.metrics.SignalingStateChanged(c.cfg.Role, domain.StateClosed)
			c.logger.Infow("Signaling channel closed")
			return
		case in := <-c.input:
			c.handleInput(in)
		case <-timerC(c.connectTimer):
			c.connectTimer = nil
			c.fail(domain.ErrConnectTimeout)
		case <-timerC(c.pongTimer):
			c.pongTimer = nil
			c.fail(domain.ErrPongTimeout)
		case <-timerC(c.messageTimer):
			c.messageTimer = nil
			c.fail(domain.ErrMessageTimeout)
		case <-timerC(c.reconnectTimer):
			c.reconnectTimer = nil
			c.connect()
		case <-tickerC(c.pingTicker):
			c.sendPing()
		}
	}
}

func (c *Channel) handleInput(in interface{}) {
	switch ev := in.(type) {
	case openRequest:
		if c.State() == domain.StateIdle {
			c.connect()
		}
	case dialResult:
		c.handleDial(ev)
	case inboundMessage:
		if ev.gen == c.gen {
			c.handleMessage(ev.msg)
		}
	case inboundTraffic:
		if ev.gen == c.gen {
			c.resetMessageTimer()
		}
	case readFailed:
		if ev.gen == c.gen {
			c.fail(apperrors.NewTransientNetworkError(ev.err, "signaling socket failed"))
		}
	}
}

func (c *Channel) connect() {
	c.gen++
	gen := c.gen
	c.setState(domain.StateConnecting, nil)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	c.dialCancel = cancel
	c.connectTimer = time.NewTimer(c.cfg.ConnectTimeout)

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	go func() {
		ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
		if !c.post(dialResult{gen: gen, ws: ws, err: err}) && ws != nil {
			ws.Close()
		}
	}()
}

func (c *Channel) handleDial(res dialResult) {
	if res.gen != c.gen || c.State() != domain.StateConnecting {
		if res.ws != nil {
			res.ws.Close()
		}
		return
	}
	if res.err != nil {
		c.fail(apperrors.NewTransientNetworkError(res.err, "signaling dial failed"))
		return
	}

	conn := newConnection(res.gen, res.ws, c.cfg.SendQueueSize)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go conn.writeLoop(c.logger)
	go c.readLoop(conn)

	data, err := Encode(domain.ConnectMessage{
		SessionCode: c.cfg.SessionCode,
		Role:        c.cfg.Role,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		c.fail(fmt.Errorf("failed to encode connect message: %w", err))
		return
	}
	if !conn.enqueue(data) {
		c.fail(fmt.Errorf("failed to queue connect message: %w", domain.ErrQueueFull))
	}
}

func (c *Channel) readLoop(conn *connection) {
	conn.ws.SetReadLimit(maxInboundMessageSize)
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			c.post(readFailed{gen: conn.gen, err: err})
			return
		}
		msg, err := Decode(data)
		if err != nil {
			c.logger.Warnw("Dropping malformed signaling message", "error", err, "size", len(data))
			if !c.post(inboundTraffic{gen: conn.gen}) {
				return
			}
			continue
		}
		if !c.post(inboundMessage{gen: conn.gen, msg: msg}) {
			return
		}
	}
}

// resetMessageTimer restarts the silence timeout; any inbound frame counts.
func (c *Channel) resetMessageTimer() {
	if c.messageTimer != nil {
		c.messageTimer.Reset(c.cfg.MessageTimeout)
	}
}

func (c *Channel) handleMessage(msg domain.Message) {
	c.resetMessageTimer()

	switch m := msg.(type) {
	case domain.ConnectedMessage:
		if c.State() != domain.StateConnecting {
			return
		}
		stopTimer(&c.connectTimer)
		if c.dialCancel != nil {
			c.dialCancel()
			c.dialCancel = nil
		}
		c.backoff.Reset()
		c.pingTicker = time.NewTicker(c.cfg.PingInterval)
		c.messageTimer = time.NewTimer(c.cfg.MessageTimeout)
		c.setState(domain.StateConnected, nil)
	case domain.PongMessage:
		stopTimer(&c.pongTimer)
	case domain.PingMessage:
		c.write(domain.PongMessage{Timestamp: m.Timestamp})
	default:
		c.emit(Event{Kind: EventMessage, State: c.State(), Message: msg})
	}
}

func (c *Channel) sendPing() {
	if c.pongTimer == nil {
		c.pongTimer = time.NewTimer(c.cfg.PongTimeout)
	}
	c.write(domain.PingMessage{Timestamp: time.Now().UnixMilli()})
}

// write is Send for the loop itself; it skips the state check.
func (c *Channel) write(msg domain.Message) {
	data, err := Encode(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil && !conn.enqueue(data) {
		c.logger.Warnw("Outbound queue full, dropping message", "type", msg.Type())
	}
}

func (c *Channel) fail(cause error) {
	state := c.State()
	if state != domain.StateConnecting && state != domain.StateConnected {
		return
	}
	c.teardown()
	c.logger.Warnw("Signaling connection lost", "error", cause, "state", state.String())
	c.setState(domain.StateDisconnected, cause)

	delay, ok := c.backoff.Next()
	if !ok {
		c.logger.Errorw("Reconnect attempts exhausted", "attempts", c.backoff.Attempt())
		c.setState(domain.StateClosed, domain.ErrReconnectExhausted)
		c.terminal = true
		return
	}

	attempt := c.backoff.Attempt()
	c.metrics.ReconnectScheduled(c.cfg.Role, attempt, delay)
	c.logger.Infow("Scheduling reconnect", "attempt", attempt, "delay", delay)
	c.reconnectTimer = time.NewTimer(delay)
}

func (c *Channel) teardown() {
	stopTimer(&c.connectTimer)
	stopTimer(&c.pongTimer)
	stopTimer(&c.messageTimer)
	stopTimer(&c.reconnectTimer)
	if c.pingTicker != nil {
		c.pingTicker.Stop()
		c.pingTicker = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.close()
	}
}

func (c *Channel) setState(state domain.ConnectionState, cause error) {
	c.state.Store(int32(state))
	c.metrics.SignalingStateChanged(c.cfg.Role, state)
	c.logger.Debugw("Signaling state changed", "state", state.String())
	c.emit(Event{Kind: EventStateChanged, State: state, Err: cause})
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// connection is one websocket plus its writer goroutine.
type connection struct {
	gen       uint64
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(gen uint64, ws *websocket.Conn, queueSize int) *connection {
	return &connection{
		gen:  gen,
		ws:   ws,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

func (cn *connection) enqueue(data []byte) bool {
	select {
	case <-cn.done:
		return false
	default:
	}
	select {
	case cn.send <- data:
		return true
	default:
		return false
	}
}

func (cn *connection) writeLoop(logger *zap.SugaredLogger) {
	for {
		select {
		case <-cn.done:
			return
		case data := <-cn.send:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugw("Signaling write failed", "error", err)
				cn.ws.Close()
				return
			}
		}
	}
}

func (cn *connection) close() {
	cn.closeOnce.Do(func() {
		close(cn.done)
		cn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		cn.ws.Close()
	})
}
