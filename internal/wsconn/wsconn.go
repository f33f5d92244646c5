// Package wsconn provides a WebSocket client with keepalive pings and state callbacks.
//
// A Client owns one connection. It does not reconnect by itself: callers that
// need a long-lived stream wrap it in their own retry loop.
package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fd1az/upstream-gateway/internal/apperror"
)

const meterName = "github.com/fd1az/upstream-gateway/internal/wsconn"

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// Config holds WebSocket client configuration.
type Config struct {
	URL            string
	Name           string // used in metrics and errors
	DialTimeout    time.Duration
	PingInterval   time.Duration // 0 disables pings
	PongTimeout    time.Duration
	MaxMessageSize int64
	Header         http.Header
}

// DefaultConfig returns defaults suitable for node subscriptions.
func DefaultConfig(url, name string) Config {
	return Config{
		URL:            url,
		Name:           name,
		DialTimeout:    10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		MaxMessageSize: 4 << 20,
	}
}

// MessageHandler receives every inbound message.
type MessageHandler func(ctx context.Context, msg []byte)

// StateHandler receives state transitions and the error that caused them, if any.
type StateHandler func(state State, err error)

type clientMetrics struct {
	received metric.Int64Counter
	sent     metric.Int64Counter
	errors   metric.Int64Counter
}

// Client is a single WebSocket connection.
type Client struct {
	config Config

	mu      sync.RWMutex
	state   State
	conn    *websocket.Conn
	lost    chan struct{}
	lastErr error

	onMessage MessageHandler
	onState   []StateHandler

	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once

	metrics *clientMetrics
	attrs   metric.MeasurementOption
}

// New validates cfg and creates a disconnected client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("invalid websocket url %q", cfg.URL)))
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10 * time.Second
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	c := &Client{
		config:    cfg,
		state:     StateDisconnected,
		lost:      make(chan struct{}),
		runCtx:    runCtx,
		runCancel: runCancel,
		attrs:     metric.WithAttributes(attribute.String("conn", cfg.Name)),
	}

	if err := c.initMetrics(); err != nil {
		runCancel()
		return nil, fmt.Errorf("init wsconn metrics: %w", err)
	}
	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &clientMetrics{}

	c.metrics.received, err = meter.Int64Counter(
		"ws_messages_received_total",
		metric.WithDescription("Total WebSocket messages received"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	c.metrics.sent, err = meter.Int64Counter(
		"ws_messages_sent_total",
		metric.WithDescription("Total WebSocket messages sent"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	c.metrics.errors, err = meter.Int64Counter(
		"ws_connection_errors_total",
		metric.WithDescription("Total WebSocket dial, read and ping failures"),
		metric.WithUnit("{error}"),
	)
	return err
}

// OnMessage sets the inbound message handler. Call before Connect.
func (c *Client) OnMessage(fn MessageHandler) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnStateChange adds a state transition handler. Call before Connect.
func (c *Client) OnStateChange(fn StateHandler) {
	c.mu.Lock()
	c.onState = append(c.onState, fn)
	c.mu.Unlock()
}

// Connect dials the server and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() == StateClosed {
		return apperror.New(apperror.CodeWebSocketClosed, apperror.WithContext(c.config.Name))
	}
	c.setState(StateConnecting, nil)

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.config.URL, &websocket.DialOptions{HTTPHeader: c.config.Header})
	if err != nil {
		c.metrics.errors.Add(ctx, 1, c.attrs)
		c.setState(StateDisconnected, err)
		return apperror.New(apperror.CodeWebSocketConnectionError,
			apperror.WithCause(err),
			apperror.WithContext(c.config.Name))
	}
	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}

	lost := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.lost = lost
	c.lastErr = nil
	c.mu.Unlock()

	c.setState(StateConnected, nil)

	go c.readLoop(conn, lost)
	if c.config.PingInterval > 0 {
		go c.pingLoop(conn, lost)
	}

	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, lost chan struct{}) {
	for {
		_, data, err := conn.Read(c.runCtx)
		if err != nil {
			c.connectionLost(conn, lost, err)
			return
		}

		c.metrics.received.Add(c.runCtx, 1, c.attrs)

		c.mu.RLock()
		handler := c.onMessage
		c.mu.RUnlock()
		if handler != nil {
			handler(c.runCtx, data)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, lost chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lost:
			return
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.runCtx, c.config.PongTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				c.connectionLost(conn, lost, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// connectionLost runs once per connection.
func (c *Client) connectionLost(conn *websocket.Conn, lost chan struct{}, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.lastErr = err
	closed := c.state == StateClosed
	c.mu.Unlock()

	close(lost)
	_ = conn.Close(websocket.StatusGoingAway, "")

	if closed {
		return
	}
	c.metrics.errors.Add(context.Background(), 1, c.attrs)
	c.setState(StateDisconnected, err)
}

// Send writes a text message.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return apperror.New(apperror.CodeWebSocketSendError, apperror.WithCause(err), apperror.WithContext(c.config.Name))
	}
	c.metrics.sent.Add(ctx, 1, c.attrs)
	return nil
}

// SendJSON writes v as a JSON text message.
func (c *Client) SendJSON(ctx context.Context, v any) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, v); err != nil {
		return apperror.New(apperror.CodeWebSocketSendError, apperror.WithCause(err), apperror.WithContext(c.config.Name))
	}
	c.metrics.sent.Add(ctx, 1, c.attrs)
	return nil
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || c.state != StateConnected {
		return nil, apperror.New(apperror.CodeWebSocketClosed, apperror.WithContext(c.config.Name))
	}
	return c.conn, nil
}

// Lost is closed when the current connection ends for any reason.
func (c *Client) Lost() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lost
}

// Err returns the error that ended the last connection.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Close closes the connection for good. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.state = StateClosed
		lost := c.lost
		c.mu.Unlock()

		if conn != nil {
			close(lost)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
		c.runCancel()
		c.notify(StateClosed, nil)
	})
	return nil
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.notify(s, err)
}

func (c *Client) notify(s State, err error) {
	c.mu.RLock()
	handlers := c.onState
	c.mu.RUnlock()

	for _, fn := range handlers {
		fn(s, err)
	}
}
