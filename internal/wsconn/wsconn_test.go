package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/fd1az/upstream-gateway/internal/apperror"
)

type node struct {
	url     string
	accepts atomic.Int32
}

// startNode serves handler for every accepted connection. Handlers return
// to hang up; release is closed when the test ends.
func startNode(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn, release <-chan struct{})) *node {
	t.Helper()
	n := &node{}
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n.accepts.Add(1)
		defer conn.CloseNow()
		handler(context.Background(), conn, release)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	n.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return n
}

func newClient(t *testing.T, url string, tweak func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(url, "node-1")
	cfg.PingInterval = 0
	if tweak != nil {
		tweak(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestNew_RejectsNonWebSocketURL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"ws://localhost:8546", true},
		{"wss://node.example/ws", true},
		{"http://localhost:8545", false},
		{"localhost:8546", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			c, err := New(DefaultConfig(tt.url, "node-1"))
			if tt.ok {
				if err != nil {
					t.Fatalf("New: %v", err)
				}
				_ = c.Close()
				return
			}
			if !apperror.HasCode(err, apperror.CodeConfigurationError) {
				t.Fatalf("expected %s, got %v", apperror.CodeConfigurationError, err)
			}
		})
	}
}

func TestClient_JSONRPCExchange(t *testing.T) {
	type request struct {
		JSONRPC string `json:"jsonrpc"`
		ID      uint64 `json:"id"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}

	got := make(chan request, 1)
	n := startNode(t, func(ctx context.Context, conn *websocket.Conn, release <-chan struct{}) {
		var req request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		got <- req
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"jsonrpc":"2.0","id":7,"result":"0xsub"}`))
		<-release
	})

	c := newClient(t, n.url, nil)
	replies := make(chan []byte, 1)
	c.OnMessage(func(_ context.Context, msg []byte) { replies <- msg })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.SendJSON(ctx, request{JSONRPC: "2.0", ID: 7, Method: "eth_subscribe", Params: []any{"newHeads"}}); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}

	req := <-got
	if req.JSONRPC != "2.0" || req.ID != 7 || req.Method != "eth_subscribe" || len(req.Params) != 1 || req.Params[0] != "newHeads" {
		t.Errorf("unexpected request %+v", req)
	}

	select {
	case raw := <-replies:
		var reply struct {
			ID     uint64 `json:"id"`
			Result string `json:"result"`
		}
		if err := json.Unmarshal(raw, &reply); err != nil || reply.ID != 7 || reply.Result != "0xsub" {
			t.Errorf("unexpected reply %s (err=%v)", raw, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply not delivered to the message handler")
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	c := newClient(t, "ws://127.0.0.1:1", func(cfg *Config) { cfg.DialTimeout = time.Second })

	var mu sync.Mutex
	var states []State
	var lastErr error
	c.OnStateChange(func(s State, err error) {
		mu.Lock()
		states = append(states, s)
		if err != nil {
			lastErr = err
		}
		mu.Unlock()
	})

	err := c.Connect(context.Background())
	if !apperror.HasCode(err, apperror.CodeWebSocketConnectionError) {
		t.Fatalf("expected %s, got %v", apperror.CodeWebSocketConnectionError, err)
	}
	if c.State() != StateDisconnected || c.IsConnected() {
		t.Errorf("expected disconnected, got %s", c.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateDisconnected {
		t.Errorf("unexpected transitions %v", states)
	}
	if lastErr == nil {
		t.Error("expected the dial error on the disconnected transition")
	}
}

func TestClient_HangupIsNotRetried(t *testing.T) {
	n := startNode(t, func(ctx context.Context, conn *websocket.Conn, release <-chan struct{}) {
		// Hang up right away.
	})

	c := newClient(t, n.url, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	lost := c.Lost()
	waitClosed(t, lost, "Lost after hangup")

	if c.Err() == nil {
		t.Error("expected Err to describe the hangup")
	}
	if c.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", c.State())
	}
	if err := c.SendJSON(ctx, map[string]string{"method": "eth_chainId"}); !apperror.HasCode(err, apperror.CodeWebSocketClosed) {
		t.Errorf("expected %s after hangup, got %v", apperror.CodeWebSocketClosed, err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := n.accepts.Load(); got != 1 {
		t.Fatalf("client must not redial on its own, got %d connections", got)
	}

	// The caller redials; the new connection gets a fresh Lost channel.
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if c.Lost() == lost {
		t.Error("expected a new Lost channel per connection")
	}
	waitClosed(t, c.Lost(), "Lost after second hangup")
	if got := n.accepts.Load(); got != 2 {
		t.Errorf("expected 2 connections, got %d", got)
	}
}

func TestClient_CloseIsFinal(t *testing.T) {
	n := startNode(t, func(ctx context.Context, conn *websocket.Conn, release <-chan struct{}) {
		<-release
	})

	c := newClient(t, n.url, nil)
	var closedEvents atomic.Int32
	c.OnStateChange(func(s State, err error) {
		if s == StateClosed {
			closedEvents.Add(1)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	lost := c.Lost()

	_ = c.Close()
	_ = c.Close()

	waitClosed(t, lost, "Lost after Close")
	if c.State() != StateClosed {
		t.Errorf("expected closed, got %s", c.State())
	}
	if got := closedEvents.Load(); got != 1 {
		t.Errorf("expected one closed transition, got %d", got)
	}
	if err := c.Connect(ctx); !apperror.HasCode(err, apperror.CodeWebSocketClosed) {
		t.Errorf("expected %s on Connect after Close, got %v", apperror.CodeWebSocketClosed, err)
	}
}

func TestClient_OversizedMessageEndsConnection(t *testing.T) {
	n := startNode(t, func(ctx context.Context, conn *websocket.Conn, release <-chan struct{}) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(strings.Repeat("x", 2048)))
		<-release
	})

	c := newClient(t, n.url, func(cfg *Config) { cfg.MaxMessageSize = 1024 })
	var delivered atomic.Int32
	c.OnMessage(func(context.Context, []byte) { delivered.Add(1) })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitClosed(t, c.Lost(), "Lost after oversized message")

	if c.Err() == nil {
		t.Error("expected a read error")
	}
	if delivered.Load() != 0 {
		t.Error("oversized message must not be delivered")
	}
}

func TestClient_UnansweredPingEndsConnection(t *testing.T) {
	// The node never reads, so pongs are never processed.
	n := startNode(t, func(ctx context.Context, conn *websocket.Conn, release <-chan struct{}) {
		<-release
	})

	c := newClient(t, n.url, func(cfg *Config) {
		cfg.PingInterval = 20 * time.Millisecond
		cfg.PongTimeout = 50 * time.Millisecond
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitClosed(t, c.Lost(), "Lost after ping timeout")

	if err := c.Err(); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Errorf("expected a ping error, got %v", err)
	}
}
