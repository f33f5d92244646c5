package ethws

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

const testHash = "0x00000000000000000000000000000000000000000000000000000000000000aa"

func notification(sub string, result string) string {
	return `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"` + sub + `","result":` + result + `}}`
}

// newNode serves one eth_subscribe and then writes the given frames.
func newNode(t *testing.T, subscribeReply func(id json.RawMessage) string, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []string        `json:"params"`
		}
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		if req.Method != "eth_subscribe" || len(req.Params) != 1 || req.Params[0] != "newHeads" {
			t.Errorf("unexpected request %+v", req)
			return
		}

		if err := conn.Write(ctx, websocket.MessageText, []byte(subscribeReply(req.ID))); err != nil {
			return
		}
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}))
}

func okReply(id json.RawMessage) string {
	return `{"jsonrpc":"2.0","id":` + string(id) + `,"result":"0xsub1"}`
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestStreamer_SubscribeHead(t *testing.T) {
	frames := []string{
		notification("0xother", `{"number":"0x1","hash":"`+testHash+`"}`),
		`not json`,
		notification("0xsub1", `{"hash":"`+testHash+`"}`),
		notification("0xsub1", `{"number":"0x64","hash":"`+testHash+`","totalDifficulty":"0x0a"}`),
		notification("0xsub1", `{"number":"0x65","hash":"`+testHash+`"}`),
	}
	node := newNode(t, okReply, frames)
	defer node.Close()

	s, err := NewStreamer(DefaultConfig(wsURL(node), "node-1"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewStreamer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := s.SubscribeHead(ctx, domain.ChainEthereum)
	if err != nil {
		t.Fatalf("SubscribeHead: %v", err)
	}
	defer stream.Close()

	first, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if first.Height != 100 || new(big.Int).SetBytes(first.Weight).Int64() != 10 {
		t.Errorf("expected height 100 weight 10, got %d %x", first.Height, first.Weight)
	}
	if first.BlockID != strings.TrimPrefix(testHash, "0x") {
		t.Errorf("unexpected block id %s", first.BlockID)
	}
	if _, err := domain.ParseHeadNotification(first); err != nil {
		t.Errorf("notification must parse: %v", err)
	}

	second, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if second.Height != 101 || new(big.Int).SetBytes(second.Weight).Int64() != 101 {
		t.Errorf("expected weight to fall back to the number, got %d %x", second.Height, second.Weight)
	}

	if _, err := stream.Recv(); err == nil {
		t.Error("expected an error once the node hangs up")
	}
}

func TestStreamer_SubscribeError(t *testing.T) {
	node := newNode(t, func(id json.RawMessage) string {
		return `{"jsonrpc":"2.0","id":` + string(id) + `,"error":{"code":-32601,"message":"notifications not supported"}}`
	}, nil)
	defer node.Close()

	s, err := NewStreamer(DefaultConfig(wsURL(node), "node-1"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewStreamer: %v", err)
	}

	_, err = s.SubscribeHead(context.Background(), domain.ChainEthereum)
	if err == nil || !strings.Contains(err.Error(), "notifications not supported") {
		t.Fatalf("expected subscribe error, got %v", err)
	}
}

func TestStreamer_CloseEndsRecv(t *testing.T) {
	node := newNode(t, okReply, nil)
	defer node.Close()

	s, err := NewStreamer(DefaultConfig(wsURL(node), "node-1"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewStreamer: %v", err)
	}
	stream, err := s.SubscribeHead(context.Background(), domain.ChainEthereum)
	if err != nil {
		t.Fatalf("SubscribeHead: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errc <- err
	}()

	_ = stream.Close()
	_ = stream.Close()

	select {
	case err := <-errc:
		if err == nil {
			t.Error("expected Recv to fail after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestNewStreamer_RequiresURL(t *testing.T) {
	if _, err := NewStreamer(DefaultConfig("", "node-1"), logger.NewNop()); err == nil {
		t.Fatal("expected error for empty url")
	}
}
