// Package ethws streams heads from a node's eth_subscribe("newHeads")
// WebSocket subscription.
//
// The notification weight is the header's totalDifficulty when the node
// reports it, otherwise the block number.
package ethws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/fd1az/upstream-gateway/business/upstream/app"
	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/logger"
	"github.com/fd1az/upstream-gateway/internal/wsconn"
)

var _ app.HeadStreamer = (*Streamer)(nil)

// Config holds the WebSocket endpoint.
type Config struct {
	URL              string
	Name             string
	SubscribeTimeout time.Duration
	PingInterval     time.Duration
}

// DefaultConfig returns defaults for url.
func DefaultConfig(url, name string) Config {
	return Config{
		URL:              url,
		Name:             name,
		SubscribeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Streamer opens one WebSocket connection per subscription.
type Streamer struct {
	cfg    Config
	logger logger.LoggerInterface
	nextID atomic.Uint64
}

// NewStreamer creates a streamer for cfg.
func NewStreamer(cfg Config, log logger.LoggerInterface) (*Streamer, error) {
	if cfg.URL == "" {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("ws url is required for "+cfg.Name))
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}
	return &Streamer{cfg: cfg, logger: log}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type newHead struct {
	Number          *hexutil.Big `json:"number"`
	Hash            common.Hash  `json:"hash"`
	TotalDifficulty *hexutil.Big `json:"totalDifficulty"`
}

// SubscribeHead connects and subscribes to new heads. The chain is fixed by the endpoint.
func (s *Streamer) SubscribeHead(ctx context.Context, chain domain.Chain) (app.HeadStream, error) {
	wsCfg := wsconn.DefaultConfig(s.cfg.URL, s.cfg.Name)
	wsCfg.PingInterval = s.cfg.PingInterval

	client, err := wsconn.New(wsCfg)
	if err != nil {
		return nil, err
	}

	hs := &headStream{
		client: client,
		msgs:   make(chan []byte, 64),
		closed: make(chan struct{}),
		logger: s.logger,
		name:   s.cfg.Name,
	}
	client.OnMessage(func(_ context.Context, msg []byte) {
		select {
		case hs.msgs <- msg:
		case <-hs.closed:
		}
	})

	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	id := s.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: "eth_subscribe", Params: []any{"newHeads"}}

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.SubscribeTimeout)
	defer cancel()

	if err := client.SendJSON(subCtx, req); err != nil {
		_ = hs.Close()
		return nil, err
	}

	subID, err := hs.awaitSubscription(subCtx, id)
	if err != nil {
		_ = hs.Close()
		return nil, apperror.Wrap(err, apperror.CodeUpstreamConnectionFailed, "eth_subscribe on "+s.cfg.Name)
	}
	hs.subID = subID

	s.logger.Debug(ctx, "subscribed to new heads", "upstream", s.cfg.Name, "chain", chain.String(), "subscription", subID)
	return hs, nil
}

type headStream struct {
	client *wsconn.Client
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
	subID  string
	logger logger.LoggerInterface
	name   string
}

func (h *headStream) awaitSubscription(ctx context.Context, id uint64) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-h.client.Lost():
			return "", lostErr(h.client.Err())
		case raw := <-h.msgs:
			var msg rpcMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.ID == nil || *msg.ID != id {
				continue
			}
			if msg.Error != nil {
				return "", msg.Error
			}
			var subID string
			if err := json.Unmarshal(msg.Result, &subID); err != nil {
				return "", fmt.Errorf("decode subscription id: %w", err)
			}
			return subID, nil
		}
	}
}

// Recv returns the next head. Messages that are not notifications for this
// subscription are skipped.
func (h *headStream) Recv() (domain.HeadNotification, error) {
	for {
		var raw []byte
		select {
		case raw = <-h.msgs:
		default:
			select {
			case raw = <-h.msgs:
			case <-h.closed:
				return domain.HeadNotification{}, apperror.New(apperror.CodeWebSocketClosed, apperror.WithContext(h.name))
			case <-h.client.Lost():
				return domain.HeadNotification{}, lostErr(h.client.Err())
			}
		}

		if n, ok := h.decode(raw); ok {
			return n, nil
		}
	}
}

func (h *headStream) decode(raw []byte) (domain.HeadNotification, bool) {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warn(context.Background(), "undecodable ws message", "upstream", h.name, "error", err)
		return domain.HeadNotification{}, false
	}
	if msg.Method != "eth_subscription" || msg.Params == nil || msg.Params.Subscription != h.subID {
		return domain.HeadNotification{}, false
	}

	var head newHead
	if err := json.Unmarshal(msg.Params.Result, &head); err != nil || head.Number == nil {
		h.logger.Warn(context.Background(), "malformed head notification", "upstream", h.name, "error", err)
		return domain.HeadNotification{}, false
	}

	weight := head.Number.ToInt()
	if head.TotalDifficulty != nil {
		weight = head.TotalDifficulty.ToInt()
	}

	return domain.HeadNotification{
		Height:  head.Number.ToInt().Uint64(),
		Weight:  new(big.Int).Set(weight).Bytes(),
		BlockID: strings.TrimPrefix(head.Hash.Hex(), "0x"),
	}, true
}

func (h *headStream) Close() error {
	h.once.Do(func() {
		close(h.closed)
		_ = h.client.Close()
	})
	return nil
}

func lostErr(err error) error {
	if err == nil {
		return io.EOF
	}
	return apperror.New(apperror.CodeUpstreamStreamClosed, apperror.WithCause(err))
}
