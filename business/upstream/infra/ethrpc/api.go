// Package ethrpc is the call client of an upstream: JSON-RPC over HTTP or
// WebSocket through go-ethereum's rpc package, guarded by a rate limiter and
// a circuit breaker.
package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/upstream-gateway/business/upstream/app"
	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/circuitbreaker"
	"github.com/fd1az/upstream-gateway/internal/httpclient"
	"github.com/fd1az/upstream-gateway/internal/logger"
	"github.com/fd1az/upstream-gateway/internal/ratelimit"
)

const (
	tracerName = "github.com/fd1az/upstream-gateway/business/upstream/infra/ethrpc"
	meterName  = "github.com/fd1az/upstream-gateway/business/upstream/infra/ethrpc"
)

var _ app.RemoteAPI = (*Client)(nil)

// Config holds the endpoint and call policy.
type Config struct {
	URL               string
	Name              string
	RequestsPerSecond float64 // 0 disables limiting
	Burst             int
	DialTimeout       time.Duration
	RequestTimeout    time.Duration // http(s) only
}

// DefaultConfig returns defaults for url.
func DefaultConfig(url, name string) Config {
	return Config{
		URL:            url,
		Name:           name,
		DialTimeout:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

type clientMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// Client implements app.RemoteAPI.
type Client struct {
	cfg     Config
	rpc     *rpc.Client
	limiter *ratelimit.Limiter
	cb      *circuitbreaker.CircuitBreaker[json.RawMessage]
	logger  logger.LoggerInterface

	tracer  trace.Tracer
	metrics *clientMetrics
}

// Dial connects to cfg.URL (http, https, ws or wss).
func Dial(ctx context.Context, cfg Config, log logger.LoggerInterface) (*Client, error) {
	if cfg.URL == "" {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("rpc url is required for "+cfg.Name))
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var opts []rpc.ClientOption
	if strings.HasPrefix(cfg.URL, "http://") || strings.HasPrefix(cfg.URL, "https://") {
		hc, err := httpclient.New(httpclient.WithProviderName(cfg.Name), httpclient.WithRequestTimeout(cfg.RequestTimeout))
		if err != nil {
			return nil, fmt.Errorf("rpc http client: %w", err)
		}
		opts = append(opts, rpc.WithHTTPClient(hc))
	}

	rc, err := rpc.DialOptions(dialCtx, cfg.URL, opts...)
	if err != nil {
		return nil, apperror.New(apperror.CodeUpstreamConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(cfg.Name))
	}

	return NewWithClient(rc, cfg, log)
}

// NewWithClient wraps an existing rpc client.
func NewWithClient(rc *rpc.Client, cfg Config, log logger.LoggerInterface) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		rpc:     rc,
		limiter: ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}

	cbCfg := circuitbreaker.DefaultConfig("rpc-" + cfg.Name)
	cbCfg.IsSuccessful = isSuccessful
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Info(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	c.cb = circuitbreaker.New[json.RawMessage](cbCfg)

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init rpc metrics: %w", err)
	}
	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &clientMetrics{}

	c.metrics.calls, err = meter.Int64Counter(
		"upstream_rpc_calls_total",
		metric.WithDescription("Total JSON-RPC calls sent to upstreams"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	c.metrics.failures, err = meter.Int64Counter(
		"upstream_rpc_failures_total",
		metric.WithDescription("Total JSON-RPC calls that failed"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	c.metrics.latency, err = meter.Float64Histogram(
		"upstream_rpc_latency_ms",
		metric.WithDescription("JSON-RPC call latency"),
		metric.WithUnit("ms"),
	)
	return err
}

// isSuccessful keeps node-level JSON-RPC errors and caller cancellations from
// tripping the breaker. Only transport failures count.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// rpcBlock is the eth_getBlockByHash result with transaction hashes only.
type rpcBlock struct {
	Number          hexutil.Uint64 `json:"number"`
	Hash            common.Hash    `json:"hash"`
	ParentHash      common.Hash    `json:"parentHash"`
	Timestamp       hexutil.Uint64 `json:"timestamp"`
	Difficulty      *hexutil.Big   `json:"difficulty"`
	TotalDifficulty *hexutil.Big   `json:"totalDifficulty"`
	GasLimit        hexutil.Uint64 `json:"gasLimit"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
	BaseFee         *hexutil.Big   `json:"baseFeePerGas"`
	Transactions    []common.Hash  `json:"transactions"`
}

func (b *rpcBlock) toDomain() *domain.Block {
	return &domain.Block{
		Number:          uint64(b.Number),
		Hash:            b.Hash,
		ParentHash:      b.ParentHash,
		Timestamp:       time.Unix(int64(b.Timestamp), 0).UTC(),
		Difficulty:      bigOrNil(b.Difficulty),
		TotalDifficulty: bigOrNil(b.TotalDifficulty),
		GasLimit:        uint64(b.GasLimit),
		GasUsed:         uint64(b.GasUsed),
		BaseFee:         bigOrNil(b.BaseFee),
		Transactions:    b.Transactions,
	}
}

func bigOrNil(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v.ToInt())
}

// BlockByHash fetches a block with transaction hashes.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*domain.Block, error) {
	var raw *rpcBlock
	if err := c.Call(ctx, &raw, "eth_getBlockByHash", hash, false); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, apperror.New(apperror.CodeBlockNotFound,
			apperror.WithContext(fmt.Sprintf("%s on %s", hash.Hex(), c.cfg.Name)))
	}
	return raw.toDomain(), nil
}

// Call sends method with args and decodes the result into result.
func (c *Client) Call(ctx context.Context, result any, method string, args ...any) error {
	ctx, span := c.tracer.Start(ctx, "ethrpc.call",
		trace.WithAttributes(
			attribute.String("upstream", c.cfg.Name),
			attribute.String("rpc.method", method),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("upstream", c.cfg.Name),
		attribute.String("method", method),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limited")
		return err
	}

	c.metrics.calls.Add(ctx, 1, attrs)
	start := time.Now()

	raw, err := c.cb.Execute(func() (json.RawMessage, error) {
		var msg json.RawMessage
		err := c.rpc.CallContext(ctx, &msg, method, args...)
		return msg, err
	})

	c.metrics.latency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	if err != nil {
		c.metrics.failures.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
		if apperror.IsAppError(err) {
			return err
		}
		if ctx.Err() != nil {
			return apperror.FromContext(ctx.Err(), apperror.CodeServiceTimeout, method+" on "+c.cfg.Name)
		}
		return apperror.New(apperror.CodeUpstreamRPCError,
			apperror.WithCause(err),
			apperror.WithContext(method+" on "+c.cfg.Name))
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode failed")
			return apperror.New(apperror.CodeUpstreamRPCError,
				apperror.WithCause(err),
				apperror.WithContext("decode "+method))
		}
	}

	span.SetStatus(codes.Ok, "ok")
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}
