// Package grpcupstream connects to a node's upstream protocol over gRPC:
// the head and status server streams and the Describe call.
package grpcupstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/fd1az/upstream-gateway/business/upstream/app"
	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

const tracerName = "github.com/fd1az/upstream-gateway/business/upstream/infra/grpcupstream"

var (
	_ app.HeadStreamer   = (*Client)(nil)
	_ app.StatusStreamer = (*Client)(nil)
	_ app.Describer      = (*Client)(nil)
)

// Config holds the node address and call settings.
type Config struct {
	Address         string
	Name            string
	DescribeTimeout time.Duration
	KeepaliveTime   time.Duration
}

// DefaultConfig returns defaults for address.
func DefaultConfig(address, name string) Config {
	return Config{
		Address:         address,
		Name:            name,
		DescribeTimeout: 10 * time.Second,
		KeepaliveTime:   30 * time.Second,
	}
}

// Client talks to one node. The underlying connection reconnects on its own;
// streams do not, and are reopened by the caller.
type Client struct {
	cfg    Config
	conn   *grpc.ClientConn
	logger logger.LoggerInterface
	tracer trace.Tracer
}

// Dial creates a client for cfg.Address. Extra options are appended to the defaults.
func Dial(cfg Config, log logger.LoggerInterface, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Address == "" {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("grpc address is required for "+cfg.Name))
	}
	if cfg.DescribeTimeout <= 0 {
		cfg.DescribeTimeout = 10 * time.Second
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithChainStreamInterceptor(grpc_prometheus.StreamClientInterceptor),
	}
	if cfg.KeepaliveTime > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			PermitWithoutStream: true,
		}))
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, apperror.New(apperror.CodeUpstreamConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(cfg.Name))
	}

	return &Client{
		cfg:    cfg,
		conn:   conn,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// SubscribeHead opens the head stream for chain.
func (c *Client) SubscribeHead(ctx context.Context, chain domain.Chain) (app.HeadStream, error) {
	cs, cancel, err := c.openStream(ctx, &subscribeHeadDesc, methodSubscribeHead, chain)
	if err != nil {
		return nil, err
	}
	return &recvStream[domain.HeadNotification]{
		cs:     cs,
		cancel: cancel,
		desc:   chainHeadDesc,
		convert: func(m protoreflect.Message) domain.HeadNotification {
			return unmarshalChainHead(m).toDomain()
		},
	}, nil
}

// SubscribeStatus opens the status stream for chain.
func (c *Client) SubscribeStatus(ctx context.Context, chain domain.Chain) (app.StatusStream, error) {
	cs, cancel, err := c.openStream(ctx, &subscribeStatusDesc, methodSubscribeStatus, chain)
	if err != nil {
		return nil, err
	}
	return &recvStream[domain.ChainStatus]{
		cs:     cs,
		cancel: cancel,
		desc:   chainStatusDesc,
		convert: func(m protoreflect.Message) domain.ChainStatus {
			return unmarshalChainStatus(m).toDomain()
		},
	}, nil
}

func (c *Client) openStream(ctx context.Context, desc *grpc.StreamDesc, method string, chain domain.Chain) (grpc.ClientStream, context.CancelFunc, error) {
	ctx, span := c.tracer.Start(ctx, "grpcupstream.open",
		trace.WithAttributes(
			attribute.String("upstream", c.cfg.Name),
			attribute.String("method", method),
			attribute.String("chain", chain.String()),
		),
	)
	defer span.End()

	streamCtx, cancel := context.WithCancel(ctx)

	cs, err := c.conn.NewStream(streamCtx, desc, method)
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return nil, nil, apperror.New(apperror.CodeUpstreamConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s %s", c.cfg.Name, method)))
	}
	if err := cs.SendMsg((&ChainRef{Type: int32(chain)}).marshal()); err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, nil, apperror.New(apperror.CodeUpstreamConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s %s", c.cfg.Name, method)))
	}
	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, nil, apperror.New(apperror.CodeUpstreamConnectionFailed, apperror.WithCause(err))
	}

	c.logger.Debug(ctx, "stream opened", "upstream", c.cfg.Name, "method", method, "chain", chain.String())
	span.SetStatus(codes.Ok, "open")
	return cs, cancel, nil
}

// Describe asks the node which chains and methods it serves.
func (c *Client) Describe(ctx context.Context) ([]domain.DescribeChain, error) {
	ctx, span := c.tracer.Start(ctx, "grpcupstream.describe",
		trace.WithAttributes(attribute.String("upstream", c.cfg.Name)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DescribeTimeout)
	defer cancel()

	msg := dynamicpb.NewMessage(describeResponseDesc)
	if err := c.conn.Invoke(ctx, methodDescribe, dynamicpb.NewMessage(describeRequestDesc), msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "describe failed")
		return nil, apperror.New(apperror.CodeUpstreamRPCError,
			apperror.WithCause(err),
			apperror.WithContext("describe "+c.cfg.Name))
	}

	resp := unmarshalDescribeResponse(msg)
	out := make([]domain.DescribeChain, 0, len(resp.Chains))
	for i := range resp.Chains {
		out = append(out, resp.Chains[i].toDomain())
	}

	span.SetStatus(codes.Ok, "described")
	return out, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// recvStream adapts a server stream of desc messages to app.Stream[D].
type recvStream[D any] struct {
	cs      grpc.ClientStream
	cancel  context.CancelFunc
	desc    protoreflect.MessageDescriptor
	convert func(protoreflect.Message) D
	once    sync.Once
}

func (s *recvStream[D]) Recv() (D, error) {
	msg := dynamicpb.NewMessage(s.desc)
	if err := s.cs.RecvMsg(msg); err != nil {
		var zero D
		return zero, err
	}
	return s.convert(msg), nil
}

func (s *recvStream[D]) Close() error {
	s.once.Do(s.cancel)
	return nil
}
