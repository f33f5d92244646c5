package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/clock"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

const (
	tracerName = "github.com/fd1az/upstream-gateway/business/upstream/app"
	meterName  = "github.com/fd1az/upstream-gateway/business/upstream/app"
)

// DriverConfig configures a reconnecting subscription driver.
type DriverConfig[T any] struct {
	Name          string
	RetryInterval time.Duration
	Sleeper       clock.Sleeper // defaults to clock.SleepWithContext

	// Open establishes the remote stream.
	Open func(ctx context.Context) (Stream[T], error)
	// Handle processes one element. Errors and panics are logged and skipped.
	Handle func(ctx context.Context, v T) error
	// OnDisconnect runs every time the driver enters the retrying state.
	OnDisconnect func(ctx context.Context)
}

type driverMetrics struct {
	state         metric.Int64Gauge
	attempts      metric.Int64Counter
	disconnects   metric.Int64Counter
	elements      metric.Int64Counter
	handlerErrors metric.Int64Counter
}

// Driver keeps one logical subscription alive until its context is cancelled.
//
// States: connecting -> streaming -> retrying -> connecting ...
// Both a failed open and the end of a stream lead to retrying. The wait
// between attempts is constant and attempts are unbounded.
type Driver[T any] struct {
	cfg    DriverConfig[T]
	logger logger.LoggerInterface

	state    atomic.Value // domain.DriverState
	attempts atomic.Uint64
	lastErr  atomic.Pointer[error]

	listenersMu sync.RWMutex
	listeners   []func(domain.DriverState)

	tracer  trace.Tracer
	metrics *driverMetrics
	attrs   metric.MeasurementOption
}

// NewDriver creates a driver. It does nothing until Run is called.
func NewDriver[T any](cfg DriverConfig[T], log logger.LoggerInterface) (*Driver[T], error) {
	if cfg.Open == nil || cfg.Handle == nil {
		return nil, apperror.New(apperror.CodeInvalidInput,
			apperror.WithContext("driver requires open and handle functions"))
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = domain.DefaultOptions().RetryInterval
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = clock.SleepWithContext
	}
	if cfg.OnDisconnect == nil {
		cfg.OnDisconnect = func(context.Context) {}
	}

	d := &Driver[T]{
		cfg:    cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
		attrs:  metric.WithAttributes(attribute.String("stream", cfg.Name)),
	}
	d.state.Store(domain.StateConnecting)

	if err := d.initMetrics(); err != nil {
		return nil, fmt.Errorf("init driver metrics: %w", err)
	}

	return d, nil
}

func (d *Driver[T]) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	d.metrics = &driverMetrics{}

	d.metrics.state, err = meter.Int64Gauge(
		"upstream_stream_state",
		metric.WithDescription("Stream state (0=stopped, 1=connecting, 2=streaming, 3=retrying)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return err
	}

	d.metrics.attempts, err = meter.Int64Counter(
		"upstream_stream_attempts_total",
		metric.WithDescription("Total stream connection attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	d.metrics.disconnects, err = meter.Int64Counter(
		"upstream_stream_disconnects_total",
		metric.WithDescription("Total transitions into the retrying state"),
		metric.WithUnit("{disconnect}"),
	)
	if err != nil {
		return err
	}

	d.metrics.elements, err = meter.Int64Counter(
		"upstream_stream_elements_total",
		metric.WithDescription("Total elements received on the stream"),
		metric.WithUnit("{element}"),
	)
	if err != nil {
		return err
	}

	d.metrics.handlerErrors, err = meter.Int64Counter(
		"upstream_stream_handler_errors_total",
		metric.WithDescription("Total elements whose handler failed or panicked"),
		metric.WithUnit("{error}"),
	)
	return err
}

// OnStateChange registers a callback invoked on every state transition.
func (d *Driver[T]) OnStateChange(fn func(domain.DriverState)) {
	d.listenersMu.Lock()
	d.listeners = append(d.listeners, fn)
	d.listenersMu.Unlock()
}

// State returns the current state.
func (d *Driver[T]) State() domain.DriverState {
	return d.state.Load().(domain.DriverState)
}

// Attempts returns how many times the driver tried to open the stream.
func (d *Driver[T]) Attempts() uint64 {
	return d.attempts.Load()
}

// LastError returns the error that ended the most recent stream attempt.
func (d *Driver[T]) LastError() error {
	if p := d.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Run drives the subscription until ctx is cancelled and then returns ctx.Err().
func (d *Driver[T]) Run(ctx context.Context) error {
	defer d.setState(ctx, domain.StateStopped)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.attempt(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		d.lastErr.Store(&err)

		d.setState(ctx, domain.StateRetrying)
		d.metrics.disconnects.Add(ctx, 1, d.attrs)
		d.logger.Warn(ctx, "stream lost, retrying",
			"stream", d.cfg.Name,
			"attempt", d.attempts.Load(),
			"retry_in", d.cfg.RetryInterval.String(),
			"error", err)
		d.cfg.OnDisconnect(ctx)

		if err := d.cfg.Sleeper(ctx, d.cfg.RetryInterval); err != nil {
			return err
		}
	}
}

// attempt opens the stream and consumes it until it ends.
// The returned error describes why the attempt ended.
func (d *Driver[T]) attempt(ctx context.Context) error {
	d.setState(ctx, domain.StateConnecting)
	d.attempts.Add(1)
	d.metrics.attempts.Add(ctx, 1, d.attrs)

	openCtx, span := d.tracer.Start(ctx, "upstream.stream.open",
		trace.WithAttributes(
			attribute.String("stream", d.cfg.Name),
			attribute.Int64("attempt", int64(d.attempts.Load())),
		),
	)
	stream, err := d.cfg.Open(openCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		span.End()
		return apperror.Wrap(err, apperror.CodeUpstreamConnectionFailed, d.cfg.Name)
	}
	span.SetStatus(codes.Ok, "open")
	span.End()

	// Unblock Recv when the owner goes away.
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer func() {
		stop()
		_ = stream.Close()
	}()

	d.setState(ctx, domain.StateStreaming)
	d.logger.Info(ctx, "stream established", "stream", d.cfg.Name)

	for {
		v, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return apperror.New(apperror.CodeUpstreamStreamClosed, apperror.WithContext(d.cfg.Name))
			}
			return apperror.Wrap(err, apperror.CodeUpstreamStreamClosed, d.cfg.Name)
		}

		d.metrics.elements.Add(ctx, 1, d.attrs)
		if err := d.handle(ctx, v); err != nil {
			d.metrics.handlerErrors.Add(ctx, 1, d.attrs)
			d.logger.Warn(ctx, "stream element skipped", "stream", d.cfg.Name, "error", err)
		}
	}
}

func (d *Driver[T]) handle(ctx context.Context, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.cfg.Handle(ctx, v)
}

func (d *Driver[T]) setState(ctx context.Context, s domain.DriverState) {
	prev := d.state.Swap(s)
	if prev == s {
		return
	}

	d.metrics.state.Record(context.WithoutCancel(ctx), s.Int(), d.attrs)

	d.listenersMu.RLock()
	listeners := d.listeners
	d.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(s)
	}
}
