package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

// HeadSink receives fully fetched heads. Offer reports whether b became the head.
type HeadSink interface {
	CurrentHead() *domain.Block
	OfferHead(ctx context.Context, b *domain.Block) bool
}

type selectorMetrics struct {
	accepted      metric.Int64Counter
	rejected      metric.Int64Counter
	fetchFailures metric.Int64Counter
	fetchLatency  metric.Float64Histogram
}

// HeadSelector turns raw notifications into published heads.
//
// A candidate is accepted only if it is strictly heavier than the current
// head. Each accepted candidate is fetched on its own goroutine, bounded by
// the fetch timeout, so a slow fetch never delays later candidates. A hash
// is fetched at most once at a time. The sink re-checks weight when the
// fetch completes.
type HeadSelector struct {
	upstreamID   string
	api          RemoteAPI
	sink         HeadSink
	fetchTimeout time.Duration
	logger       logger.LoggerInterface

	inflight sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[common.Hash]struct{} // hashes being fetched

	tracer  trace.Tracer
	metrics *selectorMetrics
	attrs   metric.MeasurementOption
}

// NewHeadSelector creates a selector feeding sink.
func NewHeadSelector(upstreamID string, api RemoteAPI, sink HeadSink, fetchTimeout time.Duration, log logger.LoggerInterface) (*HeadSelector, error) {
	if fetchTimeout <= 0 {
		fetchTimeout = domain.DefaultOptions().FetchTimeout
	}

	s := &HeadSelector{
		upstreamID:   upstreamID,
		api:          api,
		sink:         sink,
		fetchTimeout: fetchTimeout,
		logger:       log,
		pending:      make(map[common.Hash]struct{}),
		tracer:       otel.Tracer(tracerName),
		attrs:        metric.WithAttributes(attribute.String("upstream", upstreamID)),
	}

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init selector metrics: %w", err)
	}
	return s, nil
}

func (s *HeadSelector) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &selectorMetrics{}

	s.metrics.accepted, err = meter.Int64Counter(
		"upstream_head_candidates_accepted_total",
		metric.WithDescription("Head candidates heavier than the current head"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return err
	}

	s.metrics.rejected, err = meter.Int64Counter(
		"upstream_head_candidates_rejected_total",
		metric.WithDescription("Head candidates not heavier than the current head"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return err
	}

	s.metrics.fetchFailures, err = meter.Int64Counter(
		"upstream_head_fetch_failures_total",
		metric.WithDescription("Accepted candidates discarded because the block fetch failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	s.metrics.fetchLatency, err = meter.Float64Histogram(
		"upstream_head_fetch_latency_ms",
		metric.WithDescription("Block fetch latency for accepted candidates"),
		metric.WithUnit("ms"),
	)
	return err
}

// Handle processes one raw notification. Only malformed input is returned as an error.
func (s *HeadSelector) Handle(ctx context.Context, n domain.HeadNotification) error {
	candidate, err := domain.ParseHeadNotification(n)
	if err != nil {
		return err
	}

	if !candidate.HeavierThan(s.sink.CurrentHead()) {
		s.metrics.rejected.Add(ctx, 1, s.attrs)
		s.logger.Debug(ctx, "head candidate not heavier",
			"upstream", s.upstreamID,
			"number", candidate.Number,
			"total_difficulty", candidate.TotalDifficulty.String())
		return nil
	}

	if !s.claim(candidate.Hash) {
		s.logger.Debug(ctx, "head candidate already being fetched",
			"upstream", s.upstreamID,
			"number", candidate.Number,
			"hash", candidate.Hash.Hex())
		return nil
	}

	s.metrics.accepted.Add(ctx, 1, s.attrs)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.release(candidate.Hash)
		s.fetch(ctx, candidate)
	}()

	return nil
}

func (s *HeadSelector) claim(h common.Hash) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, ok := s.pending[h]; ok {
		return false
	}
	s.pending[h] = struct{}{}
	return true
}

func (s *HeadSelector) release(h common.Hash) {
	s.pendingMu.Lock()
	delete(s.pending, h)
	s.pendingMu.Unlock()
}

// Wait blocks until all in-flight fetches are done.
func (s *HeadSelector) Wait() {
	s.inflight.Wait()
}

func (s *HeadSelector) fetch(ctx context.Context, candidate *domain.Block) {
	ctx, span := s.tracer.Start(ctx, "upstream.head.fetch",
		trace.WithAttributes(
			attribute.String("upstream", s.upstreamID),
			attribute.Int64("block_number", int64(candidate.Number)),
			attribute.String("block_hash", candidate.Hash.Hex()),
		),
	)
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	start := time.Now()
	block, err := s.api.BlockByHash(fetchCtx, candidate.Hash)
	s.metrics.fetchLatency.Record(ctx, float64(time.Since(start).Milliseconds()), s.attrs)

	if err == nil && block == nil {
		err = apperror.New(apperror.CodeBlockNotFound, apperror.WithContext(candidate.Hash.Hex()))
	}
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			err = apperror.FromContext(fetchCtx.Err(), apperror.CodeHeadFetchTimeout, candidate.Hash.Hex())
		} else {
			err = apperror.Wrap(err, apperror.CodeHeadFetchFailed, candidate.Hash.Hex())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		s.metrics.fetchFailures.Add(ctx, 1, s.attrs)
		s.logger.Warn(ctx, "head candidate discarded",
			"upstream", s.upstreamID,
			"number", candidate.Number,
			"hash", candidate.Hash.Hex(),
			"error", err)
		return
	}

	// Heads are compared in the unit of the notification stream. A node may
	// report a total difficulty on the fetched block that the stream does not use.
	if block.TotalDifficulty == nil || block.TotalDifficulty.Cmp(candidate.TotalDifficulty) != 0 {
		weighted := *block
		weighted.TotalDifficulty = candidate.TotalDifficulty
		block = &weighted
	}

	if !s.sink.OfferHead(ctx, block) {
		span.AddEvent("superseded")
		s.logger.Debug(ctx, "fetched head superseded",
			"upstream", s.upstreamID,
			"number", block.Number)
		return
	}

	span.SetStatus(codes.Ok, "published")
}
