// Package ratelimit bounds the rate of outgoing calls to a remote node.
package ratelimit

import (
	"context"
	"errors"
	"math"

	"golang.org/x/time/rate"

	"github.com/fd1az/upstream-gateway/internal/apperror"
)

// Limiter wraps rate.Limiter. A nil *Limiter never limits.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond with the given burst.
// A non-positive rate returns nil, meaning unlimited.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = int(math.Ceil(requestsPerSecond / 10))
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until a call may proceed. It fails with RATE_LIMIT_EXCEEDED
// when ctx ends first or its deadline is too close to ever get a token.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return ctxErr
		}
		return apperror.New(apperror.CodeRateLimitExceeded, apperror.WithCause(err))
	}
	return nil
}

// Allow reports whether a call may proceed now, consuming a token if so.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Limit returns the configured rate in requests per second.
func (l *Limiter) Limit() float64 {
	if l == nil {
		return math.Inf(1)
	}
	return float64(l.limiter.Limit())
}
