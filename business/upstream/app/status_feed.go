package app

import (
	"context"
	"errors"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/clock"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

// StatusFeed forwards a remote status stream into an upstream's OnStatus,
// reconnecting with the same constant interval as the head stream.
type StatusFeed struct {
	upstream *Upstream
	driver   *Driver[domain.ChainStatus]
	logger   logger.LoggerInterface
}

// NewStatusFeed creates a feed for u. Reports for other chains are ignored.
func NewStatusFeed(u *Upstream, streamer StatusStreamer, sleeper clock.Sleeper, log logger.LoggerInterface) (*StatusFeed, error) {
	f := &StatusFeed{upstream: u, logger: log}

	driver, err := NewDriver(DriverConfig[domain.ChainStatus]{
		Name:          u.ID() + "/status",
		RetryInterval: u.Options().RetryInterval,
		Sleeper:       sleeper,
		Open: func(ctx context.Context) (Stream[domain.ChainStatus], error) {
			return streamer.SubscribeStatus(ctx, u.Chain())
		},
		Handle: f.handle,
	}, log)
	if err != nil {
		return nil, err
	}
	f.driver = driver

	return f, nil
}

func (f *StatusFeed) handle(ctx context.Context, s domain.ChainStatus) error {
	if s.Chain != domain.ChainUnspecified && s.Chain != f.upstream.Chain() {
		return nil
	}
	f.logger.Debug(ctx, "status report",
		"upstream", f.upstream.ID(),
		"availability", s.Availability,
		"quorum", s.Quorum)
	f.upstream.OnStatus(s)
	return nil
}

// Run blocks until ctx is cancelled.
func (f *StatusFeed) Run(ctx context.Context) error {
	err := f.driver.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// State returns the status stream state.
func (f *StatusFeed) State() domain.DriverState {
	return f.driver.State()
}
