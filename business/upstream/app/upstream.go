package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/broadcast"
	"github.com/fd1az/upstream-gateway/internal/clock"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

// UpstreamConfig identifies one remote node.
type UpstreamConfig struct {
	ID      string
	Chain   domain.Chain
	Options domain.Options
	Sleeper clock.Sleeper // nil uses clock.SleepWithContext
}

// Upstream is one configured remote node for one chain.
//
// The head and the availability are single cells. All writes go through
// OfferHead, OnStatus and the driver's disconnect hook.
type Upstream struct {
	id     string
	chain  domain.Chain
	opts   domain.Options
	api    RemoteAPI
	logger logger.LoggerInterface

	headMu sync.Mutex
	head   atomic.Pointer[domain.Block]
	heads  *broadcast.Hub[*domain.Block]

	statusMu sync.Mutex
	status   atomic.Int32 // domain.Availability
	statuses *broadcast.Hub[domain.Availability]

	targets atomic.Pointer[[]string]

	selector *HeadSelector
	driver   *Driver[domain.HeadNotification]

	connectOnce sync.Once
	done        chan struct{}
}

// NewUpstream wires an upstream to its head stream and call client.
func NewUpstream(cfg UpstreamConfig, streamer HeadStreamer, api RemoteAPI, log logger.LoggerInterface) (*Upstream, error) {
	if cfg.ID == "" {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "upstream id is required")
	}
	if streamer == nil || api == nil {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "upstream "+cfg.ID+" needs a head streamer and an api")
	}

	opts := cfg.Options.WithDefaults()

	u := &Upstream{
		id:       cfg.ID,
		chain:    cfg.Chain,
		opts:     opts,
		api:      api,
		logger:   log,
		heads:    broadcast.NewHub[*domain.Block](opts.SubscriberBuffer),
		statuses: broadcast.NewHub[domain.Availability](opts.SubscriberBuffer),
		done:     make(chan struct{}),
	}
	empty := []string{}
	u.targets.Store(&empty)
	u.statuses.Publish(domain.AvailabilityUnavailable)

	selector, err := NewHeadSelector(cfg.ID, api, u, opts.FetchTimeout, log)
	if err != nil {
		return nil, err
	}
	u.selector = selector

	driver, err := NewDriver(DriverConfig[domain.HeadNotification]{
		Name:          cfg.ID + "/heads",
		RetryInterval: opts.RetryInterval,
		Sleeper:       cfg.Sleeper,
		Open: func(ctx context.Context) (Stream[domain.HeadNotification], error) {
			return streamer.SubscribeHead(ctx, cfg.Chain)
		},
		Handle:       selector.Handle,
		OnDisconnect: func(context.Context) { u.setStatus(domain.AvailabilityUnavailable) },
	}, log)
	if err != nil {
		return nil, err
	}
	u.driver = driver

	return u, nil
}

// Connect starts the head subscription. Calls after the first are no-ops.
func (u *Upstream) Connect(ctx context.Context) {
	u.connectOnce.Do(func() {
		go func() {
			defer close(u.done)
			if err := u.driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				u.logger.Warn(ctx, "head subscription stopped", "upstream", u.id, "error", err)
			}
			u.selector.Wait()
		}()
	})
}

// Done is closed once a connected upstream has stopped and its fetches have drained.
func (u *Upstream) Done() <-chan struct{} {
	return u.done
}

// Init applies a capability description. The target set is replaced wholesale.
func (u *Upstream) Init(desc domain.DescribeChain) {
	targets := make([]string, 0, len(desc.SupportedTargets))
	seen := make(map[string]struct{}, len(desc.SupportedTargets))
	for _, t := range desc.SupportedTargets {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}
	sort.Strings(targets)
	u.targets.Store(&targets)

	if desc.Status != nil {
		u.OnStatus(*desc.Status)
	}
}

// OnStatus applies an externally reported status. Unknown codes mean unavailable.
func (u *Upstream) OnStatus(status domain.ChainStatus) {
	u.setStatus(domain.AvailabilityFromCode(status.Availability))
}

func (u *Upstream) setStatus(a domain.Availability) {
	u.statusMu.Lock()
	defer u.statusMu.Unlock()

	prev := domain.Availability(u.status.Swap(int32(a)))
	u.statuses.Publish(a)

	if prev != a {
		u.logger.Info(context.Background(), "upstream status changed",
			"upstream", u.id, "from", prev.String(), "to", a.String())
	}
}

// CurrentHead returns the current head or nil.
func (u *Upstream) CurrentHead() *domain.Block {
	return u.head.Load()
}

// OfferHead publishes b if it is strictly heavier than the current head,
// then marks the upstream OK.
func (u *Upstream) OfferHead(ctx context.Context, b *domain.Block) bool {
	u.headMu.Lock()
	if !b.HeavierThan(u.head.Load()) {
		u.headMu.Unlock()
		return false
	}
	u.head.Store(b)
	u.heads.Publish(b)
	u.headMu.Unlock()

	u.logger.Debug(ctx, "new head",
		"upstream", u.id,
		"number", b.Number,
		"hash", b.Hash.Hex(),
		"total_difficulty", b.TotalDifficulty.String())

	u.setStatus(domain.AvailabilityOK)
	return true
}

// ID returns the configured id.
func (u *Upstream) ID() string { return u.id }

// Chain returns the chain the upstream serves.
func (u *Upstream) Chain() domain.Chain { return u.chain }

// SupportedTargets returns a sorted copy of the declared call targets.
func (u *Upstream) SupportedTargets() []string {
	cur := *u.targets.Load()
	out := make([]string, len(cur))
	copy(out, cur)
	return out
}

// Supports reports whether target was declared by the remote node.
func (u *Upstream) Supports(target string) bool {
	cur := *u.targets.Load()
	i := sort.SearchStrings(cur, target)
	return i < len(cur) && cur[i] == target
}

// IsAvailable reports whether a head was ever received, whatever the current status.
func (u *Upstream) IsAvailable() bool {
	return u.head.Load() != nil
}

// Status returns the current availability.
func (u *Upstream) Status() domain.Availability {
	return domain.Availability(u.status.Load())
}

// ObserveStatus subscribes to availability changes, replaying the latest one.
func (u *Upstream) ObserveStatus() *broadcast.Subscription[domain.Availability] {
	return u.statuses.Subscribe()
}

// Head returns the head view.
func (u *Upstream) Head() *Head {
	return &Head{u: u}
}

// API returns the call client.
func (u *Upstream) API() RemoteAPI { return u.api }

// Options returns the effective options.
func (u *Upstream) Options() domain.Options { return u.opts }

// DriverState returns the head subscription state.
func (u *Upstream) DriverState() domain.DriverState { return u.driver.State() }

// ConnectAttempts returns how many times the head stream was opened.
func (u *Upstream) ConnectAttempts() uint64 { return u.driver.Attempts() }

// OnDriverStateChange registers a callback for head subscription transitions.
func (u *Upstream) OnDriverStateChange(fn func(domain.DriverState)) {
	u.driver.OnStateChange(fn)
}

func (u *Upstream) String() string {
	return fmt.Sprintf("%s(%s)", u.id, u.chain)
}
