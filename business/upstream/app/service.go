package app

import (
	"context"
	"sort"
	"sync"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

// UpstreamService is the registry of configured upstreams.
type UpstreamService struct {
	logger logger.LoggerInterface

	mu      sync.RWMutex
	byID    map[string]*Upstream
	order   []*Upstream
	feeds   []*StatusFeed
	running sync.WaitGroup
}

// NewUpstreamService creates an empty registry.
func NewUpstreamService(log logger.LoggerInterface) *UpstreamService {
	return &UpstreamService{
		logger: log,
		byID:   make(map[string]*Upstream),
	}
}

// Add registers u. IDs must be unique.
func (s *UpstreamService) Add(u *Upstream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[u.ID()]; ok {
		return apperror.Validation(apperror.CodeInvalidInput, "duplicate upstream id "+u.ID())
	}
	s.byID[u.ID()] = u
	s.order = append(s.order, u)
	return nil
}

// AddStatusFeed registers a status feed started by StartAll.
func (s *UpstreamService) AddStatusFeed(f *StatusFeed) {
	s.mu.Lock()
	s.feeds = append(s.feeds, f)
	s.mu.Unlock()
}

// Get returns the upstream with the given id.
func (s *UpstreamService) Get(id string) (*Upstream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, apperror.New(apperror.CodeUnknownUpstream, apperror.WithContext(id))
	}
	return u, nil
}

// All returns every upstream in registration order.
func (s *UpstreamService) All() []*Upstream {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Upstream, len(s.order))
	copy(out, s.order)
	return out
}

// ByChain returns the upstreams serving chain.
func (s *UpstreamService) ByChain(chain domain.Chain) []*Upstream {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Upstream
	for _, u := range s.order {
		if u.Chain() == chain {
			out = append(out, u)
		}
	}
	return out
}

// Available returns the upstreams of chain whose status is OK.
func (s *UpstreamService) Available(chain domain.Chain) []*Upstream {
	var out []*Upstream
	for _, u := range s.ByChain(chain) {
		if u.Status().IsOK() {
			out = append(out, u)
		}
	}
	return out
}

// Chains returns the distinct configured chains in ascending order.
func (s *UpstreamService) Chains() []domain.Chain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.Chain]struct{})
	var out []domain.Chain
	for _, u := range s.order {
		if _, ok := seen[u.Chain()]; ok {
			continue
		}
		seen[u.Chain()] = struct{}{}
		out = append(out, u.Chain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Describe applies the remote capability description for u's chain.
func (s *UpstreamService) Describe(ctx context.Context, u *Upstream, d Describer) error {
	descs, err := d.Describe(ctx)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeUpstreamRPCError, "describe "+u.ID())
	}
	for _, desc := range descs {
		if desc.Chain == u.Chain() {
			u.Init(desc)
			s.logger.Info(ctx, "upstream described",
				"upstream", u.ID(),
				"chain", u.Chain().String(),
				"targets", len(desc.SupportedTargets))
			return nil
		}
	}
	return apperror.New(apperror.CodeUnknownChain,
		apperror.WithContext(u.Chain().String()+" not served by "+u.ID()))
}

// StartAll connects every upstream and starts every status feed.
func (s *UpstreamService) StartAll(ctx context.Context) {
	s.mu.RLock()
	ups := append([]*Upstream(nil), s.order...)
	feeds := append([]*StatusFeed(nil), s.feeds...)
	s.mu.RUnlock()

	for _, u := range ups {
		u.Connect(ctx)
		s.running.Add(1)
		go func(u *Upstream) {
			defer s.running.Done()
			<-u.Done()
		}(u)
	}

	for _, f := range feeds {
		s.running.Add(1)
		go func(f *StatusFeed) {
			defer s.running.Done()
			if err := f.Run(ctx); err != nil {
				s.logger.Warn(ctx, "status feed stopped", "error", err)
			}
		}(f)
	}

	s.logger.Info(ctx, "upstreams started", "upstreams", len(ups), "status_feeds", len(feeds))
}

// Wait blocks until everything started by StartAll has stopped.
func (s *UpstreamService) Wait() {
	s.running.Wait()
}
