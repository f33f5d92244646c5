package app

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

func newUpstreamFor(t *testing.T, id string, chain domain.Chain) *Upstream {
	t.Helper()
	u, err := NewUpstream(UpstreamConfig{ID: id, Chain: chain, Sleeper: blockingSleeper},
		newFakeHeadStreamer(), newFakeAPI(), logger.NewNop())
	if err != nil {
		t.Fatalf("NewUpstream: %v", err)
	}
	return u
}

func TestUpstreamService_Registry(t *testing.T) {
	svc := NewUpstreamService(logger.NewNop())

	eth1 := newUpstreamFor(t, "eth-1", domain.ChainEthereum)
	eth2 := newUpstreamFor(t, "eth-2", domain.ChainEthereum)
	etc1 := newUpstreamFor(t, "etc-1", domain.ChainEthereumClassic)

	for _, u := range []*Upstream{etc1, eth1, eth2} {
		if err := svc.Add(u); err != nil {
			t.Fatalf("Add %s: %v", u.ID(), err)
		}
	}

	if err := svc.Add(newUpstreamFor(t, "eth-1", domain.ChainEthereum)); err == nil {
		t.Error("expected duplicate id to fail")
	}

	if got, err := svc.Get("eth-2"); err != nil || got != eth2 {
		t.Errorf("Get eth-2: got %v err=%v", got, err)
	}
	if _, err := svc.Get("nope"); !apperror.HasCode(err, apperror.CodeUnknownUpstream) {
		t.Errorf("expected %s, got %v", apperror.CodeUnknownUpstream, err)
	}

	if got := svc.ByChain(domain.ChainEthereum); len(got) != 2 || got[0] != eth1 || got[1] != eth2 {
		t.Errorf("unexpected ByChain result %v", got)
	}

	chains := svc.Chains()
	if len(chains) != 2 || chains[0] != domain.ChainEthereum || chains[1] != domain.ChainEthereumClassic {
		t.Errorf("unexpected chains %v", chains)
	}

	if all := svc.All(); len(all) != 3 || all[0] != etc1 {
		t.Errorf("All must keep registration order, got %v", all)
	}

	eth2.OfferHead(context.Background(), &domain.Block{Number: 1, TotalDifficulty: big.NewInt(1)})
	if got := svc.Available(domain.ChainEthereum); len(got) != 1 || got[0] != eth2 {
		t.Errorf("expected only eth-2 available, got %v", got)
	}
}

func TestUpstreamService_Describe(t *testing.T) {
	svc := NewUpstreamService(logger.NewNop())
	u := newUpstreamFor(t, "eth-1", domain.ChainEthereum)

	d := describerFunc(func(ctx context.Context) ([]domain.DescribeChain, error) {
		return []domain.DescribeChain{
			{Chain: domain.ChainEthereumClassic, SupportedTargets: []string{"eth_chainId"}},
			{
				Chain:            domain.ChainEthereum,
				SupportedTargets: []string{"eth_call", "eth_getBalance"},
				Status:           &domain.ChainStatus{Chain: domain.ChainEthereum, Availability: domain.CodeAvailabilityLagging, Quorum: 1},
			},
		}, nil
	})

	if err := svc.Describe(context.Background(), u, d); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !u.Supports("eth_getBalance") || u.Supports("eth_chainId") {
		t.Errorf("unexpected targets %v", u.SupportedTargets())
	}
	if u.Status() != domain.AvailabilityLagging {
		t.Errorf("expected LAGGING, got %s", u.Status())
	}

	missing := describerFunc(func(ctx context.Context) ([]domain.DescribeChain, error) {
		return []domain.DescribeChain{{Chain: domain.ChainKovan}}, nil
	})
	if err := svc.Describe(context.Background(), u, missing); !apperror.HasCode(err, apperror.CodeUnknownChain) {
		t.Errorf("expected %s, got %v", apperror.CodeUnknownChain, err)
	}

	failing := describerFunc(func(ctx context.Context) ([]domain.DescribeChain, error) {
		return nil, errors.New("unavailable")
	})
	if err := svc.Describe(context.Background(), u, failing); !apperror.HasCode(err, apperror.CodeUpstreamRPCError) {
		t.Errorf("expected %s, got %v", apperror.CodeUpstreamRPCError, err)
	}
}

func TestUpstreamService_StartAllAndStatusFeed(t *testing.T) {
	svc := NewUpstreamService(logger.NewNop())

	heads := newFakeHeadStreamer()
	u, err := NewUpstream(UpstreamConfig{ID: "eth-1", Chain: domain.ChainEthereum, Sleeper: blockingSleeper},
		heads, newFakeAPI(), logger.NewNop())
	if err != nil {
		t.Fatalf("NewUpstream: %v", err)
	}
	if err := svc.Add(u); err != nil {
		t.Fatalf("Add: %v", err)
	}

	statusStreamer := &fakeStatusStreamer{opened: make(chan *fakeStream[domain.ChainStatus], 4)}
	feed, err := NewStatusFeed(u, statusStreamer, blockingSleeper, logger.NewNop())
	if err != nil {
		t.Fatalf("NewStatusFeed: %v", err)
	}
	svc.AddStatusFeed(feed)

	statuses := u.ObserveStatus()
	defer statuses.Unsubscribe()
	if st := nextWithin(t, statuses.Next); st != domain.AvailabilityUnavailable {
		t.Fatalf("expected replayed UNAVAILABLE, got %s", st)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc.StartAll(ctx)

	<-heads.opened
	statusStream := <-statusStreamer.opened

	statusStream.Send(domain.ChainStatus{Chain: domain.ChainEthereumClassic, Availability: domain.CodeAvailabilityOK})
	statusStream.Send(domain.ChainStatus{Chain: domain.ChainEthereum, Availability: domain.CodeAvailabilitySyncing})

	if st := nextWithin(t, statuses.Next); st != domain.AvailabilitySyncing {
		t.Fatalf("expected SYNCING from the matching chain only, got %s", st)
	}

	statusStream.Send(domain.ChainStatus{Availability: domain.CodeAvailabilityOK})
	if st := nextWithin(t, statuses.Next); st != domain.AvailabilityOK {
		t.Fatalf("expected OK from an unscoped report, got %s", st)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after cancel")
	}
	if feed.State() != domain.StateStopped {
		t.Errorf("expected status feed stopped, got %s", feed.State())
	}
}
