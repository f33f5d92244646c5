package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

type recordingSink struct {
	mu      sync.Mutex
	current *domain.Block
	offered []*domain.Block
}

func (s *recordingSink) CurrentHead() *domain.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *recordingSink) OfferHead(ctx context.Context, b *domain.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offered = append(s.offered, b)
	if !b.HeavierThan(s.current) {
		return false
	}
	s.current = b
	return true
}

func TestHeadSelector_RejectsMalformedNotification(t *testing.T) {
	sink := &recordingSink{}
	api := newFakeAPI()
	s, err := NewHeadSelector("eth-1", api, sink, time.Second, logger.NewNop())
	if err != nil {
		t.Fatalf("NewHeadSelector: %v", err)
	}

	err = s.Handle(context.Background(), domain.HeadNotification{Height: 1, Weight: []byte{1}, BlockID: "abcd"})
	if !apperror.HasCode(err, apperror.CodeInvalidHeadNotification) {
		t.Fatalf("expected %s, got %v", apperror.CodeInvalidHeadNotification, err)
	}
	s.Wait()
	if api.calls != 0 {
		t.Errorf("malformed notification must not trigger a fetch, got %d calls", api.calls)
	}
}

func TestHeadSelector_DropsNotHeavierWithoutFetching(t *testing.T) {
	id := hashOf(0x10)
	sink := &recordingSink{current: fullBlock(10, 100, hashOf(0x01))}
	api := newFakeAPI()
	api.add(fullBlock(11, 100, id))

	s, err := NewHeadSelector("eth-1", api, sink, time.Second, logger.NewNop())
	if err != nil {
		t.Fatalf("NewHeadSelector: %v", err)
	}

	for _, w := range []int64{99, 100} {
		if err := s.Handle(context.Background(), notification(11, w, id)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	s.Wait()

	if api.calls != 0 {
		t.Errorf("expected no fetches, got %d", api.calls)
	}
	if len(sink.offered) != 0 {
		t.Errorf("expected nothing offered, got %d", len(sink.offered))
	}
}

func TestHeadSelector_FetchTimeoutDoesNotStallLaterCandidates(t *testing.T) {
	slow, fast := hashOf(0x20), hashOf(0x30)
	sink := &recordingSink{}
	api := newFakeAPI()
	api.hangOn(common.HexToHash("0x" + slow))
	api.add(fullBlock(31, 30, fast))

	s, err := NewHeadSelector("eth-1", api, sink, 200*time.Millisecond, logger.NewNop())
	if err != nil {
		t.Fatalf("NewHeadSelector: %v", err)
	}

	start := time.Now()
	if err := s.Handle(context.Background(), notification(30, 20, slow)); err != nil {
		t.Fatalf("Handle slow: %v", err)
	}
	if err := s.Handle(context.Background(), notification(31, 30, fast)); err != nil {
		t.Fatalf("Handle fast: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Handle must not wait for the block fetch")
	}

	deadline := time.After(150 * time.Millisecond)
	for sink.CurrentHead() == nil {
		select {
		case <-deadline:
			t.Fatal("heavier candidate was not published before the slow fetch timed out")
		case <-time.After(time.Millisecond):
		}
	}

	s.Wait()

	if got := sink.CurrentHead(); got.Number != 31 {
		t.Fatalf("expected head 31, got %d", got.Number)
	}
	if len(sink.offered) != 1 {
		t.Errorf("timed out candidate must not be offered, got %d offers", len(sink.offered))
	}
}

func TestHeadSelector_LateFetchIsSuperseded(t *testing.T) {
	sink := &recordingSink{}
	api := newFakeAPI()
	idLow, idHigh := hashOf(0x40), hashOf(0x50)
	api.add(fullBlock(40, 40, idLow))
	api.add(fullBlock(50, 50, idHigh))

	s, err := NewHeadSelector("eth-1", api, sink, time.Second, logger.NewNop())
	if err != nil {
		t.Fatalf("NewHeadSelector: %v", err)
	}

	// Both are accepted against an empty head; the sink keeps the heavier one
	// whatever order the fetches complete in.
	_ = s.Handle(context.Background(), notification(40, 40, idLow))
	_ = s.Handle(context.Background(), notification(50, 50, idHigh))
	s.Wait()

	if got := sink.CurrentHead(); got.Number != 50 {
		t.Fatalf("expected head 50, got %d", got.Number)
	}
}

func TestHeadSelector_RepeatedCandidateIsFetchedOnce(t *testing.T) {
	id := hashOf(0x60)
	sink := &recordingSink{}
	api := newFakeAPI()
	api.hangOn(common.HexToHash("0x" + id))

	s, err := NewHeadSelector("eth-1", api, sink, 100*time.Millisecond, logger.NewNop())
	if err != nil {
		t.Fatalf("NewHeadSelector: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Handle(context.Background(), notification(60, 60, id)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	s.Wait()

	api.mu.Lock()
	calls := api.calls
	api.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one fetch while the first is pending, got %d", calls)
	}

	// Once the fetch has finished the hash may be fetched again.
	if err := s.Handle(context.Background(), notification(60, 60, id)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	s.Wait()

	api.mu.Lock()
	calls = api.calls
	api.mu.Unlock()
	if calls != 2 {
		t.Errorf("expected a new fetch after the first finished, got %d", calls)
	}
}
