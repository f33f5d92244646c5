package app

import (
	"context"
	"errors"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

var errStreamClosed = errors.New("stream closed")

// fakeStream is fed by the test through Send and ended through End.
type fakeStream[T any] struct {
	ch     chan T
	closed chan struct{}
	once   sync.Once
}

func newFakeStream[T any](buffer int) *fakeStream[T] {
	return &fakeStream[T]{
		ch:     make(chan T, buffer),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream[T]) Send(v T) { s.ch <- v }

// End terminates the stream as if the server completed it.
func (s *fakeStream[T]) End() { close(s.ch) }

func (s *fakeStream[T]) Recv() (T, error) {
	var zero T
	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, io.EOF
		}
		return v, nil
	case <-s.closed:
		return zero, errStreamClosed
	}
}

func (s *fakeStream[T]) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeHeadStreamer hands every opened stream to the test through opened.
type fakeHeadStreamer struct {
	mu      sync.Mutex
	failFor int // number of opens that fail before succeeding
	calls   int
	opened  chan *fakeStream[domain.HeadNotification]
}

func newFakeHeadStreamer() *fakeHeadStreamer {
	return &fakeHeadStreamer{opened: make(chan *fakeStream[domain.HeadNotification], 16)}
}

func (f *fakeHeadStreamer) SubscribeHead(ctx context.Context, chain domain.Chain) (HeadStream, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failFor
	f.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}

	s := newFakeStream[domain.HeadNotification](16)
	f.opened <- s
	return s, nil
}

type fakeStatusStreamer struct {
	opened chan *fakeStream[domain.ChainStatus]
}

func (f *fakeStatusStreamer) SubscribeStatus(ctx context.Context, chain domain.Chain) (StatusStream, error) {
	s := newFakeStream[domain.ChainStatus](16)
	f.opened <- s
	return s, nil
}

// fakeAPI serves blocks by hash. Hashes in hang block until the context ends.
type fakeAPI struct {
	mu     sync.Mutex
	blocks map[common.Hash]*domain.Block
	hang   map[common.Hash]bool
	calls  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		blocks: make(map[common.Hash]*domain.Block),
		hang:   make(map[common.Hash]bool),
	}
}

func (f *fakeAPI) add(b *domain.Block) {
	f.mu.Lock()
	f.blocks[b.Hash] = b
	f.mu.Unlock()
}

func (f *fakeAPI) hangOn(h common.Hash) {
	f.mu.Lock()
	f.hang[h] = true
	f.mu.Unlock()
}

func (f *fakeAPI) BlockByHash(ctx context.Context, hash common.Hash) (*domain.Block, error) {
	f.mu.Lock()
	f.calls++
	hang := f.hang[hash]
	b, ok := f.blocks[hash]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, errors.New("block not found")
	}
	return b, nil
}

func (f *fakeAPI) Call(ctx context.Context, result any, method string, args ...any) error {
	return errors.New("not implemented")
}

type describerFunc func(ctx context.Context) ([]domain.DescribeChain, error)

func (f describerFunc) Describe(ctx context.Context) ([]domain.DescribeChain, error) {
	return f(ctx)
}

// blockingSleeper never returns before ctx is done.
func blockingSleeper(ctx context.Context, d time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func hashOf(b byte) string {
	return strings.Repeat(string("0123456789abcdef"[b>>4])+string("0123456789abcdef"[b&0x0f]), 32)
}

func notification(height uint64, weight int64, id string) domain.HeadNotification {
	return domain.HeadNotification{
		Height:  height,
		Weight:  big.NewInt(weight).Bytes(),
		BlockID: id,
	}
}

func fullBlock(height uint64, weight int64, id string) *domain.Block {
	return &domain.Block{
		Number:          height,
		Hash:            common.HexToHash("0x" + id),
		TotalDifficulty: big.NewInt(weight),
		GasLimit:        30_000_000,
	}
}

func newTestUpstream(t *testing.T, streamer HeadStreamer, api RemoteAPI, opts domain.Options) *Upstream {
	t.Helper()
	u, err := NewUpstream(UpstreamConfig{
		ID:      "eth-1",
		Chain:   domain.ChainEthereum,
		Options: opts,
		Sleeper: blockingSleeper,
	}, streamer, api, logger.NewNop())
	if err != nil {
		t.Fatalf("NewUpstream: %v", err)
	}
	return u
}

func nextWithin[T any](t *testing.T, next func(ctx context.Context) (T, error)) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := next(ctx)
	if err != nil {
		t.Fatalf("waiting for value: %v", err)
	}
	return v
}
