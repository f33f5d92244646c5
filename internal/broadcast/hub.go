// Package broadcast provides a one-producer, many-consumer hub that remembers
// and replays its latest value to new subscribers.
//
// Overflow policy: every subscriber owns a bounded buffer. When the buffer is
// full the oldest queued value is dropped to make room, so Publish never blocks
// and a slow subscriber always ends up holding the most recent value.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is used when a hub is created with a non-positive size.
const DefaultBufferSize = 16

// Hub multicasts values to attached subscriptions.
type Hub[T any] struct {
	bufferSize int

	// pubMu serializes publishers so every subscriber observes publish order.
	pubMu sync.Mutex

	// mu guards the registry and the latest value, never delivery.
	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	latest *T

	published atomic.Uint64
}

// NewHub creates a hub whose subscriptions buffer up to bufferSize values.
func NewHub[T any](bufferSize int) *Hub[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub[T]{
		bufferSize: bufferSize,
		subs:       make(map[uint64]*Subscription[T]),
	}
}

// Publish stores v as the latest value and offers it to every subscriber.
func (h *Hub[T]) Publish(v T) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	h.latest = &v
	targets := make([]*Subscription[T], 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	h.published.Add(1)

	for _, s := range targets {
		s.offer(v)
	}
}

// Subscribe attaches a new subscription. If a value was published before,
// it is queued first, ahead of anything published afterwards.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscription[T]{
		id:  h.nextID,
		hub: h,
		ch:  make(chan T, h.bufferSize),
	}
	h.subs[s.id] = s

	if h.latest != nil {
		s.offer(*h.latest)
	}

	return s
}

// Current returns the latest published value without blocking.
func (h *Hub[T]) Current() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.latest == nil {
		var zero T
		return zero, false
	}
	return *h.latest, true
}

// First returns the current value, or waits for the first one ever published.
func (h *Hub[T]) First(ctx context.Context) (T, error) {
	if v, ok := h.Current(); ok {
		return v, nil
	}

	sub := h.Subscribe()
	defer sub.Unsubscribe()

	return sub.Next(ctx)
}

// Len returns the number of attached subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Published returns how many values have been published.
func (h *Hub[T]) Published() uint64 {
	return h.published.Load()
}

func (h *Hub[T]) detach(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscription is one consumer attached to a Hub.
type Subscription[T any] struct {
	id  uint64
	hub *Hub[T]

	mu      sync.Mutex
	ch      chan T
	closed  bool
	dropped atomic.Uint64
}

// ID identifies the subscription within its hub.
func (s *Subscription[T]) ID() uint64 {
	return s.id
}

// C returns the delivery channel. It is closed by Unsubscribe.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Next blocks until a value arrives, the subscription is closed, or ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Dropped returns how many values were discarded because the buffer was full.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe stops delivery and releases the buffer. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.hub.detach(s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// offer enqueues v, evicting the oldest queued value while the buffer is full.
func (s *Subscription[T]) offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- v:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// ErrClosed is returned by Next after Unsubscribe.
var ErrClosed = errors.New("broadcast: subscription closed")

// Consume calls fn for every value delivered to sub until ctx is done, the
// subscription closes, or fn fails. A panic in fn is recovered and returned as
// an error. The subscription is always detached on return.
func Consume[T any](ctx context.Context, sub *Subscription[T], fn func(T) error) (err error) {
	defer sub.Unsubscribe()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broadcast: consumer panic: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := fn(v); err != nil {
				return err
			}
		}
	}
}
