package app

import (
	"context"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/broadcast"
)

// Head is the read side of an upstream's head.
type Head struct {
	u *Upstream
}

// Current returns the current head or nil if none was received yet.
func (h *Head) Current() *domain.Block {
	return h.u.head.Load()
}

// Wait returns the current head, or waits for the first one ever published.
func (h *Head) Wait(ctx context.Context) (*domain.Block, error) {
	if b := h.u.head.Load(); b != nil {
		return b, nil
	}
	return h.u.heads.First(ctx)
}

// Subscribe returns the live head sequence, starting with the current head if any.
func (h *Head) Subscribe() *broadcast.Subscription[*domain.Block] {
	return h.u.heads.Subscribe()
}
