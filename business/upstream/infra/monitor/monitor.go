// Package monitor feeds upstream state into the terminal UI.
package monitor

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fd1az/upstream-gateway/business/upstream/app"
	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/broadcast"
	"github.com/fd1az/upstream-gateway/internal/logger"
	"github.com/fd1az/upstream-gateway/pkg/ui"
)

// Monitor pushes a ui.UpstreamMsg on every status, driver state or head
// change and a ui.HeadMsg per published head.
//
// Upstream callbacks only publish to changes; sends to the UI happen on the
// monitor's own goroutines.
type Monitor struct {
	svc      *app.UpstreamService
	send     func(tea.Msg)
	logger   logger.LoggerInterface
	interval time.Duration
	changes  *broadcast.Hub[*app.Upstream]
	wg       sync.WaitGroup
}

// New creates a monitor. send is usually ui.Send.
func New(svc *app.UpstreamService, send func(tea.Msg), log logger.LoggerInterface) *Monitor {
	return &Monitor{
		svc:      svc,
		send:     send,
		logger:   log,
		interval: time.Second,
		changes:  broadcast.NewHub[*app.Upstream](64),
	}
}

// Snapshot builds the table row for u.
func Snapshot(u *app.Upstream) ui.UpstreamMsg {
	msg := ui.UpstreamMsg{
		ID:          u.ID(),
		Chain:       u.Chain().String(),
		Status:      u.Status().String(),
		DriverState: string(u.DriverState()),
		Attempts:    u.ConnectAttempts(),
		Targets:     len(u.SupportedTargets()),
	}
	if head := u.Head().Current(); head != nil {
		msg.HeadNumber = head.Number
	}
	return msg
}

func headMsg(u *app.Upstream, b *domain.Block) ui.HeadMsg {
	td := "-"
	if b.TotalDifficulty != nil {
		td = b.TotalDifficulty.String()
	}
	return ui.HeadMsg{
		UpstreamID:      u.ID(),
		Chain:           u.Chain().String(),
		Number:          b.Number,
		Hash:            b.Hash.Hex(),
		TotalDifficulty: td,
		Timestamp:       time.Now(),
	}
}

// Start subscribes to every upstream until ctx is done. It never calls send itself.
func (m *Monitor) Start(ctx context.Context) {
	changed := m.changes.Subscribe()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = broadcast.Consume(ctx, changed, func(u *app.Upstream) error {
			m.send(Snapshot(u))
			return nil
		})
	}()

	for _, u := range m.svc.All() {
		u.OnDriverStateChange(func(domain.DriverState) {
			m.changes.Publish(u)
		})
		m.changes.Publish(u)

		heads := u.Head().Subscribe()
		statuses := u.ObserveStatus()

		m.wg.Add(2)
		go func() {
			defer m.wg.Done()
			err := broadcast.Consume(ctx, heads, func(b *domain.Block) error {
				m.send(headMsg(u, b))
				m.send(Snapshot(u))
				return nil
			})
			if err != nil && ctx.Err() == nil {
				m.logger.Warn(ctx, "monitor head feed ended", "upstream", u.ID(), "error", err)
			}
		}()
		go func() {
			defer m.wg.Done()
			_ = broadcast.Consume(ctx, statuses, func(domain.Availability) error {
				m.changes.Publish(u)
				return nil
			})
		}()
	}

	// Attempt counters change without a state transition while retrying.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, u := range m.svc.All() {
					m.send(Snapshot(u))
				}
			}
		}
	}()
}

// Wait blocks until every feed goroutine has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
