package monolith

import (
	"context"
	"errors"
	"testing"

	"github.com/fd1az/upstream-gateway/internal/config"
	"github.com/fd1az/upstream-gateway/internal/di"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type recordingModule struct {
	name  string
	order *[]string
}

func (m recordingModule) RegisterServices(c di.Container) error {
	*m.order = append(*m.order, "register:"+m.name)
	c.Register(m.name, m.name)
	return nil
}

func (m recordingModule) Startup(ctx context.Context, mono Monolith) error {
	*m.order = append(*m.order, "start:"+m.name)
	if mono.Services().Get(m.name) != m.name {
		return errors.New("service not registered")
	}
	return nil
}

func TestMonolith_ModulesAndClose(t *testing.T) {
	cfg := &config.Config{}
	log := logger.NewNop()
	mono := New(cfg, log)

	if mono.Services().Get(ConfigService) != cfg {
		t.Error("config must be registered")
	}

	var order []string
	mods := []Module{recordingModule{"a", &order}, recordingModule{"b", &order}}
	if err := mono.RegisterModules(mods...); err != nil {
		t.Fatalf("RegisterModules: %v", err)
	}
	if err := mono.StartModules(context.Background(), mods...); err != nil {
		t.Fatalf("StartModules: %v", err)
	}

	want := []string{"register:a", "register:b", "start:a", "start:b"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}

	var closed []int
	boom := errors.New("boom")
	mono.OnClose(closerFunc(func() error { closed = append(closed, 1); return nil }))
	mono.OnClose(closerFunc(func() error { closed = append(closed, 2); return boom }))

	if err := mono.Close(); !errors.Is(err, boom) {
		t.Errorf("expected close error to be joined, got %v", err)
	}
	if len(closed) != 2 || closed[0] != 2 || closed[1] != 1 {
		t.Errorf("expected reverse close order, got %v", closed)
	}
	if err := mono.Close(); err != nil {
		t.Errorf("second Close must be a no-op, got %v", err)
	}
}
