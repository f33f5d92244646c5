package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
app:
  name: gw-test
  log_level: debug
upstreams:
  - id: eth-grpc
    chain: ETH
    grpc_address: localhost:2449
    rpc_url: http://localhost:8545
    retry_interval: 2s
    fetch_timeout: 20s
  - id: eth-ws
    chain: eth
    ws_url: ws://localhost:8546
    requests_per_second: 25
health:
  port: 9001
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Name != "gw-test" || cfg.App.LogLevel != "debug" {
		t.Errorf("unexpected app section %+v", cfg.App)
	}
	if cfg.Health.Port != 9001 {
		t.Errorf("expected health port 9001, got %d", cfg.Health.Port)
	}
	if cfg.Telemetry.PrometheusPort != 9090 {
		t.Errorf("expected default prometheus port, got %d", cfg.Telemetry.PrometheusPort)
	}
	if len(cfg.Upstreams) != 2 {
		t.Fatalf("expected 2 upstreams, got %d", len(cfg.Upstreams))
	}

	g := cfg.Upstreams[0]
	if g.Source != SourceGRPC || g.RetryInterval != 2*time.Second || g.FetchTimeout != 20*time.Second {
		t.Errorf("unexpected grpc upstream %+v", g)
	}

	w := cfg.Upstreams[1]
	if w.Source != SourceWS {
		t.Errorf("expected ws source to be inferred, got %q", w.Source)
	}
	if w.RPCURL != "ws://localhost:8546" {
		t.Errorf("expected rpc url to fall back to ws url, got %q", w.RPCURL)
	}
	if w.RequestsPerSecond != 25 {
		t.Errorf("expected 25 rps, got %v", w.RequestsPerSecond)
	}
}

func TestLoad_SingleUpstreamFromEnv(t *testing.T) {
	t.Setenv("GW_UPSTREAM_ID", "env-node")
	t.Setenv("GW_UPSTREAM_WS_URL", "wss://node.example/ws")
	t.Setenv("GW_UPSTREAM_RPC_URL", "https://node.example")

	cfg, err := Load(writeConfig(t, "app:\n  name: env\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Upstreams) != 1 {
		t.Fatalf("expected one upstream, got %d", len(cfg.Upstreams))
	}
	u := cfg.Upstreams[0]
	if u.ID != "env-node" || u.Chain != "ETH" || u.Source != SourceWS || u.RPCURL != "https://node.example" {
		t.Errorf("unexpected upstream %+v", u)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{Upstreams: []UpstreamConfig{{
			ID: "a", Chain: "ETH", Source: SourceGRPC, GRPCAddress: "localhost:1", RPCURL: "http://localhost:2",
		}}}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no upstreams", func(c *Config) { c.Upstreams = nil }, "at least one upstream"},
		{"missing id", func(c *Config) { c.Upstreams[0].ID = "" }, "id is required"},
		{"duplicate id", func(c *Config) { c.Upstreams = append(c.Upstreams, c.Upstreams[0]) }, "duplicate"},
		{"missing chain", func(c *Config) { c.Upstreams[0].Chain = "" }, "chain is required"},
		{"missing grpc address", func(c *Config) { c.Upstreams[0].GRPCAddress = "" }, "grpc_address"},
		{"bad ws url", func(c *Config) {
			c.Upstreams[0].Source = SourceWS
			c.Upstreams[0].WSURL = "http://localhost"
		}, "unsupported scheme"},
		{"unknown source", func(c *Config) { c.Upstreams[0].Source = "p2p" }, "unknown source"},
		{"missing rpc url", func(c *Config) { c.Upstreams[0].RPCURL = "" }, "rpc_url"},
		{"negative rps", func(c *Config) { c.Upstreams[0].RequestsPerSecond = -1 }, "requests_per_second"},
		{"bad health port", func(c *Config) { c.Health.Port = 70000 }, "health.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
