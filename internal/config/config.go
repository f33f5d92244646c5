// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Upstream sources.
const (
	SourceGRPC = "grpc"
	SourceWS   = "ws"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Upstreams []UpstreamConfig `mapstructure:"upstreams"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
	Health    HealthConfig     `mapstructure:"health"`
	TUIMode   bool             `mapstructure:"-"` // set at runtime, not from config file
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// UpstreamConfig describes one remote node.
//
// A grpc upstream streams heads and status from GRPCAddress. A ws upstream
// streams heads through eth_subscribe on WSURL. Both fetch blocks through RPCURL.
type UpstreamConfig struct {
	ID                string        `mapstructure:"id"`
	Chain             string        `mapstructure:"chain"` // short code, e.g. ETH
	Source            string        `mapstructure:"source"`
	GRPCAddress       string        `mapstructure:"grpc_address"`
	WSURL             string        `mapstructure:"ws_url"`
	RPCURL            string        `mapstructure:"rpc_url"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MinPeers          int           `mapstructure:"min_peers"`
	DisableValidation bool          `mapstructure:"disable_validation"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceProvider  string `mapstructure:"trace_provider"` // zipkin, otlp, otlphttp, console or none
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"` // k1=v1,k2=v2
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// HealthConfig holds the health server settings.
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("GW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Upstreams) == 0 {
		if u, ok := upstreamFromEnv(v); ok {
			cfg.Upstreams = []UpstreamConfig{u}
		}
	}
	cfg.applyUpstreamDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.name", "GW_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "GW_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "GW_LOG_LEVEL", "LOG_LEVEL")

	// Single upstream without a config file.
	v.BindEnv("upstream.id", "GW_UPSTREAM_ID")
	v.BindEnv("upstream.chain", "GW_UPSTREAM_CHAIN")
	v.BindEnv("upstream.source", "GW_UPSTREAM_SOURCE")
	v.BindEnv("upstream.grpc_address", "GW_UPSTREAM_GRPC_ADDRESS")
	v.BindEnv("upstream.ws_url", "GW_UPSTREAM_WS_URL", "ETH_WS_URL")
	v.BindEnv("upstream.rpc_url", "GW_UPSTREAM_RPC_URL", "ETH_HTTP_URL")

	v.BindEnv("telemetry.enabled", "GW_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "GW_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.trace_provider", "GW_TRACE_PROVIDER")
	v.BindEnv("telemetry.otlp_endpoint", "GW_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.otlp_headers", "GW_OTEL_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")
	v.BindEnv("telemetry.prometheus_port", "GW_PROMETHEUS_PORT")

	v.BindEnv("health.port", "GW_HEALTH_PORT")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "upstream-gateway")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("upstream.id", "default")
	v.SetDefault("upstream.chain", "ETH")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "upstream-gateway")
	v.SetDefault("telemetry.trace_provider", "zipkin")
	v.SetDefault("telemetry.prometheus_port", 9090)

	v.SetDefault("health.port", 8081)
}

func upstreamFromEnv(v *viper.Viper) (UpstreamConfig, bool) {
	u := UpstreamConfig{
		ID:          v.GetString("upstream.id"),
		Chain:       v.GetString("upstream.chain"),
		Source:      v.GetString("upstream.source"),
		GRPCAddress: v.GetString("upstream.grpc_address"),
		WSURL:       v.GetString("upstream.ws_url"),
		RPCURL:      v.GetString("upstream.rpc_url"),
	}
	if u.GRPCAddress == "" && u.WSURL == "" {
		return UpstreamConfig{}, false
	}
	return u, true
}

// applyUpstreamDefaults infers the source from the configured endpoint.
// Timing fields left at zero are filled by the upstream itself.
func (c *Config) applyUpstreamDefaults() {
	for i := range c.Upstreams {
		u := &c.Upstreams[i]
		u.Source = strings.ToLower(strings.TrimSpace(u.Source))
		if u.Source == "" {
			if u.GRPCAddress != "" {
				u.Source = SourceGRPC
			} else {
				u.Source = SourceWS
			}
		}
		if u.RPCURL == "" && u.Source == SourceWS {
			u.RPCURL = u.WSURL
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Upstreams) == 0 {
		return fmt.Errorf("at least one upstream is required")
	}

	seen := make(map[string]struct{}, len(c.Upstreams))
	for i, u := range c.Upstreams {
		if u.ID == "" {
			return fmt.Errorf("upstreams[%d].id is required", i)
		}
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("duplicate upstream id %q", u.ID)
		}
		seen[u.ID] = struct{}{}

		if u.Chain == "" {
			return fmt.Errorf("upstream %s: chain is required", u.ID)
		}
		switch u.Source {
		case SourceGRPC:
			if u.GRPCAddress == "" {
				return fmt.Errorf("upstream %s: grpc_address is required for source grpc", u.ID)
			}
		case SourceWS:
			if err := checkURL(u.WSURL, "ws", "wss"); err != nil {
				return fmt.Errorf("upstream %s: ws_url: %w", u.ID, err)
			}
		default:
			return fmt.Errorf("upstream %s: unknown source %q", u.ID, u.Source)
		}
		if err := checkURL(u.RPCURL, "http", "https", "ws", "wss"); err != nil {
			return fmt.Errorf("upstream %s: rpc_url: %w", u.ID, err)
		}
		if u.RetryInterval < 0 || u.FetchTimeout < 0 {
			return fmt.Errorf("upstream %s: durations must not be negative", u.ID)
		}
		if u.RequestsPerSecond < 0 {
			return fmt.Errorf("upstream %s: requests_per_second must not be negative", u.ID)
		}
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("invalid health.port: %d", c.Health.Port)
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}
