// Package main is the entry point for the upstream gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/fd1az/upstream-gateway/business/upstream"
	"github.com/fd1az/upstream-gateway/business/upstream/app"
	upstreamDI "github.com/fd1az/upstream-gateway/business/upstream/di"
	"github.com/fd1az/upstream-gateway/business/upstream/infra/monitor"
	"github.com/fd1az/upstream-gateway/internal/apm"
	"github.com/fd1az/upstream-gateway/internal/config"
	"github.com/fd1az/upstream-gateway/internal/health"
	"github.com/fd1az/upstream-gateway/internal/logger"
	"github.com/fd1az/upstream-gateway/internal/metrics"
	"github.com/fd1az/upstream-gateway/internal/monolith"
	"github.com/fd1az/upstream-gateway/pkg/ui"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	tuiMode := flag.Bool("tui", false, "Run the terminal monitor instead of logging to stderr")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("upstream-gateway %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if !*tuiMode {
			fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		}
		cancel()
	}()

	if err := run(ctx, *configPath, *tuiMode); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, tuiMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.TUIMode = tuiMode

	logLevel := logger.ParseLevel(cfg.App.LogLevel)

	var log *logger.Logger
	if tuiMode {
		// The terminal belongs to the TUI.
		log = logger.New(io.Discard, logLevel, cfg.App.Name, nil)
	} else {
		log = logger.New(os.Stderr, logLevel, cfg.App.Name, nil)
		log.Info(ctx, "starting upstream gateway",
			"version", version,
			"environment", cfg.App.Environment,
			"upstreams", len(cfg.Upstreams),
		)
	}

	stopTelemetry, err := setupTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	healthServer := health.NewServer(cfg.Health.Port, version, log)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", cfg.Health.Port)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Stop(shutdownCtx)
	}()

	mono := monolith.New(cfg, log)
	defer mono.Close()

	modules := []monolith.Module{
		&upstream.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	start := func() (*app.UpstreamService, error) {
		if err := mono.StartModules(ctx, modules...); err != nil {
			return nil, fmt.Errorf("failed to start modules: %w", err)
		}
		svc := upstreamDI.GetUpstreamService(mono.Services())
		registerHealthChecks(healthServer, svc)
		return svc, nil
	}

	if tuiMode {
		return runTUI(ctx, start, log)
	}

	svc, err := start()
	if err != nil {
		return err
	}
	log.Info(ctx, "all modules started")

	<-ctx.Done()
	log.Info(ctx, "shutting down")
	svc.Wait()
	return nil
}

func setupTelemetry(ctx context.Context, cfg *config.Config, log logger.LoggerInterface) (func(), error) {
	if !cfg.Telemetry.Enabled {
		return func() {}, nil
	}

	traceProvider, err := apm.NewTraceProvider(ctx, apm.Config{
		Provider:    apm.ParseProvider(cfg.Telemetry.TraceProvider),
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Headers:     apm.ParseHeaders(cfg.Telemetry.OTLPHeaders),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	meterProvider, err := metrics.NewMetricProvider(ctx,
		metrics.WithServiceName(cfg.Telemetry.ServiceName),
		metrics.WithProviderConfig(metrics.ProviderCfg{Provider: metrics.PrometheusProvider}),
	)
	if err != nil {
		_ = traceProvider.Stop()
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	promServer := metrics.NewPrometheusServer(log, metrics.WithPort(strconv.Itoa(cfg.Telemetry.PrometheusPort)))
	if err := promServer.Start(); err != nil {
		log.Warn(ctx, "failed to start metrics server", "error", err)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = promServer.Stop(shutdownCtx)
		_ = meterProvider.Shutdown(shutdownCtx)
		_ = traceProvider.Stop()
	}, nil
}

// registerHealthChecks adds one check per upstream; an upstream is healthy once it has a head.
func registerHealthChecks(s *health.Server, svc *app.UpstreamService) {
	for _, u := range svc.All() {
		s.RegisterCheck("upstream:"+u.ID(), func(ctx context.Context) (bool, string) {
			msg := fmt.Sprintf("%s %s stream=%s", u.Chain(), u.Status(), u.DriverState())
			if head := u.Head().Current(); head != nil {
				msg += fmt.Sprintf(" head=#%d", head.Number)
			}
			return u.IsAvailable(), msg
		})
	}
}

func runTUI(ctx context.Context, start func() (*app.UpstreamService, error), log logger.LoggerInterface) error {
	startSignal := make(chan struct{}, 1)
	ui.OnStartModules = func() {
		select {
		case startSignal <- struct{}{}:
		default:
		}
	}

	p := tea.NewProgram(ui.New(), tea.WithAltScreen(), tea.WithContext(ctx))
	ui.Program = p

	errCh := make(chan error, 1)
	go func() {
		select {
		case <-startSignal:
		case <-ctx.Done():
			errCh <- nil
			return
		}

		ui.Send(ui.LogMsg{Level: "info", Message: "connecting upstreams"})
		svc, err := start()
		if err != nil {
			ui.Send(ui.ErrorMsg{Error: err})
			errCh <- err
			return
		}

		mon := monitor.New(svc, ui.Send, log)
		mon.Start(ctx)

		<-ctx.Done()
		mon.Wait()
		svc.Wait()
		errCh <- nil
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
