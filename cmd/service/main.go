// Package main is the entry point for the service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http"
	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/handlers"
	"github.com/jsamuelsen/go-request-registry/internal/app"
	"github.com/jsamuelsen/go-request-registry/internal/app/registry"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
	"github.com/jsamuelsen/go-request-registry/internal/platform/config"
	"github.com/jsamuelsen/go-request-registry/internal/platform/logging"
	"github.com/jsamuelsen/go-request-registry/internal/platform/telemetry"
	"github.com/jsamuelsen/go-request-registry/internal/ports"
)

// Build-time variables, injected via ldflags.
// Example: go build -ldflags "-X main.Version=1.0.0 -X main.Commit=$(git rev-parse HEAD) -X main.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	// Version is the semantic version of the service.
	Version = "dev"

	// Commit is the git commit SHA.
	Commit = "unknown"

	// BuildTime is the timestamp when the binary was built.
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// 1. Determine profile from environment
	profile := os.Getenv("APP_ENVIRONMENT")
	if profile == "" {
		profile = "local"
	}

	// 2. Load and validate configuration (fail fast)
	cfg, err := config.Load(profile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	mode, err := domain.ParseHandlingMode(cfg.Registry.HandlingMode)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	warning, err := registry.ParseWarningPolicy(cfg.Registry.UnavailableWarning)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// 3. Initialize logging
	logger := logging.New(&logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.App.Name,
		Version: cfg.App.Version,
		File: logging.FileConfig{
			Enabled:    cfg.Log.File.Enabled,
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	})
	logging.SetDefault(logger)

	logger.Info("starting service",
		slog.String("version", Version),
		slog.String("commit", Commit),
		slog.String("environment", cfg.App.Environment),
		slog.String("handling_mode", mode.String()),
	)

	// 4. Create the request registry. Requests arriving before telemetry is
	// ready are served without diagnostics.
	reg, err := registry.New(
		registry.WithLogger(logger),
		registry.WithShardCount(cfg.Registry.ShardCount),
		registry.WithUnavailableWarning(warning),
		registry.WithWarningInterval(cfg.Registry.WarningInterval),
		registry.WithRemovalHistory(cfg.Registry.RemovalHistory),
		registry.WithLeakReclaim(cfg.Registry.ReclaimLeakedHandles),
	)
	if err != nil {
		return fmt.Errorf("creating request registry: %w", err)
	}

	// Records logged while serving a request are also kept on its
	// diagnostic context.
	requestLogger := slog.New(logging.NewRecordingHandler(logger.Handler(),
		func(ctx context.Context) (logging.Recorder, bool) {
			dc, ok := reg.Lookup(ctx)
			return dc, ok
		},
		slog.LevelInfo,
	))

	// 5. Initialize telemetry (noop if disabled)
	telProvider, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		Endpoint:     cfg.Telemetry.Endpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      cfg.App.Version,
		Environment:  cfg.App.Environment,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	defer func() {
		if shutdownErr := telProvider.Shutdown(ctx); shutdownErr != nil {
			logger.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	registryMetrics, err := telemetry.NewRegistryMetrics(telProvider.MeterProvider())
	if err != nil {
		return fmt.Errorf("creating registry metrics: %w", err)
	}

	defer registryMetrics.Attach(reg)()

	if err := telemetry.RegisterRegistryCollector(prometheus.DefaultRegisterer, reg); err != nil {
		return fmt.Errorf("registering registry collector: %w", err)
	}

	reg.MarkInitialized()

	// 6. Create health registry
	healthRegistry := ports.NewHealthRegistry(ports.WithCheckTimeout(cfg.Health.CheckTimeout))
	if err := healthRegistry.Register(reg); err != nil {
		return fmt.Errorf("registering request registry health check: %w", err)
	}

	if cfg.Health.ObserverCheck {
		if err := healthRegistry.Register(reg.ObserverCheck(), ports.NonCritical()); err != nil {
			return fmt.Errorf("registering observer health check: %w", err)
		}
	}

	// 7. Create probe service (application layer)
	probeService := app.NewProbeService(app.ProbeServiceConfig{
		Registry:    reg,
		Logger:      requestLogger,
		Branches:    cfg.Probe.Branches,
		Concurrency: cfg.Probe.Concurrency,
	})

	// 8. Create handlers
	buildInfo := handlers.NewBuildInfo(Version, Commit, BuildTime)
	healthHandler := handlers.NewHealthHandler(healthRegistry, buildInfo)
	registryHandler := handlers.NewRegistryHandler(reg)
	probeHandler := handlers.NewProbeHandler(probeService)

	// 9. Create HTTP server
	server := http.New(&cfg.Server, logger)

	// 10. Setup router with all middleware and routes
	routerCfg := http.RouterConfig{
		Logger:          requestLogger,
		AppConfig:       &cfg.App,
		Registry:        reg,
		HandlingMode:    mode,
		HealthHandler:   healthHandler,
		RegistryHandler: registryHandler,
		ProbeHandler:    probeHandler,
		Tracing:         telProvider.Enabled(),
		MeterProvider:   telProvider.MeterProvider(),
		Timeout:         cfg.Server.RequestTimeout,
	}
	http.SetupRouter(server.Engine(), routerCfg)

	// Contexts of requests still running after the drain are dropped here.
	server.AfterDrain(func(context.Context) error {
		stats := reg.Stats()
		if err := reg.Close(); err != nil {
			return fmt.Errorf("closing request registry: %w", err)
		}

		logger.Info("request registry closed",
			slog.Int("active", stats.Active),
			slog.Uint64("added", stats.Added),
			slog.Uint64("removed", stats.Removed),
			slog.Uint64("reclaimed", stats.Reclaimed),
		)

		return nil
	})

	// 11. Bind, then serve in the background
	if err := server.Listen(); err != nil {
		return err
	}

	serverErr := server.Start()

	// 12. Wait for shutdown signal
	return waitForShutdown(ctx, logger, server, serverErr, cfg.Server.ShutdownTimeout)
}

// waitForShutdown blocks until a shutdown signal is received or the server
// fails, then drains the server.
func waitForShutdown(
	ctx context.Context,
	logger *slog.Logger,
	server *http.Server,
	serverErr <-chan error,
	shutdownTimeout time.Duration,
) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		_ = server.Shutdown(ctx)
		return fmt.Errorf("server error: %w", err)

	case sig := <-quit:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	logger.Info("initiating graceful shutdown",
		slog.Duration("timeout", shutdownTimeout),
	)

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("shutdown complete")

	return nil
}
