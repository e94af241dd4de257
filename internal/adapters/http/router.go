package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/handlers"
	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/middleware"
	"github.com/jsamuelsen/go-request-registry/internal/app/registry"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
	"github.com/jsamuelsen/go-request-registry/internal/platform/config"
	"github.com/jsamuelsen/go-request-registry/internal/platform/telemetry"
)

// DefaultRequestTimeout is the default timeout for API requests.
const DefaultRequestTimeout = 25 * time.Second

// RouterConfig contains configuration for setting up the router.
type RouterConfig struct {
	// Logger is the structured logger for request logging.
	Logger *slog.Logger

	// AppConfig contains application configuration.
	AppConfig *config.AppConfig

	// Registry holds the diagnostic context of every in-flight request.
	// Nil disables registration.
	Registry *registry.Registry

	// HandlingMode is the mode of the contexts registered for requests.
	HandlingMode domain.HandlingMode

	// HealthHandler handles health check endpoints.
	HealthHandler *handlers.HealthHandler

	// RegistryHandler exposes the registry under /-/registry.
	RegistryHandler *handlers.RegistryHandler

	// ProbeHandler serves the context propagation probe.
	ProbeHandler *handlers.ProbeHandler

	// Tracing enables OpenTelemetry span creation per request.
	Tracing bool

	// MeterProvider creates the HTTP instruments. Nil uses the global provider.
	MeterProvider metric.MeterProvider

	// Timeout is the default request timeout.
	Timeout time.Duration
}

// SetupRouter configures all routes and middleware on the Gin engine.
// Middleware is applied in the following order (first to last):
//  1. Recovery - catch panics first
//  2. Context logger - attach the configured logger to the request
//  3. Request ID - generate/extract request ID
//  4. Correlation ID - handle distributed tracing correlation
//  5. OpenTelemetry - tracing (when enabled) and metrics
//  6. Diagnostics - register the request's diagnostic context
//  7. Logging - request logging (skips health endpoints)
//  8. Timeout - request deadline on /api/v1
//
// Route groups:
//   - /-/ (internal): Health and registry inspection endpoints
//   - /api/v1/ (public API): Business endpoints
func SetupRouter(engine *gin.Engine, cfg RouterConfig) {
	serviceName := "go-request-registry"
	if cfg.AppConfig != nil && cfg.AppConfig.Name != "" {
		serviceName = cfg.AppConfig.Name
	}

	engine.Use(
		middleware.Recovery(cfg.Logger),
		middleware.ContextLogger(cfg.Logger),
		middleware.RequestID(),
		middleware.CorrelationID(),
	)

	if cfg.Tracing {
		engine.Use(telemetry.TracingMiddleware(serviceName))
	}

	engine.Use(
		telemetry.Middleware(telemetry.HTTPConfig{
			MeterProvider:    cfg.MeterProvider,
			DiagnosticHeader: middleware.HeaderDiagnosticID,
		}),
		middleware.Diagnostics(cfg.Registry, cfg.HandlingMode),
		middleware.Logging(cfg.Logger),
	)

	ops := engine.Group("/-")
	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(ops)
	}

	if cfg.RegistryHandler != nil {
		cfg.RegistryHandler.RegisterRoutes(ops)
	}

	apiV1 := engine.Group("/api/v1")
	if cfg.Timeout > 0 {
		apiV1.Use(middleware.Timeout(cfg.Timeout))
	}

	setupAPIRoutes(apiV1, cfg)
}

// setupAPIRoutes registers business API routes.
func setupAPIRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	if cfg.ProbeHandler != nil {
		cfg.ProbeHandler.RegisterRoutes(rg)
	}
}

// SetupMinimalRouter sets up a minimal router with just health endpoints.
// Useful for testing or lightweight deployments.
func SetupMinimalRouter(engine *gin.Engine, logger *slog.Logger, healthHandler *handlers.HealthHandler) {
	engine.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
	)

	if healthHandler != nil {
		healthHandler.RegisterRoutes(engine.Group("/-"))
	}
}

// NewDefaultRouterConfig creates a RouterConfig with sensible defaults.
func NewDefaultRouterConfig(
	logger *slog.Logger,
	appCfg *config.AppConfig,
	reg *registry.Registry,
	healthHandler *handlers.HealthHandler,
) RouterConfig {
	return RouterConfig{
		Logger:          logger,
		AppConfig:       appCfg,
		Registry:        reg,
		HandlingMode:    domain.HandlingModeCollect,
		HealthHandler:   healthHandler,
		RegistryHandler: handlersFor(reg),
		Timeout:         DefaultRequestTimeout,
	}
}

func handlersFor(reg *registry.Registry) *handlers.RegistryHandler {
	if reg == nil {
		return nil
	}

	return handlers.NewRegistryHandler(reg)
}
