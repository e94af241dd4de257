package telemetry

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/jsamuelsen/go-request-registry/telemetry"

	// HeaderTraceID is the response header carrying the request's trace ID.
	HeaderTraceID = "X-Trace-ID"
)

// HTTPConfig configures the HTTP telemetry middleware.
type HTTPConfig struct {
	// MeterProvider creates the instruments. Nil uses the global provider.
	MeterProvider metric.MeterProvider

	// DiagnosticHeader is the response header set when the request got a
	// diagnostic context. Requests are split on it in the metrics.
	DiagnosticHeader string
}

// HTTPMetrics holds HTTP server metrics.
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTP server instruments on mp, or on the global
// meter provider when mp is nil.
func NewHTTPMetrics(mp metric.MeterProvider) (*HTTPMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	meter := mp.Meter(instrumentationName)

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request duration histogram: %w", err)
	}

	requestTotal, err := meter.Int64Counter(
		"http.server.request.total",
		metric.WithDescription("Total number of HTTP requests by diagnostic registration"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating active request counter: %w", err)
	}

	return &HTTPMetrics{
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		activeRequests:  activeRequests,
	}, nil
}

// Middleware returns Gin middleware recording request metrics and setting
// the X-Trace-ID header. It must run after TracingMiddleware and before the
// diagnostics middleware.
func Middleware(cfg HTTPConfig) gin.HandlerFunc {
	metrics, err := NewHTTPMetrics(cfg.MeterProvider)
	if err != nil {
		otel.Handle(err)
	}

	return func(c *gin.Context) {
		setTraceHeader(c)

		if metrics == nil {
			c.Next()
			return
		}

		start := time.Now()
		ctx := c.Request.Context()
		route := semconv.HTTPRoute(c.FullPath())
		method := semconv.HTTPRequestMethodKey.String(c.Request.Method)

		metrics.activeRequests.Add(ctx, 1, metric.WithAttributes(method, route))
		defer metrics.activeRequests.Add(ctx, -1, metric.WithAttributes(method, route))

		c.Next()

		attrs := metric.WithAttributes(
			method,
			route,
			semconv.HTTPResponseStatusCode(c.Writer.Status()),
			attribute.Bool("diagnostics.registered",
				cfg.DiagnosticHeader != "" && c.Writer.Header().Get(cfg.DiagnosticHeader) != ""),
		)
		metrics.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		metrics.requestTotal.Add(ctx, 1, attrs)
	}
}

func setTraceHeader(c *gin.Context) {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		c.Header(HeaderTraceID, sc.TraceID().String())
	}
}

// TracingMiddleware returns the otelgin tracing middleware. It must run
// before the diagnostics middleware so the trace ID can be recorded on the
// request's diagnostic context.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}
