package middleware

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/dto"
	"github.com/jsamuelsen/go-request-registry/internal/app/diagctx"
	"github.com/jsamuelsen/go-request-registry/internal/app/registry"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
	"github.com/jsamuelsen/go-request-registry/internal/platform/logging"
)

const (
	// HeaderDiagnosticID is the response header carrying the identifier of
	// the request's diagnostic context.
	HeaderDiagnosticID = dto.HeaderDiagnosticID

	// ContextKeyDiagnosticID is the gin.Context key for the diagnostic identifier.
	ContextKeyDiagnosticID = "diagnostic_id"

	// ContextKeyDiagnostics is the gin.Context key for the *diagctx.RequestContext.
	ContextKeyDiagnostics = "diagnostics"
)

// Diagnostics returns middleware that registers a diagnostic context for
// every request and releases it when the handler chain returns, panics
// included.
//
// The identifier is always generated here; inbound headers never choose
// it. Health check paths (starting with /-/) and a non-registrable mode
// skip registration. If registration fails the request proceeds without a
// diagnostic context and Current reports the unavailable context.
func Diagnostics(reg *registry.Registry, mode domain.HandlingMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		if reg == nil || !mode.Registrable() || strings.HasPrefix(c.Request.URL.Path, "/-/") {
			c.Next()
			return
		}

		dc := diagctx.New(mode)

		ctx, h, err := reg.Add(c.Request.Context(), dc)
		if err != nil {
			logging.FromContext(c.Request.Context()).Warn("request diagnostics unavailable",
				slog.String("error", err.Error()),
			)
			c.Next()

			return
		}
		defer h.Release()

		id := dc.RequestID().String()
		ctx = logging.WithDiagnosticID(ctx, id)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextKeyDiagnosticID, id)
		c.Set(ContextKeyDiagnostics, dc)
		c.Header(HeaderDiagnosticID, id)

		started := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			started = append(started, slog.String("trace_id", sc.TraceID().String()))
		}

		dc.Record("request started", started...)

		c.Next()

		dc.Record("request completed", slog.Int("status", c.Writer.Status()))
		logSummary(c, dc)
	}
}

func logSummary(c *gin.Context, dc *diagctx.RequestContext) {
	snap := dc.Snapshot()
	logger := logging.FromContext(c.Request.Context())

	attrs := []any{
		slog.String("mode", snap.Mode),
		slog.Duration("elapsed", snap.Elapsed),
		slog.Int("entries", len(snap.Entries)),
		slog.Int("timings", len(snap.Timings)),
	}

	if snap.HandlingMode != domain.HandlingModeDisplay {
		logger.Debug("request diagnostics", attrs...)
		return
	}

	for _, t := range snap.Timings {
		attrs = append(attrs, slog.Duration("timing."+t.Name, t.Duration))
	}

	logger.Info("request diagnostics", attrs...)
}

// GetDiagnosticID returns the diagnostic identifier of the request, or an
// empty string when no context was registered.
func GetDiagnosticID(c *gin.Context) string {
	return getIDFromContext(c, ContextKeyDiagnosticID)
}

// GetDiagnostics returns the registered diagnostic context of the request.
func GetDiagnostics(c *gin.Context) (*diagctx.RequestContext, bool) {
	v, ok := c.Get(ContextKeyDiagnostics)
	if !ok {
		return nil, false
	}

	dc, ok := v.(*diagctx.RequestContext)

	return dc, ok
}
