package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/dto"
	"github.com/jsamuelsen/go-request-registry/internal/platform/logging"
)

// Recovery returns middleware that recovers from panics.
// On panic, it:
//   - Logs the error with full stack trace at ERROR level
//   - Returns a 500 Internal Server Error with standard error envelope
//   - Includes trace_id in the response for debugging
//
// Apply it first in the chain. Middleware that registered a diagnostic
// context releases it while the panic unwinds, before this handler runs.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			stack := debug.Stack()

			ctxLogger, ok := logging.Lookup(c.Request.Context())
			if !ok || ctxLogger == nil {
				ctxLogger = fallbackLogger(c, logger)
			}

			var traceID string
			if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().HasTraceID() {
				traceID = span.SpanContext().TraceID().String()
			}

			ctxLogger.Error("panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(stack)),
				slog.String("path", c.Request.URL.Path),
				slog.String("method", c.Request.Method),
				slog.String("trace_id", traceID),
			)

			errResp := dto.NewErrorResponse(
				dto.ErrorCodeInternal,
				"an internal error occurred",
			)
			if traceID != "" {
				errResp.TraceID = traceID
			}

			// Headers may already be on the wire
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
			} else {
				c.Abort()
			}
		}()

		c.Next()
	}
}
