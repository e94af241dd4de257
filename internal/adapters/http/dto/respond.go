package dto

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/go-request-registry/internal/domain"
	"github.com/jsamuelsen/go-request-registry/internal/platform/logging"
)

// MapDomainError maps a domain error to an HTTP status code and error response.
// Errors wrapped by app.ExecutionError are mapped by their cause.
// Unknown errors are mapped to 500 Internal Server Error with a generic message.
func MapDomainError(err error) (int, *ErrorResponse) {
	if err == nil {
		return http.StatusOK, nil
	}

	var notFound *domain.ContextNotFoundError

	switch {
	case errors.As(err, &notFound):
		// The request's own context was removed under it.
		return http.StatusGone, NewErrorResponse(
			ErrorCodeContextGone,
			notFound.Error(),
		)

	case domain.IsNotFound(err):
		return http.StatusNotFound, NewErrorResponse(
			ErrorCodeNotFound,
			err.Error(),
		)

	case domain.IsConflict(err):
		return http.StatusConflict, NewErrorResponse(
			ErrorCodeConflict,
			err.Error(),
		)

	case domain.IsValidation(err):
		resp := NewErrorResponse(
			ErrorCodeValidation,
			err.Error(),
		)

		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) && validationErr.Field != "" {
			resp.Error.Details = map[string]string{
				validationErr.Field: validationErr.Message,
			}
		}

		return http.StatusBadRequest, resp

	case domain.IsRegistryClosed(err):
		return http.StatusServiceUnavailable, NewErrorResponse(
			ErrorCodeUnavailable,
			"request registry is shutting down",
		)

	default:
		// Unknown errors get a generic message to avoid leaking internals
		return http.StatusInternalServerError, NewErrorResponse(
			ErrorCodeInternal,
			"an internal error occurred",
		)
	}
}

// RespondWithError writes an error response to the gin.Context.
// It maps domain errors to HTTP responses and includes the trace ID if available.
func RespondWithError(c *gin.Context, err error) {
	status, errResp := MapDomainError(err)
	if errResp == nil {
		errResp = NewErrorResponse(ErrorCodeInternal, "an internal error occurred")
		status = http.StatusInternalServerError
	}

	annotate(c, errResp)

	// Log internal errors with full details
	if status == http.StatusInternalServerError {
		logging.FromContext(c.Request.Context()).Error("internal error",
			"error", errString(err),
			"trace_id", errResp.TraceID,
		)
	}

	c.JSON(status, errResp)
}

// RespondWithErrorCode writes an error response with a specific error code.
// Use this for adapter-level errors (e.g., bad request) that don't originate
// from domain errors.
func RespondWithErrorCode(c *gin.Context, code, message string) {
	errResp := NewErrorResponse(code, message)
	annotate(c, errResp)
	c.JSON(HTTPStatusFromCode(code), errResp)
}

// RespondWithValidationErrors writes a 400 response with field-level validation errors.
func RespondWithValidationErrors(c *gin.Context, fieldErrors map[string]string) {
	errResp := NewErrorResponseWithDetails(
		ErrorCodeValidation,
		"request validation failed",
		fieldErrors,
	)
	annotate(c, errResp)

	c.JSON(http.StatusBadRequest, errResp)
}

// RespondWithBindingError writes the response for a failed bind-and-validate.
func RespondWithBindingError(c *gin.Context, err error) {
	if IsValidationError(err) {
		RespondWithValidationErrors(c, ValidationErrors(err))
		return
	}

	RespondWithErrorCode(c, ErrorCodeBadRequest, err.Error())
}

// annotate copies the trace and diagnostic identifiers of the request onto
// the error body.
func annotate(c *gin.Context, resp *ErrorResponse) {
	resp.WithTraceID(traceID(c)).WithDiagnosticID(c.Writer.Header().Get(HeaderDiagnosticID))
}

func traceID(c *gin.Context) string {
	if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}

	return ""
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}

	return err.Error()
}
