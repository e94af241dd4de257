// Package dto provides Data Transfer Objects for HTTP request/response handling.
package dto

import "net/http"

// HeaderDiagnosticID is the response header naming the request's diagnostic
// context. Error bodies repeat it so a failed call can be looked up under
// /-/registry/contexts while it is still in flight.
const HeaderDiagnosticID = "X-Diagnostic-ID"

// ErrorResponse is the error envelope of every non-2xx response.
type ErrorResponse struct {
	Error        ErrorDetail `json:"error"`
	TraceID      string      `json:"traceId,omitempty"`
	DiagnosticID string      `json:"diagnosticId,omitempty"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	// Code is one of the ErrorCode constants.
	Code    string `json:"code"`
	Message string `json:"message"`

	// Details holds field-level messages for validation errors.
	Details map[string]string `json:"details,omitempty"`
}

// Error codes.
const (
	ErrorCodeNotFound   = "NOT_FOUND"
	ErrorCodeConflict   = "CONFLICT"
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeBadRequest = "BAD_REQUEST"

	// ErrorCodeContextGone means the request's own diagnostic context was
	// removed while the request still used it.
	ErrorCodeContextGone = "CONTEXT_GONE"

	// ErrorCodeUnavailable is returned while the registry shuts down.
	ErrorCodeUnavailable = "SERVICE_UNAVAILABLE"

	ErrorCodeTimeout  = "TIMEOUT"
	ErrorCodeInternal = "INTERNAL_ERROR"
)

var codeStatus = map[string]int{
	ErrorCodeNotFound:    http.StatusNotFound,
	ErrorCodeConflict:    http.StatusConflict,
	ErrorCodeValidation:  http.StatusBadRequest,
	ErrorCodeBadRequest:  http.StatusBadRequest,
	ErrorCodeContextGone: http.StatusGone,
	ErrorCodeUnavailable: http.StatusServiceUnavailable,
	ErrorCodeTimeout:     http.StatusGatewayTimeout,
	ErrorCodeInternal:    http.StatusInternalServerError,
}

// NewErrorResponse creates a new error response with the given code and message.
func NewErrorResponse(code, message string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	}
}

// NewErrorResponseWithDetails creates an error response with field details.
func NewErrorResponseWithDetails(code, message string, details map[string]string) *ErrorResponse {
	resp := NewErrorResponse(code, message)
	resp.Error.Details = details

	return resp
}

// WithTraceID sets the trace ID and returns e.
func (e *ErrorResponse) WithTraceID(traceID string) *ErrorResponse {
	e.TraceID = traceID
	return e
}

// WithDiagnosticID sets the diagnostic context ID and returns e.
func (e *ErrorResponse) WithDiagnosticID(id string) *ErrorResponse {
	e.DiagnosticID = id
	return e
}

// HTTPStatusFromCode maps an error code to its HTTP status. Unknown codes
// map to 500.
func HTTPStatusFromCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}

	return http.StatusInternalServerError
}
