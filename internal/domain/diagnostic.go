package domain

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestID is the opaque 128-bit identifier correlating one request to its
// diagnostic context. It carries identity only.
type RequestID = uuid.UUID

// ParseRequestID parses the string form of a request identifier. The nil
// UUID is rejected because no context can be registered under it.
func ParseRequestID(s string) (RequestID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RequestID{}, NewValidationErrorWithValue("request_id", "not a valid UUID", s)
	}

	if id == uuid.Nil {
		return RequestID{}, NewValidationError("request_id", "request identifier is nil")
	}

	return id, nil
}

// HandlingMode tells collaborators what to do with a request's diagnostics.
type HandlingMode int

const (
	// HandlingModeOff means diagnostics are not collected. Only the
	// unavailable context reports it.
	HandlingModeOff HandlingMode = iota

	// HandlingModeCollect records diagnostics for later inspection.
	HandlingModeCollect

	// HandlingModeDisplay records diagnostics and exposes them to the client.
	HandlingModeDisplay
)

// String returns the configuration name of the mode.
func (m HandlingMode) String() string {
	switch m {
	case HandlingModeOff:
		return "off"
	case HandlingModeCollect:
		return "collect"
	case HandlingModeDisplay:
		return "display"
	default:
		return fmt.Sprintf("HandlingMode(%d)", int(m))
	}
}

// Registrable reports whether a context in this mode may be registered.
func (m HandlingMode) Registrable() bool {
	return m == HandlingModeCollect || m == HandlingModeDisplay
}

// ParseHandlingMode converts a configuration value to a HandlingMode.
func ParseHandlingMode(s string) (HandlingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return HandlingModeOff, nil
	case "collect":
		return HandlingModeCollect, nil
	case "display":
		return HandlingModeDisplay, nil
	default:
		return HandlingModeOff, NewValidationErrorWithValue("handling_mode", "unknown handling mode", s)
	}
}

// DiagnosticContext is the per-request diagnostic object kept by the registry.
// The registry only reads RequestID and HandlingMode; the recording methods
// exist so call sites can use whatever Current returns without a nil check.
type DiagnosticContext interface {
	// RequestID returns the identifier the context was created with.
	RequestID() RequestID

	// HandlingMode returns how the request's diagnostics are handled.
	HandlingMode() HandlingMode

	// Record appends a diagnostic message.
	Record(message string, attrs ...slog.Attr)

	// StartTimer starts a named timer; calling the returned func stops it.
	StartTimer(name string) (stop func() time.Duration)
}
