package diagctx

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// unavailable is the inert context returned when no request is resolvable.
type unavailable struct{}

var unavailableContext domain.DiagnosticContext = unavailable{}

// Unavailable returns the process-wide unavailable context.
func Unavailable() domain.DiagnosticContext {
	return unavailableContext
}

// IsUnavailable reports whether dc is the unavailable context.
func IsUnavailable(dc domain.DiagnosticContext) bool {
	_, ok := dc.(unavailable)
	return ok
}

func (unavailable) RequestID() domain.RequestID { return uuid.Nil }

func (unavailable) HandlingMode() domain.HandlingMode { return domain.HandlingModeOff }

func (unavailable) Record(string, ...slog.Attr) {}

func (unavailable) StartTimer(string) func() time.Duration {
	return func() time.Duration { return 0 }
}
