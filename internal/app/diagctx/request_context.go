package diagctx

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// Entry is one recorded diagnostic message.
type Entry struct {
	Time    time.Time   `json:"time"`
	Message string      `json:"message"`
	Attrs   []slog.Attr `json:"-"`
}

// Timing is one stopped timer.
type Timing struct {
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Snapshot is a point-in-time copy of a RequestContext.
type Snapshot struct {
	RequestID    domain.RequestID    `json:"requestId"`
	HandlingMode domain.HandlingMode `json:"-"`
	Mode         string              `json:"handlingMode"`
	Started      time.Time           `json:"started"`
	Elapsed      time.Duration       `json:"elapsed"`
	Entries      []Entry             `json:"entries"`
	Timings      []Timing            `json:"timings"`
}

// RequestContext is the active diagnostic context of one request.
// It is safe for concurrent use by every goroutine of the request.
type RequestContext struct {
	id      domain.RequestID
	mode    domain.HandlingMode
	now     func() time.Time
	started time.Time

	mu      sync.Mutex // Protects entries and timings
	entries []Entry
	timings []Timing
}

// Option configures a RequestContext.
type Option func(*RequestContext)

// WithRequestID overrides the generated identifier.
func WithRequestID(id domain.RequestID) Option {
	return func(rc *RequestContext) {
		rc.id = id
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(rc *RequestContext) {
		if now != nil {
			rc.now = now
		}
	}
}

// New creates a RequestContext with a freshly generated UUID v4 identifier.
func New(mode domain.HandlingMode, opts ...Option) *RequestContext {
	rc := &RequestContext{
		id:   uuid.New(),
		mode: mode,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(rc)
	}

	rc.started = rc.now()

	return rc
}

// RequestID returns the request identifier.
func (rc *RequestContext) RequestID() domain.RequestID {
	return rc.id
}

// HandlingMode returns the handling mode.
func (rc *RequestContext) HandlingMode() domain.HandlingMode {
	return rc.mode
}

// Started returns when the context was created.
func (rc *RequestContext) Started() time.Time {
	return rc.started
}

// Record appends a diagnostic message.
func (rc *RequestContext) Record(message string, attrs ...slog.Attr) {
	e := Entry{
		Time:    rc.now(),
		Message: message,
		Attrs:   slices.Clone(attrs),
	}

	rc.mu.Lock()
	rc.entries = append(rc.entries, e)
	rc.mu.Unlock()
}

// StartTimer starts a named timer. The returned func records the timing the
// first time it is called and returns the measured duration every time.
func (rc *RequestContext) StartTimer(name string) func() time.Duration {
	start := rc.now()

	var (
		once    sync.Once
		elapsed time.Duration
	)

	return func() time.Duration {
		once.Do(func() {
			elapsed = rc.now().Sub(start)

			rc.mu.Lock()
			rc.timings = append(rc.timings, Timing{Name: name, Start: start, Duration: elapsed})
			rc.mu.Unlock()
		})

		return elapsed
	}
}

// Entries returns a copy of the recorded messages.
func (rc *RequestContext) Entries() []Entry {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return slices.Clone(rc.entries)
}

// Timings returns a copy of the stopped timers.
func (rc *RequestContext) Timings() []Timing {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return slices.Clone(rc.timings)
}

// Snapshot copies the current state. It remains usable after the context
// has been removed from the registry.
func (rc *RequestContext) Snapshot() Snapshot {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return Snapshot{
		RequestID:    rc.id,
		HandlingMode: rc.mode,
		Mode:         rc.mode.String(),
		Started:      rc.started,
		Elapsed:      rc.now().Sub(rc.started),
		Entries:      slices.Clone(rc.entries),
		Timings:      slices.Clone(rc.timings),
	}
}

var _ domain.DiagnosticContext = (*RequestContext)(nil)
