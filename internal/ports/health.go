package ports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single health check when the caller's
// context carries no earlier deadline.
const DefaultCheckTimeout = 2 * time.Second

// ErrDuplicateChecker is returned when attempting to register a health checker
// with a name that is already registered.
var ErrDuplicateChecker = errors.New("duplicate health checker")

// HealthChecker is implemented by components that can report their health.
// The request registry and its observers register at startup.
type HealthChecker interface {
	// Name returns a unique identifier for this health check.
	Name() string

	// Check returns nil when the component is healthy. It should return
	// promptly once ctx is done.
	Check(ctx context.Context) error
}

// HealthRegistry aggregates health checks from multiple components.
type HealthRegistry interface {
	// Register adds a health checker. Returns ErrDuplicateChecker if the
	// name is taken.
	Register(checker HealthChecker, opts ...CheckOption) error

	// CheckAll runs every registered check concurrently and aggregates the
	// results.
	CheckAll(ctx context.Context) *HealthResult
}

// HealthStatus represents a health state.
type HealthStatus string

const (
	// HealthStatusHealthy indicates all checks passed.
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusDegraded indicates only non-critical checks failed. The
	// service keeps receiving traffic.
	HealthStatusDegraded HealthStatus = "degraded"

	// HealthStatusUnhealthy indicates a critical check failed.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResult contains the aggregated health check results.
type HealthResult struct {
	Status    HealthStatus            `json:"status"`
	Checks    map[string]*CheckResult `json:"checks"`
	Timestamp time.Time               `json:"timestamp"`
}

// Failing returns the names of the checks that did not pass, sorted.
func (r *HealthResult) Failing() []string {
	var names []string
	for name, c := range r.Checks {
		if c.Status != HealthStatusHealthy {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}

// CheckResult contains the result of a single health check.
type CheckResult struct {
	// Status is unhealthy for a failing critical check and degraded for a
	// failing non-critical one.
	Status HealthStatus `json:"status"`

	// Message is the check's error, if any.
	Message string `json:"message,omitempty"`

	// Critical reports whether a failure makes the service unhealthy.
	Critical bool `json:"critical"`

	Duration time.Duration `json:"duration"`
}

// CheckOption configures a single registered check.
type CheckOption func(*registeredCheck)

// NonCritical marks a check whose failure degrades the service without
// taking it out of rotation.
func NonCritical() CheckOption {
	return func(c *registeredCheck) {
		c.critical = false
	}
}

// Option configures a DefaultHealthRegistry.
type Option func(*DefaultHealthRegistry)

// WithCheckTimeout bounds each check. Zero or negative values keep
// DefaultCheckTimeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(r *DefaultHealthRegistry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

type registeredCheck struct {
	checker  HealthChecker
	critical bool
}

// DefaultHealthRegistry is a thread-safe implementation of HealthRegistry.
type DefaultHealthRegistry struct {
	mu      sync.RWMutex
	checks  []registeredCheck
	timeout time.Duration
}

// NewHealthRegistry creates a new health registry.
func NewHealthRegistry(opts ...Option) *DefaultHealthRegistry {
	r := &DefaultHealthRegistry{timeout: DefaultCheckTimeout}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a health checker. Checks are critical unless NonCritical
// is passed.
func (r *DefaultHealthRegistry) Register(checker HealthChecker, opts ...CheckOption) error {
	rc := registeredCheck{checker: checker, critical: true}
	for _, opt := range opts {
		opt(&rc)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := checker.Name()
	for _, c := range r.checks {
		if c.checker.Name() == name {
			return fmt.Errorf("%w: %s", ErrDuplicateChecker, name)
		}
	}

	r.checks = append(r.checks, rc)

	return nil
}

// CheckAll runs all registered health checks concurrently. A check that
// panics is reported as failed.
func (r *DefaultHealthRegistry) CheckAll(ctx context.Context) *HealthResult {
	r.mu.RLock()
	checks := make([]registeredCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	result := &HealthResult{
		Status:    HealthStatusHealthy,
		Checks:    make(map[string]*CheckResult, len(checks)),
		Timestamp: time.Now(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, rc := range checks {
		wg.Go(func() {
			cr := r.run(ctx, rc)

			mu.Lock()
			defer mu.Unlock()

			result.Checks[rc.checker.Name()] = cr
			result.Status = worse(result.Status, cr.Status)
		})
	}

	wg.Wait()

	return result
}

func (r *DefaultHealthRegistry) run(ctx context.Context, rc registeredCheck) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := safeCheck(ctx, rc.checker)

	cr := &CheckResult{
		Status:   HealthStatusHealthy,
		Critical: rc.critical,
		Duration: time.Since(start),
	}

	if err != nil {
		cr.Message = err.Error()
		cr.Status = HealthStatusUnhealthy
		if !rc.critical {
			cr.Status = HealthStatusDegraded
		}
	}

	return cr
}

func safeCheck(ctx context.Context, c HealthChecker) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("health check panicked: %v", p)
		}
	}()

	return c.Check(ctx)
}

func worse(a, b HealthStatus) HealthStatus {
	rank := func(s HealthStatus) int {
		switch s {
		case HealthStatusUnhealthy:
			return 2
		case HealthStatusDegraded:
			return 1
		default:
			return 0
		}
	}

	if rank(b) > rank(a) {
		return b
	}

	return a
}
