package registry

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

const (
	defaultShardCount      = 32
	maxShardCount          = 1 << 16
	defaultWarningInterval = time.Minute
	maxRemovalHistory      = 1 << 16
)

// WarningPolicy controls the warning logged when Current finds no request
// on an initialized registry.
type WarningPolicy int

const (
	// WarnAlways logs every fallback to the unavailable context.
	WarnAlways WarningPolicy = iota

	// WarnSampled logs at most once per warning interval.
	WarnSampled

	// WarnDebug logs every fallback at debug level.
	WarnDebug

	// WarnOff never logs the fallback.
	WarnOff
)

// String returns the configuration name of the policy.
func (p WarningPolicy) String() string {
	switch p {
	case WarnAlways:
		return "always"
	case WarnSampled:
		return "sampled"
	case WarnDebug:
		return "debug"
	case WarnOff:
		return "off"
	default:
		return fmt.Sprintf("WarningPolicy(%d)", int(p))
	}
}

// ParseWarningPolicy converts a configuration value to a WarningPolicy.
func ParseWarningPolicy(s string) (WarningPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return WarnAlways, nil
	case "sampled":
		return WarnSampled, nil
	case "debug":
		return WarnDebug, nil
	case "off":
		return WarnOff, nil
	default:
		return WarnAlways, domain.NewValidationErrorWithValue("unavailable_warning", "unknown warning policy", s)
	}
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	shardCount      int
	warning         WarningPolicy
	warningInterval time.Duration
	historySize     int
	reclaim         bool
	now             func() time.Time
}

func defaultOptions() options {
	return options{
		shardCount:      defaultShardCount,
		warning:         WarnAlways,
		warningInterval: defaultWarningInterval,
		now:             time.Now,
	}
}

// WithLogger sets the logger used for anomaly reporting. Without one the
// registry reports nothing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithShardCount sets the number of map shards. n must be a power of two,
// at most 65536. Default 32.
func WithShardCount(n int) Option {
	return func(o *options) {
		o.shardCount = n
	}
}

// WithUnavailableWarning sets the policy for the unavailable-context warning.
func WithUnavailableWarning(p WarningPolicy) Option {
	return func(o *options) {
		o.warning = p
	}
}

// WithWarningInterval sets the minimum gap between sampled warnings.
func WithWarningInterval(d time.Duration) Option {
	return func(o *options) {
		o.warningInterval = d
	}
}

// WithRemovalHistory remembers the last n removed identifiers so that
// ContextNotFoundError can report when the entry went away. 0 disables it.
func WithRemovalHistory(n int) Option {
	return func(o *options) {
		o.historySize = n
	}
}

// WithLeakReclaim attaches a cleanup to every handle that removes the entry
// if the handle is garbage collected without being released. It is a safety
// net only; the collector gives no timing guarantee.
func WithLeakReclaim(enabled bool) Option {
	return func(o *options) {
		o.reclaim = enabled
	}
}

// WithClock sets the time source used for the removal history.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func (o *options) validate() error {
	sc := o.shardCount
	if sc <= 0 || sc > maxShardCount || sc&(sc-1) != 0 {
		return domain.NewValidationErrorWithValue("shard_count",
			fmt.Sprintf("must be a positive power of 2 (max %d)", maxShardCount), sc)
	}

	if o.historySize < 0 || o.historySize > maxRemovalHistory {
		return domain.NewValidationErrorWithValue("removal_history",
			fmt.Sprintf("must be between 0 and %d", maxRemovalHistory), o.historySize)
	}

	if o.warning < WarnAlways || o.warning > WarnOff {
		return domain.NewValidationErrorWithValue("unavailable_warning", "unknown warning policy", o.warning)
	}

	if o.warning == WarnSampled && o.warningInterval <= 0 {
		return domain.NewValidationErrorWithValue("warning_interval", "must be positive", o.warningInterval)
	}

	return nil
}
