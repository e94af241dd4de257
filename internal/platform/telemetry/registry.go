package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jsamuelsen/go-request-registry/internal/app/registry"
)

// RegistryMetrics records registry events as OpenTelemetry instruments. Its
// Observe method is a registry.Observer.
type RegistryMetrics struct {
	events metric.Int64Counter
	active metric.Int64UpDownCounter
}

// NewRegistryMetrics creates the registry instruments on mp, or on the
// global meter provider when mp is nil.
func NewRegistryMetrics(mp metric.MeterProvider) (*RegistryMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	meter := mp.Meter(instrumentationName)

	events, err := meter.Int64Counter(
		"registry.context.events",
		metric.WithDescription("Request context registry events by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating registry event counter: %w", err)
	}

	active, err := meter.Int64UpDownCounter(
		"registry.context.active",
		metric.WithDescription("Number of registered request contexts"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating registry active counter: %w", err)
	}

	return &RegistryMetrics{events: events, active: active}, nil
}

// Observe records ev.
func (m *RegistryMetrics) Observe(ctx context.Context, ev registry.Event) error {
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", ev.Kind.String())))

	switch ev.Kind {
	case registry.EventAdded:
		m.active.Add(ctx, 1)
	case registry.EventRemoved:
		m.active.Add(ctx, -1)
	}

	return nil
}

// Attach subscribes m to both registry events. The returned func detaches it.
func (m *RegistryMetrics) Attach(reg *registry.Registry) func() {
	offAdded := reg.OnAdded(m.Observe)
	offRemoved := reg.OnRemoved(m.Observe)

	return func() {
		offAdded()
		offRemoved()
	}
}

// registryCollector exports registry counters to Prometheus at scrape time.
type registryCollector struct {
	reg *registry.Registry

	active    *prometheus.Desc
	added     *prometheus.Desc
	removed   *prometheus.Desc
	faults    *prometheus.Desc
	reclaimed *prometheus.Desc
}

// NewRegistryCollector returns a prometheus.Collector for reg's counters.
func NewRegistryCollector(reg *registry.Registry) prometheus.Collector {
	const ns = "request_registry"

	return &registryCollector{
		reg: reg,
		active: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "active_contexts"),
			"Number of registered request contexts.", nil, nil),
		added: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "contexts_added_total"),
			"Request contexts registered.", nil, nil),
		removed: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "contexts_removed_total"),
			"Request context entries removed.", nil, nil),
		faults: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "observer_faults_total"),
			"Observer panics and errors contained by the registry.", nil, nil),
		reclaimed: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "reclaimed_total"),
			"Entries reclaimed from handles that were never released.", nil, nil),
	}
}

// RegisterRegistryCollector registers reg's collector with r.
func RegisterRegistryCollector(r prometheus.Registerer, reg *registry.Registry) error {
	if err := r.Register(NewRegistryCollector(reg)); err != nil {
		return fmt.Errorf("registering registry collector: %w", err)
	}

	return nil
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.added
	ch <- c.removed
	ch <- c.faults
	ch <- c.reclaimed
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.reg.Stats()

	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active))
	ch <- prometheus.MustNewConstMetric(c.added, prometheus.CounterValue, float64(s.Added))
	ch <- prometheus.MustNewConstMetric(c.removed, prometheus.CounterValue, float64(s.Removed))
	ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(s.Faults))
	ch <- prometheus.MustNewConstMetric(c.reclaimed, prometheus.CounterValue, float64(s.Reclaimed))
}
