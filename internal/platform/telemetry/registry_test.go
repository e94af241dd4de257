package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jsamuelsen/go-request-registry/internal/app/diagctx"
	"github.com/jsamuelsen/go-request-registry/internal/app/registry"
	"github.com/jsamuelsen/go-request-registry/internal/app/registry/registrytest"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string][]metricdata.DataPoint[int64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string][]metricdata.DataPoint[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				sums[m.Name] = sum.DataPoints
			}
		}
	}

	return sums
}

func TestRegistryMetrics_Observe(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewRegistryMetrics(mp)
	require.NoError(t, err)

	reg := registrytest.New(t)
	detach := metrics.Attach(reg)

	_, h1, err := reg.Add(context.Background(), diagctx.New(domain.HandlingModeCollect))
	require.NoError(t, err)
	_, h2, err := reg.Add(context.Background(), diagctx.New(domain.HandlingModeDisplay))
	require.NoError(t, err)
	h1.Release()

	sums := collectSums(t, reader)

	require.Len(t, sums["registry.context.active"], 1)
	assert.Equal(t, int64(1), sums["registry.context.active"][0].Value)

	byEvent := make(map[string]int64)
	for _, dp := range sums["registry.context.events"] {
		v, ok := dp.Attributes.Value(attribute.Key("event"))
		require.True(t, ok)
		byEvent[v.AsString()] = dp.Value
	}

	assert.Equal(t, int64(2), byEvent[registry.EventAdded.String()])
	assert.Equal(t, int64(1), byEvent[registry.EventRemoved.String()])

	detach()
	h2.Release()

	sums = collectSums(t, reader)
	assert.Equal(t, int64(1), sums["registry.context.active"][0].Value, "detached metrics stop observing")
}

func TestRegistryMetrics_ActiveReturnsToZeroOnClose(t *testing.T) {
	tests := []struct {
		name     string
		released int
	}{
		{name: "nothing released", released: 0},
		{name: "some released", released: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

			metrics, err := NewRegistryMetrics(mp)
			require.NoError(t, err)

			reg, err := registry.New()
			require.NoError(t, err)
			metrics.Attach(reg)

			handles := make([]*registry.Handle, 5)
			for i := range handles {
				_, handles[i], err = reg.Add(context.Background(), diagctx.New(domain.HandlingModeCollect))
				require.NoError(t, err)
			}

			for _, h := range handles[:tt.released] {
				h.Release()
			}

			require.NoError(t, reg.Close())

			for _, h := range handles[tt.released:] {
				h.Release()
			}

			sums := collectSums(t, reader)
			require.Len(t, sums["registry.context.active"], 1)
			assert.Zero(t, sums["registry.context.active"][0].Value)
		})
	}
}

func TestNewRegistryMetrics_GlobalProvider(t *testing.T) {
	metrics, err := NewRegistryMetrics(nil)
	require.NoError(t, err)

	assert.NoError(t, metrics.Observe(context.Background(), registry.Event{Kind: registry.EventAdded}))
}

func TestRegistryCollector(t *testing.T) {
	reg := registrytest.New(t)

	promReg := prometheus.NewRegistry()
	require.NoError(t, RegisterRegistryCollector(promReg, reg))

	reg.OnAdded(func(context.Context, registry.Event) error {
		panic("observer failure")
	})

	_, h, err := reg.Add(context.Background(), diagctx.New(domain.HandlingModeCollect))
	require.NoError(t, err)

	ch := make(chan prometheus.Metric, 8)
	NewRegistryCollector(reg).Collect(ch)
	close(ch)
	assert.Len(t, ch, 5)

	families, err := promReg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		if g := m.GetGauge(); g != nil {
			values[mf.GetName()] = g.GetValue()
		}
		if c := m.GetCounter(); c != nil {
			values[mf.GetName()] = c.GetValue()
		}
	}

	assert.Equal(t, 1.0, values["request_registry_active_contexts"])
	assert.Equal(t, 1.0, values["request_registry_contexts_added_total"])
	assert.Equal(t, 0.0, values["request_registry_contexts_removed_total"])
	assert.Equal(t, 1.0, values["request_registry_observer_faults_total"])
	assert.Equal(t, 0.0, values["request_registry_reclaimed_total"])

	h.Release()

	assert.Error(t, RegisterRegistryCollector(promReg, reg), "duplicate registration fails")
}
