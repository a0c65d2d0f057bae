package observability

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// findFamily returns the first gathered family whose name starts with prefix.
// The exporter appends unit and type suffixes to instrument names.
func findFamily(families []*dto.MetricFamily, prefix string) *dto.MetricFamily {
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), prefix) {
			return mf
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestGateMetrics_PrometheusExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	require.NoError(t, err)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })

	m, err := NewGateMetrics(mp.Meter(ScopeGate))
	require.NoError(t, err)
	ctx := context.Background()
	m.RecordDecision(ctx, "allowed")
	m.RecordDecision(ctx, "allowed")
	m.RecordDecision(ctx, "rejected-rate-limited")
	m.RecordStoreError(ctx)

	families, err := reg.Gather()
	require.NoError(t, err)

	decisions := findFamily(families, "gate_decisions")
	require.NotNil(t, decisions, "gate.decisions is exported")
	assert.Equal(t, dto.MetricType_COUNTER, decisions.GetType())

	byOutcome := map[string]float64{}
	for _, metric := range decisions.GetMetric() {
		byOutcome[labelValue(metric, "outcome")] += metric.GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, byOutcome["allowed"])
	assert.Equal(t, 1.0, byOutcome["rejected-rate-limited"])

	storeErrors := findFamily(families, "ratelimit_store_errors")
	require.NotNil(t, storeErrors)
	require.Len(t, storeErrors.GetMetric(), 1)
	assert.Equal(t, 1.0, storeErrors.GetMetric()[0].GetCounter().GetValue())
}
