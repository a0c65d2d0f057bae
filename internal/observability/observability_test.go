package observability

import (
	"context"
	"testing"

	"tiergate/internal/models"
	"tiergate/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name        string
		metrics     models.MetricsConfig
		tracing     models.TracingConfig
		wantTracing bool
		wantProm    bool
	}{
		{
			name:     "metrics only",
			metrics:  models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
			wantProm: true,
		},
		{
			name:        "stdout tracing only",
			tracing:     models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1.0},
			wantTracing: true,
		},
		{
			name:        "both",
			metrics:     models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
			tracing:     models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.5},
			wantTracing: true,
			wantProm:    true,
		},
		{
			name: "neither",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := models.ObservabilityConfig{ServiceName: "tiergate-test", Tracing: tt.tracing}
			provider, err := Setup(tt.metrics, obs, version.Info{Version: "test"})
			require.NoError(t, err)

			assert.Equal(t, tt.wantTracing, provider.TracingEnabled())
			assert.Equal(t, tt.wantProm, provider.PrometheusExporter() != nil)
			assert.NoError(t, provider.Shutdown(context.Background()))
		})
	}
}

func TestSetup_UnsupportedExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		ServiceName: "tiergate-test",
		Tracing:     models.TracingConfig{Enabled: true, Exporter: "zipkin"},
	}
	_, err := Setup(models.MetricsConfig{}, obs, version.Info{})
	assert.ErrorContains(t, err, "unsupported trace exporter: zipkin")
}

func TestNewSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", newSampler(1.0).Description())
	assert.Equal(t, "AlwaysOffSampler", newSampler(0).Description())
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("TIERGATE_ENVIRONMENT", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "development", getEnvironment())

	t.Setenv("ENVIRONMENT", "staging")
	assert.Equal(t, "staging", getEnvironment())

	t.Setenv("TIERGATE_ENVIRONMENT", "production")
	assert.Equal(t, "production", getEnvironment())
}
