package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GateMetrics counts gate outcomes. It satisfies gate.Metrics,
// quota.Recorder and ratelimit.StoreErrorRecorder.
type GateMetrics struct {
	decisions     metric.Int64Counter
	quotaBranches metric.Int64Counter
	storeErrors   metric.Int64Counter
	tokenFailures metric.Int64Counter
}

func NewGateMetrics(meter metric.Meter) (*GateMetrics, error) {
	decisions, err := meter.Int64Counter(
		"gate.decisions",
		metric.WithDescription("Gate decisions by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	quotaBranches, err := meter.Int64Counter(
		"quota.resolutions",
		metric.WithDescription("Quota resolutions by fallback branch"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	storeErrors, err := meter.Int64Counter(
		"ratelimit.store.errors",
		metric.WithDescription("Failed rate limit counter increments"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	tokenFailures, err := meter.Int64Counter(
		"token.verification.failures",
		metric.WithDescription("Bearer tokens that failed verification"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return &GateMetrics{
		decisions:     decisions,
		quotaBranches: quotaBranches,
		storeErrors:   storeErrors,
		tokenFailures: tokenFailures,
	}, nil
}

func (m *GateMetrics) RecordDecision(ctx context.Context, outcome string) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *GateMetrics) RecordQuotaBranch(ctx context.Context, branch string) {
	m.quotaBranches.Add(ctx, 1, metric.WithAttributes(attribute.String("branch", branch)))
}

func (m *GateMetrics) RecordStoreError(ctx context.Context) {
	m.storeErrors.Add(ctx, 1)
}

func (m *GateMetrics) RecordTokenFailure(ctx context.Context) {
	m.tokenFailures.Add(ctx, 1)
}
