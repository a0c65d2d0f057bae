package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"tiergate/internal/models"
	"tiergate/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type telemetry struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

// installTelemetry points the global providers at in-memory recorders for
// the duration of the test.
func installTelemetry(t *testing.T) *telemetry {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader, mp := newManualMeter(t)

	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		tp.Shutdown(context.Background())
	})
	return &telemetry{spans: spans, reader: reader}
}

func (tm *telemetry) span(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range tm.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no span named %s", name)
	return nil
}

func newInstrumented(t *testing.T) (*InstrumentedStorage, *storage.MemoryStorage) {
	t.Helper()
	inner, err := storage.NewMemoryStorage(storage.Config{Type: models.StorageTypeMemory})
	require.NoError(t, err)
	s, err := NewInstrumentedStorage(inner)
	require.NoError(t, err)
	return s, inner
}

func TestInstrumentedStorage_DelegatesAndTraces(t *testing.T) {
	tm := installTelemetry(t)
	s, _ := newInstrumented(t)
	ctx := context.Background()

	tier := models.NewTier("pro")
	require.NoError(t, s.CreateTier(ctx, tier))
	require.NoError(t, s.CreateRateLimit(ctx, models.NewRateLimitRule(tier, "api_v1_tiers", 5, time.Minute)))

	user := models.NewUser("Alice", "alice", "alice@example.com", "hash")
	require.NoError(t, s.CreateUser(ctx, user))
	require.NoError(t, s.UpdateUserTier(ctx, user.ID, tier.ID))

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, tier.ID, *got.TierID)

	_, err = s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	exists, err := s.UserExists(ctx, models.UserFieldUsername, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	byName, err := s.GetTierByName(ctx, "pro")
	require.NoError(t, err)
	byID, err := s.GetTier(ctx, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, byName.ID, byID.ID)
	tiers, err := s.Tiers(ctx)
	require.NoError(t, err)
	assert.Len(t, tiers, 1)

	rule, err := s.GetRateLimit(ctx, tier.ID, "api_v1_tiers")
	require.NoError(t, err)
	assert.Equal(t, 5, rule.Limit)
	rules, err := s.RateLimits(ctx, tier.ID)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	byRuleID, err := s.GetRateLimitByID(ctx, rule.ID)
	require.NoError(t, err)
	byRuleID.Limit = 6
	require.NoError(t, s.UpdateRateLimit(ctx, byRuleID))
	require.NoError(t, s.DeleteRateLimit(ctx, rule.ID))

	require.NoError(t, s.AddDenylistEntry(ctx, models.NewDenylistEntry("tok", time.Now().Add(-time.Minute))))
	denied, err := s.DenylistContains(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, denied)
	pruned, err := s.PruneDenylist(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	require.NoError(t, s.SoftDeleteUser(ctx, user.ID, time.Now()))
	require.NoError(t, s.Ping(ctx))

	span := tm.span(t, "storage.GetRateLimit")
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.String("path", "api_v1_tiers"))
	assert.Len(t, tm.spans.Ended(), 20)

	assert.Zero(t, counterValue(t, tm.reader, "storage.operation.errors"))
}

func TestInstrumentedStorage_NotFoundIsNotAnError(t *testing.T) {
	tm := installTelemetry(t)
	s, _ := newInstrumented(t)

	_, err := s.GetUserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	span := tm.span(t, "storage.GetUserByUsername")
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.Zero(t, counterValue(t, tm.reader, "storage.operation.errors"))
}

func TestInstrumentedStorage_RecordsFailures(t *testing.T) {
	tm := installTelemetry(t)
	s, _ := newInstrumented(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Ping(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	err = s.UpdateUserTier(context.Background(), "missing-user", "missing-tier")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	span := tm.span(t, "storage.Ping")
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, int64(1), counterValue(t, tm.reader, "storage.operation.errors"))
}

func TestInstrumentedStorage_Close(t *testing.T) {
	s, _ := newInstrumented(t)
	assert.NoError(t, s.Close())
}
