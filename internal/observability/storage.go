package observability

import (
	"context"
	"errors"
	"time"

	"tiergate/internal/models"
	"tiergate/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var _ storage.Storage = (*InstrumentedStorage)(nil)

// InstrumentedStorage wraps a storage.Storage with a span, a latency sample
// and, on failure, an error count per call. storage.ErrNotFound is an
// expected answer and is not counted as an error.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer(ScopeStorage)
	meter := otel.Meter(ScopeStorage)

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of failed storage operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span, time.Now()
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrNotFound):
		span.SetAttributes(attribute.Bool("storage.not_found", true))
		span.SetStatus(codes.Ok, "")
	default:
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *InstrumentedStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx, span, start := s.startSpan(ctx, "GetUserByUsername", attribute.String("username", username))
	result, err := s.inner.GetUserByUsername(ctx, username)
	s.record(ctx, span, "GetUserByUsername", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, span, start := s.startSpan(ctx, "GetUserByEmail")
	result, err := s.inner.GetUserByEmail(ctx, email)
	s.record(ctx, span, "GetUserByEmail", start, err)
	return result, err
}

func (s *InstrumentedStorage) UserExists(ctx context.Context, field, value string) (bool, error) {
	ctx, span, start := s.startSpan(ctx, "UserExists", attribute.String("field", field))
	result, err := s.inner.UserExists(ctx, field, value)
	s.record(ctx, span, "UserExists", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateUser(ctx context.Context, user *models.User) error {
	ctx, span, start := s.startSpan(ctx, "CreateUser", attribute.String("user_id", user.ID))
	err := s.inner.CreateUser(ctx, user)
	s.record(ctx, span, "CreateUser", start, err)
	return err
}

func (s *InstrumentedStorage) UpdateUserTier(ctx context.Context, userID, tierID string) error {
	ctx, span, start := s.startSpan(ctx, "UpdateUserTier",
		attribute.String("user_id", userID),
		attribute.String("tier_id", tierID),
	)
	err := s.inner.UpdateUserTier(ctx, userID, tierID)
	s.record(ctx, span, "UpdateUserTier", start, err)
	return err
}

func (s *InstrumentedStorage) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	ctx, span, start := s.startSpan(ctx, "SoftDeleteUser", attribute.String("user_id", userID))
	err := s.inner.SoftDeleteUser(ctx, userID, at)
	s.record(ctx, span, "SoftDeleteUser", start, err)
	return err
}

func (s *InstrumentedStorage) GetTier(ctx context.Context, tierID string) (*models.Tier, error) {
	ctx, span, start := s.startSpan(ctx, "GetTier", attribute.String("tier_id", tierID))
	result, err := s.inner.GetTier(ctx, tierID)
	s.record(ctx, span, "GetTier", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetTierByName(ctx context.Context, name string) (*models.Tier, error) {
	ctx, span, start := s.startSpan(ctx, "GetTierByName", attribute.String("tier_name", name))
	result, err := s.inner.GetTierByName(ctx, name)
	s.record(ctx, span, "GetTierByName", start, err)
	return result, err
}

func (s *InstrumentedStorage) Tiers(ctx context.Context) ([]*models.Tier, error) {
	ctx, span, start := s.startSpan(ctx, "Tiers")
	result, err := s.inner.Tiers(ctx)
	s.record(ctx, span, "Tiers", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateTier(ctx context.Context, tier *models.Tier) error {
	ctx, span, start := s.startSpan(ctx, "CreateTier", attribute.String("tier_name", tier.Name))
	err := s.inner.CreateTier(ctx, tier)
	s.record(ctx, span, "CreateTier", start, err)
	return err
}

func (s *InstrumentedStorage) GetRateLimit(ctx context.Context, tierID, path string) (*models.RateLimitRule, error) {
	ctx, span, start := s.startSpan(ctx, "GetRateLimit",
		attribute.String("tier_id", tierID),
		attribute.String("path", path),
	)
	result, err := s.inner.GetRateLimit(ctx, tierID, path)
	s.record(ctx, span, "GetRateLimit", start, err)
	return result, err
}

func (s *InstrumentedStorage) RateLimits(ctx context.Context, tierID string) ([]*models.RateLimitRule, error) {
	ctx, span, start := s.startSpan(ctx, "RateLimits", attribute.String("tier_id", tierID))
	result, err := s.inner.RateLimits(ctx, tierID)
	s.record(ctx, span, "RateLimits", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateRateLimit(ctx context.Context, rule *models.RateLimitRule) error {
	ctx, span, start := s.startSpan(ctx, "CreateRateLimit",
		attribute.String("tier_id", rule.TierID),
		attribute.String("path", rule.Path),
	)
	err := s.inner.CreateRateLimit(ctx, rule)
	s.record(ctx, span, "CreateRateLimit", start, err)
	return err
}

func (s *InstrumentedStorage) GetRateLimitByID(ctx context.Context, ruleID string) (*models.RateLimitRule, error) {
	ctx, span, start := s.startSpan(ctx, "GetRateLimitByID", attribute.String("rule_id", ruleID))
	result, err := s.inner.GetRateLimitByID(ctx, ruleID)
	s.record(ctx, span, "GetRateLimitByID", start, err)
	return result, err
}

func (s *InstrumentedStorage) UpdateRateLimit(ctx context.Context, rule *models.RateLimitRule) error {
	ctx, span, start := s.startSpan(ctx, "UpdateRateLimit",
		attribute.String("rule_id", rule.ID),
		attribute.String("path", rule.Path),
	)
	err := s.inner.UpdateRateLimit(ctx, rule)
	s.record(ctx, span, "UpdateRateLimit", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteRateLimit(ctx context.Context, ruleID string) error {
	ctx, span, start := s.startSpan(ctx, "DeleteRateLimit", attribute.String("rule_id", ruleID))
	err := s.inner.DeleteRateLimit(ctx, ruleID)
	s.record(ctx, span, "DeleteRateLimit", start, err)
	return err
}

func (s *InstrumentedStorage) AddDenylistEntry(ctx context.Context, entry *models.DenylistEntry) error {
	ctx, span, start := s.startSpan(ctx, "AddDenylistEntry")
	err := s.inner.AddDenylistEntry(ctx, entry)
	s.record(ctx, span, "AddDenylistEntry", start, err)
	return err
}

func (s *InstrumentedStorage) DenylistContains(ctx context.Context, token string) (bool, error) {
	ctx, span, start := s.startSpan(ctx, "DenylistContains")
	result, err := s.inner.DenylistContains(ctx, token)
	s.record(ctx, span, "DenylistContains", start, err)
	return result, err
}

func (s *InstrumentedStorage) PruneDenylist(ctx context.Context, before time.Time) (int64, error) {
	ctx, span, start := s.startSpan(ctx, "PruneDenylist")
	result, err := s.inner.PruneDenylist(ctx, before)
	span.SetAttributes(attribute.Int64("denylist.pruned", result))
	s.record(ctx, span, "PruneDenylist", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span, start := s.startSpan(ctx, "Ping")
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
