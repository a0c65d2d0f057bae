// Package quota decides which limit applies to a request: the rule of the
// caller's tier for the normalized path, or the configured default.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"tiergate/internal/models"
	"tiergate/internal/storage"
)

// Branch names the path through the fallback chain that produced a quota.
type Branch string

const (
	BranchAnonymous   Branch = "anonymous"
	BranchNoTier      Branch = "no_tier"
	BranchNoRule      Branch = "no_rule"
	BranchTierRule    Branch = "tier_rule"
	BranchTierMissing Branch = "tier_missing"
	BranchDegraded    Branch = "degraded"
)

// UnknownClient keys anonymous callers whose address is not known.
const UnknownClient = "unknown"

// Quota is the limit that applies to one request.
type Quota struct {
	Limit  int
	Period time.Duration
	// Key identifies the caller: user id, or client address when anonymous.
	Key    string
	Path   string
	Branch Branch
	// Tier is set whenever the caller's tier record was found.
	Tier *models.Tier
}

// Store is the read side of storage.Storage used for tier and rule lookups.
type Store interface {
	GetTier(ctx context.Context, tierID string) (*models.Tier, error)
	GetRateLimit(ctx context.Context, tierID, path string) (*models.RateLimitRule, error)
}

// Recorder receives one call per resolution.
type Recorder interface {
	RecordQuotaBranch(ctx context.Context, branch string)
}

type Option func(*Resolver)

func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// Resolver walks the fallback chain anonymous -> no tier -> tier missing ->
// no rule -> tier rule. Lookup failures never block a request: they fall
// back to the default quota on the degraded branch.
type Resolver struct {
	store         Store
	normalizer    *Normalizer
	defaultLimit  int
	defaultPeriod time.Duration
	recorder      Recorder
}

func NewResolver(store Store, normalizer *Normalizer, defaultLimit int, defaultPeriod time.Duration, opts ...Option) *Resolver {
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	r := &Resolver{
		store:         store,
		normalizer:    normalizer,
		defaultLimit:  defaultLimit,
		defaultPeriod: defaultPeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Normalizer() *Normalizer {
	return r.normalizer
}

// Resolve returns the quota for user (nil when anonymous) on path. The
// returned error is informational only: it is set on the degraded branch
// and the quota is always usable.
func (r *Resolver) Resolve(ctx context.Context, user *models.User, path, remoteAddr string) (Quota, error) {
	q, err := r.resolve(ctx, user, r.normalizer.Normalize(path), remoteAddr)
	r.log(q, err)
	if r.recorder != nil {
		r.recorder.RecordQuotaBranch(ctx, string(q.Branch))
	}
	return q, err
}

func (r *Resolver) resolve(ctx context.Context, user *models.User, path, remoteAddr string) (Quota, error) {
	q := Quota{
		Limit:  r.defaultLimit,
		Period: r.defaultPeriod,
		Path:   path,
	}

	if user == nil {
		q.Key = ClientKey(remoteAddr)
		q.Branch = BranchAnonymous
		return q, nil
	}

	q.Key = user.ID
	if !user.HasTier() {
		q.Branch = BranchNoTier
		return q, nil
	}

	tier, err := r.store.GetTier(ctx, *user.TierID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		q.Branch = BranchTierMissing
		return q, nil
	case err != nil:
		q.Branch = BranchDegraded
		return q, fmt.Errorf("tier lookup: %w", err)
	}
	q.Tier = tier

	rule, err := r.store.GetRateLimit(ctx, tier.ID, path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		q.Branch = BranchNoRule
		return q, nil
	case err != nil:
		q.Branch = BranchDegraded
		return q, fmt.Errorf("rate limit lookup: %w", err)
	}

	q.Limit = rule.Limit
	q.Period = rule.PeriodDuration()
	q.Branch = BranchTierRule
	return q, nil
}

func (r *Resolver) log(q Quota, err error) {
	attrs := []any{"branch", q.Branch, "key", q.Key, "path", q.Path, "limit", q.Limit, "period", q.Period}
	switch q.Branch {
	case BranchAnonymous, BranchTierRule:
		slog.Debug("quota resolved", attrs...)
	case BranchDegraded:
		slog.Warn("quota lookup failed, using default", append(attrs, "error", err)...)
	default:
		slog.Warn("no tier rule, using default quota", attrs...)
	}
}

// ClientKey reduces a network address to its host part. Addresses without a
// port are used as given.
func ClientKey(remoteAddr string) string {
	addr := strings.TrimSpace(remoteAddr)
	if addr == "" {
		return UnknownClient
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return strings.Trim(addr, "[]")
}
