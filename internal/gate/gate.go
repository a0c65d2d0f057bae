// Package gate runs every request through authentication, quota resolution
// and rate limiting, and reports the outcome as a Decision.
//
// Check is the permissive pass applied to all traffic: authentication is
// optional and any failure downgrades the caller to anonymous. Authorize is
// the strict checkpoint for endpoints that need an identity.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tiergate/internal/identity"
	"tiergate/internal/models"
	"tiergate/internal/quota"
	"tiergate/internal/ratelimit"
)

type Outcome string

const (
	OutcomeAllowed         Outcome = "allowed"
	OutcomeUnauthenticated Outcome = "rejected-unauthenticated"
	OutcomeForbidden       Outcome = "rejected-forbidden"
	OutcomeRateLimited     Outcome = "rejected-rate-limited"
)

// TokenVerifier checks a raw bearer token and returns its subject.
type TokenVerifier interface {
	Verify(ctx context.Context, raw, expectedType string) (string, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, subject string) (*models.User, error)
}

type QuotaResolver interface {
	Resolve(ctx context.Context, user *models.User, path, remoteAddr string) (quota.Quota, error)
}

type RateLimiter interface {
	IsLimited(ctx context.Context, key, path string, limit int, period time.Duration) (bool, ratelimit.Info, error)
}

// Metrics receives one RecordDecision per Check or Authorize and one
// RecordTokenFailure per rejected bearer token.
type Metrics interface {
	RecordDecision(ctx context.Context, outcome string)
	RecordTokenFailure(ctx context.Context)
}

// Request is the part of an inbound request the gate looks at.
type Request struct {
	Authorization string
	Path          string
	RemoteAddr    string
}

// Requirement describes what Authorize demands beyond a valid identity.
type Requirement struct {
	Superuser bool
}

// Decision is the gate's verdict. User and Token are set when the caller
// authenticated.
type Decision struct {
	Outcome    Outcome
	Code       string
	Message    string
	StatusCode int
	User       *models.User
	Token      string
	Quota      quota.Quota
	Info       ratelimit.Info
	// Counted reports whether the request went through the rate limiter,
	// that is whether Quota and Info are meaningful.
	Counted bool

	rejection *Rejection
}

func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}

// Err returns the rejection behind a refused decision, or nil.
func (d Decision) Err() error {
	if d.rejection == nil {
		return nil
	}
	return d.rejection
}

type Option func(*Gate)

// WithBarrier makes Check and Authorize wait until b is open.
func WithBarrier(b *Barrier) Option {
	return func(g *Gate) { g.barrier = b }
}

// WithRateLimiting turns the quota and counter steps on or off. They are on
// by default.
func WithRateLimiting(enabled bool) Option {
	return func(g *Gate) { g.rateLimiting = enabled }
}

func WithMetrics(m Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

type Gate struct {
	verifier     TokenVerifier
	identities   IdentityResolver
	quotas       QuotaResolver
	limiter      RateLimiter
	barrier      *Barrier
	rateLimiting bool
	metrics      Metrics
}

func New(verifier TokenVerifier, identities IdentityResolver, quotas QuotaResolver, limiter RateLimiter, opts ...Option) *Gate {
	g := &Gate{
		verifier:     verifier,
		identities:   identities,
		quotas:       quotas,
		limiter:      limiter,
		rateLimiting: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.quotas == nil || g.limiter == nil {
		g.rateLimiting = false
	}
	return g
}

// Check authenticates the caller if it can, resolves the quota and counts
// the request. The only error is ctx ending while waiting on the barrier;
// every other outcome is expressed in the Decision.
func (g *Gate) Check(ctx context.Context, req Request) (Decision, error) {
	if err := g.wait(ctx); err != nil {
		return Decision{}, err
	}

	var d Decision
	if user, token, rej := g.authenticate(ctx, req.Authorization); rej == nil {
		d.User = user
		d.Token = token
	} else if req.Authorization != "" {
		slog.Debug("treating caller as anonymous", "path", req.Path, "reason", rej.Err)
	}

	if g.rateLimiting {
		q, _ := g.quotas.Resolve(ctx, d.User, req.Path, req.RemoteAddr)
		d.Quota = q

		limited, info, _ := g.limiter.IsLimited(ctx, q.Key, q.Path, q.Limit, q.Period)
		d.Info = info
		d.Counted = true
		if limited {
			slog.Warn("Rate limit exceeded",
				"key", q.Key,
				"path", q.Path,
				"limit", q.Limit,
				"count", info.Count,
			)
			return g.finish(ctx, d.reject(OutcomeRateLimited, newRateLimited())), nil
		}
	}

	return g.finish(ctx, d.allow()), nil
}

// Authorize requires a valid access token for a live user and, when req
// asks for it, superuser rights. It returns the decision and, for refused
// requests, its *Rejection as the error. A persistence fault during the
// user lookup is reported as SERVICE_UNAVAILABLE rather than UNAUTHORIZED.
func (g *Gate) Authorize(ctx context.Context, authorization string, req Requirement) (Decision, error) {
	if err := g.wait(ctx); err != nil {
		return Decision{}, err
	}

	user, token, rej := g.authenticate(ctx, authorization)
	if rej != nil {
		d := g.finish(ctx, Decision{}.reject(OutcomeUnauthenticated, rej))
		return d, d.Err()
	}

	d := Decision{User: user, Token: token}
	if req.Superuser && !user.IsSuperuser {
		slog.Warn("superuser required", "user_id", user.ID)
		d = g.finish(ctx, d.reject(OutcomeForbidden, newForbidden()))
		return d, d.Err()
	}
	return g.finish(ctx, d.allow()), nil
}

func (g *Gate) authenticate(ctx context.Context, authorization string) (*models.User, string, *Rejection) {
	token, ok := BearerToken(authorization)
	if !ok {
		return nil, "", newUnauthenticated("Not authenticated", nil)
	}

	subject, err := g.verifier.Verify(ctx, token, models.TokenTypeAccess)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordTokenFailure(ctx)
		}
		slog.Debug("bearer token rejected", "error", err)
		return nil, "", newUnauthenticated("User not authenticated.", err)
	}

	user, err := g.identities.Resolve(ctx, subject)
	switch {
	case errors.Is(err, identity.ErrUnavailable):
		slog.Error("identity lookup failed", "error", err)
		return nil, "", newUnavailable(err)
	case err != nil:
		return nil, "", newUnauthenticated("User not authenticated.", err)
	}
	return user, token, nil
}

func (g *Gate) wait(ctx context.Context) error {
	if g.barrier == nil {
		return nil
	}
	return g.barrier.Wait(ctx)
}

func (g *Gate) finish(ctx context.Context, d Decision) Decision {
	if g.metrics != nil {
		g.metrics.RecordDecision(ctx, string(d.Outcome))
	}
	return d
}

func (d Decision) allow() Decision {
	d.Outcome = OutcomeAllowed
	d.StatusCode = http.StatusOK
	d.Code = ""
	d.Message = ""
	d.rejection = nil
	return d
}

func (d Decision) reject(outcome Outcome, rej *Rejection) Decision {
	d.Outcome = outcome
	d.Code = rej.Code
	d.Message = rej.Message
	d.StatusCode = rej.StatusCode
	d.rejection = rej
	return d
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(authorization string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
