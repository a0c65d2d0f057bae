package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tiergate/internal/denylist"
	"tiergate/internal/identity"
	"tiergate/internal/models"
	"tiergate/internal/quota"
	"tiergate/internal/ratelimit"
	"tiergate/internal/storage"
	"tiergate/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu            sync.Mutex
	outcomes      []string
	tokenFailures int
}

func (m *recordingMetrics) RecordDecision(ctx context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordTokenFailure(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenFailures++
}

type harness struct {
	store   *storage.MemoryStorage
	codec   *token.Codec
	gate    *Gate
	metrics *recordingMetrics
	alice   *models.User
	admin   *models.User
	pro     *models.Tier
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	identities IdentityResolver
	opts       []Option
}

func withIdentities(r IdentityResolver) harnessOption {
	return func(c *harnessConfig) { c.identities = r }
}

func withGateOptions(opts ...Option) harnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	codec, err := token.NewCodec(models.TokenConfig{
		SecretKey:       "gate-test-secret",
		Algorithm:       models.AlgorithmHS256,
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}, denylist.NewStorageStore(store))
	require.NoError(t, err)

	pro := models.NewTier("pro")
	require.NoError(t, store.CreateTier(ctx, pro))
	require.NoError(t, store.CreateRateLimit(ctx, models.NewRateLimitRule(pro, "api_v1_tiers", 10, time.Hour)))

	alice := models.NewUser("Alice", "alice", "alice@example.com", "x")
	alice.TierID = &pro.ID
	require.NoError(t, store.CreateUser(ctx, alice))
	admin := models.NewUser("Admin", "admin", "admin@example.com", "x")
	admin.IsSuperuser = true
	require.NoError(t, store.CreateUser(ctx, admin))

	cfg := harnessConfig{identities: identity.NewResolver(store)}
	for _, o := range options {
		o(&cfg)
	}

	counter := ratelimit.NewMemoryCounter(0)
	t.Cleanup(func() { counter.Close() })

	metrics := &recordingMetrics{}
	quotas := quota.NewResolver(store, quota.NewNormalizer("/api/v1/user/{username}"), 3, time.Hour)
	g := New(codec, cfg.identities, quotas, ratelimit.NewLimiter(counter),
		append([]Option{WithMetrics(metrics)}, cfg.opts...)...)

	return &harness{store: store, codec: codec, gate: g, metrics: metrics, alice: alice, admin: admin, pro: pro}
}

func (h *harness) bearer(t *testing.T, subject string) (string, string) {
	t.Helper()
	raw, _, err := h.codec.IssueAccess(subject)
	require.NoError(t, err)
	return raw, "Bearer " + raw
}

func TestCheck_AnonymousKeyedByAddress(t *testing.T) {
	h := newHarness(t)

	d, err := h.gate.Check(context.Background(), Request{Path: "/api/v1/tiers", RemoteAddr: "203.0.113.5:4000"})
	require.NoError(t, err)

	assert.True(t, d.Allowed())
	assert.Nil(t, d.User)
	assert.True(t, d.Counted)
	assert.Equal(t, quota.BranchAnonymous, d.Quota.Branch)
	assert.Equal(t, "203.0.113.5", d.Quota.Key)
	assert.Equal(t, 3, d.Info.Limit)
	assert.NoError(t, d.Err())
}

func TestCheck_AnonymousLimitIsSharedPerAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := Request{Path: "/api/v1/tiers", RemoteAddr: "203.0.113.5:4000"}

	for i := 0; i < 3; i++ {
		d, err := h.gate.Check(ctx, req)
		require.NoError(t, err)
		require.True(t, d.Allowed())
	}

	d, err := h.gate.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, d.Outcome)

	other, err := h.gate.Check(ctx, Request{Path: "/api/v1/tiers", RemoteAddr: "203.0.113.6:4000"})
	require.NoError(t, err)
	assert.True(t, other.Allowed())
}

func TestCheck_TierRuleLimitsAuthenticatedUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, auth := h.bearer(t, "alice")
	req := Request{Authorization: auth, Path: "/api/v1/tiers", RemoteAddr: "198.51.100.1:1"}

	for i := 1; i <= 10; i++ {
		d, err := h.gate.Check(ctx, req)
		require.NoError(t, err)
		require.True(t, d.Allowed(), "request %d", i)
		assert.Equal(t, h.alice.ID, d.User.ID)
		assert.Equal(t, quota.BranchTierRule, d.Quota.Branch)
	}

	d, err := h.gate.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, d.Outcome)
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, d.Code)
	assert.Equal(t, 429, d.StatusCode)
	assert.Equal(t, 0, d.Info.Remaining)
	assert.ErrorIs(t, d.Err(), ErrRateLimited)

	var rej *Rejection
	require.ErrorAs(t, d.Err(), &rej)
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, rej.Code)
}

func TestCheck_InvalidCredentialsFallBackToAnonymous(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, bobAuth := h.bearer(t, "bob")

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing", ""},
		{"basic scheme", "Basic YWxpY2U6cHc="},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
		{"unknown subject", bobAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := h.gate.Check(ctx, Request{Authorization: tt.authorization, Path: "/api/v1/user/me", RemoteAddr: "10.1.1.1:1"})
			require.NoError(t, err)
			assert.True(t, d.Allowed())
			assert.Nil(t, d.User)
			assert.Equal(t, quota.BranchAnonymous, d.Quota.Branch)
		})
	}
}

func TestCheck_LowercaseBearerScheme(t *testing.T) {
	h := newHarness(t)
	raw, _ := h.bearer(t, "alice@example.com")

	d, err := h.gate.Check(context.Background(), Request{Authorization: "bearer " + raw, Path: "/"})
	require.NoError(t, err)
	require.NotNil(t, d.User)
	assert.Equal(t, "alice", d.User.Username)
	assert.Equal(t, raw, d.Token)
}

func TestLogoutDenylistsBothTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	access, auth := h.bearer(t, "alice")
	refresh, _, err := h.codec.IssueRefresh("alice")
	require.NoError(t, err)

	d, err := h.gate.Authorize(ctx, auth, Requirement{})
	require.NoError(t, err)
	require.True(t, d.Allowed())

	require.NoError(t, h.codec.Revoke(ctx, access, refresh))

	d, err = h.gate.Authorize(ctx, auth, Requirement{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
	assert.Equal(t, OutcomeUnauthenticated, d.Outcome)
	assert.Equal(t, 401, d.StatusCode)

	_, err = h.codec.Verify(ctx, refresh, models.TokenTypeRefresh)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	d, err = h.gate.Check(ctx, Request{Authorization: auth, Path: "/api/v1/tiers"})
	require.NoError(t, err)
	assert.Nil(t, d.User, "revoked token is treated as anonymous")
	assert.GreaterOrEqual(t, h.metrics.tokenFailures, 2)
}

func TestAuthorize_RefreshTokenIsNotAnAccessToken(t *testing.T) {
	h := newHarness(t)
	refresh, _, err := h.codec.IssueRefresh("alice")
	require.NoError(t, err)

	_, err = h.gate.Authorize(context.Background(), "Bearer "+refresh, Requirement{})
	assert.ErrorIs(t, err, token.ErrWrongType)
}

func TestAuthorize_DeletedUser(t *testing.T) {
	h := newHarness(t)
	_, auth := h.bearer(t, "alice")
	require.NoError(t, h.store.SoftDeleteUser(context.Background(), h.alice.ID, time.Now()))

	d, err := h.gate.Authorize(context.Background(), auth, Requirement{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, identity.ErrNotFound)
	assert.Equal(t, models.ErrorCodeUnauthorized, d.Code)
}

func TestAuthorize_Superuser(t *testing.T) {
	h := newHarness(t)
	_, aliceAuth := h.bearer(t, "alice")
	_, adminAuth := h.bearer(t, "admin")

	d, err := h.gate.Authorize(context.Background(), aliceAuth, Requirement{Superuser: true})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, OutcomeForbidden, d.Outcome)
	assert.Equal(t, 403, d.StatusCode)
	assert.Equal(t, h.alice.ID, d.User.ID)

	d, err = h.gate.Authorize(context.Background(), adminAuth, Requirement{Superuser: true})
	require.NoError(t, err)
	assert.True(t, d.Allowed())
}

type unavailableIdentities struct{}

func (unavailableIdentities) Resolve(ctx context.Context, subject string) (*models.User, error) {
	return nil, fmt.Errorf("%w: %w", identity.ErrUnavailable, errors.New("db down"))
}

func TestPersistenceFailure(t *testing.T) {
	h := newHarness(t, withIdentities(unavailableIdentities{}))
	_, auth := h.bearer(t, "alice")

	d, err := h.gate.Authorize(context.Background(), auth, Requirement{})
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.Equal(t, models.ErrorCodeServiceUnavailable, d.Code)
	assert.Equal(t, 503, d.StatusCode)
	assert.Equal(t, OutcomeUnauthenticated, d.Outcome)

	d, err = h.gate.Check(context.Background(), Request{Authorization: auth, Path: "/"})
	require.NoError(t, err)
	assert.True(t, d.Allowed())
	assert.Nil(t, d.User)
}

func TestCheck_RateLimitingDisabled(t *testing.T) {
	h := newHarness(t, withGateOptions(WithRateLimiting(false)))

	for i := 0; i < 5; i++ {
		d, err := h.gate.Check(context.Background(), Request{Path: "/api/v1/tiers", RemoteAddr: "1.2.3.4:5"})
		require.NoError(t, err)
		assert.True(t, d.Allowed())
		assert.False(t, d.Counted)
	}
}

func TestBarrier(t *testing.T) {
	b := NewBarrier()
	h := newHarness(t, withGateOptions(WithBarrier(b)))
	assert.False(t, b.Ready())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.gate.Check(ctx, Request{Path: "/"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = h.gate.Authorize(ctx, "", Requirement{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan Decision, 1)
	go func() {
		d, err := h.gate.Check(context.Background(), Request{Path: "/"})
		if err == nil {
			done <- d
		}
	}()

	b.Open()
	b.Open()
	assert.True(t, b.Ready())

	select {
	case d := <-done:
		assert.True(t, d.Allowed())
	case <-time.After(time.Second):
		t.Fatal("Check did not return after the barrier opened")
	}
}

func TestMetricsRecordEveryDecision(t *testing.T) {
	h := newHarness(t)
	_, aliceAuth := h.bearer(t, "alice")

	_, _ = h.gate.Check(context.Background(), Request{Path: "/"})
	_, _ = h.gate.Authorize(context.Background(), "", Requirement{})
	_, _ = h.gate.Authorize(context.Background(), aliceAuth, Requirement{Superuser: true})

	assert.Equal(t, []string{"allowed", "rejected-unauthenticated", "rejected-forbidden"}, h.metrics.outcomes)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"BEARER  abc ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := BearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRejectionError(t *testing.T) {
	rej := newUnauthenticated("User not authenticated.", errors.New("bad signature"))
	assert.Equal(t, "User not authenticated.: invalid credentials: bad signature", rej.Error())
	assert.ErrorIs(t, rej, ErrInvalidCredentials)

	assert.Equal(t, "You do not have enough privileges.: insufficient privileges", newForbidden().Error())
	assert.Equal(t, "plain", (&Rejection{Message: "plain"}).Error())
}
