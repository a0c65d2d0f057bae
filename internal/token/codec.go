// Package token issues and verifies the signed bearer tokens used by the gate.
//
// Tokens are HMAC-signed JWTs carrying sub, exp, iat and a token_type claim
// of "access" or "refresh". Verification consults the denylist before the
// signature, so a revoked token is rejected even while it is unexpired.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiergate/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is the only error class returned by Verify.
	ErrInvalidToken = errors.New("invalid token")

	// Causes wrapped together with ErrInvalidToken.
	ErrRevoked             = errors.New("token revoked")
	ErrWrongType           = errors.New("unexpected token type")
	ErrMissingSubject      = errors.New("token has no subject")
	ErrDenylistUnavailable = errors.New("denylist unavailable")
)

// Denylist is the revocation store consulted during verification.
type Denylist interface {
	Contains(ctx context.Context, token string) (bool, error)
	Add(ctx context.Context, token string, expiresAt time.Time) error
}

// Claims is the JWT payload.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with a single secret and algorithm.
type Codec struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	denylist   Denylist
	now        func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec builds a codec from the token configuration. The denylist may be
// nil, in which case no revocation check happens.
func NewCodec(cfg models.TokenConfig, denylist Denylist, opts ...Option) (*Codec, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("token secret key is required")
	}
	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm: %s", cfg.Algorithm)
	}

	c := &Codec{
		secret:     []byte(cfg.SecretKey),
		method:     method,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		denylist:   denylist,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token of the given type for subject. A zero ttl selects the
// configured lifetime for the type.
func (c *Codec) Issue(subject, tokenType string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	if ttl <= 0 {
		switch tokenType {
		case models.TokenTypeAccess:
			ttl = c.accessTTL
		case models.TokenTypeRefresh:
			ttl = c.refreshTTL
		default:
			return "", time.Time{}, fmt.Errorf("%w: %q", ErrWrongType, tokenType)
		}
	}

	now := c.now().UTC()
	expiresAt := now.Add(ttl).Truncate(time.Second)
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			// Distinguishes tokens issued to one subject within the same second.
			ID:        models.NewID(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueAccess issues an access token with the configured access TTL.
func (c *Codec) IssueAccess(subject string) (string, time.Time, error) {
	return c.Issue(subject, models.TokenTypeAccess, 0)
}

// IssueRefresh issues a refresh token with the configured refresh TTL.
func (c *Codec) IssueRefresh(subject string) (string, time.Time, error) {
	return c.Issue(subject, models.TokenTypeRefresh, 0)
}

// Verify returns the subject of a valid, unrevoked token of the expected
// type. Every failure wraps ErrInvalidToken; a denylist error is a failure.
func (c *Codec) Verify(ctx context.Context, raw, expectedType string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	if c.denylist != nil {
		revoked, err := c.denylist.Contains(ctx, raw)
		if err != nil {
			return "", fmt.Errorf("%w: %w: %v", ErrInvalidToken, ErrDenylistUnavailable, err)
		}
		if revoked {
			return "", fmt.Errorf("%w: %w", ErrInvalidToken, ErrRevoked)
		}
	}

	claims, err := c.parse(raw, jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != expectedType {
		return "", fmt.Errorf("%w: %w: got %q, want %q", ErrInvalidToken, ErrWrongType, claims.TokenType, expectedType)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, ErrMissingSubject)
	}
	return claims.Subject, nil
}

// ExpiresAt returns the expiry of a correctly signed token, whether or not
// it has already passed.
func (c *Codec) ExpiresAt(raw string) (time.Time, error) {
	claims, err := c.parse(raw, jwt.WithoutClaimsValidation())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: token has no expiry", ErrInvalidToken)
	}
	return claims.ExpiresAt.Time.UTC(), nil
}

// Revoke adds each correctly signed token to the denylist until its expiry.
// Tokens that fail signature checks are reported but do not stop the others.
func (c *Codec) Revoke(ctx context.Context, tokens ...string) error {
	if c.denylist == nil {
		return errors.New("no denylist configured")
	}

	var errs []error
	for _, raw := range tokens {
		if raw == "" {
			continue
		}
		expiresAt, err := c.ExpiresAt(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.denylist.Add(ctx, raw, expiresAt); err != nil {
			errs = append(errs, fmt.Errorf("revoke token: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Codec) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
	)

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
