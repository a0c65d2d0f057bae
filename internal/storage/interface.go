package storage

import (
	"context"
	"time"

	"tiergate/internal/models"
)

// Storage is the persistence collaborator of the gate: users, tiers, rate
// limit rules and the token denylist. Implementations must be safe for
// concurrent use.
//
// Lookups return ErrNotFound when nothing matches. User lookups never return
// soft-deleted users.
type Storage interface {
	// GetUserByUsername returns the active user with the given username.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// GetUserByEmail returns the active user with the given email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// UserExists reports whether any user, deleted or not, has value in field.
	// Field is models.UserFieldUsername or models.UserFieldEmail.
	UserExists(ctx context.Context, field, value string) (bool, error)

	// CreateUser stores a new user. Duplicate username or email yields ErrAlreadyExists.
	CreateUser(ctx context.Context, user *models.User) error

	// UpdateUserTier assigns a tier to an active user.
	UpdateUserTier(ctx context.Context, userID, tierID string) error

	// SoftDeleteUser flags an active user as deleted.
	SoftDeleteUser(ctx context.Context, userID string, at time.Time) error

	GetTier(ctx context.Context, tierID string) (*models.Tier, error)
	GetTierByName(ctx context.Context, name string) (*models.Tier, error)

	// Tiers returns all tiers ordered by name.
	Tiers(ctx context.Context) ([]*models.Tier, error)

	// CreateTier stores a new tier. A duplicate name yields ErrAlreadyExists.
	CreateTier(ctx context.Context, tier *models.Tier) error

	// GetRateLimit returns the rule for a tier and normalized path. If several
	// rules match, the oldest by creation time then id is returned.
	GetRateLimit(ctx context.Context, tierID, path string) (*models.RateLimitRule, error)

	// RateLimits returns the rules of a tier, oldest first.
	RateLimits(ctx context.Context, tierID string) ([]*models.RateLimitRule, error)

	// CreateRateLimit stores a new rule. A duplicate name yields ErrAlreadyExists.
	CreateRateLimit(ctx context.Context, rule *models.RateLimitRule) error

	GetRateLimitByID(ctx context.Context, ruleID string) (*models.RateLimitRule, error)

	// UpdateRateLimit replaces the name, path, limit and period of an existing
	// rule. The owning tier and creation time never change. Taking another
	// rule's name yields ErrAlreadyExists.
	UpdateRateLimit(ctx context.Context, rule *models.RateLimitRule) error

	DeleteRateLimit(ctx context.Context, ruleID string) error

	// AddDenylistEntry records a revoked token. Adding a token twice is a no-op.
	AddDenylistEntry(ctx context.Context, entry *models.DenylistEntry) error

	// DenylistContains reports whether the raw token has been revoked.
	DenylistContains(ctx context.Context, token string) (bool, error)

	// PruneDenylist deletes entries that expired before the given time and
	// returns how many were removed.
	PruneDenylist(ctx context.Context, before time.Time) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`
}
