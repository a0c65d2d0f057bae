package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiergate/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tiers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	username        TEXT NOT NULL UNIQUE,
	email           TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	tier_id         TEXT REFERENCES tiers(id),
	is_superuser    BOOLEAN NOT NULL DEFAULT FALSE,
	is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_limits (
	id         TEXT PRIMARY KEY,
	tier_id    TEXT NOT NULL REFERENCES tiers(id),
	name       TEXT NOT NULL UNIQUE,
	path       TEXT NOT NULL,
	"limit"    INTEGER NOT NULL CHECK ("limit" > 0),
	period     INTEGER NOT NULL CHECK (period > 0),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_limits_tier_path ON rate_limits (tier_id, path);

CREATE TABLE IF NOT EXISTS token_denylist (
	token_hash TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_token_denylist_expires_at ON token_denylist (expires_at);
`

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStorage implements the Storage interface using a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and ensures the
// schema exists.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

const pgUserColumns = `id, name, username, email, hashed_password, tier_id, is_superuser, is_deleted, deleted_at, created_at, updated_at`

func (ps *PostgresStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return ps.getUser(ctx, "username", username)
}

func (ps *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return ps.getUser(ctx, "email", email)
}

func (ps *PostgresStorage) getUser(ctx context.Context, column, value string) (*models.User, error) {
	query := `SELECT ` + pgUserColumns + ` FROM users WHERE ` + column + ` = $1 AND NOT is_deleted`
	user, err := scanPostgresUser(ps.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (ps *PostgresStorage) UserExists(ctx context.Context, field, value string) (bool, error) {
	if err := checkUserField(field); err != nil {
		return false, err
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE ` + field + ` = $1)`
	if err := ps.pool.QueryRow(ctx, query, value).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", field, err)
	}
	return exists, nil
}

func (ps *PostgresStorage) CreateUser(ctx context.Context, user *models.User) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO users (`+pgUserColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID, user.Name, user.Username, user.Email, user.HashedPassword,
		user.TierID, user.IsSuperuser, user.IsDeleted, user.DeletedAt, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("user %s: %w", user.Username, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) UpdateUserTier(ctx context.Context, userID, tierID string) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE users SET tier_id = $1, updated_at = $2 WHERE id = $3 AND NOT is_deleted`,
		tierID, time.Now().UTC(), userID)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("tier %s: %w", tierID, ErrNotFound)
		}
		return fmt.Errorf("failed to update user tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE users SET is_deleted = TRUE, deleted_at = $1, updated_at = $1 WHERE id = $2 AND NOT is_deleted`,
		at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) GetTier(ctx context.Context, tierID string) (*models.Tier, error) {
	return ps.getTier(ctx, `SELECT id, name, created_at FROM tiers WHERE id = $1`, tierID)
}

func (ps *PostgresStorage) GetTierByName(ctx context.Context, name string) (*models.Tier, error) {
	return ps.getTier(ctx, `SELECT id, name, created_at FROM tiers WHERE name = $1`, name)
}

func (ps *PostgresStorage) getTier(ctx context.Context, query, arg string) (*models.Tier, error) {
	tier, err := scanPostgresTier(ps.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tier: %w", err)
	}
	return tier, nil
}

func (ps *PostgresStorage) Tiers(ctx context.Context) ([]*models.Tier, error) {
	rows, err := ps.pool.Query(ctx, `SELECT id, name, created_at FROM tiers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	tiers := make([]*models.Tier, 0)
	for rows.Next() {
		tier, err := scanPostgresTier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func (ps *PostgresStorage) CreateTier(ctx context.Context, tier *models.Tier) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO tiers (id, name, created_at) VALUES ($1, $2, $3)`,
		tier.ID, tier.Name, tier.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("tier %s: %w", tier.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create tier: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) GetRateLimit(ctx context.Context, tierID, path string) (*models.RateLimitRule, error) {
	rule, err := scanPostgresRule(ps.pool.QueryRow(ctx,
		`SELECT id, tier_id, name, path, "limit", period, created_at FROM rate_limits
		 WHERE tier_id = $1 AND path = $2 ORDER BY created_at, id LIMIT 1`,
		tierID, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	return rule, nil
}

func (ps *PostgresStorage) RateLimits(ctx context.Context, tierID string) ([]*models.RateLimitRule, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT id, tier_id, name, path, "limit", period, created_at FROM rate_limits
		 WHERE tier_id = $1 ORDER BY created_at, id`, tierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate limits: %w", err)
	}
	defer rows.Close()

	rules := make([]*models.RateLimitRule, 0)
	for rows.Next() {
		rule, err := scanPostgresRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate limit: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (ps *PostgresStorage) CreateRateLimit(ctx context.Context, rule *models.RateLimitRule) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO rate_limits (id, tier_id, name, path, "limit", period, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rule.ID, rule.TierID, rule.Name, rule.Path, rule.Limit, rule.Period, rule.CreatedAt)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("rate limit %s: %w", rule.Name, ErrAlreadyExists)
		case pgForeignKeyViolation:
			return fmt.Errorf("tier %s: %w", rule.TierID, ErrNotFound)
		}
		return fmt.Errorf("failed to create rate limit: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) GetRateLimitByID(ctx context.Context, ruleID string) (*models.RateLimitRule, error) {
	rule, err := scanPostgresRule(ps.pool.QueryRow(ctx,
		`SELECT id, tier_id, name, path, "limit", period, created_at FROM rate_limits WHERE id = $1`,
		ruleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	return rule, nil
}

func (ps *PostgresStorage) UpdateRateLimit(ctx context.Context, rule *models.RateLimitRule) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE rate_limits SET name = $1, path = $2, "limit" = $3, period = $4 WHERE id = $5`,
		rule.Name, rule.Path, rule.Limit, rule.Period, rule.ID)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("rate limit %s: %w", rule.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update rate limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rate limit %s: %w", rule.ID, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) DeleteRateLimit(ctx context.Context, ruleID string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM rate_limits WHERE id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rate limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rate limit %s: %w", ruleID, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) AddDenylistEntry(ctx context.Context, entry *models.DenylistEntry) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO token_denylist (token_hash, expires_at, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (token_hash) DO NOTHING`,
		models.HashToken(entry.Token), entry.ExpiresAt, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add denylist entry: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) DenylistContains(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := ps.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM token_denylist WHERE token_hash = $1)`,
		models.HashToken(token)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check denylist: %w", err)
	}
	return exists, nil
}

func (ps *PostgresStorage) PruneDenylist(ctx context.Context, before time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM token_denylist WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune denylist: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
