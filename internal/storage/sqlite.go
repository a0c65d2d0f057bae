package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tiergate/internal/models"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tiers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	username        TEXT NOT NULL UNIQUE,
	email           TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	tier_id         TEXT REFERENCES tiers(id),
	is_superuser    INTEGER NOT NULL DEFAULT 0,
	is_deleted      INTEGER NOT NULL DEFAULT 0,
	deleted_at      INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_limits (
	id         TEXT PRIMARY KEY,
	tier_id    TEXT NOT NULL REFERENCES tiers(id),
	name       TEXT NOT NULL UNIQUE,
	path       TEXT NOT NULL,
	"limit"    INTEGER NOT NULL CHECK ("limit" > 0),
	period     INTEGER NOT NULL CHECK (period > 0),
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_limits_tier_path ON rate_limits (tier_id, path);

CREATE TABLE IF NOT EXISTS token_denylist (
	token_hash TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_token_denylist_expires_at ON token_denylist (expires_at);
`

const sqliteUserColumns = `id, name, username, email, hashed_password, tier_id, is_superuser, is_deleted, deleted_at, created_at, updated_at`

// SQLiteStorage implements Storage on an embedded SQLite database. The schema
// is created on open.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", withBusyTimeout(config.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if strings.Contains(config.ConnectionString, ":memory:") {
		db.SetMaxOpenConns(1)
	} else if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (ss *SQLiteStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return ss.getUser(ctx, "username", username)
}

func (ss *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return ss.getUser(ctx, "email", email)
}

// getUser looks up an active user; column is one of the fixed lookup fields.
func (ss *SQLiteStorage) getUser(ctx context.Context, column, value string) (*models.User, error) {
	query := `SELECT ` + sqliteUserColumns + ` FROM users WHERE ` + column + ` = ? AND is_deleted = 0`

	var row sqliteUserRow
	if err := row.scan(ss.db.QueryRowContext(ctx, query, value)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toModel(), nil
}

func (ss *SQLiteStorage) UserExists(ctx context.Context, field, value string) (bool, error) {
	if err := checkUserField(field); err != nil {
		return false, err
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE ` + field + ` = ?)`
	if err := ss.db.QueryRowContext(ctx, query, value).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", field, err)
	}
	return exists, nil
}

func (ss *SQLiteStorage) CreateUser(ctx context.Context, user *models.User) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO users (`+sqliteUserColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Username, user.Email, user.HashedPassword,
		nullStringToDB(user.TierID), user.IsSuperuser, user.IsDeleted, nullTimeToDB(user.DeletedAt),
		timeToDB(user.CreatedAt), timeToDB(user.UpdatedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Username, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) UpdateUserTier(ctx context.Context, userID, tierID string) error {
	if _, err := ss.GetTier(ctx, tierID); err != nil {
		return fmt.Errorf("tier %s: %w", tierID, err)
	}
	res, err := ss.db.ExecContext(ctx,
		`UPDATE users SET tier_id = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		tierID, timeToDB(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("failed to update user tier: %w", err)
	}
	return expectOneRow(res, "user", userID)
}

func (ss *SQLiteStorage) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	res, err := ss.db.ExecContext(ctx,
		`UPDATE users SET is_deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		timeToDB(at), timeToDB(at), userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectOneRow(res, "user", userID)
}

func (ss *SQLiteStorage) GetTier(ctx context.Context, tierID string) (*models.Tier, error) {
	return ss.getTier(ctx, `SELECT id, name, created_at FROM tiers WHERE id = ?`, tierID)
}

func (ss *SQLiteStorage) GetTierByName(ctx context.Context, name string) (*models.Tier, error) {
	return ss.getTier(ctx, `SELECT id, name, created_at FROM tiers WHERE name = ?`, name)
}

func (ss *SQLiteStorage) getTier(ctx context.Context, query, arg string) (*models.Tier, error) {
	tier, err := scanSQLiteTier(ss.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tier: %w", err)
	}
	return tier, nil
}

func (ss *SQLiteStorage) Tiers(ctx context.Context) ([]*models.Tier, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT id, name, created_at FROM tiers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	tiers := make([]*models.Tier, 0)
	for rows.Next() {
		tier, err := scanSQLiteTier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func (ss *SQLiteStorage) CreateTier(ctx context.Context, tier *models.Tier) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO tiers (id, name, created_at) VALUES (?, ?, ?)`,
		tier.ID, tier.Name, timeToDB(tier.CreatedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("tier %s: %w", tier.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create tier: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) GetRateLimit(ctx context.Context, tierID, path string) (*models.RateLimitRule, error) {
	rule, err := scanSQLiteRule(ss.db.QueryRowContext(ctx,
		`SELECT id, tier_id, name, path, "limit", period, created_at FROM rate_limits
		 WHERE tier_id = ? AND path = ? ORDER BY created_at, id LIMIT 1`,
		tierID, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	return rule, nil
}

func (ss *SQLiteStorage) RateLimits(ctx context.Context, tierID string) ([]*models.RateLimitRule, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT id, tier_id, name, path, "limit", period, created_at FROM rate_limits
		 WHERE tier_id = ? ORDER BY created_at, id`, tierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate limits: %w", err)
	}
	defer rows.Close()

	rules := make([]*models.RateLimitRule, 0)
	for rows.Next() {
		rule, err := scanSQLiteRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate limit: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (ss *SQLiteStorage) CreateRateLimit(ctx context.Context, rule *models.RateLimitRule) error {
	if _, err := ss.GetTier(ctx, rule.TierID); err != nil {
		return fmt.Errorf("tier %s: %w", rule.TierID, err)
	}
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO rate_limits (id, tier_id, name, path, "limit", period, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.TierID, rule.Name, rule.Path, rule.Limit, rule.Period, timeToDB(rule.CreatedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("rate limit %s: %w", rule.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create rate limit: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) GetRateLimitByID(ctx context.Context, ruleID string) (*models.RateLimitRule, error) {
	rule, err := scanSQLiteRule(ss.db.QueryRowContext(ctx,
		`SELECT id, tier_id, name, path, "limit", period, created_at FROM rate_limits WHERE id = ?`,
		ruleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	return rule, nil
}

func (ss *SQLiteStorage) UpdateRateLimit(ctx context.Context, rule *models.RateLimitRule) error {
	res, err := ss.db.ExecContext(ctx,
		`UPDATE rate_limits SET name = ?, path = ?, "limit" = ?, period = ? WHERE id = ?`,
		rule.Name, rule.Path, rule.Limit, rule.Period, rule.ID)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("rate limit %s: %w", rule.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update rate limit: %w", err)
	}
	return expectOneRow(res, "rate limit", rule.ID)
}

func (ss *SQLiteStorage) DeleteRateLimit(ctx context.Context, ruleID string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rate limit: %w", err)
	}
	return expectOneRow(res, "rate limit", ruleID)
}

func (ss *SQLiteStorage) AddDenylistEntry(ctx context.Context, entry *models.DenylistEntry) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO token_denylist (token_hash, expires_at, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (token_hash) DO NOTHING`,
		models.HashToken(entry.Token), timeToDB(entry.ExpiresAt), timeToDB(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add denylist entry: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) DenylistContains(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := ss.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM token_denylist WHERE token_hash = ?)`,
		models.HashToken(token)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check denylist: %w", err)
	}
	return exists, nil
}

func (ss *SQLiteStorage) PruneDenylist(ctx context.Context, before time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM token_denylist WHERE expires_at < ?`, timeToDB(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune denylist: %w", err)
	}
	return res.RowsAffected()
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// withBusyTimeout makes every pooled connection wait for locks instead of
// failing immediately with SQLITE_BUSY.
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	default:
		return false
	}
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
