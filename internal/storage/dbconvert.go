package storage

import (
	"database/sql"
	"time"

	"tiergate/internal/models"
)

// SQLite stores timestamps as Unix microseconds in INTEGER columns so that
// ordering and range deletes work on plain integers.

func timeToDB(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func timeFromDB(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullTimeToDB(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: timeToDB(*t), Valid: true}
}

func nullTimeFromDB(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := timeFromDB(v.Int64)
	return &t
}

func nullStringToDB(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullStringFromDB(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqliteUserRow mirrors the users table as stored by SQLite.
type sqliteUserRow struct {
	ID             string
	Name           string
	Username       string
	Email          string
	HashedPassword string
	TierID         sql.NullString
	IsSuperuser    bool
	IsDeleted      bool
	DeletedAt      sql.NullInt64
	CreatedAt      int64
	UpdatedAt      int64
}

func (r *sqliteUserRow) scan(s rowScanner) error {
	return s.Scan(&r.ID, &r.Name, &r.Username, &r.Email, &r.HashedPassword,
		&r.TierID, &r.IsSuperuser, &r.IsDeleted, &r.DeletedAt, &r.CreatedAt, &r.UpdatedAt)
}

func (r *sqliteUserRow) toModel() *models.User {
	return &models.User{
		ID:             r.ID,
		Name:           r.Name,
		Username:       r.Username,
		Email:          r.Email,
		HashedPassword: r.HashedPassword,
		TierID:         nullStringFromDB(r.TierID),
		IsSuperuser:    r.IsSuperuser,
		IsDeleted:      r.IsDeleted,
		DeletedAt:      nullTimeFromDB(r.DeletedAt),
		CreatedAt:      timeFromDB(r.CreatedAt),
		UpdatedAt:      timeFromDB(r.UpdatedAt),
	}
}

func scanSQLiteTier(s rowScanner) (*models.Tier, error) {
	var (
		t         models.Tier
		createdAt int64
	)
	if err := s.Scan(&t.ID, &t.Name, &createdAt); err != nil {
		return nil, err
	}
	t.CreatedAt = timeFromDB(createdAt)
	return &t, nil
}

func scanSQLiteRule(s rowScanner) (*models.RateLimitRule, error) {
	var (
		r         models.RateLimitRule
		createdAt int64
	)
	if err := s.Scan(&r.ID, &r.TierID, &r.Name, &r.Path, &r.Limit, &r.Period, &createdAt); err != nil {
		return nil, err
	}
	r.CreatedAt = timeFromDB(createdAt)
	return &r, nil
}

// PostgreSQL columns map directly onto the model types; pgx scans NULL into
// nil pointers.

func scanPostgresUser(s rowScanner) (*models.User, error) {
	var u models.User
	err := s.Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.HashedPassword,
		&u.TierID, &u.IsSuperuser, &u.IsDeleted, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if u.DeletedAt != nil {
		at := u.DeletedAt.UTC()
		u.DeletedAt = &at
	}
	return &u, nil
}

func scanPostgresTier(s rowScanner) (*models.Tier, error) {
	var t models.Tier
	if err := s.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func scanPostgresRule(s rowScanner) (*models.RateLimitRule, error) {
	var r models.RateLimitRule
	if err := s.Scan(&r.ID, &r.TierID, &r.Name, &r.Path, &r.Limit, &r.Period, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
