// Package identity turns a verified token subject into a user record.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tiergate/internal/models"
	"tiergate/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotFound covers both unknown and soft-deleted subjects.
	ErrNotFound = errors.New("identity not found")

	// ErrUnavailable wraps persistence failures during lookup.
	ErrUnavailable = errors.New("identity store unavailable")

	// ErrInvalidCredentials is returned by Authenticate for any mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserStore is the subset of storage.Storage the resolver reads.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Resolver looks users up by username or email.
type Resolver struct {
	users UserStore
}

func NewResolver(users UserStore) *Resolver {
	return &Resolver{users: users}
}

// Resolve returns the live user named by subject. A subject containing "@"
// is treated as an email address, anything else as a username.
func (r *Resolver) Resolve(ctx context.Context, subject string) (*models.User, error) {
	if subject == "" {
		return nil, ErrNotFound
	}

	var (
		user *models.User
		err  error
	)
	if strings.Contains(subject, "@") {
		user, err = r.users.GetUserByEmail(ctx, subject)
	} else {
		user, err = r.users.GetUserByUsername(ctx, subject)
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	case user == nil || user.IsDeleted:
		return nil, ErrNotFound
	}
	return user, nil
}

// Authenticate resolves subject and checks password against the stored hash.
// Persistence failures are still reported as ErrUnavailable so the caller can
// answer 503 rather than 401.
func (r *Resolver) Authenticate(ctx context.Context, subject, password string) (*models.User, error) {
	user, err := r.Resolve(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}
	if !CheckPassword(user.HashedPassword, password) {
		slog.Debug("password mismatch", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func CheckPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
