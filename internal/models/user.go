package models

import (
	"time"

	"github.com/google/uuid"
)

// User lookup fields accepted by storage existence checks.
const (
	UserFieldUsername = "username"
	UserFieldEmail    = "email"
)

// User is a registered identity. HashedPassword never leaves the process.
type User struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	HashedPassword string     `json:"-"`
	TierID         *string    `json:"tier_id,omitempty"`
	IsSuperuser    bool       `json:"is_superuser"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewUser builds an active, tierless user with a fresh id.
func NewUser(name, username, email, hashedPassword string) *User {
	now := time.Now().UTC()
	return &User{
		ID:             NewID(),
		Name:           name,
		Username:       username,
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// HasTier reports whether a tier is assigned.
func (u *User) HasTier() bool {
	return u.TierID != nil && *u.TierID != ""
}

// SoftDelete marks the user deleted at the given time.
func (u *User) SoftDelete(at time.Time) {
	at = at.UTC()
	u.IsDeleted = true
	u.DeletedAt = &at
	u.UpdatedAt = at
}

// UserView is the public representation of a user.
type UserView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	TierID      *string   `json:"tier_id,omitempty"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
}

func (u *User) View() UserView {
	return UserView{
		ID:          u.ID,
		Name:        u.Name,
		Username:    u.Username,
		Email:       u.Email,
		TierID:      u.TierID,
		IsSuperuser: u.IsSuperuser,
		CreatedAt:   u.CreatedAt,
	}
}

// NewID returns a random UUID string used as a primary key.
func NewID() string {
	return uuid.NewString()
}
