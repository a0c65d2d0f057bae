// Package models - API request types and input validation.
// This file defines incoming API request structures with validation.
//
// Validation Philosophy:
// - Fail fast with clear error messages for invalid input
// - Normalize input data for consistent processing (trimmed strings)
// - Report every failing field at once so clients can fix them together
package models

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9]+$`)
	tierNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ValidationErrors maps field names to failure messages.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for field, msg := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// LoginRequest accepts either a username or an email in Username.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
}

func (r *LoginRequest) Validate() error {
	errs := ValidationErrors{}
	if r.Username == "" {
		errs["username"] = "username is required"
	}
	if r.Password == "" {
		errs["password"] = "password is required"
	}
	return errs.orNil()
}

// CreateUserRequest registers a new account.
type CreateUserRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *CreateUserRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
	r.Email = strings.TrimSpace(r.Email)
}

func (r *CreateUserRequest) Validate() error {
	errs := ValidationErrors{}
	if l := len(r.Name); l < 2 || l > 30 {
		errs["name"] = "name must be between 2 and 30 characters"
	}
	if l := len(r.Username); l < 2 || l > 20 || !usernamePattern.MatchString(r.Username) {
		errs["username"] = "username must be 2-20 lowercase letters or digits"
	}
	if _, err := mail.ParseAddress(r.Email); err != nil || strings.ContainsAny(r.Email, " <>") {
		errs["email"] = "email must be a valid address"
	}
	if len(r.Password) < 8 {
		errs["password"] = "password must be at least 8 characters"
	}
	return errs.orNil()
}

// UpdateUserTierRequest assigns a tier to a user by tier id.
type UpdateUserTierRequest struct {
	TierID string `json:"tier_id"`
}

func (r *UpdateUserTierRequest) Validate() error {
	if strings.TrimSpace(r.TierID) == "" {
		return ValidationErrors{"tier_id": "tier_id is required"}
	}
	return nil
}

type CreateTierRequest struct {
	Name string `json:"name"`
}

func (r *CreateTierRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
}

func (r *CreateTierRequest) Validate() error {
	if !tierNamePattern.MatchString(r.Name) {
		return ValidationErrors{"name": "name must be non-empty letters, digits, '_' or '-'"}
	}
	return nil
}

// CreateRateLimitRequest declares a rule. Path may be a route template or a
// concrete path; it is normalized before storage. Period is in seconds.
type CreateRateLimitRequest struct {
	Path   string `json:"path"`
	Limit  int    `json:"limit"`
	Period int    `json:"period"`
}

func (r *CreateRateLimitRequest) Normalize() {
	r.Path = strings.TrimSpace(r.Path)
}

func (r *CreateRateLimitRequest) Validate() error {
	errs := ValidationErrors{}
	if r.Path == "" {
		errs["path"] = "path is required"
	}
	if r.Limit <= 0 {
		errs["limit"] = "limit must be positive"
	}
	if r.Period <= 0 {
		errs["period"] = "period must be a positive number of seconds"
	}
	return errs.orNil()
}

func (r *CreateRateLimitRequest) PeriodDuration() time.Duration {
	return time.Duration(r.Period) * time.Second
}

// UpdateRateLimitRequest changes an existing rule. Omitted fields keep their
// current value.
type UpdateRateLimitRequest struct {
	Path   *string `json:"path,omitempty"`
	Limit  *int    `json:"limit,omitempty"`
	Period *int    `json:"period,omitempty"`
}

func (r *UpdateRateLimitRequest) Normalize() {
	if r.Path != nil {
		trimmed := strings.TrimSpace(*r.Path)
		r.Path = &trimmed
	}
}

func (r *UpdateRateLimitRequest) Validate() error {
	if r.Path == nil && r.Limit == nil && r.Period == nil {
		return ValidationErrors{"body": "at least one of path, limit or period is required"}
	}
	errs := ValidationErrors{}
	if r.Path != nil && *r.Path == "" {
		errs["path"] = "path must not be empty"
	}
	if r.Limit != nil && *r.Limit <= 0 {
		errs["limit"] = "limit must be positive"
	}
	if r.Period != nil && *r.Period <= 0 {
		errs["period"] = "period must be a positive number of seconds"
	}
	return errs.orNil()
}
