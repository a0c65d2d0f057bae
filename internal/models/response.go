// Package models - API response types and error handling.
// This file defines outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Machine-readable error codes next to human-readable messages
// - RFC3339 timestamps
package models

import (
	"time"
)

// TokenResponse is returned by login and refresh. The refresh token itself
// travels in an HttpOnly cookie, never in the body.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func NewTokenResponse(accessToken string, expiresAt time.Time) *TokenResponse {
	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	}
}

type MessageResponse struct {
	Message string `json:"message"`
}

// UserTierResponse is a user together with the tier assigned to it.
type UserTierResponse struct {
	User UserView `json:"user"`
	Tier *Tier    `json:"tier,omitempty"`
}

// UserRateLimitsResponse lists the rules of the user's tier, empty when the
// user has none.
type UserRateLimitsResponse struct {
	User       UserView         `json:"user"`
	Tier       *Tier            `json:"tier,omitempty"`
	RateLimits []*RateLimitRule `json:"rate_limits"`
}

type ListTiersResponse struct {
	Tiers      []*Tier `json:"tiers"`
	TotalCount int     `json:"total_count"`
}

type ListRateLimitsResponse struct {
	Tier       string           `json:"tier"`
	RateLimits []*RateLimitRule `json:"rate_limits"`
	TotalCount int              `json:"total_count"`
}

// ErrorResponse provides structured error information.
//
// Error Categories:
// - Validation errors: Input format/constraint violations
// - Authorization errors: Authentication/permission failures
// - Rate limit errors: Quota exceeded for the current window
// - Internal errors: Server-side issues
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Standard Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeConflict           = "CONFLICT"            // 409: Resource conflict
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Quota exhausted for the window
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Dependency unreachable
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewValidationErrorResponse reports field-level failures under
// VALIDATION_ERROR.
func NewValidationErrorResponse(details map[string]string) *ErrorResponse {
	resp := NewErrorResponse("request validation failed", ErrorCodeValidation)
	resp.Details = details
	return resp
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

// AddComponent records a component and downgrades the overall status when the
// component is not healthy.
func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	if status != StatusHealthy && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
	if status == StatusUnhealthy {
		h.Status = StatusUnhealthy
	}
}
