package gate

import (
	"errors"
	"fmt"
	"net/http"

	"tiergate/internal/models"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrForbidden             = errors.New("insufficient privileges")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// Rejection is a refused request with its HTTP context. Err wraps one of the
// package sentinels.
type Rejection struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *Rejection) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Rejection) Unwrap() error {
	return e.Err
}

func newUnauthenticated(message string, cause error) *Rejection {
	return &Rejection{
		Code:       models.ErrorCodeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        joinCause(ErrInvalidCredentials, cause),
	}
}

func newUnavailable(cause error) *Rejection {
	return &Rejection{
		Code:       models.ErrorCodeServiceUnavailable,
		Message:    "Service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Err:        joinCause(ErrDependencyUnavailable, cause),
	}
}

func newForbidden() *Rejection {
	return &Rejection{
		Code:       models.ErrorCodeForbidden,
		Message:    "You do not have enough privileges.",
		StatusCode: http.StatusForbidden,
		Err:        ErrForbidden,
	}
}

func newRateLimited() *Rejection {
	return &Rejection{
		Code:       models.ErrorCodeRateLimitExceeded,
		Message:    "Rate limit exceeded.",
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}

func joinCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
