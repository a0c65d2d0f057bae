package storage

import (
	"errors"
	"fmt"

	"tiergate/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when a unique constraint would be violated.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidField is returned by UserExists for an unsupported field.
	ErrInvalidField = errors.New("unsupported lookup field")
)

func checkUserField(field string) error {
	switch field {
	case models.UserFieldUsername, models.UserFieldEmail:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidField, field)
	}
}
