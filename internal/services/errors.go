// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Services wrap these with context; handlers map them to HTTP statuses with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrUnavailable  = errors.New("unavailable")

	ErrInvalidStatus = fmt.Errorf("%w: invalid status", ErrBadRequest)
)

func notFound(what string) error {
	return fmt.Errorf("%w: %s not found", ErrNotFound, what)
}

// lookupError turns gorm's record-not-found into ErrNotFound.
func lookupError(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(what)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
