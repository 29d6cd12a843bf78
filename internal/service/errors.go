package service

import (
	"errors"
	"fmt"
	"time"

	"nytax/internal/model"
	"nytax/internal/repository"

	"github.com/google/uuid"
)

// Error kinds surfaced to callers. Handlers map them to status codes through ErrorCode.
var (
	ErrValidation         = errors.New("validation failed")
	ErrOutOfCoverage      = errors.New("no state jurisdiction covers this point")
	ErrNoEffectiveRate    = errors.New("no effective rate")
	ErrRateConflict       = errors.New("rate change conflicts with the existing timeline")
	ErrDuplicateImport    = errors.New("file has already been imported")
	ErrNotFound           = errors.New("not found")
	ErrNotRevertible      = errors.New("mutation cannot be reverted")
	ErrInvariantViolation = errors.New("rate timeline invariant violated")
	ErrUnauthorized       = errors.New("invalid email or password")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NoEffectiveRateError names the jurisdiction and date that had no rate.
type NoEffectiveRateError struct {
	JurisdictionID uuid.UUID
	Name           string
	Date           time.Time
}

func (e *NoEffectiveRateError) Error() string {
	return fmt.Sprintf("no effective rate for %s (%s) on %s", e.Name, e.JurisdictionID, e.Date.Format(model.DateLayout))
}

func (e *NoEffectiveRateError) Unwrap() error { return ErrNoEffectiveRate }

// DuplicateImportError carries the import that already holds the same content hash.
type DuplicateImportError struct {
	ExistingID uuid.UUID
	Hash       string
}

func (e *DuplicateImportError) Error() string {
	return fmt.Sprintf("file has already been imported as %s", e.ExistingID)
}

func (e *DuplicateImportError) Unwrap() error { return ErrDuplicateImport }

// ErrorCode returns the machine-readable code of err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrOutOfCoverage):
		return "out_of_coverage"
	case errors.Is(err, ErrNoEffectiveRate):
		return "no_effective_rate"
	case errors.Is(err, ErrRateConflict):
		return "rate_conflict"
	case errors.Is(err, ErrDuplicateImport):
		return "duplicate_import"
	case errors.Is(err, ErrNotRevertible):
		return "not_revertible"
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "internal_error"
	}
}

// lookupErr turns a repository miss into ErrNotFound naming what was looked up.
func lookupErr(err error, what string, id interface{}) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %v: %w", what, id, err)
}
