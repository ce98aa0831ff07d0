package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both unknown ids and cross-owner access, so a
	// caller cannot probe for records that exist under another owner.
	ErrNotFound = errors.New("record not found")

	// ErrConversionUnavailable means no exchange rate was found after the
	// full fallback chain (fresh, inverse, stale, inverse stale).
	ErrConversionUnavailable = errors.New("no exchange rate available")
)

// ValidationError reports input rejected before any write was applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Invalidf builds a ValidationError with a formatted reason.
func Invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ConflictError reports a uniqueness violation (duplicate payment method
// name, duplicate budget for a period). The caller may re-prompt and retry.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// Conflictf builds a ConflictError with a formatted reason.
func Conflictf(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
