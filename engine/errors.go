/*
errors.go - Error taxonomy of the engine

PURPOSE:
  Every error the engine returns falls in one of four groups. Callers test
  the group with errors.Is or the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Validation - malformed input, rejected before touching storage
  2. Not found  - series or occurrence absent for the owner
  3. Conflict   - a uniqueness invariant would be broken
  4. Storage    - anything else returned by a Repository, passed through

USAGE:
  if engine.IsConflict(err) {
      // respond 409
  }

SEE ALSO:
  - repository.go: implementations return ErrSeriesNotFound,
                   ErrOccurrenceNotFound and *ConflictError
  - api/handlers.go: maps the categories to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/recurrence"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrInvalidWindow is returned for a window whose end is before its start.
	ErrInvalidWindow = calendar.ErrInvalidWindow

	ErrSeriesNotFound     = fmt.Errorf("series %w", ErrNotFound)
	ErrOccurrenceNotFound = fmt.Errorf("occurrence %w", ErrNotFound)

	// ErrTombstoned is returned when mutating a deleted series day.
	// A tombstone is terminal for its day.
	ErrTombstoned = fmt.Errorf("occurrence was deleted: %w", ErrNotFound)

	// ErrDuplicateIndependentDay is returned when the owner already has an
	// independent event on the day.
	ErrDuplicateIndependentDay = fmt.Errorf("independent event already exists on this day: %w", ErrConflict)

	// ErrDuplicateSeriesDay is returned by a Repository when a row for the
	// same (owner, series, day) already exists. Promotion retries on it.
	ErrDuplicateSeriesDay = fmt.Errorf("series day already stored: %w", ErrConflict)

	// ErrPromotionConflict is returned when promotion does not converge to a
	// single row within the configured retries.
	ErrPromotionConflict = fmt.Errorf("promotion did not converge: %w", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
	Err     error // optional cause
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// ConflictError describes a uniqueness violation on a day.
type ConflictError struct {
	Day        calendar.Day
	ExistingID OccurrenceID // empty when the store does not report it
	Err        error        // ErrDuplicateIndependentDay, ErrDuplicateSeriesDay or ErrPromotionConflict
}

func (e *ConflictError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("%v: %s (existing: %s)", e.Err, e.Day, e.ExistingID)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Day)
}

func (e *ConflictError) Unwrap() error {
	if e.Err == nil {
		return ErrConflict
	}
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, recurrence.ErrInvalidRule)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable returns true if repeating the find step may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDuplicateSeriesDay)
}
