/*
errors.go - Centralized error types for the recurring-item engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error the engine returns unwraps to exactly one of three sentinels,
  so transports can map them without knowing the details:

    ErrNotFound         template, override or actual row absent
    ErrInvalidArgument  malformed input or a forbidden edit
    ErrConflict         one-row-per-day violations, resurrecting a deleted day

USAGE:
  if errors.Is(err, generic.ErrConflict) {
      // safe to re-read and retry
  }

SEE ALSO:
  - api/handlers.go: HTTP status mapping
  - store/sqlite/sqlite.go: unique-index violations mapped to ErrConflict
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")

	// ErrFutureMaterialization is returned when asked to freeze a day after today.
	ErrFutureMaterialization = fmt.Errorf("%w: cannot materialize a future occurrence", ErrInvalidArgument)

	// ErrHistoryLocked is returned when status or progress of a past occurrence
	// is edited outside of Cancel.
	ErrHistoryLocked = fmt.Errorf("%w: cannot edit completed history except to cancel", ErrInvalidArgument)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing row.
type NotFoundError struct {
	Resource string // "item", "override", "user"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidArgumentError describes a rejected input field.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// ConflictError describes a violation of the per-day uniqueness rules.
type ConflictError struct {
	TemplateID ItemID
	Date       Date
	Reason     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s@%s: %s", e.TemplateID, e.Date, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// DuplicateRowError is returned by stores when a unique index rejects a write.
type DuplicateRowError struct {
	Index string
}

func (e *DuplicateRowError) Error() string {
	return "duplicate row violates " + e.Index
}

func (e *DuplicateRowError) Unwrap() error { return ErrConflict }

func invalid(field, format string, args ...any) error {
	return &InvalidArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
