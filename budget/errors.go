/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place. The engine separates two kinds of trouble:
  caller misuse (a required argument is missing or malformed) which is an
  error, and messy data (unknown project, bad month string in one record)
  which is absorbed and reported as a matrix issue instead.

ERROR CATEGORIES:
  1. Misuse errors - ErrInvalidArgument, ErrMalformedMonth
  2. Lookup errors - ErrProjectNotFound, ErrBaselineNotFound
  3. Conflict errors - ErrDuplicateStorageKey, ErrBaselineLinkage

USAGE:
  if budget.IsCallerMisuse(err) {
      // 400
  }

SEE ALSO:
  - matrix/issues.go: non-fatal data problems
  - store/sqlite/sqlite.go: wraps these errors with context
*/
package budget

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidArgument is returned when a required argument is missing or
	// out of range. It signals a programming error in the caller.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedMonth is returned when a month label is not "YYYY-MM".
	ErrMalformedMonth = errors.New("malformed month")

	// ErrProjectNotFound is returned when a referenced project doesn't exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrBaselineNotFound is returned when a referenced baseline doesn't exist.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrDuplicateStorageKey is returned when two line items of a project
	// would share a storage key.
	ErrDuplicateStorageKey = errors.New("duplicate line item storage key")

	// ErrBaselineLinkage is returned when a line item's storage key names a
	// different baseline than the one it is tagged with.
	ErrBaselineLinkage = errors.New("line item not linked to its baseline")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ArgumentError names the operation and argument that was misused.
type ArgumentError struct {
	Op     string
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Op, e.Arg, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// InvalidArgument is a shorthand constructor.
func InvalidArgument(op, arg, reason string) error {
	return &ArgumentError{Op: op, Arg: arg, Reason: reason}
}

// MonthParseError keeps the rejected input.
type MonthParseError struct {
	Input string
}

func (e *MonthParseError) Error() string {
	return fmt.Sprintf("malformed month %q: want YYYY-MM", e.Input)
}

func (e *MonthParseError) Unwrap() error {
	return ErrMalformedMonth
}

// StorageKeyError reports a storage key violation found while materializing
// or persisting line items.
type StorageKeyError struct {
	ProjectID  ProjectID
	StorageKey string
	Cause      error
}

func (e *StorageKeyError) Error() string {
	return fmt.Sprintf("project %s: storage key %q: %v", e.ProjectID, e.StorageKey, e.Cause)
}

func (e *StorageKeyError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsCallerMisuse returns true if the error is due to invalid caller input.
func IsCallerMisuse(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrMalformedMonth)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrBaselineNotFound)
}

// IsConflict returns true if the error is a uniqueness or linkage violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateStorageKey) ||
		errors.Is(err, ErrBaselineLinkage)
}
