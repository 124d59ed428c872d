/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them) so callers can branch with
  errors.Is / errors.As without knowing which ledger produced them.

ERROR CATEGORIES:
  1. Validation - Malformed input (bad range, unknown category, missing row).
     Rejected before any ledger logic runs; nothing to roll back.
  2. Business rule - Insufficient balance. Expected and frequent; surfaced
     with the remaining balance so the caller can render it.
  3. Storage - The atomic apply failed. Rolled back, logged, retryable.

USAGE:
  res, err := ledger.CreateLeave(ctx, req)
  var short *generic.InsufficientBalanceError
  switch {
  case errors.As(err, &short):
      // render short.Remaining
  case generic.IsNotFound(err):
      // 404
  case generic.IsRetryable(err):
      // 503, try again
  }
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
	// ErrNotFound is returned when a referenced row (employee, record,
	// item, booking) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange is returned when a date or time range is malformed
	// (missing bound, end before start).
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidAmount is returned when a quantity is zero or negative.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConflict is returned when a booking overlaps an existing one.
	ErrConflict = errors.New("conflict")

	// ErrConcurrentModification is returned when a conditional write sees a
	// version other than the one it read.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTransactionFailed is returned when the atomic apply could not be
	// committed. Nothing was written.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing row.
type NotFoundError struct {
	Kind string // "employee", "leave record", "item", ...
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound is a shorthand used by stores.
func NewNotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// RangeError describes why a range was rejected.
type RangeError struct {
	Start  Date
	End    Date
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid range %s..%s: %s", e.Start, e.End, e.Reason)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }

// InsufficientBalanceError is the caller-facing rejection of a debit.
// Remaining is the balance the owner had when the request was evaluated.
type InsufficientBalanceError struct {
	OwnerID   int64
	Remaining int
	Requested int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %d: remaining %d, requested %d",
		e.OwnerID, e.Remaining, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many units the request exceeded the balance by.
func (e *InsufficientBalanceError) Shortfall() int {
	return e.Requested - e.Remaining
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrTransactionFailed)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
