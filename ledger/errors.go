/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the HTTP layer maps these
  to status codes and never leaks store internals.

ERROR CATEGORIES:
  1. Validation errors  - malformed input, caller's fault
  2. Business rejections - insufficient funds
  3. Transient errors   - concurrent modification, safe to retry
  4. Infrastructure     - store unavailable, fatal for the request
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed mutations before any I/O.
	ErrValidation = errors.New("invalid mutation")

	// ErrInsufficientFunds is returned when a debit would drive a pool
	// below its floor. A business rejection, not a system fault.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrentModification is returned when the balance snapshot
	// changed between read and write. Transient; callers may retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is returned for accounts or records with no history
	// where the operation requires one to exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps infrastructure failures from the
	// underlying store. Fatal for the current request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports details of a rejected debit.
type InsufficientFundsError struct {
	UserID    string
	Pool      BalanceType
	Available Amount
	Requested Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s pool has %s, requested %s",
		e.Pool, e.Available, e.Requested.Abs())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ValidationError reports which field of a mutation was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid mutation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsNotFound returns true if the error indicates a missing account/record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
