/*
errors.go - Centralized error types for the collection engine

PURPOSE:
  All error kinds in one place. Packages wrap these with additional
  context; callers classify with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Schedule errors - malformed loan dates/amounts, fatal to calculation
  2. Validation errors - malformed collection payloads, rejected before
     any durable write
  3. Apply errors - per-item sync failures, recorded on the item
  4. Store errors - local durability failures (fatal) and idempotency
     conflicts (safe to treat as success on retry)

USAGE:
    if errors.Is(err, loan.ErrDuplicateIdempotencyKey) {
        // already applied, safe to ignore
    }
*/
package loan

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSchedule is returned when a loan's dates or total make a
	// schedule underivable (due date not after disbursement, total <= 0,
	// unknown frequency). Fatal to the calculation, never retried.
	ErrInvalidSchedule = errors.New("invalid schedule inputs")

	// ErrValidation is returned when a collection payload is malformed.
	// Rejected before any durable write.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateIdempotencyKey is returned when a record with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrLoanNotFound is returned when a referenced loan doesn't exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrLocalStore is returned when the durable local store cannot be
	// written. Fatal to enqueue: the safety invariant depends on it.
	ErrLocalStore = errors.New("local store write failed")

	// ErrOffline marks operations skipped for lack of connectivity.
	// Sync reports it as a zero-result no-op rather than a failure.
	ErrOffline = errors.New("no connectivity")

	// ErrUnknownActionType is returned when a queue item names an action
	// no applier is registered for.
	ErrUnknownActionType = errors.New("unknown action type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ScheduleError explains why a schedule could not be derived.
type ScheduleError struct {
	LoanID LoanID
	Detail string
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule for loan %s: %s", e.LoanID, e.Detail)
}

func (e *ScheduleError) Unwrap() error { return ErrInvalidSchedule }

// ValidationError names the offending field of a collection payload.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RemoteApplyError records a per-item failure during a sync drain.
// The batch continues past it; the message lands on the queue item.
type RemoteApplyError struct {
	ItemID string
	Action string
	Err    error
}

func (e *RemoteApplyError) Error() string {
	return fmt.Sprintf("apply %s item %s: %v", e.Action, e.ItemID, e.Err)
}

func (e *RemoteApplyError) Unwrap() error { return e.Err }

// AggregateError reports a loan whose paid/remaining/total no longer
// reconcile.
type AggregateError struct {
	LoanID LoanID
	Detail string
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("loan %s aggregates: %s", e.LoanID, e.Detail)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidSchedule)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound)
}

// IsAlreadyApplied returns true when a retried mutation hit its own
// earlier write. Safe to count as success.
func IsAlreadyApplied(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
