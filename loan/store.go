/*
store.go - Persistence contract between the core and its collaborator

PURPOSE:
  The core never talks to a database directly. Everything it needs from
  the persistence layer is expressed here as a narrow interface; the
  schedule calculator and collection recorder consume it, and the sqlite
  and memory packages implement it.

IDEMPOTENCY:
  CreatePayment and CreateMissedPayment reject a record whose
  IdempotencyKey already exists with ErrDuplicateIdempotencyKey. Drained
  queue items use their item id as the key, which is what makes a
  crash-and-retry between remote success and local status update safe.

IMPLEMENTATIONS:
  - store/sqlite: production store
  - store/memory: in-memory store for tests and development
*/
package loan

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REMOTE STORE - The persistence collaborator
// =============================================================================

// RemoteStore is everything the core consumes from the persistence layer.
type RemoteStore interface {
	LoanByID(ctx context.Context, id LoanID) (*Loan, error)

	// CreatePayment persists an immutable payment record. Returns
	// ErrDuplicateIdempotencyKey if the key was already written.
	CreatePayment(ctx context.Context, p Payment) error

	// CreateMissedPayment persists a missed-payment notice. Same
	// idempotency contract as CreatePayment.
	CreateMissedPayment(ctx context.Context, mp MissedPayment) error

	CreatePenalty(ctx context.Context, pen Penalty) error

	// PaymentsByLoan returns all payments for a loan ordered by ReceivedAt.
	PaymentsByLoan(ctx context.Context, id LoanID) ([]Payment, error)

	// MissedPaymentsByLoan returns all missed payments ordered by ExpectedDate.
	MissedPaymentsByLoan(ctx context.Context, id LoanID) ([]MissedPayment, error)

	// UpdateLoanAggregates writes new paid/remaining amounts and status.
	UpdateLoanAggregates(ctx context.Context, id LoanID, paid, remaining decimal.Decimal, status LoanStatus) error

	// MarkMissedPaymentPaidLater flips the single mutable flag on a
	// missed-payment record.
	MarkMissedPaymentPaidLater(ctx context.Context, id MissedPaymentID) error
}

// =============================================================================
// QUEUE MIRROR - Best-effort reflection of the local queue
// =============================================================================

// MirrorItem is the remote representation of a locally queued mutation.
// The local queue stays authoritative; mirror write failures are swallowed.
type MirrorItem struct {
	ID           string
	UserID       string
	ActionType   string
	Data         []byte
	Status       string
	SyncedAt     *time.Time
	ErrorMessage string
}

// QueueMirror accepts mirror writes from the offline queue.
type QueueMirror interface {
	UpsertMirrorItem(ctx context.Context, item MirrorItem) error
}
