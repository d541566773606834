/*
Package loan contains the domain model for the collection engine.

PURPOSE:
  This package defines the records the rest of the system computes over:
  loans, payments, missed payments, and penalties. It also carries the
  cross-cutting capabilities those computations need (Clock, RemoteStore)
  and the money helpers shared by every component.

KEY CONCEPTS IN THIS FILE (types.go):
  - Loan: the obligation being repaid, with running aggregates
  - Payment: an immutable record of money collected against a loan
  - MissedPayment: a field-agent notice that a term went uncollected
  - Penalty: an optional charge raised alongside a missed payment

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Immutability: a Payment is never edited after creation;
     MissedPayment.PaidLater is the single mutable flag in the model
  3. Derived state: schedules are computed from these records on every
     read, never stored, so they cannot drift from the source of truth

SEE ALSO:
  - clock.go: injected time capability
  - errors.go: sentinel and structured errors
  - store.go: persistence contract consumed by the core
*/
package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID string
type BorrowerID string
type PaymentID string
type MissedPaymentID string
type PenaltyID string

// =============================================================================
// MONEY
// =============================================================================

// MinorUnit is the rounding tolerance for aggregate reconciliation.
// A loan's paid + remaining must equal its total within one minor unit.
var MinorUnit = decimal.New(1, -2) // 0.01

// SameAmount reports whether two amounts agree within one minor unit.
func SameAmount(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(MinorUnit)
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// LOAN
// =============================================================================

type LoanStatus string

const (
	StatusActive    LoanStatus = "active"
	StatusCompleted LoanStatus = "completed"
	StatusOverdue   LoanStatus = "overdue"
	StatusDefaulted LoanStatus = "defaulted"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Loan is the repayment obligation for one borrower.
//
// INVARIANTS:
//   - PaidAmount + RemainingAmount == TotalAmount (within MinorUnit)
//   - RemainingAmount >= 0
type Loan struct {
	ID           LoanID
	BorrowerID   BorrowerID
	Amount       decimal.Decimal // disbursed principal
	InterestRate decimal.Decimal
	Tenure       int // duration units, interpreted per Frequency

	Frequency       Frequency
	TotalAmount     decimal.Decimal // full amount to be repaid
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal

	DisbursedAt time.Time
	DueDate     time.Time
	Status      LoanStatus
}

// CheckAggregates verifies the paid/remaining/total invariant.
func (l *Loan) CheckAggregates() error {
	if l.RemainingAmount.IsNegative() {
		return &AggregateError{LoanID: l.ID, Detail: "remaining amount is negative"}
	}
	if !SameAmount(l.PaidAmount.Add(l.RemainingAmount), l.TotalAmount) {
		return &AggregateError{LoanID: l.ID, Detail: "paid + remaining does not reconcile to total"}
	}
	return nil
}

// =============================================================================
// PAYMENT - Immutable once created
// =============================================================================

type Payment struct {
	ID            PaymentID
	LoanID        LoanID
	BorrowerID    BorrowerID
	Amount        decimal.Decimal
	ReceivedAt    time.Time
	CollectedBy   string // collecting agent, optional
	Method        string // cash, mobile_money, bank, ...
	TransactionID string // optional external reference

	// IdempotencyKey dedupes retried applications of the same mutation.
	// For drained queue items this is the queue item id.
	IdempotencyKey string
}

// =============================================================================
// MISSED PAYMENT
// =============================================================================

type MissedPayment struct {
	ID             MissedPaymentID
	LoanID         LoanID
	ExpectedDate   time.Time
	TermNumber     int // 1-based term the miss was recorded against
	AmountExpected decimal.Decimal
	Reason         string
	PaidLater      bool // set once a later payment covers the missed term
	MarkedBy       string

	IdempotencyKey string
}

// =============================================================================
// PENALTY - Raised alongside a missed payment when configured
// =============================================================================

type Penalty struct {
	ID         PenaltyID
	LoanID     LoanID
	BorrowerID BorrowerID
	LineID     string // lending line reference, optional
	Type       string
	Amount     decimal.Decimal
	Reason     string
	IsPaid     bool
}
