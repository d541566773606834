/*
Package collections records field-agent collection events.

PURPOSE:
  A collection is either a payment or a missed-payment notice (optionally
  with a penalty). The Recorder validates the intent and then either
  applies it to the remote store immediately (online) or hands it to the
  offline queue (offline). Both paths converge on the same apply
  functions: the sync coordinator drains queued collections through the
  Recorder's Applier, so an agent's offline entry behaves exactly like an
  online one, just later.

IDEMPOTENCY:
  Applied records carry an idempotency key - the queue item id for
  drained mutations, a fresh uuid for direct ones. The remote store
  rejects a duplicate key, and the apply path treats that rejection as
  success, which is what makes crash-and-retry during a drain safe.

SEE ALSO:
  - queue/coordinator.go: drains ActionCollection items through Apply
  - schedule/calculator.go: term bounds used to resolve PaidLater
*/
package collections

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kopa/loan-engine/loan"
	"github.com/kopa/loan-engine/queue"
	"github.com/kopa/loan-engine/schedule"
)

// =============================================================================
// COLLECTION INTENT
// =============================================================================

type Kind string

const (
	KindPaid   Kind = "paid"
	KindMissed Kind = "missed"
)

// Payload carries everything a collection needs; which fields are
// required depends on Kind. It round-trips through the queue as JSON.
type Payload struct {
	Kind   Kind        `json:"kind"`
	LoanID loan.LoanID `json:"loan_id"`
	Actor  string      `json:"actor"`

	// paid
	Amount        decimal.Decimal `json:"amount,omitempty"`
	Method        string          `json:"method,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	ReceivedAt    time.Time       `json:"received_at,omitempty"`

	// missed
	Reason        string          `json:"reason,omitempty"`
	ExpectedDate  time.Time       `json:"expected_date,omitempty"`
	TermNumber    int             `json:"term_number,omitempty"`
	PenaltyAmount decimal.Decimal `json:"penalty_amount,omitempty"`
	PenaltyType   string          `json:"penalty_type,omitempty"`
}

// Mode tells the caller whether the collection hit the remote store or
// the offline queue. It is the only visible difference between paths.
type Mode string

const (
	ModeApplied Mode = "applied"
	ModeQueued  Mode = "queued"
)

// Result reports a recorded collection.
type Result struct {
	Mode Mode

	Payment       *loan.Payment
	MissedPayment *loan.MissedPayment
	Penalty       *loan.Penalty
	QueueItem     *queue.Item

	// Overpaid is the portion of a payment past the remaining balance.
	// Reported, never fatal; the loan clamps at zero remaining.
	Overpaid decimal.Decimal
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder validates and commits collection events.
type Recorder struct {
	store loan.RemoteStore
	queue *queue.Manager
	conn  loan.Connectivity
	clock loan.Clock
	log   *logrus.Logger
}

func NewRecorder(store loan.RemoteStore, q *queue.Manager, conn loan.Connectivity, clock loan.Clock, log *logrus.Logger) *Recorder {
	return &Recorder{store: store, queue: q, conn: conn, clock: clock, log: log}
}

// RegisterWith installs this recorder as the drain path for queued
// collections.
func (r *Recorder) RegisterWith(c *queue.Coordinator) {
	c.Register(queue.ActionCollection, queue.ApplierFunc(r.applyItem))
}

// Record validates a collection intent and applies or queues it.
func (r *Recorder) Record(ctx context.Context, p Payload) (Result, error) {
	if err := r.validate(&p); err != nil {
		return Result{}, err
	}

	if !r.conn.Online() {
		raw, err := json.Marshal(p)
		if err != nil {
			return Result{}, err
		}
		item, err := r.queue.Enqueue(ctx, queue.ActionCollection, raw, p.Actor)
		if err != nil {
			return Result{}, err
		}
		r.log.WithFields(logrus.Fields{
			"loan": p.LoanID,
			"kind": p.Kind,
			"item": item.ID,
		}).Info("collection queued offline")
		return Result{Mode: ModeQueued, QueueItem: &item}, nil
	}

	res, err := r.apply(ctx, p, uuid.NewString())
	if err != nil {
		return Result{}, err
	}
	res.Mode = ModeApplied
	return res, nil
}

// applyItem is the drain path: identical semantics to the online path,
// keyed by the queue item id for idempotency.
func (r *Recorder) applyItem(ctx context.Context, item queue.Item) error {
	var p Payload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return &loan.ValidationError{Field: "payload", Detail: "undecodable collection payload"}
	}
	if err := r.validate(&p); err != nil {
		return err
	}
	_, err := r.apply(ctx, p, item.ID)
	return err
}

// =============================================================================
// VALIDATION - Rejected before any durable write
// =============================================================================

func (r *Recorder) validate(p *Payload) error {
	if p.LoanID == "" {
		return &loan.ValidationError{Field: "loan_id", Detail: "required"}
	}
	switch p.Kind {
	case KindPaid:
		if !p.Amount.IsPositive() {
			return &loan.ValidationError{Field: "amount", Detail: "must be positive"}
		}
		if p.Method == "" {
			return &loan.ValidationError{Field: "method", Detail: "payment method tag required"}
		}
	case KindMissed:
		if p.Reason == "" {
			return &loan.ValidationError{Field: "reason", Detail: "required for a missed payment"}
		}
		if p.PenaltyAmount.IsNegative() {
			return &loan.ValidationError{Field: "penalty_amount", Detail: "cannot be negative"}
		}
	default:
		return &loan.ValidationError{Field: "kind", Detail: "must be paid or missed"}
	}
	return nil
}

// =============================================================================
// APPLICATION - The single path for online and drained mutations
// =============================================================================

func (r *Recorder) apply(ctx context.Context, p Payload, idemKey string) (Result, error) {
	switch p.Kind {
	case KindPaid:
		return r.applyPayment(ctx, p, idemKey)
	case KindMissed:
		return r.applyMissed(ctx, p, idemKey)
	}
	return Result{}, &loan.ValidationError{Field: "kind", Detail: string(p.Kind)}
}

func (r *Recorder) applyPayment(ctx context.Context, p Payload, idemKey string) (Result, error) {
	l, err := r.store.LoanByID(ctx, p.LoanID)
	if err != nil {
		return Result{}, err
	}

	receivedAt := p.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = r.clock.Now()
	}

	payment := loan.Payment{
		ID:             loan.PaymentID(uuid.NewString()),
		LoanID:         l.ID,
		BorrowerID:     l.BorrowerID,
		Amount:         p.Amount,
		ReceivedAt:     receivedAt,
		CollectedBy:    p.Actor,
		Method:         p.Method,
		TransactionID:  p.TransactionID,
		IdempotencyKey: idemKey,
	}
	if err := r.store.CreatePayment(ctx, payment); err != nil {
		if loan.IsAlreadyApplied(err) {
			// A prior apply of this item persisted the payment but may
			// have crashed before the aggregates write. Rebuild the
			// aggregates from the payments ledger so the retry leaves the
			// loan in the same state a clean apply would have.
			return r.recoverAggregates(ctx, l, receivedAt)
		}
		return Result{}, err
	}

	// Aggregates: paid up by amount, remaining down by amount, clamped at
	// zero. The clamped excess is surfaced, not rejected.
	overpaid := decimal.Zero
	paid := l.PaidAmount.Add(p.Amount)
	remaining := l.RemainingAmount.Sub(p.Amount)
	if remaining.IsNegative() {
		overpaid = remaining.Neg()
		remaining = decimal.Zero
		paid = l.TotalAmount
	}
	status := reevaluateStatus(l, remaining, r.clock.Now())
	if err := r.store.UpdateLoanAggregates(ctx, l.ID, paid, remaining, status); err != nil {
		return Result{}, err
	}

	if err := r.resolveMissed(ctx, l, receivedAt); err != nil {
		// The payment is committed; resolution is repaired on the next
		// read path that recomputes status, so log and carry on.
		r.log.WithError(err).WithField("loan", l.ID).Warn("paid-later resolution failed")
	}

	if !overpaid.IsZero() {
		r.log.WithFields(logrus.Fields{
			"loan":     l.ID,
			"overpaid": overpaid.String(),
		}).Warn("payment exceeds remaining balance; clamped")
	}

	return Result{Payment: &payment, Overpaid: overpaid}, nil
}

func (r *Recorder) applyMissed(ctx context.Context, p Payload, idemKey string) (Result, error) {
	l, err := r.store.LoanByID(ctx, p.LoanID)
	if err != nil {
		return Result{}, err
	}

	expected := p.ExpectedDate
	if expected.IsZero() {
		expected = r.clock.Now()
	}

	mp := loan.MissedPayment{
		ID:             loan.MissedPaymentID(uuid.NewString()),
		LoanID:         l.ID,
		ExpectedDate:   expected,
		TermNumber:     p.TermNumber,
		AmountExpected: expectedAmount(l),
		Reason:         p.Reason,
		MarkedBy:       p.Actor,
		IdempotencyKey: idemKey,
	}
	if err := r.store.CreateMissedPayment(ctx, mp); err != nil {
		return Result{}, err
	}

	res := Result{MissedPayment: &mp}
	if p.PenaltyAmount.IsPositive() {
		pen := loan.Penalty{
			ID:         loan.PenaltyID(uuid.NewString()),
			LoanID:     l.ID,
			BorrowerID: l.BorrowerID,
			Type:       p.PenaltyType,
			Amount:     p.PenaltyAmount,
			Reason:     p.Reason,
		}
		if err := r.store.CreatePenalty(ctx, pen); err != nil {
			return Result{}, err
		}
		res.Penalty = &pen
	}

	status := reevaluateStatus(l, l.RemainingAmount, r.clock.Now())
	if status != l.Status {
		if err := r.store.UpdateLoanAggregates(ctx, l.ID, l.PaidAmount, l.RemainingAmount, status); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// recoverAggregates resyncs a loan's paid/remaining/status from the sum
// of its persisted payments. Used when a retried apply finds its payment
// already written: the interrupted attempt owed the aggregates update
// and possibly the paid-later resolution, so both are redone here.
func (r *Recorder) recoverAggregates(ctx context.Context, l *loan.Loan, receivedAt time.Time) (Result, error) {
	payments, err := r.store.PaymentsByLoan(ctx, l.ID)
	if err != nil {
		return Result{}, err
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	overpaid := decimal.Zero
	remaining := l.TotalAmount.Sub(paid)
	if remaining.IsNegative() {
		overpaid = remaining.Neg()
		remaining = decimal.Zero
		paid = l.TotalAmount
	}
	status := reevaluateStatus(l, remaining, r.clock.Now())
	if err := r.store.UpdateLoanAggregates(ctx, l.ID, paid, remaining, status); err != nil {
		return Result{}, err
	}

	if err := r.resolveMissed(ctx, l, receivedAt); err != nil {
		r.log.WithError(err).WithField("loan", l.ID).Warn("paid-later resolution failed")
	}

	r.log.WithFields(logrus.Fields{
		"loan": l.ID,
		"paid": paid.String(),
	}).Info("aggregates recovered from payments ledger")
	return Result{Overpaid: overpaid}, nil
}

// resolveMissed marks the earliest unresolved missed payment whose term
// interval contains the new payment's timestamp as paid later.
func (r *Recorder) resolveMissed(ctx context.Context, l *loan.Loan, receivedAt time.Time) error {
	missed, err := r.store.MissedPaymentsByLoan(ctx, l.ID)
	if err != nil {
		return err
	}
	for _, mp := range missed {
		if mp.PaidLater {
			continue
		}
		term := mp.TermNumber
		if term < 1 {
			// Misses recorded without a term number locate by expected date.
			t, ok := schedule.TermForTime(l, mp.ExpectedDate)
			if !ok {
				continue
			}
			term = t
		}
		start, end, err := schedule.TermBounds(l, term)
		if err != nil {
			continue
		}
		if !receivedAt.Before(start) && receivedAt.Before(end) {
			return r.store.MarkMissedPaymentPaidLater(ctx, mp.ID)
		}
	}
	return nil
}

// reevaluateStatus derives the loan status from its aggregates and
// calendar. Defaulted is operator-set only and never entered here.
func reevaluateStatus(l *loan.Loan, remaining decimal.Decimal, now time.Time) loan.LoanStatus {
	if l.Status == loan.StatusDefaulted {
		return loan.StatusDefaulted
	}
	switch {
	case remaining.LessThanOrEqual(loan.MinorUnit):
		return loan.StatusCompleted
	case now.After(l.DueDate):
		return loan.StatusOverdue
	default:
		return loan.StatusActive
	}
}

// expectedAmount is the even per-term amount for a loan, used when a miss
// is recorded without an explicit figure.
func expectedAmount(l *loan.Loan) decimal.Decimal {
	n, err := schedule.TermCount(l)
	if err != nil || n == 0 {
		return decimal.Zero
	}
	return l.TotalAmount.Div(decimal.NewFromInt(int64(n))).Round(2)
}
