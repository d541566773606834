/*
Package schedule derives a loan's repayment calendar.

PURPOSE:
  Given a loan, its payments, and its missed-payment notices, Compute
  produces the ordered list of schedule terms with per-term settlement
  status. The schedule is derived on every read and never persisted, so
  it can never drift from the underlying records.

KEY CONCEPTS:
  - Term: one repayment interval (day/week/month) within the tenure.
    Term i (0-based) spans [start(i), start(i+1)); a payment belongs to
    the term whose interval contains its ReceivedAt.
  - Status precedence: missed > paid > partial > overdue > pending,
    evaluated independently per term.
  - Rounding: per-term amounts are the total split evenly and rounded to
    two places; the final term absorbs the remainder so the schedule
    always sums back to the loan total.

PURITY:
  Compute never mutates its inputs and is deterministic given identical
  inputs and the supplied "now". Callers inject now (via loan.Clock)
  rather than letting this package read the wall clock.
*/
package schedule

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kopa/loan-engine/loan"
)

// =============================================================================
// SCHEDULE TERM - Derived, never persisted
// =============================================================================

type TermStatus string

const (
	StatusPending TermStatus = "pending"
	StatusPaid    TermStatus = "paid"
	StatusPartial TermStatus = "partial"
	StatusMissed  TermStatus = "missed"
	StatusOverdue TermStatus = "overdue"
)

type Term struct {
	TermNumber int // 1-based
	DueDate    time.Time
	AmountDue  decimal.Decimal
	AmountPaid decimal.Decimal
	Status     TermStatus

	// Covering records, when any fall in this term's interval.
	PaymentIDs      []loan.PaymentID
	MissedPaymentID loan.MissedPaymentID
}

// =============================================================================
// COMPUTE - Pure schedule derivation
// =============================================================================

// Compute derives the full term list for a loan.
//
// Returns a loan.ScheduleError (wrapping loan.ErrInvalidSchedule) when
// the loan's dates or total make a schedule underivable.
func Compute(l *loan.Loan, payments []loan.Payment, missed []loan.MissedPayment, now time.Time) ([]Term, error) {
	if !l.TotalAmount.IsPositive() {
		return nil, &loan.ScheduleError{LoanID: l.ID, Detail: "total amount must be positive"}
	}

	starts, err := termStarts(l)
	if err != nil {
		return nil, err
	}
	n := len(starts) - 1 // starts has one extra boundary past the last term

	perTerm := l.TotalAmount.Div(decimal.NewFromInt(int64(n))).Round(2)
	// The final term absorbs the rounding remainder so the schedule sums
	// back to the loan total exactly.
	finalTerm := l.TotalAmount.Sub(perTerm.Mul(decimal.NewFromInt(int64(n - 1))))

	terms := make([]Term, n)
	for i := 0; i < n; i++ {
		due := perTerm
		if i == n-1 {
			due = finalTerm
		}
		terms[i] = Term{
			TermNumber: i + 1,
			DueDate:    starts[i],
			AmountDue:  due,
			AmountPaid: decimal.Zero,
		}
	}

	for _, p := range payments {
		if i, ok := termIndex(starts, p.ReceivedAt); ok {
			terms[i].AmountPaid = terms[i].AmountPaid.Add(p.Amount)
			terms[i].PaymentIDs = append(terms[i].PaymentIDs, p.ID)
		}
	}

	blocked := make([]bool, n)
	for _, mp := range missed {
		i, ok := termIndex(starts, mp.ExpectedDate)
		if !ok {
			continue
		}
		if terms[i].MissedPaymentID == "" {
			terms[i].MissedPaymentID = mp.ID
		}
		if !mp.PaidLater {
			blocked[i] = true
			terms[i].MissedPaymentID = mp.ID
		}
	}

	for i := range terms {
		terms[i].Status = termStatus(&terms[i], blocked[i], starts[i], now)
	}
	return terms, nil
}

// termStatus applies the precedence: missed > paid > partial > overdue > pending.
func termStatus(t *Term, blocked bool, start time.Time, now time.Time) TermStatus {
	switch {
	case blocked:
		return StatusMissed
	case t.AmountPaid.GreaterThanOrEqual(t.AmountDue):
		return StatusPaid
	case t.AmountPaid.IsPositive():
		return StatusPartial
	case start.Before(now):
		return StatusOverdue
	default:
		return StatusPending
	}
}

// =============================================================================
// TERM BOUNDARIES
// =============================================================================

// termStarts returns the n+1 interval boundaries for a loan's n terms.
// starts[i] opens term i; starts[i+1] closes it (half-open). Loans are
// validated here, not only in Compute: TermCount, TermForTime, and
// TermBounds reach this with store-loaded loans whose dates may be bad.
func termStarts(l *loan.Loan) ([]time.Time, error) {
	if !l.DueDate.After(l.DisbursedAt) {
		return nil, &loan.ScheduleError{LoanID: l.ID, Detail: "due date must be after disbursement"}
	}
	var starts []time.Time
	switch l.Frequency {
	case loan.FrequencyDaily, loan.FrequencyWeekly:
		step := 24 * time.Hour
		if l.Frequency == loan.FrequencyWeekly {
			step = 7 * 24 * time.Hour
		}
		for at := l.DisbursedAt; at.Before(l.DueDate); at = at.Add(step) {
			starts = append(starts, at)
		}
		starts = append(starts, starts[len(starts)-1].Add(step))
	case loan.FrequencyMonthly:
		// Term i opens at disbursedAt advanced by i calendar months.
		for i := 0; ; i++ {
			at := l.DisbursedAt.AddDate(0, i, 0)
			starts = append(starts, at)
			if i > 0 && !at.Before(l.DueDate) {
				break
			}
		}
	default:
		return nil, &loan.ScheduleError{LoanID: l.ID, Detail: "unknown repayment frequency: " + string(l.Frequency)}
	}
	if len(starts) < 2 {
		return nil, &loan.ScheduleError{LoanID: l.ID, Detail: "no terms between disbursement and due date"}
	}
	return starts, nil
}

// termIndex locates the term whose [start, next-start) interval contains at.
func termIndex(starts []time.Time, at time.Time) (int, bool) {
	for i := 0; i < len(starts)-1; i++ {
		if !at.Before(starts[i]) && at.Before(starts[i+1]) {
			return i, true
		}
	}
	return 0, false
}

// TermCount returns how many terms a loan's frequency and date span yield,
// without building the full schedule.
func TermCount(l *loan.Loan) (int, error) {
	starts, err := termStarts(l)
	if err != nil {
		return 0, err
	}
	return len(starts) - 1, nil
}

// TermForTime returns the 1-based term number whose interval contains at,
// or false when at falls outside the schedule entirely.
func TermForTime(l *loan.Loan, at time.Time) (int, bool) {
	starts, err := termStarts(l)
	if err != nil {
		return 0, false
	}
	i, ok := termIndex(starts, at)
	if !ok {
		return 0, false
	}
	return i + 1, true
}

// TermBounds returns the half-open interval of the 1-based term number.
func TermBounds(l *loan.Loan, termNumber int) (start, end time.Time, err error) {
	starts, e := termStarts(l)
	if e != nil {
		return time.Time{}, time.Time{}, e
	}
	if termNumber < 1 || termNumber > len(starts)-1 {
		return time.Time{}, time.Time{}, &loan.ScheduleError{LoanID: l.ID, Detail: "term number out of range"}
	}
	return starts[termNumber-1], starts[termNumber], nil
}
