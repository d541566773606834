package collections

import (
	"context"

	"github.com/kopa/loan-engine/loan"
	"github.com/kopa/loan-engine/schedule"
)

// Loan returns the raw loan record without deriving its schedule, so a
// loan stays viewable even when its dates make the schedule underivable.
func (r *Recorder) Loan(ctx context.Context, id loan.LoanID) (*loan.Loan, error) {
	return r.store.LoanByID(ctx, id)
}

// Schedule loads a loan's records and derives its current term list.
// Read-only; the schedule is recomputed on every call.
func (r *Recorder) Schedule(ctx context.Context, id loan.LoanID) (*loan.Loan, []schedule.Term, error) {
	l, err := r.store.LoanByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payments, err := r.store.PaymentsByLoan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	missed, err := r.store.MissedPaymentsByLoan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	terms, err := schedule.Compute(l, payments, missed, r.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	return l, terms, nil
}
