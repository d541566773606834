package schedule

import "github.com/shopspring/decimal"

// =============================================================================
// SUMMARY - Roll-up statistics over a computed schedule
// =============================================================================

// Summary aggregates a schedule for display alongside the term list.
type Summary struct {
	TotalTerms   int
	TotalDue     decimal.Decimal
	TotalPaid    decimal.Decimal
	PaidTerms    int
	PartialTerms int
	MissedTerms  int
	OverdueTerms int
	PendingTerms int
}

// Summarize rolls a term list up into counts and totals.
func Summarize(terms []Term) Summary {
	s := Summary{
		TotalTerms: len(terms),
		TotalDue:   decimal.Zero,
		TotalPaid:  decimal.Zero,
	}
	for _, t := range terms {
		s.TotalDue = s.TotalDue.Add(t.AmountDue)
		s.TotalPaid = s.TotalPaid.Add(t.AmountPaid)
		switch t.Status {
		case StatusPaid:
			s.PaidTerms++
		case StatusPartial:
			s.PartialTerms++
		case StatusMissed:
			s.MissedTerms++
		case StatusOverdue:
			s.OverdueTerms++
		case StatusPending:
			s.PendingTerms++
		}
	}
	return s
}
