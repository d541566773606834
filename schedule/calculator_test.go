package schedule_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopa/loan-engine/loan"
	"github.com/kopa/loan-engine/schedule"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return loan.MustParseDecimal(s) }

func dailyLoan(total string, disbursed, due time.Time) *loan.Loan {
	return &loan.Loan{
		ID:              "loan-1",
		BorrowerID:      "b-1",
		Amount:          dec(total),
		TotalAmount:     dec(total),
		RemainingAmount: dec(total),
		Frequency:       loan.FrequencyDaily,
		DisbursedAt:     disbursed,
		DueDate:         due,
		Status:          loan.StatusActive,
	}
}

func payment(id string, amount string, at time.Time) loan.Payment {
	return loan.Payment{
		ID:         loan.PaymentID(id),
		LoanID:     "loan-1",
		Amount:     dec(amount),
		ReceivedAt: at,
	}
}

// =============================================================================
// TERM DERIVATION
// =============================================================================

func TestCompute_DailyTenDayLoan_TenEqualTerms(t *testing.T) {
	// GIVEN: 1000 disbursed 2024-01-01, due 2024-01-11, daily frequency
	// WHEN: Computing the schedule
	// THEN: 10 terms of 100 each, due dates one day apart

	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))

	terms, err := schedule.Compute(l, nil, nil, date(2024, time.January, 1))
	require.NoError(t, err)
	require.Len(t, terms, 10)

	for i, term := range terms {
		assert.Equal(t, i+1, term.TermNumber)
		assert.True(t, term.AmountDue.Equal(dec("100")), "term %d due %s", i+1, term.AmountDue)
		assert.Equal(t, date(2024, time.January, 1+i), term.DueDate)
	}
}

func TestCompute_PaymentLandsInItsTerm(t *testing.T) {
	// GIVEN: The ten-term daily loan and a 100 payment dated 2024-01-03
	// WHEN: Computing with now = disbursement
	// THEN: Term 3 is paid, every other term is pending

	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))
	payments := []loan.Payment{payment("p-1", "100", date(2024, time.January, 3))}

	terms, err := schedule.Compute(l, payments, nil, date(2024, time.January, 1))
	require.NoError(t, err)

	assert.Equal(t, schedule.StatusPaid, terms[2].Status)
	assert.Equal(t, []loan.PaymentID{"p-1"}, terms[2].PaymentIDs)
	for i, term := range terms {
		if i == 2 {
			continue
		}
		assert.Equal(t, schedule.StatusPending, term.Status, "term %d", i+1)
	}
}

func TestCompute_OverdueDependsOnNow(t *testing.T) {
	// GIVEN: The ten-term loan, one covered term, now = 2024-01-05
	// WHEN: Computing
	// THEN: Unpaid terms that already started are overdue, future ones pending

	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))
	payments := []loan.Payment{payment("p-1", "100", date(2024, time.January, 3))}

	terms, err := schedule.Compute(l, payments, nil, date(2024, time.January, 5).Add(10*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, schedule.StatusOverdue, terms[0].Status)
	assert.Equal(t, schedule.StatusOverdue, terms[1].Status)
	assert.Equal(t, schedule.StatusPaid, terms[2].Status)
	assert.Equal(t, schedule.StatusOverdue, terms[3].Status) // started Jan 4
	assert.Equal(t, schedule.StatusOverdue, terms[4].Status) // started Jan 5 midnight
	assert.Equal(t, schedule.StatusPending, terms[5].Status)
}

func TestCompute_WeeklyAndMonthlyTermCounts(t *testing.T) {
	cases := []struct {
		name  string
		freq  loan.Frequency
		due   time.Time
		terms int
	}{
		{"four full weeks", loan.FrequencyWeekly, date(2024, time.January, 29), 4},
		{"partial week rounds up", loan.FrequencyWeekly, date(2024, time.January, 25), 4},
		{"three months", loan.FrequencyMonthly, date(2024, time.April, 1), 3},
		{"partial month rounds up", loan.FrequencyMonthly, date(2024, time.March, 15), 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := dailyLoan("900", date(2024, time.January, 1), tc.due)
			l.Frequency = tc.freq

			terms, err := schedule.Compute(l, nil, nil, date(2024, time.January, 1))
			require.NoError(t, err)
			assert.Len(t, terms, tc.terms)

			n, err := schedule.TermCount(l)
			require.NoError(t, err)
			assert.Equal(t, tc.terms, n)
		})
	}
}

// =============================================================================
// ROUNDING
// =============================================================================

func TestCompute_RoundingRemainderGoesToFinalTerm(t *testing.T) {
	// GIVEN: 1000 over 7 weekly terms (142.86 rounded, remainder on the last)
	// WHEN: Computing
	// THEN: Sum of amount due equals the loan total exactly

	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.February, 19))
	l.Frequency = loan.FrequencyWeekly

	terms, err := schedule.Compute(l, nil, nil, date(2024, time.January, 1))
	require.NoError(t, err)
	require.Len(t, terms, 7)

	sum := decimal.Zero
	for _, term := range terms {
		sum = sum.Add(term.AmountDue)
	}
	assert.True(t, sum.Equal(l.TotalAmount), "sum %s != total %s", sum, l.TotalAmount)
	assert.True(t, terms[0].AmountDue.Equal(dec("142.86")))
	assert.True(t, terms[6].AmountDue.Equal(dec("142.84")))
}

func TestCompute_ScheduleAlwaysSumsToTotal(t *testing.T) {
	totals := []string{"1000", "999.99", "100", "33.33", "7777.77"}
	for _, total := range totals {
		l := dailyLoan(total, date(2024, time.March, 1), date(2024, time.March, 8))

		terms, err := schedule.Compute(l, nil, nil, date(2024, time.March, 1))
		require.NoError(t, err)

		sum := decimal.Zero
		for _, term := range terms {
			sum = sum.Add(term.AmountDue)
		}
		assert.True(t, sum.Equal(l.TotalAmount), "total %s: sum %s", total, sum)
	}
}

// =============================================================================
// STATUS PRECEDENCE
// =============================================================================

func TestCompute_MissedBeatsEverything(t *testing.T) {
	// GIVEN: A term with both a full payment and an unresolved missed notice
	// WHEN: Computing
	// THEN: The term is missed; the notice blocks until resolved

	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))
	payments := []loan.Payment{payment("p-1", "100", date(2024, time.January, 2))}
	missed := []loan.MissedPayment{{
		ID:           "m-1",
		LoanID:       l.ID,
		ExpectedDate: date(2024, time.January, 2),
		TermNumber:   2,
	}}

	terms, err := schedule.Compute(l, payments, missed, date(2024, time.January, 5))
	require.NoError(t, err)

	assert.Equal(t, schedule.StatusMissed, terms[1].Status)
	assert.Equal(t, loan.MissedPaymentID("m-1"), terms[1].MissedPaymentID)
}

func TestCompute_PaidLaterNeverMissed(t *testing.T) {
	// GIVEN: A missed notice whose paid_later flag is set
	// WHEN: Computing
	// THEN: The term takes its status from coverage, never missed

	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))
	missed := []loan.MissedPayment{{
		ID:           "m-1",
		LoanID:       l.ID,
		ExpectedDate: date(2024, time.January, 2),
		PaidLater:    true,
	}}

	terms, err := schedule.Compute(l, nil, missed, date(2024, time.January, 5))
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusOverdue, terms[1].Status)

	covered, err := schedule.Compute(l,
		[]loan.Payment{payment("p-1", "100", date(2024, time.January, 2))},
		missed, date(2024, time.January, 5))
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPaid, covered[1].Status)
}

func TestCompute_PartialCoverage(t *testing.T) {
	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))
	payments := []loan.Payment{payment("p-1", "40", date(2024, time.January, 2))}

	terms, err := schedule.Compute(l, payments, nil, date(2024, time.January, 1))
	require.NoError(t, err)

	assert.Equal(t, schedule.StatusPartial, terms[1].Status)
	assert.True(t, terms[1].AmountPaid.Equal(dec("40")))
}

func TestCompute_TwoPaymentsCoverOneTerm(t *testing.T) {
	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))
	payments := []loan.Payment{
		payment("p-1", "60", date(2024, time.January, 2)),
		payment("p-2", "40", date(2024, time.January, 2).Add(6*time.Hour)),
	}

	terms, err := schedule.Compute(l, payments, nil, date(2024, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPaid, terms[1].Status)
	assert.Len(t, terms[1].PaymentIDs, 2)
}

// =============================================================================
// INVALID INPUTS
// =============================================================================

func TestCompute_InvalidInputs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*loan.Loan)
	}{
		{"due before disbursement", func(l *loan.Loan) { l.DueDate = l.DisbursedAt.AddDate(0, 0, -1) }},
		{"due equals disbursement", func(l *loan.Loan) { l.DueDate = l.DisbursedAt }},
		{"zero total", func(l *loan.Loan) { l.TotalAmount = decimal.Zero }},
		{"negative total", func(l *loan.Loan) { l.TotalAmount = dec("-5") }},
		{"unknown frequency", func(l *loan.Loan) { l.Frequency = "fortnightly" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))
			tc.mutate(l)

			_, err := schedule.Compute(l, nil, nil, date(2024, time.January, 1))
			assert.ErrorIs(t, err, loan.ErrInvalidSchedule)
		})
	}
}

func TestTermHelpers_BadDatesErrorInsteadOfPanicking(t *testing.T) {
	// GIVEN: A stored loan whose due date does not follow disbursement
	// WHEN: Using the term helpers directly, as the recorder does
	// THEN: Every entry point reports invalid inputs

	for _, due := range []time.Time{
		date(2024, time.January, 1), // equal
		date(2023, time.December, 25),
	} {
		l := dailyLoan("1000", date(2024, time.January, 1), due)

		_, err := schedule.TermCount(l)
		assert.ErrorIs(t, err, loan.ErrInvalidSchedule)

		_, _, err = schedule.TermBounds(l, 1)
		assert.ErrorIs(t, err, loan.ErrInvalidSchedule)

		_, ok := schedule.TermForTime(l, date(2024, time.January, 2))
		assert.False(t, ok)
	}
}

// =============================================================================
// SUMMARY
// =============================================================================

func TestSummarize(t *testing.T) {
	l := dailyLoan("1000", date(2024, time.January, 1), date(2024, time.January, 11))
	payments := []loan.Payment{
		payment("p-1", "100", date(2024, time.January, 1)),
		payment("p-2", "50", date(2024, time.January, 2)),
	}
	missed := []loan.MissedPayment{{
		ID: "m-1", LoanID: l.ID, ExpectedDate: date(2024, time.January, 3),
	}}

	terms, err := schedule.Compute(l, payments, missed, date(2024, time.January, 5))
	require.NoError(t, err)

	s := schedule.Summarize(terms)
	assert.Equal(t, 10, s.TotalTerms)
	assert.Equal(t, 1, s.PaidTerms)
	assert.Equal(t, 1, s.PartialTerms)
	assert.Equal(t, 1, s.MissedTerms)
	assert.True(t, s.TotalDue.Equal(dec("1000")))
	assert.True(t, s.TotalPaid.Equal(dec("150")))
	assert.Equal(t, 10, s.PaidTerms+s.PartialTerms+s.MissedTerms+s.OverdueTerms+s.PendingTerms)
}
