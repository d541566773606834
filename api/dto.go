/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model
  from the external contract. Amounts are serialized as strings so
  clients never see binary floating point.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation happens in handlers; business validation in the
  collections recorder. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/kopa/loan-engine/collections"
	"github.com/kopa/loan-engine/loan"
	"github.com/kopa/loan-engine/queue"
	"github.com/kopa/loan-engine/schedule"
)

// =============================================================================
// LOAN / SCHEDULE
// =============================================================================

type LoanDTO struct {
	ID              string `json:"id"`
	BorrowerID      string `json:"borrower_id"`
	Amount          string `json:"amount"`
	InterestRate    string `json:"interest_rate"`
	Tenure          int    `json:"tenure"`
	Frequency       string `json:"frequency"`
	TotalAmount     string `json:"total_amount"`
	PaidAmount      string `json:"paid_amount"`
	RemainingAmount string `json:"remaining_amount"`
	DisbursedAt     string `json:"disbursed_at"`
	DueDate         string `json:"due_date"`
	Status          string `json:"status"`
}

func toLoanDTO(l *loan.Loan) LoanDTO {
	return LoanDTO{
		ID:              string(l.ID),
		BorrowerID:      string(l.BorrowerID),
		Amount:          l.Amount.String(),
		InterestRate:    l.InterestRate.String(),
		Tenure:          l.Tenure,
		Frequency:       string(l.Frequency),
		TotalAmount:     l.TotalAmount.String(),
		PaidAmount:      l.PaidAmount.String(),
		RemainingAmount: l.RemainingAmount.String(),
		DisbursedAt:     l.DisbursedAt.Format(time.RFC3339),
		DueDate:         l.DueDate.Format(time.RFC3339),
		Status:          string(l.Status),
	}
}

type TermDTO struct {
	TermNumber int      `json:"term_number"`
	DueDate    string   `json:"due_date"`
	AmountDue  string   `json:"amount_due"`
	AmountPaid string   `json:"amount_paid"`
	Status     string   `json:"status"`
	PaymentIDs []string `json:"payment_ids,omitempty"`
	MissedID   string   `json:"missed_payment_id,omitempty"`
}

type SummaryDTO struct {
	TotalTerms   int    `json:"total_terms"`
	TotalDue     string `json:"total_due"`
	TotalPaid    string `json:"total_paid"`
	PaidTerms    int    `json:"paid_terms"`
	PartialTerms int    `json:"partial_terms"`
	MissedTerms  int    `json:"missed_terms"`
	OverdueTerms int    `json:"overdue_terms"`
	PendingTerms int    `json:"pending_terms"`
}

type ScheduleResponse struct {
	Loan    LoanDTO    `json:"loan"`
	Terms   []TermDTO  `json:"terms"`
	Summary SummaryDTO `json:"summary"`
}

func toScheduleResponse(l *loan.Loan, terms []schedule.Term) ScheduleResponse {
	dtos := make([]TermDTO, len(terms))
	for i, t := range terms {
		ids := make([]string, len(t.PaymentIDs))
		for j, id := range t.PaymentIDs {
			ids[j] = string(id)
		}
		dtos[i] = TermDTO{
			TermNumber: t.TermNumber,
			DueDate:    t.DueDate.Format(time.RFC3339),
			AmountDue:  t.AmountDue.String(),
			AmountPaid: t.AmountPaid.String(),
			Status:     string(t.Status),
			PaymentIDs: ids,
			MissedID:   string(t.MissedPaymentID),
		}
	}
	s := schedule.Summarize(terms)
	return ScheduleResponse{
		Loan:  toLoanDTO(l),
		Terms: dtos,
		Summary: SummaryDTO{
			TotalTerms:   s.TotalTerms,
			TotalDue:     s.TotalDue.String(),
			TotalPaid:    s.TotalPaid.String(),
			PaidTerms:    s.PaidTerms,
			PartialTerms: s.PartialTerms,
			MissedTerms:  s.MissedTerms,
			OverdueTerms: s.OverdueTerms,
			PendingTerms: s.PendingTerms,
		},
	}
}

// =============================================================================
// COLLECTIONS
// =============================================================================

// RecordCollectionRequest is the body of POST /api/loans/{id}/collections.
type RecordCollectionRequest struct {
	Kind          string `json:"kind"` // paid | missed
	Actor         string `json:"actor"`
	Amount        string `json:"amount,omitempty"`
	Method        string `json:"method,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	ReceivedAt    string `json:"received_at,omitempty"`
	Reason        string `json:"reason,omitempty"`
	ExpectedDate  string `json:"expected_date,omitempty"`
	TermNumber    int    `json:"term_number,omitempty"`
	PenaltyAmount string `json:"penalty_amount,omitempty"`
	PenaltyType   string `json:"penalty_type,omitempty"`
}

type CollectionResponse struct {
	Mode            string `json:"mode"` // applied | queued
	PaymentID       string `json:"payment_id,omitempty"`
	MissedPaymentID string `json:"missed_payment_id,omitempty"`
	PenaltyID       string `json:"penalty_id,omitempty"`
	QueueItemID     string `json:"queue_item_id,omitempty"`
	Overpaid        string `json:"overpaid,omitempty"`
}

func toCollectionResponse(res collections.Result) CollectionResponse {
	out := CollectionResponse{Mode: string(res.Mode)}
	if res.Payment != nil {
		out.PaymentID = string(res.Payment.ID)
	}
	if res.MissedPayment != nil {
		out.MissedPaymentID = string(res.MissedPayment.ID)
	}
	if res.Penalty != nil {
		out.PenaltyID = string(res.Penalty.ID)
	}
	if res.QueueItem != nil {
		out.QueueItemID = res.QueueItem.ID
	}
	if !res.Overpaid.IsZero() {
		out.Overpaid = res.Overpaid.String()
	}
	return out
}

// =============================================================================
// QUEUE / SYNC
// =============================================================================

type QueueStatsDTO struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

func toQueueStatsDTO(s queue.Stats) QueueStatsDTO {
	return QueueStatsDTO{Total: s.Total, Pending: s.Pending, Synced: s.Synced, Failed: s.Failed}
}

type SyncRequest struct {
	UserID string `json:"user_id"`
}

type SyncResponse struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

type RequeueResponse struct {
	Requeued int `json:"requeued"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
