/*
handlers.go - HTTP API handlers for the collection engine

PURPOSE:
  Exposes the core operations over REST. Handles HTTP request/response,
  JSON serialization, and delegates to the recorder, queue manager, and
  sync coordinator.

ENDPOINTS:
  GET    /api/loans/{id}              Loan record
  GET    /api/loans/{id}/schedule     Derived repayment schedule
  POST   /api/loans/{id}/collections  Record a collection (paid/missed)
  GET    /api/queue/stats             Offline queue counters
  POST   /api/queue/requeue           Re-submit failed items
  POST   /api/sync                    Drain the offline queue
  GET    /api/health                  Liveness probe

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid schedule inputs
  - 404: Loan not found
  - 500: Store failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kopa/loan-engine/collections"
	"github.com/kopa/loan-engine/loan"
	"github.com/kopa/loan-engine/queue"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Recorder    *collections.Recorder
	Queue       *queue.Manager
	Coordinator *queue.Coordinator
	Conn        *loan.Tracker
}

func NewHandler(rec *collections.Recorder, q *queue.Manager, coord *queue.Coordinator, conn *loan.Tracker) *Handler {
	return &Handler{Recorder: rec, Queue: q, Coordinator: coord, Conn: conn}
}

// =============================================================================
// LOAN / SCHEDULE HANDLERS
// =============================================================================

// GetLoan returns the raw loan record. No schedule derivation: a loan
// with underivable dates is still viewable here.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id := loan.LoanID(chi.URLParam(r, "id"))

	l, err := h.Recorder.Loan(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// GetSchedule derives and returns the loan's full term list.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id := loan.LoanID(chi.URLParam(r, "id"))

	l, terms, err := h.Recorder.Schedule(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to compute schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(l, terms))
}

// RecordCollection records a payment or missed-payment event. The agent
// gets the same success shape whether the collection applied remotely or
// was queued offline; only the mode field differs.
func (h *Handler) RecordCollection(w http.ResponseWriter, r *http.Request) {
	id := loan.LoanID(chi.URLParam(r, "id"))

	var req RecordCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}

	payload, err := toPayload(id, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid collection payload", err)
		return
	}

	res, err := h.Recorder.Record(r.Context(), payload)
	if err != nil {
		writeDomainError(w, "Failed to record collection", err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionResponse(res))
}

func toPayload(id loan.LoanID, req RecordCollectionRequest) (collections.Payload, error) {
	p := collections.Payload{
		Kind:          collections.Kind(req.Kind),
		LoanID:        id,
		Actor:         req.Actor,
		Method:        req.Method,
		TransactionID: req.TransactionID,
		Reason:        req.Reason,
		TermNumber:    req.TermNumber,
		PenaltyType:   req.PenaltyType,
	}
	var err error
	if req.Amount != "" {
		if p.Amount, err = decimal.NewFromString(req.Amount); err != nil {
			return p, &loan.ValidationError{Field: "amount", Detail: "not a decimal"}
		}
	}
	if req.PenaltyAmount != "" {
		if p.PenaltyAmount, err = decimal.NewFromString(req.PenaltyAmount); err != nil {
			return p, &loan.ValidationError{Field: "penalty_amount", Detail: "not a decimal"}
		}
	}
	if req.ReceivedAt != "" {
		if p.ReceivedAt, err = time.Parse(time.RFC3339, req.ReceivedAt); err != nil {
			return p, &loan.ValidationError{Field: "received_at", Detail: "not RFC3339"}
		}
	}
	if req.ExpectedDate != "" {
		if p.ExpectedDate, err = time.Parse(time.RFC3339, req.ExpectedDate); err != nil {
			return p, &loan.ValidationError{Field: "expected_date", Detail: "not RFC3339"}
		}
	}
	return p, nil
}

// =============================================================================
// QUEUE / SYNC HANDLERS
// =============================================================================

// GetQueueStats returns the device-global queue counters.
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toQueueStatsDTO(h.Queue.Stats(r.Context())))
}

// Sync drains the caller's pending items. A second call while one is in
// flight reports zero success and zero failure.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	report := h.Coordinator.Sync(r.Context(), req.UserID)
	writeJSON(w, http.StatusOK, SyncResponse{Success: report.Success, Failed: report.Failed})
}

// RequeueFailed flips a user's failed items back to pending.
func (h *Handler) RequeueFailed(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	n, err := h.Queue.RequeueFailed(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to requeue items", err)
		return
	}
	writeJSON(w, http.StatusOK, RequeueResponse{Requeued: n})
}

// Health reports liveness plus current connectivity state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": h.Conn.Online(),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case loan.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case loan.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
