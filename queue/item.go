/*
Package queue implements the offline mutation queue and its sync drain.

PURPOSE:
  A field agent keeps recording collections while disconnected. Every
  mutation is durably written to the local device store before the call
  returns; the remote store only ever sees it during a later drain. The
  local queue is the source of truth for "has this mutation been
  recorded" - a crash between local write and remote mirror loses
  nothing, and a crash between remote success and local status update is
  absorbed by per-item idempotent application.

KEY CONCEPTS:
  - Item: one buffered mutation, keyed by the acting user
  - Manager: enqueue / stats / retention cleanup over the durable blob
  - Coordinator: single-flight drain against the remote store

PERSISTENCE FORMAT:
  The whole queue is serialized as one ordered JSON array under a single
  well-known key, rewritten in full on every mutation. Volumes are small
  (one device, one agent); the full rewrite keeps recovery trivial.

SEE ALSO:
  - manager.go: durable enqueue and bookkeeping
  - coordinator.go: drain algorithm and single-flight guard
*/
package queue

import (
	"encoding/json"
	"time"
)

// =============================================================================
// QUEUE ITEM
// =============================================================================

type ActionType string

const (
	ActionLoan       ActionType = "loan"
	ActionPayment    ActionType = "payment"
	ActionCollection ActionType = "collection"
	ActionBorrower   ActionType = "borrower"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Item is one buffered mutation.
//
// LIFECYCLE:
//   created pending on enqueue; moves to synced or failed only during a
//   drain pass; synced items are dropped after the retention window;
//   pending and failed items are retained until resolved.
type Item struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	ActionType ActionType      `json:"action_type"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`

	SyncedAt     *time.Time `json:"synced_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	// Attempts counts drain applications, successful or not. RequeueFailed
	// refuses items that already reached MaxAttempts.
	Attempts int `json:"attempts"`
}

// Stats are global per device, unfiltered.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}
