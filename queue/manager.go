/*
manager.go - Durable queue bookkeeping

PURPOSE:
  The Manager owns the local queue: enqueue, stats, retention cleanup,
  and the load/persist cycle against the durable local store. It is
  constructed once per process with its dependencies injected and passed
  by reference to every consumer; there is no ambient global queue.

DURABILITY CONTRACT:
  Enqueue persists the full queue locally BEFORE attempting the
  best-effort remote mirror. A local write failure fails the enqueue
  (wrapping loan.ErrLocalStore); a mirror failure is logged and
  swallowed - the local record is authoritative.
*/
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kopa/loan-engine/loan"
)

// RetentionWindow is how long synced items are kept before cleanup.
const RetentionWindow = 7 * 24 * time.Hour

// MaxAttempts bounds explicit re-submission of failed items.
const MaxAttempts = 5

// Manager owns the device-local mutation queue.
type Manager struct {
	kv    KV
	clock loan.Clock
	log   *logrus.Logger

	// Optional best-effort mirror to the remote store.
	mirror loan.QueueMirror
	conn   loan.Connectivity

	mu    sync.Mutex
	items []Item
}

// NewManager loads any queue persisted by a previous process run.
func NewManager(ctx context.Context, kv KV, clock loan.Clock, log *logrus.Logger) (*Manager, error) {
	m := &Manager{kv: kv, clock: clock, log: log}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// WithMirror attaches the best-effort remote mirror.
func (m *Manager) WithMirror(mirror loan.QueueMirror, conn loan.Connectivity) *Manager {
	m.mirror = mirror
	m.conn = conn
	return m
}

// =============================================================================
// ENQUEUE
// =============================================================================

// Enqueue durably buffers a mutation and returns the stored item.
func (m *Manager) Enqueue(ctx context.Context, action ActionType, payload json.RawMessage, userID string) (Item, error) {
	item := Item{
		ID:         uuid.NewString(),
		UserID:     userID,
		ActionType: action,
		Payload:    payload,
		Status:     StatusPending,
		CreatedAt:  m.clock.Now(),
	}

	m.mu.Lock()
	m.items = append(m.items, item)
	err := m.persistLocked(ctx)
	if err != nil {
		// Roll the in-memory append back; the caller must see the same
		// state a restart would recover.
		m.items = m.items[:len(m.items)-1]
	}
	m.mu.Unlock()
	if err != nil {
		return Item{}, err
	}

	m.mirrorItem(ctx, item)
	return item, nil
}

// mirrorItem reflects an item to the remote store when reachable.
// Failures are swallowed: the local record is authoritative.
func (m *Manager) mirrorItem(ctx context.Context, item Item) {
	if m.mirror == nil || m.conn == nil || !m.conn.Online() {
		return
	}
	err := m.mirror.UpsertMirrorItem(ctx, loan.MirrorItem{
		ID:           item.ID,
		UserID:       item.UserID,
		ActionType:   string(item.ActionType),
		Data:         item.Payload,
		Status:       string(item.Status),
		SyncedAt:     item.SyncedAt,
		ErrorMessage: item.ErrorMessage,
	})
	if err != nil {
		m.log.WithError(err).WithField("item", item.ID).Warn("queue mirror write failed")
	}
}

// =============================================================================
// STATS / INSPECTION
// =============================================================================

// Stats counts items by status across the whole device queue.
func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Total: len(m.items)}
	for _, it := range m.items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusSynced:
			s.Synced++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// PendingFor returns the user's pending items in enqueue order.
func (m *Manager) PendingFor(userID string) []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Item
	for _, it := range m.items {
		if it.UserID == userID && it.Status == StatusPending {
			out = append(out, it)
		}
	}
	return out
}

// Items returns a copy of the full queue, enqueue-ordered.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}

// =============================================================================
// STATUS TRANSITIONS (drain-only)
// =============================================================================

// markLocked records a drain outcome. Caller holds the lock.
func (m *Manager) markLocked(id string, status Status, errMsg string) {
	for i := range m.items {
		if m.items[i].ID != id {
			continue
		}
		m.items[i].Status = status
		m.items[i].Attempts++
		m.items[i].ErrorMessage = errMsg
		if status == StatusSynced {
			now := m.clock.Now()
			m.items[i].SyncedAt = &now
		}
		return
	}
}

// RequeueFailed flips the user's failed items back to pending so the next
// drain retries them. Items that already reached MaxAttempts stay failed.
// Returns how many items were requeued.
func (m *Manager) RequeueFailed(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.items {
		it := &m.items[i]
		if it.UserID == userID && it.Status == StatusFailed && it.Attempts < MaxAttempts {
			it.Status = StatusPending
			it.ErrorMessage = ""
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := m.persistLocked(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// CleanupOldItems drops synced items older than the retention window.
// Pending and failed items are kept regardless of age.
func (m *Manager) CleanupOldItems(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-RetentionWindow)
	kept := m.items[:0]
	removed := 0
	for _, it := range m.items {
		if it.Status == StatusSynced && it.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	m.items = kept
	if removed == 0 {
		return nil
	}
	m.log.WithField("removed", removed).Info("queue retention cleanup")
	return m.persistLocked(ctx)
}

// =============================================================================
// PERSISTENCE - Full-array blob under one key
// =============================================================================

func (m *Manager) load(ctx context.Context) error {
	blob, err := m.kv.Get(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("%w: %v", loan.ErrLocalStore, err)
	}
	if blob == nil {
		return nil
	}
	var items []Item
	if err := json.Unmarshal(blob, &items); err != nil {
		return fmt.Errorf("%w: corrupt queue blob: %v", loan.ErrLocalStore, err)
	}
	m.items = items
	return nil
}

// persistLocked rewrites the whole queue. Caller holds the lock.
func (m *Manager) persistLocked(ctx context.Context) error {
	blob, err := json.Marshal(m.items)
	if err != nil {
		return fmt.Errorf("%w: %v", loan.ErrLocalStore, err)
	}
	if err := m.kv.Put(ctx, StorageKey, blob); err != nil {
		return fmt.Errorf("%w: %v", loan.ErrLocalStore, err)
	}
	return nil
}
