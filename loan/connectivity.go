package loan

import "sync/atomic"

// =============================================================================
// CONNECTIVITY - Injected reachability capability
// =============================================================================

// Connectivity reports whether the remote store is currently reachable.
// The recorder uses it to choose between applying a collection directly
// and queueing it; the sync coordinator refuses to drain while offline.
type Connectivity interface {
	Online() bool
}

// Tracker is a Connectivity toggled by the device (reconnect events,
// manual airplane-mode switches, test fixtures).
type Tracker struct {
	online atomic.Bool
}

func NewTracker(online bool) *Tracker {
	t := &Tracker{}
	t.online.Store(online)
	return t
}

func (t *Tracker) Online() bool     { return t.online.Load() }
func (t *Tracker) SetOnline(v bool) { t.online.Store(v) }
