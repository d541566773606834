/*
coordinator.go - Single-flight drain of the offline queue

PURPOSE:
  When connectivity returns, the Coordinator replays the user's pending
  items against the remote store, in enqueue order, through the same
  application functions the online path uses. One item's failure marks
  that item failed and moves on; it never aborts the batch.

SINGLE-FLIGHT:
  Exactly one drain runs per process. A reconnect event firing while a
  manual sync is already in flight gets a {0,0} report, not a second
  drain. The guard is released on every exit path.

ORDERING:
  Items apply strictly in enqueue order per user. There is no automatic
  retry of failed items; RequeueFailed on the Manager is the explicit
  re-submission path.
*/
package queue

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kopa/loan-engine/loan"
)

// Applier applies one queued mutation to the remote store. Implementations
// must be idempotent per item id: replaying an already-applied item must
// succeed without a second effect.
type Applier interface {
	Apply(ctx context.Context, item Item) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, item Item) error

func (f ApplierFunc) Apply(ctx context.Context, item Item) error { return f(ctx, item) }

// Report is the outcome of one drain pass.
type Report struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Coordinator drains the queue. One instance per process.
type Coordinator struct {
	manager  *Manager
	conn     loan.Connectivity
	log      *logrus.Logger
	appliers map[ActionType]Applier

	syncing atomic.Bool
}

func NewCoordinator(manager *Manager, conn loan.Connectivity, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		manager:  manager,
		conn:     conn,
		log:      log,
		appliers: make(map[ActionType]Applier),
	}
}

// Register installs the applier for an action type. The collection
// recorder registers itself here so online and drained mutations share
// one application path.
func (c *Coordinator) Register(action ActionType, a Applier) {
	c.appliers[action] = a
}

// Syncing reports whether a drain is currently in flight.
func (c *Coordinator) Syncing() bool { return c.syncing.Load() }

// Sync drains the user's pending items. It is a {0,0} no-op when a drain
// is already in flight or the device is offline.
func (c *Coordinator) Sync(ctx context.Context, userID string) Report {
	if !c.syncing.CompareAndSwap(false, true) {
		return Report{}
	}
	defer c.syncing.Store(false)

	if !c.conn.Online() {
		return Report{}
	}

	pending := c.manager.PendingFor(userID)
	if len(pending) == 0 {
		return Report{}
	}

	var report Report
	for _, item := range pending {
		err := c.apply(ctx, item)

		c.manager.mu.Lock()
		if err != nil {
			c.manager.markLocked(item.ID, StatusFailed, err.Error())
			report.Failed++
		} else {
			c.manager.markLocked(item.ID, StatusSynced, "")
			report.Success++
		}
		c.manager.mu.Unlock()

		if err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"item":   item.ID,
				"action": item.ActionType,
			}).Warn("sync item failed")
		}
	}

	c.manager.mu.Lock()
	if err := c.manager.persistLocked(ctx); err != nil {
		c.log.WithError(err).Error("persisting queue after drain")
	}
	c.manager.mu.Unlock()

	if err := c.manager.CleanupOldItems(ctx); err != nil {
		c.log.WithError(err).Error("queue cleanup after drain")
	}

	c.log.WithFields(logrus.Fields{
		"user":    userID,
		"success": report.Success,
		"failed":  report.Failed,
	}).Info("sync drain complete")
	return report
}

func (c *Coordinator) apply(ctx context.Context, item Item) error {
	a, ok := c.appliers[item.ActionType]
	if !ok {
		return &loan.RemoteApplyError{
			ItemID: item.ID,
			Action: string(item.ActionType),
			Err:    loan.ErrUnknownActionType,
		}
	}
	if err := a.Apply(ctx, item); err != nil {
		if loan.IsAlreadyApplied(err) {
			// A previous drain got the remote write in before crashing.
			return nil
		}
		return &loan.RemoteApplyError{
			ItemID: item.ID,
			Action: string(item.ActionType),
			Err:    err,
		}
	}
	return nil
}
