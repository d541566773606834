/*
scheduler.go - Background sync scheduler

PURPOSE:
  Periodically attempts a queue drain for the device's agent and runs
  retention cleanup. A manual sync triggered from the API while a
  scheduled one runs simply gets the single-flight no-op report, so the
  two never overlap.

CONFIGURATION:
  - Interval: how often to attempt a drain (default: 1 minute)
  - UserID:   the agent whose queue this device drains

USAGE:
  scheduler := NewSyncScheduler(coordinator, queue, "agent-7", logger)
  scheduler.Start()
  ...
  scheduler.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kopa/loan-engine/queue"
)

// SyncScheduler drains the offline queue on a timer.
type SyncScheduler struct {
	Coordinator *queue.Coordinator
	Queue       *queue.Manager
	UserID      string
	Interval    time.Duration

	log    *logrus.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSyncScheduler(coord *queue.Coordinator, q *queue.Manager, userID string, log *logrus.Logger) *SyncScheduler {
	return &SyncScheduler{
		Coordinator: coord,
		Queue:       q,
		UserID:      userID,
		Interval:    time.Minute,
		log:         log,
		stop:        make(chan bool),
	}
}

// Start begins the scheduler.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()
	s.log.WithField("interval", s.Interval).Info("sync scheduler started")
}

// Stop stops the scheduler.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info("sync scheduler stopped")
	}
}

func (s *SyncScheduler) run() {
	defer s.wg.Done()

	// Attempt a drain immediately on start; reconnects usually happen
	// right before the process comes back up.
	s.tick()

	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *SyncScheduler) tick() {
	ctx := context.Background()

	report := s.Coordinator.Sync(ctx, s.UserID)
	if report.Success > 0 || report.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"success": report.Success,
			"failed":  report.Failed,
		}).Info("scheduled sync drained items")
	}

	if err := s.Queue.CleanupOldItems(ctx); err != nil {
		s.log.WithError(err).Error("scheduled queue cleanup")
	}
}
