package api_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopa/loan-engine/api"
	"github.com/kopa/loan-engine/loan"
	"github.com/kopa/loan-engine/queue"
	"github.com/kopa/loan-engine/store/memory"
)

func TestSyncScheduler_DrainsOnStart(t *testing.T) {
	// GIVEN: A pending item and a connected device
	// WHEN: The scheduler starts
	// THEN: The immediate tick drains the queue without waiting a full
	//       interval

	log := logrus.New()
	log.SetOutput(io.Discard)

	clock := loan.NewFixedClock(time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC))
	m, err := queue.NewManager(context.Background(), memory.NewKV(), clock, log)
	require.NoError(t, err)
	coord := queue.NewCoordinator(m, loan.NewTracker(true), log)

	applied := make(chan string, 1)
	coord.Register(queue.ActionCollection, queue.ApplierFunc(
		func(_ context.Context, it queue.Item) error {
			applied <- it.ID
			return nil
		}))

	item, err := m.Enqueue(context.Background(), queue.ActionCollection,
		json.RawMessage(`{}`), "agent-1")
	require.NoError(t, err)

	s := api.NewSyncScheduler(coord, m, "agent-1", log)
	s.Interval = time.Hour // only the startup tick should fire
	s.Start()
	defer s.Stop()

	select {
	case id := <-applied:
		assert.Equal(t, item.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("startup tick never drained the queue")
	}

	require.Eventually(t, func() bool {
		return m.Stats(context.Background()).Synced == 1
	}, 2*time.Second, 10*time.Millisecond)
}
