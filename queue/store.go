package queue

import "context"

// =============================================================================
// DURABLE LOCAL STORE - Key-value surface surviving process restarts
// =============================================================================

// KV is the durable local store the queue persists itself into: one
// opaque blob per key, written atomically. Implementations live in
// store/sqlite (production) and store/memory (tests).
type KV interface {
	// Get returns the blob under key, or (nil, nil) when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put durably replaces the blob under key before returning.
	Put(ctx context.Context, key string, value []byte) error
}

// StorageKey is the well-known key the full queue array lives under.
const StorageKey = "offline_queue"
