package store

import (
	"context"
	"database/sql"
)

// QueueCounts are the O(1) queue-depth counters kept alongside the ledger.
// They are maintained inside the same transactions that move tasks, so they
// stay consistent with the ledger without requiring a full scan to read.
type QueueCounts struct {
	Pending int64 `json:"pending"`
	Dead    int64 `json:"dead"`
}

// CounterStore tracks per-collection pending and dead-letter task counts.
type CounterStore interface {
	// Add applies deltas to a collection's counters, creating the row on
	// first use. Negative results are clamped to zero.
	Add(ctx context.Context, collection string, pendingDelta, deadDelta int) error

	// Get returns the counters for one collection, or the sum across all
	// collections when collection is empty. Missing rows read as zero.
	Get(ctx context.Context, collection string) (QueueCounts, error)

	// WithTx returns a new CounterStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) CounterStore
}
