package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// PostgresCounterStore implements the store.CounterStore interface.
// Counters are plain rows bumped inside the same transactions that move
// ledger tasks, giving queue-depth reads that don't scan the ledger.
type PostgresCounterStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresCounterStore creates a new PostgreSQL implementation of the
// CounterStore interface. If logger is nil, a default logger will be used.
func NewPostgresCounterStore(db store.DBTX, logger *slog.Logger) *PostgresCounterStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresCounterStore{
		db:     db,
		logger: logger.With(slog.String("component", "counter_store")),
	}
}

// Ensure PostgresCounterStore implements store.CounterStore interface
var _ store.CounterStore = (*PostgresCounterStore)(nil)

// WithTx returns a new CounterStore instance that uses the provided transaction.
func (s *PostgresCounterStore) WithTx(tx *sql.Tx) store.CounterStore {
	return &PostgresCounterStore{
		db:     tx,
		logger: s.logger,
	}
}

// Add implements store.CounterStore.Add.
func (s *PostgresCounterStore) Add(
	ctx context.Context,
	collection string,
	pendingDelta, deadDelta int,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if pendingDelta == 0 && deadDelta == 0 {
		return nil
	}

	query := `
		INSERT INTO enrichment_counters (collection, pending, dead)
		VALUES ($1, GREATEST($2, 0), GREATEST($3, 0))
		ON CONFLICT (collection) DO UPDATE
		SET pending = GREATEST(enrichment_counters.pending + $2, 0),
		    dead = GREATEST(enrichment_counters.dead + $3, 0)
	`

	if _, err := s.db.ExecContext(ctx, query, collection, pendingDelta, deadDelta); err != nil {
		log.Error("failed to update queue counters",
			slog.String("error", err.Error()),
			slog.String("collection", collection),
			slog.Int("pending_delta", pendingDelta),
			slog.Int("dead_delta", deadDelta))
		return MapError(err)
	}

	return nil
}

// Get implements store.CounterStore.Get.
func (s *PostgresCounterStore) Get(
	ctx context.Context,
	collection string,
) (store.QueueCounts, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT COALESCE(SUM(pending), 0), COALESCE(SUM(dead), 0)
		FROM enrichment_counters
		WHERE ($1 = '' OR collection = $1)
	`

	var counts store.QueueCounts
	err := s.db.QueryRowContext(ctx, query, collection).Scan(&counts.Pending, &counts.Dead)
	if err != nil {
		log.Error("failed to read queue counters",
			slog.String("error", err.Error()),
			slog.String("collection", collection))
		return store.QueueCounts{}, MapError(err)
	}

	return counts, nil
}
