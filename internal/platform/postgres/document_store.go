package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// PostgresDocumentStore implements the store.DocumentStore interface
// using a PostgreSQL database as the storage backend.
type PostgresDocumentStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDocumentStore creates a new PostgreSQL implementation of the
// DocumentStore interface. If logger is nil, a default logger will be used.
func NewPostgresDocumentStore(db store.DBTX, logger *slog.Logger) *PostgresDocumentStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDocumentStore{
		db:     db,
		logger: logger.With(slog.String("component", "document_store")),
	}
}

// Ensure PostgresDocumentStore implements store.DocumentStore interface
var _ store.DocumentStore = (*PostgresDocumentStore)(nil)

// WithTx returns a new DocumentStore instance that uses the provided transaction.
func (s *PostgresDocumentStore) WithTx(tx *sql.Tx) store.DocumentStore {
	return &PostgresDocumentStore{
		db:     tx,
		logger: s.logger,
	}
}

// UpsertSummary implements store.DocumentStore.UpsertSummary.
// COALESCE keeps the stored summary when the incoming value is NULL, so a
// result without a summary never clobbers one written earlier.
func (s *PostgresDocumentStore) UpsertSummary(
	ctx context.Context,
	baseID, collection string,
	summary *string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO documents (base_id, collection, summary_short, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (base_id, collection) DO UPDATE
		SET summary_short = COALESCE(EXCLUDED.summary_short, documents.summary_short),
		    updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		baseID,
		collection,
		summary,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to upsert document summary",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID),
			slog.String("collection", collection))
		return MapError(err)
	}

	log.Debug("document summary upserted",
		slog.String("base_id", baseID),
		slog.String("collection", collection),
		slog.Bool("summary_present", summary != nil))
	return nil
}

// Get implements store.DocumentStore.Get.
func (s *PostgresDocumentStore) Get(
	ctx context.Context,
	baseID, collection string,
) (*domain.DocumentSummary, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT base_id, collection, COALESCE(summary_short, ''), updated_at
		FROM documents
		WHERE base_id = $1 AND collection = $2
	`

	var doc domain.DocumentSummary
	err := s.db.QueryRowContext(ctx, query, baseID, collection).Scan(
		&doc.BaseID,
		&doc.Collection,
		&doc.SummaryShort,
		&doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrDocumentNotFound
		}
		log.Error("failed to get document",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID))
		return nil, MapError(err)
	}

	return &doc, nil
}
