package store

import (
	"context"
	"database/sql"

	"github.com/marrowlabs/enrich-api/internal/domain"
)

// DocumentStore holds the per-document summary record.
type DocumentStore interface {
	// UpsertSummary writes the document's short summary, creating the
	// document row if needed. A nil summary never clobbers an existing
	// value; a non-nil summary overwrites unconditionally.
	UpsertSummary(ctx context.Context, baseID, collection string, summary *string) error

	// Get retrieves the document summary record.
	// Returns ErrDocumentNotFound if it does not exist.
	Get(ctx context.Context, baseID, collection string) (*domain.DocumentSummary, error)

	// WithTx returns a new DocumentStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) DocumentStore
}
