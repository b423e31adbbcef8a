package store

import (
	"context"
	"database/sql"

	"github.com/marrowlabs/enrich-api/internal/domain"
)

// GraphStore is an append-only sink for worker-extracted entities and
// relationships. Deduplication and graph expansion are downstream concerns;
// this interface only guarantees the rows land atomically with the rest of
// a result merge.
type GraphStore interface {
	// AppendEntities records extracted entities against their source chunk.
	AppendEntities(
		ctx context.Context,
		baseID, collection string,
		chunkIndex int,
		entities []domain.Entity,
	) error

	// AppendRelationships records extracted relationships against their source chunk.
	AppendRelationships(
		ctx context.Context,
		baseID, collection string,
		chunkIndex int,
		relationships []domain.Relationship,
	) error

	// WithTx returns a new GraphStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) GraphStore
}
