package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/marrowlabs/enrich-api/internal/domain"
)

// ChunkFilter narrows chunk scans. Zero values match everything.
type ChunkFilter struct {
	Collection string
	DocType    string
}

// ChunkStore provides access to embedded chunk records and their mutable
// enrichment state. Chunk creation belongs to the ingestion collaborator;
// it is exposed here so ingest paths and tests share one write path.
type ChunkStore interface {
	// Create inserts a new chunk record.
	Create(ctx context.Context, chunk *domain.ChunkRecord) error

	// Get retrieves a single chunk record.
	// Returns ErrChunkNotFound if it does not exist.
	Get(ctx context.Context, baseID, collection string, chunkIndex int) (*domain.ChunkRecord, error)

	// ListByDocument retrieves all chunk records for a document,
	// ordered by chunk index. Returns an empty slice when none exist.
	ListByDocument(ctx context.Context, baseID, collection string) ([]*domain.ChunkRecord, error)

	// ListTexts retrieves the ordered {chunkIndex, text} pairs for a
	// document. This is the sibling context handed to a claiming worker.
	ListTexts(ctx context.Context, baseID, collection string) ([]domain.ChunkText, error)

	// Scan reads up to limit chunk records matching the filter, oldest
	// first. Callers treat anything derived from a capped scan as
	// approximate once the cap is hit.
	Scan(ctx context.Context, filter ChunkFilter, limit int) ([]*domain.ChunkRecord, error)

	// SetStatus updates the enrichment status of one chunk.
	// Returns ErrChunkNotFound if the chunk does not exist.
	SetStatus(
		ctx context.Context,
		baseID, collection string,
		chunkIndex int,
		status domain.EnrichmentStatus,
	) error

	// ApplyEnrichment merges tier2/tier3 metadata into the chunk's existing
	// metadata (shallow key union, new values winning), marks the chunk
	// enriched and stamps enrichedAt. The merge happens at the storage
	// boundary in a single statement.
	// Returns ErrChunkNotFound if the chunk does not exist.
	ApplyEnrichment(
		ctx context.Context,
		baseID, collection string,
		chunkIndex int,
		tier2, tier3 domain.Meta,
		enrichedAt time.Time,
	) error

	// RecordFailure marks the chunk failed and stores the failure marker.
	// Returns ErrChunkNotFound if the chunk does not exist.
	RecordFailure(
		ctx context.Context,
		baseID, collection string,
		chunkIndex int,
		marker domain.FailureMarker,
	) error

	// WithTx returns a new ChunkStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) ChunkStore
}
