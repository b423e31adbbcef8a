package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// chunkColumns is the canonical SELECT list for chunk rows.
const chunkColumns = `base_id, collection, chunk_index, doc_type, chunk_text, source,
	tier1_meta, tier2_meta, tier3_meta, enrichment_status, failure, enriched_at,
	created_at, updated_at`

// PostgresChunkStore implements the store.ChunkStore interface
// using a PostgreSQL database as the storage backend.
type PostgresChunkStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresChunkStore creates a new PostgreSQL implementation of the
// ChunkStore interface. If logger is nil, a default logger will be used.
func NewPostgresChunkStore(db store.DBTX, logger *slog.Logger) *PostgresChunkStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresChunkStore{
		db:     db,
		logger: logger.With(slog.String("component", "chunk_store")),
	}
}

// Ensure PostgresChunkStore implements store.ChunkStore interface
var _ store.ChunkStore = (*PostgresChunkStore)(nil)

// WithTx returns a new ChunkStore instance that uses the provided transaction.
func (s *PostgresChunkStore) WithTx(tx *sql.Tx) store.ChunkStore {
	return &PostgresChunkStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.ChunkStore.Create.
func (s *PostgresChunkStore) Create(ctx context.Context, chunk *domain.ChunkRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if chunk.EnrichmentStatus == "" {
		chunk.EnrichmentStatus = domain.EnrichmentStatusNone
	}
	if !domain.ValidEnrichmentStatus(chunk.EnrichmentStatus) {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrInvalidEnrichmentStatus)
	}

	tier1, err := metaParam(chunk.Tier1Meta)
	if err != nil {
		return err
	}
	tier2, err := metaParam(chunk.Tier2Meta)
	if err != nil {
		return err
	}
	tier3, err := metaParam(chunk.Tier3Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chunks
			(base_id, collection, chunk_index, doc_type, chunk_text, source,
			 tier1_meta, tier2_meta, tier3_meta, enrichment_status,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	now := time.Now().UTC()
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = now
	}
	chunk.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, query,
		chunk.BaseID,
		chunk.Collection,
		chunk.ChunkIndex,
		chunk.DocType,
		chunk.Text,
		chunk.Source,
		tier1,
		tier2,
		tier3,
		chunk.EnrichmentStatus,
		chunk.CreatedAt,
		chunk.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create chunk",
			slog.String("error", err.Error()),
			slog.String("base_id", chunk.BaseID),
			slog.Int("chunk_index", chunk.ChunkIndex))
		return MapError(err)
	}

	log.Debug("chunk created",
		slog.String("base_id", chunk.BaseID),
		slog.String("collection", chunk.Collection),
		slog.Int("chunk_index", chunk.ChunkIndex))
	return nil
}

// Get implements store.ChunkStore.Get.
func (s *PostgresChunkStore) Get(
	ctx context.Context,
	baseID, collection string,
	chunkIndex int,
) (*domain.ChunkRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(`
		SELECT %s
		FROM chunks
		WHERE base_id = $1 AND collection = $2 AND chunk_index = $3`, chunkColumns)

	row := s.db.QueryRowContext(ctx, query, baseID, collection, chunkIndex)

	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrChunkNotFound
		}
		log.Error("failed to get chunk",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID),
			slog.Int("chunk_index", chunkIndex))
		return nil, MapError(err)
	}

	return chunk, nil
}

// ListByDocument implements store.ChunkStore.ListByDocument.
func (s *PostgresChunkStore) ListByDocument(
	ctx context.Context,
	baseID, collection string,
) ([]*domain.ChunkRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(`
		SELECT %s
		FROM chunks
		WHERE base_id = $1 AND collection = $2
		ORDER BY chunk_index ASC`, chunkColumns)

	rows, err := s.db.QueryContext(ctx, query, baseID, collection)
	if err != nil {
		log.Error("failed to list chunks by document",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID))
		return nil, MapError(err)
	}
	defer closeRows(rows, log)

	chunks := []*domain.ChunkRecord{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			log.Error("failed to scan chunk row",
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning chunk rows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return chunks, nil
}

// ListTexts implements store.ChunkStore.ListTexts.
func (s *PostgresChunkStore) ListTexts(
	ctx context.Context,
	baseID, collection string,
) ([]domain.ChunkText, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT chunk_index, chunk_text
		FROM chunks
		WHERE base_id = $1 AND collection = $2
		ORDER BY chunk_index ASC
	`

	rows, err := s.db.QueryContext(ctx, query, baseID, collection)
	if err != nil {
		log.Error("failed to list chunk texts",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID))
		return nil, MapError(err)
	}
	defer closeRows(rows, log)

	texts := []domain.ChunkText{}
	for rows.Next() {
		var t domain.ChunkText
		if err := rows.Scan(&t.ChunkIndex, &t.Text); err != nil {
			log.Error("failed to scan chunk text row",
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		texts = append(texts, t)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning chunk text rows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return texts, nil
}

// Scan implements store.ChunkStore.Scan.
func (s *PostgresChunkStore) Scan(
	ctx context.Context,
	filter store.ChunkFilter,
	limit int,
) ([]*domain.ChunkRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		return []*domain.ChunkRecord{}, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM chunks
		WHERE ($1 = '' OR collection = $1)
		  AND ($2 = '' OR doc_type = $2)
		ORDER BY created_at ASC, base_id ASC, chunk_index ASC
		LIMIT $3`, chunkColumns)

	rows, err := s.db.QueryContext(ctx, query, filter.Collection, filter.DocType, limit)
	if err != nil {
		log.Error("failed to scan chunks",
			slog.String("error", err.Error()),
			slog.String("collection", filter.Collection))
		return nil, MapError(err)
	}
	defer closeRows(rows, log)

	chunks := []*domain.ChunkRecord{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			log.Error("failed to scan chunk row",
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning chunk rows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return chunks, nil
}

// SetStatus implements store.ChunkStore.SetStatus.
func (s *PostgresChunkStore) SetStatus(
	ctx context.Context,
	baseID, collection string,
	chunkIndex int,
	status domain.EnrichmentStatus,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !domain.ValidEnrichmentStatus(status) {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrInvalidEnrichmentStatus)
	}

	query := `
		UPDATE chunks
		SET enrichment_status = $1, updated_at = $2
		WHERE base_id = $3 AND collection = $4 AND chunk_index = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		status,
		time.Now().UTC(),
		baseID,
		collection,
		chunkIndex,
	)
	if err != nil {
		log.Error("failed to update chunk status",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID),
			slog.Int("chunk_index", chunkIndex),
			slog.String("status", string(status)))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrChunkNotFound); err != nil {
		return err
	}

	log.Debug("chunk status updated",
		slog.String("base_id", baseID),
		slog.Int("chunk_index", chunkIndex),
		slog.String("status", string(status)))
	return nil
}

// ApplyEnrichment implements store.ChunkStore.ApplyEnrichment.
// The jsonb || operator performs exactly the shallow key union we need:
// existing keys survive, new keys overlay, colliding keys take the new value.
func (s *PostgresChunkStore) ApplyEnrichment(
	ctx context.Context,
	baseID, collection string,
	chunkIndex int,
	tier2, tier3 domain.Meta,
	enrichedAt time.Time,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	tier2Param, err := metaParam(tier2)
	if err != nil {
		return err
	}
	tier3Param, err := metaParam(tier3)
	if err != nil {
		return err
	}

	query := `
		UPDATE chunks
		SET tier2_meta = COALESCE(tier2_meta, '{}'::jsonb) || COALESCE($1::jsonb, '{}'::jsonb),
		    tier3_meta = COALESCE(tier3_meta, '{}'::jsonb) || COALESCE($2::jsonb, '{}'::jsonb),
		    enrichment_status = $3,
		    failure = NULL,
		    enriched_at = $4,
		    updated_at = $5
		WHERE base_id = $6 AND collection = $7 AND chunk_index = $8
	`

	result, err := s.db.ExecContext(ctx, query,
		tier2Param,
		tier3Param,
		domain.EnrichmentStatusEnriched,
		enrichedAt,
		time.Now().UTC(),
		baseID,
		collection,
		chunkIndex,
	)
	if err != nil {
		log.Error("failed to apply enrichment",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID),
			slog.Int("chunk_index", chunkIndex))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrChunkNotFound); err != nil {
		return err
	}

	log.Info("chunk enriched",
		slog.String("base_id", baseID),
		slog.String("collection", collection),
		slog.Int("chunk_index", chunkIndex))
	return nil
}

// RecordFailure implements store.ChunkStore.RecordFailure.
func (s *PostgresChunkStore) RecordFailure(
	ctx context.Context,
	baseID, collection string,
	chunkIndex int,
	marker domain.FailureMarker,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	markerJSON, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal failure marker: %w", err)
	}

	query := `
		UPDATE chunks
		SET enrichment_status = $1, failure = $2, updated_at = $3
		WHERE base_id = $4 AND collection = $5 AND chunk_index = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.EnrichmentStatusFailed,
		markerJSON,
		time.Now().UTC(),
		baseID,
		collection,
		chunkIndex,
	)
	if err != nil {
		log.Error("failed to record chunk failure",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID),
			slog.Int("chunk_index", chunkIndex))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrChunkNotFound); err != nil {
		return err
	}

	log.Warn("chunk failure recorded",
		slog.String("base_id", baseID),
		slog.Int("chunk_index", chunkIndex),
		slog.String("last_error", marker.LastError),
		slog.Bool("dead", marker.Dead))
	return nil
}

// scanChunk reads one chunk row into a domain.ChunkRecord.
func scanChunk(row rowScanner) (*domain.ChunkRecord, error) {
	var (
		chunk      domain.ChunkRecord
		status     string
		tier1      []byte
		tier2      []byte
		tier3      []byte
		failure    []byte
		enrichedAt sql.NullTime
	)

	err := row.Scan(
		&chunk.BaseID,
		&chunk.Collection,
		&chunk.ChunkIndex,
		&chunk.DocType,
		&chunk.Text,
		&chunk.Source,
		&tier1,
		&tier2,
		&tier3,
		&status,
		&failure,
		&enrichedAt,
		&chunk.CreatedAt,
		&chunk.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	chunk.EnrichmentStatus = domain.EnrichmentStatus(status)
	if enrichedAt.Valid {
		t := enrichedAt.Time
		chunk.EnrichedAt = &t
	}

	if chunk.Tier1Meta, err = scanMeta(tier1); err != nil {
		return nil, err
	}
	if chunk.Tier2Meta, err = scanMeta(tier2); err != nil {
		return nil, err
	}
	if chunk.Tier3Meta, err = scanMeta(tier3); err != nil {
		return nil, err
	}

	if len(failure) > 0 {
		var marker domain.FailureMarker
		if err := json.Unmarshal(failure, &marker); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure marker: %w", err)
		}
		chunk.Failure = &marker
	}

	return &chunk, nil
}

// closeRows closes a result set and logs when the close fails.
func closeRows(rows *sql.Rows, log *slog.Logger) {
	if err := rows.Close(); err != nil {
		log.Error("failed to close rows", slog.String("error", err.Error()))
	}
}
