package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// PostgresGraphStore implements the store.GraphStore interface as an
// append-only pair of tables. It exists so result merges can land entities
// and relationships in the same transaction as the chunk update; richer
// graph backends can replace it behind the same interface.
type PostgresGraphStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresGraphStore creates a new PostgreSQL implementation of the
// GraphStore interface. If logger is nil, a default logger will be used.
func NewPostgresGraphStore(db store.DBTX, logger *slog.Logger) *PostgresGraphStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresGraphStore{
		db:     db,
		logger: logger.With(slog.String("component", "graph_store")),
	}
}

// Ensure PostgresGraphStore implements store.GraphStore interface
var _ store.GraphStore = (*PostgresGraphStore)(nil)

// WithTx returns a new GraphStore instance that uses the provided transaction.
func (s *PostgresGraphStore) WithTx(tx *sql.Tx) store.GraphStore {
	return &PostgresGraphStore{
		db:     tx,
		logger: s.logger,
	}
}

// AppendEntities implements store.GraphStore.AppendEntities.
func (s *PostgresGraphStore) AppendEntities(
	ctx context.Context,
	baseID, collection string,
	chunkIndex int,
	entities []domain.Entity,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(entities) == 0 {
		return nil
	}

	const fieldCount = 7
	placeholders := make([]string, 0, len(entities))
	args := make([]any, 0, len(entities)*fieldCount)
	now := time.Now().UTC()

	for i, entity := range entities {
		base := i * fieldCount
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))

		attrs, err := metaParam(entity.Attrs)
		if err != nil {
			return err
		}

		args = append(args, baseID, collection, chunkIndex, entity.Name, entity.Kind, attrs, now)
	}

	query := `
		INSERT INTO graph_entities
			(base_id, collection, chunk_index, name, kind, attrs, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		log.Error("failed to append entities",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID),
			slog.Int("chunk_index", chunkIndex),
			slog.Int("count", len(entities)))
		return MapError(err)
	}

	log.Debug("entities appended",
		slog.String("base_id", baseID),
		slog.Int("chunk_index", chunkIndex),
		slog.Int("count", len(entities)))
	return nil
}

// AppendRelationships implements store.GraphStore.AppendRelationships.
func (s *PostgresGraphStore) AppendRelationships(
	ctx context.Context,
	baseID, collection string,
	chunkIndex int,
	relationships []domain.Relationship,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(relationships) == 0 {
		return nil
	}

	const fieldCount = 8
	placeholders := make([]string, 0, len(relationships))
	args := make([]any, 0, len(relationships)*fieldCount)
	now := time.Now().UTC()

	for i, rel := range relationships {
		base := i * fieldCount
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))

		attrs, err := metaParam(rel.Attrs)
		if err != nil {
			return err
		}

		args = append(args,
			baseID, collection, chunkIndex,
			rel.Source, rel.Target, rel.Relation, attrs, now)
	}

	query := `
		INSERT INTO graph_relationships
			(base_id, collection, chunk_index, source, target, relation, attrs, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		log.Error("failed to append relationships",
			slog.String("error", err.Error()),
			slog.String("base_id", baseID),
			slog.Int("chunk_index", chunkIndex),
			slog.Int("count", len(relationships)))
		return MapError(err)
	}

	log.Debug("relationships appended",
		slog.String("base_id", baseID),
		slog.Int("chunk_index", chunkIndex),
		slog.Int("count", len(relationships)))
	return nil
}
