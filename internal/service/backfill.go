package service

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// Enqueue bulk-creates pending tasks for existing chunks in a collection.
// Chunks already enriched are skipped unless force is set. Sibling counts
// are computed per document from the scanned window so every created task
// carries the total its claim response will need. Ledger writes happen in
// fixed-size batches, each in its own transaction; batches are independent
// and carry no ordering guarantee between them.
//
// When enrichment is administratively disabled this is a logged no-op, not
// an error. Returns the number of tasks enqueued.
func (s *EnrichmentService) Enqueue(
	ctx context.Context,
	collection string,
	force bool,
	docType string,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !s.cfg.Enabled {
		log.Info("enrichment disabled, skipping backfill",
			slog.String("collection", collection))
		return 0, nil
	}

	filter := store.ChunkFilter{Collection: collection, DocType: docType}
	chunks, err := s.chunks.Scan(ctx, filter, s.cfg.ScanCap)
	if err != nil {
		return 0, newServiceError("enqueue", "failed to scan chunks", err)
	}

	// Sibling counts first: totals must cover every chunk of a document in
	// the window, including ones the enriched filter will drop.
	totals := make(map[string]int)
	for _, chunk := range chunks {
		totals[chunk.BaseID+"\x00"+chunk.Collection]++
	}

	var selected []*domain.ChunkRecord
	for _, chunk := range chunks {
		if !force && chunk.EnrichmentStatus == domain.EnrichmentStatusEnriched {
			continue
		}
		selected = append(selected, chunk)
	}

	enqueued := 0
	for start := 0; start < len(selected); start += s.cfg.EnqueueBatchSize {
		end := start + s.cfg.EnqueueBatchSize
		if end > len(selected) {
			end = len(selected)
		}
		batch := selected[start:end]

		if err := s.enqueueBatch(ctx, batch, totals); err != nil {
			return enqueued, newServiceError("enqueue", "failed to enqueue batch", err)
		}
		enqueued += len(batch)
	}

	log.Info("backfill enqueued",
		slog.String("collection", collection),
		slog.Bool("force", force),
		slog.Int("scanned", len(chunks)),
		slog.Int("enqueued", enqueued))
	return enqueued, nil
}

// enqueueBatch creates tasks for one batch of chunks inside a single
// transaction, mirrors the pending status onto the chunks, and bumps the
// queue counters.
func (s *EnrichmentService) enqueueBatch(
	ctx context.Context,
	batch []*domain.ChunkRecord,
	totals map[string]int,
) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		tasks := s.tasks.WithTx(tx)
		chunks := s.chunks.WithTx(tx)
		counters := s.counters.WithTx(tx)

		created := make([]*domain.Task, 0, len(batch))
		perCollection := make(map[string]int)

		for _, chunk := range batch {
			task, err := domain.NewTask(domain.TaskPayload{
				BaseID:      chunk.BaseID,
				Collection:  chunk.Collection,
				DocType:     chunk.DocType,
				ChunkIndex:  chunk.ChunkIndex,
				TotalChunks: totals[chunk.BaseID+"\x00"+chunk.Collection],
				Text:        chunk.Text,
				Source:      chunk.Source,
				Tier1Meta:   chunk.Tier1Meta,
			})
			if err != nil {
				return err
			}
			task.MaxAttempts = s.cfg.MaxAttempts

			created = append(created, task)
			perCollection[chunk.Collection]++
		}

		if err := tasks.CreateTasks(ctx, created); err != nil {
			return err
		}

		for _, chunk := range batch {
			err := chunks.SetStatus(ctx,
				chunk.BaseID, chunk.Collection, chunk.ChunkIndex,
				domain.EnrichmentStatusPending)
			if err != nil {
				return err
			}
		}

		for coll, n := range perCollection {
			if err := counters.Add(ctx, coll, n, 0); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnqueueChunk creates a single pending task for one chunk. This is the
// per-item path ingestion calls right after embedding a chunk; it shares
// the bulk path's semantics, including the administrative-disable no-op.
// The sibling total is recomputed from the chunks currently stored for the
// document.
func (s *EnrichmentService) EnqueueChunk(
	ctx context.Context,
	baseID, collection string,
	chunkIndex int,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !s.cfg.Enabled {
		log.Debug("enrichment disabled, skipping enqueue",
			slog.String("base_id", baseID),
			slog.Int("chunk_index", chunkIndex))
		return nil
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		tasks := s.tasks.WithTx(tx)
		chunks := s.chunks.WithTx(tx)
		counters := s.counters.WithTx(tx)

		chunk, err := chunks.Get(ctx, baseID, collection, chunkIndex)
		if err != nil {
			return err
		}

		siblings, err := chunks.ListTexts(ctx, baseID, collection)
		if err != nil {
			return err
		}

		task, err := domain.NewTask(domain.TaskPayload{
			BaseID:      chunk.BaseID,
			Collection:  chunk.Collection,
			DocType:     chunk.DocType,
			ChunkIndex:  chunk.ChunkIndex,
			TotalChunks: len(siblings),
			Text:        chunk.Text,
			Source:      chunk.Source,
			Tier1Meta:   chunk.Tier1Meta,
		})
		if err != nil {
			return err
		}
		task.MaxAttempts = s.cfg.MaxAttempts

		if err := tasks.CreateTasks(ctx, []*domain.Task{task}); err != nil {
			return err
		}

		err = chunks.SetStatus(ctx, baseID, collection, chunkIndex,
			domain.EnrichmentStatusPending)
		if err != nil {
			return err
		}

		return counters.Add(ctx, collection, 1, 0)
	})
	if err != nil {
		return newServiceError("enqueue_chunk", "failed to enqueue chunk", err)
	}

	log.Debug("chunk enqueued",
		slog.String("base_id", baseID),
		slog.String("collection", collection),
		slog.Int("chunk_index", chunkIndex))
	return nil
}
