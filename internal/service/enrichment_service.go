package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marrowlabs/enrich-api/internal/config"
	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// DefaultWorkerID is recorded on claims that don't identify their worker.
const DefaultWorkerID = "unknown"

// ClaimResult is the outcome of a claim call. A nil Task means no work was
// eligible; Chunks then is nil as well. When a task is returned, Chunks
// holds the ordered text of every chunk in the task's document so workers
// can produce document-level output.
type ClaimResult struct {
	Task   *domain.Task
	Chunks []domain.ChunkText
}

// ResultSubmission is a worker's output for one claimed task.
type ResultSubmission struct {
	ChunkID       string
	Collection    string
	Tier2         domain.Meta
	Tier3         domain.Meta
	Entities      []domain.Entity
	Relationships []domain.Relationship
	// Summary may be set explicitly or embedded as Tier3["summary"];
	// the explicit value wins when both are present.
	Summary *string
}

// EnrichmentService owns the enrichment work ledger and every transition on
// it. All multi-store transitions run inside a single database transaction,
// so a crash mid-operation never leaves the ledger and the chunk state
// disagreeing.
type EnrichmentService struct {
	db        *sql.DB
	tasks     store.TaskStore
	chunks    store.ChunkStore
	documents store.DocumentStore
	graph     store.GraphStore
	counters  store.CounterStore
	cfg       config.EnrichmentConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewEnrichmentService creates a new EnrichmentService.
// It returns an error if any of the required dependencies are nil.
func NewEnrichmentService(
	db *sql.DB,
	tasks store.TaskStore,
	chunks store.ChunkStore,
	documents store.DocumentStore,
	graph store.GraphStore,
	counters store.CounterStore,
	cfg config.EnrichmentConfig,
	log *slog.Logger,
) (*EnrichmentService, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if chunks == nil {
		return nil, fmt.Errorf("chunk store cannot be nil")
	}
	if documents == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if graph == nil {
		return nil, fmt.Errorf("graph store cannot be nil")
	}
	if counters == nil {
		return nil, fmt.Errorf("counter store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &EnrichmentService{
		db:        db,
		tasks:     tasks,
		chunks:    chunks,
		documents: documents,
		graph:     graph,
		counters:  counters,
		cfg:       cfg,
		logger:    log.With(slog.String("component", "enrichment_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// clampLease applies the default and bounds to a requested lease duration.
func (s *EnrichmentService) clampLease(lease time.Duration) time.Duration {
	if lease == 0 {
		lease = s.cfg.DefaultLease
	}
	if lease < s.cfg.MinLease {
		lease = s.cfg.MinLease
	}
	if lease > s.cfg.MaxLease {
		lease = s.cfg.MaxLease
	}
	return lease
}

// Claim atomically hands the oldest eligible pending task to a worker.
// workerID defaults to DefaultWorkerID; lease defaults to the configured
// lease and is clamped to the configured bounds. An empty result is success:
// it means no pending work exists right now.
func (s *EnrichmentService) Claim(
	ctx context.Context,
	workerID string,
	lease time.Duration,
) (*ClaimResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if workerID == "" {
		workerID = DefaultWorkerID
	}
	lease = s.clampLease(lease)

	result := &ClaimResult{}
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		tasks := s.tasks.WithTx(tx)
		chunks := s.chunks.WithTx(tx)

		task, err := tasks.ClaimOldestPending(ctx, workerID, s.now().Add(lease))
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}

		// Mirror the claim onto the chunk's visible state.
		err = chunks.SetStatus(ctx,
			task.Payload.BaseID, task.Payload.Collection, task.Payload.ChunkIndex,
			domain.EnrichmentStatusProcessing)
		if err != nil {
			return err
		}

		texts, err := chunks.ListTexts(ctx, task.Payload.BaseID, task.Payload.Collection)
		if err != nil {
			return err
		}

		result.Task = task
		result.Chunks = texts
		return nil
	})
	if err != nil {
		return nil, newServiceError("claim", "failed to claim task", err)
	}

	if result.Task == nil {
		log.Debug("claim found no eligible task",
			slog.String("worker_id", workerID))
	} else {
		log.Info("task claimed",
			slog.String("task_id", result.Task.ID.String()),
			slog.String("worker_id", workerID),
			slog.Duration("lease", lease),
			slog.Int("sibling_chunks", len(result.Chunks)))
	}
	return result, nil
}

// SubmitResult merges a worker's output for a claimed task and retires the
// task, all in one transaction. Validation failures (malformed chunk ID or
// index) reject the call before any state is touched. A task that is no
// longer claimed (retired, dead, or recovered and re-claimed by another
// worker) yields ErrTaskNotFound and leaves the newer state untouched.
func (s *EnrichmentService) SubmitResult(
	ctx context.Context,
	taskID uuid.UUID,
	submission ResultSubmission,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	baseID, chunkIndex, err := domain.ParseChunkID(submission.ChunkID)
	if err != nil {
		log.Warn("rejected result with malformed chunk ID",
			slog.String("task_id", taskID.String()),
			slog.String("chunk_id", submission.ChunkID),
			slog.String("error", err.Error()))
		return err
	}

	tier3, summary := extractSummary(submission.Tier3, submission.Summary)

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		tasks := s.tasks.WithTx(tx)
		chunks := s.chunks.WithTx(tx)
		documents := s.documents.WithTx(tx)
		graph := s.graph.WithTx(tx)
		counters := s.counters.WithTx(tx)

		task, err := tasks.GetClaimed(ctx, taskID)
		if err != nil {
			return err
		}

		err = chunks.ApplyEnrichment(ctx,
			baseID, submission.Collection, chunkIndex,
			submission.Tier2, tier3, s.now())
		if err != nil {
			return err
		}

		// The summary is document-scoped; a nil value never clobbers an
		// existing one at the store level.
		err = documents.UpsertSummary(ctx, baseID, submission.Collection, summary)
		if err != nil {
			return err
		}

		err = graph.AppendEntities(ctx,
			baseID, submission.Collection, chunkIndex, submission.Entities)
		if err != nil {
			return err
		}
		err = graph.AppendRelationships(ctx,
			baseID, submission.Collection, chunkIndex, submission.Relationships)
		if err != nil {
			return err
		}

		if err := tasks.Delete(ctx, task.ID); err != nil {
			return err
		}
		return counters.Add(ctx, task.Payload.Collection, -1, 0)
	})
	if err != nil {
		return newServiceError("submit_result", "failed to merge result", err)
	}

	log.Info("result merged",
		slog.String("task_id", taskID.String()),
		slog.String("base_id", baseID),
		slog.String("collection", submission.Collection),
		slog.Int("chunk_index", chunkIndex),
		slog.Int("entities", len(submission.Entities)),
		slog.Int("relationships", len(submission.Relationships)),
		slog.Bool("summary_present", summary != nil))
	return nil
}

// FailTask records a worker's failure report for a claimed task. The chunk
// failure marker is always written; the task then either returns to pending
// with a bumped attempt counter and a backoff delay, or moves to the
// dead-letter state once its retry budget is spent.
func (s *EnrichmentService) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var dead bool
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		tasks := s.tasks.WithTx(tx)
		chunks := s.chunks.WithTx(tx)
		counters := s.counters.WithTx(tx)

		task, err := tasks.GetClaimed(ctx, taskID)
		if err != nil {
			return err
		}

		dead = task.Exhausted()
		marker := domain.FailureMarker{
			LastError:   errMsg,
			LastTaskID:  task.ID,
			Attempt:     task.Attempt,
			MaxAttempts: task.MaxAttempts,
			Dead:        dead,
		}

		err = chunks.RecordFailure(ctx,
			task.Payload.BaseID, task.Payload.Collection, task.Payload.ChunkIndex, marker)
		if err != nil {
			return err
		}

		if dead {
			if err := tasks.MarkDead(ctx, task.ID, errMsg); err != nil {
				return err
			}
			return counters.Add(ctx, task.Payload.Collection, -1, 1)
		}

		return tasks.Reschedule(ctx,
			task.ID, task.Attempt+1, errMsg, s.now().Add(s.cfg.RetryBackoff))
	})
	if err != nil {
		return newServiceError("fail_task", "failed to record failure", err)
	}

	log.Warn("task failure recorded",
		slog.String("task_id", taskID.String()),
		slog.String("error_message", errMsg),
		slog.Bool("dead", dead))
	return nil
}

// RecoverStaleTasks returns every claimed task whose lease expired without a
// report back to the pending pool, untouched: no attempt increment, no
// error written. Returns the number recovered; zero is the normal case.
func (s *EnrichmentService) RecoverStaleTasks(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var recovered int
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		tasks := s.tasks.WithTx(tx)
		chunks := s.chunks.WithTx(tx)

		expired, err := tasks.RecoverExpired(ctx, s.now())
		if err != nil {
			return err
		}

		for _, task := range expired {
			err = chunks.SetStatus(ctx,
				task.Payload.BaseID, task.Payload.Collection, task.Payload.ChunkIndex,
				domain.EnrichmentStatusPending)
			if err != nil {
				return err
			}
		}

		recovered = len(expired)
		return nil
	})
	if err != nil {
		return 0, newServiceError("recover_stale", "failed to recover stale tasks", err)
	}

	if recovered > 0 {
		log.Info("stale leases recovered",
			slog.Int("count", recovered))
	}
	return recovered, nil
}

// extractSummary separates the document-scoped summary from a chunk's tier-3
// metadata. The returned metadata never contains a "summary" key; the
// returned pointer is the explicit summary when given, otherwise the value
// lifted out of the metadata, otherwise nil. The input map is not modified.
func extractSummary(tier3 domain.Meta, explicit *string) (domain.Meta, *string) {
	summary := explicit

	if tier3 == nil {
		return nil, summary
	}

	embedded, present := tier3["summary"]
	if !present {
		return tier3, summary
	}

	stripped := make(domain.Meta, len(tier3))
	for k, v := range tier3 {
		if k == "summary" {
			continue
		}
		stripped[k] = v
	}

	if summary == nil {
		if text, ok := embedded.(string); ok && text != "" {
			summary = &text
		}
	}

	return stripped, summary
}
