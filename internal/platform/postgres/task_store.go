package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// taskColumns is the canonical SELECT list for ledger rows, shared by every
// query that scans a full task.
const taskColumns = `id, base_id, collection, doc_type, chunk_index, total_chunks,
	chunk_text, source, tier1_meta, status, attempt, max_attempts,
	worker_id, lease_expires_at, next_attempt_at, last_error, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the
// TaskStore interface. It accepts a database connection or transaction that
// should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a new TaskStore instance that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// CreateTasks implements store.TaskStore.CreateTasks.
// All tasks are written in one multi-row INSERT so a batch lands atomically.
func (s *PostgresTaskStore) CreateTasks(ctx context.Context, tasks []*domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(tasks) == 0 {
		return nil
	}

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			log.Warn("task validation failed during create",
				slog.String("error", err.Error()),
				slog.String("task_id", t.ID.String()))
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	const fieldCount = 14
	placeholders := make([]string, 0, len(tasks))
	args := make([]any, 0, len(tasks)*fieldCount)

	for i, t := range tasks {
		base := i * fieldCount
		marks := make([]string, fieldCount)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")

		tier1, err := metaParam(t.Payload.Tier1Meta)
		if err != nil {
			return err
		}

		args = append(args,
			t.ID,
			t.Payload.BaseID,
			t.Payload.Collection,
			t.Payload.DocType,
			t.Payload.ChunkIndex,
			t.Payload.TotalChunks,
			t.Payload.Text,
			t.Payload.Source,
			tier1,
			t.Status,
			t.Attempt,
			t.MaxAttempts,
			t.CreatedAt,
			t.UpdatedAt,
		)
	}

	query := `
		INSERT INTO enrichment_tasks
			(id, base_id, collection, doc_type, chunk_index, total_chunks,
			 chunk_text, source, tier1_meta, status, attempt, max_attempts,
			 created_at, updated_at)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		log.Error("failed to create tasks",
			slog.String("error", err.Error()),
			slog.Int("count", len(tasks)))
		return MapError(err)
	}

	log.Debug("tasks created",
		slog.Int("count", len(tasks)))
	return nil
}

// ClaimOldestPending implements store.TaskStore.ClaimOldestPending.
//
// The sub-select locks the single oldest eligible pending row with
// FOR UPDATE SKIP LOCKED, so concurrent claimants each lock a distinct row
// (or none) instead of blocking on or double-claiming the same one. The
// outer UPDATE marks it claimed and returns it in the same statement.
func (s *PostgresTaskStore) ClaimOldestPending(
	ctx context.Context,
	workerID string,
	leaseExpiresAt time.Time,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE enrichment_tasks
		SET status = $1, worker_id = $2, lease_expires_at = $3, updated_at = $4
		WHERE id = (
			SELECT id
			FROM enrichment_tasks
			WHERE status = $5
			  AND (next_attempt_at IS NULL OR next_attempt_at <= $4)
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, taskColumns)

	row := s.db.QueryRowContext(ctx, query,
		domain.TaskStatusClaimed,
		workerID,
		leaseExpiresAt,
		now,
		domain.TaskStatusPending,
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing eligible; not an error.
			return nil, nil
		}
		log.Error("failed to claim task",
			slog.String("error", err.Error()),
			slog.String("worker_id", workerID))
		return nil, MapError(err)
	}

	log.Info("task claimed",
		slog.String("task_id", task.ID.String()),
		slog.String("worker_id", workerID),
		slog.Time("lease_expires_at", leaseExpiresAt))
	return task, nil
}

// GetClaimed implements store.TaskStore.GetClaimed.
// The row is locked FOR UPDATE so that, inside a submit or fail transaction,
// a concurrent lease sweep cannot flip the task back to pending between this
// read and the mutation that follows it.
func (s *PostgresTaskStore) GetClaimed(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(`
		SELECT %s
		FROM enrichment_tasks
		WHERE id = $1 AND status = $2
		FOR UPDATE`, taskColumns)

	row := s.db.QueryRowContext(ctx, query, id, domain.TaskStatusClaimed)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("claimed task not found",
				slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get claimed task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	return task, nil
}

// Delete implements store.TaskStore.Delete.
// Like Reschedule and MarkDead, the status guard makes the success path
// optimistic: a task whose lease was swept (and possibly re-claimed) is no
// longer this caller's to retire, so the delete affects zero rows and
// surfaces as not found.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM enrichment_tasks WHERE id = $1 AND status = $2`,
		id, domain.TaskStatusClaimed)
	if err != nil {
		log.Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrTaskNotFound); err != nil {
		return err
	}

	log.Debug("task deleted",
		slog.String("task_id", id.String()))
	return nil
}

// Reschedule implements store.TaskStore.Reschedule.
// The status guard in the WHERE clause is the optimistic-concurrency check:
// a late failure report against a task that was already recovered and
// re-claimed, retired or killed affects zero rows and surfaces as not found.
func (s *PostgresTaskStore) Reschedule(
	ctx context.Context,
	id uuid.UUID,
	attempt int,
	lastError string,
	nextAttemptAt time.Time,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE enrichment_tasks
		SET status = $1, attempt = $2, last_error = $3, next_attempt_at = $4,
		    worker_id = NULL, lease_expires_at = NULL, updated_at = $5
		WHERE id = $6 AND status = $7
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusPending,
		attempt,
		lastError,
		nextAttemptAt,
		time.Now().UTC(),
		id,
		domain.TaskStatusClaimed,
	)
	if err != nil {
		log.Error("failed to reschedule task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrTaskNotFound); err != nil {
		return err
	}

	log.Info("task rescheduled",
		slog.String("task_id", id.String()),
		slog.Int("attempt", attempt),
		slog.Time("next_attempt_at", nextAttemptAt))
	return nil
}

// MarkDead implements store.TaskStore.MarkDead.
func (s *PostgresTaskStore) MarkDead(ctx context.Context, id uuid.UUID, lastError string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE enrichment_tasks
		SET status = $1, last_error = $2,
		    worker_id = NULL, lease_expires_at = NULL, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusDead,
		lastError,
		time.Now().UTC(),
		id,
		domain.TaskStatusClaimed,
	)
	if err != nil {
		log.Error("failed to mark task dead",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrTaskNotFound); err != nil {
		return err
	}

	log.Warn("task moved to dead letter",
		slog.String("task_id", id.String()),
		slog.String("last_error", lastError))
	return nil
}

// RecoverExpired implements store.TaskStore.RecoverExpired.
// Attempt counters and error fields are deliberately untouched: an expired
// lease means the worker never reported, not that the work failed.
func (s *PostgresTaskStore) RecoverExpired(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(`
		UPDATE enrichment_tasks
		SET status = $1, worker_id = NULL, lease_expires_at = NULL, updated_at = $2
		WHERE status = $3 AND lease_expires_at < $4
		RETURNING %s`, taskColumns)

	rows, err := s.db.QueryContext(ctx, query,
		domain.TaskStatusPending,
		time.Now().UTC(),
		domain.TaskStatusClaimed,
		now,
	)
	if err != nil {
		log.Error("failed to recover expired tasks",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	recovered := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan recovered task row",
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		recovered = append(recovered, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning recovered task rows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	if len(recovered) > 0 {
		log.Info("recovered expired task leases",
			slog.Int("count", len(recovered)))
	}
	return recovered, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one ledger row into a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task           domain.Task
		status         string
		tier1          []byte
		workerID       sql.NullString
		leaseExpiresAt sql.NullTime
		nextAttemptAt  sql.NullTime
		lastError      sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.Payload.BaseID,
		&task.Payload.Collection,
		&task.Payload.DocType,
		&task.Payload.ChunkIndex,
		&task.Payload.TotalChunks,
		&task.Payload.Text,
		&task.Payload.Source,
		&tier1,
		&status,
		&task.Attempt,
		&task.MaxAttempts,
		&workerID,
		&leaseExpiresAt,
		&nextAttemptAt,
		&lastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.WorkerID = workerID.String
	task.LastError = lastError.String
	if leaseExpiresAt.Valid {
		t := leaseExpiresAt.Time
		task.LeaseExpiresAt = &t
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		task.NextAttemptAt = &t
	}

	task.Payload.Tier1Meta, err = scanMeta(tier1)
	if err != nil {
		return nil, err
	}

	return &task, nil
}
