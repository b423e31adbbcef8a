package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/marrowlabs/enrich-api/internal/domain"
)

// TaskStore is the durable ledger of enrichment work.
//
// Successful tasks are retired by deletion, so the ledger only ever holds
// pending, claimed and dead rows. All state transitions are single
// statements; multi-entity transitions (claim + chunk status, result merge)
// are composed by the service layer inside one transaction via WithTx.
type TaskStore interface {
	// CreateTasks inserts the given tasks as a single batch.
	// Tasks must already be validated; all are created in their carried status.
	CreateTasks(ctx context.Context, tasks []*domain.Task) error

	// ClaimOldestPending atomically selects the oldest pending task whose
	// retry backoff has elapsed, marks it claimed by workerID with the given
	// lease expiry, and returns it. Returns (nil, nil) when no task is
	// eligible; an empty ledger is not an error.
	//
	// The select-and-mark must be indivisible under concurrent callers: two
	// simultaneous claims never return the same task.
	ClaimOldestPending(
		ctx context.Context,
		workerID string,
		leaseExpiresAt time.Time,
	) (*domain.Task, error)

	// GetClaimed retrieves a task by ID only if it is currently claimed.
	// Returns ErrTaskNotFound if the task does not exist or has moved on
	// (re-claimed under a new lease is still claimed; retired or dead is not).
	GetClaimed(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Delete retires a claimed task from the ledger.
	// Returns ErrTaskNotFound if the task is not currently claimed, including
	// when its lease was recovered after the caller loaded it.
	Delete(ctx context.Context, id uuid.UUID) error

	// Reschedule returns a claimed task to pending after a failure report,
	// recording the error, bumping the attempt counter and deferring
	// eligibility until nextAttemptAt. Returns ErrTaskNotFound if the task
	// is not currently claimed.
	Reschedule(
		ctx context.Context,
		id uuid.UUID,
		attempt int,
		lastError string,
		nextAttemptAt time.Time,
	) error

	// MarkDead moves a claimed task to the dead-letter state, retaining
	// lastError as the final diagnostic. Returns ErrTaskNotFound if the task
	// is not currently claimed.
	MarkDead(ctx context.Context, id uuid.UUID, lastError string) error

	// RecoverExpired resets every claimed task whose lease expired before
	// now back to pending, leaving attempt counts and error fields
	// untouched. Returns the recovered tasks so callers can mirror the
	// transition onto dependent state; an empty result is normal.
	RecoverExpired(ctx context.Context, now time.Time) ([]*domain.Task, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// The transaction is created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
