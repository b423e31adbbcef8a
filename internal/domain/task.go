package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the ledger state of an enrichment task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusClaimed TaskStatus = "claimed"
	TaskStatusDead    TaskStatus = "dead"
)

// Default retry policy applied at task creation.
const (
	DefaultFirstAttempt = 1
	DefaultMaxAttempts  = 3
)

// Common validation errors for Task
var (
	ErrEmptyTaskID         = errors.New("task ID cannot be empty")
	ErrEmptyTaskBaseID     = errors.New("task base ID cannot be empty")
	ErrEmptyTaskCollection = errors.New("task collection cannot be empty")
	ErrNegativeChunkIndex  = errors.New("task chunk index cannot be negative")
	ErrInvalidTotalChunks  = errors.New("task total chunks must be positive")
	ErrInvalidTaskStatus   = errors.New("invalid task status")
	ErrInvalidMaxAttempts  = errors.New("task max attempts must be positive")
)

// TaskPayload identifies the chunk a task targets, together with the
// ingest-time context a worker needs to process it.
type TaskPayload struct {
	BaseID      string `json:"base_id"`
	Collection  string `json:"collection"`
	DocType     string `json:"doc_type"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Text        string `json:"text"`
	Source      string `json:"source"`
	Tier1Meta   Meta   `json:"tier1_meta,omitempty"`
}

// Task is a unit of enrichment work recorded in the durable ledger.
// Successful tasks are retired by deletion; only pending, claimed and
// dead rows persist.
type Task struct {
	ID             uuid.UUID   `json:"id"`
	Payload        TaskPayload `json:"payload"`
	Status         TaskStatus  `json:"status"`
	Attempt        int         `json:"attempt"`
	MaxAttempts    int         `json:"max_attempts"`
	WorkerID       string      `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`
	NextAttemptAt  *time.Time  `json:"next_attempt_at,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NewTask creates a pending Task for the given payload with the default
// retry policy. Returns an error if validation fails.
func NewTask(payload TaskPayload) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Payload:     payload,
		Status:      TaskStatusPending,
		Attempt:     DefaultFirstAttempt,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Payload.BaseID == "" {
		return ErrEmptyTaskBaseID
	}

	if t.Payload.Collection == "" {
		return ErrEmptyTaskCollection
	}

	if t.Payload.ChunkIndex < 0 {
		return ErrNegativeChunkIndex
	}

	if t.Payload.TotalChunks < 1 {
		return ErrInvalidTotalChunks
	}

	if t.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// Exhausted reports whether the task has used up its retry budget.
func (t *Task) Exhausted() bool {
	return t.Attempt >= t.MaxAttempts
}

// LeaseExpired reports whether the task holds a lease that lapsed before now.
// A task without a lease is never expired.
func (t *Task) LeaseExpired(now time.Time) bool {
	return t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now)
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusDead:
		return true
	default:
		return false
	}
}
