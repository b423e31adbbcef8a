package api

import (
	"time"

	"github.com/marrowlabs/enrich-api/internal/domain"
)

// ClaimRequest is the request body for claiming the next enrichment task.
// Both fields are optional; server-side defaults apply when omitted, and an
// out-of-range lease request is clamped rather than rejected.
type ClaimRequest struct {
	WorkerID     string `json:"worker_id"`
	LeaseSeconds int    `json:"lease_seconds"`
}

// ChunkTextResponse pairs a chunk index with its raw text.
type ChunkTextResponse struct {
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// TaskResponse represents a claimed task handed to a worker.
type TaskResponse struct {
	ID             string      `json:"id"`
	ChunkID        string      `json:"chunk_id"`
	BaseID         string      `json:"base_id"`
	Collection     string      `json:"collection"`
	DocType        string      `json:"doc_type,omitempty"`
	ChunkIndex     int         `json:"chunk_index"`
	TotalChunks    int         `json:"total_chunks"`
	Text           string      `json:"text"`
	Source         string      `json:"source,omitempty"`
	Tier1Meta      domain.Meta `json:"tier1_meta,omitempty"`
	Attempt        int         `json:"attempt"`
	MaxAttempts    int         `json:"max_attempts"`
	WorkerID       string      `json:"worker_id"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`
}

// ClaimResponse is the body returned when a task was claimed. An empty queue
// yields 204 No Content instead.
type ClaimResponse struct {
	Task   TaskResponse        `json:"task"`
	Chunks []ChunkTextResponse `json:"chunks"`
}

// EntityPayload is a graph entity extracted by a worker.
type EntityPayload struct {
	Name  string      `json:"name"  validate:"required"`
	Kind  string      `json:"kind"  validate:"required"`
	Attrs domain.Meta `json:"attrs,omitempty"`
}

// RelationshipPayload is a graph edge extracted by a worker.
type RelationshipPayload struct {
	Source   string      `json:"source"   validate:"required"`
	Target   string      `json:"target"   validate:"required"`
	Relation string      `json:"relation" validate:"required"`
	Attrs    domain.Meta `json:"attrs,omitempty"`
}

// SubmitResultRequest is the request body for submitting worker output for a
// claimed task.
type SubmitResultRequest struct {
	ChunkID       string                `json:"chunk_id"   validate:"required"`
	Collection    string                `json:"collection" validate:"required"`
	Tier2         domain.Meta           `json:"tier2,omitempty"`
	Tier3         domain.Meta           `json:"tier3,omitempty"`
	Entities      []EntityPayload       `json:"entities,omitempty"`
	Relationships []RelationshipPayload `json:"relationships,omitempty"`
	Summary       *string               `json:"summary,omitempty"`
}

// FailTaskRequest is the request body for reporting a failed attempt.
type FailTaskRequest struct {
	Error string `json:"error" validate:"required"`
}

// RecoverResponse reports how many expired leases were returned to the
// pending queue.
type RecoverResponse struct {
	Recovered int `json:"recovered"`
}

// EnqueueRequest is the request body for a backfill enqueue run.
type EnqueueRequest struct {
	Collection string `json:"collection" validate:"required"`
	DocType    string `json:"doc_type"`
	Force      bool   `json:"force"`
}

// EnqueueResponse reports how many tasks a backfill run created.
type EnqueueResponse struct {
	Enqueued int `json:"enqueued"`
}

// taskToResponse converts a claimed domain task into its API representation.
func taskToResponse(task *domain.Task) TaskResponse {
	p := task.Payload
	return TaskResponse{
		ID:             task.ID.String(),
		ChunkID:        domain.FormatChunkID(p.BaseID, p.ChunkIndex),
		BaseID:         p.BaseID,
		Collection:     p.Collection,
		DocType:        p.DocType,
		ChunkIndex:     p.ChunkIndex,
		TotalChunks:    p.TotalChunks,
		Text:           p.Text,
		Source:         p.Source,
		Tier1Meta:      p.Tier1Meta,
		Attempt:        task.Attempt,
		MaxAttempts:    task.MaxAttempts,
		WorkerID:       task.WorkerID,
		LeaseExpiresAt: task.LeaseExpiresAt,
	}
}

func chunksToResponse(chunks []domain.ChunkText) []ChunkTextResponse {
	out := make([]ChunkTextResponse, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, ChunkTextResponse{ChunkIndex: c.ChunkIndex, Text: c.Text})
	}
	return out
}

func entitiesToDomain(in []EntityPayload) []domain.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Entity, 0, len(in))
	for _, e := range in {
		out = append(out, domain.Entity{Name: e.Name, Kind: e.Kind, Attrs: e.Attrs})
	}
	return out
}

func relationshipsToDomain(in []RelationshipPayload) []domain.Relationship {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Relationship, 0, len(in))
	for _, r := range in {
		out = append(out, domain.Relationship{
			Source:   r.Source,
			Target:   r.Target,
			Relation: r.Relation,
			Attrs:    r.Attrs,
		})
	}
	return out
}
