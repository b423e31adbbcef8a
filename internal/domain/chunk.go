package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EnrichmentStatus represents the enrichment state of a chunk
type EnrichmentStatus string

// Possible enrichment status values
const (
	// EnrichmentStatusNone means the chunk was never queued for enrichment.
	EnrichmentStatusNone EnrichmentStatus = "none"
	// EnrichmentStatusPending means a ledger task exists but has not been claimed.
	EnrichmentStatusPending EnrichmentStatus = "pending"
	// EnrichmentStatusProcessing means a worker holds a lease on the chunk's task.
	EnrichmentStatusProcessing EnrichmentStatus = "processing"
	// EnrichmentStatusEnriched is the terminal success state.
	EnrichmentStatusEnriched EnrichmentStatus = "enriched"
	// EnrichmentStatusFailed marks a failure; the task may still be retrying
	// unless the attached FailureMarker reports Dead.
	EnrichmentStatusFailed EnrichmentStatus = "failed"
)

// ErrInvalidEnrichmentStatus is returned when a status value is not one of
// the defined EnrichmentStatus constants.
var ErrInvalidEnrichmentStatus = errors.New("invalid enrichment status")

// Meta is free-form structured metadata attached to a chunk or task.
type Meta map[string]any

// MergeMeta returns a shallow key union of existing and update, with update
// winning on key collisions. Neither input map is modified; nil inputs are
// treated as empty.
func MergeMeta(existing, update Meta) Meta {
	merged := make(Meta, len(existing)+len(update))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

// FailureMarker records the most recent enrichment failure for a chunk.
type FailureMarker struct {
	LastError   string    `json:"last_error"`
	LastTaskID  uuid.UUID `json:"last_task_id"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Dead        bool      `json:"dead"`
}

// ChunkRecord is an embedded-and-stored slice of a document, keyed by
// (BaseID, Collection, ChunkIndex), carrying its enrichment state.
type ChunkRecord struct {
	BaseID           string           `json:"base_id"`
	Collection       string           `json:"collection"`
	ChunkIndex       int              `json:"chunk_index"`
	DocType          string           `json:"doc_type,omitempty"`
	Text             string           `json:"text"`
	Source           string           `json:"source,omitempty"`
	Tier1Meta        Meta             `json:"tier1_meta,omitempty"`
	Tier2Meta        Meta             `json:"tier2_meta,omitempty"`
	Tier3Meta        Meta             `json:"tier3_meta,omitempty"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	Failure          *FailureMarker   `json:"failure,omitempty"`
	EnrichedAt       *time.Time       `json:"enriched_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ChunkText pairs a chunk's index with its raw text. Claim responses carry
// the full ordered list for the task's document so workers can produce
// document-level output.
type ChunkText struct {
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Entity is a named thing extracted from a chunk by an enrichment worker.
type Entity struct {
	Name  string `json:"name"`
	Kind  string `json:"kind,omitempty"`
	Attrs Meta   `json:"attrs,omitempty"`
}

// Relationship is a directed edge between two entities extracted from a chunk.
type Relationship struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Attrs    Meta   `json:"attrs,omitempty"`
}

// ValidEnrichmentStatus checks if the given status is a defined EnrichmentStatus.
func ValidEnrichmentStatus(status EnrichmentStatus) bool {
	switch status {
	case EnrichmentStatusNone, EnrichmentStatusPending, EnrichmentStatusProcessing,
		EnrichmentStatusEnriched, EnrichmentStatusFailed:
		return true
	default:
		return false
	}
}
