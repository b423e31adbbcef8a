package service

import (
	"errors"
	"fmt"

	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// Sentinel errors surfaced by the enrichment service. Validation errors from
// the domain package (ErrInvalidChunkID, ErrInvalidChunkIndex) pass through
// unchanged.
var (
	// ErrTaskNotFound indicates the referenced task does not exist in the
	// ledger, or is no longer in the state the caller expected (a late
	// report after lease recovery lands here).
	ErrTaskNotFound = errors.New("task not found")

	// ErrDocumentNotFound indicates a status query referenced a document
	// with no chunk records.
	ErrDocumentNotFound = errors.New("document not found")
)

// EnrichmentServiceError wraps errors from the enrichment service with context.
type EnrichmentServiceError struct {
	// Operation is the operation that failed (e.g., "claim", "submit_result")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for EnrichmentServiceError.
func (e *EnrichmentServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enrichment %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("enrichment %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *EnrichmentServiceError) Unwrap() error {
	return e.Err
}

// newServiceError maps store and domain errors onto the service's sentinel
// errors, wrapping anything else with operation context. Callers can rely on
// errors.Is against the sentinels regardless of which layer produced the
// failure.
func newServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, store.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, store.ErrDocumentNotFound):
		return ErrDocumentNotFound
	case errors.Is(err, domain.ErrInvalidChunkID), errors.Is(err, domain.ErrInvalidChunkIndex):
		return err
	}

	return &EnrichmentServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
