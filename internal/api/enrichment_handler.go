// Package api provides HTTP handlers for the API.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/marrowlabs/enrich-api/internal/api/shared"
	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/service"
)

// EnrichmentOrchestrator is the service surface the handler depends on.
// *service.EnrichmentService satisfies it; tests substitute a stub.
type EnrichmentOrchestrator interface {
	Claim(ctx context.Context, workerID string, lease time.Duration) (*service.ClaimResult, error)
	SubmitResult(ctx context.Context, taskID uuid.UUID, submission service.ResultSubmission) error
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string) error
	RecoverStaleTasks(ctx context.Context) (int, error)
	GetStatus(ctx context.Context, baseID, collection string) (*service.DocumentStatus, error)
	GetStats(ctx context.Context, collection, docType string) (*service.QueueStats, error)
	Enqueue(ctx context.Context, collection string, force bool, docType string) (int, error)
}

var _ EnrichmentOrchestrator = (*service.EnrichmentService)(nil)

// EnrichmentHandler handles enrichment queue and status HTTP requests.
type EnrichmentHandler struct {
	service EnrichmentOrchestrator
	logger  *slog.Logger
}

// NewEnrichmentHandler creates a new EnrichmentHandler.
func NewEnrichmentHandler(svc EnrichmentOrchestrator, logger *slog.Logger) *EnrichmentHandler {
	if svc == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("service cannot be nil for EnrichmentHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for EnrichmentHandler")
	}

	return &EnrichmentHandler{
		service: svc,
		logger:  logger.With(slog.String("component", "enrichment_handler")),
	}
}

// Claim handles POST /api/tasks/claim requests.
// An empty body is accepted; worker ID and lease fall back to defaults.
// Responds 200 with the claimed task and its document chunks, or 204 when
// no pending work is eligible.
func (h *EnrichmentHandler) Claim(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req ClaimRequest
	if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Debug("invalid claim request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	lease := time.Duration(req.LeaseSeconds) * time.Second

	result, err := h.service.Claim(r.Context(), req.WorkerID, lease)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			"Failed to claim task", err)
		return
	}

	// Empty queue is success, not an error.
	if result.Task == nil {
		log.Debug("no pending tasks eligible for claim")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Debug("task claimed",
		slog.String("task_id", result.Task.ID.String()),
		slog.String("worker_id", result.Task.WorkerID),
		slog.Int("chunks", len(result.Chunks)))

	shared.RespondWithJSON(w, r, http.StatusOK, ClaimResponse{
		Task:   taskToResponse(result.Task),
		Chunks: chunksToResponse(result.Chunks),
	})
}

// SubmitResult handles POST /api/tasks/{id}/result requests.
// It merges worker output into the chunk, retires the task, and responds 200
// with no body on success.
func (h *EnrichmentHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, ok := h.taskIDFromURL(w, r)
	if !ok {
		return
	}

	var req SubmitResultRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("invalid result request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	submission := service.ResultSubmission{
		ChunkID:       req.ChunkID,
		Collection:    req.Collection,
		Tier2:         req.Tier2,
		Tier3:         req.Tier3,
		Entities:      entitiesToDomain(req.Entities),
		Relationships: relationshipsToDomain(req.Relationships),
		Summary:       req.Summary,
	}

	if err := h.service.SubmitResult(r.Context(), taskID, submission); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("result accepted",
		slog.String("task_id", taskID.String()),
		slog.String("chunk_id", req.ChunkID))
	w.WriteHeader(http.StatusOK)
}

// FailTask handles POST /api/tasks/{id}/fail requests.
// The task is rescheduled for a later attempt or marked dead once its
// attempt budget is spent.
func (h *EnrichmentHandler) FailTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, ok := h.taskIDFromURL(w, r)
	if !ok {
		return
	}

	var req FailTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("invalid fail request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	if err := h.service.FailTask(r.Context(), taskID, req.Error); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("failure recorded", slog.String("task_id", taskID.String()))
	w.WriteHeader(http.StatusOK)
}

// Recover handles POST /api/tasks/recover requests.
// It returns every task with an expired lease to the pending queue and
// reports how many were recovered.
func (h *EnrichmentHandler) Recover(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	recovered, err := h.service.RecoverStaleTasks(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			"Failed to recover stale tasks", err)
		return
	}

	if recovered > 0 {
		log.Info("stale leases recovered", slog.Int("count", recovered))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, RecoverResponse{Recovered: recovered})
}

// GetStatus handles GET /api/enrichment/status requests.
// Query parameters: base_id (required), collection (required).
func (h *EnrichmentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	baseID := r.URL.Query().Get("base_id")
	collection := r.URL.Query().Get("collection")
	if baseID == "" || collection == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"base_id and collection query parameters are required")
		return
	}

	status, err := h.service.GetStatus(r.Context(), baseID, collection)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// GetStats handles GET /api/enrichment/stats requests.
// Query parameters: collection (optional), doc_type (optional).
func (h *EnrichmentHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	docType := r.URL.Query().Get("doc_type")

	stats, err := h.service.GetStats(r.Context(), collection, docType)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			"Failed to compute queue stats", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// Enqueue handles POST /api/enrichment/enqueue requests.
// It scans the collection and enqueues tasks for chunks that still need
// enrichment, or for all chunks when force is set.
func (h *EnrichmentHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req EnqueueRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("invalid enqueue request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	enqueued, err := h.service.Enqueue(r.Context(), req.Collection, req.Force, req.DocType)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			"Failed to enqueue tasks", err)
		return
	}

	log.Info("backfill enqueue finished",
		slog.String("collection", req.Collection),
		slog.Bool("force", req.Force),
		slog.Int("enqueued", enqueued))
	shared.RespondWithJSON(w, r, http.StatusOK, EnqueueResponse{Enqueued: enqueued})
}

// taskIDFromURL parses the {id} URL parameter. On failure it writes a 400
// response and returns false.
func (h *EnrichmentHandler) taskIDFromURL(
	w http.ResponseWriter,
	r *http.Request,
) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	taskID, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return taskID, true
}
