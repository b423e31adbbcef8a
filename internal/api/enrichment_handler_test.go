package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubOrchestrator implements EnrichmentOrchestrator with overridable
// function fields.
type stubOrchestrator struct {
	claimFn   func(ctx context.Context, workerID string, lease time.Duration) (*service.ClaimResult, error)
	submitFn  func(ctx context.Context, taskID uuid.UUID, submission service.ResultSubmission) error
	failFn    func(ctx context.Context, taskID uuid.UUID, errMsg string) error
	recoverFn func(ctx context.Context) (int, error)
	statusFn  func(ctx context.Context, baseID, collection string) (*service.DocumentStatus, error)
	statsFn   func(ctx context.Context, collection, docType string) (*service.QueueStats, error)
	enqueueFn func(ctx context.Context, collection string, force bool, docType string) (int, error)
}

func (s *stubOrchestrator) Claim(
	ctx context.Context,
	workerID string,
	lease time.Duration,
) (*service.ClaimResult, error) {
	return s.claimFn(ctx, workerID, lease)
}

func (s *stubOrchestrator) SubmitResult(
	ctx context.Context,
	taskID uuid.UUID,
	submission service.ResultSubmission,
) error {
	return s.submitFn(ctx, taskID, submission)
}

func (s *stubOrchestrator) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	return s.failFn(ctx, taskID, errMsg)
}

func (s *stubOrchestrator) RecoverStaleTasks(ctx context.Context) (int, error) {
	return s.recoverFn(ctx)
}

func (s *stubOrchestrator) GetStatus(
	ctx context.Context,
	baseID, collection string,
) (*service.DocumentStatus, error) {
	return s.statusFn(ctx, baseID, collection)
}

func (s *stubOrchestrator) GetStats(
	ctx context.Context,
	collection, docType string,
) (*service.QueueStats, error) {
	return s.statsFn(ctx, collection, docType)
}

func (s *stubOrchestrator) Enqueue(
	ctx context.Context,
	collection string,
	force bool,
	docType string,
) (int, error) {
	return s.enqueueFn(ctx, collection, force, docType)
}

// newTestRouter mounts the handler on the task and enrichment routes so chi
// URL parameters resolve the same way they do in production.
func newTestRouter(stub *stubOrchestrator) http.Handler {
	handler := NewEnrichmentHandler(stub, slog.Default())

	r := chi.NewRouter()
	r.Post("/api/tasks/claim", handler.Claim)
	r.Post("/api/tasks/{id}/result", handler.SubmitResult)
	r.Post("/api/tasks/{id}/fail", handler.FailTask)
	r.Post("/api/tasks/recover", handler.Recover)
	r.Get("/api/enrichment/status", handler.GetStatus)
	r.Get("/api/enrichment/stats", handler.GetStats)
	r.Post("/api/enrichment/enqueue", handler.Enqueue)
	return r
}

func claimedTask(workerID string) *domain.Task {
	leaseExpiry := time.Now().UTC().Add(5 * time.Minute)
	return &domain.Task{
		ID: uuid.New(),
		Payload: domain.TaskPayload{
			BaseID:      "repo:file.py",
			Collection:  "code",
			ChunkIndex:  0,
			TotalChunks: 2,
			Text:        "def main(): pass",
		},
		Status:         domain.TaskStatusClaimed,
		Attempt:        1,
		MaxAttempts:    3,
		WorkerID:       workerID,
		LeaseExpiresAt: &leaseExpiry,
	}
}

func TestClaimHandler(t *testing.T) {
	t.Parallel()

	t.Run("returns claimed task with sibling chunks", func(t *testing.T) {
		t.Parallel()

		var gotWorkerID string
		var gotLease time.Duration
		stub := &stubOrchestrator{
			claimFn: func(_ context.Context, workerID string, lease time.Duration) (*service.ClaimResult, error) {
				gotWorkerID = workerID
				gotLease = lease
				return &service.ClaimResult{
					Task: claimedTask(workerID),
					Chunks: []domain.ChunkText{
						{ChunkIndex: 0, Text: "def main(): pass"},
						{ChunkIndex: 1, Text: "def parse(): pass"},
					},
				}, nil
			},
		}

		body := `{"worker_id": "worker-1", "lease_seconds": 120}`
		req := httptest.NewRequest(http.MethodPost, "/api/tasks/claim", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "worker-1", gotWorkerID)
		assert.Equal(t, 120*time.Second, gotLease)

		var resp ClaimResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "repo:file.py:0", resp.Task.ChunkID)
		assert.Equal(t, 2, resp.Task.TotalChunks)
		require.Len(t, resp.Chunks, 2)
		assert.Equal(t, "def parse(): pass", resp.Chunks[1].Text)
	})

	t.Run("empty queue responds 204", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{
			claimFn: func(context.Context, string, time.Duration) (*service.ClaimResult, error) {
				return &service.ClaimResult{}, nil
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/api/tasks/claim", nil)
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("oversized lease passes through for clamping", func(t *testing.T) {
		t.Parallel()

		var gotLease time.Duration
		stub := &stubOrchestrator{
			claimFn: func(_ context.Context, _ string, lease time.Duration) (*service.ClaimResult, error) {
				gotLease = lease
				return &service.ClaimResult{}, nil
			},
		}

		body := `{"lease_seconds": 999999}`
		req := httptest.NewRequest(http.MethodPost, "/api/tasks/claim", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		// Bounds are the service's concern; the handler forwards the request
		// as-is instead of rejecting it.
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 999999*time.Second, gotLease)
	})
}

func TestSubmitResultHandler(t *testing.T) {
	t.Parallel()

	t.Run("accepts a valid submission", func(t *testing.T) {
		t.Parallel()

		taskID := uuid.New()
		var gotSubmission service.ResultSubmission
		stub := &stubOrchestrator{
			submitFn: func(_ context.Context, id uuid.UUID, submission service.ResultSubmission) error {
				assert.Equal(t, taskID, id)
				gotSubmission = submission
				return nil
			},
		}

		payload := SubmitResultRequest{
			ChunkID:    "repo:file.py:0",
			Collection: "code",
			Tier2:      domain.Meta{"keywords": []any{"main"}},
			Tier3:      domain.Meta{"summary": "entry point"},
			Entities:   []EntityPayload{{Name: "main", Kind: "function"}},
		}
		body, err := json.Marshal(payload)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost,
			"/api/tasks/"+taskID.String()+"/result", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "repo:file.py:0", gotSubmission.ChunkID)
		require.Len(t, gotSubmission.Entities, 1)
		assert.Equal(t, "main", gotSubmission.Entities[0].Name)
	})

	t.Run("missing chunk ID is rejected before the service", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{
			submitFn: func(context.Context, uuid.UUID, service.ResultSubmission) error {
				t.Error("service must not be called for invalid requests")
				return nil
			},
		}

		req := httptest.NewRequest(http.MethodPost,
			"/api/tasks/"+uuid.New().String()+"/result",
			bytes.NewBufferString(`{"collection": "code"}`))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed chunk ID maps to 400", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{
			submitFn: func(context.Context, uuid.UUID, service.ResultSubmission) error {
				return domain.ErrInvalidChunkIndex
			},
		}

		req := httptest.NewRequest(http.MethodPost,
			"/api/tasks/"+uuid.New().String()+"/result",
			bytes.NewBufferString(`{"chunk_id": "base-id:-1", "collection": "code"}`))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown task maps to 404", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{
			submitFn: func(context.Context, uuid.UUID, service.ResultSubmission) error {
				return service.ErrTaskNotFound
			},
		}

		req := httptest.NewRequest(http.MethodPost,
			"/api/tasks/"+uuid.New().String()+"/result",
			bytes.NewBufferString(`{"chunk_id": "doc-1:0", "collection": "code"}`))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid task ID maps to 400", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{}

		req := httptest.NewRequest(http.MethodPost, "/api/tasks/not-a-uuid/result",
			bytes.NewBufferString(`{"chunk_id": "doc-1:0", "collection": "code"}`))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestFailTaskHandler(t *testing.T) {
	t.Parallel()

	t.Run("records a failure", func(t *testing.T) {
		t.Parallel()

		taskID := uuid.New()
		stub := &stubOrchestrator{
			failFn: func(_ context.Context, id uuid.UUID, errMsg string) error {
				assert.Equal(t, taskID, id)
				assert.Equal(t, "model timeout", errMsg)
				return nil
			},
		}

		req := httptest.NewRequest(http.MethodPost,
			"/api/tasks/"+taskID.String()+"/fail",
			bytes.NewBufferString(`{"error": "model timeout"}`))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing error message is rejected", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{}

		req := httptest.NewRequest(http.MethodPost,
			"/api/tasks/"+uuid.New().String()+"/fail",
			bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRecoverHandler(t *testing.T) {
	t.Parallel()

	stub := &stubOrchestrator{
		recoverFn: func(context.Context) (int, error) {
			return 5, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/recover", nil)
	rec := httptest.NewRecorder()
	newTestRouter(stub).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RecoverResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Recovered)
}

func TestGetStatusHandler(t *testing.T) {
	t.Parallel()

	t.Run("returns the aggregated document status", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{
			statusFn: func(_ context.Context, baseID, collection string) (*service.DocumentStatus, error) {
				assert.Equal(t, "repo:file.py", baseID)
				assert.Equal(t, "code", collection)
				return &service.DocumentStatus{
					BaseID:     baseID,
					Collection: collection,
					Status:     domain.EnrichmentStatusMixed,
					Chunks: service.ChunkBreakdown{
						Total:  3,
						Counts: domain.StatusCounts{Enriched: 1, Pending: 2},
					},
				}, nil
			},
		}

		req := httptest.NewRequest(http.MethodGet,
			"/api/enrichment/status?base_id=repo%3Afile.py&collection=code", nil)
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp service.DocumentStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.EnrichmentStatusMixed, resp.Status)
		assert.Equal(t, 3, resp.Chunks.Total)
	})

	t.Run("missing query parameters are rejected", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{}

		req := httptest.NewRequest(http.MethodGet, "/api/enrichment/status?base_id=doc-1", nil)
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown document maps to 404", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{
			statusFn: func(context.Context, string, string) (*service.DocumentStatus, error) {
				return nil, service.ErrDocumentNotFound
			},
		}

		req := httptest.NewRequest(http.MethodGet,
			"/api/enrichment/status?base_id=missing&collection=code", nil)
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetStatsHandler(t *testing.T) {
	t.Parallel()

	stub := &stubOrchestrator{
		statsFn: func(_ context.Context, collection, docType string) (*service.QueueStats, error) {
			assert.Equal(t, "code", collection)
			assert.Equal(t, "source", docType)
			return &service.QueueStats{
				Collection:    collection,
				DocType:       docType,
				ChunkStatuses: domain.StatusCounts{Enriched: 10, Pending: 2},
				ScannedChunks: 12,
				ScanCap:       10000,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet,
		"/api/enrichment/stats?collection=code&doc_type=source", nil)
	rec := httptest.NewRecorder()
	newTestRouter(stub).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp service.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 12, resp.ScannedChunks)
	assert.False(t, resp.Approximate)
}

func TestEnqueueHandler(t *testing.T) {
	t.Parallel()

	t.Run("runs a backfill", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{
			enqueueFn: func(_ context.Context, collection string, force bool, docType string) (int, error) {
				assert.Equal(t, "code", collection)
				assert.True(t, force)
				assert.Empty(t, docType)
				return 7, nil
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/api/enrichment/enqueue",
			bytes.NewBufferString(`{"collection": "code", "force": true}`))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp EnqueueResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 7, resp.Enqueued)
	})

	t.Run("missing collection is rejected", func(t *testing.T) {
		t.Parallel()

		stub := &stubOrchestrator{}

		req := httptest.NewRequest(http.MethodPost, "/api/enrichment/enqueue",
			bytes.NewBufferString(`{"force": true}`))
		rec := httptest.NewRecorder()
		newTestRouter(stub).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
