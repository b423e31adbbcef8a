package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/marrowlabs/enrich-api/internal/config"
	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/platform/postgres"
	"github.com/marrowlabs/enrich-api/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// integrationConfig keeps lease bounds and backoff tiny so lease expiry and
// retry eligibility can be exercised without long sleeps.
func integrationConfig() config.EnrichmentConfig {
	return config.EnrichmentConfig{
		Enabled:          true,
		DefaultLease:     300 * time.Second,
		MinLease:         time.Millisecond,
		MaxLease:         3600 * time.Second,
		RetryBackoff:     0,
		MaxAttempts:      3,
		ScanCap:          10000,
		EnqueueBatchSize: 100,
	}
}

func newTestService(t *testing.T, cfg config.EnrichmentConfig) (*EnrichmentService, *sql.DB) {
	t.Helper()

	db := testdb.MustOpen(t)
	testdb.ResetTables(t, db)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := NewEnrichmentService(
		db,
		postgres.NewPostgresTaskStore(db, log),
		postgres.NewPostgresChunkStore(db, log),
		postgres.NewPostgresDocumentStore(db, log),
		postgres.NewPostgresGraphStore(db, log),
		postgres.NewPostgresCounterStore(db, log),
		cfg,
		log,
	)
	require.NoError(t, err, "Failed to create enrichment service")

	return svc, db
}

// seedChunks inserts count chunks for one document, all with status none.
func seedChunks(t *testing.T, svc *EnrichmentService, baseID, collection string, count int) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < count; i++ {
		err := svc.chunks.Create(ctx, &domain.ChunkRecord{
			BaseID:     baseID,
			Collection: collection,
			ChunkIndex: i,
			DocType:    "source",
			Text:       fmt.Sprintf("chunk %d of %s", i, baseID),
		})
		require.NoError(t, err, "Failed to seed chunk %d", i)
	}
}

func TestEnrichmentLifecycleIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())
	ctx := context.Background()

	seedChunks(t, svc, "repo:file.py", "code", 2)

	enqueued, err := svc.Enqueue(ctx, "code", false, "")
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)

	for i := 0; i < 2; i++ {
		claim, err := svc.Claim(ctx, "worker-1", 0)
		require.NoError(t, err)
		require.NotNil(t, claim.Task, "Expected a claimable task on iteration %d", i)

		task := claim.Task
		assert.Equal(t, domain.TaskStatusClaimed, task.Status)
		assert.Equal(t, "worker-1", task.WorkerID)
		require.NotNil(t, task.LeaseExpiresAt)

		// The claim carries the full ordered sibling context.
		require.Len(t, claim.Chunks, task.Payload.TotalChunks)
		assert.Equal(t, 0, claim.Chunks[0].ChunkIndex)
		assert.Equal(t, 1, claim.Chunks[1].ChunkIndex)

		chunkID := domain.FormatChunkID(task.Payload.BaseID, task.Payload.ChunkIndex)
		err = svc.SubmitResult(ctx, task.ID, ResultSubmission{
			ChunkID:    chunkID,
			Collection: task.Payload.Collection,
			Tier2:      domain.Meta{"keywords": []string{"main"}},
			Tier3:      domain.Meta{"summary": "entry point module", "topics": []string{"cli"}},
			Entities:   []domain.Entity{{Name: "main", Kind: "function"}},
			Relationships: []domain.Relationship{
				{Source: "main", Target: "parse", Relation: "calls"},
			},
		})
		require.NoError(t, err)
	}

	status, err := svc.GetStatus(ctx, "repo:file.py", "code")
	require.NoError(t, err)
	assert.Equal(t, domain.EnrichmentStatusEnriched, status.Status)
	assert.Equal(t, 2, status.Chunks.Total)
	assert.Equal(t, 2, status.Chunks.Counts.Enriched)
	require.NotNil(t, status.EnrichedAt, "Expected enrichedAt after successful merges")
	assert.Equal(t, "entry point module", status.SummaryShort)

	// The embedded summary never lands in tier3.
	assert.NotContains(t, status.Tier3Meta, "summary")
	assert.Contains(t, status.Tier3Meta, "topics")

	// The ledger is drained and so is the pending counter.
	stats, err := svc.GetStats(ctx, "code", "")
	require.NoError(t, err)
	assert.Zero(t, stats.Queue.Pending)
	assert.Zero(t, stats.Queue.Dead)
}

func TestClaimEmptyQueueIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())

	claim, err := svc.Claim(context.Background(), "worker-1", 0)
	require.NoError(t, err, "Empty queue must not be an error")
	assert.Nil(t, claim.Task)
	assert.Nil(t, claim.Chunks)
}

func TestConcurrentClaimsAreDistinctIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())
	ctx := context.Background()

	const workers = 5
	seedChunks(t, svc, "doc-1", "code", workers)
	_, err := svc.Enqueue(ctx, "code", false, "")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			claim, err := svc.Claim(ctx, fmt.Sprintf("worker-%d", i), 0)
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if claim.Task == nil {
				t.Error("expected every concurrent claim to receive a task")
				return
			}

			mu.Lock()
			claimed = append(claimed, claim.Task.ID.String())
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, claimed, workers)
	seen := make(map[string]bool)
	for _, id := range claimed {
		assert.False(t, seen[id], "Task %s claimed twice", id)
		seen[id] = true
	}
}

func TestFailRetryAndDeadLetterIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())
	ctx := context.Background()

	seedChunks(t, svc, "doc-1", "code", 1)
	_, err := svc.Enqueue(ctx, "code", false, "")
	require.NoError(t, err)

	// Attempts 1 and 2 reschedule; attempt 3 exhausts the budget.
	for attempt := 1; attempt <= 3; attempt++ {
		claim, err := svc.Claim(ctx, "worker-1", 0)
		require.NoError(t, err)
		require.NotNil(t, claim.Task, "Expected task claimable on attempt %d", attempt)
		assert.Equal(t, attempt, claim.Task.Attempt)

		err = svc.FailTask(ctx, claim.Task.ID, fmt.Sprintf("boom %d", attempt))
		require.NoError(t, err)

		chunk, err := svc.chunks.Get(ctx, "doc-1", "code", 0)
		require.NoError(t, err)
		assert.Equal(t, domain.EnrichmentStatusFailed, chunk.EnrichmentStatus)
		require.NotNil(t, chunk.Failure)
		assert.Equal(t, fmt.Sprintf("boom %d", attempt), chunk.Failure.LastError)
		assert.Equal(t, attempt == 3, chunk.Failure.Dead)
	}

	// The dead task is no longer claimable.
	claim, err := svc.Claim(ctx, "worker-1", 0)
	require.NoError(t, err)
	assert.Nil(t, claim.Task)

	stats, err := svc.GetStats(ctx, "code", "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Queue.Pending)
	assert.EqualValues(t, 1, stats.Queue.Dead)
}

func TestRecoverStaleLeasesIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())
	ctx := context.Background()

	const tasks = 5
	seedChunks(t, svc, "doc-1", "code", tasks)
	_, err := svc.Enqueue(ctx, "code", false, "")
	require.NoError(t, err)

	attempts := make(map[string]int)
	for i := 0; i < tasks; i++ {
		claim, err := svc.Claim(ctx, "worker-1", time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, claim.Task)
		attempts[claim.Task.ID.String()] = claim.Task.Attempt
	}

	// Let every lease lapse.
	time.Sleep(20 * time.Millisecond)

	recovered, err := svc.RecoverStaleTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, tasks, recovered)

	// All tasks are claimable again with their attempt counters unchanged.
	for i := 0; i < tasks; i++ {
		claim, err := svc.Claim(ctx, "worker-2", 0)
		require.NoError(t, err)
		require.NotNil(t, claim.Task, "Expected recovered task %d claimable", i)
		assert.Equal(t, attempts[claim.Task.ID.String()], claim.Task.Attempt,
			"Recovery must not consume an attempt")
	}
}

func TestLateWriterAfterRecoveryIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())
	ctx := context.Background()

	seedChunks(t, svc, "doc-1", "code", 1)
	_, err := svc.Enqueue(ctx, "code", false, "")
	require.NoError(t, err)

	claim, err := svc.Claim(ctx, "worker-1", time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claim.Task)
	staleTask := claim.Task

	time.Sleep(20 * time.Millisecond)
	recovered, err := svc.RecoverStaleTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	// The original holder reports back after losing its lease.
	err = svc.SubmitResult(ctx, staleTask.ID, ResultSubmission{
		ChunkID:    "doc-1:0",
		Collection: "code",
		Tier2:      domain.Meta{"late": true},
	})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	err = svc.FailTask(ctx, staleTask.ID, "late failure")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	// The recovered task is untouched by the late writer.
	chunk, err := svc.chunks.Get(ctx, "doc-1", "code", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrichmentStatusPending, chunk.EnrichmentStatus)
	assert.NotContains(t, chunk.Tier2Meta, "late")
}

func TestEnqueueSkipsEnrichedIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())
	ctx := context.Background()

	seedChunks(t, svc, "doc-1", "code", 2)
	_, err := svc.Enqueue(ctx, "code", false, "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		claim, err := svc.Claim(ctx, "worker-1", 0)
		require.NoError(t, err)
		require.NotNil(t, claim.Task)

		chunkID := domain.FormatChunkID(claim.Task.Payload.BaseID, claim.Task.Payload.ChunkIndex)
		err = svc.SubmitResult(ctx, claim.Task.ID, ResultSubmission{
			ChunkID:    chunkID,
			Collection: "code",
			Tier2:      domain.Meta{"pass": 1},
		})
		require.NoError(t, err)
	}

	// Everything is enriched; a plain re-run enqueues nothing.
	enqueued, err := svc.Enqueue(ctx, "code", false, "")
	require.NoError(t, err)
	assert.Zero(t, enqueued)

	// Force re-enqueues regardless of status.
	enqueued, err = svc.Enqueue(ctx, "code", true, "")
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
}

func TestEnqueueDisabledIntegration(t *testing.T) {
	cfg := integrationConfig()
	cfg.Enabled = false
	svc, _ := newTestService(t, cfg)
	ctx := context.Background()

	seedChunks(t, svc, "doc-1", "code", 2)

	enqueued, err := svc.Enqueue(ctx, "code", false, "")
	require.NoError(t, err)
	assert.Zero(t, enqueued)

	require.NoError(t, svc.EnqueueChunk(ctx, "doc-1", "code", 0))

	counts, err := svc.counters.Get(ctx, "code")
	require.NoError(t, err)
	assert.Zero(t, counts.Pending)
}

func TestGetStatusNotFoundIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())

	_, err := svc.GetStatus(context.Background(), "missing", "code")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestEnqueueChunkIntegration(t *testing.T) {
	svc, _ := newTestService(t, integrationConfig())
	ctx := context.Background()

	seedChunks(t, svc, "doc-1", "code", 3)

	require.NoError(t, svc.EnqueueChunk(ctx, "doc-1", "code", 1))

	claim, err := svc.Claim(ctx, "worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, claim.Task)
	assert.Equal(t, 1, claim.Task.Payload.ChunkIndex)
	assert.Equal(t, 3, claim.Task.Payload.TotalChunks,
		"Sibling total covers all stored chunks")
	require.Len(t, claim.Chunks, 3)
}
