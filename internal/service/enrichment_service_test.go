package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marrowlabs/enrich-api/internal/config"
	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnrichmentConfig() config.EnrichmentConfig {
	return config.EnrichmentConfig{
		Enabled:          true,
		DefaultLease:     300 * time.Second,
		MinLease:         1 * time.Second,
		MaxLease:         3600 * time.Second,
		RetryBackoff:     60 * time.Second,
		MaxAttempts:      3,
		ScanCap:          10000,
		EnqueueBatchSize: 100,
	}
}

func TestClampLease(t *testing.T) {
	t.Parallel()

	svc := &EnrichmentService{cfg: testEnrichmentConfig()}

	tests := []struct {
		name  string
		lease time.Duration
		want  time.Duration
	}{
		{name: "zero falls back to default", lease: 0, want: 300 * time.Second},
		{name: "below minimum is floored", lease: 500 * time.Millisecond, want: 1 * time.Second},
		{name: "above maximum is capped", lease: 2 * time.Hour, want: 3600 * time.Second},
		{name: "in-range value passes through", lease: 90 * time.Second, want: 90 * time.Second},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, svc.clampLease(tc.lease))
		})
	}
}

func TestExtractSummary(t *testing.T) {
	t.Parallel()

	t.Run("embedded summary is stripped from tier3", func(t *testing.T) {
		t.Parallel()

		tier3 := domain.Meta{"summary": "a short summary", "topics": []string{"go"}}

		stripped, summary := extractSummary(tier3, nil)

		require.NotNil(t, summary)
		assert.Equal(t, "a short summary", *summary)
		assert.NotContains(t, stripped, "summary")
		assert.Contains(t, stripped, "topics")

		// Input map stays untouched.
		assert.Contains(t, tier3, "summary")
	})

	t.Run("explicit summary wins over embedded", func(t *testing.T) {
		t.Parallel()

		explicit := "explicit summary"
		tier3 := domain.Meta{"summary": "embedded summary"}

		stripped, summary := extractSummary(tier3, &explicit)

		require.NotNil(t, summary)
		assert.Equal(t, "explicit summary", *summary)
		assert.NotContains(t, stripped, "summary")
	})

	t.Run("no summary anywhere", func(t *testing.T) {
		t.Parallel()

		tier3 := domain.Meta{"topics": []string{"go"}}

		stripped, summary := extractSummary(tier3, nil)

		assert.Nil(t, summary)
		assert.Equal(t, tier3, stripped)
	})

	t.Run("non-string embedded summary is dropped", func(t *testing.T) {
		t.Parallel()

		tier3 := domain.Meta{"summary": 42}

		stripped, summary := extractSummary(tier3, nil)

		assert.Nil(t, summary)
		assert.NotContains(t, stripped, "summary")
	})

	t.Run("nil tier3", func(t *testing.T) {
		t.Parallel()

		explicit := "still here"
		stripped, summary := extractSummary(nil, &explicit)

		assert.Nil(t, stripped)
		require.NotNil(t, summary)
		assert.Equal(t, "still here", *summary)
	})
}

func TestNewServiceError(t *testing.T) {
	t.Parallel()

	t.Run("nil error passes through", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, newServiceError("claim", "boom", nil))
	})

	t.Run("store task not found maps to sentinel", func(t *testing.T) {
		t.Parallel()

		err := newServiceError("submit_result", "task lookup failed",
			fmt.Errorf("lookup: %w", store.ErrTaskNotFound))
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("store document not found maps to sentinel", func(t *testing.T) {
		t.Parallel()

		err := newServiceError("get_status", "document lookup failed", store.ErrDocumentNotFound)
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("validation errors pass through unchanged", func(t *testing.T) {
		t.Parallel()

		inner := fmt.Errorf("%w: %q", domain.ErrInvalidChunkID, "nope")
		err := newServiceError("submit_result", "parse failed", inner)
		assert.ErrorIs(t, err, domain.ErrInvalidChunkID)
	})

	t.Run("other errors are wrapped with context", func(t *testing.T) {
		t.Parallel()

		inner := errors.New("connection reset")
		err := newServiceError("claim", "query failed", inner)

		var serviceErr *EnrichmentServiceError
		require.ErrorAs(t, err, &serviceErr)
		assert.Equal(t, "claim", serviceErr.Operation)
		assert.ErrorIs(t, err, inner)
	})
}

func TestDefaultWorkerID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unknown", DefaultWorkerID)
}
