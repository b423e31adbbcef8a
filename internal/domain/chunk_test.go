package domain

import (
	"testing"
)

func TestMergeMeta(t *testing.T) {
	t.Parallel() // Enable parallel execution

	existing := Meta{"lang": "python", "lines": 10}
	update := Meta{"lines": 12, "topic": "parsing"}

	merged := MergeMeta(existing, update)

	if merged["lang"] != "python" {
		t.Errorf("Expected existing key to survive, got %v", merged["lang"])
	}
	if merged["lines"] != 12 {
		t.Errorf("Expected update to win on collision, got %v", merged["lines"])
	}
	if merged["topic"] != "parsing" {
		t.Errorf("Expected new key from update, got %v", merged["topic"])
	}

	// Inputs must not be modified
	if existing["lines"] != 10 {
		t.Errorf("Expected existing map untouched, got %v", existing["lines"])
	}
	if len(update) != 2 {
		t.Errorf("Expected update map untouched, got %d keys", len(update))
	}
}

func TestMergeMetaNilInputs(t *testing.T) {
	t.Parallel()

	merged := MergeMeta(nil, Meta{"a": 1})
	if merged["a"] != 1 {
		t.Errorf("Expected key from update, got %v", merged["a"])
	}

	merged = MergeMeta(Meta{"b": 2}, nil)
	if merged["b"] != 2 {
		t.Errorf("Expected key from existing, got %v", merged["b"])
	}

	merged = MergeMeta(nil, nil)
	if len(merged) != 0 {
		t.Errorf("Expected empty merge, got %d keys", len(merged))
	}
}

func TestValidEnrichmentStatus(t *testing.T) {
	t.Parallel()

	valid := []EnrichmentStatus{
		EnrichmentStatusNone,
		EnrichmentStatusPending,
		EnrichmentStatusProcessing,
		EnrichmentStatusEnriched,
		EnrichmentStatusFailed,
	}
	for _, status := range valid {
		if !ValidEnrichmentStatus(status) {
			t.Errorf("Expected %s to be valid", status)
		}
	}

	if ValidEnrichmentStatus(EnrichmentStatus("done")) {
		t.Error("Expected unknown status to be invalid")
	}
	if ValidEnrichmentStatus(EnrichmentStatusMixed) {
		t.Error("Expected mixed to be a document-level status only")
	}
}
