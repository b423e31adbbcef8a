package domain

import "time"

// DocumentSummary is the document-scoped record keyed by (BaseID, Collection).
// SummaryShort is written whenever a worker's tier-3 output carries a summary;
// the summary never lives on an individual chunk.
type DocumentSummary struct {
	BaseID       string    `json:"base_id"`
	Collection   string    `json:"collection"`
	SummaryShort string    `json:"summary_short,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StatusCounts is a histogram of chunk enrichment statuses for one document.
type StatusCounts struct {
	None       int `json:"none"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Enriched   int `json:"enriched"`
	Failed     int `json:"failed"`
}

// Total returns the number of chunks counted.
func (c StatusCounts) Total() int {
	return c.None + c.Pending + c.Processing + c.Enriched + c.Failed
}

// Add increments the counter for the given status. Unknown statuses are
// counted as none; persisted values are constrained to the enum by the store.
func (c *StatusCounts) Add(status EnrichmentStatus) {
	switch status {
	case EnrichmentStatusPending:
		c.Pending++
	case EnrichmentStatusProcessing:
		c.Processing++
	case EnrichmentStatusEnriched:
		c.Enriched++
	case EnrichmentStatusFailed:
		c.Failed++
	default:
		c.None++
	}
}

// EnrichmentStatusMixed only appears at the document level, never on a chunk.
const EnrichmentStatusMixed EnrichmentStatus = "mixed"

// OverallStatus derives a single document-level status from a chunk status
// histogram. A uniform histogram collapses to its one status; otherwise any
// failed chunk dominates and everything else reports as mixed.
func OverallStatus(counts StatusCounts) EnrichmentStatus {
	total := counts.Total()
	switch {
	case total == 0:
		return EnrichmentStatusNone
	case counts.Enriched == total:
		return EnrichmentStatusEnriched
	case counts.Pending == total:
		return EnrichmentStatusPending
	case counts.Processing == total:
		return EnrichmentStatusProcessing
	case counts.None == total:
		return EnrichmentStatusNone
	case counts.Failed > 0:
		return EnrichmentStatusFailed
	default:
		return EnrichmentStatusMixed
	}
}
