package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marrowlabs/enrich-api/internal/domain"
	"github.com/marrowlabs/enrich-api/internal/platform/logger"
	"github.com/marrowlabs/enrich-api/internal/store"
)

// DocumentStatus is the per-document view derived from chunk-level
// enrichment state.
type DocumentStatus struct {
	BaseID     string                  `json:"base_id"`
	Collection string                  `json:"collection"`
	Status     domain.EnrichmentStatus `json:"status"`
	Chunks     ChunkBreakdown          `json:"chunks"`
	// EnrichedAt is the most recent successful merge among enriched chunks.
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
	// Tier2Meta/Tier3Meta are the most recently observed values among
	// enriched chunks (last one wins; values are not merged across chunks).
	Tier2Meta    domain.Meta `json:"tier2_meta,omitempty"`
	Tier3Meta    domain.Meta `json:"tier3_meta,omitempty"`
	SummaryShort string      `json:"summary_short,omitempty"`
}

// ChunkBreakdown is a status histogram plus the total chunk count.
type ChunkBreakdown struct {
	Total  int                 `json:"total"`
	Counts domain.StatusCounts `json:"counts"`
}

// QueueStats is the collection-wide queue summary. Chunk status counts are
// derived from a bounded scan: once ScannedChunks reaches ScanCap the
// figures are approximate and Approximate is set. Queue counts come from
// the O(1) counters maintained alongside the ledger and are exact.
type QueueStats struct {
	Collection    string              `json:"collection,omitempty"`
	DocType       string              `json:"doc_type,omitempty"`
	ChunkStatuses domain.StatusCounts `json:"chunk_statuses"`
	ScannedChunks int                 `json:"scanned_chunks"`
	ScanCap       int                 `json:"scan_cap"`
	Approximate   bool                `json:"approximate"`
	Queue         store.QueueCounts   `json:"queue"`
}

// GetStatus aggregates the chunk enrichment records of one document into a
// single status. Returns ErrDocumentNotFound when the document has no chunk
// records at all.
func (s *EnrichmentService) GetStatus(
	ctx context.Context,
	baseID, collection string,
) (*DocumentStatus, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	chunks, err := s.chunks.ListByDocument(ctx, baseID, collection)
	if err != nil {
		return nil, newServiceError("get_status", "failed to list document chunks", err)
	}
	if len(chunks) == 0 {
		return nil, ErrDocumentNotFound
	}

	status := &DocumentStatus{
		BaseID:     baseID,
		Collection: collection,
	}

	for _, chunk := range chunks {
		status.Chunks.Counts.Add(chunk.EnrichmentStatus)

		if chunk.EnrichmentStatus != domain.EnrichmentStatusEnriched {
			continue
		}
		if chunk.EnrichedAt != nil &&
			(status.EnrichedAt == nil || chunk.EnrichedAt.After(*status.EnrichedAt)) {
			status.EnrichedAt = chunk.EnrichedAt
		}
		if chunk.Tier2Meta != nil {
			status.Tier2Meta = chunk.Tier2Meta
		}
		if chunk.Tier3Meta != nil {
			status.Tier3Meta = chunk.Tier3Meta
		}
	}

	status.Chunks.Total = status.Chunks.Counts.Total()
	status.Status = domain.OverallStatus(status.Chunks.Counts)

	doc, err := s.documents.Get(ctx, baseID, collection)
	if err != nil && !errors.Is(err, store.ErrDocumentNotFound) {
		return nil, newServiceError("get_status", "failed to read document summary", err)
	}
	if doc != nil {
		status.SummaryShort = doc.SummaryShort
	}

	log.Debug("document status computed",
		slog.String("base_id", baseID),
		slog.String("collection", collection),
		slog.String("status", string(status.Status)),
		slog.Int("chunks", status.Chunks.Total))
	return status, nil
}

// GetStats summarizes queue depth and chunk enrichment states for a
// collection (or globally when collection is empty). Chunk figures are
// computed from a scan bounded at the configured cap and are approximate
// for datasets larger than the cap.
func (s *EnrichmentService) GetStats(
	ctx context.Context,
	collection, docType string,
) (*QueueStats, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	filter := store.ChunkFilter{Collection: collection, DocType: docType}
	chunks, err := s.chunks.Scan(ctx, filter, s.cfg.ScanCap)
	if err != nil {
		return nil, newServiceError("get_stats", "failed to scan chunks", err)
	}

	stats := &QueueStats{
		Collection:    collection,
		DocType:       docType,
		ScannedChunks: len(chunks),
		ScanCap:       s.cfg.ScanCap,
		Approximate:   len(chunks) >= s.cfg.ScanCap,
	}

	for _, chunk := range chunks {
		stats.ChunkStatuses.Add(chunk.EnrichmentStatus)
	}

	counts, err := s.counters.Get(ctx, collection)
	if err != nil {
		return nil, newServiceError("get_stats", "failed to read queue counters", err)
	}
	stats.Queue = counts

	log.Debug("queue stats computed",
		slog.String("collection", collection),
		slog.Int("scanned_chunks", stats.ScannedChunks),
		slog.Bool("approximate", stats.Approximate))
	return stats, nil
}
