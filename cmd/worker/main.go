// Package main implements a reference enrichment worker. It polls the API
// for claimable tasks, runs a deterministic lexical extractor over the chunk
// text, and submits the result. Production workers replace the extractor
// with real model calls but keep the same claim/submit/fail protocol.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/marrowlabs/enrich-api/internal/api"
	"github.com/marrowlabs/enrich-api/internal/domain"
)

const (
	defaultServerURL    = "http://localhost:8080"
	defaultPollInterval = 5 * time.Second
	defaultLeaseSeconds = 300
	requestTimeout      = 30 * time.Second
)

func main() {
	serverURL := flag.String("server", defaultServerURL, "base URL of the enrichment API")
	workerID := flag.String("worker-id", "", "worker identifier reported on claims")
	pollInterval := flag.Duration("poll-interval", defaultPollInterval,
		"delay between claim attempts when the queue is empty")
	leaseSeconds := flag.Int("lease-seconds", defaultLeaseSeconds,
		"lease duration requested on each claim")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).
		With(slog.String("component", "worker"))

	if *workerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "worker"
		}
		*workerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	w := &worker{
		client:   &http.Client{Timeout: requestTimeout},
		baseURL:  strings.TrimRight(*serverURL, "/"),
		workerID: *workerID,
		lease:    *leaseSeconds,
		logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started",
		slog.String("server", w.baseURL),
		slog.String("worker_id", w.workerID))

	w.run(ctx, *pollInterval)

	logger.Info("worker stopped")
}

type worker struct {
	client   *http.Client
	baseURL  string
	workerID string
	lease    int
	logger   *slog.Logger
}

// run claims and processes tasks until the context is canceled. An empty
// queue backs off for pollInterval; errors back off the same way.
func (w *worker) run(ctx context.Context, pollInterval time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := w.processOne(ctx)
		if err != nil {
			w.logger.Error("task processing failed", slog.String("error", err.Error()))
		}

		if claimed && err == nil {
			// More work may be waiting; claim again immediately.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

// processOne claims a single task and reports its result or failure.
// Returns whether a task was claimed.
func (w *worker) processOne(ctx context.Context) (bool, error) {
	claim, err := w.claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claim failed: %w", err)
	}
	if claim == nil {
		return false, nil
	}

	log := w.logger.With(
		slog.String("task_id", claim.Task.ID),
		slog.String("chunk_id", claim.Task.ChunkID))
	log.Info("task claimed", slog.Int("attempt", claim.Task.Attempt))

	result, err := enrich(claim)
	if err != nil {
		log.Warn("extraction failed, reporting failure", slog.String("error", err.Error()))
		if failErr := w.fail(ctx, claim.Task.ID, err.Error()); failErr != nil {
			return true, fmt.Errorf("fail report failed: %w", failErr)
		}
		return true, nil
	}

	if err := w.submit(ctx, claim.Task.ID, result); err != nil {
		return true, fmt.Errorf("result submission failed: %w", err)
	}

	log.Info("task completed")
	return true, nil
}

// claim requests the next pending task. Returns nil when the queue is empty.
func (w *worker) claim(ctx context.Context) (*api.ClaimResponse, error) {
	body, err := json.Marshal(api.ClaimRequest{
		WorkerID:     w.workerID,
		LeaseSeconds: w.lease,
	})
	if err != nil {
		return nil, err
	}

	var claim *api.ClaimResponse
	err = w.post(ctx, "/api/tasks/claim", body, func(status int, respBody []byte) error {
		switch status {
		case http.StatusNoContent:
			claim = nil
			return nil
		case http.StatusOK:
			claim = &api.ClaimResponse{}
			return json.Unmarshal(respBody, claim)
		default:
			return fmt.Errorf("unexpected claim status %d", status)
		}
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// submit reports successful enrichment output for a claimed task.
func (w *worker) submit(ctx context.Context, taskID string, result api.SubmitResultRequest) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return w.post(ctx, "/api/tasks/"+taskID+"/result", body,
		func(status int, _ []byte) error {
			if status != http.StatusOK {
				return fmt.Errorf("unexpected result status %d", status)
			}
			return nil
		})
}

// fail reports a failed attempt for a claimed task.
func (w *worker) fail(ctx context.Context, taskID string, message string) error {
	body, err := json.Marshal(api.FailTaskRequest{Error: message})
	if err != nil {
		return err
	}

	return w.post(ctx, "/api/tasks/"+taskID+"/fail",
		body,
		func(status int, _ []byte) error {
			if status != http.StatusOK {
				return fmt.Errorf("unexpected fail status %d", status)
			}
			return nil
		})
}

// post sends a JSON POST with retries on transport errors and 5xx responses.
// 4xx responses are handed to handle without retrying.
func (w *worker) post(
	ctx context.Context,
	path string,
	body []byte,
	handle func(status int, body []byte) error,
) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(
				ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := w.client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("server error %d", resp.StatusCode)
			}

			if err := handle(resp.StatusCode, respBody); err != nil {
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// enrich runs the deterministic lexical extractor over the claimed chunk.
func enrich(claim *api.ClaimResponse) (api.SubmitResultRequest, error) {
	task := claim.Task
	if strings.TrimSpace(task.Text) == "" {
		return api.SubmitResultRequest{}, fmt.Errorf("chunk %s has no text", task.ChunkID)
	}

	words := strings.Fields(task.Text)

	tier2 := domain.Meta{
		"word_count": len(words),
		"char_count": len(task.Text),
		"keywords":   topKeywords(words, 5),
	}

	summary := firstSentence(task.Text, 160)
	tier3 := domain.Meta{
		"summary": summary,
	}

	return api.SubmitResultRequest{
		ChunkID:    task.ChunkID,
		Collection: task.Collection,
		Tier2:      tier2,
		Tier3:      tier3,
		Entities:   extractTerms(words, 10),
	}, nil
}

// topKeywords returns the n most frequent lowercased words longer than three
// characters, most frequent first. Ties break alphabetically so the output
// is stable.
func topKeywords(words []string, n int) []string {
	freq := make(map[string]int)
	for _, word := range words {
		word = strings.ToLower(strings.Trim(word, ".,;:!?\"'()[]{}"))
		if len(word) > 3 {
			freq[word]++
		}
	}

	keywords := make([]string, 0, len(freq))
	for word := range freq {
		keywords = append(keywords, word)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > n {
		keywords = keywords[:n]
	}
	return keywords
}

// firstSentence returns the text up to the first period, truncated to max
// characters.
func firstSentence(text string, max int) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '.'); idx > 0 {
		text = text[:idx+1]
	}
	if len(text) > max {
		text = text[:max]
	}
	return text
}

// extractTerms returns up to n distinct capitalized words as term entities.
func extractTerms(words []string, n int) []api.EntityPayload {
	seen := make(map[string]bool)
	var terms []api.EntityPayload
	for _, word := range words {
		word = strings.Trim(word, ".,;:!?\"'()[]{}")
		if len(word) < 2 || word[0] < 'A' || word[0] > 'Z' {
			continue
		}
		if seen[word] {
			continue
		}
		seen[word] = true
		terms = append(terms, api.EntityPayload{Name: word, Kind: "term"})
		if len(terms) == n {
			break
		}
	}
	return terms
}
