package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/codebuddy/internal/pipeline"
	"github.com/kalambet/codebuddy/internal/storage"
)

// JobTypeAnalyze is the job type queued by asynchronous analyze requests.
const JobTypeAnalyze = "analyze"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, resultJSON string) error
	FailJob(id string, errMsg string) error
}

// Analyzer runs an analysis. *pipeline.Assistant implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.AnalyzeRequest) (pipeline.Response, error)
}

// Enqueue queues req for the worker and returns the job ID. A session ID is
// assigned up front so the caller can continue the session before the job
// has run.
func Enqueue(store JobStore, req pipeline.AnalyzeRequest) (jobID, sessionID string, err error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", "", fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeAnalyze,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		return "", "", fmt.Errorf("enqueueing job: %w", err)
	}
	return job.ID, req.SessionID, nil
}

// Worker processes analyze jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	analyzer Analyzer
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, analyzer Analyzer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		analyzer: analyzer,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single analyze job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeAnalyze})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	result, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, result); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// processJob returns the encoded pipeline response. A provider failure is a
// completed job whose result reports success=false; only malformed payloads
// and storage errors fail the job.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var req pipeline.AnalyzeRequest
	if err := json.Unmarshal([]byte(job.PayloadJSON), &req); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	resp, err := w.analyzer.Analyze(ctx, req)
	if err != nil {
		return "", fmt.Errorf("analyzing: %w", err)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	w.logger.Debug("job complete", "job_id", job.ID, "success", resp.Success)
	return string(out), nil
}
