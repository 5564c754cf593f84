package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lennylistens/listend/internal/status"
	"github.com/lennylistens/listend/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Worker processes generate jobs from the SQLite job queue.
type Worker struct {
	store      JobStore
	dispatcher *Dispatcher
	manager    RecordLoader
	poll       time.Duration
	logger     *slog.Logger
}

// RecordLoader loads the status record a queued job refers to.
type RecordLoader interface {
	Get(conversationID string) (status.Record, error)
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, dispatcher *Dispatcher, manager RecordLoader, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:      store,
		dispatcher: dispatcher,
		manager:    manager,
		poll:       pollInterval,
		logger:     slog.Default(),
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

// RunOnce claims and processes a single generate job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{"generate"})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type generatePayload struct {
	ConversationID string `json:"conversation_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload generatePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	rec, err := w.manager.Get(payload.ConversationID)
	if err != nil {
		return fmt.Errorf("loading record %s: %w", payload.ConversationID, err)
	}

	// The job outcome mirrors the generation outcome so failed dispatches
	// show up in the jobs table as well as on the status record. A single
	// attempt is configured; a failed generation is final either way.
	if err := w.dispatcher.Dispatch(ctx, rec.Intake); err != nil {
		return fmt.Errorf("dispatching %s: %w", payload.ConversationID, err)
	}
	return nil
}
