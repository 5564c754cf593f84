package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lennylistens/listend/internal/generate"
	"github.com/lennylistens/listend/internal/status"
	"github.com/lennylistens/listend/internal/storage"
)

func enqueueGenerateJob(t *testing.T, store *storage.Store, conversationID string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"conversation_id": conversationID})
	jobID := "job-" + conversationID
	job := storage.Job{
		ID:          jobID,
		Type:        "generate",
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return jobID
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) string {
	t.Helper()
	var s string
	if err := store.DB().QueryRow(`SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&s); err != nil {
		t.Fatalf("querying job %s: %v", jobID, err)
	}
	return s
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	manager := status.NewManager(store)
	beginTestRecord(t, manager, "c-w1")
	jobID := enqueueGenerateJob(t, store, "c-w1")

	gen := &fakeGenerator{result: generate.Result{
		PerspectiveID: "abc123",
		PreviewURL:    "https://pv.getperspective.ai/share/abc",
		ShareURL:      "https://pv.getperspective.ai/share/abc?s=1",
	}}
	w := NewWorker(store, NewDispatcher(gen, manager), manager, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if got := jobStatus(t, store, jobID); got != "completed" {
		t.Errorf("job status = %q, want completed", got)
	}
	rec, err := manager.Get("c-w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != status.Ready {
		t.Errorf("record status = %q, want %q", rec.Status, status.Ready)
	}
}

func TestWorker_FailureIsFinal(t *testing.T) {
	store := openTestStore(t)
	manager := status.NewManager(store)
	beginTestRecord(t, manager, "c-w2")
	jobID := enqueueGenerateJob(t, store, "c-w2")

	gen := &fakeGenerator{err: errors.New("upstream down")}
	w := NewWorker(store, NewDispatcher(gen, manager), manager, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	// Generation jobs run with a single attempt; the job lands in failed
	// immediately and the record carries the error.
	if got := jobStatus(t, store, jobID); got != "failed" {
		t.Errorf("job status = %q, want failed", got)
	}
	rec, err := manager.Get("c-w2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != status.Error {
		t.Errorf("record status = %q, want %q", rec.Status, status.Error)
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}

	// Nothing left to claim.
	didWork, err = w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce 2 error: %v", err)
	}
	if didWork {
		t.Error("RunOnce claimed a job after terminal failure")
	}
}

func TestWorker_UnknownRecord(t *testing.T) {
	store := openTestStore(t)
	manager := status.NewManager(store)
	jobID := enqueueGenerateJob(t, store, "c-missing")

	gen := &fakeGenerator{}
	w := NewWorker(store, NewDispatcher(gen, manager), manager, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if got := jobStatus(t, store, jobID); got != "failed" {
		t.Errorf("job status = %q, want failed", got)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for missing record, want 0", gen.calls)
	}
}

func TestWorker_MalformedPayload(t *testing.T) {
	store := openTestStore(t)
	manager := status.NewManager(store)
	job := storage.Job{ID: "job-bad", Type: "generate", PayloadJSON: "{nope"}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(store, NewDispatcher(&fakeGenerator{}, manager), manager, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if got := jobStatus(t, store, "job-bad"); got != "failed" {
		t.Errorf("job status = %q, want failed", got)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	manager := status.NewManager(store)
	w := NewWorker(store, NewDispatcher(&fakeGenerator{}, manager), manager, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true with an empty queue")
	}
}
