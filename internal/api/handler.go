package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lennylistens/listend/internal/dispatch"
	"github.com/lennylistens/listend/internal/intake"
	"github.com/lennylistens/listend/internal/status"
	"github.com/lennylistens/listend/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Dispatch modes for inbound webhooks.
const (
	ModeSync  = "sync"
	ModeQueue = "queue"
)

// latestScanLimit bounds the outstanding-index prefix the latest endpoint
// walks.
const latestScanLimit = 10

// Store is the persistence surface the handlers read directly. Status writes
// go through the lifecycle manager. Both the sqlite store and the degraded
// no-op store satisfy it.
type Store interface {
	GetSession(sessionID string) (string, error)
	ListPending(limit int) ([]string, error)
	RemovePending(conversationID string) error
	DeleteRecord(conversationID string) error
	EnqueueJob(job storage.Job) error
}

type AppDeps struct {
	Store      Store
	Manager    *status.Manager
	Dispatcher *dispatch.Dispatcher
	Mode       string // ModeSync or ModeQueue
	AdminToken string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", handleWebhook(deps))
		r.Get("/webhook", handleWebhookInfo)
		r.Post("/generate", handleGenerate(deps))
		r.Route("/perspective", func(r chi.Router) {
			r.Get("/latest", handleLatest(deps))
			r.Get("/session/{sessionID}", handleGetBySession(deps))
			r.Get("/{id}", handleGetPerspective(deps))
			r.Put("/{id}", handlePutPerspective(deps))
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))
			r.Post("/clear-test-data", handleClearTestData(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleWebhookInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"service":   "listend-webhook",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func handleWebhook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var payload intake.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		rec, err := intake.FromWebhook(payload, time.Now())
		if errors.Is(err, intake.ErrMissingConversationID) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing conversation_id/interview_id")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid payload: %v", err)
			return
		}

		if _, err := deps.Manager.Begin(rec, payload.ParticipantMeta.SessionID); err != nil {
			if errors.Is(err, status.ErrTerminal) {
				httpError(w, http.StatusConflict, "invalid_request_error", "conversation %s already finalized", rec.ConversationID)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store intake: %v", err)
			return
		}

		switch deps.Mode {
		case ModeQueue:
			payloadJSON, err := json.Marshal(map[string]string{"conversation_id": rec.ConversationID})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
				return
			}
			job := storage.Job{
				ID:          uuid.New().String(),
				Type:        "generate",
				PayloadJSON: string(payloadJSON),
			}
			if err := deps.Store.EnqueueJob(job); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
				return
			}
		default:
			// Sync mode runs generation inline before the ack. The dispatch
			// outcome lands on the status record; the ack stays positive
			// either way. A fresh context keeps a dropped webhook connection
			// from cancelling an in-flight generation.
			_ = deps.Dispatcher.Dispatch(context.Background(), rec)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":         true,
			"conversation_id": rec.ConversationID,
			"message":         "Intake stored, generation triggered",
		})
	}
}

// GenerateRequest is the sibling-service generation trigger body.
type GenerateRequest struct {
	ConversationID string        `json:"conversation_id"`
	Intake         intake.Record `json:"intake"`
}

func handleGenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Intake.ConversationID == "" {
			req.Intake.ConversationID = req.ConversationID
		}
		if req.Intake.ConversationID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation_id is required")
			return
		}

		existing, err := deps.Manager.Get(req.Intake.ConversationID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if _, err := deps.Manager.Begin(req.Intake, ""); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to store intake: %v", err)
				return
			}
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load record: %v", err)
			return
		case existing.Status.Terminal():
			// Terminal records never regenerate; dispatching here would
			// create an upstream perspective whose result could not be
			// stored.
			httpError(w, http.StatusConflict, "invalid_request_error", "conversation %s already finalized", req.Intake.ConversationID)
			return
		}

		_ = deps.Dispatcher.Dispatch(context.Background(), req.Intake)

		rec, err := deps.Manager.Get(req.Intake.ConversationID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleGetPerspective(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Manager.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "perspective not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get perspective: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

// PerspectiveUpdate is the PUT body a sibling service sends after finishing a
// generation out of band.
type PerspectiveUpdate struct {
	Status        string `json:"status"`
	PerspectiveID string `json:"perspective_id"`
	PreviewURL    string `json:"preview_url"`
	ShareURL      string `json:"share_url"`
	Error         string `json:"error"`
}

func handlePutPerspective(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var upd PerspectiveUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var err error
		if upd.Error != "" || upd.Status == string(status.Error) {
			msg := upd.Error
			if msg == "" {
				msg = "generation failed"
			}
			err = deps.Manager.Fail(id, msg)
		} else {
			err = deps.Manager.Complete(id, upd.PerspectiveID, upd.PreviewURL, upd.ShareURL)
		}
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "perspective not found")
			return
		}
		if errors.Is(err, status.ErrTerminal) {
			httpError(w, http.StatusConflict, "invalid_request_error", "perspective %s already finalized", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update perspective: %v", err)
			return
		}

		rec, err := deps.Manager.Get(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleGetBySession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		conversationID, err := deps.Store.GetSession(sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found - intake may not be complete yet")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve session: %v", err)
			return
		}

		rec, err := deps.Manager.Get(conversationID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "perspective not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get perspective: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleLatest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, found, err := latestPending(deps.Store, deps.Manager)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to scan pending perspectives: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "no pending perspectives found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

// latestPending walks the newest entries of the outstanding index and returns
// the first record still in flight. Terminal or vanished leftovers it passes
// over are pruned so the index converges toward truly outstanding work.
func latestPending(store Store, manager *status.Manager) (status.Record, bool, error) {
	ids, err := store.ListPending(latestScanLimit)
	if err != nil {
		return status.Record{}, false, err
	}

	for _, id := range ids {
		rec, err := manager.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			_ = store.RemovePending(id)
			continue
		}
		if err != nil {
			return status.Record{}, false, err
		}
		if rec.Status.Terminal() {
			_ = store.RemovePending(id)
			continue
		}
		return rec, true, nil
	}
	return status.Record{}, false, nil
}

func handleClearTestData(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := deps.Store.ListPending(0)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list pending perspectives: %v", err)
			return
		}

		cleared := 0
		for _, id := range ids {
			if !strings.HasPrefix(id, "test-") {
				continue
			}
			if err := deps.Store.DeleteRecord(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to delete %s: %v", id, err)
				return
			}
			cleared++
		}

		remaining, err := deps.Store.ListPending(0)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list pending perspectives: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"cleared":   cleared,
			"remaining": len(remaining),
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
