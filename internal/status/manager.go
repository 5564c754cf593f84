package status

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lennylistens/listend/internal/intake"
)

// ErrTerminal is returned when a write would transition a record out of a
// terminal state.
var ErrTerminal = errors.New("record is in a terminal state")

// Store is the persistence surface the Manager writes through. The sqlite
// store and the no-op store both satisfy it.
type Store interface {
	PutRecord(rec Record) error
	GetRecord(conversationID string) (Record, error)
	PushPending(conversationID string, queuedAt time.Time) error
	RemovePending(conversationID string) error
	PutSession(sessionID, conversationID string, expiresAt time.Time) error
}

const sessionTTL = time.Hour

// Manager exclusively owns writes to status records. Per conversation id the
// pending write happens before any dispatch attempt, and terminal states are
// write-once: once a record is ready or error it never changes again.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Begin creates the pending record for a fresh intake and adds it to the
// outstanding index. If sessionID is non-empty the session is indexed to the
// conversation id with a bounded TTL. Re-beginning a conversation that has
// already reached a terminal state is rejected with ErrTerminal; a
// non-terminal record is overwritten and generation re-triggered.
func (m *Manager) Begin(rec intake.Record, sessionID string) (Record, error) {
	if existing, err := m.store.GetRecord(rec.ConversationID); err == nil && existing.Status.Terminal() {
		return Record{}, fmt.Errorf("conversation %s: %w", rec.ConversationID, ErrTerminal)
	}

	now := m.now().UTC()
	record := Record{
		ConversationID: rec.ConversationID,
		Status:         Pending,
		Intake:         rec,
		CreatedAt:      now,
	}

	if err := m.store.PutRecord(record); err != nil {
		return Record{}, fmt.Errorf("storing pending record: %w", err)
	}
	if err := m.store.PushPending(rec.ConversationID, now); err != nil {
		return Record{}, fmt.Errorf("indexing pending record: %w", err)
	}

	if sessionID != "" {
		if err := m.store.PutSession(sessionID, rec.ConversationID, now.Add(sessionTTL)); err != nil {
			// Session indexing is a lookup aid; its failure must not fail intake.
			m.logger.Warn("failed to index session", "session_id", sessionID, "error", err)
		} else {
			m.logger.Info("indexed session", "session_id", sessionID, "conversation_id", rec.ConversationID)
		}
	}

	return record, nil
}

// MarkGenerating records the optional intermediate state when dispatch
// starts. Missing records and terminal records are left untouched.
func (m *Manager) MarkGenerating(conversationID string) error {
	rec, err := m.store.GetRecord(conversationID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrTerminal)
	}
	rec.Status = Generating
	return m.store.PutRecord(rec)
}

// Complete transitions a record to ready with the resolved identifiers and
// urls, stamps generated_at, and prunes the outstanding index. Both urls are
// required; a missing url is a dispatcher defect surfaced as Fail instead.
func (m *Manager) Complete(conversationID, perspectiveID, previewURL, shareURL string) error {
	if previewURL == "" || shareURL == "" {
		return m.Fail(conversationID, "generation returned no preview/share URLs")
	}

	rec, err := m.store.GetRecord(conversationID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrTerminal)
	}

	rec.Status = Ready
	rec.PerspectiveID = perspectiveID
	rec.PreviewURL = previewURL
	rec.ShareURL = shareURL
	rec.ErrorMessage = ""
	rec.GeneratedAt = m.now().UTC()

	if err := m.store.PutRecord(rec); err != nil {
		return fmt.Errorf("storing ready record: %w", err)
	}
	if err := m.store.RemovePending(conversationID); err != nil {
		return fmt.Errorf("pruning outstanding index: %w", err)
	}

	m.logger.Info("perspective ready", "conversation_id", conversationID, "perspective_id", perspectiveID)
	return nil
}

// Fail transitions a record to error with a human-readable detail and prunes
// the outstanding index.
func (m *Manager) Fail(conversationID, message string) error {
	rec, err := m.store.GetRecord(conversationID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrTerminal)
	}

	rec.Status = Error
	rec.ErrorMessage = message
	rec.GeneratedAt = m.now().UTC()

	if err := m.store.PutRecord(rec); err != nil {
		return fmt.Errorf("storing error record: %w", err)
	}
	if err := m.store.RemovePending(conversationID); err != nil {
		return fmt.Errorf("pruning outstanding index: %w", err)
	}

	m.logger.Warn("perspective generation failed", "conversation_id", conversationID, "error", message)
	return nil
}

// Get reads a record.
func (m *Manager) Get(conversationID string) (Record, error) {
	return m.store.GetRecord(conversationID)
}
