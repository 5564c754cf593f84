package storage

import (
	"log/slog"
	"time"

	"github.com/lennylistens/listend/internal/status"
)

// Noop is the degraded store used when persistence is unconfigured or
// unavailable. Reads fail open toward "nothing found"; writes are logged and
// discarded so the intake path keeps acknowledging.
type Noop struct {
	logger *slog.Logger
}

func NewNoop() *Noop {
	return &Noop{logger: slog.Default()}
}

func (n *Noop) PutRecord(rec status.Record) error {
	n.logger.Warn("store unavailable, dropping status record", "conversation_id", rec.ConversationID, "status", rec.Status)
	return nil
}

func (n *Noop) GetRecord(conversationID string) (status.Record, error) {
	return status.Record{}, ErrNotFound
}

func (n *Noop) DeleteRecord(conversationID string) error {
	return ErrNotFound
}

func (n *Noop) PushPending(conversationID string, queuedAt time.Time) error {
	return nil
}

func (n *Noop) RemovePending(conversationID string) error {
	return nil
}

func (n *Noop) ListPending(limit int) ([]string, error) {
	return nil, nil
}

func (n *Noop) PutSession(sessionID, conversationID string, expiresAt time.Time) error {
	return nil
}

func (n *Noop) GetSession(sessionID string) (string, error) {
	return "", ErrNotFound
}

func (n *Noop) EnqueueJob(job Job) error {
	n.logger.Warn("store unavailable, dropping job", "job_id", job.ID, "type", job.Type)
	return nil
}

func (n *Noop) ClaimNextJob(types []string) (*Job, error) {
	return nil, nil
}

func (n *Noop) CompleteJob(id string) error {
	return nil
}

func (n *Noop) FailJob(id string, errMsg string) error {
	return nil
}
