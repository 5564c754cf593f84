package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/lennylistens/listend/internal/generate"
	"github.com/lennylistens/listend/internal/intake"
	"github.com/lennylistens/listend/internal/status"
)

const dispatchTimeout = 60 * time.Second

// Dispatcher runs exactly one generation attempt for an intake record and
// converts the outcome into a terminal status write. Generation failures
// never propagate to the ingestion caller; they become error records.
type Dispatcher struct {
	gen     generate.Generator
	manager *status.Manager
	logger  *slog.Logger
}

func NewDispatcher(gen generate.Generator, manager *status.Manager) *Dispatcher {
	return &Dispatcher{
		gen:     gen,
		manager: manager,
		logger:  slog.Default(),
	}
}

// Dispatch drives one intake record to a terminal state. The pending record
// for the conversation must already exist. The returned error reflects the
// generation outcome for callers that want to log it; the status record has
// already been written either way.
func (d *Dispatcher) Dispatch(ctx context.Context, rec intake.Record) error {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	if err := d.manager.MarkGenerating(rec.ConversationID); err != nil {
		// Not fatal; the record may legitimately still be in pending on
		// stores that dropped the intermediate write.
		d.logger.Warn("could not mark generating", "conversation_id", rec.ConversationID, "error", err)
	}

	result, err := d.gen.Generate(ctx, rec)
	if err != nil {
		if failErr := d.manager.Fail(rec.ConversationID, err.Error()); failErr != nil {
			d.logger.Error("failed to record generation error", "conversation_id", rec.ConversationID, "error", failErr)
		}
		return err
	}

	if err := d.manager.Complete(rec.ConversationID, result.PerspectiveID, result.PreviewURL, result.ShareURL); err != nil {
		d.logger.Error("failed to record generation result", "conversation_id", rec.ConversationID, "error", err)
		return err
	}
	return nil
}
