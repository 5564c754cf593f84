package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/lennylistens/listend/internal/intake"
)

// ErrMissingResult is returned when a backend responded successfully but no
// parseable identifier/URL pair could be extracted from the response.
var ErrMissingResult = errors.New("no perspective data in backend response")

// UpstreamError reports a non-success HTTP status from a generation backend.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// Result is the normalized outcome of a generation attempt. All fields are
// optional at this layer; callers that require readiness must check the URLs
// for non-emptiness rather than assume.
type Result struct {
	PerspectiveID string `json:"perspective_id"`
	PreviewURL    string `json:"preview_url"`
	ShareURL      string `json:"share_url"`
}

// Generator produces identifiers and URLs for an intake record. The four
// strategies (direct API, MCP stream, agent session, sidecar delegation) are
// interchangeable behind this interface; exactly one is configured per
// deployment and none retries on failure.
type Generator interface {
	Generate(ctx context.Context, rec intake.Record) (Result, error)
}
