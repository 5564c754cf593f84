package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lennylistens/listend/internal/intake"
)

// SidecarClient is the delegation strategy: generation is handed to a
// sibling service exposing POST /generate, which performs the upstream call
// itself and reports the result fields back.
type SidecarClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSidecarClient creates a client for the sibling generation service.
func NewSidecarClient(baseURL string) *SidecarClient {
	return &SidecarClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sidecarRequest struct {
	ConversationID string        `json:"conversation_id"`
	Intake         intake.Record `json:"intake"`
}

type sidecarResponse struct {
	PerspectiveID string `json:"perspective_id"`
	PreviewURL    string `json:"preview_url"`
	ShareURL      string `json:"share_url"`
}

func (c *SidecarClient) Generate(ctx context.Context, rec intake.Record) (Result, error) {
	body, err := json.Marshal(sidecarRequest{ConversationID: rec.ConversationID, Intake: rec})
	if err != nil {
		return Result{}, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decoding response: %w", err)
	}
	return Result{
		PerspectiveID: out.PerspectiveID,
		PreviewURL:    out.PreviewURL,
		ShareURL:      out.ShareURL,
	}, nil
}
