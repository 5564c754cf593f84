package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lennylistens/listend/internal/intake"
)

const (
	defaultAPIBaseURL = "https://getperspective.ai"
	defaultTimeout    = 60 * time.Second
)

// APIClient is the direct-call strategy: a single synchronous REST request
// to the Perspective platform carrying the compiled description.
type APIClient struct {
	token         string
	workspaceSlug string
	baseURL       string
	httpClient    *http.Client
}

// NewAPIClient creates a direct API client with the given bearer token and
// workspace slug.
func NewAPIClient(token, workspaceSlug string) *APIClient {
	return &APIClient{
		token:         token,
		workspaceSlug: workspaceSlug,
		baseURL:       defaultAPIBaseURL,
		httpClient:    &http.Client{Timeout: defaultTimeout},
	}
}

// NewAPIClientWithBaseURL creates a client pointing at a custom base URL
// (for testing).
func NewAPIClientWithBaseURL(token, workspaceSlug, baseURL string) *APIClient {
	c := NewAPIClient(token, workspaceSlug)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type createRequest struct {
	WorkspaceSlug string `json:"workspaceSlug"`
	UserPrompt    string `json:"userPrompt"`
	AgentContext  string `json:"agentContext"`
}

type createResponse struct {
	PerspectiveID string `json:"perspective_id"`
	ID            string `json:"id"`
	PreviewURL    string `json:"preview_url"`
	ShareURL      string `json:"share_url"`
}

// Generate compiles the record into a description and creates the
// perspective in one call.
func (c *APIClient) Generate(ctx context.Context, rec intake.Record) (Result, error) {
	body, err := json.Marshal(createRequest{
		WorkspaceSlug: c.workspaceSlug,
		UserPrompt:    intake.BuildDescription(rec),
		AgentContext:  "research",
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/perspective/create", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decoding response: %w", err)
	}

	id := out.PerspectiveID
	if id == "" {
		id = out.ID
	}
	return Result{
		PerspectiveID: id,
		PreviewURL:    out.PreviewURL,
		ShareURL:      out.ShareURL,
	}, nil
}
