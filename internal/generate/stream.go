package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lennylistens/listend/internal/intake"
)

const streamTimeout = 60 * time.Second

// MCPClient is the streamed-event strategy: a JSON-RPC 2.0 tools/call of
// perspective_create whose response arrives as a server-sent-event stream.
// The result may appear in several places across the frames; every frame is
// scanned and malformed frames are skipped, not fatal.
type MCPClient struct {
	token       string
	workspaceID string
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewMCPClient creates a streamed-event client with the given bearer token
// and workspace id.
func NewMCPClient(token, workspaceID string) *MCPClient {
	return &MCPClient{
		token:       token,
		workspaceID: workspaceID,
		baseURL:     defaultAPIBaseURL,
		httpClient:  &http.Client{Timeout: streamTimeout},
		logger:      slog.Default(),
	}
}

// NewMCPClientWithBaseURL creates a client pointing at a custom base URL
// (for testing).
func NewMCPClientWithBaseURL(token, workspaceID, baseURL string) *MCPClient {
	c := NewMCPClient(token, workspaceID)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Generate compiles the record into a description and drives the tool call.
func (c *MCPClient) Generate(ctx context.Context, rec intake.Record) (Result, error) {
	return c.CreatePerspective(ctx, intake.BuildDescription(rec))
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string        `json:"name"`
	Arguments toolArguments `json:"arguments"`
}

type toolArguments struct {
	WorkspaceID  string `json:"workspace_id"`
	Description  string `json:"description"`
	AgentContext string `json:"agent_context"`
}

// sseFrame covers the shapes a data payload may take: a JSON-RPC result with
// nested content items, the result fields at top level, or a bare result
// wrapper.
type sseFrame struct {
	Result *frameResult `json:"result"`
	resultPayload
}

type frameResult struct {
	Content []frameContent `json:"content"`
	resultPayload
}

type frameContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type resultPayload struct {
	PerspectiveID string `json:"perspective_id"`
	ID            string `json:"id"`
	PreviewURL    string `json:"preview_url"`
	ShareURL      string `json:"share_url"`
}

func (p resultPayload) toResult() (Result, bool) {
	id := p.PerspectiveID
	if id == "" {
		id = p.ID
	}
	if p.PerspectiveID == "" && p.PreviewURL == "" {
		return Result{}, false
	}
	return Result{PerspectiveID: id, PreviewURL: p.PreviewURL, ShareURL: p.ShareURL}, true
}

// CreatePerspective issues the tools/call and scans the SSE response for the
// first frame carrying perspective data. The whole exchange is bounded by an
// explicit timeout; the transport has no end-of-stream marker to rely on.
func (c *MCPClient) CreatePerspective(ctx context.Context, description string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      time.Now().UnixMilli(),
		Method:  "tools/call",
		Params: rpcParams{
			Name: "perspective_create",
			Arguments: toolArguments{
				WorkspaceID:  c.workspaceID,
				Description:  description,
				AgentContext: "research",
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshalling rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(body))
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

	return c.scanStream(resp.Body)
}

// scanStream reads SSE lines and returns the first extractable result.
func (c *MCPClient) scanStream(r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := line[len("data: "):]

		var frame sseFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			// Malformed frame; skip and keep scanning.
			c.logger.Debug("skipping unparseable SSE frame", "error", err)
			continue
		}

		if res, ok := extractFrame(frame); ok {
			return res, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("reading event stream: %w", err)
	}

	return Result{}, ErrMissingResult
}

// extractFrame applies the recognition order: nested text content re-parsed
// as JSON first, then top-level fields, then the result wrapper itself.
func extractFrame(frame sseFrame) (Result, bool) {
	if frame.Result != nil {
		for _, item := range frame.Result.Content {
			if item.Type != "text" {
				continue
			}
			var p resultPayload
			if err := json.Unmarshal([]byte(item.Text), &p); err != nil {
				continue
			}
			if res, ok := p.toResult(); ok {
				return res, true
			}
		}
	}

	if res, ok := frame.resultPayload.toResult(); ok {
		return res, true
	}

	if frame.Result != nil {
		if res, ok := frame.Result.resultPayload.toResult(); ok {
			return res, true
		}
	}

	return Result{}, false
}
