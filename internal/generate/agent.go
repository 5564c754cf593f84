package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/lennylistens/listend/internal/intake"
)

const (
	defaultAgentBaseURL = "https://openrouter.ai/api/v1"
	agentMaxTurns       = 5
	agentTimeout        = 60 * time.Second
	toolName            = "perspective_create"
)

var (
	previewURLPattern    = regexp.MustCompile(`https://pv\.getperspective\.ai/share/[^\s"')\]]+`)
	shareURLPattern      = regexp.MustCompile(`https://getperspective\.ai/share/[^\s"')\]]+`)
	perspectiveIDPattern = regexp.MustCompile(`(?i)perspective id[^0-9a-f]*([0-9a-f]{24})`)
)

// ToolCaller executes the perspective_create tool on behalf of the agent.
// The MCP streamed client satisfies it.
type ToolCaller interface {
	CreatePerspective(ctx context.Context, description string) (Result, error)
}

// AgentRunner is the agent-mediated strategy: a bounded multi-turn
// tool-calling session against an OpenAI-compatible chat endpoint. The model
// is instructed to invoke the single perspective_create tool; structured
// tool results are preferred, and the final free-text message is regex
// scanned as a fallback.
type AgentRunner struct {
	apiKey     string
	model      string
	baseURL    string
	tools      ToolCaller
	httpClient *http.Client
	maxTurns   int
	logger     *slog.Logger
}

// NewAgentRunner creates an agent runner that executes tool calls through
// the given ToolCaller.
func NewAgentRunner(apiKey, model string, tools ToolCaller) *AgentRunner {
	return &AgentRunner{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultAgentBaseURL,
		tools:      tools,
		httpClient: &http.Client{Timeout: agentTimeout},
		maxTurns:   agentMaxTurns,
		logger:     slog.Default(),
	}
}

// NewAgentRunnerWithBaseURL creates a runner pointing at a custom chat
// endpoint (for testing).
func NewAgentRunnerWithBaseURL(apiKey, model string, tools ToolCaller, baseURL string) *AgentRunner {
	r := NewAgentRunner(apiKey, model, tools)
	r.baseURL = strings.TrimRight(baseURL, "/")
	return r
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []chatMessage     `json:"messages"`
	Tools    []json.RawMessage `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

var toolSchema = json.RawMessage(`{
	"type": "function",
	"function": {
		"name": "perspective_create",
		"description": "Create a research interview from a description. Returns the perspective id, preview URL, and share URL.",
		"parameters": {
			"type": "object",
			"properties": {
				"description": {"type": "string", "description": "The full interview description"}
			},
			"required": ["description"]
		}
	}
}`)

// Generate drives the tool-calling session for an intake record.
func (a *AgentRunner) Generate(ctx context.Context, rec intake.Record) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, agentTimeout)
	defer cancel()

	description := intake.BuildDescription(rec)

	messages := []chatMessage{
		{
			Role: "system",
			Content: "You create customer research interviews. Call the perspective_create tool exactly once " +
				"with the description you are given, then report the Perspective ID, preview URL, and share URL from the tool result.",
		},
		{Role: "user", Content: description},
	}

	for turn := 0; turn < a.maxTurns; turn++ {
		msg, err := a.chat(ctx, messages)
		if err != nil {
			return Result{}, err
		}
		messages = append(messages, msg)

		if len(msg.ToolCalls) == 0 {
			// Final free-text message: last chance to recover the URLs.
			if res, ok := scanResultText(msg.Content); ok {
				return res, nil
			}
			return Result{}, ErrMissingResult
		}

		for _, call := range msg.ToolCalls {
			if call.Function.Name != toolName {
				messages = append(messages, chatMessage{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("unknown tool %q", call.Function.Name),
				})
				continue
			}

			var args struct {
				Description string `json:"description"`
			}
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args.Description == "" {
				args.Description = description
			}

			res, err := a.tools.CreatePerspective(ctx, args.Description)
			if err != nil {
				a.logger.Warn("tool call failed", "tool", toolName, "error", err)
				messages = append(messages, chatMessage{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("tool error: %v", err),
				})
				continue
			}

			// Structured tool result wins over any later free text.
			if res.PreviewURL != "" || res.PerspectiveID != "" {
				return res, nil
			}

			payload, _ := json.Marshal(res)
			messages = append(messages, chatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    string(payload),
			})
		}
	}

	return Result{}, ErrMissingResult
}

func (a *AgentRunner) chat(ctx context.Context, messages []chatMessage) (chatMessage, error) {
	body, err := json.Marshal(chatRequest{
		Model:    a.model,
		Messages: messages,
		Tools:    []json.RawMessage{toolSchema},
	})
	if err != nil {
		return chatMessage{}, fmt.Errorf("marshalling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return chatMessage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return chatMessage{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return chatMessage{}, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatMessage{}, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return chatMessage{}, ErrMissingResult
	}
	return out.Choices[0].Message, nil
}

// scanResultText recovers perspective data from free text. Both URLs and the
// labeled 24-hex identifier are looked for; at least one URL must be present
// for the scan to count as a result.
func scanResultText(text string) (Result, bool) {
	res := Result{
		PreviewURL: previewURLPattern.FindString(text),
		ShareURL:   shareURLPattern.FindString(text),
	}
	if m := perspectiveIDPattern.FindStringSubmatch(text); m != nil {
		res.PerspectiveID = m[1]
	}
	if res.PreviewURL == "" && res.ShareURL == "" {
		return Result{}, false
	}
	return res, true
}
