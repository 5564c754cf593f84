package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lennylistens/listend/internal/intake"
	"github.com/lennylistens/listend/internal/status"
	"github.com/lennylistens/listend/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   Store
	Manager *status.Manager
}

// NewMCPServer creates an MCP server exposing the intake and status surface
// for agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"listend",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("listend research-intake orchestration: compose interview prompts and track perspective generation status."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("compose_interview",
			mcp.WithDescription("Compile intake fields into the research interview prompt that would be sent upstream."),
			mcp.WithString("name", mcp.Description("Requester name")),
			mcp.WithString("company_domain", mcp.Description("Company domain, e.g. acme.io")),
			mcp.WithString("use_case", mcp.Description("Research use case (feature_request, new_product_discovery, existing_feature_feedback)")),
			mcp.WithString("problem_to_solve", mcp.Description("Problem the product should solve")),
			mcp.WithString("market_or_audience", mcp.Description("Target market or audience")),
			mcp.WithString("hypothesis", mcp.Description("Hypothesis to validate")),
			mcp.WithString("feature_name", mcp.Description("Feature under discussion")),
			mcp.WithString("feedback_aspects", mcp.Description("Aspects to collect feedback on")),
		),
		mcpComposeInterview(),
	)

	s.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Look up the generation status record for a conversation."),
			mcp.WithString("conversation_id", mcp.Description("Conversation identifier from the intake webhook"), mcp.Required()),
		),
		mcpGetStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("latest_pending",
			mcp.WithDescription("Return the most recently queued perspective still awaiting generation."),
		),
		mcpLatestPending(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"perspective://pending",
			"Pending Perspectives",
			mcp.WithResourceDescription("Outstanding conversation ids as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpComposeInterview() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rec := intake.Record{
			Name:             req.GetString("name", ""),
			CompanyDomain:    req.GetString("company_domain", ""),
			UseCase:          req.GetString("use_case", intake.UseCaseFeatureRequest),
			ProblemToSolve:   req.GetString("problem_to_solve", ""),
			MarketOrAudience: req.GetString("market_or_audience", ""),
			Hypothesis:       req.GetString("hypothesis", ""),
			FeatureName:      req.GetString("feature_name", ""),
			FeedbackAspects:  req.GetString("feedback_aspects", ""),
			CreatedAt:        time.Now().UTC(),
		}
		return mcpText(intake.BuildInterviewPrompt(rec)), nil
	}
}

func mcpGetStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}

		rec, err := deps.Manager.Get(conversationID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("no record for conversation %s", conversationID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLatestPending(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rec, found, err := latestPending(deps.Store, deps.Manager)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to scan pending perspectives: %v", err)), nil
		}
		if !found {
			return mcpText("no pending perspectives"), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := deps.Store.ListPending(0)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending perspectives: %w", err)
		}
		if ids == nil {
			ids = []string{}
		}

		b, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pending ids: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
