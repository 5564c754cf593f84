package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lennylistens/listend/internal/intake"
	"github.com/lennylistens/listend/internal/status"
	"github.com/lennylistens/listend/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:   store,
		Manager: status.NewManager(store),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func mcpSeedPending(t *testing.T, m *status.Manager, conversationID string) {
	t.Helper()
	rec := intake.Record{
		ConversationID: conversationID,
		Name:           "Sam",
		CompanyDomain:  "acme.io",
		UseCase:        intake.UseCaseFeatureRequest,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := m.Begin(rec, ""); err != nil {
		t.Fatalf("Begin(%s): %v", conversationID, err)
	}
}

// --- tests ---

func TestMCPTool_ComposeInterview(t *testing.T) {
	handler := mcpComposeInterview()

	req := makeCallToolRequest("compose_interview", map[string]interface{}{
		"name":             "Sam",
		"company_domain":   "acme.io",
		"use_case":         "feature_request",
		"problem_to_solve": "deploys are too slow",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, "acme") {
		t.Errorf("prompt missing company name: %s", text)
	}
	if strings.Contains(text, "acme.io") {
		t.Errorf("prompt carries unstripped domain suffix: %s", text)
	}
	if !strings.Contains(text, "deploys are too slow") {
		t.Errorf("prompt missing problem statement: %s", text)
	}
}

func TestMCPTool_GetStatus(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	mcpSeedPending(t, deps.Manager, "c-mcp")

	handler := mcpGetStatus(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_status", map[string]interface{}{
		"conversation_id": "c-mcp",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var rec status.Record
	if err := json.Unmarshal([]byte(toolText(t, result)), &rec); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if rec.ConversationID != "c-mcp" {
		t.Errorf("ConversationID = %q, want c-mcp", rec.ConversationID)
	}
	if rec.Status != status.Pending {
		t.Errorf("Status = %q, want %q", rec.Status, status.Pending)
	}
}

func TestMCPTool_GetStatus_Unknown(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpGetStatus(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_status", map[string]interface{}{
		"conversation_id": "ghost",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown conversation")
	}
}

func TestMCPTool_LatestPending(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	mcpSeedPending(t, deps.Manager, "c-l1")
	mcpSeedPending(t, deps.Manager, "c-l2")

	handler := mcpLatestPending(deps)
	result, err := handler(context.Background(), makeCallToolRequest("latest_pending", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var rec status.Record
	if err := json.Unmarshal([]byte(toolText(t, result)), &rec); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if rec.ConversationID != "c-l2" {
		t.Errorf("ConversationID = %q, want most recently queued c-l2", rec.ConversationID)
	}
}

func TestMCPTool_LatestPending_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpLatestPending(deps)
	result, err := handler(context.Background(), makeCallToolRequest("latest_pending", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "no pending perspectives" {
		t.Errorf("text = %q, want %q", got, "no pending perspectives")
	}
}

func TestMCPResource_Pending(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	mcpSeedPending(t, deps.Manager, "c-r1")

	handler := mcpResourcePending(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("perspective://pending"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d resource contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var ids []string
	if err := json.Unmarshal([]byte(tc.Text), &ids); err != nil {
		t.Fatalf("decoding ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c-r1" {
		t.Errorf("ids = %v, want [c-r1]", ids)
	}
}

func TestMCPResource_Pending_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpResourcePending(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("perspective://pending"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	if tc.Text != "[]" {
		t.Errorf("text = %q, want empty JSON array", tc.Text)
	}
}
