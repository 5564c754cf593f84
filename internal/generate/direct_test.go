package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lennylistens/listend/internal/intake"
)

func testIntake() intake.Record {
	return intake.Record{
		ConversationID: "c1",
		CompanyDomain:  "acme.io",
		UseCase:        intake.UseCaseFeatureRequest,
		ProblemToSolve: "exports are too slow",
	}
}

func TestAPIClient_Generate(t *testing.T) {
	var gotBody createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/perspective/create" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"perspective_id": "abc123abc123abc123abc123",
			"preview_url":    "https://pv.example/share/x",
			"share_url":      "https://example/share/x",
		})
	}))
	defer srv.Close()

	c := NewAPIClientWithBaseURL("tok", "lenny", srv.URL)
	res, err := c.Generate(context.Background(), testIntake())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.PerspectiveID != "abc123abc123abc123abc123" {
		t.Errorf("PerspectiveID = %q", res.PerspectiveID)
	}
	if res.PreviewURL != "https://pv.example/share/x" {
		t.Errorf("PreviewURL = %q", res.PreviewURL)
	}
	if gotBody.WorkspaceSlug != "lenny" {
		t.Errorf("WorkspaceSlug = %q", gotBody.WorkspaceSlug)
	}
	if !strings.Contains(gotBody.UserPrompt, "Lenny Listens: acme") {
		t.Errorf("UserPrompt missing title: %q", gotBody.UserPrompt)
	}
}

func TestAPIClient_IDFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"id":          "fallback-id",
			"preview_url": "https://pv.example/share/x",
			"share_url":   "https://example/share/x",
		})
	}))
	defer srv.Close()

	c := NewAPIClientWithBaseURL("tok", "lenny", srv.URL)
	res, err := c.Generate(context.Background(), testIntake())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.PerspectiveID != "fallback-id" {
		t.Errorf("PerspectiveID = %q, want fallback-id", res.PerspectiveID)
	}
}

func TestAPIClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := NewAPIClientWithBaseURL("tok", "lenny", srv.URL)
	_, err := c.Generate(context.Background(), testIntake())

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if ue.Status != http.StatusPaymentRequired {
		t.Errorf("Status = %d, want 402", ue.Status)
	}
	if !strings.Contains(ue.Body, "quota exceeded") {
		t.Errorf("Body = %q", ue.Body)
	}
}

func TestSidecarClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req sidecarRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.ConversationID != "c1" {
			t.Errorf("ConversationID = %q", req.ConversationID)
		}
		if req.Intake.CompanyDomain != "acme.io" {
			t.Errorf("Intake.CompanyDomain = %q", req.Intake.CompanyDomain)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":        true,
			"perspective_id": "p1",
			"preview_url":    "https://pv.example/share/y",
			"share_url":      "https://example/share/y",
		})
	}))
	defer srv.Close()

	c := NewSidecarClient(srv.URL)
	res, err := c.Generate(context.Background(), testIntake())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.PerspectiveID != "p1" || res.PreviewURL == "" || res.ShareURL == "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSidecarClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSidecarClient(srv.URL)
	_, err := c.Generate(context.Background(), testIntake())

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
}
