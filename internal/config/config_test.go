package config

import (
	"strings"
	"testing"
)

// mockBackend is a map-based ConfigBackend for tests.
type mockBackend struct {
	data map[string]any
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m *mockBackend) SetString(key, val string) error {
	m.data[key] = val
	return nil
}

func (m *mockBackend) SetInt(key string, val int) error {
	m.data[key] = val
	return nil
}

func (m *mockBackend) Delete(key string) error {
	delete(m.data, key)
	return nil
}

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	data map[string]string
	err  error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.data[account], nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[account] = value
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEND_PERSPECTIVE_TOKEN", "test-token")

	cfg, err := loadWith(&mockBackend{data: map[string]any{}}, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Perspective.APIBaseURL != "https://getperspective.ai" {
		t.Errorf("Perspective.APIBaseURL = %q", cfg.Perspective.APIBaseURL)
	}
	if cfg.Generator.Strategy != "api" {
		t.Errorf("Generator.Strategy = %q, want api", cfg.Generator.Strategy)
	}
	if cfg.Generator.Mode != "sync" {
		t.Errorf("Generator.Mode = %q, want sync", cfg.Generator.Mode)
	}
	if cfg.Generator.AgentBaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("Generator.AgentBaseURL = %q", cfg.Generator.AgentBaseURL)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEND_PERSPECTIVE_TOKEN", "test-token")

	b := &mockBackend{data: map[string]any{
		"server.port":                4444,
		"generator.strategy":         "mcp",
		"generator.mode":             "queue",
		"perspective.workspace_slug": "lenny",
		"perspective.workspace_id":   "ws-123",
		"storage.data_dir":           "/tmp/listend-test",
		"log.level":                  "debug",
	}}

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4444 {
		t.Errorf("Server.Port = %d, want 4444", cfg.Server.Port)
	}
	if cfg.Generator.Strategy != "mcp" {
		t.Errorf("Generator.Strategy = %q, want mcp", cfg.Generator.Strategy)
	}
	if cfg.Generator.Mode != "queue" {
		t.Errorf("Generator.Mode = %q, want queue", cfg.Generator.Mode)
	}
	if cfg.Perspective.WorkspaceSlug != "lenny" {
		t.Errorf("Perspective.WorkspaceSlug = %q", cfg.Perspective.WorkspaceSlug)
	}
	if cfg.Perspective.WorkspaceID != "ws-123" {
		t.Errorf("Perspective.WorkspaceID = %q", cfg.Perspective.WorkspaceID)
	}
	if cfg.Storage.DataDir != "/tmp/listend-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEND_PERSPECTIVE_TOKEN", "test-token")
	t.Setenv("LISTEND_GENERATOR_STRATEGY", "sidecar")
	t.Setenv("LISTEND_GENERATOR_SIDECAR_URL", "http://localhost:5100")

	b := &mockBackend{data: map[string]any{
		"generator.strategy": "api",
	}}

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generator.Strategy != "sidecar" {
		t.Errorf("Generator.Strategy = %q, want env override sidecar", cfg.Generator.Strategy)
	}
	if cfg.Generator.SidecarURL != "http://localhost:5100" {
		t.Errorf("Generator.SidecarURL = %q", cfg.Generator.SidecarURL)
	}
}

func TestMissingToken(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(&mockBackend{data: map[string]any{}}, &mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing token, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := &mockKeychain{data: map[string]string{"perspective_token": "keychain-secret"}}
	cfg, err := loadWith(&mockBackend{data: map[string]any{}}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Perspective.Token != "keychain-secret" {
		t.Errorf("Perspective.Token = %q, want keychain-secret", cfg.Perspective.Token)
	}
}

func TestInvalidStrategy(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEND_PERSPECTIVE_TOKEN", "test-token")
	t.Setenv("LISTEND_GENERATOR_STRATEGY", "telepathy")

	_, err := loadWith(&mockBackend{data: map[string]any{}}, &mockKeychain{})
	if err == nil || !strings.Contains(err.Error(), "generator.strategy") {
		t.Fatalf("error = %v, want invalid strategy error", err)
	}
}

func TestSidecarRequiresURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEND_PERSPECTIVE_TOKEN", "test-token")
	t.Setenv("LISTEND_GENERATOR_STRATEGY", "sidecar")

	_, err := loadWith(&mockBackend{data: map[string]any{}}, &mockKeychain{})
	if err == nil || !strings.Contains(err.Error(), "sidecar_url") {
		t.Fatalf("error = %v, want missing sidecar_url error", err)
	}
}

func TestAgentRequiresKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEND_PERSPECTIVE_TOKEN", "test-token")
	t.Setenv("LISTEND_GENERATOR_STRATEGY", "agent")

	_, err := loadWith(&mockBackend{data: map[string]any{}}, &mockKeychain{})
	if err == nil || !strings.Contains(err.Error(), "agent API key") {
		t.Fatalf("error = %v, want missing agent key error", err)
	}
}

func TestGetAdminToken_GeneratesOnce(t *testing.T) {
	kc := &mockKeychain{}

	first, err := GetAdminToken(kc)
	if err != nil {
		t.Fatalf("GetAdminToken: %v", err)
	}
	if first == "" {
		t.Fatal("generated token is empty")
	}

	second, err := GetAdminToken(kc)
	if err != nil {
		t.Fatalf("GetAdminToken second call: %v", err)
	}
	if second != first {
		t.Errorf("token regenerated: %q != %q", second, first)
	}
}

func TestSetKey_RejectsSecrets(t *testing.T) {
	err := SetKey("perspective.token", "oops")
	if err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("error = %v, want secret rejection", err)
	}
}
