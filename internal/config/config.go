package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server      ServerConfig
	Perspective PerspectiveConfig
	Generator   GeneratorConfig
	Storage     StorageConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port int
}

type PerspectiveConfig struct {
	APIBaseURL    string
	Token         string
	WorkspaceSlug string
	WorkspaceID   string
}

type GeneratorConfig struct {
	Strategy     string // "api", "mcp", "agent" or "sidecar"
	Mode         string // "sync" or "queue"
	SidecarURL   string
	AgentBaseURL string
	AgentModel   string
	AgentAPIKey  string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// Strategy and mode values accepted by generator.strategy / generator.mode.
var (
	validStrategies = []string{"api", "mcp", "agent", "sidecar"}
	validModes      = []string{"sync", "queue"}
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Perspective: PerspectiveConfig{
			APIBaseURL: "https://getperspective.ai",
		},
		Generator: GeneratorConfig{
			Strategy:     "api",
			Mode:         "sync",
			AgentBaseURL: "https://openrouter.ai/api/v1",
			AgentModel:   "anthropic/claude-opus-4",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.lennylistens.listend) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/listend/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (LISTEND_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts platform secret storage.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform secret store for the upstream token if still empty.
	if cfg.Perspective.Token == "" {
		if key, err := kc.Get(keychainService, "perspective_token"); err == nil && key != "" {
			cfg.Perspective.Token = key
		}
	}
	if cfg.Generator.AgentAPIKey == "" {
		if key, err := kc.Get(keychainService, "agent_api_key"); err == nil && key != "" {
			cfg.Generator.AgentAPIKey = key
		}
	}

	if cfg.Perspective.Token == "" {
		msg := "missing required config: Perspective API token. " +
			"Set it via environment variable LISTEND_PERSPECTIVE_TOKEN" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	if !contains(validStrategies, cfg.Generator.Strategy) {
		return Config{}, fmt.Errorf("invalid generator.strategy %q (valid: %s)",
			cfg.Generator.Strategy, strings.Join(validStrategies, ", "))
	}
	if !contains(validModes, cfg.Generator.Mode) {
		return Config{}, fmt.Errorf("invalid generator.mode %q (valid: %s)",
			cfg.Generator.Mode, strings.Join(validModes, ", "))
	}
	if cfg.Generator.Strategy == "sidecar" && cfg.Generator.SidecarURL == "" {
		return Config{}, fmt.Errorf("generator.strategy is %q but generator.sidecar_url is not set", "sidecar")
	}
	if cfg.Generator.Strategy == "agent" && cfg.Generator.AgentAPIKey == "" {
		return Config{}, fmt.Errorf("generator.strategy is %q but no agent API key is configured; "+
			"set LISTEND_AGENT_API_KEY", "agent")
	}

	return cfg, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
