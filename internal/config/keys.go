package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LISTEND_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "perspective.api_base_url", typ: kString, env: "LISTEND_PERSPECTIVE_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Perspective.APIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Perspective.APIBaseURL },
	},
	{
		key: "perspective.token", typ: kString, env: "LISTEND_PERSPECTIVE_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Perspective.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Perspective.Token },
	},
	{
		key: "perspective.workspace_slug", typ: kString, env: "LISTEND_PERSPECTIVE_WORKSPACE_SLUG",
		apply:   func(cfg *Config, v any) { cfg.Perspective.WorkspaceSlug = v.(string) },
		extract: func(cfg Config) any { return cfg.Perspective.WorkspaceSlug },
	},
	{
		key: "perspective.workspace_id", typ: kString, env: "LISTEND_PERSPECTIVE_WORKSPACE_ID",
		apply:   func(cfg *Config, v any) { cfg.Perspective.WorkspaceID = v.(string) },
		extract: func(cfg Config) any { return cfg.Perspective.WorkspaceID },
	},
	{
		key: "generator.strategy", typ: kString, env: "LISTEND_GENERATOR_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Generator.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Strategy },
	},
	{
		key: "generator.mode", typ: kString, env: "LISTEND_GENERATOR_MODE",
		apply:   func(cfg *Config, v any) { cfg.Generator.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Mode },
	},
	{
		key: "generator.sidecar_url", typ: kString, env: "LISTEND_GENERATOR_SIDECAR_URL",
		apply:   func(cfg *Config, v any) { cfg.Generator.SidecarURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.SidecarURL },
	},
	{
		key: "generator.agent_base_url", typ: kString, env: "LISTEND_AGENT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generator.AgentBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.AgentBaseURL },
	},
	{
		key: "generator.agent_model", typ: kString, env: "LISTEND_AGENT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generator.AgentModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.AgentModel },
	},
	{
		key: "generator.agent_api_key", typ: kString, env: "LISTEND_AGENT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generator.AgentAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.AgentAPIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LISTEND_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "LISTEND_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
