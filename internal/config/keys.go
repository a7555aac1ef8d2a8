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
	kBool
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
		key: "server.port", typ: kInt, env: "CODEBUDDY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "CODEBUDDY_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CODEBUDDY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CODEBUDDY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.json", typ: kBool, env: "CODEBUDDY_LOG_JSON",
		apply:   func(cfg *Config, v any) { cfg.Log.JSON = v.(bool) },
		extract: func(cfg Config) any { return cfg.Log.JSON },
	},
	{
		key: "provider.id", typ: kString, env: "CODEBUDDY_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Provider.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.ID },
	},
	{
		key: "provider.api_key", typ: kString, env: "CODEBUDDY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.model", typ: kString, env: "CODEBUDDY_PROVIDER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Model },
	},
	{
		key: "provider.endpoint", typ: kString, env: "CODEBUDDY_PROVIDER_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Endpoint },
	},
	{
		key: "provider.deployment_name", typ: kString, env: "CODEBUDDY_PROVIDER_DEPLOYMENT_NAME",
		apply:   func(cfg *Config, v any) { cfg.Provider.DeploymentName = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.DeploymentName },
	},
	{
		key: "provider.api_version", typ: kString, env: "CODEBUDDY_PROVIDER_API_VERSION",
		apply:   func(cfg *Config, v any) { cfg.Provider.APIVersion = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIVersion },
	},
	{
		key: "provider.organization", typ: kString, env: "CODEBUDDY_PROVIDER_ORGANIZATION",
		apply:   func(cfg *Config, v any) { cfg.Provider.Organization = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Organization },
	},
	{
		key: "provider.custom_headers", typ: kString, env: "CODEBUDDY_PROVIDER_CUSTOM_HEADERS",
		apply:   func(cfg *Config, v any) { cfg.Provider.CustomHeaders = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.CustomHeaders },
	},
	{
		key: "provider.request_template", typ: kString, env: "CODEBUDDY_PROVIDER_REQUEST_TEMPLATE",
		apply:   func(cfg *Config, v any) { cfg.Provider.RequestTemplate = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.RequestTemplate },
	},
	{
		key: "provider.model_version", typ: kString, env: "CODEBUDDY_PROVIDER_MODEL_VERSION",
		apply:   func(cfg *Config, v any) { cfg.Provider.ModelVersion = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.ModelVersion },
	},
	{
		key: "request.timeout", typ: kString, env: "CODEBUDDY_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Request.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Request.Timeout },
	},
	{
		key: "prompts.custom", typ: kString, env: "CODEBUDDY_PROMPTS_CUSTOM",
		apply:   func(cfg *Config, v any) { cfg.Prompts.Custom = v.(string) },
		extract: func(cfg Config) any { return cfg.Prompts.Custom },
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
