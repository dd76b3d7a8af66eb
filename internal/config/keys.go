package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
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
		key: "server.port", typ: kInt, env: "PUMPDRIVE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit", typ: kInt, env: "PUMPDRIVE_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "server.api_token", typ: kString, env: "PUMPDRIVE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PUMPDRIVE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.driver", typ: kString, env: "PUMPDRIVE_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "generation.base_url", typ: kString, env: "PUMPDRIVE_GENERATION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generation.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.BaseURL },
	},
	{
		key: "generation.api_key", typ: kString, env: "PUMPDRIVE_GENERATION_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generation.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.APIKey },
	},
	{
		key: "generation.model", typ: kString, env: "PUMPDRIVE_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "PUMPDRIVE_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "generation.max_tokens", typ: kInt, env: "PUMPDRIVE_GENERATION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxTokens },
	},
	{
		key: "generation.call_timeout", typ: kDuration, env: "PUMPDRIVE_GENERATION_CALL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.CallTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.CallTimeout },
	},
	{
		key: "queue.min_interval", typ: kDuration, env: "PUMPDRIVE_QUEUE_MIN_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Queue.MinInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Queue.MinInterval },
	},
	{
		key: "cache.scan_limit", typ: kInt, env: "PUMPDRIVE_CACHE_SCAN_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Cache.ScanLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.ScanLimit },
	},
	{
		key: "cache.keep_count", typ: kInt, env: "PUMPDRIVE_CACHE_KEEP_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Cache.KeepCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.KeepCount },
	},
	{
		key: "analytics.window", typ: kDuration, env: "PUMPDRIVE_ANALYTICS_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Analytics.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analytics.Window },
	},
	{
		key: "analytics.retention", typ: kDuration, env: "PUMPDRIVE_ANALYTICS_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Analytics.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analytics.Retention },
	},
	{
		key: "recommender.strategy", typ: kString, env: "PUMPDRIVE_RECOMMENDER_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Recommender.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Recommender.Strategy },
	},
	{
		key: "log.level", typ: kString, env: "PUMPDRIVE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// lookupSpec returns the spec for a dotted key.
func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw into the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
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
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
