package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	StrategyRules    = "rules"
	StrategyGenerate = "generate"

	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Generation  GenerationConfig
	Queue       QueueConfig
	Cache       CacheConfig
	Analytics   AnalyticsConfig
	Recommender RecommenderConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port      int
	RateLimit int // requests per minute per client IP
	APIToken  string
}

type StorageConfig struct {
	DataDir string
	Driver  string
}

type GenerationConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	CallTimeout time.Duration
}

type QueueConfig struct {
	MinInterval time.Duration
}

type CacheConfig struct {
	ScanLimit int
	KeepCount int
}

type AnalyticsConfig struct {
	Window    time.Duration
	Retention time.Duration
}

type RecommenderConfig struct {
	Strategy string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4100,
			RateLimit: 60,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Driver:  DriverSQLite,
		},
		Generation: GenerationConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "anthropic/claude-sonnet-4",
			Temperature: 0.3,
			MaxTokens:   2000,
			CallTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			MinInterval: 1200 * time.Millisecond,
		},
		Cache: CacheConfig{
			ScanLimit: 200,
			KeepCount: 1000,
		},
		Analytics: AnalyticsConfig{
			Window:    24 * time.Hour,
			Retention: 30 * 24 * time.Hour,
		},
		Recommender: RecommenderConfig{
			Strategy: StrategyRules,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.pumpdrive.app) and
// secrets fall back to macOS Keychain.
// Elsewhere the backend is a JSON file at $XDG_CONFIG_HOME/pumpdrive/config.json
// and secrets come from environment variables or a 0600 secrets file.
//
// Environment variables (PUMPDRIVE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Generation.APIKey == "" {
		if key, err := kc.Get(keychainService, apiKeyAccount); err == nil && key != "" {
			cfg.Generation.APIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	cfg.Recommender.Strategy = strings.ToLower(strings.TrimSpace(cfg.Recommender.Strategy))
	switch cfg.Recommender.Strategy {
	case StrategyRules:
	case StrategyGenerate:
		if cfg.Generation.APIKey == "" {
			return fmt.Errorf("missing required config: generation API key for strategy %q. "+
				"Set it via environment variable PUMPDRIVE_GENERATION_API_KEY%s", StrategyGenerate, apiKeyHint())
		}
	default:
		return fmt.Errorf("invalid recommender.strategy %q: want %q or %q", cfg.Recommender.Strategy, StrategyRules, StrategyGenerate)
	}

	switch cfg.Storage.Driver {
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q: want %q or %q", cfg.Storage.Driver, DriverSQLite, DriverMemory)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Queue.MinInterval < 0 || cfg.Generation.CallTimeout <= 0 {
		return fmt.Errorf("queue.min_interval must be non-negative and generation.call_timeout positive")
	}
	if cfg.Cache.ScanLimit <= 0 || cfg.Cache.KeepCount <= 0 {
		return fmt.Errorf("cache.scan_limit and cache.keep_count must be positive")
	}
	return nil
}
