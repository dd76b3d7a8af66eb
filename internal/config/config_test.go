package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[service+"/"+account] = value
	return nil
}

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
	floats  map[string]float64
}

func newMemBackend() *memBackend {
	return &memBackend{strings: map[string]string{}, ints: map[string]int{}, floats: map[string]float64{}}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *memBackend) GetFloat(key string) (float64, bool, error) {
	v, ok := b.floats[key]
	return v, ok, nil
}

func (b *memBackend) SetString(key, val string) error        { b.strings[key] = val; return nil }
func (b *memBackend) SetInt(key string, val int) error       { b.ints[key] = val; return nil }
func (b *memBackend) SetFloat(key string, val float64) error { b.floats[key] = val; return nil }
func (b *memBackend) Delete(key string) error {
	delete(b.strings, key)
	delete(b.ints, key)
	delete(b.floats, key)
	return nil
}

// clearEnv blanks every PUMPDRIVE_* variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 60 {
		t.Errorf("Server.RateLimit = %d, want 60", cfg.Server.RateLimit)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, DriverSQLite)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir should have a default")
	}
	if cfg.Queue.MinInterval != 1200*time.Millisecond {
		t.Errorf("Queue.MinInterval = %v, want 1.2s", cfg.Queue.MinInterval)
	}
	if cfg.Generation.CallTimeout != 30*time.Second {
		t.Errorf("Generation.CallTimeout = %v, want 30s", cfg.Generation.CallTimeout)
	}
	if cfg.Cache.ScanLimit != 200 || cfg.Cache.KeepCount != 1000 {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Recommender.Strategy != StrategyRules {
		t.Errorf("Strategy = %q, want %q", cfg.Recommender.Strategy, StrategyRules)
	}
	if cfg.Analytics.Window != 24*time.Hour {
		t.Errorf("Analytics.Window = %v, want 24h", cfg.Analytics.Window)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.ints["server.port"] = 9000
	b.ints["cache.keep_count"] = 10
	b.strings["queue.min_interval"] = "2s"
	b.floats["generation.temperature"] = 0.7
	b.strings["log.level"] = "debug"

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Cache.KeepCount != 10 {
		t.Errorf("Cache.KeepCount = %d, want 10", cfg.Cache.KeepCount)
	}
	if cfg.Queue.MinInterval != 2*time.Second {
		t.Errorf("Queue.MinInterval = %v, want 2s", cfg.Queue.MinInterval)
	}
	if cfg.Generation.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", cfg.Generation.Temperature)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestBackendInvalidValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.strings["queue.min_interval"] = "soon"

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Queue.MinInterval != 1200*time.Millisecond {
		t.Errorf("Queue.MinInterval = %v, want default", cfg.Queue.MinInterval)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.ints["server.port"] = 9000
	t.Setenv("PUMPDRIVE_SERVER_PORT", "9100")
	t.Setenv("PUMPDRIVE_STORAGE_DRIVER", "memory")
	t.Setenv("PUMPDRIVE_ANALYTICS_WINDOW", "1h")
	t.Setenv("PUMPDRIVE_CACHE_SCAN_LIMIT", "many")

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Analytics.Window != time.Hour {
		t.Errorf("Analytics.Window = %v, want 1h", cfg.Analytics.Window)
	}
	if cfg.Cache.ScanLimit != 200 {
		t.Errorf("unparseable env should keep default, got %d", cfg.Cache.ScanLimit)
	}
}

func TestGenerateStrategyRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUMPDRIVE_RECOMMENDER_STRATEGY", "generate")

	_, err := loadWith(newMemBackend(), &mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "PUMPDRIVE_GENERATION_API_KEY") {
		t.Errorf("error should name the env var, got %v", err)
	}

	t.Setenv("PUMPDRIVE_GENERATION_API_KEY", "env-key")
	cfg, err := loadWith(newMemBackend(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generation.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Generation.APIKey)
	}
}

func TestAPIKeyFromKeychain(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUMPDRIVE_RECOMMENDER_STRATEGY", "GENERATE")
	kc := &mockKeychain{values: map[string]string{keychainService + "/" + apiKeyAccount: "kc-key"}}

	cfg, err := loadWith(newMemBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generation.APIKey != "kc-key" {
		t.Errorf("APIKey = %q, want kc-key", cfg.Generation.APIKey)
	}
	if cfg.Recommender.Strategy != StrategyGenerate {
		t.Errorf("Strategy = %q, want normalized %q", cfg.Recommender.Strategy, StrategyGenerate)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		env, val string
	}{
		{"PUMPDRIVE_RECOMMENDER_STRATEGY", "magic"},
		{"PUMPDRIVE_STORAGE_DRIVER", "postgres"},
		{"PUMPDRIVE_SERVER_PORT", "70000"},
		{"PUMPDRIVE_CACHE_SCAN_LIMIT", "0"},
		{"PUMPDRIVE_CACHE_KEEP_COUNT", "0"},
		{"PUMPDRIVE_GENERATION_CALL_TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.val)
			if _, err := loadWith(newMemBackend(), &mockKeychain{}); err == nil {
				t.Errorf("%s=%s: expected error", tt.env, tt.val)
			}
		})
	}
}

func TestGetAPIToken(t *testing.T) {
	t.Setenv("PUMPDRIVE_API_TOKEN", "")
	kc := &mockKeychain{}

	tok, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok == "" {
		t.Fatal("expected generated token")
	}
	again, err := GetAPIToken(kc)
	if err != nil || again != tok {
		t.Errorf("second call = %q, %v; want stored %q", again, err, tok)
	}

	t.Setenv("PUMPDRIVE_API_TOKEN", "from-env")
	if tok, _ := GetAPIToken(kc); tok != "from-env" {
		t.Errorf("token = %q, want from-env", tok)
	}
}

func TestGetAPIToken_StoreFailure(t *testing.T) {
	t.Setenv("PUMPDRIVE_API_TOKEN", "")
	if _, err := GetAPIToken(&mockKeychain{err: errors.New("locked")}); err == nil {
		t.Error("expected error when the token cannot be stored")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Generation.APIKey = "sk-secret"

	found := false
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-secret") {
			t.Errorf("%s leaks secret value", ki.Key)
		}
		if ki.Key == "generation.api_key" {
			found = true
			if ki.EnvVar != "PUMPDRIVE_GENERATION_API_KEY" {
				t.Errorf("EnvVar = %q", ki.EnvVar)
			}
		}
	}
	if !found {
		t.Error("generation.api_key not listed")
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d, want 4200", b.ints["server.port"])
	}
	if err := setKeyWith(b, "queue.min_interval", "500ms"); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	if b.strings["queue.min_interval"] != "500ms" {
		t.Errorf("queue.min_interval = %q", b.strings["queue.min_interval"])
	}
	if err := setKeyWith(b, "generation.temperature", "0.5"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if b.floats["generation.temperature"] != 0.5 {
		t.Errorf("generation.temperature = %v, want 0.5", b.floats["generation.temperature"])
	}

	errCases := []struct{ key, val string }{
		{"server.port", "abc"},
		{"queue.min_interval", "later"},
		{"generation.temperature", "warm"},
		{"generation.api_key", "sk"},
		{"no.such.key", "x"},
	}
	for _, c := range errCases {
		if err := setKeyWith(b, c.key, c.val); err == nil {
			t.Errorf("SetKey(%s, %s): expected error", c.key, c.val)
		}
	}
}

func TestValidKeysExcludesSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "generation.api_key" || k == "server.api_token" {
			t.Errorf("ValidKeys includes secret %q", k)
		}
	}
}
