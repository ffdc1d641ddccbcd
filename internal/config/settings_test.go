package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearLocalopsEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAPIBase, "")
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvLogLevel, "")
}

func TestLoadCoreConfigDefaults(t *testing.T) {
	t.Setenv("HOME", filepath.Join(t.TempDir(), "home"))
	clearLocalopsEnv(t)

	cfg, err := LoadCoreConfig()
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.APIBaseURL() != "http://localhost:8000" {
		t.Fatalf("unexpected base url: %q", cfg.APIBaseURL())
	}
	if cfg.APIKey() != "localops-dev-key" {
		t.Fatalf("unexpected api key: %q", cfg.APIKey())
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.StreamMaxReconnects() != 5 || !cfg.StopOnTerminal() {
		t.Fatalf("unexpected stream defaults: reconnects=%d stop=%v", cfg.StreamMaxReconnects(), cfg.StopOnTerminal())
	}
}

func TestLoadCoreConfigFromTOML(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)
	clearLocalopsEnv(t)

	dataDir := filepath.Join(home, ".localops")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := []byte(`[api]
base_url = "https://ops.example.com/"
api_key = "secret"

[poll]
interval = "500ms"

[stream]
max_reconnects = 0
initial_backoff = "2s"
max_backoff = "1s"
stop_on_terminal = false
`)
	if err := os.WriteFile(filepath.Join(dataDir, "config.toml"), content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadCoreConfig()
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.APIBaseURL() != "https://ops.example.com" {
		t.Fatalf("unexpected base url: %q", cfg.APIBaseURL())
	}
	if cfg.APIKey() != "secret" {
		t.Fatalf("unexpected api key: %q", cfg.APIKey())
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.StreamMaxReconnects() != 0 {
		t.Fatalf("expected reconnects disabled, got %d", cfg.StreamMaxReconnects())
	}
	if cfg.StreamMaxBackoff() != 2*time.Second {
		t.Fatalf("expected max backoff clamped to initial, got %s", cfg.StreamMaxBackoff())
	}
	if cfg.StopOnTerminal() {
		t.Fatalf("expected stop_on_terminal=false")
	}
}

func TestCoreConfigEnvOverrides(t *testing.T) {
	cfg := DefaultCoreConfig()
	env := map[string]string{
		EnvAPIBase:  "api.internal:9000",
		EnvAPIKey:   "from-env",
		EnvLogLevel: "",
	}
	cfg.applyEnv(func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if cfg.APIBaseURL() != "http://api.internal:9000" {
		t.Fatalf("unexpected base url: %q", cfg.APIBaseURL())
	}
	if cfg.APIKey() != "from-env" {
		t.Fatalf("unexpected api key: %q", cfg.APIKey())
	}
	if cfg.LogLevel() != "info" {
		t.Fatalf("blank env must not override level: %q", cfg.LogLevel())
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LOCALOPS_TEST_DOTENV_A=file\nLOCALOPS_TEST_DOTENV_B=file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("LOCALOPS_TEST_DOTENV_A", "process")
	t.Cleanup(func() { _ = os.Unsetenv("LOCALOPS_TEST_DOTENV_B") })

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("LOCALOPS_TEST_DOTENV_A"); got != "process" {
		t.Fatalf("unexpected A: %q", got)
	}
	if got := os.Getenv("LOCALOPS_TEST_DOTENV_B"); got != "file" {
		t.Fatalf("unexpected B: %q", got)
	}
	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing .env must be ignored: %v", err)
	}
}
