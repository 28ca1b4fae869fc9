package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Default Config Tests
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Proxy.BaseURL != "http://localhost:5000/api" {
		t.Errorf("Proxy.BaseURL = %q, want %q", cfg.Proxy.BaseURL, "http://localhost:5000/api")
	}
	if cfg.Proxy.Timeout != 8*time.Second {
		t.Errorf("Proxy.Timeout = %v, want 8s", cfg.Proxy.Timeout)
	}
	if cfg.Sync.PollInterval != 2*time.Second {
		t.Errorf("Sync.PollInterval = %v, want 2s", cfg.Sync.PollInterval)
	}
	if !cfg.Sync.AutoStart {
		t.Error("Sync.AutoStart should be true by default")
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("Server.Port = %d, want 8088", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	p := DefaultPath()
	if filepath.Base(p) != "bizgenie.toml" {
		t.Errorf("DefaultPath() = %q, want bizgenie.toml file", p)
	}
	if filepath.Base(filepath.Dir(p)) != ".bizgenie" {
		t.Errorf("DefaultPath() dir = %q, want .bizgenie", filepath.Dir(p))
	}
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.Proxy != want.Proxy {
		t.Errorf("Proxy = %+v, want %+v", cfg.Proxy, want.Proxy)
	}
	if cfg.Sync != want.Sync {
		t.Errorf("Sync = %+v, want %+v", cfg.Sync, want.Sync)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bizgenie.toml")
	content := `
[proxy]
base_url = "http://proxy.internal:5000/api"
timeout = "3s"

[sync]
poll_interval = "500ms"
autostart = false

[server]
port = 9090
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Proxy.BaseURL != "http://proxy.internal:5000/api" {
		t.Errorf("Proxy.BaseURL = %q", cfg.Proxy.BaseURL)
	}
	if cfg.Proxy.Timeout != 3*time.Second {
		t.Errorf("Proxy.Timeout = %v, want 3s", cfg.Proxy.Timeout)
	}
	if cfg.Sync.PollInterval != 500*time.Millisecond {
		t.Errorf("Sync.PollInterval = %v, want 500ms", cfg.Sync.PollInterval)
	}
	if cfg.Sync.AutoStart {
		t.Error("Sync.AutoStart should be false")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	// untouched keys keep defaults
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want localhost", cfg.Server.Host)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BIZGENIE_PROXY_BASE_URL", "http://env-proxy:7000/api")
	t.Setenv("BIZGENIE_SYNC_POLL_INTERVAL", "5s")
	t.Setenv("BIZGENIE_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Proxy.BaseURL != "http://env-proxy:7000/api" {
		t.Errorf("Proxy.BaseURL = %q", cfg.Proxy.BaseURL)
	}
	if cfg.Sync.PollInterval != 5*time.Second {
		t.Errorf("Sync.PollInterval = %v, want 5s", cfg.Sync.PollInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[proxy\nbase_url = "), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty base url", func(c *Config) { c.Proxy.BaseURL = "" }, "base_url"},
		{"relative base url", func(c *Config) { c.Proxy.BaseURL = "/api" }, "absolute"},
		{"zero timeout", func(c *Config) { c.Proxy.Timeout = 0 }, "timeout"},
		{"zero interval", func(c *Config) { c.Sync.PollInterval = 0 }, "poll_interval"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Save Tests
// =============================================================================

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bizgenie.toml")

	cfg := Default()
	cfg.Proxy.BaseURL = "http://saved:5000/api"
	cfg.Sync.PollInterval = 750 * time.Millisecond
	cfg.Server.Port = 9191

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("saved file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Proxy.BaseURL != cfg.Proxy.BaseURL {
		t.Errorf("BaseURL = %q, want %q", loaded.Proxy.BaseURL, cfg.Proxy.BaseURL)
	}
	if loaded.Sync.PollInterval != cfg.Sync.PollInterval {
		t.Errorf("PollInterval = %v, want %v", loaded.Sync.PollInterval, cfg.Sync.PollInterval)
	}
	if loaded.Server.Port != 9191 {
		t.Errorf("Port = %d, want 9191", loaded.Server.Port)
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.Addr(); got != "localhost:8088" {
		t.Errorf("Addr() = %q, want localhost:8088", got)
	}
}
