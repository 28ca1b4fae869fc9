// Package config handles BizGenie configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides, e.g. BIZGENIE_PROXY_BASE_URL.
const EnvPrefix = "BIZGENIE_"

// Config holds all configuration
type Config struct {
	Proxy  ProxyConfig  `koanf:"proxy"`
	Sync   SyncConfig   `koanf:"sync"`
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
}

// ProxyConfig for the remote proxy service
type ProxyConfig struct {
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"` // requests per second
	Burst     int           `koanf:"burst"`
}

// SyncConfig for the polling loop
type SyncConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	AutoStart    bool          `koanf:"autostart"`
}

// ServerConfig for the local view API
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LogConfig for logging
type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"proxy.base_url":     "http://localhost:5000/api",
		"proxy.timeout":      8 * time.Second,
		"proxy.rate_limit":   10.0,
		"proxy.burst":        10,
		"sync.poll_interval": 2 * time.Second,
		"sync.autostart":     true,
		"server.host":        "localhost",
		"server.port":        8088,
		"log.level":          "info",
		"log.json":           false,
	}
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			BaseURL:   "http://localhost:5000/api",
			Timeout:   8 * time.Second,
			RateLimit: 10,
			Burst:     10,
		},
		Sync: SyncConfig{
			PollInterval: 2 * time.Second,
			AutoStart:    true,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8088,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns $HOME/.bizgenie/bizgenie.toml
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bizgenie", "bizgenie.toml")
}

// Load loads config from file, falling back to defaults, then applies
// BIZGENIE_* environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		for _, p := range []string{"./bizgenie.toml", DefaultPath()} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// BIZGENIE_PROXY_BASE_URL -> proxy.base_url
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values the synchronizer cannot run without.
func (c *Config) Validate() error {
	if c.Proxy.BaseURL == "" {
		return errors.New("config: proxy.base_url is required")
	}
	u, err := url.Parse(c.Proxy.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: proxy.base_url %q is not an absolute URL", c.Proxy.BaseURL)
	}
	if c.Proxy.Timeout <= 0 {
		return errors.New("config: proxy.timeout must be positive")
	}
	if c.Sync.PollInterval <= 0 {
		return errors.New("config: sync.poll_interval must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return nil
}

// Addr returns host:port for the local view API.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Save writes the config as TOML.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := toml.Parser().Marshal(map[string]interface{}{
		"proxy": map[string]interface{}{
			"base_url":   c.Proxy.BaseURL,
			"timeout":    c.Proxy.Timeout.String(),
			"rate_limit": c.Proxy.RateLimit,
			"burst":      c.Proxy.Burst,
		},
		"sync": map[string]interface{}{
			"poll_interval": c.Sync.PollInterval.String(),
			"autostart":     c.Sync.AutoStart,
		},
		"server": map[string]interface{}{
			"host": c.Server.Host,
			"port": c.Server.Port,
		},
		"log": map[string]interface{}{
			"level": c.Log.Level,
			"json":  c.Log.JSON,
		},
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}
