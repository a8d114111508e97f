// Package config loads and validates the fitsync configuration file.
// Configuration is TOML with a small, flat schema; every field has a
// default so a minimal file (or none at all) still produces a runnable
// client against a local backend.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when the config file omits a field.
const (
	DefaultSyncInterval = 5 * time.Minute
	DefaultPageSize     = 100
)

// Duration wraps time.Duration so TOML files can use "5m" / "90s" syntax.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", string(text), err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Auth holds the credentials used by the identity provider. All fields are
// optional; an empty Auth section runs the client anonymously (public tables
// only).
type Auth struct {
	UserID       string `toml:"user_id"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	TokenURL     string `toml:"token_url"`
}

// Config is the resolved fitsync configuration.
type Config struct {
	BaseURL      string   `toml:"base_url"`      // backend REST endpoint, e.g. https://api.example.com/rest/v1
	APIKey       string   `toml:"api_key"`       // backend project key, sent on every request
	HealthWSURL  string   `toml:"health_ws_url"` // websocket health endpoint; derived from BaseURL when empty
	DatabasePath string   `toml:"database_path"` // local SQLite datastore
	CursorDir    string   `toml:"cursor_dir"`    // directory for per-identity watermark files
	SyncInterval Duration `toml:"sync_interval"` // periodic cycle interval in watch mode
	PageSize     int      `toml:"page_size"`     // pull pagination page size
	LogFile      string   `toml:"log_file"`      // rotating log destination in watch mode; empty logs to stderr
	Auth         Auth     `toml:"auth"`
}

// DefaultConfigPath returns the conventional config file location,
// honoring XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fitsync", "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "fitsync.toml"
	}

	return filepath.Join(home, ".config", "fitsync", "config.toml")
}

// defaultDataDir returns the directory for mutable state (database, cursors).
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "fitsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "fitsync")
}

// Default returns a Config with every field set to its default value.
func Default() *Config {
	dataDir := defaultDataDir()

	return &Config{
		BaseURL:      "http://localhost:3000",
		DatabasePath: filepath.Join(dataDir, "fitsync.db"),
		CursorDir:    filepath.Join(dataDir, "cursors"),
		SyncInterval: Duration(DefaultSyncInterval),
		PageSize:     DefaultPageSize,
	}
}

// Load reads the TOML file at path, applies defaults for omitted fields,
// and validates the result. A missing file is not an error; defaults are
// returned so first-run works without any setup.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if os.IsNotExist(err) {
		logger.Debug("config file not found, using defaults", "path", path)
		return cfg, cfg.validate()
	}

	if err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		logger.Warn("unknown config keys ignored", "keys", strings.Join(keys, ", "))
	}

	logger.Debug("config loaded", "path", path)

	return cfg, cfg.validate()
}

// validate checks field-level constraints and fills derived fields.
func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: base_url %q is not an absolute URL", c.BaseURL)
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("config: page_size must be positive, got %d", c.PageSize)
	}

	if c.SyncInterval.Std() <= 0 {
		return fmt.Errorf("config: sync_interval must be positive, got %s", c.SyncInterval.Std())
	}

	if c.HealthWSURL == "" {
		c.HealthWSURL = deriveHealthURL(u)
	}

	return nil
}

// deriveHealthURL maps the REST base URL onto the backend's websocket
// health endpoint (same host, ws scheme, /health path).
func deriveHealthURL(base *url.URL) string {
	scheme := "ws"
	if base.Scheme == "https" {
		scheme = "wss"
	}

	return fmt.Sprintf("%s://%s/health", scheme, base.Host)
}
