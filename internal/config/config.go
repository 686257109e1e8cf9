package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"prosync/internal/stage"
)

const (
	BackendLocal = "local"
	BackendSQL   = "sql"

	WriterNone     = "none"
	WriterHTTP     = "http"
	WriterPostgres = "postgres"
)

// Config models prosync.yml (or prosync.toml).
type Config struct {
	Backend string `yaml:"backend" toml:"backend"`
	Server  struct {
		Addr     string `yaml:"addr" toml:"addr"`
		BasePath string `yaml:"base_path" toml:"base_path"`
	} `yaml:"server" toml:"server"`
	Auth struct {
		JWTSecret    string `yaml:"jwt_secret" toml:"jwt_secret"`
		SessionHours int    `yaml:"session_hours" toml:"session_hours"`
		RememberDays int    `yaml:"remember_days" toml:"remember_days"`
	} `yaml:"auth" toml:"auth"`
	Sync struct {
		RemoteURL    string `yaml:"remote_url" toml:"remote_url"`
		ExportDir    string `yaml:"export_dir" toml:"export_dir"`
		AutoInterval string `yaml:"auto_interval" toml:"auto_interval"`
		Writer       Writer `yaml:"writer" toml:"writer"`
	} `yaml:"sync" toml:"sync"`
	Webhooks []Webhook         `yaml:"webhooks" toml:"webhooks"`
	Stages   []stage.Definition `yaml:"stages" toml:"stages"`
}

type Writer struct {
	Kind  string `yaml:"kind" toml:"kind"`
	URL   string `yaml:"url" toml:"url"`
	Token string `yaml:"token" toml:"token"`
	DSN   string `yaml:"dsn" toml:"dsn"`
}

type Webhook struct {
	URL            string `yaml:"url" toml:"url"`
	Secret         string `yaml:"secret" toml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled" toml:"enabled"`
}

// Active reports whether the hook should receive deliveries. Hooks are enabled unless
// explicitly disabled.
func (w Webhook) Active() bool {
	return w.URL != "" && (w.Enabled == nil || *w.Enabled)
}

func (w Webhook) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Backend = BackendLocal
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Auth.SessionHours = 4
	cfg.Auth.RememberDays = 30
	cfg.Sync.ExportDir = "exports"
	cfg.Sync.Writer.Kind = WriterNone
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal, BackendSQL:
	default:
		return fmt.Errorf("config.backend must be %q or %q, got %q", BackendLocal, BackendSQL, c.Backend)
	}
	if c.Auth.SessionHours < 0 {
		return fmt.Errorf("config.auth.session_hours must not be negative")
	}
	if c.Auth.RememberDays < 0 {
		return fmt.Errorf("config.auth.remember_days must not be negative")
	}
	if c.Sync.RemoteURL != "" {
		if err := checkURL(c.Sync.RemoteURL); err != nil {
			return fmt.Errorf("config.sync.remote_url: %w", err)
		}
	}
	if _, err := c.AutoInterval(); err != nil {
		return err
	}
	switch c.Sync.Writer.Kind {
	case "", WriterNone:
	case WriterHTTP:
		if err := checkURL(c.Sync.Writer.URL); err != nil {
			return fmt.Errorf("config.sync.writer.url: %w", err)
		}
	case WriterPostgres:
		if c.Sync.Writer.DSN == "" {
			return fmt.Errorf("config.sync.writer.dsn is required for postgres writer")
		}
	default:
		return fmt.Errorf("config.sync.writer.kind %q is not one of none, http, postgres", c.Sync.Writer.Kind)
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if err := checkURL(h.URL); err != nil {
			return fmt.Errorf("webhooks[%d].url: %w", i, err)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if len(c.Stages) > 0 {
		if err := stage.ValidateTable(c.Stages); err != nil {
			return fmt.Errorf("config.stages: %w", err)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// AutoInterval parses sync.auto_interval. Empty disables auto-sync.
func (c *Config) AutoInterval() (time.Duration, error) {
	if c.Sync.AutoInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Sync.AutoInterval)
	if err != nil {
		return 0, fmt.Errorf("config.sync.auto_interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config.sync.auto_interval must not be negative")
	}
	return d, nil
}

// StageTable returns the configured stage table, or the built-in one.
func (c *Config) StageTable() (stage.Table, error) {
	if len(c.Stages) == 0 {
		return stage.Default(), nil
	}
	return stage.NewTable(c.Stages)
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionHours) * time.Hour
}

func (c *Config) RememberTTL() time.Duration {
	return time.Duration(c.Auth.RememberDays) * 24 * time.Hour
}

// ExportPath resolves sync.export_dir against the workspace.
func (c *Config) ExportPath(workspace string) string {
	dir := c.Sync.ExportDir
	if dir == "" {
		dir = "exports"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".prosync", dir)
}

// Path returns the YAML config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "prosync.yml")
}

// TOMLPath returns the TOML config file path for a workspace.
func TOMLPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "prosync.toml")
}

// Load reads the workspace config. prosync.toml wins over prosync.yml; with neither present
// the defaults apply.
func Load(workspace string) (*Config, error) {
	if data, err := os.ReadFile(TOMLPath(workspace)); err == nil {
		return FromTOML(data)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Absent keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads config from path, choosing the decoder by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == ".toml" {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// GenerateDefault returns a commented starter prosync.yml.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `backend: local

server:
  addr: 127.0.0.1:8080

auth:
  # jwt_secret: change-me
  session_hours: 4
  remember_days: 30

sync:
  # remote_url: https://example.com/snapshot.json
  export_dir: exports
  # auto_interval: 5m
  writer:
    kind: none

# webhooks:
#   - url: https://hooks.example.com/prosync
#     secret: shared-secret

# stages:
#   - {id: SURVEY, label: Survey, weight: 0.10}
#   - {id: PLANNING, label: Planning, weight: 0.15}
#   - {id: EXECUTION, label: Execution, weight: 0.25}
#   - {id: FINALIZATION, label: Finalization, weight: 0.50}
`
