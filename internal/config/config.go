// Package config loads lockwatch settings from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/lockwatch/internal/secret"
	"github.com/ppiankov/lockwatch/internal/subject"
)

// DefaultListen is the loopback address the bridge serves on.
const DefaultListen = "127.0.0.1:50061"

// Attempts bounds credential submissions per prompt. Zero is unlimited.
type Attempts struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

// Config holds every tunable of a lockwatch instance.
type Config struct {
	StateDir         string        `yaml:"state_dir"`
	Database         string        `yaml:"database"`
	AuditLog         string        `yaml:"audit_log"`
	Listen           string        `yaml:"listen"`
	SelfSubject      subject.ID    `yaml:"self_subject"`
	Ignore           []subject.ID  `yaml:"ignore"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	ResetInterval    time.Duration `yaml:"reset_interval"`
	MinResetInterval time.Duration `yaml:"min_reset_interval"`
	SecretScheme     secret.Scheme `yaml:"secret_scheme"`
	Attempts         Attempts      `yaml:"attempts"`
	LogLevel         string        `yaml:"log_level"`
}

// DefaultDir returns ~/.lockwatch, or .lockwatch when HOME is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lockwatch"
	}
	return filepath.Join(home, ".lockwatch")
}

// DefaultPath returns the config file used when none is named.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "lockwatch.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StateDir:         DefaultDir(),
		Listen:           DefaultListen,
		SelfSubject:      "com.lockwatch.app",
		RestartDelay:     time.Second,
		MinResetInterval: 15 * time.Minute,
		SecretScheme:     secret.SchemePlain,
		LogLevel:         "info",
	}
}

// Load reads the YAML file at path over Default.
// Empty path falls back to DefaultPath. Missing file returns defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the runtime cannot honor.
func (c *Config) Validate() error {
	if _, err := secret.New(c.SecretScheme); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	for name, d := range map[string]time.Duration{
		"restart_delay":      c.RestartDelay,
		"reset_interval":     c.ResetInterval,
		"min_reset_interval": c.MinResetInterval,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative", name)
		}
	}
	if c.Attempts.PerMinute < 0 || c.Attempts.Burst < 0 {
		return fmt.Errorf("config: attempts must not be negative")
	}
	if c.SelfSubject != "" {
		if err := subject.Validate(c.SelfSubject); err != nil {
			return fmt.Errorf("config: self_subject: %w", err)
		}
	}
	for _, id := range c.Ignore {
		if err := subject.Validate(id); err != nil {
			return fmt.Errorf("config: ignore %q: %w", id, err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// DatabasePath returns the sqlite file, defaulting under StateDir.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.StateDir, "lockwatch.db")
}

// AuditLogPath returns the audit log file, defaulting under StateDir.
func (c *Config) AuditLogPath() string {
	if c.AuditLog != "" {
		return c.AuditLog
	}
	return filepath.Join(c.StateDir, "audit.jsonl")
}

// Level parses LogLevel. Empty means info.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}
