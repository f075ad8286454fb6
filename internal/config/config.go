// Package config provides configuration loading for the learning daemon.
//
// Configuration is loaded from a YAML file and environment variables on top
// of defaults. Logging and telemetry sections are decoded by their own
// packages through Config.Section.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
)

// Generator providers.
const (
	ProviderTemplate = "template"
	ProviderLLM      = "llm"
)

// Config holds the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	KB        KBConfig        `koanf:"kb"`
	Learning  LearningConfig  `koanf:"learning"`
	Generator GeneratorConfig `koanf:"generator"`
	Trainer   TrainerConfig   `koanf:"trainer"`
	Events    EventsConfig    `koanf:"events"`

	k *koanf.Koanf
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig locates the ledger database and the backup directory.
type StorageConfig struct {
	Path      string `koanf:"path"`
	BackupDir string `koanf:"backup_dir"`
}

// KBConfig locates the knowledge base.
type KBConfig struct {
	Root    string `koanf:"root"`
	History bool   `koanf:"history"` // commit changes to a git repository in Root
	Watch   bool   `koanf:"watch"`   // warn about edits made outside the pipeline
}

// LearningConfig controls the pipeline.
type LearningConfig struct {
	Threshold   int      `koanf:"threshold"` // initial value; the stored setting wins
	Interval    Duration `koanf:"interval"`  // 0 disables periodic cycles
	MaxAttempts int      `koanf:"max_attempts"`
	MaxPasses   int      `koanf:"max_passes"`
}

// GeneratorConfig selects and configures the drafter.
type GeneratorConfig struct {
	Provider    string   `koanf:"provider"`
	BaseURL     string   `koanf:"base_url"`
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"`
	Redact      bool     `koanf:"redact"`
	Allowlist   string   `koanf:"allowlist"` // optional TOML allowlist for redaction
}

// TrainerConfig configures the model build and reload.
type TrainerConfig struct {
	Command       []string `koanf:"command"`
	Timeout       Duration `koanf:"timeout"`
	ModelsDir     string   `koanf:"models_dir"`
	ReloadURL     string   `koanf:"reload_url"`
	ReloadCommand []string `koanf:"reload_command"`
	ReloadTimeout Duration `koanf:"reload_timeout"`
}

// EventsConfig configures lifecycle event publishing. An empty URL disables
// publishing.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Load loads configuration from environment variables with defaults.
//
// Example:
//
//	cfg, err := config.Load()
//	fmt.Println("Server port:", cfg.Server.Port)
func Load() (*Config, error) {
	return load(nil)
}

// Section decodes the subtree at path into out. Sections not described by
// Config, such as "logging" and "telemetry", are read this way.
func (c *Config) Section(path string, out any) error {
	if c.k == nil || !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", path, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	for name, p := range map[string]string{
		"storage.path":       c.Storage.Path,
		"storage.backup_dir": c.Storage.BackupDir,
		"kb.root":            c.KB.Root,
	} {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Learning.Threshold < 1 {
		return fmt.Errorf("learning.threshold must be at least 1, got %d", c.Learning.Threshold)
	}
	if c.Learning.MaxAttempts < 1 || c.Learning.MaxPasses < 1 {
		return errors.New("learning.max_attempts and learning.max_passes must be at least 1")
	}

	switch c.Generator.Provider {
	case ProviderTemplate:
	case ProviderLLM:
		if c.Generator.Model == "" {
			return errors.New("generator.model is required for the llm provider")
		}
	default:
		return fmt.Errorf("unknown generator.provider %q (expected %s or %s)",
			c.Generator.Provider, ProviderTemplate, ProviderLLM)
	}

	if len(c.Trainer.Command) == 0 {
		return errors.New("trainer.command is required")
	}
	if c.Trainer.Timeout <= 0 {
		return errors.New("trainer.timeout must be positive")
	}
	if c.Trainer.ReloadURL != "" {
		if err := validateURL(c.Trainer.ReloadURL, "http", "https"); err != nil {
			return fmt.Errorf("trainer.reload_url: %w", err)
		}
	}

	if c.Events.NATSURL != "" {
		if err := validateURL(c.Events.NATSURL, "nats", "tls"); err != nil {
			return fmt.Errorf("events.nats_url: %w", err)
		}
	}
	return nil
}

// validatePath rejects empty paths and paths with parent-directory segments.
func validatePath(p string) error {
	if p == "" {
		return errors.New("path is required")
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed: %s", p)
		}
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q (expected one of %s)", u.Scheme, strings.Join(schemes, ", "))
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8088
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join("data", "learning.db")
	}
	if cfg.Storage.BackupDir == "" {
		cfg.Storage.BackupDir = "backups"
	}
	if cfg.KB.Root == "" {
		cfg.KB.Root = "."
	}

	if cfg.Learning.Threshold == 0 {
		cfg.Learning.Threshold = 5
	}
	if cfg.Learning.MaxAttempts == 0 {
		cfg.Learning.MaxAttempts = 3
	}
	if cfg.Learning.MaxPasses == 0 {
		cfg.Learning.MaxPasses = 3
	}

	if cfg.Generator.Provider == "" {
		cfg.Generator.Provider = ProviderTemplate
	}

	if len(cfg.Trainer.Command) == 0 {
		cfg.Trainer.Command = []string{"rasa", "train", "--force"}
	}
	if cfg.Trainer.Timeout == 0 {
		cfg.Trainer.Timeout = Duration(300 * time.Second)
	}
	if cfg.Trainer.ModelsDir == "" {
		cfg.Trainer.ModelsDir = "models"
	}
	if cfg.Trainer.ReloadTimeout == 0 {
		cfg.Trainer.ReloadTimeout = Duration(30 * time.Second)
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "learning"
	}
}
