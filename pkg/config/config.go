// Package config provides configuration loading, validation, and secrets
// management for the deployment service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Extraction provider names.
const (
	ProviderRules     = "rules"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Defaults applied when the config file omits a value.
const (
	DefaultListenAddr      = ":8080"
	DefaultDatabasePath    = "infraagent.db"
	DefaultSessionTTL      = 30 * time.Minute
	DefaultSweepInterval   = 5 * time.Minute
	DefaultListLimit       = 50
	DefaultMaxListLimit    = 200
	DefaultEngineStepDelay = 2 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig controls conversation session lifecycle.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DeployConfig controls deployment listing behavior.
type DeployConfig struct {
	DefaultListLimit int `yaml:"default_list_limit"`
	MaxListLimit     int `yaml:"max_list_limit"`
}

// EngineConfig controls the simulated execution engine.
type EngineConfig struct {
	StepDelay time.Duration `yaml:"step_delay"`
	// URLDomain is the domain suffix used for generated deployment URLs,
	// e.g. "apps.infraagent.dev".
	URLDomain string `yaml:"url_domain"`
}

// ExtractionConfig selects and tunes the extraction adapter.
type ExtractionConfig struct {
	Provider string `yaml:"provider"` // "rules", "openai", or "anthropic"
	Model    string `yaml:"model"`
}

// WebhookConfig controls GitHub webhook registration and verification.
type WebhookConfig struct {
	// CallbackURL is the externally reachable URL GitHub should POST to.
	CallbackURL string `yaml:"callback_url"`
}

// Config is the root configuration for the service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Session    SessionConfig    `yaml:"session"`
	Deploy     DeployConfig     `yaml:"deploy"`
	Engine     EngineConfig     `yaml:"engine"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath,
		},
		Session: SessionConfig{
			TTL:           DefaultSessionTTL,
			SweepInterval: DefaultSweepInterval,
		},
		Deploy: DeployConfig{
			DefaultListLimit: DefaultListLimit,
			MaxListLimit:     DefaultMaxListLimit,
		},
		Engine: EngineConfig{
			StepDelay: DefaultEngineStepDelay,
			URLDomain: "apps.infraagent.dev",
		},
		Extraction: ExtractionConfig{
			Provider: ProviderRules,
		},
		Webhook: WebhookConfig{},
	}
}

// Load reads the YAML config at path, fills in defaults, applies environment
// overrides, and validates the result. A missing file is not an error: the
// defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = DefaultSessionTTL
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = DefaultSweepInterval
	}
	if c.Deploy.DefaultListLimit <= 0 {
		c.Deploy.DefaultListLimit = DefaultListLimit
	}
	if c.Deploy.MaxListLimit <= 0 {
		c.Deploy.MaxListLimit = DefaultMaxListLimit
	}
	if c.Engine.StepDelay <= 0 {
		c.Engine.StepDelay = DefaultEngineStepDelay
	}
	if c.Engine.URLDomain == "" {
		c.Engine.URLDomain = "apps.infraagent.dev"
	}
	if c.Extraction.Provider == "" {
		c.Extraction.Provider = ProviderRules
	}
}

// applyEnvOverrides lets deploy environments override file values without
// editing the config on disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INFRAAGENT_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("INFRAAGENT_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("INFRAAGENT_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Session.TTL = d
		}
	}
	if v := os.Getenv("INFRAAGENT_LIST_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Deploy.DefaultListLimit = n
		}
	}
	if v := os.Getenv("INFRAAGENT_EXTRACTION_PROVIDER"); v != "" {
		c.Extraction.Provider = v
	}
	if v := os.Getenv("INFRAAGENT_WEBHOOK_URL"); v != "" {
		c.Webhook.CallbackURL = v
	}
}

// Validate checks the config for values that would misbehave at runtime.
func (c *Config) Validate() error {
	switch c.Extraction.Provider {
	case ProviderRules, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown extraction provider %q (want %s, %s, or %s)",
			c.Extraction.Provider, ProviderRules, ProviderOpenAI, ProviderAnthropic)
	}

	if c.Deploy.DefaultListLimit > c.Deploy.MaxListLimit {
		return fmt.Errorf("default list limit %d exceeds max %d",
			c.Deploy.DefaultListLimit, c.Deploy.MaxListLimit)
	}
	return nil
}
