// Package config provides YAML configuration for the storefront and the
// background sync agent binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bfgold/storefront-sync/internal/errors"
)

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "storefront-sync.yaml"

// Config is the complete configuration shared by both binaries. The
// remote access token is deliberately absent: it is session state, pushed
// to the agent over the bridge, never written to disk.
type Config struct {
	// DataDir holds the shared durable store. Both processes must point
	// at the same directory.
	DataDir string `yaml:"data_dir"`

	Remote RemoteConfig `yaml:"remote"`
	Agent  AgentConfig  `yaml:"agent"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// RemoteConfig configures the remote data store endpoint.
type RemoteConfig struct {
	// URL is the project URL, e.g. https://xyz.example.co
	URL string `yaml:"url"`
	// AnonKey is the public API key.
	AnonKey string `yaml:"anon_key"`
	// Timeout bounds each request.
	Timeout time.Duration `yaml:"timeout"`
}

// AgentConfig configures the background sync agent.
type AgentConfig struct {
	// ListenAddr is the loopback address the agent's bridge and metrics
	// endpoints bind to.
	ListenAddr string `yaml:"listen_addr"`
	// DrainInterval is how often the agent attempts a queue drain.
	DrainInterval time.Duration `yaml:"drain_interval"`
	// RefreshInterval is how often the agent refreshes tracked product
	// prices.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DefaultConfig returns a Config with working defaults for everything
// except the remote endpoint, which has no sensible default.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".storefront-sync"),
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			ListenAddr:      "127.0.0.1:8077",
			DrainInterval:   5 * time.Minute,
			RefreshInterval: time.Hour,
		},
		LogLevel: "info",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrValidation, "data_dir is required")
	}
	if c.Remote.URL == "" {
		return errors.New(errors.ErrValidation, "remote.url is required")
	}
	if c.Remote.AnonKey == "" {
		return errors.New(errors.ErrValidation, "remote.anon_key is required")
	}
	if c.Agent.ListenAddr == "" {
		return errors.New(errors.ErrValidation, "agent.listen_addr is required")
	}
	if c.Agent.DrainInterval <= 0 {
		return errors.New(errors.ErrValidation, "agent.drain_interval must be positive")
	}
	if c.Agent.RefreshInterval <= 0 {
		return errors.New(errors.ErrValidation, "agent.refresh_interval must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file layered over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to read config file", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to parse config file", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveToFile writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to marshal config", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to write config file", err)
	}
	return nil
}
