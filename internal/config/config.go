// Package config loads sync daemon configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// DeviceID identifies this replica in vector clocks and push tags.
	// Generated on first run and persisted; injected everywhere, never read
	// from ambient globals.
	DeviceID string `yaml:"device_id"`

	// Local storage
	DataDir string `yaml:"data_dir"`

	// Remote record store
	Remote RemoteConfig `yaml:"remote"`

	// Sync loop tuning
	Sync SyncConfig `yaml:"sync"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	// Local status API for the UI
	ListenAddr string `yaml:"listen_addr"`
}

// RemoteConfig selects and configures the remote record store adapter.
type RemoteConfig struct {
	// Kind is "http" or "postgres".
	Kind string `yaml:"kind"`
	// Endpoint is the HTTP base URL or the Postgres DSN.
	Endpoint string `yaml:"endpoint"`
	// FeedURL is the websocket change feed, empty to disable live changes.
	FeedURL string `yaml:"feed_url"`
	// Token authenticates against the HTTP adapter.
	Token string `yaml:"token"`
}

// SyncConfig holds sync loop tuning knobs.
type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"`
	BatchSize     int           `yaml:"batch_size"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// Default returns the configuration defaults applied before file and env
// overrides.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		LogLevel:   "INFO",
		ListenAddr: "localhost:8090",
		Remote: RemoteConfig{
			Kind: "http",
		},
		Sync: SyncConfig{
			Interval:      30 * time.Second,
			BatchSize:     50,
			ProbeInterval: 10 * time.Second,
		},
	}
}

// Load reads the config file at path, falling back to defaults when the file
// does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv applies CONVERSO_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("CONVERSO_DEVICE_ID"); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv("CONVERSO_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CONVERSO_REMOTE_ENDPOINT"); v != "" {
		c.Remote.Endpoint = v
	}
	if v := os.Getenv("CONVERSO_REMOTE_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("CONVERSO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// validate fills derived defaults and rejects unusable combinations.
func (c *Config) validate() error {
	if c.Remote.Kind != "http" && c.Remote.Kind != "postgres" {
		return fmt.Errorf("unknown remote kind %q", c.Remote.Kind)
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 50
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = 30 * time.Second
	}
	if c.Sync.ProbeInterval <= 0 {
		c.Sync.ProbeInterval = 10 * time.Second
	}
	return nil
}

// Save writes the configuration back to path, creating parent directories.
// Used to persist the generated device ID on first run.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// ScrubToken removes a plaintext remote token from the config file at path
// once the token has been stored encrypted. A missing file, or a file without
// a token, is a no-op; environment overrides are never written back.
func ScrubToken(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Remote.Token == "" {
		return nil
	}
	cfg.Remote.Token = ""
	return cfg.Save(path)
}
