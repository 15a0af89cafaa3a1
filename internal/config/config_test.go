// Package config provides unit tests for configuration loading.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadMissingFile tests that a missing config file yields defaults.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Remote.Kind != "http" {
		t.Errorf("Expected default remote kind http, got %q", cfg.Remote.Kind)
	}
	if cfg.Sync.BatchSize != 50 {
		t.Errorf("Expected default batch size 50, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("Expected default interval 30s, got %v", cfg.Sync.Interval)
	}
}

// TestLoadFile tests YAML parsing.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
device_id: device-a
data_dir: /tmp/converso
remote:
  kind: postgres
  endpoint: postgres://localhost/converso
sync:
  interval: 5s
  batch_size: 10
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeviceID != "device-a" {
		t.Errorf("Expected device-a, got %q", cfg.DeviceID)
	}
	if cfg.Remote.Kind != "postgres" {
		t.Errorf("Expected postgres remote, got %q", cfg.Remote.Kind)
	}
	if cfg.Sync.Interval != 5*time.Second {
		t.Errorf("Expected 5s interval, got %v", cfg.Sync.Interval)
	}
	if cfg.Sync.BatchSize != 10 {
		t.Errorf("Expected batch size 10, got %d", cfg.Sync.BatchSize)
	}
}

// TestLoadRejectsUnknownRemote tests remote kind validation.
func TestLoadRejectsUnknownRemote(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("remote:\n  kind: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for unknown remote kind")
	}
}

// TestEnvOverride tests environment variable overrides.
func TestEnvOverride(t *testing.T) {
	t.Setenv("CONVERSO_DEVICE_ID", "device-env")
	t.Setenv("CONVERSO_REMOTE_ENDPOINT", "https://sync.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeviceID != "device-env" {
		t.Errorf("Expected env device ID, got %q", cfg.DeviceID)
	}
	if cfg.Remote.Endpoint != "https://sync.example.com" {
		t.Errorf("Expected env endpoint, got %q", cfg.Remote.Endpoint)
	}
}

// TestSaveRoundTrip tests that Save output loads back identically.
func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := Default()
	cfg.DeviceID = "device-persisted"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DeviceID != "device-persisted" {
		t.Errorf("Expected persisted device ID, got %q", loaded.DeviceID)
	}
}

// TestScrubToken tests that the plaintext token is removed from the file and
// the rest of the configuration survives.
func TestScrubToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
device_id: device-a
remote:
  kind: http
  endpoint: https://sync.example.com
  token: super-secret
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := ScrubToken(path); err != nil {
		t.Fatalf("ScrubToken failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.Contains(string(raw), "super-secret") {
		t.Error("Expected plaintext token scrubbed from file")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Remote.Token != "" {
		t.Errorf("Expected empty token after scrub, got %q", loaded.Remote.Token)
	}
	if loaded.DeviceID != "device-a" || loaded.Remote.Endpoint != "https://sync.example.com" {
		t.Error("Scrub should preserve the other fields")
	}
}

// TestScrubTokenMissingFile tests that scrubbing without a config file is a
// no-op.
func TestScrubTokenMissingFile(t *testing.T) {
	if err := ScrubToken(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("ScrubToken failed: %v", err)
	}
}
