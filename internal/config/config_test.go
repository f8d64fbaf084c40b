package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.Remote.URL = "https://xyz.example.co"
	c.Remote.AnonKey = "anon-key"
	return c
}

func TestDefaultsAreLayeredUnderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	content := []byte(`
data_dir: /tmp/sync-data
remote:
  url: https://xyz.example.co
  anon_key: anon-key
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.DataDir != "/tmp/sync-data" {
		t.Errorf("Expected data_dir from file, got %q", cfg.DataDir)
	}
	if cfg.Remote.Timeout != 30*time.Second {
		t.Errorf("Expected default remote timeout, got %v", cfg.Remote.Timeout)
	}
	if cfg.Agent.ListenAddr != "127.0.0.1:8077" {
		t.Errorf("Expected default listen addr, got %q", cfg.Agent.ListenAddr)
	}
	if cfg.Agent.RefreshInterval != time.Hour {
		t.Errorf("Expected default refresh interval, got %v", cfg.Agent.RefreshInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level, got %q", cfg.LogLevel)
	}
}

func TestLoadRejectsMissingRemote(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("data_dir: /tmp/x\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected validation failure without remote.url")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("remote: [not a mapping"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected parse failure on malformed YAML")
	}
}

func TestValidateLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected invalid log level to be rejected")
	}

	cfg.LogLevel = "debug"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected debug to validate, got %v", err)
	}
}

func TestValidateIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.DrainInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected zero drain interval to be rejected")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.DataDir = "/tmp/sync-rt"
	cfg.Agent.RefreshInterval = 15 * time.Minute

	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.DataDir != cfg.DataDir {
		t.Errorf("Expected data_dir %q, got %q", cfg.DataDir, loaded.DataDir)
	}
	if loaded.Agent.RefreshInterval != 15*time.Minute {
		t.Errorf("Expected refresh interval 15m, got %v", loaded.Agent.RefreshInterval)
	}
}
