package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MCPPath != DefaultMCPPath {
		t.Errorf("MCPPath = %q, want %q", cfg.MCPPath, DefaultMCPPath)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.AuthRequired {
		t.Error("expected AuthRequired to default to false with no configured API keys")
	}
}

func TestLoadFileMergesHostConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcphost.json")
	body := `{
		"hostInfo": {"name": "test-host", "version": "1.0.0"},
		"hostCapabilities": {"sampling": true, "rootsListChanged": true},
		"servers": [{"id": "weather", "transport": "stdio", "command": "weather-server"}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Host.HostInfo.Name != "test-host" {
		t.Errorf("HostInfo.Name = %q, want test-host", cfg.Host.HostInfo.Name)
	}
	if !cfg.Host.HostCapabilities.Sampling {
		t.Error("expected HostCapabilities.Sampling to be true")
	}
	if len(cfg.Host.Servers) != 1 || cfg.Host.Servers[0].ID != "weather" {
		t.Fatalf("unexpected servers: %+v", cfg.Host.Servers)
	}
}

func TestLoadMalformedFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Host.Servers) != 0 {
		t.Fatalf("expected no servers from a malformed file, got %+v", cfg.Host.Servers)
	}
}

func TestLoadAPIKeysEnablesAuthRequired(t *testing.T) {
	t.Setenv("MCPHOST_API_KEYS", "key-one, key-two")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("expected 2 API keys, got %v", cfg.APIKeys)
	}
	if !cfg.AuthRequired {
		t.Error("expected AuthRequired to default to true once API keys are configured")
	}
}
