package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yml")
	cfg := DefaultConfig()
	cfg.ServerURL = "http://localhost:11434"
	cfg.Model = "qwen2.5-coder"
	cfg.ApprovalPolicy = "always-ask"
	cfg.SandboxMode = "workspace-write"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded != cfg {
		t.Errorf("loaded = %+v, want %+v", loaded, cfg)
	}
}

func TestLoadConfigBackfillsZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	partial := "model: mistral\nmax_context: 0\n"
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model != "mistral" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxContext != DefaultMaxContext {
		t.Errorf("MaxContext = %d, want backfilled default", cfg.MaxContext)
	}
	if cfg.ServerURL != "http://localhost:8080" {
		t.Errorf("ServerURL = %q, want backfilled default", cfg.ServerURL)
	}
	if cfg.CompactThresholdPct != DefaultCompactThresholdPct {
		t.Errorf("CompactThresholdPct = %d", cfg.CompactThresholdPct)
	}
}
