package app

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration. It is loaded once at
// startup and passed into constructors; the core never reads it ambiently.
type Config struct {
	ServerURL   string  `yaml:"server_url"`
	Model       string  `yaml:"model"`
	MaxContext  int     `yaml:"max_context"`
	Temperature float32 `yaml:"temperature"`

	ApprovalPolicy string `yaml:"approval_policy"`
	SandboxMode    string `yaml:"sandbox_mode"`

	// Compaction knobs; the defaults match the historical behavior.
	CompactThresholdPct int `yaml:"compact_threshold_pct"`
	KeepRecent          int `yaml:"keep_recent"`
}

func DefaultConfig() Config {
	return Config{
		ServerURL:           "http://localhost:8080",
		Model:               "local",
		MaxContext:          DefaultMaxContext,
		Temperature:         0.7,
		ApprovalPolicy:      string(PolicyNever),
		SandboxMode:         string(SandboxDangerFullAccess),
		CompactThresholdPct: DefaultCompactThresholdPct,
		KeepRecent:          DefaultKeepRecent,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8080"
	}
	if cfg.Model == "" {
		cfg.Model = "local"
	}
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = DefaultMaxContext
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.CompactThresholdPct <= 0 || cfg.CompactThresholdPct > 100 {
		cfg.CompactThresholdPct = DefaultCompactThresholdPct
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "loco", "config.yml")
}
