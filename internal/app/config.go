// Package app wires the core components together and exposes the command
// handlers the CLI registers.
package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LegacyConfig is the single-provider configuration kept for compatibility
// with earlier releases; the provider registry supersedes it but its knobs
// (temperature, toggles) still drive the session.
type LegacyConfig struct {
	APIKey       string  `json:"api_key,omitempty"`
	DefaultModel string  `json:"default_model,omitempty"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float32 `json:"temperature"`
	AutoSave     bool    `json:"auto_save"`
	SafeMode     bool    `json:"safe_mode"`
	Streaming    bool    `json:"streaming"`
	Autorun      bool    `json:"autorun"`
	Toolbox      bool    `json:"toolbox"`
}

// DefaultLegacyConfig returns the shipped defaults.
func DefaultLegacyConfig() LegacyConfig {
	return LegacyConfig{
		DefaultModel: "llama-3.1-8b-instant",
		MaxTokens:    8000,
		Temperature:  0.5,
		AutoSave:     true,
		SafeMode:     false,
		Streaming:    true,
		Autorun:      true,
		Toolbox:      true,
	}
}

// ConfigManager loads and saves config.json under the base directory.
type ConfigManager struct {
	baseDir string
}

// NewConfigManager ensures the base directory exists with 0700.
func NewConfigManager(baseDir string) (*ConfigManager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".iabuilder")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	// Tighten the directory even when it already existed.
	_ = os.Chmod(baseDir, 0o700)
	return &ConfigManager{baseDir: baseDir}, nil
}

// BaseDir returns the configuration root.
func (m *ConfigManager) BaseDir() string { return m.baseDir }

// ConfigPath returns the config.json location.
func (m *ConfigManager) ConfigPath() string {
	return filepath.Join(m.baseDir, "config.json")
}

// Load reads config.json, returning defaults when it does not exist.
// GROQ_API_KEY overrides the stored key, matching the legacy behaviour.
func (m *ConfigManager) Load() (LegacyConfig, error) {
	cfg := DefaultLegacyConfig()

	data, err := os.ReadFile(m.ConfigPath())
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config.json: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config.json: %w", err)
	}

	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	return cfg, nil
}

// Save writes config.json with 0600 permissions. A key that came from the
// environment is not persisted.
func (m *ConfigManager) Save(cfg LegacyConfig) error {
	if os.Getenv("GROQ_API_KEY") != "" {
		cfg.APIKey = "<from_environment>"
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.ConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write config.json: %w", err)
	}
	return nil
}
