package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Defaults are applied first, so a partial file only
// overrides the keys it mentions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This keeps the zero-config
// path working: the only hard requirement is credentials, which the
// drivers validate when they actually need them.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Validate rejects configurations that would misbehave silently at runtime.
func Validate(cfg *Config) error {
	if cfg.Storage.Root == "" {
		return errors.New("storage.root must not be empty")
	}

	if cfg.EWS.MimeThresholdMB <= 0 {
		return fmt.Errorf("ews.mime_threshold_mb must be positive, got %d", cfg.EWS.MimeThresholdMB)
	}

	if cfg.EWS.MaxChanges <= 0 || cfg.EWS.MaxChanges > 512 {
		return fmt.Errorf("ews.max_changes must be in 1..512, got %d", cfg.EWS.MaxChanges)
	}

	if !strings.HasPrefix(cfg.Graph.BaseURL, "http") {
		return fmt.Errorf("graph.base_url must be an HTTP(S) URL, got %q", cfg.Graph.BaseURL)
	}

	if !strings.HasPrefix(cfg.EWS.Endpoint, "http") {
		return fmt.Errorf("ews.endpoint must be an HTTP(S) URL, got %q", cfg.EWS.Endpoint)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolving home directory: %w", err)
		}

		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}

	return path, nil
}
