package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// IsConfigFile reports whether path names a JSON or YAML config file rather than a config database.
func IsConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfigFromFile reads a JSON or YAML config file on top of the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

func saveConfigFile(path string, cfg *Config) error {
	cfg.mu.RLock()
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// migrateLegacyConfig imports a plain JSON config left next to the config database
// and renames it so the import runs once.
func migrateLegacyConfig(ctx context.Context, store *configStore, legacyPath string) (*Config, bool, error) {
	if legacyPath == "" {
		return nil, false, nil
	}

	if _, err := os.Stat(legacyPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	cfg, err := LoadConfigFromFile(legacyPath)
	if err != nil {
		return nil, false, err
	}

	if err := store.save(ctx, cfg); err != nil {
		return nil, false, err
	}

	if err := os.Rename(legacyPath, legacyPath+".bak"); err != nil {
		_ = os.WriteFile(legacyPath+".migrated", []byte("config migrated to DB"), 0644)
	}

	return cfg, true, nil
}
