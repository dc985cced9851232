package config

import (
	"context"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const storeTimeout = 5 * time.Second

// LoadConfig resolves the effective configuration. A .json/.yaml path is read as a
// plain file; anything else is treated as the encrypted config database location.
// Environment overrides (including a .env file in the working directory) are applied last.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var (
		cfg *Config
		err error
	)
	if IsConfigFile(path) {
		cfg, err = LoadConfigFromFile(path)
	} else {
		cfg, err = loadConfigFromStore(path)
	}
	if err != nil {
		return nil, err
	}
	cfg.path = path

	if applyEnvOverrides(cfg) && !IsConfigFile(path) {
		if err := saveConfigToStore(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save persists the config back to where it was loaded from.
func (c *Config) Save() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()

	if IsConfigFile(path) {
		return saveConfigFile(path, c)
	}
	return saveConfigToStore(path, c)
}

func loadConfigFromStore(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigDBPath()
	}

	store, err := newConfigStore(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	cfg, exists, err := store.load(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return cfg, nil
	}

	if store.driver == "postgres" {
		if migrated, ok, err := migrateConfigFromSQLiteFile(ctx, store, path); err != nil {
			return nil, err
		} else if ok {
			return migrated, nil
		}
	}

	if legacy, ok, err := migrateLegacyConfig(ctx, store, LegacyConfigPath()); err != nil {
		return nil, err
	} else if ok {
		return legacy, nil
	}

	cfg = DefaultConfig()
	if err := store.save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func saveConfigToStore(path string, cfg *Config) error {
	store, err := newConfigStore(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return store.save(ctx, cfg)
}
