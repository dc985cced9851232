package storage

import (
	"fmt"

	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/storage/postgres"
	"github.com/caam1406/clawdesk/pkg/storage/sqlite"
)

// NewStorage creates a Storage implementation based on the provided configuration.
// Supported types: "postgres", "sqlite"
func NewStorage(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.DatabaseURL, cfg.SSLEnabled, cfg.MaxIdleConns, cfg.MaxOpenConns, cfg.MaxLifetime, cfg.Sealer)
	case "sqlite", "":
		return sqlite.NewSQLiteStorage(cfg.FilePath, cfg.Sealer)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: postgres, sqlite)", cfg.Type)
	}
}

// ConfigFrom maps the storage section of the application config.
func ConfigFrom(sc config.StorageConfig) Config {
	cfg := DefaultConfig(sc.Type)
	cfg.FilePath = sc.FilePath
	cfg.DatabaseURL = sc.DatabaseURL
	cfg.SSLEnabled = sc.SSLEnabled
	return cfg
}
