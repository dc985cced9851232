package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	configTableName = "app_config"
	configRowID     = 1
)

func DefaultConfigDBPath() string {
	return filepath.Join(homeDir(), ".clawdesk", "config.db")
}

func LegacyConfigPath() string {
	return filepath.Join(homeDir(), ".clawdesk", "config.json")
}

// configStore keeps the whole config as one AES-GCM encrypted row.
type configStore struct {
	driver string
	dsn    string
}

func newConfigStore(path string) (*configStore, error) {
	driver, dsn, err := resolveConfigStoreTarget(path)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, err
		}
	}

	return &configStore{driver: driver, dsn: dsn}, nil
}

// resolveConfigStoreTarget prefers an explicit Postgres URL from the environment
// and falls back to a local SQLite file.
func resolveConfigStoreTarget(path string) (string, string, error) {
	dbURL := firstNonEmptyEnv("CLAWDESK_CONFIG_DATABASE_URL")

	if dbURL == "" && strings.EqualFold(firstNonEmptyEnv("CLAWDESK_STORAGE_TYPE"), "postgres") {
		dbURL = firstNonEmptyEnv("CLAWDESK_STORAGE_DATABASE_URL")
	}
	if dbURL == "" {
		dbURL = postgresURLFromParts()
	}
	if dbURL != "" {
		return "postgres", ensurePostgresSSLMode(dbURL), nil
	}

	if strings.TrimSpace(path) == "" {
		path = DefaultConfigDBPath()
	}
	return "sqlite", path, nil
}

func postgresURLFromParts() string {
	user := firstNonEmptyEnv("POSTGRES_USER")
	pass := firstNonEmptyEnv("POSTGRES_PASSWORD")
	db := firstNonEmptyEnv("POSTGRES_DB")
	if user == "" || pass == "" || db == "" {
		return ""
	}
	host := firstNonEmptyEnv("POSTGRES_HOST")
	if host == "" {
		host = "postgres"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable", user, pass, host, db)
}

func firstNonEmptyEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func ensurePostgresSSLMode(url string) string {
	if strings.Contains(url, "sslmode=") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "sslmode=disable"
}

// placeholder returns the n-th bind parameter for the store's driver.
func (s *configStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *configStore) schema() string {
	if s.driver == "postgres" {
		return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			ciphertext BYTEA NOT NULL,
			nonce BYTEA NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL
		)`, configTableName)
	}
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			ciphertext BLOB NOT NULL,
			nonce BLOB NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL
		)`, configTableName)
}

func (s *configStore) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, s.schema()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure config schema: %w", err)
	}
	return db, nil
}

func (s *configStore) load(ctx context.Context) (*Config, bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, false, err
	}
	defer db.Close()

	return readEncryptedConfig(ctx, db, s.placeholder(1))
}

func readEncryptedConfig(ctx context.Context, db *sql.DB, bind string) (*Config, bool, error) {
	var ciphertext, nonce []byte
	query := fmt.Sprintf("SELECT ciphertext, nonce FROM %s WHERE id = %s", configTableName, bind)
	if err := db.QueryRowContext(ctx, query, configRowID).Scan(&ciphertext, &nonce); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	key, err := getMasterKey()
	if err != nil {
		return nil, false, err
	}

	plaintext, err := decryptConfig(key, ciphertext, nonce)
	if err != nil {
		return nil, false, fmt.Errorf("decrypt config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(plaintext, cfg); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func (s *configStore) save(ctx context.Context, cfg *Config) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg.mu.RLock()
	data, err := json.Marshal(cfg)
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	key, err := getMasterKey()
	if err != nil {
		return err
	}

	ciphertext, nonce, err := encryptConfig(key, data)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, ciphertext, nonce, version, updated_at)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT(id) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		configTableName,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))

	var updatedAt interface{} = time.Now().UTC()
	if s.driver == "sqlite" {
		updatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err = db.ExecContext(ctx, query, configRowID, ciphertext, nonce, 1, updatedAt)
	return err
}

// migrateConfigFromSQLiteFile copies a config row from a local SQLite file into
// target, used when a deployment moves its config store to Postgres.
func migrateConfigFromSQLiteFile(ctx context.Context, target *configStore, sqlitePath string) (*Config, bool, error) {
	if strings.TrimSpace(sqlitePath) == "" {
		return nil, false, nil
	}
	if _, err := os.Stat(sqlitePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	src, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return nil, false, err
	}
	defer src.Close()

	var tableName string
	err = src.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", configTableName,
	).Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	cfg, found, err := readEncryptedConfig(ctx, src, "?")
	if err != nil || !found {
		return nil, false, err
	}

	if err := target.save(ctx, cfg); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}
