// Package sqlite is the single-file storage backend.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/caam1406/clawdesk/pkg/storage/repository"
	"github.com/caam1406/clawdesk/pkg/storage/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStorage implements the storage.Storage interface on a local file.
type SQLiteStorage struct {
	path          string
	db            *sql.DB
	conversations repository.ConversationRepository
	accounts      repository.AccountRepository
}

// NewSQLiteStorage opens (creating if needed) the database at path. sealer may be nil.
func NewSQLiteStorage(path string, sealer sqlstore.Sealer) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required for SQLite storage")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// one writer at a time; avoids SQLITE_BUSY under concurrent appends
	db.SetMaxOpenConns(1)

	return &SQLiteStorage{
		path:          path,
		db:            db,
		conversations: sqlstore.NewConversationRepository(db, sqlstore.SQLite),
		accounts:      sqlstore.NewAccountRepository(db, sqlstore.SQLite, sealer),
	}, nil
}

// Connect verifies the file is usable and runs migrations.
func (s *SQLiteStorage) Connect(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to open database %s: %w", s.path, err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	if err := sqlstore.Migrate(ctx, s.db, sub, sqlstore.SQLite); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStorage) Conversations() repository.ConversationRepository {
	return s.conversations
}

func (s *SQLiteStorage) Accounts() repository.AccountRepository {
	return s.accounts
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the connection for bulk tooling such as migrate.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}
