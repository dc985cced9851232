package postgres

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/caam1406/clawdesk/pkg/storage/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations executes all pending SQL migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	return sqlstore.Migrate(ctx, db, sub, sqlstore.Postgres)
}
