package sync

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// The schema ships embedded in the binary: a fresh state database is brought
// to the current version the first time OpenStore touches it, and upgrades
// happen the same way on the next start after an update.
//
//go:embed migrations/*.sql
var schemaFS embed.FS

// migrate brings the state database up to the latest schema version.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	src, err := fs.Sub(schemaFS, "migrations")
	if err != nil {
		return fmt.Errorf("sync: opening embedded schema: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, src)
	if err != nil {
		return fmt.Errorf("sync: preparing schema migrations: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sync: migrating state database: %w", err)
	}

	if len(applied) > 0 {
		last := applied[len(applied)-1]
		logger.Info("state database migrated",
			slog.Int("applied", len(applied)),
			slog.Int64("version", last.Source.Version),
		)
	}

	return nil
}
