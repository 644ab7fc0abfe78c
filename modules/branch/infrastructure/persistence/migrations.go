package persistence

import (
	"context"
	"database/sql"
	"embed"

	gerrors "github.com/go-faster/errors"
	"github.com/pressly/goose/v3"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const schemaDir = "schema"

func prepareGoose() error {
	goose.SetBaseFS(schemaFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return gerrors.Wrap(err, "set goose dialect")
	}
	return nil
}

// Migrate applies every pending schema migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, schemaDir); err != nil {
		return gerrors.Wrap(err, "apply migrations")
	}
	return nil
}

// MigrationStatus logs the applied/pending state of each migration through
// goose's logger.
func MigrationStatus(ctx context.Context, db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, db, schemaDir); err != nil {
		return gerrors.Wrap(err, "migration status")
	}
	return nil
}
