package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

// Migration files live in one directory as NNNN_name.sql with goose Up and
// Down sections. Applied versions are tracked in goose_db_version.
func newMigrator(db *sql.DB, migrationsDir string) (*goose.Provider, error) {
	if _, err := os.Stat(migrationsDir); err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(migrationsDir))
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return provider, nil
}

// ApplyMigrations brings the schema up to the newest migration. Each file
// runs in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	migrator, err := newMigrator(db, migrationsDir)
	if err != nil {
		return err
	}
	results, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Info().Int64("version", r.Source.Version).Dur("took", r.Duration).Msg("migration applied")
	}
	return nil
}

// RollbackMigrations runs every Down section, newest first, leaving an
// empty schema.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	migrator, err := newMigrator(db, migrationsDir)
	if err != nil {
		return err
	}
	if _, err := migrator.DownTo(ctx, 0); err != nil {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the newest applied migration.
func SchemaVersion(ctx context.Context, db *sql.DB, migrationsDir string) (int64, error) {
	migrator, err := newMigrator(db, migrationsDir)
	if err != nil {
		return 0, err
	}
	version, err := migrator.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
