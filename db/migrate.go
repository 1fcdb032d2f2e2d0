package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SchemaVersion is the version of the newest embedded migration.
const SchemaVersion = 2

// MigrateUp applies all pending migrations.
//
// IMPORTANT: golang-migrate takes ownership of conn and closes it when done.
// Use MigrateUpFromPath when the caller keeps its own connection.
func MigrateUp(conn *sql.DB) error {
	m, err := newMigrator(conn)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateUpFromPath applies pending migrations on a dedicated connection.
func MigrateUpFromPath(dbPath string) error {
	conn, err := NewSQLiteConnectionWithDefaults(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	return MigrateUp(conn)
}

// MigrateDownFromPath rolls back steps migrations, or all of them for -1.
func MigrateDownFromPath(dbPath string, steps int) error {
	conn, err := NewSQLiteConnectionWithDefaults(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	m, err := newMigrator(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if steps == -1 {
		err = m.Down()
	} else {
		err = m.Steps(-steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// MigrationVersionFromPath returns the applied version and dirty flag.
// A fresh database reports version 0.
func MigrationVersionFromPath(dbPath string) (uint, bool, error) {
	conn, err := NewSQLiteConnectionWithDefaults(dbPath)
	if err != nil {
		return 0, false, fmt.Errorf("failed to open database: %w", err)
	}

	m, err := newMigrator(conn)
	if err != nil {
		conn.Close()
		return 0, false, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}

// newMigrator builds a migrator over the embedded SQL files.
func newMigrator(conn *sql.DB) (*migrate.Migrate, error) {
	if conn == nil {
		return nil, errors.New("database connection is required")
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{DatabaseName: "main"})
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}
