package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Database owns the history connection and its schema.
//
// Usage:
//
//	database, err := OpenDatabase("~/.fluxtask/history.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer database.Close()
//	repo := NewRepository(database)
type Database struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewDatabase opens path, creating parent directories as needed. The schema
// is not touched; call Migrate or use OpenDatabase.
func NewDatabase(path string) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	conn, err := NewSQLiteConnectionWithDefaults(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &Database{db: conn, path: path}, nil
}

// OpenDatabase is NewDatabase followed by Migrate.
func OpenDatabase(path string) (*Database, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Migrate applies pending migrations on a separate connection, since
// golang-migrate closes the connection it is handed.
func (d *Database) Migrate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := MigrateUpFromPath(d.path); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Close closes the connection. The Database must not be used afterwards.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.db = nil
	return nil
}

// ExecContext runs a statement that returns no rows.
func (d *Database) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, fmt.Errorf("database connection is closed")
	}
	return d.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query that returns rows.
func (d *Database) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, fmt.Errorf("database connection is closed")
	}
	return d.db.QueryContext(ctx, query, args...)
}
