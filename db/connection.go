// Package db stores the run history ledger in SQLite: connection setup,
// embedded schema migrations, and the repository the orchestrator records
// into.
package db

import (
	"database/sql"
	"fmt"
	"time"

	// SQLite driver (pure Go, no CGO required)
	_ "modernc.org/sqlite"
)

// ConnectionConfig holds configuration for SQLite connections.
type ConnectionConfig struct {
	// Path is the database file path
	Path string
	// BusyTimeout is how long to wait for locks (milliseconds)
	BusyTimeout int
	// MaxOpenConns limits concurrent connections (SQLite recommends 1 for writes)
	MaxOpenConns int
	// MaxIdleConns limits idle connections in pool
	MaxIdleConns int
	// ConnMaxLifetime limits how long a connection can be reused (0 = no limit)
	ConnMaxLifetime time.Duration
}

// DefaultConnectionConfig returns a single-writer WAL configuration.
func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{
		Path:         path,
		BusyTimeout:  5000,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// NewSQLiteConnection opens path with WAL journaling and a busy timeout.
//
// Example:
//
//	conn, err := NewSQLiteConnection(DefaultConnectionConfig("history.db"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
func NewSQLiteConnection(config ConnectionConfig) (*sql.DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	conn, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []struct {
		name  string
		query string
	}{
		{"journal_mode", "PRAGMA journal_mode=WAL"},
		{"busy_timeout", fmt.Sprintf("PRAGMA busy_timeout=%d", config.BusyTimeout)},
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.query); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set %s pragma: %w", p.name, err)
		}
	}

	conn.SetMaxOpenConns(config.MaxOpenConns)
	conn.SetMaxIdleConns(config.MaxIdleConns)
	conn.SetConnMaxLifetime(config.ConnMaxLifetime)

	var journalMode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		conn.Close()
		return nil, fmt.Errorf("WAL mode not enabled, got: %s", journalMode)
	}

	return conn, nil
}

// NewSQLiteConnectionWithDefaults opens path with DefaultConnectionConfig.
func NewSQLiteConnectionWithDefaults(path string) (*sql.DB, error) {
	return NewSQLiteConnection(DefaultConnectionConfig(path))
}
