package db

import (
	"context"
	"fmt"
	"time"

	"fluxtask/imagegen"
)

// DefaultListLimit is used when ListRuns is called with a non-positive limit.
const DefaultListLimit = 20

// TaskRun is one row of the task_runs table.
type TaskRun struct {
	ID            int64
	CorrelationID string
	Operation     string
	TaskID        string
	FinetuneID    string
	Outcome       string // success, submitted or fallback
	ErrorKind     string
	ErrorMessage  string
	Attempts      int
	StartedAt     time.Time
	Duration      time.Duration
	CreatedAt     time.Time
}

// Repository reads and writes run history. It implements imagegen.Recorder.
type Repository struct {
	db *Database
}

var _ imagegen.Recorder = (*Repository)(nil)

// NewRepository creates a Repository over an open, migrated Database.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// Record inserts one run.
func (r *Repository) Record(ctx context.Context, rec imagegen.RunRecord) error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	query := `
		INSERT INTO task_runs (
			correlation_id, operation, task_id, finetune_id, outcome,
			error_kind, error_message, attempts, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.CorrelationID,
		string(rec.Operation),
		nullString(rec.TaskID),
		nullString(rec.FinetuneID),
		rec.Outcome,
		nullString(rec.ErrorKind),
		nullString(rec.ErrorMessage),
		rec.Attempts,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return r.queryRuns(ctx, `
		SELECT id, correlation_id, operation, COALESCE(task_id, ''), COALESCE(finetune_id, ''),
			   outcome, COALESCE(error_kind, ''), COALESCE(error_message, ''),
			   attempts, started_at, duration_ms, created_at
		FROM task_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
}

// RunsByCorrelationID returns the runs logged under correlationID.
func (r *Repository) RunsByCorrelationID(ctx context.Context, correlationID string) ([]TaskRun, error) {
	return r.queryRuns(ctx, `
		SELECT id, correlation_id, operation, COALESCE(task_id, ''), COALESCE(finetune_id, ''),
			   outcome, COALESCE(error_kind, ''), COALESCE(error_message, ''),
			   attempts, started_at, duration_ms, created_at
		FROM task_runs
		WHERE correlation_id = ?
		ORDER BY id DESC`, correlationID)
}

// CountRuns returns the number of stored runs.
func (r *Repository) CountRuns(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}
	rows, err := r.db.QueryContext(ctx, "SELECT COUNT(*) FROM task_runs")
	if err != nil {
		return 0, fmt.Errorf("failed to count task runs: %w", err)
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan task run count: %w", err)
		}
	}
	return count, rows.Err()
}

func (r *Repository) queryRuns(ctx context.Context, query string, args ...any) ([]TaskRun, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer rows.Close()

	var runs []TaskRun
	for rows.Next() {
		var run TaskRun
		var startedAt, createdAt string
		var durationMS int64

		err := rows.Scan(
			&run.ID,
			&run.CorrelationID,
			&run.Operation,
			&run.TaskID,
			&run.FinetuneID,
			&run.Outcome,
			&run.ErrorKind,
			&run.ErrorMessage,
			&run.Attempts,
			&startedAt,
			&durationMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task run row: %w", err)
		}

		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		run.CreatedAt = parseSQLiteTime(createdAt)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task run rows: %w", err)
	}
	return runs, nil
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parseSQLiteTime accepts CURRENT_TIMESTAMP output and the RFC 3339 form
// the driver produces for DATETIME columns.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
