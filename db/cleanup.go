package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	RunsDeleted int64
	Duration    time.Duration
}

// Cleanup deletes runs older than retentionDays and vacuums the file.
// A retention of zero deletes everything recorded before now.
//
// Example:
//
//	result, err := database.Cleanup(ctx, 30)
//	if err != nil {
//	    log.Printf("Cleanup failed: %v", err)
//	}
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	result := CleanupResult{}

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	res, err := d.ExecContext(ctx,
		"DELETE FROM task_runs WHERE created_at < datetime('now', ?)",
		fmt.Sprintf("-%d days", retentionDays))
	if err != nil {
		return result, fmt.Errorf("failed to delete old task runs: %w", err)
	}
	result.RunsDeleted, err = res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := ctx.Err(); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	// VACUUM must run outside a transaction
	if _, err := d.ExecContext(ctx, "VACUUM"); err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("cleanup succeeded but VACUUM failed: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}
