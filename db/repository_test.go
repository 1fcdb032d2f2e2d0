package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fluxtask/imagegen"
)

func sampleRecord(correlationID string) imagegen.RunRecord {
	return imagegen.RunRecord{
		CorrelationID: correlationID,
		Operation:     imagegen.OperationFinetuneInference,
		TaskID:        "t9",
		FinetuneID:    "ft-42",
		Outcome:       imagegen.OutcomeFallback,
		ErrorKind:     "poll_exhausted",
		ErrorMessage:  "imagegen: poll task t9: exhausted after 15 attempt(s)",
		Attempts:      15,
		StartedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:      4*time.Minute + 250*time.Millisecond,
	}
}

// TestRecordAndListRuns verifies a round trip through the repository.
func TestRecordAndListRuns(t *testing.T) {
	repo := NewRepository(newTestDatabase(t))
	ctx := context.Background()

	rec := sampleRecord("abc12345")
	if err := repo.Record(ctx, rec); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	runs, err := repo.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	got := runs[0]
	if got.ID == 0 {
		t.Error("expected an id")
	}
	if got.CorrelationID != rec.CorrelationID || got.Operation != "inference" {
		t.Errorf("unexpected identity fields: %+v", got)
	}
	if got.TaskID != "t9" || got.FinetuneID != "ft-42" {
		t.Errorf("unexpected ids: %+v", got)
	}
	if got.Outcome != imagegen.OutcomeFallback || got.ErrorKind != "poll_exhausted" || got.ErrorMessage != rec.ErrorMessage {
		t.Errorf("unexpected outcome fields: %+v", got)
	}
	if got.Attempts != 15 {
		t.Errorf("Attempts = %d, want 15", got.Attempts)
	}
	if !got.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, rec.StartedAt)
	}
	if got.Duration != rec.Duration {
		t.Errorf("Duration = %v, want %v", got.Duration, rec.Duration)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be populated")
	}
}

// TestRecord_EmptyOptionalFields verifies empty strings come back empty.
func TestRecord_EmptyOptionalFields(t *testing.T) {
	repo := NewRepository(newTestDatabase(t))
	ctx := context.Background()

	rec := imagegen.RunRecord{
		CorrelationID: "gen00001",
		Operation:     imagegen.OperationGenerate,
		Outcome:       imagegen.OutcomeFallback,
		ErrorKind:     "validation",
		StartedAt:     time.Now(),
	}
	if err := repo.Record(ctx, rec); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	runs, err := repo.RunsByCorrelationID(ctx, "gen00001")
	if err != nil {
		t.Fatalf("RunsByCorrelationID() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].TaskID != "" || runs[0].FinetuneID != "" || runs[0].ErrorMessage != "" {
		t.Errorf("expected empty optional fields, got %+v", runs[0])
	}
}

// TestListRuns_OrderAndLimit verifies newest-first ordering and limits.
func TestListRuns_OrderAndLimit(t *testing.T) {
	repo := NewRepository(newTestDatabase(t))
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if err := repo.Record(ctx, sampleRecord(fmt.Sprintf("run%05d", i))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	runs, err := repo.ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 5 {
		t.Fatalf("expected 5 runs, got %d", len(runs))
	}
	if runs[0].CorrelationID != "run00024" {
		t.Errorf("expected newest run first, got %s", runs[0].CorrelationID)
	}

	runs, err = repo.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != DefaultListLimit {
		t.Errorf("expected default limit %d, got %d", DefaultListLimit, len(runs))
	}

	count, err := repo.CountRuns(ctx)
	if err != nil {
		t.Fatalf("CountRuns() error = %v", err)
	}
	if count != 25 {
		t.Errorf("CountRuns() = %d, want 25", count)
	}
}

// TestRepository_ClosedDatabase verifies errors after close.
func TestRepository_ClosedDatabase(t *testing.T) {
	database := newTestDatabase(t)
	repo := NewRepository(database)
	database.Close()

	if err := repo.Record(context.Background(), sampleRecord("closed01")); err == nil {
		t.Error("expected error recording into a closed database")
	}
	if _, err := repo.ListRuns(context.Background(), 1); err == nil {
		t.Error("expected error listing from a closed database")
	}
}
