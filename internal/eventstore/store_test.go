package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speech-batch/internal/config"
	"github.com/loqalabs/loqa-speech-batch/internal/dispatch"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.Recorder("b").OnResult(ctx, dispatch.Result{Index: 0, OK: true}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "history.db"), RetentionMode: "session"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.AppendBatch(ctx, "batch-1", "smoke", 2); err != nil {
		t.Fatalf("append batch: %v", err)
	}
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := es.Recorder("batch-1")
	if err := rec.OnResult(ctx, dispatch.Result{Index: 1, Error: "boom", Text: "B", Start: start, End: start.Add(time.Second), Duration: time.Second}); err != nil {
		t.Fatalf("append failure: %v", err)
	}
	if err := rec.OnResult(ctx, dispatch.Result{Index: 0, OK: true, OutputPath: "temp_1.wav", Text: "A", Start: start, End: start, Duration: 20 * time.Millisecond, Bytes: 44}); err != nil {
		t.Fatalf("append success: %v", err)
	}

	records, err := es.ListBatchResults(ctx, "batch-1")
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Index != 0 || !records[0].OK || records[0].OutputPath != "temp_1.wav" || records[0].Bytes != 44 {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[1].OK || records[1].Error != "boom" || records[1].Duration != time.Second {
		t.Fatalf("unexpected second record %+v", records[1])
	}
	if !records[1].StartedAt.Equal(start) {
		t.Fatalf("start time not preserved: %v", records[1].StartedAt)
	}
}

func TestPruneByDaysAndBatches(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "history.db"), RetentionMode: "persistent", RetentionDays: 1, MaxBatches: 1}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendBatch(ctx, "old-batch", "old", 1); err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if err := es.AppendResult(ctx, "old-batch", dispatch.Result{Index: 0, OK: true, OutputPath: "temp_1.wav"}); err != nil {
		t.Fatalf("append result: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendBatch(ctx, "new-batch", "new", 1); err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	batches, err := es.ListBatches(ctx)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != "new-batch" {
		t.Fatalf("expected only new-batch to survive, got %+v", batches)
	}

	records, err := es.ListBatchResults(ctx, "old-batch")
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected old batch pruned")
	}
}
