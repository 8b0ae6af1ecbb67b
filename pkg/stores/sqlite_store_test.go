package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/engine"
)

// setupTestStore creates a migrated store in a temporary directory.
func setupTestStore(t *testing.T, now func() time.Time) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{
		Path:    filepath.Join(t.TempDir(), "journal", "history.db"),
		Target:  "local",
		Project: "demo",
		Now:     now,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testReport(runID string, start time.Time) *engine.Report {
	return &engine.Report{
		RunID:  runID,
		PlanID: "plan-" + runID,
		Status: engine.RunStatusFailed,
		Counts: engine.ReportCounts{Created: 1, NoOp: 1, Failed: 1, SkippedDependency: 1},
		Entries: []engine.ReportEntry{
			{ResourceID: "package.docker.io", Kind: engine.KindPackage, Action: engine.ActionCreate,
				Status: engine.StatusSucceeded, Attempts: 1, Duration: 2 * time.Second},
			{ResourceID: "image.app", Kind: engine.KindImage, Action: engine.ActionCreate,
				Status: engine.StatusFailed, Attempts: 3, Error: "docker build failed"},
			{ResourceID: "service.app", Kind: engine.KindService, Action: engine.ActionCreate,
				Status: engine.StatusSkippedDependencyFailed, Error: "docker build failed", RootCause: "image.app"},
			{ResourceID: "file.compose", Kind: engine.KindFile, Action: engine.ActionNoop,
				Status: engine.StatusSkippedConverged},
		},
		StartedAt:  start,
		FinishedAt: start.Add(5 * time.Second),
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := setupTestStore(t, nil)

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestRecordAndGetRun(t *testing.T) {
	recorded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := setupTestStore(t, func() time.Time { return recorded })
	ctx := context.Background()

	report := testReport("run-1", recorded.Add(-time.Minute))
	if err := store.RecordRun(ctx, report); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if run.Target != "local" || run.Project != "demo" {
		t.Errorf("labels = %q/%q, want local/demo", run.Target, run.Project)
	}
	if !run.RecordedAt.Equal(recorded) {
		t.Errorf("recorded at = %v, want %v", run.RecordedAt, recorded)
	}

	got := run.Report()
	if diff := cmp.Diff(report, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("report round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t, nil)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := setupTestStore(t, func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := store.RecordRun(ctx, testReport(id, clock)); err != nil {
			t.Fatalf("failed to record %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
		if len(r.Entries) != 0 {
			t.Errorf("run %s: list should not load entries", r.ID)
		}
	}
	if diff := cmp.Diff([]string{"run-3", "run-2"}, ids); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
	if runs[0].Counts.Failed != 1 || runs[0].Counts.SkippedDependency != 1 {
		t.Errorf("counts = %+v", runs[0].Counts)
	}
}

func TestRecordRunDuplicate(t *testing.T) {
	store := setupTestStore(t, nil)
	ctx := context.Background()

	if err := store.RecordRun(ctx, testReport("run-1", time.Now())); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}
	if err := store.RecordRun(ctx, testReport("run-1", time.Now())); err == nil {
		t.Fatal("expected duplicate run id to fail")
	}

	// The failed transaction must not leave partial entries behind.
	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if len(run.Entries) != 4 {
		t.Errorf("entries = %d, want 4", len(run.Entries))
	}
}

func TestRecordRunWithoutID(t *testing.T) {
	store := setupTestStore(t, nil)
	if err := store.RecordRun(context.Background(), &engine.Report{}); err == nil {
		t.Fatal("expected error for report without run id")
	}
}
