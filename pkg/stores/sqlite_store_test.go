package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func createTestRun(t *testing.T, store *SQLiteStore, id, template, status string, startedAt time.Time) *Run {
	t.Helper()

	run := &Run{
		ID:           id,
		PlanID:       "plan-" + id,
		Project:      "KokoroaSenDT123",
		TemplateFile: template,
		Command:      "stack",
		Status:       status,
		StartedAt:    startedAt,
	}
	if err := store.UpsertRun(context.Background(), run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "steps", "events"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isceproc.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open file store: %v", err)
	}
	createTestRun(t, store, "run-file", "/data/KokoroaSenDT123.template", "running", time.Now())
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to reopen file store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, "run-file"); err != nil {
		t.Fatalf("expected run to survive reopen: %v", err)
	}
}

// TestRunCRUD tests Run operations
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, store, "run-001", "/data/KokoroaSenDT123.template", "running", time.Now())

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.Project != run.Project || retrieved.Status != "running" {
		t.Errorf("unexpected run: %+v", retrieved)
	}
	if retrieved.CompletedAt != nil {
		t.Error("expected CompletedAt to be nil")
	}

	// Update
	completed := time.Now()
	errMsg := "[permanent] dem.py exited with status 1"
	run.Status = "failed"
	run.CompletedAt = &completed
	run.Total, run.Succeeded, run.Failed, run.Skipped = 4, 1, 1, 2
	run.Error = &errMsg
	if err := store.UpsertRun(ctx, run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	updated, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get updated run: %v", err)
	}
	if updated.Status != "failed" {
		t.Errorf("expected status failed, got %s", updated.Status)
	}
	if updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("expected error %q, got %v", errMsg, updated.Error)
	}
	if updated.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if updated.Skipped != 2 || updated.Total != 4 {
		t.Errorf("unexpected counters: %+v", updated)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	if _, err := store.GetRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.DeleteRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLatestRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	template := "/data/KokoroaSenDT123.template"
	base := time.Now().Add(-time.Hour)

	createTestRun(t, store, "old-failed", template, "failed", base)
	createTestRun(t, store, "new-failed", template, "failed", base.Add(10*time.Minute))
	createTestRun(t, store, "succeeded", template, "succeeded", base.Add(20*time.Minute))
	createTestRun(t, store, "other", "/data/OtherSenAT1.template", "failed", base.Add(30*time.Minute))

	run, err := store.LatestRun(ctx, template, "stack", "failed")
	if err != nil {
		t.Fatalf("failed to get latest run: %v", err)
	}
	if run.ID != "new-failed" {
		t.Errorf("expected new-failed, got %s", run.ID)
	}

	run, err = store.LatestRun(ctx, template, "", "")
	if err != nil {
		t.Fatalf("failed to get latest run: %v", err)
	}
	if run.ID != "succeeded" {
		t.Errorf("expected succeeded, got %s", run.ID)
	}

	if _, err := store.LatestRun(ctx, template, "pipeline", "failed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStepUpsertAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store, "run-002", "/data/KokoroaSenDT123.template", "running", time.Now())

	started := time.Now()
	steps := []*Step{
		{RunID: run.ID, ID: "dem", Name: "dem", Stage: "dem", Status: "succeeded", Attempts: 1, StartedAt: &started},
		{RunID: run.ID, ID: "run_01_unpack_topo_reference", Name: "run_01_unpack_topo_reference", Stage: "run_files", Position: 1, Status: "running", Workers: 4},
	}
	for _, step := range steps {
		if err := store.UpsertStep(ctx, step); err != nil {
			t.Fatalf("failed to save step: %v", err)
		}
	}

	errMsg := "exit status 1"
	completed := time.Now()
	steps[1].Status = "failed"
	steps[1].Attempts = 1
	steps[1].Error = &errMsg
	steps[1].CompletedAt = &completed
	if err := store.UpsertStep(ctx, steps[1]); err != nil {
		t.Fatalf("failed to update step: %v", err)
	}

	listed, err := store.ListSteps(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(listed))
	}
	if listed[0].ID != "dem" || listed[0].StartedAt == nil {
		t.Errorf("unexpected first step: %+v", listed[0])
	}
	if listed[1].Status != "failed" || listed[1].Error == nil || listed[1].Workers != 4 {
		t.Errorf("unexpected second step: %+v", listed[1])
	}
	if listed[1].StartedAt != nil {
		t.Error("expected StartedAt to stay nil")
	}
}

func TestStepRequiresRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.UpsertStep(context.Background(), &Step{RunID: "missing", ID: "dem", Name: "dem", Stage: "dem", Status: "pending"})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store, "run-003", "/data/KokoroaSenDT123.template", "running", time.Now())

	stepID := "dem"
	base := time.Now()
	events := []*Event{
		{ID: "e1", RunID: run.ID, Type: "run.started", Level: "info", Message: "Run started", Timestamp: base},
		{ID: "e2", RunID: run.ID, StepID: &stepID, Type: "step.started", Level: "info", Message: "Started dem", Timestamp: base.Add(time.Second)},
		{ID: "e3", RunID: run.ID, StepID: &stepID, Type: "step.failed", Level: "error", Message: "Failed dem", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	all, err := store.ListEvents(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].ID != "e1" || all[0].StepID != nil {
		t.Errorf("unexpected first event: %+v", all[0])
	}
	if all[2].StepID == nil || *all[2].StepID != "dem" {
		t.Errorf("unexpected last event: %+v", all[2])
	}

	limited, err := store.ListEvents(ctx, run.ID, 2)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 events, got %d", len(limited))
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	remaining, err := store.ListEvents(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected events to be deleted with their run, got %d", len(remaining))
	}
}
