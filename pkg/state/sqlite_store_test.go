package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := OpenSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// The connection pragmas must actually take effect through the driver's
// _pragma DSN parameters.
func TestSQLiteStore_OpenAppliesPragmas(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var journalMode string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("pragma query failed: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := store.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("pragma query failed: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", busyTimeout)
	}
}

func TestSQLiteStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	rec := testRecord(engine.KindDatabaseInstance)
	if err := store.Put(ctx, "db", rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, "db")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Kind != rec.Kind || !got.Exists || got.ProviderHandle != rec.ProviderHandle {
		t.Errorf("record mismatch: %+v", got)
	}
	if got.SpecHash != rec.SpecHash {
		t.Errorf("hash mismatch: %s vs %s", got.SpecHash, rec.SpecHash)
	}
	if got.Attributes["name"] != "x" {
		t.Errorf("attributes lost: %v", got.Attributes)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "base" {
		t.Errorf("dependencies lost: %v", got.DependsOn)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	if !engine.IsNotFound(err) {
		t.Errorf("expected not-found error, got: %v", err)
	}
	if !engine.IsStateStore(err) {
		t.Errorf("expected state-class error, got: %v", err)
	}
}

func TestSQLiteStore_PutUpsert(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	rec := testRecord(engine.KindStorageBucket)
	if err := store.Put(ctx, "bucket", rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	rec.Exists = false
	rec.ProviderHandle = ""
	if err := store.Put(ctx, "bucket", rec); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := store.Get(ctx, "bucket")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Exists || got.ProviderHandle != "" {
		t.Errorf("expected dead record after upsert, got %+v", got)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("upsert must not duplicate rows, got %d", len(all))
	}
}

func TestSQLiteStore_DeleteAndAll(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	if err := store.Put(ctx, "a", testRecord(engine.KindDatabase)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put(ctx, "b", testRecord(engine.KindStorageBucket)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Errorf("repeated delete must be a no-op, got: %v", err)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	if _, ok := all["b"]; !ok {
		t.Error("expected record b to survive")
	}
}

func TestSQLiteStore_RunHistory(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	started := time.Now().UTC().Add(-time.Minute)
	for i, status := range []engine.RunStatus{
		engine.RunStatusSucceeded, engine.RunStatusFailed, engine.RunStatusSucceeded,
	} {
		completed := started.Add(time.Duration(i)*time.Second + 500*time.Millisecond)
		run := &engine.Run{
			ID:          string(rune('a'+i)) + "-run",
			PlanID:      "plan-1",
			Status:      status,
			StartedAt:   started.Add(time.Duration(i) * time.Second),
			CompletedAt: &completed,
			Summary:     engine.ApplySummary{Total: i + 1, Applied: i},
		}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %d failed: %v", i, err)
		}
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	// Newest first.
	if runs[0].ID != "c-run" || runs[2].ID != "a-run" {
		t.Errorf("expected newest-first order, got [%s %s %s]", runs[0].ID, runs[1].ID, runs[2].ID)
	}
	if runs[1].Status != engine.RunStatusFailed {
		t.Errorf("expected failed run in the middle, got %s", runs[1].Status)
	}
	if runs[0].Summary.Applied != 2 {
		t.Errorf("summary lost: %+v", runs[0].Summary)
	}

	limited, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("limited list failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "c-run" {
		t.Errorf("expected only the newest run, got %v", limited)
	}
}

func TestSQLiteStore_SaveRunUpsert(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	run := &engine.Run{
		ID:        "r1",
		PlanID:    "p1",
		Status:    engine.RunStatusFailed,
		StartedAt: time.Now().UTC(),
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	completed := time.Now().UTC()
	run.Status = engine.RunStatusSucceeded
	run.CompletedAt = &completed
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run after upsert, got %d", len(runs))
	}
	if runs[0].Status != engine.RunStatusSucceeded || runs[0].CompletedAt == nil {
		t.Errorf("upsert did not update the run: %+v", runs[0])
	}
}
