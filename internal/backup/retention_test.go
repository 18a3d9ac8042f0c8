package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"walvault/internal/catalog"
	"walvault/internal/fs"
	"walvault/internal/wal"
)

// seedComplete inserts a complete record n seconds into the sequence,
// optionally with real files on disk.
func seedComplete(t *testing.T, env *testEnv, n int, start wal.SegmentID, withFiles bool) *catalog.BackupRecord {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	id := catalog.NewRecordID(base.Add(time.Duration(n) * time.Second))
	dir := filepath.Join(env.cfg.BaseDir(), id)

	if _, err := env.cat.Create(ctx, id, dir, start, "stream"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := env.cat.Start(ctx, id); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := env.cat.Complete(ctx, id, start+1, 100, "x"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if withFiles {
		if err := fs.MkdirAll(dir, 0750); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := fs.WriteFile(filepath.Join(dir, "base.tar"), []byte("x"), 0640); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	rec, err := env.cat.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	return rec
}

func TestApplyRetentionResumesAfterCrash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// oldest row has no files, as if a prior pass died between the
	// directory removal and the catalog delete
	old := seedComplete(t, env, 1, 2, false)
	mid := seedComplete(t, env, 2, 4, true)
	newest := seedComplete(t, env, 3, 6, true)

	outcome, err := env.orch.applyRetention(ctx, 1)
	if err != nil {
		t.Fatalf("retention failed: %v", err)
	}

	if len(outcome.Pruned) != 2 {
		t.Fatalf("pruned = %v, want the two oldest", outcome.Pruned)
	}
	for _, id := range []string{old.ID, mid.ID} {
		if _, err := env.cat.Get(ctx, id); err == nil {
			t.Errorf("record %s survived the pass", id)
		}
	}
	if ok, _ := fs.DirExists(mid.Path); ok {
		t.Error("pruned snapshot files still on disk")
	}
	if len(outcome.Retained) != 1 || outcome.Retained[0] != newest.ID {
		t.Errorf("retained = %v, want [%s]", outcome.Retained, newest.ID)
	}

	// newest started at 6, so everything below 6 can go
	if len(env.store.floors) != 1 || env.store.floors[0] != 6 {
		t.Errorf("WAL floors = %v, want [6]", env.store.floors)
	}
	if outcome.FloorSkipped {
		t.Error("floor skipped despite a retained snapshot")
	}
}

func TestApplyRetentionSkipsFloorWithoutRetained(t *testing.T) {
	env := newTestEnv(t)

	outcome, err := env.orch.applyRetention(context.Background(), 3)
	if err != nil {
		t.Fatalf("retention on an empty catalog failed: %v", err)
	}
	if !outcome.FloorSkipped {
		t.Error("floor not skipped on an empty catalog")
	}
	if len(env.store.floors) != 0 {
		t.Errorf("WAL pruning ran with nothing retained: %v", env.store.floors)
	}
}

func TestApplyRetentionKeepsAllWithinKeepCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := seedComplete(t, env, 1, 2, true)
	b := seedComplete(t, env, 2, 4, true)

	outcome, err := env.orch.applyRetention(ctx, 5)
	if err != nil {
		t.Fatalf("retention failed: %v", err)
	}
	if len(outcome.Pruned) != 0 {
		t.Errorf("pruned = %v, want none below the keep count", outcome.Pruned)
	}
	// marks walk from the tail, newest first
	if len(outcome.Retained) != 2 || outcome.Retained[0] != b.ID || outcome.Retained[1] != a.ID {
		t.Errorf("retained = %v, want [%s %s]", outcome.Retained, b.ID, a.ID)
	}

	// oldest retained row pins the floor
	if len(env.store.floors) != 1 || env.store.floors[0] != 2 {
		t.Errorf("WAL floors = %v, want [2]", env.store.floors)
	}
}

func TestApplyRetentionCollectsErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedComplete(t, env, 1, 2, true)
	seedComplete(t, env, 2, 4, true)
	env.store.pruneErr = context.DeadlineExceeded

	outcome, err := env.orch.applyRetention(ctx, 1)
	if err == nil {
		t.Fatal("store failure not surfaced")
	}
	if len(outcome.Retained) != 1 {
		t.Errorf("retention marks lost to the store failure: %v", outcome.Retained)
	}
	if len(outcome.Pruned) != 1 {
		t.Errorf("snapshot pruning lost to the store failure: %v", outcome.Pruned)
	}
}
