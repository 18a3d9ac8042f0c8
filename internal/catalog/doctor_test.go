package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// makeBackupDir registers a complete record whose directory exists on disk.
func makeBackupDir(t *testing.T, cat *SQLiteCatalog, dest string, created time.Time) string {
	t.Helper()
	ctx := context.Background()

	id := NewRecordID(created)
	path := filepath.Join(dest, id)
	if _, err := cat.Create(ctx, id, path, 1, "fetch"); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	if err := cat.Start(ctx, id); err != nil {
		t.Fatalf("failed to start record: %v", err)
	}
	if err := cat.Complete(ctx, id, 4, 1024, "x"); err != nil {
		t.Fatalf("failed to complete record: %v", err)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		t.Fatalf("failed to make backup dir: %v", err)
	}
	return id
}

func TestDoctorClean(t *testing.T) {
	cat := newTestCatalog(t)
	dest := t.TempDir()
	now := time.Now().UTC()

	makeBackupDir(t, cat, dest, now.Add(-2*time.Hour))
	makeBackupDir(t, cat, dest, now.Add(-time.Hour))

	// a fresh running record is normal, not a finding
	runID := NewRecordID(now.Add(-time.Minute))
	if _, err := cat.Create(context.Background(), runID, filepath.Join(dest, runID), 9, "fetch"); err != nil {
		t.Fatalf("failed to create running record: %v", err)
	}
	if err := cat.Start(context.Background(), runID); err != nil {
		t.Fatalf("failed to start record: %v", err)
	}

	// and neither is a record still waiting for its snapshot tool
	pendID := NewRecordID(now)
	if _, err := cat.Create(context.Background(), pendID, filepath.Join(dest, pendID), 9, "fetch"); err != nil {
		t.Fatalf("failed to create pending record: %v", err)
	}

	report, err := cat.Doctor(context.Background(), dest)
	if err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected clean report, got %+v", report)
	}
	if report.Checked != 4 {
		t.Errorf("checked = %d, want 4", report.Checked)
	}
}

func TestDoctorFindings(t *testing.T) {
	cat := newTestCatalog(t)
	dest := t.TempDir()
	ctx := context.Background()
	now := time.Now().UTC()

	makeBackupDir(t, cat, dest, now.Add(-3*time.Hour))

	// complete record whose directory vanished
	goneID := NewRecordID(now.Add(-2 * time.Hour))
	if _, err := cat.Create(ctx, goneID, filepath.Join(dest, goneID), 5, "fetch"); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	if err := cat.Start(ctx, goneID); err != nil {
		t.Fatalf("failed to start record: %v", err)
	}
	if err := cat.Complete(ctx, goneID, 8, 1024, "x"); err != nil {
		t.Fatalf("failed to complete record: %v", err)
	}

	// running record old enough to be a crash leftover
	staleID := NewRecordID(now.Add(-48 * time.Hour))
	if _, err := cat.Create(ctx, staleID, filepath.Join(dest, staleID), 9, "fetch"); err != nil {
		t.Fatalf("failed to create stale record: %v", err)
	}
	if err := cat.Start(ctx, staleID); err != nil {
		t.Fatalf("failed to start stale record: %v", err)
	}

	// pending record that never reached its snapshot tool
	pendID := NewRecordID(now.Add(-90 * time.Minute))
	if _, err := cat.Create(ctx, pendID, filepath.Join(dest, pendID), 9, "fetch"); err != nil {
		t.Fatalf("failed to create pending record: %v", err)
	}

	// id-shaped directory with no record
	orphanID := NewRecordID(now.Add(-time.Hour))
	orphanPath := filepath.Join(dest, orphanID)
	if err := os.MkdirAll(orphanPath, 0o700); err != nil {
		t.Fatalf("failed to make orphan dir: %v", err)
	}

	// operator directories are none of our business
	for _, name := range []string{"wal", "notes"} {
		if err := os.MkdirAll(filepath.Join(dest, name), 0o700); err != nil {
			t.Fatalf("failed to make dir: %v", err)
		}
	}

	report, err := cat.Doctor(ctx, dest)
	if err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	if report.Clean() {
		t.Fatal("expected findings")
	}
	if len(report.Missing) != 1 || report.Missing[0] != goneID {
		t.Errorf("missing = %v, want [%s]", report.Missing, goneID)
	}
	if len(report.Orphans) != 1 || report.Orphans[0] != orphanPath {
		t.Errorf("orphans = %v, want [%s]", report.Orphans, orphanPath)
	}
	if len(report.StaleRunning) != 1 || report.StaleRunning[0] != staleID {
		t.Errorf("stale running = %v, want [%s]", report.StaleRunning, staleID)
	}
	if len(report.StalePending) != 1 || report.StalePending[0] != pendID {
		t.Errorf("stale pending = %v, want [%s]", report.StalePending, pendID)
	}
}

func TestDoctorMissingDest(t *testing.T) {
	cat := newTestCatalog(t)

	report, err := cat.Doctor(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected clean report, got %+v", report)
	}
}

func TestPruneFailed(t *testing.T) {
	cat := newTestCatalog(t)
	dest := t.TempDir()
	ctx := context.Background()
	now := time.Now().UTC()

	// old failed run with a partial directory left behind
	oldID := NewRecordID(now.Add(-3 * time.Hour))
	oldPath := filepath.Join(dest, oldID)
	if _, err := cat.Create(ctx, oldID, oldPath, 1, "fetch"); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	if err := cat.Start(ctx, oldID); err != nil {
		t.Fatalf("failed to start record: %v", err)
	}
	if err := cat.Fail(ctx, oldID, "interrupted by crash"); err != nil {
		t.Fatalf("failed to fail record: %v", err)
	}
	if err := os.MkdirAll(oldPath, 0o700); err != nil {
		t.Fatalf("failed to make dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(oldPath, "base.tar"), []byte("partial"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	// recent failed run stays
	newID := NewRecordID(now)
	if _, err := cat.Create(ctx, newID, filepath.Join(dest, newID), 5, "fetch"); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	if err := cat.Start(ctx, newID); err != nil {
		t.Fatalf("failed to start record: %v", err)
	}
	if err := cat.Fail(ctx, newID, "boom"); err != nil {
		t.Fatalf("failed to fail record: %v", err)
	}

	cutoff := now.Add(-time.Hour)

	// dry run reports without touching anything
	res, err := cat.PruneFailed(ctx, cutoff, true)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if res.Checked != 1 || res.Removed != 0 {
		t.Errorf("dry run: checked=%d removed=%d", res.Checked, res.Removed)
	}
	if res.SpaceFreed == 0 {
		t.Error("dry run reported no leftover space")
	}
	if _, err := os.Stat(oldPath); err != nil {
		t.Errorf("dry run touched the directory: %v", err)
	}
	if _, err := cat.Get(ctx, oldID); err != nil {
		t.Errorf("dry run touched the record: %v", err)
	}

	// real run removes record and directory
	res, err = cat.PruneFailed(ctx, cutoff, false)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if res.Removed != 1 {
		t.Errorf("removed = %d, want 1", res.Removed)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("leftover directory still present: %v", err)
	}
	if _, err := cat.Get(ctx, oldID); err == nil {
		t.Error("pruned record still present")
	}

	// the recent failure survived
	if _, err := cat.Get(ctx, newID); err != nil {
		t.Errorf("recent failed record pruned: %v", err)
	}
}

func TestPruneFailedSkipsRetained(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	id := NewRecordID(time.Now().UTC().Add(-3 * time.Hour))
	if _, err := cat.Create(ctx, id, "/backups/"+id, 1, "fetch"); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	if err := cat.Start(ctx, id); err != nil {
		t.Fatalf("failed to start record: %v", err)
	}
	if err := cat.Fail(ctx, id, "boom"); err != nil {
		t.Fatalf("failed to fail record: %v", err)
	}
	if err := cat.SetRetained(ctx, id, true); err != nil {
		t.Fatalf("failed to retain: %v", err)
	}

	res, err := cat.PruneFailed(ctx, time.Now().UTC(), false)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if res.Checked != 0 || res.Removed != 0 {
		t.Errorf("retained record considered: %+v", res)
	}
	if _, err := cat.Get(ctx, id); err != nil {
		t.Errorf("retained record pruned: %v", err)
	}
}

func TestPruneFailedSweepsPending(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// abandoned before the snapshot tool ever ran
	deadID := NewRecordID(now.Add(-3 * time.Hour))
	if _, err := cat.Create(ctx, deadID, "/backups/"+deadID, 1, "fetch"); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}

	// a fresh pending record is a run about to start, not garbage
	liveID := NewRecordID(now)
	if _, err := cat.Create(ctx, liveID, "/backups/"+liveID, 5, "fetch"); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}

	res, err := cat.PruneFailed(ctx, now.Add(-time.Hour), false)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if res.Removed != 1 {
		t.Errorf("removed = %d, want 1", res.Removed)
	}
	if len(res.Details) != 1 || !strings.Contains(res.Details[0], "never started") {
		t.Errorf("details = %v, want one never started line", res.Details)
	}
	if _, err := cat.Get(ctx, deadID); err == nil {
		t.Error("abandoned record still present")
	}
	if _, err := cat.Get(ctx, liveID); err != nil {
		t.Errorf("fresh pending record pruned: %v", err)
	}
}
