package wal

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"walvault/internal/compression"
	"walvault/internal/logger"
)

func newTestArchiver(t *testing.T) (*Archiver, *Store, string) {
	t.Helper()
	store := NewStore(t.TempDir(), compression.AlgorithmNone, 0, logger.NewSilent())
	spool := t.TempDir()
	a := NewArchiver(store, spool, 10*time.Millisecond, 30*time.Millisecond, logger.NewSilent())
	return a, store, spool
}

func TestArchiveFile(t *testing.T) {
	a, store, spool := newTestArchiver(t)

	path := filepath.Join(spool, "0000000000000001")
	if err := os.WriteFile(path, []byte("segment body"), 0o600); err != nil {
		t.Fatalf("write spool file: %v", err)
	}

	if err := a.ArchiveFile(context.Background(), path); err != nil {
		t.Fatalf("ArchiveFile: %v", err)
	}

	rc, err := store.Open(1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "segment body" {
		t.Errorf("payload = %q", data)
	}
}

func TestArchiveFileCompressedSpool(t *testing.T) {
	a, store, spool := newTestArchiver(t)

	// Engine delivered the segment already gzipped. The store must see raw
	// payload bytes so idempotence holds against uncompressed delivery.
	var buf bytes.Buffer
	comp, err := compression.NewCompressor(&buf, compression.AlgorithmGzip, 6)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	if _, err := comp.Write([]byte("raw payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := comp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(spool, "0000000000000002.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write spool file: %v", err)
	}

	if err := a.ArchiveFile(context.Background(), path); err != nil {
		t.Fatalf("ArchiveFile: %v", err)
	}

	rc, err := store.Open(2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "raw payload" {
		t.Errorf("payload = %q", data)
	}
}

func TestArchiveFileBadName(t *testing.T) {
	a, _, spool := newTestArchiver(t)

	path := filepath.Join(spool, "not-a-segment")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.ArchiveFile(context.Background(), path); err == nil {
		t.Fatal("expected error for unparseable name")
	}
}

func TestSweepStabilityWindow(t *testing.T) {
	a, store, spool := newTestArchiver(t)
	ctx := context.Background()

	path := filepath.Join(spool, "0000000000000001")
	if err := os.WriteFile(path, []byte("payload"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	seen := make(map[string]spoolObservation)

	// First sighting only records the observation.
	a.sweep(ctx, seen)
	if ok, _ := store.Has(1); ok {
		t.Fatal("segment archived before stability window elapsed")
	}

	// Still inside the window.
	a.sweep(ctx, seen)
	if ok, _ := store.Has(1); ok {
		t.Fatal("segment archived inside stability window")
	}

	time.Sleep(40 * time.Millisecond)

	a.sweep(ctx, seen)
	if ok, _ := store.Has(1); !ok {
		t.Fatal("segment not archived after stability window")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("archived segment still in spool")
	}
}

func TestSweepIgnoresGrowingFile(t *testing.T) {
	a, store, spool := newTestArchiver(t)
	ctx := context.Background()

	path := filepath.Join(spool, "0000000000000001")
	if err := os.WriteFile(path, []byte("part"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	seen := make(map[string]spoolObservation)
	a.sweep(ctx, seen)

	// File grows between sweeps: the observation resets.
	if err := os.WriteFile(path, []byte("part two"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	a.sweep(ctx, seen)
	if ok, _ := store.Has(1); ok {
		t.Fatal("growing file was archived")
	}
}

func TestSweepSkipsJunkFiles(t *testing.T) {
	a, store, spool := newTestArchiver(t)
	ctx := context.Background()

	for _, name := range []string{".hidden", "README", "0000000000000000"} {
		if err := os.WriteFile(filepath.Join(spool, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	seen := make(map[string]spoolObservation)
	a.sweep(ctx, seen)
	time.Sleep(40 * time.Millisecond)
	a.sweep(ctx, seen)

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("junk files were archived: %+v", entries)
	}
}

func TestSweepQuarantinesConflict(t *testing.T) {
	a, store, spool := newTestArchiver(t)
	ctx := context.Background()

	if err := store.Archive(ctx, 1, bytes.NewReader([]byte("archived copy"))); err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	path := filepath.Join(spool, "0000000000000001")
	if err := os.WriteFile(path, []byte("divergent copy"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	seen := make(map[string]spoolObservation)
	a.sweep(ctx, seen)
	time.Sleep(40 * time.Millisecond)
	a.sweep(ctx, seen)

	// The conflicting file stays for the operator and is not retried.
	if _, err := os.Stat(path); err != nil {
		t.Fatal("conflicting segment was removed from spool")
	}
	if !seen["0000000000000001"].quarantined {
		t.Error("conflicting segment not quarantined")
	}

	// The archived copy is untouched.
	rc, err := store.Open(1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "archived copy" {
		t.Errorf("archived payload = %q", data)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, _, _ := newTestArchiver(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
