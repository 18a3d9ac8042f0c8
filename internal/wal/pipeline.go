package wal

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"walvault/internal/compression"
	errs "walvault/internal/errors"
	"walvault/internal/fs"
	"walvault/internal/logger"
)

// Archiver feeds segments from the engine into the store. It serves two
// delivery modes: ArchiveFile for archive_command (one process per
// segment) and Run for spool polling (the engine drops segments into a
// directory and the daemon sweeps it).
type Archiver struct {
	store     *Store
	spoolDir  string
	interval  time.Duration
	stability time.Duration
	log       logger.Logger
}

// NewArchiver creates an archiver over a store. The spool directory and
// timings only matter for Run.
func NewArchiver(store *Store, spoolDir string, interval, stability time.Duration, log logger.Logger) *Archiver {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if stability <= 0 {
		stability = 2 * time.Second
	}
	return &Archiver{
		store:     store,
		spoolDir:  spoolDir,
		interval:  interval,
		stability: stability,
		log:       log,
	}
}

// ArchiveFile archives a single segment file. The id comes from the file
// name; compressed spool files are unpacked so the store checksums raw
// payload bytes.
func (a *Archiver) ArchiveFile(ctx context.Context, path string) error {
	id, err := ParseSegmentID(path)
	if err != nil {
		return errs.NewConfigError(errs.ErrCodeInvalidSegment, err.Error(),
			"Segment files are named by 16 hex digit ids, optionally with a .gz or .zst suffix.")
	}

	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if compression.IsCompressed(path) {
		decomp, derr := compression.NewDecompressor(f, path)
		if derr != nil {
			return derr
		}
		defer decomp.Close()
		r = decomp
	}

	return a.store.Archive(ctx, id, r)
}

// Run polls the spool directory until the context is canceled. A segment
// is picked up once its size and mtime have held still for the stability
// window, so half-written files are left alone. Archived segments leave
// the spool; failed ones stay for the next sweep, except integrity
// conflicts which stay quarantined for the operator.
func (a *Archiver) Run(ctx context.Context) error {
	a.log.Info("Spool archiver started",
		"spool", a.spoolDir,
		"interval", a.interval,
		"stability", a.stability)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	seen := make(map[string]spoolObservation)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("Spool archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			a.sweep(ctx, seen)
		}
	}
}

type spoolObservation struct {
	size        int64
	modTime     time.Time
	firstStable time.Time
	quarantined bool
}

// sweep scans the spool once and archives every segment that is ready.
func (a *Archiver) sweep(ctx context.Context, seen map[string]spoolObservation) {
	infos, err := fs.ReadDir(a.spoolDir)
	if err != nil {
		a.log.Warn("Spool scan failed", "spool", a.spoolDir, "error", err)
		return
	}

	present := make(map[string]bool, len(infos))
	type candidate struct {
		name string
		id   SegmentID
	}
	var ready []candidate

	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		name := info.Name()
		present[name] = true

		id, err := ParseSegmentID(name)
		if err != nil {
			continue
		}

		obs, ok := seen[name]
		if !ok || obs.size != info.Size() || !obs.modTime.Equal(info.ModTime()) {
			seen[name] = spoolObservation{
				size:        info.Size(),
				modTime:     info.ModTime(),
				firstStable: time.Now(),
			}
			continue
		}
		if obs.quarantined || time.Since(obs.firstStable) < a.stability {
			continue
		}
		ready = append(ready, candidate{name: name, id: id})
	}

	// Forget files that left the spool behind our back.
	for name := range seen {
		if !present[name] {
			delete(seen, name)
		}
	}

	// Oldest first keeps the archive head honest for concurrent backups.
	sort.Slice(ready, func(i, j int) bool { return ready[i].id < ready[j].id })

	for _, c := range ready {
		if ctx.Err() != nil {
			return
		}
		full := filepath.Join(a.spoolDir, c.name)
		if err := a.ArchiveFile(ctx, full); err != nil {
			if errs.IsCategory(err, errs.CategoryIntegrity) {
				a.log.Error("Segment conflicts with archived copy, leaving in spool",
					"segment", c.id.String(), "error", err)
				obs := seen[c.name]
				obs.quarantined = true
				seen[c.name] = obs
			} else {
				a.log.Warn("Segment archive failed, will retry",
					"segment", c.id.String(), "error", err)
			}
			continue
		}
		if err := fs.Remove(full); err != nil {
			a.log.Warn("Archived segment left in spool", "segment", c.id.String(), "error", err)
			continue
		}
		delete(seen, c.name)
	}
}
