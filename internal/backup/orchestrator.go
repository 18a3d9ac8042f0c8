// Package backup orchestrates base backup runs: one writer at a time,
// a catalog record per attempt, retention after success.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"walvault/internal/catalog"
	"walvault/internal/checks"
	"walvault/internal/cleanup"
	"walvault/internal/config"
	"walvault/internal/engine"
	errs "walvault/internal/errors"
	"walvault/internal/fs"
	"walvault/internal/hooks"
	"walvault/internal/lockfile"
	"walvault/internal/logger"
	"walvault/internal/metrics"
	"walvault/internal/wal"
)

// Options select what a single run does. Zero values fall back to the
// configuration.
type Options struct {
	Destination string // snapshot root, default <root>/base
	WALMethod   string // fetch | stream
	KeepCount   int    // snapshots to retain
}

// Archive is the slice of the WAL store the orchestrator needs.
type Archive interface {
	Head() (wal.SegmentID, error)
	List() ([]wal.Entry, error)
	PruneBelow(ctx context.Context, floor wal.SegmentID) (int, error)
}

// Syncer ships a finished snapshot off the host. Optional; sync
// failures never fail the backup.
type Syncer interface {
	SyncSnapshot(ctx context.Context, rec *catalog.BackupRecord) error
}

// HookRunner fires operator scripts at run boundaries. Optional. A
// pre-hook failure aborts the run before any record exists; post and
// error hooks are best effort.
type HookRunner interface {
	RunPre(ctx context.Context, hctx *hooks.Context) error
	RunPost(ctx context.Context, hctx *hooks.Context) error
	RunOnError(ctx context.Context, hctx *hooks.Context) error
}

// Result reports what one run did.
type Result struct {
	Record            *catalog.BackupRecord
	InterruptedMarked int
	Retention         *RetentionOutcome
	Duration          time.Duration
}

// Orchestrator runs base backups against the configured vault.
type Orchestrator struct {
	cfg     *config.Config
	log     logger.Logger
	cat     catalog.Catalog
	store   Archive
	tool    engine.SnapshotTool
	sync    Syncer
	hooks   HookRunner
	handler *cleanup.Handler
}

func New(cfg *config.Config, log logger.Logger, cat catalog.Catalog, store Archive, tool engine.SnapshotTool) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: log, cat: cat, store: store, tool: tool}
}

// SetSyncer enables off-site sync after successful runs
func (o *Orchestrator) SetSyncer(s Syncer) {
	o.sync = s
}

// SetHooks enables operator scripts around runs
func (o *Orchestrator) SetHooks(h HookRunner) {
	o.hooks = h
}

// SetCleanupHandler registers the writer lock for release on shutdown
func (o *Orchestrator) SetCleanupHandler(h *cleanup.Handler) {
	o.handler = h
}

func (o *Orchestrator) withDefaults(opts Options) Options {
	if opts.Destination == "" {
		opts.Destination = o.cfg.BaseDir()
	}
	if opts.WALMethod == "" {
		opts.WALMethod = o.cfg.WALMethod
	}
	if opts.KeepCount == 0 {
		opts.KeepCount = o.cfg.KeepCount
	}
	return opts
}

// Run performs one backup: lock, record, snapshot, retention, prune.
// The returned Result is non-nil whenever a catalog record was
// created, even on failure, so callers can report the record id.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	opts = o.withDefaults(opts)

	if opts.KeepCount < 1 {
		return nil, errs.NewConfigError(errs.ErrCodeInvalidKeep,
			fmt.Sprintf("keep count %d would retain nothing", opts.KeepCount),
			"pass --keep 1 or higher")
	}
	switch opts.WALMethod {
	case "fetch", "stream":
	default:
		return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown wal method %q", opts.WALMethod),
			"use --wal-method fetch or stream")
	}

	if err := fs.MkdirAll(opts.Destination, 0750); err != nil {
		return nil, errs.NewConfigError(errs.ErrCodeInvalidPath,
			fmt.Sprintf("cannot create destination %s: %v", opts.Destination, err),
			"check the path and its permissions")
	}
	if err := fs.CheckWriteAccess(opts.Destination); err != nil {
		return nil, errs.NewConfigError(errs.ErrCodeInvalidPath,
			fmt.Sprintf("destination %s is not writable: %v", opts.Destination, err),
			"check the path and its permissions")
	}
	if err := o.checkHeadroom(ctx, opts.Destination); err != nil {
		return nil, err
	}

	lock, err := lockfile.TryAcquire(o.cfg.LockPath())
	if err != nil {
		var held *lockfile.ErrLockHeld
		if errors.As(err, &held) {
			return nil, errs.BackupInProgress(o.cfg.LockPath())
		}
		return nil, fmt.Errorf("acquiring writer lock: %w", err)
	}
	defer lock.Release()
	if o.handler != nil {
		o.handler.RegisterCleanup("backup-writer-lock", cleanup.LockCleanup(o.log, lock.Release))
	}

	result := &Result{}

	marked, err := o.cat.MarkInterrupted(ctx, "superseded by a later run")
	if err != nil {
		return nil, fmt.Errorf("sweeping interrupted records: %w", err)
	}
	result.InterruptedMarked = marked
	if marked > 0 {
		o.log.Warn("Marked interrupted runs as failed", "count", marked)
	}

	id := catalog.NewRecordID(time.Now())
	snapDir := filepath.Join(opts.Destination, id)

	if o.hooks != nil {
		hctx := &hooks.Context{RecordID: id, SnapshotPath: snapDir, StartTime: start}
		if err := o.hooks.RunPre(ctx, hctx); err != nil {
			return nil, err
		}
	}

	head, err := o.store.Head()
	if err != nil {
		return nil, fmt.Errorf("reading archive head: %w", err)
	}
	walStart := head
	if head == wal.SegmentNone {
		if opts.WALMethod == "fetch" {
			return nil, errs.ArchivingNotConfigured(o.cfg.ArchiveDir())
		}
		// the stream seeds the archive from the first segment
		walStart = wal.SegmentID(1)
	}

	rec, err := o.cat.Create(ctx, id, snapDir, walStart, opts.WALMethod)
	if err != nil {
		return nil, err
	}
	result.Record = rec

	if err := o.cat.Start(ctx, id); err != nil {
		if rerr := o.cat.Remove(context.Background(), id); rerr != nil {
			o.log.Warn("Could not remove unstarted record", "backup_id", id, "error", rerr)
		}
		return nil, err
	}
	rec.Status = catalog.StatusRunning

	op := o.log.StartOperation("Base backup")
	op.Update("snapshotting", "backup_id", id, "dir", snapDir, "wal_method", opts.WALMethod)

	snap, err := o.tool.Snapshot(ctx, snapDir)
	if err != nil {
		o.failRun(id, snapDir, start, err)
		op.Fail("snapshot failed", "backup_id", id, "error", err)
		result.Duration = time.Since(start)
		if rec2, gerr := o.cat.Get(context.Background(), id); gerr == nil {
			result.Record = rec2
		}
		return result, err
	}

	walEnd, err := o.store.Head()
	if err != nil {
		o.failRun(id, snapDir, start, err)
		op.Fail("archive head unreadable after snapshot", "error", err)
		result.Duration = time.Since(start)
		return result, fmt.Errorf("reading archive head after snapshot: %w", err)
	}
	if walEnd < walStart {
		// nothing arrived during the run; the record still claims its
		// own start so the chain check stays honest
		walEnd = walStart
	}

	if err := o.cat.Complete(ctx, id, walEnd, snap.SizeBytes, snap.Checksum); err != nil {
		return result, err
	}
	op.Complete("snapshot recorded", "backup_id", id, "size", snap.SizeBytes,
		"wal_start", walStart.String(), "wal_end", walEnd.String())

	rec, err = o.cat.Get(ctx, id)
	if err != nil {
		return result, err
	}
	result.Record = rec

	if o.hooks != nil {
		hctx := &hooks.Context{
			RecordID:     rec.ID,
			SnapshotPath: rec.Path,
			SizeBytes:    rec.SizeBytes,
			WALStart:     rec.WALStart.String(),
			WALEnd:       rec.WALEnd.String(),
			StartTime:    start,
			Duration:     time.Since(start),
			Success:      true,
		}
		if err := o.hooks.RunPost(ctx, hctx); err != nil {
			o.log.Warn("Post-backup hooks failed", "backup_id", id, "error", err)
		}
	}

	retention, err := o.applyRetention(ctx, opts.KeepCount)
	if err != nil {
		o.log.Warn("Retention pass incomplete", "error", err)
	}
	result.Retention = retention

	if o.sync != nil {
		if err := o.sync.SyncSnapshot(ctx, rec); err != nil {
			o.log.Warn("Off-site sync failed", "backup_id", id, "error", err)
		}
	}
	o.writeMetrics(ctx)

	result.Duration = time.Since(start)
	return result, nil
}

// checkHeadroom projects the next snapshot from history and refuses a
// run that cannot fit. First-ever runs have no history and pass.
func (o *Orchestrator) checkHeadroom(ctx context.Context, dest string) error {
	latest, err := o.cat.Latest(ctx)
	if err != nil || latest.SizeBytes <= 0 {
		return nil
	}
	estimated := checks.EstimateSnapshotSize(latest.SizeBytes, 0, o.cfg.Compression, o.cfg.CompressionLevel)
	if estimated == 0 {
		return nil
	}
	return checks.EnsureCapacity(dest, checks.RequiredHeadroom(estimated))
}

// failRun records the failure, removes the partial snapshot, and fires
// the error hooks. Uses a background context throughout: the ledger
// write and the paging hooks must land even when the run's context is
// already canceled; the hook timeouts bound how long that takes.
func (o *Orchestrator) failRun(id, snapDir string, start time.Time, cause error) {
	if err := o.cat.Fail(context.Background(), id, cause.Error()); err != nil {
		o.log.Error("Could not record failure", "backup_id", id, "error", err)
	}
	if err := fs.RemoveAll(snapDir); err != nil {
		o.log.Warn("Could not remove partial snapshot", "dir", snapDir, "error", err)
	}
	if o.hooks != nil {
		hctx := &hooks.Context{
			RecordID:     id,
			SnapshotPath: snapDir,
			StartTime:    start,
			Duration:     time.Since(start),
			Error:        cause.Error(),
		}
		if err := o.hooks.RunOnError(context.Background(), hctx); err != nil {
			o.log.Warn("Error hooks failed", "backup_id", id, "error", err)
		}
	}
}

// Prune removes one snapshot: files first, then the catalog row.
// Retained snapshots are refused. A row whose files are already gone
// still prunes cleanly, which is what makes retention resumable.
func (o *Orchestrator) Prune(ctx context.Context, id string) error {
	rec, err := o.cat.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Retained {
		return errs.RetentionViolation(id)
	}
	if err := fs.RemoveAll(rec.Path); err != nil {
		return fmt.Errorf("removing snapshot %s: %w", id, err)
	}
	return o.cat.Remove(ctx, id)
}

// writeMetrics refreshes the textfile when configured
func (o *Orchestrator) writeMetrics(ctx context.Context) {
	if o.cfg.MetricsFile == "" {
		return
	}
	w := metrics.NewWriter(o.log, o.cat, o.store, o.cfg.Host)
	if err := w.WriteTextfile(ctx, o.cfg.MetricsFile); err != nil {
		o.log.Warn("Metrics textfile write failed", "path", o.cfg.MetricsFile, "error", err)
	}
}
