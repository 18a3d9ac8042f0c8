package recovery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"walvault/internal/catalog"
	"walvault/internal/checks"
	"walvault/internal/compression"
	"walvault/internal/config"
	"walvault/internal/engine"
	errs "walvault/internal/errors"
	"walvault/internal/fs"
	"walvault/internal/logger"
	"walvault/internal/wal"
)

// State names where a recovery run stands. Transitions are one-way.
type State int

const (
	StateNotStarted State = iota
	StateSelecting
	StateRestoring
	StateConfiguring
	StateReplaying
	StateTargetReached
	StateArchiveExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateSelecting:
		return "SELECTING"
	case StateRestoring:
		return "RESTORING"
	case StateConfiguring:
		return "CONFIGURING"
	case StateReplaying:
		return "REPLAYING"
	case StateTargetReached:
		return "TARGET_REACHED"
	case StateArchiveExhausted:
		return "ARCHIVE_EXHAUSTED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateTargetReached, StateArchiveExhausted, StateFailed:
		return true
	}
	return false
}

// Outcome is the final word on a recovery run. Err is set only for
// FAILED; an exhausted archive is a reported condition, not an error,
// since the restored data is everything the archive could give.
type Outcome struct {
	State      State
	Backup     *catalog.BackupRecord // nil when selection never finished
	ReplayedTo wal.SegmentID         // last segment known applied
	Err        error
}

// Terminal reports whether the run ended. True for every outcome Run
// returns; callers holding an Outcome from elsewhere can check.
func (o *Outcome) Terminal() bool {
	return o.State.Terminal()
}

// Reached reports full success.
func (o *Outcome) Reached() bool {
	return o.State == StateTargetReached
}

// Archive is the slice of the segment store recovery reads.
type Archive interface {
	VerifyChain(lo, hi wal.SegmentID) (*wal.ChainReport, error)
	CoveringSegment(t time.Time) (wal.SegmentID, error)
}

// Options steer one recovery run.
type Options struct {
	// DataDir is where the cluster is rebuilt.
	DataDir string

	// Target is the point to recover to.
	Target Target

	// Force wipes a non-empty data directory instead of refusing.
	Force bool
}

// Orchestrator drives a full restore: snapshot selection, unpacking,
// replay configuration, and watching the engine roll forward.
type Orchestrator struct {
	cfg     *config.Config
	log     logger.Logger
	cat     catalog.Catalog
	store   Archive
	cluster engine.Cluster
}

func New(cfg *config.Config, log logger.Logger, cat catalog.Catalog, store Archive, cluster engine.Cluster) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		log:     log,
		cat:     cat,
		store:   store,
		cluster: cluster,
	}
}

// Run recovers a cluster into opts.DataDir and reports how far it got.
// The returned error mirrors Outcome.Err: nil for TARGET_REACHED and
// ARCHIVE_EXHAUSTED, set for FAILED.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Outcome, error) {
	op := o.log.StartOperation("Recovery")
	out := &Outcome{State: StateNotStarted}

	advance := func(s State) {
		out.State = s
		o.log.Info("Recovery phase", "phase", s.String())
	}
	fail := func(err error) (*Outcome, error) {
		err = fmt.Errorf("%s: %w", out.State, err)
		out.State = StateFailed
		out.Err = err
		op.Fail("recovery failed", "error", err)
		return out, err
	}

	advance(StateSelecting)
	rec, upper, err := o.selectBackup(ctx, opts)
	if err != nil {
		return fail(err)
	}
	out.Backup = rec
	op.Update("snapshot selected", "backup_id", rec.ID, "target", opts.Target.String(),
		"wal_range", fmt.Sprintf("[%s,%s]", rec.WALStart, upper))

	advance(StateRestoring)
	if err := o.restoreSnapshot(ctx, rec, opts.DataDir); err != nil {
		return fail(err)
	}
	op.Update("snapshot unpacked", "data_dir", opts.DataDir)

	advance(StateConfiguring)
	desc := NewDescriptor(o.cfg, opts.Target)
	if err := desc.Apply(opts.DataDir); err != nil {
		return fail(err)
	}

	advance(StateReplaying)
	if err := o.cluster.Start(ctx, opts.DataDir); err != nil {
		return fail(err)
	}
	res := o.watchReplay(ctx, opts.DataDir)
	out.ReplayedTo = res.replayedTo

	switch res.state {
	case StateTargetReached:
		out.State = StateTargetReached
		op.Complete("target reached", "backup_id", rec.ID, "replayed_to", out.ReplayedTo)
		return out, nil
	case StateArchiveExhausted:
		out.State = StateArchiveExhausted
		op.Complete("archive exhausted before target", "backup_id", rec.ID,
			"replayed_to", out.ReplayedTo)
		o.log.Warn("Replay consumed the whole archive without reaching the target",
			"replayed_to", out.ReplayedTo,
			"hint", "rerun with an earlier --time, or with latest to accept the archive's end")
		return out, nil
	default:
		return fail(res.err)
	}
}

// selectBackup resolves the target to a concrete snapshot and proves
// the restore can work before anything destructive happens.
func (o *Orchestrator) selectBackup(ctx context.Context, opts Options) (*catalog.BackupRecord, wal.SegmentID, error) {
	if err := opts.Target.Validate(); err != nil {
		return nil, 0, err
	}
	if opts.DataDir == "" {
		return nil, 0, errs.NewConfigError(errs.ErrCodeInvalidPath,
			"recovery needs a target data directory",
			"pass --data-dir")
	}

	var rec *catalog.BackupRecord
	var err error
	switch opts.Target.Kind {
	case TargetLatest:
		rec, err = o.cat.Latest(ctx)
	case TargetTimestamp:
		rec, err = o.cat.LatestBefore(ctx, opts.Target.Timestamp)
	case TargetNamed:
		rec, err = o.cat.Get(ctx, opts.Target.BackupID)
		if err == nil && rec.Status != catalog.StatusComplete {
			err = errs.BackupNotFound(opts.Target.BackupID).
				WithDetails(fmt.Sprintf("record is %s, not complete", rec.Status))
		}
	}
	if err != nil {
		return nil, 0, err
	}

	if err := o.checkTargetDir(opts.DataDir, opts.Force); err != nil {
		return nil, 0, err
	}

	// a timestamp past the snapshot's own span needs later segments too
	upper := rec.WALEnd
	if opts.Target.Kind == TargetTimestamp {
		cover, cerr := o.store.CoveringSegment(opts.Target.Timestamp)
		if cerr != nil {
			return nil, 0, fmt.Errorf("finding the segment covering %s: %w",
				opts.Target.Timestamp.Format(time.RFC3339), cerr)
		}
		if cover > upper {
			upper = cover
		}
	}
	report, err := o.store.VerifyChain(rec.WALStart, upper)
	if err != nil {
		return nil, 0, fmt.Errorf("verifying the archive chain: %w", err)
	}
	if cerr := report.Err(); cerr != nil {
		return nil, 0, cerr
	}

	if err := fs.MkdirAll(opts.DataDir, 0700); err != nil {
		return nil, 0, errs.NewConfigError(errs.ErrCodeInvalidPath,
			fmt.Sprintf("cannot create data directory %s: %v", opts.DataDir, err),
			"check the path and its permissions")
	}
	if err := fs.CheckWriteAccess(opts.DataDir); err != nil {
		return nil, 0, errs.NewConfigError(errs.ErrCodeInvalidPath,
			fmt.Sprintf("data directory %s is not writable: %v", opts.DataDir, err),
			"check the path and its permissions")
	}
	if err := o.checkHeadroom(rec, opts.DataDir); err != nil {
		return nil, 0, err
	}
	return rec, upper, nil
}

// checkTargetDir refuses to unpack over existing cluster state. Force
// wipes the directory so the restore starts from nothing either way.
func (o *Orchestrator) checkTargetDir(dataDir string, force bool) error {
	ok, err := fs.DirExists(dataDir)
	if err != nil {
		return fmt.Errorf("checking %s: %w", dataDir, err)
	}
	if !ok {
		return nil
	}
	empty, err := fs.IsEmpty(dataDir)
	if err != nil {
		return fmt.Errorf("checking %s: %w", dataDir, err)
	}
	if empty {
		return nil
	}
	if !force {
		return errs.TargetNotEmpty(dataDir)
	}
	o.log.Warn("Wiping non-empty data directory", "data_dir", dataDir)
	if err := fs.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("wiping %s: %w", dataDir, err)
	}
	return nil
}

// checkHeadroom sizes the unpacked tree from the stored size and a
// sampled compression ratio, and refuses a restore that cannot fit.
func (o *Orchestrator) checkHeadroom(rec *catalog.BackupRecord, dataDir string) error {
	if rec.SizeBytes <= 0 {
		return nil
	}
	ratio := 3.0
	if arch, err := snapshotArchives(rec.Path); err == nil {
		if r, rerr := compression.EstimateCompressionRatio(arch.base); rerr == nil {
			ratio = r
		}
	}
	estimated := uint64(float64(rec.SizeBytes) * ratio)
	return checks.EnsureCapacity(dataDir, estimated)
}

// archiveSet names the tar archives inside one snapshot directory.
type archiveSet struct {
	base string
	wal  string // empty for fetch-method snapshots, WAL is in base
}

// snapshotArchives locates the snapshot's archives. The base archive
// is required; anything else tar-shaped means the snapshot came from a
// cluster with extra tablespaces, which this restore cannot rebuild.
func snapshotArchives(snapDir string) (*archiveSet, error) {
	infos, err := fs.ReadDir(snapDir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", snapDir, err)
	}
	set := &archiveSet{}
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.Contains(name, ".tar") {
			continue
		}
		switch {
		case strings.HasPrefix(name, "base.tar"):
			set.base = filepath.Join(snapDir, name)
		case strings.HasPrefix(name, "pg_wal.tar"):
			set.wal = filepath.Join(snapDir, name)
		default:
			return nil, errs.NewStateError(errs.ErrCodeRestoreIncomplete,
				fmt.Sprintf("snapshot %s holds an unexpected archive %s", filepath.Base(snapDir), name),
				`Tablespace archives cannot be unpacked into a single data
directory.

To fix:
  1. Unpack the snapshot by hand: base.tar into the data directory,
     each numbered archive per its tablespace_map entry.`)
		}
	}
	if set.base == "" {
		return nil, errs.BackupNotFound(filepath.Base(snapDir)).
			WithDetails(fmt.Sprintf("no base archive under %s", snapDir))
	}
	return set, nil
}

// progressEvery is how many extracted files between progress lines.
const progressEvery = 500

// restoreSnapshot unpacks the snapshot into dataDir, base archive
// first, then the WAL bundle when the snapshot carries one. The stored
// digest is checked before anything is written.
func (o *Orchestrator) restoreSnapshot(ctx context.Context, rec *catalog.BackupRecord, dataDir string) error {
	arch, err := snapshotArchives(rec.Path)
	if err != nil {
		return err
	}
	if rec.Checksum != "" {
		actual, err := engine.HashBaseArchives(rec.Path)
		if err != nil {
			return fmt.Errorf("checksumming snapshot %s: %w", rec.ID, err)
		}
		if actual != rec.Checksum {
			return errs.NewIntegrityError(errs.ErrCodeChecksumFail,
				fmt.Sprintf("snapshot %s does not match its recorded digest", rec.ID)).
				WithDetails(fmt.Sprintf("recorded %s, stored files hash to %s", rec.Checksum, actual))
		}
	}

	o.log.Info("Unpacking snapshot", "backup_id", rec.ID, "base", filepath.Base(arch.base))
	files := 0
	progress := func(name string) {
		files++
		if files%progressEvery == 0 {
			o.log.Debug("Unpacking", "files", files, "current", name)
		}
	}

	if err := compression.ExtractTar(ctx, arch.base, dataDir, progress); err != nil {
		return o.abandonRestore(dataDir, fmt.Errorf("unpacking %s: %w", filepath.Base(arch.base), err))
	}
	if arch.wal != "" {
		walDir := filepath.Join(dataDir, "pg_wal")
		if err := compression.ExtractTar(ctx, arch.wal, walDir, progress); err != nil {
			return o.abandonRestore(dataDir, fmt.Errorf("unpacking %s: %w", filepath.Base(arch.wal), err))
		}
	}
	o.log.Info("Snapshot unpacked", "backup_id", rec.ID, "files", files, "data_dir", dataDir)
	return nil
}

// incompleteMarker flags a data directory whose restore died halfway
// and could not be cleaned.
const incompleteMarker = "WALVAULT_INCOMPLETE"

// abandonRestore removes a half-written data directory. When even the
// removal fails, a marker file makes sure nothing mistakes the tree
// for a valid cluster.
func (o *Orchestrator) abandonRestore(dataDir string, cause error) error {
	if rmErr := fs.RemoveAll(dataDir); rmErr != nil {
		o.log.Error("Could not remove partial restore", "data_dir", dataDir, "error", rmErr)
		marker := filepath.Join(dataDir, incompleteMarker)
		if werr := fs.WriteFile(marker, []byte(cause.Error()+"\n"), 0600); werr != nil {
			o.log.Error("Could not write incomplete marker", "path", marker, "error", werr)
		}
		return errs.NewStateError(errs.ErrCodeRestoreIncomplete,
			fmt.Sprintf("restore into %s failed and the partial tree could not be removed", dataDir),
			`To fix:
  1. Remove the directory by hand before the next attempt.

  2. The WALVAULT_INCOMPLETE marker inside names the original failure.`).
			WithCause(cause)
	}
	return cause
}

// Consecutive failed status probes before the engine is declared gone.
// A single refused connection proves nothing, the probe window has to
// outlast restarts within replay.
const exitProbeFailures = 5

var (
	errStillReplaying = errors.New("still replaying")
	errEngineExited   = errors.New("engine exited")
	errReplayPaused   = errors.New("replay paused at target")
)

type replayResult struct {
	state      State
	replayedTo wal.SegmentID
	err        error
}

// watchReplay polls the engine until replay ends, one way or another.
// The engine promoting means the target was reached; the engine dying
// means either a deliberate stop at the target, an exhausted archive,
// or a real failure, and only its log tail tells those apart.
func (o *Orchestrator) watchReplay(ctx context.Context, dataDir string) replayResult {
	replayCtx := ctx
	if o.cfg.ReplayTimeout > 0 {
		var cancel context.CancelFunc
		replayCtx, cancel = context.WithTimeout(ctx, o.cfg.ReplayTimeout)
		defer cancel()
	}

	interval := o.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 0

	var last *engine.ReplayStatus
	var lastProbeErr error
	failures := 0

	poll := func() error {
		st, err := o.cluster.ReplayStatus(replayCtx)
		if err != nil {
			if replayCtx.Err() != nil {
				return backoff.Permanent(replayCtx.Err())
			}
			lastProbeErr = err
			failures++
			o.log.Debug("Status probe failed", "attempt", failures, "error", err)
			if failures >= exitProbeFailures {
				return backoff.Permanent(errEngineExited)
			}
			return errStillReplaying
		}
		failures = 0
		last = st
		if !st.InRecovery {
			return nil
		}
		if st.Paused {
			return backoff.Permanent(errReplayPaused)
		}
		o.log.Debug("Replaying", "lsn", st.ReplayLSN)
		return errStillReplaying
	}

	retryErr := backoff.Retry(poll, backoff.WithContext(bo, replayCtx))

	res := replayResult{replayedTo: replayedSegment(last)}
	switch {
	case retryErr == nil:
		res.state = StateTargetReached
	case errors.Is(retryErr, errReplayPaused):
		res.state = StateTargetReached
		o.log.Info("Replay paused at the target; resume or promote by hand",
			"data_dir", dataDir)
	case errors.Is(retryErr, errEngineExited):
		res.state, res.err = classifyEngineExit(logTail(dataDir), lastProbeErr)
	case replayCtx.Err() != nil:
		// the engine is still replaying, leave nothing running unattended
		if stopErr := o.cluster.Stop(context.Background(), dataDir); stopErr != nil {
			o.log.Warn("Could not stop the engine after abandoning replay", "error", stopErr)
		}
		res.state = StateFailed
		if ctx.Err() != nil {
			res.err = ctx.Err()
		} else {
			res.err = errs.Timeout("Replay", o.cfg.ReplayTimeout)
		}
	default:
		res.state = StateFailed
		res.err = retryErr
	}
	return res
}

// exhaustedMarker is what the engine writes when the archive ran out
// before the configured target.
const exhaustedMarker = "recovery ended before configured recovery target"

// reachedMarker is what the engine writes on stopping at a target, the
// shutdown target action ends with a dead server and this in the log.
const reachedMarker = "recovery stopping"

var segmentToken = regexp.MustCompile(`\b[0-9A-F]{16}\b`)

// classifyEngineExit reads the engine's parting words from the log
// tail and maps them onto a terminal state.
func classifyEngineExit(tail string, probeErr error) (State, error) {
	if strings.Contains(tail, exhaustedMarker) {
		return StateArchiveExhausted, nil
	}
	if strings.Contains(tail, reachedMarker) {
		return StateTargetReached, nil
	}
	detail := fmt.Sprintf("status probes failed: %v", probeErr)
	if seg := segmentToken.FindString(tail); seg != "" {
		detail = fmt.Sprintf("last segment named in the log: %s; %s", seg, detail)
	}
	if tail != "" {
		detail += "\nlog tail:\n" + tail
	}
	return StateFailed, errs.EngineDown("replay", detail)
}

// tailLines bounds how much of startup.log ends up in error details.
const tailLines = 20

func logTail(dataDir string) string {
	data, err := fs.ReadFile(filepath.Join(dataDir, "startup.log"))
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return strings.Join(lines, "\n")
}

// replayedSegment maps the last observed replay LSN onto a segment id.
func replayedSegment(st *engine.ReplayStatus) wal.SegmentID {
	if st == nil || st.ReplayLSN == "" {
		return wal.SegmentNone
	}
	id, err := wal.SegmentForLSN(st.ReplayLSN)
	if err != nil {
		return wal.SegmentNone
	}
	return id
}
