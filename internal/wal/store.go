package wal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"walvault/internal/compression"
	errs "walvault/internal/errors"
	"walvault/internal/fs"
	"walvault/internal/lockfile"
	"walvault/internal/logger"
)

// manifestLockName guards manifest read-modify-write across processes:
// archive_command runs one short-lived process per segment, concurrently
// with pruning from a backup run.
const manifestLockName = ".manifest.lock"

// maxChainSpan bounds VerifyChain walks. A span wider than this means a
// corrupt range, not a real archive.
const maxChainSpan = 1 << 22

// Store is the append-only segment archive. Segments land via tmp+rename
// and are recorded in the manifest; the manifest decides what exists.
type Store struct {
	dir   string
	algo  compression.Algorithm
	level int
	log   logger.Logger
}

// NewStore creates a store over an archive directory. The directory is
// created on first archive.
func NewStore(dir string, algo compression.Algorithm, level int, log logger.Logger) *Store {
	return &Store{
		dir:   dir,
		algo:  algo,
		level: level,
		log:   log,
	}
}

// Dir returns the archive directory path.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) lockPath() string {
	return filepath.Join(s.dir, manifestLockName)
}

// Archive stores one segment. Re-archiving an id with identical content is
// a silent no-op; re-archiving with different content is rejected without
// touching the stored copy. The payload checksum is taken over the
// uncompressed bytes, so idempotence holds across compression settings.
func (s *Store) Archive(ctx context.Context, id SegmentID, r io.Reader) error {
	if id == SegmentNone {
		return fmt.Errorf("segment id zero is reserved")
	}

	if err := fs.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	lock, err := lockfile.Acquire(ctx, s.lockPath())
	if err != nil {
		return fmt.Errorf("lock archive manifest: %w", err)
	}
	defer lock.Release()

	m, err := loadManifest(s.dir)
	if err != nil {
		return err
	}

	// Duplicate delivery only needs the hash, not another copy on disk.
	if existing, ok := m.find(id); ok {
		h := sha256.New()
		if _, err := io.Copy(h, r); err != nil {
			return fmt.Errorf("read segment payload: %w", err)
		}
		sum := hex.EncodeToString(h.Sum(nil))
		if sum == existing.SHA256 {
			s.log.Debug("Segment already archived", "segment", id.String())
			return nil
		}
		return errs.SegmentMismatch(id.String(), existing.SHA256, sum)
	}

	sum, size, tmpPath, err := s.spill(r)
	if err != nil {
		return err
	}

	final := filepath.Join(s.dir, SegmentFileName(id, s.algo))
	if err := fs.Rename(tmpPath, final); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("commit segment %s: %w", id, err)
	}

	m.add(Entry{
		Segment:     id,
		ArrivalTime: time.Now().UTC(),
		SizeBytes:   size,
		SHA256:      sum,
		Compression: string(s.algo),
	})
	if err := m.save(s.dir); err != nil {
		return err
	}

	s.log.Info("Segment archived", "segment", id.String(), "size", size)
	return nil
}

// spill streams the payload into a temp file in the archive directory,
// compressing per store settings and hashing the raw bytes on the way.
// Returns the payload checksum, the stored size, and the temp path.
func (s *Store) spill(r io.Reader) (sum string, stored int64, tmpPath string, err error) {
	tmpPath = filepath.Join(s.dir, fmt.Sprintf(".incoming-%d.tmp", time.Now().UnixNano()))

	f, err := fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp segment: %w", err)
	}

	fail := func(e error) (string, int64, string, error) {
		_ = f.Close()
		_ = fs.Remove(tmpPath)
		return "", 0, "", e
	}

	comp, err := compression.NewCompressor(f, s.algo, s.level)
	if err != nil {
		return fail(err)
	}

	h := sha256.New()
	if _, err := io.Copy(comp, io.TeeReader(r, h)); err != nil {
		_ = comp.Close()
		return fail(fmt.Errorf("write segment payload: %w", err))
	}
	if err := comp.Close(); err != nil {
		return fail(fmt.Errorf("flush segment payload: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("sync segment: %w", err))
	}

	info, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat segment: %w", err))
	}
	stored = info.Size()

	if err := f.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return "", 0, "", fmt.Errorf("close segment: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), stored, tmpPath, nil
}

// Head returns the highest archived segment id, SegmentNone for an empty
// archive. The manifest is re-read on every call; the head is never cached.
func (s *Store) Head() (SegmentID, error) {
	m, err := loadManifest(s.dir)
	if err != nil {
		return SegmentNone, err
	}
	return m.head(), nil
}

// Has reports whether a segment is archived.
func (s *Store) Has(id SegmentID) (bool, error) {
	m, err := loadManifest(s.dir)
	if err != nil {
		return false, err
	}
	_, ok := m.find(id)
	return ok, nil
}

// List returns all manifest entries in id order.
func (s *Store) List() ([]Entry, error) {
	m, err := loadManifest(s.dir)
	if err != nil {
		return nil, err
	}
	m.sortByID()
	return m.Segments, nil
}

// Open returns a reader over the uncompressed payload of a segment.
func (s *Store) Open(id SegmentID) (io.ReadCloser, error) {
	m, err := loadManifest(s.dir)
	if err != nil {
		return nil, err
	}
	e, ok := m.find(id)
	if !ok {
		return nil, errs.SegmentNotFound(id.String())
	}

	f, err := fs.Open(filepath.Join(s.dir, e.FileName()))
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", id, err)
	}

	decomp, err := compression.NewDecompressor(f, e.FileName())
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &segmentReader{Reader: decomp, closers: []io.Closer{decomp, f}}, nil
}

type segmentReader struct {
	io.Reader
	closers []io.Closer
}

func (r *segmentReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ChainReport describes the archive coverage of a segment range.
type ChainReport struct {
	Start   SegmentID
	End     SegmentID
	Missing []SegmentID
}

// Complete reports whether every segment in the range is archived.
func (r *ChainReport) Complete() bool {
	return len(r.Missing) == 0
}

// Err returns the typed chain error, nil when the chain is complete.
func (r *ChainReport) Err() error {
	if r.Complete() {
		return nil
	}
	missing := make([]string, len(r.Missing))
	for i, id := range r.Missing {
		missing[i] = id.String()
	}
	return errs.ChainBroken(r.Start.String(), r.End.String(), missing)
}

// VerifyChain checks that every segment in [lo, hi] is archived. Zero
// bounds mean no requirement and verify trivially.
func (s *Store) VerifyChain(lo, hi SegmentID) (*ChainReport, error) {
	report := &ChainReport{Start: lo, End: hi}
	if lo == SegmentNone || hi < lo {
		return report, nil
	}
	if uint64(hi-lo) > maxChainSpan {
		return nil, fmt.Errorf("segment range %s..%s is implausibly wide", lo, hi)
	}

	m, err := loadManifest(s.dir)
	if err != nil {
		return nil, err
	}

	have := make(map[SegmentID]bool, len(m.Segments))
	for _, e := range m.Segments {
		have[e.Segment] = true
	}
	for id := lo; id <= hi; id++ {
		if !have[id] {
			report.Missing = append(report.Missing, id)
		}
	}
	return report, nil
}

// CoveringSegment returns the newest segment that had arrived by t,
// SegmentNone when no segment is that old. This maps a recovery target
// time onto the segment range that must replay to reach it.
func (s *Store) CoveringSegment(t time.Time) (SegmentID, error) {
	m, err := loadManifest(s.dir)
	if err != nil {
		return SegmentNone, err
	}

	best := SegmentNone
	for _, e := range m.Segments {
		if !e.ArrivalTime.After(t) && e.Segment > best {
			best = e.Segment
		}
	}
	return best, nil
}

// PruneBelow removes every segment with id strictly below floor. Removal
// is resumable: per-file failures are collected and pruning continues, a
// missing file counts as already pruned, and the manifest keeps entries
// whose files could not be removed so the next run retries them.
func (s *Store) PruneBelow(ctx context.Context, floor SegmentID) (int, error) {
	lock, err := lockfile.Acquire(ctx, s.lockPath())
	if err != nil {
		return 0, fmt.Errorf("lock archive manifest: %w", err)
	}
	defer lock.Release()

	m, err := loadManifest(s.dir)
	if err != nil {
		return 0, err
	}

	var merr *multierror.Error
	var kept []Entry
	removed := 0
	canceled := false
	for _, e := range m.Segments {
		if e.Segment >= floor || canceled {
			kept = append(kept, e)
			continue
		}
		if ctx.Err() != nil {
			canceled = true
			kept = append(kept, e)
			continue
		}
		path := filepath.Join(s.dir, e.FileName())
		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			merr = multierror.Append(merr, fmt.Errorf("remove %s: %w", e.FileName(), err))
			kept = append(kept, e)
			continue
		}
		removed++
	}
	if canceled {
		merr = multierror.Append(merr, ctx.Err())
	}

	if removed > 0 {
		m.Segments = kept
		if err := m.save(s.dir); err != nil {
			merr = multierror.Append(merr, err)
		}
		s.log.Info("WAL pruned", "removed", removed, "floor", floor.String())
	}

	return removed, merr.ErrorOrNil()
}
