package cloud

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"walvault/internal/catalog"
	"walvault/internal/fs"
	"walvault/internal/logger"
)

// Syncer mirrors finished snapshots to a Backend. The remote layout
// matches the vault: one directory per backup id holding that
// snapshot's archives.
type Syncer struct {
	log      logger.Logger
	backend  Backend
	progress func(name string, total int64) ProgressFunc
}

func NewSyncer(log logger.Logger, backend Backend) *Syncer {
	return &Syncer{log: log, backend: backend}
}

// SetProgress installs a per-file progress sink, used by the CLI to
// draw upload bars.
func (s *Syncer) SetProgress(f func(name string, total int64) ProgressFunc) {
	s.progress = f
}

// SyncSnapshot uploads every archive of one snapshot that the remote
// does not already hold at the right size, which makes an interrupted
// sync cheap to rerun. One failed file does not stop the rest; the
// combined error names them all.
func (s *Syncer) SyncSnapshot(ctx context.Context, rec *catalog.BackupRecord) error {
	entries, err := fs.ReadDir(rec.Path)
	if err != nil {
		return fmt.Errorf("listing snapshot %s: %w", rec.ID, err)
	}

	s.log.Info("Syncing snapshot off-site", "id", rec.ID, "backend", s.backend.Name())

	var uploaded, skipped int
	var merr *multierror.Error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			merr = multierror.Append(merr, err)
			break
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		remote := path.Join(rec.ID, name)

		size, exists, err := s.backend.Stat(ctx, remote)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if exists && size == entry.Size() {
			s.log.Debug("Already uploaded, skipping", "file", name)
			skipped++
			continue
		}

		var progress ProgressFunc
		if s.progress != nil {
			progress = s.progress(name, entry.Size())
		}
		if err := s.backend.Put(ctx, filepath.Join(rec.Path, name), remote, progress); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", name, err))
			continue
		}
		uploaded++
	}

	if err := merr.ErrorOrNil(); err != nil {
		return err
	}
	s.log.Info("Snapshot synced", "id", rec.ID, "uploaded", uploaded, "skipped", skipped)
	return nil
}
