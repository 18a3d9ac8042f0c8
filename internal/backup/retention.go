package backup

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"walvault/internal/catalog"
)

// RetentionOutcome reports one retention pass.
type RetentionOutcome struct {
	Retained     []string
	Pruned       []string
	WALRemoved   int
	FloorSkipped bool
}

// applyRetention keeps the newest keep complete snapshots and prunes
// the rest, then drops archived WAL below the retained floor.
//
// Marks are written before anything is removed, so a crash mid-pass
// leaves either an extra unretained row (next pass prunes it) or an
// unretained row with missing files (Prune removes the row cleanly).
// Per-snapshot errors are collected, not fatal: one stubborn directory
// must not stop the WAL floor from advancing.
func (o *Orchestrator) applyRetention(ctx context.Context, keep int) (*RetentionOutcome, error) {
	outcome := &RetentionOutcome{}
	var merr *multierror.Error

	complete, err := o.cat.List(ctx, catalog.Filter{Status: catalog.StatusComplete})
	if err != nil {
		return outcome, err
	}

	// List is id-ascending; the newest keep live at the tail
	cut := len(complete) - keep
	if cut < 0 {
		cut = 0
	}
	for i := len(complete) - 1; i >= cut; i-- {
		id := complete[i].ID
		if err := o.cat.SetRetained(ctx, id, true); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		outcome.Retained = append(outcome.Retained, id)
	}
	for i := 0; i < cut; i++ {
		if err := o.cat.SetRetained(ctx, complete[i].ID, false); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	// prune oldest-first so a partial pass removes the least useful
	for i := 0; i < cut; i++ {
		id := complete[i].ID
		if err := o.Prune(ctx, id); err != nil {
			o.log.Warn("Could not prune snapshot", "backup_id", id, "error", err)
			merr = multierror.Append(merr, err)
			continue
		}
		outcome.Pruned = append(outcome.Pruned, id)
	}

	floor, ok, err := o.cat.MinRetainedWALStart(ctx)
	if err != nil {
		merr = multierror.Append(merr, err)
		return outcome, merr.ErrorOrNil()
	}
	if !ok {
		// no retained rows: never empty the archive on a bookkeeping gap
		outcome.FloorSkipped = true
		o.log.Warn("No retained snapshots, skipping WAL pruning")
		return outcome, merr.ErrorOrNil()
	}

	removed, err := o.store.PruneBelow(ctx, floor)
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	outcome.WALRemoved = removed
	if removed > 0 {
		o.log.Info("Pruned archived WAL", "below", floor.String(), "segments", removed)
	}

	return outcome, merr.ErrorOrNil()
}
