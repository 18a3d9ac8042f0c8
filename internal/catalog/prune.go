package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"walvault/internal/fs"
)

// PruneResult contains the results of a dead-record prune.
type PruneResult struct {
	Checked    int      // dead records matching the cutoff
	Removed    int      // records deleted from the ledger
	SpaceFreed int64    // bytes of leftover backup directories removed
	Duration   float64  // operation duration in seconds
	Details    []string // one line per removed record
}

// PruneFailed removes dead records older than the cutoff, together with
// any backup directory the run left behind. That covers failed runs and
// pending records whose process died before the snapshot tool launched.
// Interrupted runs keep their partial directory on disk until this
// sweeps it up.
func (c *SQLiteCatalog) PruneFailed(ctx context.Context, olderThan time.Time, dryRun bool) (*PruneResult, error) {
	start := time.Now()
	result := &PruneResult{}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, backup_path, status, reason FROM backups
		WHERE status IN (?, ?) AND retained = 0 AND created_at < ?
		ORDER BY id ASC
	`, string(StatusFailed), string(StatusPending), olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query prune candidates: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id     string
		path   string
		status string
		reason string
	}
	var candidates []candidate
	for rows.Next() {
		var cand candidate
		if err := rows.Scan(&cand.id, &cand.path, &cand.status, &cand.reason); err != nil {
			return nil, fmt.Errorf("failed to scan prune candidate: %w", err)
		}
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.Checked = len(candidates)
	for _, cand := range candidates {
		size := leftoverSize(cand.path)
		result.SpaceFreed += size
		reason := cand.reason
		if cand.status == string(StatusPending) {
			reason = "never started"
		}
		result.Details = append(result.Details,
			fmt.Sprintf("%s - %s (%s)", cand.id, cand.path, reason))
		if dryRun {
			continue
		}
		if err := fs.RemoveAll(cand.path); err != nil && !os.IsNotExist(err) {
			return result, fmt.Errorf("failed to remove leftover directory %s: %w", cand.path, err)
		}
	}

	if !dryRun && len(candidates) > 0 {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return result, fmt.Errorf("failed to begin prune transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, "DELETE FROM backups WHERE id = ?")
		if err != nil {
			return result, fmt.Errorf("failed to prepare prune statement: %w", err)
		}
		defer stmt.Close()

		for _, cand := range candidates {
			if _, err := stmt.ExecContext(ctx, cand.id); err != nil {
				return result, fmt.Errorf("failed to prune record %s: %w", cand.id, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return result, fmt.Errorf("failed to commit prune: %w", err)
		}
		result.Removed = len(candidates)
	}

	result.Duration = time.Since(start).Seconds()
	return result, nil
}

func leftoverSize(path string) int64 {
	if ok, err := fs.DirExists(path); err != nil || !ok {
		return 0
	}
	size, err := fs.TreeSize(path)
	if err != nil {
		return 0
	}
	return size
}
