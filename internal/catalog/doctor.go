// Package catalog - catalog and disk reconciliation
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"walvault/internal/fs"
)

// staleRunningAge is how old a running record must be before the doctor
// flags it. Fresh running records usually mean a backup is in progress.
const staleRunningAge = 24 * time.Hour

// stalePendingAge is much shorter: a record is pending only between
// creation and the snapshot tool launch, so any pending row this old
// is a leftover from a process that died in that window.
const stalePendingAge = time.Hour

// DoctorReport summarizes divergence between the ledger and the disk.
type DoctorReport struct {
	Checked      int      `json:"checked"`
	Missing      []string `json:"missing,omitempty"`       // record ids whose backup directory is gone
	Orphans      []string `json:"orphans,omitempty"`       // directories on disk with no record
	StaleRunning []string `json:"stale_running,omitempty"` // running records old enough to be crash leftovers
	StalePending []string `json:"stale_pending,omitempty"` // pending records that never started
	Duration     float64  `json:"duration_seconds"`
}

// Clean reports whether the ledger and the disk agree.
func (r *DoctorReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Orphans) == 0 &&
		len(r.StaleRunning) == 0 && len(r.StalePending) == 0
}

// Doctor cross-checks every record against the destination directory.
// It never repairs anything; callers decide what to do with the report.
func (c *SQLiteCatalog) Doctor(ctx context.Context, destRoot string) (*DoctorReport, error) {
	start := time.Now()
	report := &DoctorReport{}

	records, err := c.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(records))
	now := time.Now().UTC()
	for _, rec := range records {
		report.Checked++
		known[rec.ID] = true

		switch rec.Status {
		case StatusComplete:
			if _, err := fs.Stat(rec.Path); os.IsNotExist(err) {
				report.Missing = append(report.Missing, rec.ID)
			}
		case StatusRunning:
			if now.Sub(rec.CreatedAt) > staleRunningAge {
				report.StaleRunning = append(report.StaleRunning, rec.ID)
			}
		case StatusPending:
			if now.Sub(rec.CreatedAt) > stalePendingAge {
				report.StalePending = append(report.StalePending, rec.ID)
			}
		}
	}

	// Only directories named like record ids count as orphans. Anything
	// else in the destination belongs to the operator, not to us.
	entries, err := fs.ReadDir(destRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := ParseRecordID(entry.Name()); err != nil {
			continue
		}
		if !known[entry.Name()] {
			report.Orphans = append(report.Orphans, filepath.Join(destRoot, entry.Name()))
		}
	}

	report.Duration = time.Since(start).Seconds()
	return report, nil
}
