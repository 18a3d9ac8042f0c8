// Package catalog provides the backup ledger with SQLite storage
package catalog

import (
	"context"
	"fmt"
	"time"

	"walvault/internal/wal"
)

// Status represents the state of a backup record. The only legal
// edges are pending→running and running→{complete, failed}; every
// write that moves a record guards the expected source state in its
// WHERE clause, so an illegal edge surfaces as InvalidTransition.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// ParseStatus converts a user-supplied string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusComplete, StatusFailed:
		return Status(s), nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("unknown status: %q", s)
	}
}

// BackupRecord is one row of the ledger.
type BackupRecord struct {
	// ID is the creation timestamp, millisecond precision, so lexical
	// order is chronological order
	ID string `json:"id"`

	// Path is the absolute snapshot directory
	Path string `json:"path"`

	// WALStart is the archive head observed when the backup began
	WALStart wal.SegmentID `json:"wal_start"`

	// WALEnd is the archive head observed at completion, zero while running
	WALEnd wal.SegmentID `json:"wal_end"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// WALMethod records how WAL for this backup was collected (fetch or stream)
	WALMethod string `json:"wal_method"`

	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum,omitempty"`

	// Retained marks the record as protected from pruning; only meaningful
	// for complete backups
	Retained bool `json:"retained"`

	// Reason holds the failure reason for failed records
	Reason string `json:"reason,omitempty"`
}

// Duration returns how long the backup ran, zero while still running.
func (r *BackupRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.CreatedAt)
}

// recordIDFormat keeps same-second runs sortable.
const recordIDFormat = "20060102T150405.000"

// NewRecordID derives a record id from a creation time.
func NewRecordID(t time.Time) string {
	return t.UTC().Format(recordIDFormat)
}

// ParseRecordID recovers the creation time embedded in a record id.
func ParseRecordID(id string) (time.Time, error) {
	t, err := time.ParseInLocation(recordIDFormat, id, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a record id: %q", id)
	}
	return t, nil
}

// Filter narrows List results.
type Filter struct {
	// Status filters to one status; empty means all
	Status Status

	// RetainedOnly keeps only retained records
	RetainedOnly bool
}

// Stats summarizes the ledger for status output and metrics.
type Stats struct {
	Total          int64      `json:"total"`
	Complete       int64      `json:"complete"`
	Failed         int64      `json:"failed"`
	Running        int64      `json:"running"`
	Pending        int64      `json:"pending"`
	Retained       int64      `json:"retained"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	OldestComplete *time.Time `json:"oldest_complete,omitempty"`
	NewestComplete *time.Time `json:"newest_complete,omitempty"`
}

// Catalog is the ledger of base backups.
type Catalog interface {
	// Create inserts a pending record. The caller picks the id (NewRecordID)
	// so the backup path can embed it; the creation time is the id's time.
	// wal_start is fixed here, before the snapshot tool runs, so the WAL
	// floor can never prune a segment a backup in flight still needs.
	Create(ctx context.Context, id, path string, walStart wal.SegmentID, method string) (*BackupRecord, error)

	// Start moves a pending record to running, right before the
	// snapshot tool is launched
	Start(ctx context.Context, id string) error

	// Complete moves a running record to complete with its final bounds
	Complete(ctx context.Context, id string, walEnd wal.SegmentID, sizeBytes int64, checksum string) error

	// Fail moves a running record to failed, keeping the reason
	Fail(ctx context.Context, id string, reason string) error

	// Get returns one record, BackupNotFound when absent
	Get(ctx context.Context, id string) (*BackupRecord, error)

	// List returns matching records in id order
	List(ctx context.Context, f Filter) ([]*BackupRecord, error)

	// Latest returns the newest complete record, BackupNotFound when none
	Latest(ctx context.Context) (*BackupRecord, error)

	// LatestBefore returns the newest complete record created at or before t
	LatestBefore(ctx context.Context, t time.Time) (*BackupRecord, error)

	// SetRetained flips the retention mark
	SetRetained(ctx context.Context, id string, retained bool) error

	// Remove deletes a record; retained records are refused
	Remove(ctx context.Context, id string) error

	// MarkInterrupted fails every running record. Called once the writer
	// lock is held, when any running row is a corpse from a killed run.
	MarkInterrupted(ctx context.Context, reason string) (int, error)

	// MinRetainedWALStart returns the WAL pruning floor; ok is false when
	// no retained complete records exist
	MinRetainedWALStart(ctx context.Context) (wal.SegmentID, bool, error)

	// Stats summarizes the ledger
	Stats(ctx context.Context) (*Stats, error)

	// Vacuum reclaims space after heavy pruning
	Vacuum(ctx context.Context) error

	Close() error
}

// FormatDuration formats duration as human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) - mins*60
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) - hours*60
	return fmt.Sprintf("%dh %dm", hours, mins)
}
