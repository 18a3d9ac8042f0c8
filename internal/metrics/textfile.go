// Package metrics renders catalog and archive state in Prometheus text format
package metrics

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"walvault/internal/catalog"
	errs "walvault/internal/errors"
	"walvault/internal/fs"
	"walvault/internal/logger"
	"walvault/internal/wal"
)

// Archive is the slice of the segment store the textfile reports on.
type Archive interface {
	Head() (wal.SegmentID, error)
	List() ([]wal.Entry, error)
}

// Writer derives metrics from the catalog and archive on each write.
// Nothing is recorded during operations; the ledger already holds the
// history, so the textfile is just a projection of it.
type Writer struct {
	log      logger.Logger
	cat      catalog.Catalog
	store    Archive
	instance string
	version  string
}

// NewWriter creates a Writer for the given instance label.
func NewWriter(log logger.Logger, cat catalog.Catalog, store Archive, instance string) *Writer {
	return &Writer{
		log:      log,
		cat:      cat,
		store:    store,
		instance: instance,
		version:  "unknown",
	}
}

// SetVersion sets the version reported by the build_info metric.
func (w *Writer) SetVersion(version string) {
	if version != "" {
		w.version = version
	}
}

// report is one consistent view of everything the textfile exposes.
type report struct {
	stats     *catalog.Stats
	latest    *catalog.BackupRecord
	head      wal.SegmentID
	entries   []wal.Entry
	archiveOK bool
}

// WriteTextfile writes the metrics to a textfile-collector file. The write
// goes through a temp sibling so the node exporter never scrapes a torn file.
func (w *Writer) WriteTextfile(ctx context.Context, path string) error {
	rep, err := w.collect(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect metrics: %w", err)
	}
	output := w.format(rep, time.Now())

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create textfile directory: %w", err)
	}
	if err := fs.WriteFileAtomic(path, []byte(output), 0644); err != nil {
		return fmt.Errorf("failed to write textfile: %w", err)
	}

	w.log.Debug("Wrote metrics textfile", "path", path, "bytes", len(output))
	return nil
}

// Render returns the exposition text without touching the filesystem.
func (w *Writer) Render(ctx context.Context) (string, error) {
	rep, err := w.collect(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to collect metrics: %w", err)
	}
	return w.format(rep, time.Now()), nil
}

// collect gathers one view of the catalog and the archive. A missing latest
// backup is normal on a fresh catalog; an unreadable archive only drops the
// archive section, the catalog numbers still go out.
func (w *Writer) collect(ctx context.Context) (*report, error) {
	stats, err := w.cat.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	rep := &report{stats: stats}

	latest, err := w.cat.Latest(ctx)
	if err == nil {
		rep.latest = latest
	} else if errs.GetCode(err) != errs.ErrCodeBackupNotFound {
		return nil, fmt.Errorf("latest backup: %w", err)
	}

	head, err := w.store.Head()
	if err != nil {
		w.log.Warn("Archive unreadable, omitting archive metrics", "error", err)
		return rep, nil
	}
	entries, err := w.store.List()
	if err != nil {
		w.log.Warn("Archive unreadable, omitting archive metrics", "error", err)
		return rep, nil
	}
	rep.head = head
	rep.entries = entries
	rep.archiveOK = true
	return rep, nil
}

// format renders the report in Prometheus exposition format
func (w *Writer) format(rep *report, now time.Time) string {
	var b strings.Builder

	b.WriteString("# walvault Prometheus metrics\n")
	b.WriteString(fmt.Sprintf("# Generated at: %s\n", now.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("# Instance: %s\n", w.instance))
	b.WriteString("\n")

	b.WriteString("# HELP walvault_build_info Build information for the walvault exporter\n")
	b.WriteString("# TYPE walvault_build_info gauge\n")
	b.WriteString(fmt.Sprintf("walvault_build_info{server=%q,version=%q} 1\n",
		w.instance, w.version))
	b.WriteString("\n")

	b.WriteString("# HELP walvault_backup_records Catalog records by status\n")
	b.WriteString("# TYPE walvault_backup_records gauge\n")
	b.WriteString(fmt.Sprintf("walvault_backup_records{server=%q,status=\"complete\"} %d\n",
		w.instance, rep.stats.Complete))
	b.WriteString(fmt.Sprintf("walvault_backup_records{server=%q,status=\"failed\"} %d\n",
		w.instance, rep.stats.Failed))
	b.WriteString(fmt.Sprintf("walvault_backup_records{server=%q,status=\"running\"} %d\n",
		w.instance, rep.stats.Running))
	b.WriteString(fmt.Sprintf("walvault_backup_records{server=%q,status=\"pending\"} %d\n",
		w.instance, rep.stats.Pending))
	b.WriteString("\n")

	b.WriteString("# HELP walvault_backup_retained Complete snapshots protected from pruning\n")
	b.WriteString("# TYPE walvault_backup_retained gauge\n")
	b.WriteString(fmt.Sprintf("walvault_backup_retained{server=%q} %d\n",
		w.instance, rep.stats.Retained))
	b.WriteString("\n")

	b.WriteString("# HELP walvault_backup_size_bytes_total Combined size of complete snapshots\n")
	b.WriteString("# TYPE walvault_backup_size_bytes_total gauge\n")
	b.WriteString(fmt.Sprintf("walvault_backup_size_bytes_total{server=%q} %d\n",
		w.instance, rep.stats.TotalSizeBytes))
	b.WriteString("\n")

	if rep.latest != nil {
		completed := rep.latest.CreatedAt
		if rep.latest.CompletedAt != nil {
			completed = *rep.latest.CompletedAt
		}

		b.WriteString("# HELP walvault_last_backup_timestamp Unix time the newest snapshot completed\n")
		b.WriteString("# TYPE walvault_last_backup_timestamp gauge\n")
		b.WriteString(fmt.Sprintf("walvault_last_backup_timestamp{server=%q} %d\n",
			w.instance, completed.Unix()))
		b.WriteString("\n")

		b.WriteString("# HELP walvault_last_backup_size_bytes Size of the newest complete snapshot\n")
		b.WriteString("# TYPE walvault_last_backup_size_bytes gauge\n")
		b.WriteString(fmt.Sprintf("walvault_last_backup_size_bytes{server=%q} %d\n",
			w.instance, rep.latest.SizeBytes))
		b.WriteString("\n")

		b.WriteString("# HELP walvault_last_backup_wal_end Archive head when the newest snapshot completed\n")
		b.WriteString("# TYPE walvault_last_backup_wal_end gauge\n")
		b.WriteString(fmt.Sprintf("walvault_last_backup_wal_end{server=%q} %d\n",
			w.instance, uint64(rep.latest.WALEnd)))
		b.WriteString("\n")

		b.WriteString("# HELP walvault_rpo_seconds Seconds since the newest snapshot completed\n")
		b.WriteString("# TYPE walvault_rpo_seconds gauge\n")
		b.WriteString(fmt.Sprintf("walvault_rpo_seconds{server=%q} %.0f\n",
			w.instance, now.Sub(completed).Seconds()))
		b.WriteString("\n")
	}

	if rep.archiveOK {
		b.WriteString("# HELP walvault_archive_head_segment Highest contiguous archived segment\n")
		b.WriteString("# TYPE walvault_archive_head_segment gauge\n")
		b.WriteString(fmt.Sprintf("walvault_archive_head_segment{server=%q} %d\n",
			w.instance, uint64(rep.head)))
		b.WriteString("\n")

		var archiveBytes int64
		var newest time.Time
		for _, e := range rep.entries {
			archiveBytes += e.SizeBytes
			if e.ArrivalTime.After(newest) {
				newest = e.ArrivalTime
			}
		}

		b.WriteString("# HELP walvault_archive_segments Archived segment count\n")
		b.WriteString("# TYPE walvault_archive_segments gauge\n")
		b.WriteString(fmt.Sprintf("walvault_archive_segments{server=%q} %d\n",
			w.instance, len(rep.entries)))
		b.WriteString("\n")

		b.WriteString("# HELP walvault_archive_size_bytes Stored size of the segment archive\n")
		b.WriteString("# TYPE walvault_archive_size_bytes gauge\n")
		b.WriteString(fmt.Sprintf("walvault_archive_size_bytes{server=%q} %d\n",
			w.instance, archiveBytes))
		b.WriteString("\n")

		if !newest.IsZero() {
			b.WriteString("# HELP walvault_archive_last_arrival_timestamp Unix time the newest segment arrived\n")
			b.WriteString("# TYPE walvault_archive_last_arrival_timestamp gauge\n")
			b.WriteString(fmt.Sprintf("walvault_archive_last_arrival_timestamp{server=%q} %d\n",
				w.instance, newest.Unix()))
			b.WriteString("\n")

			b.WriteString("# HELP walvault_archive_lag_seconds Seconds since a segment last arrived\n")
			b.WriteString("# TYPE walvault_archive_lag_seconds gauge\n")
			b.WriteString(fmt.Sprintf("walvault_archive_lag_seconds{server=%q} %.0f\n",
				w.instance, now.Sub(newest).Seconds()))
			b.WriteString("\n")
		}
	}

	return b.String()
}
