// Package catalog - SQLite storage implementation
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)

	errs "walvault/internal/errors"
	"walvault/internal/wal"
)

// SQLiteCatalog implements Catalog with SQLite storage
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog creates a new SQLite-backed catalog
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	// SQLite connection settings:
	// - WAL mode: better concurrency (multiple readers + one writer)
	// - busy_timeout: wait up to 5s for locks instead of failing immediately
	// - synchronous=NORMAL: good durability with better performance than FULL
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:   db,
		path: dbPath,
	}

	if err := catalog.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return catalog, nil
}

// DB returns the underlying *sql.DB for integrity checks
func (c *SQLiteCatalog) DB() *sql.DB {
	return c.db
}

// initialize creates the database schema
func (c *SQLiteCatalog) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backups (
		id TEXT PRIMARY KEY,
		backup_path TEXT NOT NULL,
		wal_start INTEGER NOT NULL,
		wal_end INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		wal_method TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		checksum TEXT NOT NULL DEFAULT '',
		retained INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_backups_status ON backups(status);
	CREATE INDEX IF NOT EXISTS idx_backups_created_at ON backups(created_at);
	CREATE INDEX IF NOT EXISTS idx_backups_retained ON backups(retained, status);

	CREATE TABLE IF NOT EXISTS catalog_meta (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Store schema version for migrations
	INSERT OR IGNORE INTO catalog_meta (key, value) VALUES ('schema_version', '1');
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const recordColumns = `id, backup_path, wal_start, wal_end, status, created_at,
	completed_at, wal_method, size_bytes, checksum, retained, reason`

// Create inserts a new pending record. The creation time is taken from
// the id itself so id order and time order can never disagree.
func (c *SQLiteCatalog) Create(ctx context.Context, id, path string, walStart wal.SegmentID, method string) (*BackupRecord, error) {
	created, err := ParseRecordID(id)
	if err != nil {
		return nil, err
	}
	rec := &BackupRecord{
		ID:        id,
		Path:      path,
		WALStart:  walStart,
		Status:    StatusPending,
		CreatedAt: created,
		WALMethod: method,
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO backups (id, backup_path, wal_start, wal_end, status, created_at, wal_method)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Path, int64(rec.WALStart), int64(rec.WALEnd), string(rec.Status), rec.CreatedAt, rec.WALMethod)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, errs.NewIntegrityError(errs.ErrCodeDuplicateRecord,
				fmt.Sprintf("Record id %s already exists", rec.ID))
		}
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return rec, nil
}

// Start moves a pending record to running
func (c *SQLiteCatalog) Start(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE backups
		SET status = ?
		WHERE id = ? AND status = ?
	`, string(StatusRunning), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("failed to start record: %w", err)
	}
	return c.requireTransition(ctx, res, id, StatusRunning)
}

// Complete moves a running record to complete. The status guard lives in
// the WHERE clause so the check and the write are one statement.
func (c *SQLiteCatalog) Complete(ctx context.Context, id string, walEnd wal.SegmentID, sizeBytes int64, checksum string) error {
	now := time.Now().UTC()
	res, err := c.db.ExecContext(ctx, `
		UPDATE backups
		SET status = ?, wal_end = ?, size_bytes = ?, checksum = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusComplete), int64(walEnd), sizeBytes, checksum, now, id, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to complete record: %w", err)
	}
	return c.requireTransition(ctx, res, id, StatusComplete)
}

// Fail moves a running record to failed, keeping the reason
func (c *SQLiteCatalog) Fail(ctx context.Context, id string, reason string) error {
	now := time.Now().UTC()
	res, err := c.db.ExecContext(ctx, `
		UPDATE backups
		SET status = ?, reason = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusFailed), reason, now, id, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to fail record: %w", err)
	}
	return c.requireTransition(ctx, res, id, StatusFailed)
}

// requireTransition turns a zero-row guarded update into a typed error:
// BackupNotFound for a missing id, InvalidTransition for a wrong state.
func (c *SQLiteCatalog) requireTransition(ctx context.Context, res sql.Result, id string, to Status) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition: %w", err)
	}
	if rows > 0 {
		return nil
	}
	rec, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	return errs.InvalidTransition(rec.ID, string(rec.Status), string(to))
}

// Get retrieves a record by id
func (c *SQLiteCatalog) Get(ctx context.Context, id string) (*BackupRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM backups WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errs.BackupNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns matching records in id order
func (c *SQLiteCatalog) List(ctx context.Context, f Filter) ([]*BackupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM backups WHERE 1=1`
	var args []interface{}

	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.RetainedOnly {
		query += " AND retained = 1"
	}
	query += " ORDER BY id ASC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*BackupRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Latest returns the newest complete record
func (c *SQLiteCatalog) Latest(ctx context.Context) (*BackupRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM backups
		WHERE status = ? ORDER BY id DESC LIMIT 1
	`, string(StatusComplete))

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errs.BackupNotFound("latest")
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// LatestBefore returns the newest complete record created at or before t
func (c *SQLiteCatalog) LatestBefore(ctx context.Context, t time.Time) (*BackupRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM backups
		WHERE status = ? AND created_at <= ?
		ORDER BY id DESC LIMIT 1
	`, string(StatusComplete), t.UTC())

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		oldest := "none"
		if first, ferr := c.oldestComplete(ctx); ferr == nil && first != nil {
			oldest = first.ID
		}
		return nil, errs.NoBackupBeforeTarget(t, oldest)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *SQLiteCatalog) oldestComplete(ctx context.Context) (*BackupRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM backups
		WHERE status = ? ORDER BY id ASC LIMIT 1
	`, string(StatusComplete))

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// SetRetained flips the retention mark
func (c *SQLiteCatalog) SetRetained(ctx context.Context, id string, retained bool) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE backups SET retained = ? WHERE id = ?`, retained, id)
	if err != nil {
		return fmt.Errorf("failed to set retention: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check retention update: %w", err)
	}
	if rows == 0 {
		return errs.BackupNotFound(id)
	}
	return nil
}

// Remove deletes a record; retained records are refused
func (c *SQLiteCatalog) Remove(ctx context.Context, id string) error {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Retained {
		return errs.RetentionViolation(id)
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	return nil
}

// MarkInterrupted fails every running record
func (c *SQLiteCatalog) MarkInterrupted(ctx context.Context, reason string) (int, error) {
	now := time.Now().UTC()
	res, err := c.db.ExecContext(ctx, `
		UPDATE backups
		SET status = ?, reason = ?, completed_at = ?
		WHERE status = ?
	`, string(StatusFailed), reason, now, string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted records: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count interrupted records: %w", err)
	}
	return int(rows), nil
}

// MinRetainedWALStart returns the WAL pruning floor
func (c *SQLiteCatalog) MinRetainedWALStart(ctx context.Context) (wal.SegmentID, bool, error) {
	var min sql.NullInt64
	err := c.db.QueryRowContext(ctx, `
		SELECT MIN(wal_start) FROM backups WHERE retained = 1 AND status = ?
	`, string(StatusComplete)).Scan(&min)
	if err != nil {
		return wal.SegmentNone, false, fmt.Errorf("failed to read retention floor: %w", err)
	}
	if !min.Valid {
		return wal.SegmentNone, false, nil
	}
	return wal.SegmentID(min.Int64), true, nil
}

// Stats summarizes the ledger
func (c *SQLiteCatalog) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	rows, err := c.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM backups GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, size int64
		if err := rows.Scan(&status, &count, &size); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Total += count
		stats.TotalSizeBytes += size
		switch Status(status) {
		case StatusComplete:
			stats.Complete = count
		case StatusFailed:
			stats.Failed = count
		case StatusRunning:
			stats.Running = count
		case StatusPending:
			stats.Pending = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM backups WHERE retained = 1 AND status = ?
	`, string(StatusComplete)).Scan(&stats.Retained)
	if err != nil {
		return nil, fmt.Errorf("failed to count retained: %w", err)
	}

	var oldest, newest sql.NullTime
	err = c.db.QueryRowContext(ctx, `
		SELECT MIN(created_at), MAX(created_at) FROM backups WHERE status = ?
	`, string(StatusComplete)).Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup range: %w", err)
	}
	if oldest.Valid {
		t := oldest.Time.UTC()
		stats.OldestComplete = &t
	}
	if newest.Valid {
		t := newest.Time.UTC()
		stats.NewestComplete = &t
	}

	return stats, nil
}

// Vacuum reclaims space after heavy pruning
func (c *SQLiteCatalog) Vacuum(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum catalog: %w", err)
	}
	return nil
}

// Close closes the catalog database
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans one row into a BackupRecord
func scanRecord(s scanner) (*BackupRecord, error) {
	var rec BackupRecord
	var walStart, walEnd int64
	var status string
	var completedAt sql.NullTime

	err := s.Scan(
		&rec.ID, &rec.Path, &walStart, &walEnd, &status, &rec.CreatedAt,
		&completedAt, &rec.WALMethod, &rec.SizeBytes, &rec.Checksum,
		&rec.Retained, &rec.Reason,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.WALStart = wal.SegmentID(walStart)
	rec.WALEnd = wal.SegmentID(walEnd)
	rec.Status = Status(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		rec.CompletedAt = &t
	}

	return &rec, nil
}
