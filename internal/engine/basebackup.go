package engine

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"walvault/internal/cleanup"
	errs "walvault/internal/errors"
	"walvault/internal/fs"
	"walvault/internal/logger"
)

const stderrTailLines = 20

// BaseBackupOptions tune a single snapshot run.
type BaseBackupOptions struct {
	// WALMethod is "stream" or "fetch". Stream opens a second
	// replication connection and collects WAL while the copy runs;
	// fetch grabs the needed WAL at the end, which requires
	// wal_keep_size to be generous enough.
	WALMethod string

	// Compression is "none", "gzip" or "zstd", applied client side
	// so the archives land compressed on the backup host.
	Compression   string
	CompressLevel int

	// MaxRate caps transfer, e.g. "100M". Empty means unlimited.
	MaxRate string
}

// BaseBackup runs pg_basebackup in tar format. The destination
// directory ends up holding base.tar (plus compression suffix),
// pg_wal.tar and backup_manifest.
type BaseBackup struct {
	conn ConnConfig
	opts BaseBackupOptions
	log  logger.Logger
}

func NewBaseBackup(conn ConnConfig, opts BaseBackupOptions, log logger.Logger) *BaseBackup {
	if opts.WALMethod == "" {
		opts.WALMethod = "stream"
	}
	return &BaseBackup{conn: conn.normalize(), opts: opts, log: log}
}

// CheckAvailability verifies the tool exists before a run is recorded
func (b *BaseBackup) CheckAvailability(ctx context.Context) error {
	return toolAvailable(ctx, b.conn, "pg_basebackup", "taking cluster snapshots", b.log)
}

// Snapshot copies the cluster into destDir and reports what landed
func (b *BaseBackup) Snapshot(ctx context.Context, destDir string) (*SnapshotResult, error) {
	start := time.Now()

	if err := fs.MkdirAll(destDir, 0750); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	args := b.buildArgs(destDir)
	path := b.conn.ToolPath("pg_basebackup")
	b.log.Info("Starting base backup", "dest", destDir, "wal_method", b.opts.WALMethod)
	b.log.Debug("Snapshot command", "path", path, "args", strings.Join(args, " "))

	cmd := cleanup.SafeCommand(ctx, path, args...)
	if b.conn.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+b.conn.Password)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching to snapshot tool: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errs.ToolFailed("pg_basebackup", err, "")
	}

	mon := &stderrMonitor{log: b.log}
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.consume(stderr)
	}()

	waitErr := cleanup.WaitWithContext(ctx, cmd, b.log)
	<-done

	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.ToolFailed("pg_basebackup", waitErr, mon.tailText())
	}

	size, err := fs.TreeSize(destDir)
	if err != nil {
		return nil, fmt.Errorf("measuring snapshot: %w", err)
	}
	checksum, err := HashBaseArchives(destDir)
	if err != nil {
		return nil, fmt.Errorf("checksumming snapshot: %w", err)
	}

	res := &SnapshotResult{
		SizeBytes: size,
		Checksum:  checksum,
		StartLSN:  mon.startLSN,
		Duration:  time.Since(start),
	}
	b.log.Info("Base backup finished",
		"size", size,
		"duration", res.Duration.Round(time.Millisecond).String(),
		"start_lsn", res.StartLSN)
	return res, nil
}

func (b *BaseBackup) buildArgs(destDir string) []string {
	args := []string{
		"-D", destDir,
		"-h", b.conn.Host,
		"-p", fmt.Sprintf("%d", b.conn.Port),
		"-U", b.conn.User,
		"-Ft",
		"-X", b.opts.WALMethod,
		"-c", "fast",
		"-l", "walvault base backup",
	}

	switch b.opts.Compression {
	case "gzip":
		if b.opts.CompressLevel > 0 {
			args = append(args, "--compress", fmt.Sprintf("gzip:%d", b.opts.CompressLevel))
		} else {
			args = append(args, "-z")
		}
	case "zstd":
		level := b.opts.CompressLevel
		if level <= 0 {
			level = 3
		}
		args = append(args, "--compress", fmt.Sprintf("client-zstd:%d", level))
	}

	if b.opts.MaxRate != "" {
		args = append(args, "-r", b.opts.MaxRate)
	}

	args = append(args, "-P", "-v")
	return args
}

// stderrMonitor reads the tool's progress stream. pg_basebackup puts
// everything on stderr: progress counters with -P, and with -v a
// "write-ahead log start point" line we keep for the record.
type stderrMonitor struct {
	log      logger.Logger
	tail     []string
	startLSN string
	lastPct  float64
}

func (m *stderrMonitor) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m.tail = append(m.tail, line)
		if len(m.tail) > stderrTailLines {
			m.tail = m.tail[1:]
		}

		if lsn, ok := parseStartLSN(line); ok {
			m.startLSN = lsn
			continue
		}
		if done, total, pct, ok := parseProgressLine(line); ok {
			// log at 10% steps, the raw stream updates constantly
			if pct >= m.lastPct+10 || pct >= 100 {
				m.lastPct = pct
				m.log.Debug("Snapshot progress", "done_kb", done, "total_kb", total, "percent", fmt.Sprintf("%.0f", pct))
			}
		}
	}
}

func (m *stderrMonitor) tailText() string {
	return strings.Join(m.tail, "\n")
}

// parseProgressLine understands "12345/67890 kB (18%, ...)" lines
func parseProgressLine(line string) (done, total int64, pct float64, ok bool) {
	n, err := fmt.Sscanf(strings.TrimSpace(line), "%d/%d kB (%f%%", &done, &total, &pct)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return done, total, pct, true
}

func parseStartLSN(line string) (string, bool) {
	const marker = "write-ahead log start point: "
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	fields := strings.Fields(line[idx+len(marker):])
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// HashBaseArchives digests the base tarballs so a later restore can
// detect bit rot before extraction. pg_wal.tar is covered by the
// archive's own per-segment checks.
func HashBaseArchives(destDir string) (string, error) {
	infos, err := fs.ReadDir(destDir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, info := range infos {
		if !info.IsDir() && strings.HasPrefix(info.Name(), "base.tar") {
			names = append(names, info.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no base archive in %s", destDir)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		f, err := fs.Open(filepath.Join(destDir, name))
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
