package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"walvault/internal/cleanup"
	"walvault/internal/compression"
	errs "walvault/internal/errors"
	"walvault/internal/fs"
	"walvault/internal/logger"
)

// DumpOptions tune a single logical dump.
type DumpOptions struct {
	// Format is "plain" (SQL text) or "custom" (pg_restore archive).
	Format string

	// Compression is "none", "gzip" or "zstd". Plain dumps stream
	// through the in-process compressor; custom archives compress
	// inside pg_dump, where only the level applies.
	Compression   string
	CompressLevel int

	// SchemaOnly and DataOnly narrow what the dump carries
	SchemaOnly bool
	DataOnly   bool
}

// DumpResult describes a finished dump
type DumpResult struct {
	Path      string
	SizeBytes int64
	Duration  time.Duration
}

// Dumper wraps pg_dump for one-off logical copies of a single
// database. Dumps live outside the snapshot catalog: no retention, no
// WAL, just a timestamped file the operator can pick up.
type Dumper struct {
	conn ConnConfig
	opts DumpOptions
	log  logger.Logger
}

func NewDumper(conn ConnConfig, opts DumpOptions, log logger.Logger) *Dumper {
	if opts.Format == "" {
		opts.Format = "plain"
	}
	return &Dumper{conn: conn.normalize(), opts: opts, log: log}
}

// CheckAvailability verifies the tool exists before anything runs
func (d *Dumper) CheckAvailability(ctx context.Context) error {
	return toolAvailable(ctx, d.conn, "pg_dump", "taking logical dumps", d.log)
}

// Dump writes one dump file into destDir and reports what landed
func (d *Dumper) Dump(ctx context.Context, destDir string) (*DumpResult, error) {
	start := time.Now()

	switch d.opts.Format {
	case "plain", "custom":
	default:
		return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown dump format %q", d.opts.Format),
			"Use plain for SQL text or custom for a pg_restore archive")
	}
	algo, err := compression.ParseAlgorithm(d.opts.Compression)
	if err != nil {
		return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig, err.Error(),
			"Use none, gzip or zstd")
	}

	if err := fs.MkdirAll(destDir, 0750); err != nil {
		return nil, fmt.Errorf("creating dump directory: %w", err)
	}

	outPath := filepath.Join(destDir, d.fileName(algo))
	args := d.buildArgs(outPath, algo)
	path := d.conn.ToolPath("pg_dump")
	d.log.Info("Starting logical dump", "database", d.conn.Database, "format", d.opts.Format, "dest", outPath)
	d.log.Debug("Dump command", "path", path, "args", strings.Join(args, " "))

	var runErr error
	if d.streamsStdout(algo) {
		runErr = d.runStreaming(ctx, path, args, outPath, algo)
	} else {
		runErr = d.runDirect(ctx, path, args)
	}
	if runErr != nil {
		// a failed run must not leave a partial file that looks finished
		_ = fs.Remove(outPath)
		return nil, runErr
	}

	size, err := fs.FileSize(outPath)
	if err != nil {
		return nil, fmt.Errorf("measuring dump: %w", err)
	}
	res := &DumpResult{Path: outPath, SizeBytes: size, Duration: time.Since(start)}
	d.log.Info("Logical dump finished",
		"path", outPath,
		"size", size,
		"duration", res.Duration.Round(time.Millisecond).String())
	return res, nil
}

// streamsStdout reports whether pg_dump writes to stdout for the
// in-process compressor instead of taking --file.
func (d *Dumper) streamsStdout(algo compression.Algorithm) bool {
	return d.opts.Format == "plain" && algo != compression.AlgorithmNone
}

func (d *Dumper) fileName(algo compression.Algorithm) string {
	stamp := time.Now().Format("20060102T150405")
	if d.opts.Format == "custom" {
		return fmt.Sprintf("%s_%s.dump", d.conn.Database, stamp)
	}
	return fmt.Sprintf("%s_%s.sql%s", d.conn.Database, stamp, compression.FileExtension(algo))
}

func (d *Dumper) buildArgs(outPath string, algo compression.Algorithm) []string {
	args := []string{
		"-h", d.conn.Host,
		"-p", fmt.Sprintf("%d", d.conn.Port),
		"-U", d.conn.User,
		"--format=" + d.opts.Format,
	}

	if d.opts.Format == "custom" && d.opts.CompressLevel > 0 {
		args = append(args, fmt.Sprintf("--compress=%d", d.opts.CompressLevel))
	}
	if d.opts.SchemaOnly {
		args = append(args, "--schema-only")
	}
	if d.opts.DataOnly {
		args = append(args, "--data-only")
	}

	args = append(args, "--dbname="+d.conn.Database)

	if !d.streamsStdout(algo) {
		args = append(args, "--file="+outPath)
	}
	return args
}

func (d *Dumper) runDirect(ctx context.Context, path string, args []string) error {
	cmd := cleanup.SafeCommand(ctx, path, args...)
	if d.conn.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+d.conn.Password)
	}
	return runTool(ctx, cmd, "pg_dump", d.log)
}

// runStreaming pipes pg_dump's stdout through the compressor into the
// output file. A canceled context kills the child, which closes stdout
// and ends the copy.
func (d *Dumper) runStreaming(ctx context.Context, path string, args []string, outPath string, algo compression.Algorithm) error {
	cmd := cleanup.SafeCommand(ctx, path, args...)
	if d.conn.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+d.conn.Password)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching to pg_dump: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching to pg_dump: %w", err)
	}

	out, err := fs.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating dump file: %w", err)
	}
	cw, err := compression.NewCompressor(out, algo, d.opts.CompressLevel)
	if err != nil {
		out.Close()
		return err
	}

	if err := cmd.Start(); err != nil {
		cw.Close()
		out.Close()
		return errs.ToolFailed("pg_dump", err, "")
	}

	mon := &toolOutput{log: d.log, tool: "pg_dump"}
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		mon.consume(stderr)
	}()

	_, copyErr := io.Copy(cw, stdout)
	waitErr := cleanup.WaitWithContext(ctx, cmd, d.log)
	<-stderrDone

	closeErr := cw.Close()
	if err := out.Close(); err != nil && closeErr == nil {
		closeErr = err
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.ToolFailed("pg_dump", waitErr, mon.tailText())
	}
	if copyErr != nil {
		return fmt.Errorf("compressing dump: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("finishing dump file: %w", closeErr)
	}
	return nil
}
