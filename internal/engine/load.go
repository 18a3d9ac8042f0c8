package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"walvault/internal/cleanup"
	"walvault/internal/compression"
	"walvault/internal/fs"
	"walvault/internal/logger"
)

// custom-format archives open with this magic
const customDumpMagic = "PGDMP"

// LoadOptions tune how a dump is applied.
type LoadOptions struct {
	// Jobs sets pg_restore parallelism for custom archives. SQL dumps
	// replay serially through psql regardless.
	Jobs int

	// Clean drops existing objects before recreating them. Custom
	// archives only; a plain dump applies whatever DROPs it contains.
	Clean bool

	// CreateDB creates the target database from template0 when it
	// does not exist yet.
	CreateDB bool
}

// Loader applies a logical dump to a live server, the counterpart to
// Dumper. Custom archives go through pg_restore, SQL text through
// psql, decompressed on the fly when the file name says so.
type Loader struct {
	conn ConnConfig
	opts LoadOptions
	log  logger.Logger
}

func NewLoader(conn ConnConfig, opts LoadOptions, log logger.Logger) *Loader {
	return &Loader{conn: conn.normalize(), opts: opts, log: log}
}

// Load applies the dump at dumpPath to the configured database
func (l *Loader) Load(ctx context.Context, dumpPath string) error {
	start := time.Now()

	custom, err := isCustomDump(dumpPath)
	if err != nil {
		return err
	}
	tool := "psql"
	if custom {
		tool = "pg_restore"
	}
	if err := toolAvailable(ctx, l.conn, tool, "loading logical dumps", l.log); err != nil {
		return err
	}

	if l.opts.CreateDB {
		if err := l.ensureDatabase(ctx); err != nil {
			return err
		}
	}

	l.log.Info("Loading logical dump", "path", dumpPath, "database", l.conn.Database, "tool", tool)
	if custom {
		err = l.runRestore(ctx, dumpPath)
	} else {
		err = l.runPsqlScript(ctx, dumpPath)
	}
	if err != nil {
		return err
	}

	l.log.Info("Logical dump loaded",
		"database", l.conn.Database,
		"duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

// isCustomDump sniffs the archive header. Custom-format dumps open
// with "PGDMP"; everything else is treated as SQL text, possibly
// compressed.
func isCustomDump(path string) (bool, error) {
	f, err := fs.Open(path)
	if err != nil {
		return false, fmt.Errorf("opening dump %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, len(customDumpMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		// too short for a custom archive, let psql reject it
		return false, nil
	}
	return string(header) == customDumpMagic, nil
}

// ensureDatabase creates the target database when missing. System
// databases are assumed present.
func (l *Loader) ensureDatabase(ctx context.Context) error {
	name := l.conn.Database
	switch name {
	case "postgres", "template0", "template1":
		return nil
	}

	admin := l.conn
	admin.Database = "postgres"

	out, err := runPsql(ctx, admin, fmt.Sprintf(
		"SELECT 1 FROM pg_database WHERE datname = '%s'", EscapeLiteral(name)))
	if err != nil {
		return err
	}
	if out == "1" {
		l.log.Debug("Target database exists", "database", name)
		return nil
	}

	// template0 keeps local template1 additions out of the restore
	l.log.Info("Creating target database", "database", name)
	_, err = runPsql(ctx, admin, fmt.Sprintf(
		"CREATE DATABASE %s TEMPLATE template0", QuoteIdentifier(name)))
	return err
}

func (l *Loader) restoreArgs(dumpPath string) []string {
	args := []string{
		"-h", l.conn.Host,
		"-p", fmt.Sprintf("%d", l.conn.Port),
		"-U", l.conn.User,
		"--no-owner",
		"--no-privileges",
	}
	if l.opts.Jobs > 1 {
		args = append(args, fmt.Sprintf("--jobs=%d", l.opts.Jobs))
	}
	if l.opts.Clean {
		args = append(args, "--clean", "--if-exists")
	}
	return append(args, "--dbname="+l.conn.Database, dumpPath)
}

func (l *Loader) runRestore(ctx context.Context, dumpPath string) error {
	args := l.restoreArgs(dumpPath)
	l.log.Debug("Restore command", "args", strings.Join(args, " "))

	cmd := cleanup.SafeCommand(ctx, l.conn.ToolPath("pg_restore"), args...)
	if l.conn.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+l.conn.Password)
	}
	return runTool(ctx, cmd, "pg_restore", l.log)
}

func (l *Loader) psqlArgs() []string {
	return []string{
		"-h", l.conn.Host,
		"-p", fmt.Sprintf("%d", l.conn.Port),
		"-U", l.conn.User,
		"-d", l.conn.Database,
		"-X", "-q",
		"-v", "ON_ERROR_STOP=1",
		"--single-transaction",
	}
}

// runPsqlScript replays a SQL dump through psql's stdin. The whole
// script runs in one transaction, so a failed load leaves nothing
// half-applied.
func (l *Loader) runPsqlScript(ctx context.Context, dumpPath string) error {
	f, err := fs.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("opening dump %s: %w", dumpPath, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if compression.IsCompressed(dumpPath) {
		dec, err := compression.NewDecompressor(f, dumpPath)
		if err != nil {
			return fmt.Errorf("reading compressed dump: %w", err)
		}
		defer dec.Close()
		reader = dec
		l.log.Debug("Decompressing dump on the fly", "algorithm", string(dec.Algorithm()))
	}

	args := l.psqlArgs()
	l.log.Debug("Load command", "args", strings.Join(args, " "))

	cmd := cleanup.SafeCommand(ctx, l.conn.ToolPath("psql"), args...)
	cmd.Stdin = reader
	cmd.Stdout = io.Discard // psql echoes COPY counts there
	if l.conn.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+l.conn.Password)
	}
	return runTool(ctx, cmd, "psql", l.log)
}
