package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"walvault/internal/cleanup"
	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

// PgCluster controls a local instance through pg_ctl and watches
// replay through a short-lived SQL connection. A fresh connection per
// poll is deliberate: during recovery the server comes and goes, and
// a pool would spend its life reconnecting anyway.
type PgCluster struct {
	conn ConnConfig
	log  logger.Logger

	startTimeout time.Duration
	stopTimeout  time.Duration
}

func NewPgCluster(conn ConnConfig, log logger.Logger) *PgCluster {
	return &PgCluster{
		conn:         conn.normalize(),
		log:          log,
		startTimeout: 120 * time.Second,
		stopTimeout:  60 * time.Second,
	}
}

// Start launches the instance in dataDir and waits for it to accept
// connections. Server output goes to startup.log inside the data
// directory so a failed start leaves something to read.
func (p *PgCluster) Start(ctx context.Context, dataDir string) error {
	args := []string{
		"start",
		"-D", dataDir,
		"-w",
		"-t", fmt.Sprintf("%d", int(p.startTimeout.Seconds())),
		"-l", filepath.Join(dataDir, "startup.log"),
	}
	p.log.Info("Starting instance", "data_dir", dataDir)
	return p.runPgCtl(ctx, args)
}

// Stop shuts the instance down with a fast shutdown. An instance
// that is already stopped is not an error.
func (p *PgCluster) Stop(ctx context.Context, dataDir string) error {
	args := []string{
		"stop",
		"-D", dataDir,
		"-m", "fast",
		"-w",
		"-t", fmt.Sprintf("%d", int(p.stopTimeout.Seconds())),
	}
	p.log.Info("Stopping instance", "data_dir", dataDir)
	err := p.runPgCtl(ctx, args)
	if err != nil && strings.Contains(err.Error(), "does not exist") {
		p.log.Debug("Instance already stopped", "data_dir", dataDir)
		return nil
	}
	return err
}

func (p *PgCluster) runPgCtl(ctx context.Context, args []string) error {
	path := p.conn.ToolPath("pg_ctl")
	cmd := cleanup.SafeCommand(ctx, path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.ToolFailed("pg_ctl", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ReplayStatus asks the instance where replay stands. Connection
// errors bubble up unwrapped so the caller can decide whether the
// server simply is not up yet.
func (p *PgCluster) ReplayStatus(ctx context.Context) (*ReplayStatus, error) {
	conn, err := pgx.Connect(ctx, p.conn.DSN())
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	// the paused probe errors outside recovery, hence the CASE guard
	var st ReplayStatus
	var lastReplay *time.Time
	row := conn.QueryRow(ctx,
		`SELECT pg_is_in_recovery(),
		        coalesce(pg_last_wal_replay_lsn()::text, ''),
		        pg_last_xact_replay_timestamp(),
		        CASE WHEN pg_is_in_recovery() THEN pg_is_wal_replay_paused() ELSE false END`)
	if err := row.Scan(&st.InRecovery, &st.ReplayLSN, &lastReplay, &st.Paused); err != nil {
		return nil, fmt.Errorf("reading replay status: %w", err)
	}
	st.LastReplayTime = lastReplay
	return &st, nil
}
