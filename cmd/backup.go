package cmd

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"walvault/internal/backup"
	"walvault/internal/checks"
	"walvault/internal/cleanup"
	"walvault/internal/cloud"
	"walvault/internal/engine"
	"walvault/internal/hooks"
)

var (
	backupKeep      int
	backupWALMethod string
	backupDryRun    bool
	backupJSON      bool
	backupSchedule  string
	backupHooksDir  string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a base snapshot and apply retention",
	Long: `Take a consistent base snapshot of the cluster with pg_basebackup,
record it in the catalog, and retire backups beyond the keep count
together with the WAL segments nothing retained still needs.

A single writer lock under the vault root keeps concurrent runs out;
a second invocation fails immediately instead of queueing.

Examples:
  # one snapshot, keep the newest 7
  walvault backup --keep 7

  # check the environment without touching anything
  walvault backup --dry-run

  # nightly at 02:00 until interrupted
  walvault backup --schedule "0 2 * * *"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if backupDryRun {
			return runBackupPreflight(cmd.Context())
		}
		if backupSchedule != "" {
			return runBackupSchedule(cmd.Context())
		}
		return runBackupOnce(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().IntVar(&backupKeep, "keep", 0, "Retain the newest N complete backups (default from config)")
	backupCmd.Flags().StringVar(&backupWALMethod, "wal-method", "", "WAL collection: fetch or stream (default from config)")
	backupCmd.Flags().BoolVar(&backupDryRun, "dry-run", false, "Run the preflight checks and stop")
	backupCmd.Flags().BoolVar(&backupJSON, "json", false, "Emit the preflight report as JSON (with --dry-run)")
	backupCmd.Flags().StringVar(&backupSchedule, "schedule", "", "Run on a cron schedule until interrupted, e.g. \"0 2 * * *\"")
	backupCmd.Flags().StringVar(&backupHooksDir, "hooks-dir", "", "Directory with pre-backup/, post-backup/ and on-error/ scripts")
}

// effectiveBackupOptions resolves flag overrides against the config.
func effectiveBackupOptions() backup.Options {
	opts := backup.Options{
		Destination: cfg.BaseDir(),
		WALMethod:   cfg.WALMethod,
		KeepCount:   cfg.KeepCount,
	}
	if backupKeep > 0 {
		opts.KeepCount = backupKeep
	}
	if backupWALMethod != "" {
		opts.WALMethod = backupWALMethod
	}
	return opts
}

func runBackupOnce(ctx context.Context) error {
	opts := effectiveBackupOptions()

	cat, store, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	conn := engine.ConnFromConfig(cfg)
	tool := engine.NewBaseBackup(conn, engine.BaseBackupOptions{
		WALMethod:     opts.WALMethod,
		Compression:   cfg.Compression,
		CompressLevel: cfg.CompressionLevel,
	}, log)

	orch := backup.New(cfg, log, cat, store, tool)

	handler := cleanup.NewHandler(log)
	handler.RegisterSignalHandler()
	orch.SetCleanupHandler(handler)

	hooksDir := cfg.HooksDir
	if backupHooksDir != "" {
		hooksDir = backupHooksDir
	}
	if hooksDir != "" {
		runner := hooks.NewRunner(&hooks.Config{}, log)
		if err := runner.LoadDir(hooksDir); err != nil {
			return err
		}
		orch.SetHooks(runner)
	}

	if cfg.CloudEnabled {
		backend, err := cloud.NewBackend(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer backend.Close()
		syncer := cloud.NewSyncer(log, backend)
		syncer.SetProgress(cloud.ConsoleProgress)
		orch.SetSyncer(syncer)
	}

	res, err := orch.Run(ctx, opts)
	if err != nil {
		return err
	}
	printBackupResult(res)
	return nil
}

func printBackupResult(res *backup.Result) {
	rec := res.Record
	fmt.Printf("Backup %s complete\n", rec.ID)
	fmt.Printf("  Path:       %s\n", rec.Path)
	fmt.Printf("  Size:       %s\n", humanize.Bytes(uint64(rec.SizeBytes)))
	fmt.Printf("  WAL span:   [%s, %s]\n", rec.WALStart, rec.WALEnd)
	fmt.Printf("  Duration:   %s\n", res.Duration.Round(time.Second))
	if res.InterruptedMarked > 0 {
		fmt.Printf("  Cleaned up: %d interrupted run(s)\n", res.InterruptedMarked)
	}
	if r := res.Retention; r != nil {
		fmt.Printf("  Retention:  %d retained, %d pruned, %d segment(s) dropped\n",
			len(r.Retained), len(r.Pruned), r.WALRemoved)
	}
}

func runBackupPreflight(ctx context.Context) error {
	checker := checks.NewChecker(cfg, log)
	result, err := checker.ForBackup(ctx)
	if err != nil {
		return err
	}

	if backupJSON {
		data, err := checks.FormatReportJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Print(checks.FormatReport(result, "Backup preflight", cfg.Debug))
	}

	if !result.AllPassed {
		return fmt.Errorf("preflight failed: %d check(s) did not pass", result.FailureCount)
	}
	return nil
}

// runBackupSchedule keeps the process alive and fires runBackupOnce on
// each cron tick. A tick that lands while the previous run is still in
// flight is skipped; the writer lock would reject it anyway, but
// skipping keeps the log free of expected failures.
func runBackupSchedule(ctx context.Context) error {
	sched, err := cron.ParseStandard(backupSchedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", backupSchedule, err)
	}

	var busy atomic.Bool
	runner := cron.New()
	runner.Schedule(sched, cron.FuncJob(func() {
		if !busy.CompareAndSwap(false, true) {
			log.Warn("Previous scheduled backup still running, skipping this tick")
			return
		}
		defer busy.Store(false)
		if err := runBackupOnce(ctx); err != nil {
			log.Error("Scheduled backup failed", "error", err)
		}
	}))

	runner.Start()
	log.Info("Backup schedule active",
		"schedule", backupSchedule,
		"next_run", sched.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	log.Info("Stopping backup schedule")

	// Stop returns once no job is mid-flight
	<-runner.Stop().Done()
	return nil
}
