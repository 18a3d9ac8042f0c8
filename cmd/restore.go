package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"walvault/internal/checks"
	"walvault/internal/engine"
	"walvault/internal/recovery"
)

var (
	restoreDataDir      string
	restoreTime         string
	restoreBackupID     string
	restoreForce        bool
	restoreDryRun       bool
	restoreTimeout      time.Duration
	restoreTargetAction string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Rebuild a cluster from the vault and replay to a target",
	Long: `Pick a base snapshot, unpack it into the data directory, and let the
engine replay archived WAL up to the requested point.

With no target flags the newest complete backup is restored and every
archived segment replayed. --time stops replay at an instant; --backup-id
restores one snapshot and stops at its own consistency point.

The data directory must be empty unless --force is given. When the
archive ends before the target is reached the command still succeeds;
the cluster then holds everything the archive could give.

Examples:
  walvault restore --data-dir /var/lib/postgresql/data
  walvault restore --data-dir /restore/pg --time 2026-08-24T03:00:00Z
  walvault restore --data-dir /restore/pg --backup-id 20260824T020000.000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if restoreDryRun {
			return runRestorePreflight(cmd.Context())
		}
		return runRestore(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringVar(&restoreDataDir, "data-dir", "", "Target data directory (required)")
	restoreCmd.Flags().StringVar(&restoreTime, "time", "", "Recover to an RFC3339 instant")
	restoreCmd.Flags().StringVar(&restoreBackupID, "backup-id", "", "Recover one named backup")
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "Wipe a non-empty data directory")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Run the preflight checks and stop")
	restoreCmd.Flags().DurationVar(&restoreTimeout, "replay-timeout", 0, "Abort replay after this long (default from config; 0 waits)")
	restoreCmd.Flags().StringVar(&restoreTargetAction, "target-action", "", "On reaching the target: promote, pause or shutdown")
	_ = restoreCmd.MarkFlagRequired("data-dir")
}

// parseRestoreTarget maps the target flags onto a recovery target.
func parseRestoreTarget(timeStr, backupID string) (recovery.Target, error) {
	if timeStr != "" && backupID != "" {
		return recovery.Target{}, fmt.Errorf("--time and --backup-id are mutually exclusive")
	}
	switch {
	case timeStr != "":
		t, err := time.Parse(time.RFC3339, timeStr)
		if err != nil {
			return recovery.Target{}, fmt.Errorf("invalid --time %q: want RFC3339, e.g. 2026-08-24T03:00:00Z", timeStr)
		}
		return recovery.AtTime(t), nil
	case backupID != "":
		return recovery.Backup(backupID), nil
	default:
		return recovery.Latest(), nil
	}
}

func runRestore(ctx context.Context) error {
	target, err := parseRestoreTarget(restoreTime, restoreBackupID)
	if err != nil {
		return err
	}

	if restoreTimeout > 0 {
		cfg.ReplayTimeout = restoreTimeout
	}
	if restoreTargetAction != "" {
		cfg.TargetAction = restoreTargetAction
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	cat, store, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	cluster := engine.NewPgCluster(engine.ConnFromConfig(cfg), log)
	orch := recovery.New(cfg, log, cat, store, cluster)

	out, err := orch.Run(ctx, recovery.Options{
		DataDir: restoreDataDir,
		Target:  target,
		Force:   restoreForce,
	})
	if err != nil {
		return err
	}
	printRestoreOutcome(out)
	return nil
}

func printRestoreOutcome(out *recovery.Outcome) {
	fmt.Printf("Recovery finished: %s\n", out.State)
	if out.Backup != nil {
		fmt.Printf("  Backup:      %s\n", out.Backup.ID)
	}
	if out.ReplayedTo > 0 {
		fmt.Printf("  Replayed to: %s\n", out.ReplayedTo)
	}
	if out.State == recovery.StateArchiveExhausted {
		fmt.Println("  The archive ended before the target; the cluster holds everything it could.")
	}
}

func runRestorePreflight(ctx context.Context) error {
	target, err := parseRestoreTarget(restoreTime, restoreBackupID)
	if err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}

	cat, _, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	// size the restore from the snapshot it would pick
	var lastSize int64
	switch target.Kind {
	case recovery.TargetTimestamp:
		if rec, err := cat.LatestBefore(ctx, target.Timestamp); err == nil {
			lastSize = rec.SizeBytes
		}
	case recovery.TargetNamed:
		if rec, err := cat.Get(ctx, target.BackupID); err == nil {
			lastSize = rec.SizeBytes
		}
	default:
		if rec, err := cat.Latest(ctx); err == nil {
			lastSize = rec.SizeBytes
		}
	}
	estimated := checks.EstimateSnapshotSize(lastSize, 0, cfg.Compression, cfg.CompressionLevel)

	checker := checks.NewChecker(cfg, log)
	result, err := checker.ForRestore(ctx, restoreDataDir, estimated)
	if err != nil {
		return err
	}
	fmt.Print(checks.FormatReport(result, "Restore preflight", cfg.Debug))
	if !result.AllPassed {
		return fmt.Errorf("preflight failed: %d check(s) did not pass", result.FailureCount)
	}
	return nil
}
