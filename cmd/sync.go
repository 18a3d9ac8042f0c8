package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"walvault/internal/catalog"
	"walvault/internal/cloud"
	errs "walvault/internal/errors"
)

var syncCmd = &cobra.Command{
	Use:   "sync <backup-id>",
	Short: "Upload one backup to the configured off-site backend",
	Long: `Upload a complete backup's snapshot directory to the configured S3 or
SFTP backend. Files already present remotely with the right size are
skipped, so re-running after a partial upload only sends what is
missing.

Backups also sync automatically after each run when cloud sync is
enabled; this command is the manual form for catching up older ones.`,
	Args: requireArg("backup id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(ctx context.Context, id string) error {
	if !cfg.CloudEnabled {
		return errs.NewConfigError(errs.ErrCodeInvalidConfig,
			"cloud sync is not enabled",
			"set cloud.enabled in walvault.yaml or CLOUD_ENABLED=1")
	}

	cat, _, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	rec, err := cat.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != catalog.StatusComplete {
		return errs.BackupNotFound(id).
			WithDetails(fmt.Sprintf("record is %s, not complete", rec.Status))
	}

	backend, err := cloud.NewBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	syncer := cloud.NewSyncer(log, backend)
	syncer.SetProgress(cloud.ConsoleProgress)

	if err := syncer.SyncSnapshot(ctx, rec); err != nil {
		return err
	}
	fmt.Printf("Synced %s to %s\n", id, backend.Name())
	return nil
}
