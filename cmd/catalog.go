package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"walvault/internal/backup"
	"walvault/internal/catalog"
)

var (
	catalogListStatus   string
	catalogListRetained bool
	catalogListJSON     bool
	catalogShowJSON     bool
	catalogPruneOlder   time.Duration
	catalogPruneDryRun  bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and maintain the backup ledger",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCatalogList(cmd.Context())
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Show one record in full",
	Args:  requireArg("backup id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCatalogShow(cmd.Context(), args[0])
	},
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCatalogStats(cmd.Context())
	},
}

var catalogPruneCmd = &cobra.Command{
	Use:   "prune <backup-id>",
	Short: "Remove one unretained backup and its snapshot directory",
	Long: `Remove a backup from disk and from the ledger. Retained backups are
refused; clear the mark first by lowering the keep count or wait for
retention to rotate them out.`,
	Args: requireArg("backup id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCatalogPrune(cmd.Context(), args[0])
	},
}

var catalogPruneFailedCmd = &cobra.Command{
	Use:   "prune-failed",
	Short: "Sweep old failed and never-started records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCatalogPruneFailed(cmd.Context())
	},
}

var catalogDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Cross-check the ledger against the disk",
	Long: `Compare every record with what is actually on disk: complete records
whose directory is gone, directories with no record, and running or
pending records old enough to be crash leftovers. Reports only;
nothing is repaired.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCatalogDoctor(cmd.Context())
	},
}

var catalogVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Reclaim ledger space after heavy pruning",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, _, err := openVault()
		if err != nil {
			return err
		}
		defer cat.Close()
		return cat.Vacuum(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	catalogCmd.AddCommand(catalogStatsCmd)
	catalogCmd.AddCommand(catalogPruneCmd)
	catalogCmd.AddCommand(catalogPruneFailedCmd)
	catalogCmd.AddCommand(catalogDoctorCmd)
	catalogCmd.AddCommand(catalogVacuumCmd)

	catalogListCmd.Flags().StringVar(&catalogListStatus, "status", "", "Filter by status: pending, running, complete, failed")
	catalogListCmd.Flags().BoolVar(&catalogListRetained, "retained", false, "Only retained backups")
	catalogListCmd.Flags().BoolVar(&catalogListJSON, "json", false, "JSON output")
	catalogShowCmd.Flags().BoolVar(&catalogShowJSON, "json", false, "JSON output")
	catalogPruneFailedCmd.Flags().DurationVar(&catalogPruneOlder, "older-than", 7*24*time.Hour, "Only records older than this")
	catalogPruneFailedCmd.Flags().BoolVar(&catalogPruneDryRun, "dry-run", false, "Report what would be removed")
}

func runCatalogList(ctx context.Context) error {
	cat, _, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	filter := catalog.Filter{RetainedOnly: catalogListRetained}
	if catalogListStatus != "" {
		status, err := catalog.ParseStatus(catalogListStatus)
		if err != nil {
			return err
		}
		filter.Status = status
	}

	records, err := cat.List(ctx, filter)
	if err != nil {
		return err
	}

	if catalogListJSON {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No backups recorded.")
		return nil
	}

	fmt.Printf("%-22s %-9s %9s %6s %8s  %s\n",
		"ID", "STATUS", "SIZE", "KEPT", "TOOK", "WAL SPAN")
	fmt.Printf("%-22s %-9s %9s %6s %8s  %s\n",
		strings.Repeat("-", 22), strings.Repeat("-", 9), strings.Repeat("-", 9),
		strings.Repeat("-", 6), strings.Repeat("-", 8), strings.Repeat("-", 16))
	for _, rec := range records {
		kept := ""
		if rec.Retained {
			kept = "yes"
		}
		span := ""
		if rec.WALStart > 0 {
			span = rec.WALStart.String()
			if rec.WALEnd > 0 {
				span += ".." + rec.WALEnd.String()
			}
		}
		fmt.Printf("%-22s %-9s %9s %6s %8s  %s\n",
			rec.ID,
			rec.Status,
			humanize.Bytes(uint64(rec.SizeBytes)),
			kept,
			catalog.FormatDuration(rec.Duration()),
			span)
	}
	return nil
}

func runCatalogShow(ctx context.Context, id string) error {
	cat, _, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	rec, err := cat.Get(ctx, id)
	if err != nil {
		return err
	}
	if catalogShowJSON {
		return printJSON(rec)
	}

	fmt.Printf("Backup %s\n", rec.ID)
	fmt.Printf("  Status:     %s\n", rec.Status)
	fmt.Printf("  Path:       %s\n", rec.Path)
	fmt.Printf("  Created:    %s (%s)\n", rec.CreatedAt.Format(time.RFC3339), humanize.Time(rec.CreatedAt))
	if rec.CompletedAt != nil {
		fmt.Printf("  Completed:  %s\n", rec.CompletedAt.Format(time.RFC3339))
		fmt.Printf("  Duration:   %s\n", catalog.FormatDuration(rec.Duration()))
	}
	fmt.Printf("  WAL method: %s\n", rec.WALMethod)
	if rec.WALStart > 0 {
		fmt.Printf("  WAL start:  %s\n", rec.WALStart)
	}
	if rec.WALEnd > 0 {
		fmt.Printf("  WAL end:    %s\n", rec.WALEnd)
	}
	if rec.SizeBytes > 0 {
		fmt.Printf("  Size:       %s (%d bytes)\n", humanize.Bytes(uint64(rec.SizeBytes)), rec.SizeBytes)
	}
	if rec.Checksum != "" {
		fmt.Printf("  Checksum:   %s\n", rec.Checksum)
	}
	fmt.Printf("  Retained:   %v\n", rec.Retained)
	if rec.Reason != "" {
		fmt.Printf("  Reason:     %s\n", rec.Reason)
	}
	return nil
}

func runCatalogStats(ctx context.Context) error {
	cat, _, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	stats, err := cat.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Catalog: %s\n", cfg.CatalogPath)
	fmt.Printf("  Total:    %d\n", stats.Total)
	fmt.Printf("  Complete: %d (%d retained)\n", stats.Complete, stats.Retained)
	fmt.Printf("  Failed:   %d\n", stats.Failed)
	fmt.Printf("  Running:  %d\n", stats.Running)
	if stats.Pending > 0 {
		fmt.Printf("  Pending:  %d\n", stats.Pending)
	}
	fmt.Printf("  Size:     %s\n", humanize.Bytes(uint64(stats.TotalSizeBytes)))
	if stats.OldestComplete != nil {
		fmt.Printf("  Oldest:   %s (%s)\n",
			stats.OldestComplete.Format(time.RFC3339), humanize.Time(*stats.OldestComplete))
	}
	if stats.NewestComplete != nil {
		fmt.Printf("  Newest:   %s (%s)\n",
			stats.NewestComplete.Format(time.RFC3339), humanize.Time(*stats.NewestComplete))
	}
	return nil
}

func runCatalogPrune(ctx context.Context, id string) error {
	cat, store, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	// the orchestrator owns prune so CLI and retention share one path
	orch := backup.New(cfg, log, cat, store, nil)
	if err := orch.Prune(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Pruned %s\n", id)
	return nil
}

func runCatalogPruneFailed(ctx context.Context) error {
	cat, _, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	cutoff := time.Now().Add(-catalogPruneOlder)
	result, err := cat.PruneFailed(ctx, cutoff, catalogPruneDryRun)
	if err != nil {
		return err
	}

	verb := "Removed"
	if catalogPruneDryRun {
		verb = "Would remove"
	}
	fmt.Printf("%s %d of %d dead record(s), freeing %s\n",
		verb, len(result.Details), result.Checked, humanize.Bytes(uint64(result.SpaceFreed)))
	for _, line := range result.Details {
		fmt.Printf("  %s\n", line)
	}
	return nil
}

func runCatalogDoctor(ctx context.Context) error {
	cat, _, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	report, err := cat.Doctor(ctx, cfg.BaseDir())
	if err != nil {
		return err
	}

	fmt.Printf("Checked %d record(s) in %.1fs\n", report.Checked, report.Duration)
	if report.Clean() {
		fmt.Println("Ledger and disk agree.")
		return nil
	}
	for _, id := range report.Missing {
		fmt.Printf("  missing on disk:  %s\n", id)
	}
	for _, path := range report.Orphans {
		fmt.Printf("  orphan directory: %s\n", path)
	}
	for _, id := range report.StaleRunning {
		fmt.Printf("  stale running:    %s\n", id)
	}
	for _, id := range report.StalePending {
		fmt.Printf("  stale pending:    %s\n", id)
	}
	return fmt.Errorf("ledger and disk disagree: %d missing, %d orphan(s), %d stale",
		len(report.Missing), len(report.Orphans),
		len(report.StaleRunning)+len(report.StalePending))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
