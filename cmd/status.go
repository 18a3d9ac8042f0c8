package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"walvault/internal/catalog"
	"walvault/internal/engine"
	"walvault/internal/progress"
)

var statusSkipEngine bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, vault health and engine readiness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusSkipEngine, "no-engine", false, "Skip the engine connectivity check")
}

func runStatus(ctx context.Context) error {
	displayHeader()
	displayConfiguration()
	if err := displayVaultDashboard(ctx); err != nil {
		return err
	}
	if statusSkipEngine {
		return nil
	}
	return testEngine(ctx)
}

func displayHeader() {
	if cfg.NoColor {
		fmt.Println("==============================================================")
		fmt.Println(" walvault - WAL Backup & Point-in-Time Recovery")
		fmt.Println("==============================================================")
	} else {
		fmt.Println("\033[1;34m==============================================================\033[0m")
		fmt.Println("\033[1;37m walvault - WAL Backup & Point-in-Time Recovery\033[0m")
		fmt.Println("\033[1;34m==============================================================\033[0m")
	}
	fmt.Printf("Version: %s (built: %s, commit: %s)\n", cfg.Version, cfg.BuildTime, cfg.GitCommit)
	fmt.Println()
}

func displayConfiguration() {
	fmt.Println("Configuration:")
	fmt.Printf("  Vault root:    %s\n", cfg.Root)
	fmt.Printf("  Catalog:       %s\n", cfg.CatalogPath)
	fmt.Printf("  Spool:         %s\n", cfg.SpoolDir)
	fmt.Printf("  Engine:        %s:%d as %s\n", cfg.Host, cfg.Port, cfg.User)
	if cfg.Password != "" {
		fmt.Printf("  Password:      ****** (set)\n")
	} else {
		fmt.Printf("  Password:      (not set)\n")
	}
	if cfg.BinDir != "" {
		fmt.Printf("  Tools:         %s\n", cfg.BinDir)
	} else {
		fmt.Printf("  Tools:         (PATH lookup)\n")
	}
	fmt.Printf("  WAL method:    %s\n", cfg.WALMethod)
	fmt.Printf("  Keep:          %d\n", cfg.KeepCount)
	fmt.Printf("  Compression:   %s", cfg.Compression)
	if cfg.Compression != "none" {
		fmt.Printf(" (level %d)", cfg.CompressionLevel)
	}
	fmt.Println()
	if cfg.CloudEnabled {
		fmt.Printf("  Cloud sync:    %s\n", cfg.CloudProvider)
	} else {
		fmt.Printf("  Cloud sync:    disabled\n")
	}
	if cfg.MetricsFile != "" {
		fmt.Printf("  Metrics:       %s\n", cfg.MetricsFile)
	}
	fmt.Println()
}

// displayVaultDashboard renders a color-coded view of the catalog and
// the archive. Backups age from OK through AGING to STALE so a glance
// shows whether the schedule is actually running.
func displayVaultDashboard(ctx context.Context) error {
	green, yellow, red, bold, dim, reset := "\033[32m", "\033[33m", "\033[31m", "\033[1m", "\033[2m", "\033[0m"
	if cfg.NoColor {
		green, yellow, red, bold, dim, reset = "", "", "", "", "", ""
	}

	cat, store, err := openVault()
	if err != nil {
		return err
	}
	defer cat.Close()

	fmt.Printf("%s  Vault Dashboard%s\n", bold, reset)

	stats, err := cat.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Backups: %d complete (%d retained), %d failed, %d running | Size: %s\n",
		stats.Complete, stats.Retained, stats.Failed, stats.Running,
		humanize.Bytes(uint64(stats.TotalSizeBytes)))

	records, err := cat.List(ctx, catalog.Filter{Status: catalog.StatusComplete})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("  %sNo complete backups yet.%s\n\n", dim, reset)
	} else {
		fmt.Println()
		fmt.Printf("  %-22s %-17s %8s %10s %5s %s\n",
			"BACKUP", "TAKEN", "AGE", "SIZE", "KEPT", "STATUS")
		for _, rec := range records {
			age := time.Since(rec.CreatedAt)
			ageColor, statusText := green, "OK"
			switch {
			case age >= 7*24*time.Hour:
				ageColor, statusText = red, "STALE"
			case age >= 24*time.Hour:
				ageColor, statusText = yellow, "AGING"
			}
			kept := dim + "no" + reset
			if rec.Retained {
				kept = green + "yes" + reset
			}
			fmt.Printf("  %-22s %-17s %s%8s%s %10s %5s %s%s%s\n",
				rec.ID,
				rec.CreatedAt.Format("2006-01-02 15:04"),
				ageColor, formatAge(age), reset,
				humanize.Bytes(uint64(rec.SizeBytes)),
				kept,
				ageColor, statusText, reset)
		}
		fmt.Println()
	}

	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("  Archive: empty (%s)\n", store.Dir())
	} else {
		head, err := store.Head()
		if err != nil {
			return err
		}
		var stored int64
		for _, e := range entries {
			stored += e.SizeBytes
		}
		lastArrival := entries[len(entries)-1].ArrivalTime
		fmt.Printf("  Archive: %d segment(s), head %s, %s stored, newest %s\n",
			len(entries), head, humanize.Bytes(uint64(stored)), humanize.Time(lastArrival))
	}
	fmt.Println()
	return nil
}

// formatAge keeps the dashboard's age column short.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// testEngine verifies the snapshot tool and the server settings a
// backup run depends on.
func testEngine(ctx context.Context) error {
	indicator := progress.NewIndicator(!cfg.NoColor, "spinner")
	conn := engine.ConnFromConfig(cfg)

	indicator.Start("Checking snapshot tool...")
	tool := engine.NewBaseBackup(conn, engine.BaseBackupOptions{WALMethod: cfg.WALMethod}, log)
	if err := tool.CheckAvailability(ctx); err != nil {
		indicator.Fail(fmt.Sprintf("Snapshot tool: %v", err))
		return err
	}
	indicator.Complete("Snapshot tool available")

	indicator.Start(fmt.Sprintf("Checking server %s:%d...", cfg.Host, cfg.Port))
	report, err := engine.CheckPrerequisites(ctx, conn, log)
	if err != nil {
		indicator.Fail(fmt.Sprintf("Server check failed: %v", err))
		return err
	}
	if !report.OK() {
		indicator.Fail("Server is not ready for backups")
		for _, e := range report.Errors {
			printErr("  error: %s", e)
		}
		for _, w := range report.Warnings {
			printErr("  warning: %s", w)
		}
		return fmt.Errorf("%d prerequisite error(s)", len(report.Errors))
	}
	indicator.Complete("Server ready for backups")
	for _, w := range report.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	return nil
}
