package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"walvault/internal/engine"
)

var (
	loadJobs     int
	loadClean    bool
	loadCreateDB bool
)

var loadCmd = &cobra.Command{
	Use:   "load <dump-file>",
	Short: "Load a logical dump into the configured database",
	Long: `Load a dump taken by walvault dump (or pg_dump directly). The format
is detected from the file itself: custom-format archives go through
pg_restore, anything else is fed to psql in a single transaction, so a
failed load leaves nothing half-applied. Compressed SQL dumps are
decompressed on the fly.

Examples:
  walvault load /var/dumps/app_20260824T020000.sql.gz
  walvault load --create-db --jobs 4 /var/dumps/app_20260824T020000.dump`,
	Args: requireArg("dump file path"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().IntVar(&loadJobs, "jobs", 0, "Parallel restore jobs (custom-format dumps only)")
	loadCmd.Flags().BoolVar(&loadClean, "clean", false, "Drop objects before recreating them (custom-format dumps only)")
	loadCmd.Flags().BoolVar(&loadCreateDB, "create-db", false, "Create the target database if it does not exist")
}

func runLoad(cmd *cobra.Command, path string) error {
	loader := engine.NewLoader(engine.ConnFromConfig(cfg), engine.LoadOptions{
		Jobs:     loadJobs,
		Clean:    loadClean,
		CreateDB: loadCreateDB,
	}, log)

	if err := loader.Load(cmd.Context(), path); err != nil {
		return err
	}
	fmt.Printf("Loaded %s into %s\n", path, cfg.Database)
	return nil
}
