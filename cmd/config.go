package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"walvault/internal/fs"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the walvault.yaml config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the current settings as a starter config file",
	Long: `Write the effective configuration (environment defaults plus any
flags) to a walvault.yaml. Credentials are never written; keep those
in the environment.

Without a path the file lands at <root>/walvault.yaml, where every
later invocation picks it up automatically.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(cfg.Root, "walvault.yaml")
		if len(args) == 1 {
			path = args[0]
		}
		return runConfigInit(path)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

func runConfigInit(path string) error {
	exists, err := fs.Exists(path)
	if err != nil {
		return err
	}
	if exists && !configForce {
		return fmt.Errorf("%s already exists; pass --force to overwrite", path)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	if err := cfg.SaveFile(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
