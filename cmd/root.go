// Package cmd wires the walvault commands. Flags override the config
// file, the file overrides environment defaults.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"walvault/internal/config"
	"walvault/internal/logger"
)

// Shared by every command; set in Execute before cobra runs.
var (
	cfg *config.Config
	log logger.Logger
)

// Persistent flag storage. Zero values mean "not set"; only flags the
// user actually passed are copied onto cfg, so file and env settings
// survive unless overridden.
var (
	flagConfigPath string
	flagRoot       string
	flagCatalog    string
	flagSpool      string
	flagBinDir     string
	flagHost       string
	flagPort       int
	flagUser       string
	flagDatabase   string
	flagLogLevel   string
	flagLogFormat  string
	flagNoColor    bool
	flagDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "walvault",
	Short: "Physical backup and point-in-time recovery for PostgreSQL",
	Long: `walvault keeps base snapshots and archived WAL segments in a local
vault and replays them to a point in time.

The vault root holds three things: base/ with one snapshot directory per
backup, wal_archive/ with the archived segments and their manifest, and
catalog.db, the ledger every decision is checked against.

Typical setup:

  # postgresql.conf
  archive_mode = on
  archive_command = 'walvault --root /srv/vault archive put %p'

  # nightly snapshot, keep the last 7
  walvault backup --keep 7

  # rebuild the cluster as of an instant
  walvault restore --data-dir /var/lib/postgresql/data --time 2026-08-24T03:00:00Z`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applySettings(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "Config file (default <root>/walvault.yaml)")
	pf.StringVar(&flagRoot, "root", "", "Vault root directory (env WALVAULT_ROOT)")
	pf.StringVar(&flagCatalog, "catalog", "", "Catalog database path (default <root>/catalog.db)")
	pf.StringVar(&flagSpool, "spool", "", "WAL spool directory (default <root>/spool)")
	pf.StringVar(&flagBinDir, "bin-dir", "", "Directory with the engine tools (default PATH lookup)")
	pf.StringVar(&flagHost, "host", "", "Engine host (env PG_HOST)")
	pf.IntVar(&flagPort, "port", 0, "Engine port (env PG_PORT)")
	pf.StringVar(&flagUser, "user", "", "Engine user (env PG_USER)")
	pf.StringVar(&flagDatabase, "database", "", "Maintenance database (env PG_DATABASE)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format: text or json")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&flagDebug, "debug", false, "Shorthand for --log-level debug")
}

// applySettings folds the config file and any set flags into cfg, then
// validates the result. Path flags land first so --root moves the
// default config file location along with everything else.
func applySettings(cmd *cobra.Command) error {
	fl := cmd.Flags()

	if fl.Changed("root") {
		cfg.Root = flagRoot
		cfg.CatalogPath = filepath.Join(flagRoot, "catalog.db")
		cfg.SpoolDir = filepath.Join(flagRoot, "spool")
	}

	configPath := flagConfigPath
	explicit := fl.Changed("config")
	if configPath == "" {
		configPath = filepath.Join(cfg.Root, "walvault.yaml")
	}
	cfg.ConfigPath = configPath
	if err := cfg.LoadFile(configPath, explicit); err != nil {
		return err
	}

	// flags win over the file
	if fl.Changed("root") {
		cfg.Root = flagRoot
	}
	if fl.Changed("catalog") {
		cfg.CatalogPath = flagCatalog
	}
	if fl.Changed("spool") {
		cfg.SpoolDir = flagSpool
	}
	if fl.Changed("bin-dir") {
		cfg.BinDir = flagBinDir
	}
	if fl.Changed("host") {
		cfg.Host = flagHost
	}
	if fl.Changed("port") {
		cfg.Port = flagPort
	}
	if fl.Changed("user") {
		cfg.User = flagUser
	}
	if fl.Changed("database") {
		cfg.Database = flagDatabase
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
	if fl.Changed("no-color") {
		cfg.NoColor = flagNoColor
	}
	if fl.Changed("debug") {
		cfg.Debug = flagDebug
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	log = logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return err
	}
	return nil
}

// Execute runs the command tree with the given base configuration.
func Execute(ctx context.Context, c *config.Config, l logger.Logger) error {
	cfg = c
	log = l
	return rootCmd.ExecuteContext(ctx)
}

// requireArg is a small helper for commands taking one mandatory
// positional argument, giving a friendlier message than cobra's default.
func requireArg(name string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one argument: %s", name)
		}
		return nil
	}
}

// printErr writes a message to stderr regardless of log configuration.
func printErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
