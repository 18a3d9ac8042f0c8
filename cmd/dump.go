package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"walvault/internal/engine"
)

var (
	dumpOutput     string
	dumpFormat     string
	dumpCompress   string
	dumpLevel      int
	dumpSchemaOnly bool
	dumpDataOnly   bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Take a logical dump of one database",
	Long: `Run pg_dump against the configured database and write a timestamped
dump file. This is a plain tool wrapper: the dump is not recorded in
the catalog and takes no part in retention or recovery.

Plain dumps stream through the compressor, so large databases never
hit the disk uncompressed. Custom-format dumps compress internally.

Examples:
  walvault dump --output /var/dumps
  walvault dump --format custom --compress-level 5
  walvault dump --compress zstd --schema-only`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDump(cmd)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVar(&dumpOutput, "output", ".", "Directory the dump file is written to")
	dumpCmd.Flags().StringVar(&dumpFormat, "format", "plain", "Dump format: plain or custom")
	dumpCmd.Flags().StringVar(&dumpCompress, "compress", "", "Compress plain dumps: none, gzip or zstd")
	dumpCmd.Flags().IntVar(&dumpLevel, "compress-level", 0, "Compression level (0 = the tool's default)")
	dumpCmd.Flags().BoolVar(&dumpSchemaOnly, "schema-only", false, "Dump the schema, no data")
	dumpCmd.Flags().BoolVar(&dumpDataOnly, "data-only", false, "Dump the data, no schema")
}

func runDump(cmd *cobra.Command) error {
	if dumpSchemaOnly && dumpDataOnly {
		return fmt.Errorf("--schema-only and --data-only are mutually exclusive")
	}

	dumper := engine.NewDumper(engine.ConnFromConfig(cfg), engine.DumpOptions{
		Format:        dumpFormat,
		Compression:   dumpCompress,
		CompressLevel: dumpLevel,
		SchemaOnly:    dumpSchemaOnly,
		DataOnly:      dumpDataOnly,
	}, log)

	if err := dumper.CheckAvailability(cmd.Context()); err != nil {
		return err
	}

	res, err := dumper.Dump(cmd.Context(), dumpOutput)
	if err != nil {
		return err
	}

	fmt.Printf("Dumped %s\n", cfg.Database)
	fmt.Printf("  File:     %s\n", res.Path)
	fmt.Printf("  Size:     %s\n", humanize.Bytes(uint64(res.SizeBytes)))
	fmt.Printf("  Duration: %s\n", res.Duration.Round(time.Second))
	return nil
}
