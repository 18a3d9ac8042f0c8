package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"walvault/internal/cleanup"
	"walvault/internal/fs"
	"walvault/internal/wal"
)

var (
	streamSlot       string
	streamCreateSlot bool
	streamSync       bool
	streamNoLoop     bool
	streamCompress   int
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move WAL segments in and out of the vault",
	Long: `Subcommands for the WAL half of the vault. put and get are the
engine's archive_command and restore_command hooks; run and stream keep
segments flowing without engine hooks; status inspects the archive.`,
}

var archivePutCmd = &cobra.Command{
	Use:   "put <segment-file>",
	Short: "Archive one WAL segment file",
	Long: `Archive a single finished segment into the vault. This is the
archive_command hook:

  archive_command = 'walvault --root /srv/vault archive put %p'

Archiving the same segment twice with identical content succeeds
quietly, so the engine may retry safely. The same name with different
content is refused; that archive corruption needs an operator.`,
	Args: requireArg("segment file path"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchivePut(cmd.Context(), args[0])
	},
}

var archiveGetCmd = &cobra.Command{
	Use:   "get <segment-name> <destination>",
	Short: "Fetch one segment out of the vault",
	Long: `Copy a segment out of the archive, decompressing if stored
compressed. This is the restore_command hook:

  restore_command = 'walvault --root /srv/vault archive get %f %p'

A segment the archive does not hold exits nonzero, which is how the
engine learns the archive is exhausted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchiveGet(args[0], args[1])
	},
}

var archiveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep the spool directory into the vault until interrupted",
	Long: `Watch the spool directory and archive finished segments as they
appear. Files still growing are left alone until their size holds
steady for the stability window. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchiveSpool(cmd.Context())
	},
}

var archiveStreamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream WAL from the engine into the vault until interrupted",
	Long: `Run pg_receivewal against the engine so segments reach the vault as
they are produced, without waiting for the engine's archive_command.
Finished segments land in the spool and are swept into the archive.
Runs until interrupted.

A replication slot (--slot) keeps the engine from recycling WAL the
stream has not consumed yet across restarts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchiveStream(cmd.Context())
	},
}

var archiveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the archive head, span and any gaps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchiveStatus()
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archivePutCmd)
	archiveCmd.AddCommand(archiveGetCmd)
	archiveCmd.AddCommand(archiveRunCmd)
	archiveCmd.AddCommand(archiveStreamCmd)
	archiveCmd.AddCommand(archiveStatusCmd)

	archiveStreamCmd.Flags().StringVar(&streamSlot, "slot", "", "Replication slot to stream from")
	archiveStreamCmd.Flags().BoolVar(&streamCreateSlot, "create-slot", false, "Create the slot if it does not exist")
	archiveStreamCmd.Flags().BoolVar(&streamSync, "synchronous", false, "Flush and report after every segment")
	archiveStreamCmd.Flags().BoolVar(&streamNoLoop, "no-loop", false, "Exit on disconnect instead of retrying")
	archiveStreamCmd.Flags().IntVar(&streamCompress, "compress-level", 0, "Gzip level for spooled segments (0 = off)")
}

func runArchivePut(ctx context.Context, path string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	arch := wal.NewArchiver(store, cfg.SpoolDir, cfg.SpoolPollInterval, cfg.SpoolStabilityWindow, log)
	return arch.ArchiveFile(ctx, path)
}

func runArchiveGet(name, dest string) error {
	id, err := wal.ParseSegmentID(name)
	if err != nil {
		// timeline history and label files are not segments; a nonzero
		// exit tells the engine to look elsewhere
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	rc, err := store.Open(id)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := fs.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return out.Close()
}

func runArchiveSpool(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	arch := wal.NewArchiver(store, cfg.SpoolDir, cfg.SpoolPollInterval, cfg.SpoolStabilityWindow, log)
	log.Info("Spool archiver running", "spool", cfg.SpoolDir, "archive", store.Dir())

	err = arch.Run(ctx)
	if errors.Is(err, context.Canceled) {
		// interrupted is the normal way to stop a daemon
		return nil
	}
	return err
}

func runArchiveStream(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	handler := cleanup.NewHandler(log)
	handler.RegisterSignalHandler()

	streamer := wal.NewStreamer(wal.StreamConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Password:       cfg.Password,
		SpoolDir:       cfg.SpoolDir,
		Tool:           cfg.ToolPath("pg_receivewal"),
		Slot:           streamSlot,
		CreateSlot:     streamCreateSlot,
		Synchronous:    streamSync,
		NoLoop:         streamNoLoop,
		CompressionLvl: streamCompress,
	}, log)

	if err := streamer.Start(ctx, handler); err != nil {
		return err
	}

	// sweep what the stream lands while it runs
	arch := wal.NewArchiver(store, cfg.SpoolDir, cfg.SpoolPollInterval, cfg.SpoolStabilityWindow, log)
	runErr := arch.Run(ctx)

	if err := streamer.Stop(); err != nil {
		log.Warn("Stopping the WAL stream", "error", err)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func runArchiveStatus() error {
	store, err := openStore()
	if err != nil {
		return err
	}

	entries, err := store.List()
	if err != nil {
		return err
	}
	head, err := store.Head()
	if err != nil {
		return err
	}

	fmt.Printf("Archive: %s\n", store.Dir())
	if len(entries) == 0 {
		fmt.Println("  (empty)")
		return nil
	}

	var stored int64
	for _, e := range entries {
		stored += e.SizeBytes
	}
	first := entries[0].Segment

	fmt.Printf("  Segments: %d\n", len(entries))
	fmt.Printf("  Span:     [%s, %s]\n", first, head)
	fmt.Printf("  Stored:   %s\n", humanize.Bytes(uint64(stored)))
	fmt.Printf("  Newest:   %s (%s)\n",
		entries[len(entries)-1].ArrivalTime.Format(time.RFC3339),
		humanize.Time(entries[len(entries)-1].ArrivalTime))

	report, err := store.VerifyChain(first, head)
	if err != nil {
		return err
	}
	if report.Complete() {
		fmt.Println("  Chain:    complete")
	} else {
		fmt.Printf("  Chain:    %d segment(s) missing\n", len(report.Missing))
		for _, id := range report.Missing {
			fmt.Printf("            %s\n", id)
		}
	}
	return nil
}
