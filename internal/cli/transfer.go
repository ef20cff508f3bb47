package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/pbtransfer/internal/journal"
	"github.com/raphaelgruber/pbtransfer/internal/metrics"
	"github.com/raphaelgruber/pbtransfer/internal/migrate"
	"github.com/raphaelgruber/pbtransfer/internal/staging"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	transferParallel   int
	transferStats      bool
	transferJournal    string
	transferNoProgress bool
)

var transferCmd = &cobra.Command{
	Use:     "transfer",
	Aliases: []string{"run"},
	Short:   "Transfer the configured collections",
	Long: `Clear each configured collection on the destination and re-create the
source records in it, in creation order. Attachments are downloaded, staged
locally and uploaded to the new records. Collections with a self reference
are copied in two phases and their parent links re-pointed at the new ids.

Individual record, attachment and link failures are reported but do not
change the exit code. Configuration and authentication errors do.

Examples:
  pbtransfer transfer
  pbtransfer transfer --config transfer.yaml --stats
  pbtransfer transfer --parallel 4 --journal runs.db`,
	RunE: runTransfer,
}

func init() {
	transferCmd.Flags().IntVarP(&transferParallel, "parallel", "p", 0, "flat collections transferred at once (default $PARALLEL or 1)")
	transferCmd.Flags().BoolVar(&transferStats, "stats", false, "print per-operation timing after the run")
	transferCmd.Flags().StringVar(&transferJournal, "journal", "", "SQLite journal file for run results (default $JOURNAL_PATH)")
	transferCmd.Flags().BoolVar(&transferNoProgress, "no-progress", false, "disable the progress display")
}

func runTransfer(cmd *cobra.Command, args []string) error {
	if transferParallel > 0 {
		cfg.Parallel = transferParallel
	}
	if transferJournal != "" {
		cfg.JournalPath = transferJournal
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	interactive := !transferNoProgress && term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		// The progress display owns the terminal; logs go to the file only.
		setupLogging(io.Discard)
	} else {
		setupLogging(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := openStore(ctx, cfg.Source, "source")
	if err != nil {
		return err
	}
	defer closeSource()
	dest, closeDest, err := openStore(ctx, cfg.Destination, "destination")
	if err != nil {
		return err
	}
	defer closeDest()

	collector := metrics.NewCollector()
	opts := migrate.Options{
		BatchSize:       cfg.BatchSize,
		DownloadTimeout: cfg.DownloadTimeout,
		Attachments:     cfg.AttachmentSchema(),
		Concurrency:     cfg.Parallel,
	}
	area := staging.NewOS(cfg.StagingDir)
	logger.Debug("staging attachments", "dir", area.Dir())
	run := func(ctx context.Context, obs migrate.Observer) (*migrate.Report, error) {
		opts.Observer = obs
		engine := migrate.New(
			metrics.Instrument(source, collector, "source"),
			metrics.Instrument(dest, collector, "destination"),
			area,
			opts,
			logger,
		)
		return engine.Run(ctx, cfg.CollectionSpecs())
	}

	var report *migrate.Report
	if interactive {
		report, err = runWithProgress(ctx, run)
	} else {
		report, err = run(ctx, newLineObserver(os.Stdout))
	}
	if report == nil {
		return err
	}
	for _, res := range report.Results {
		collector.RecordTiming("collection."+res.Collection, res.Duration)
	}

	printSummary(os.Stdout, report)
	if transferStats {
		fmt.Println()
		printStats(os.Stdout, collector.Snapshot())
	}

	if cfg.JournalPath != "" {
		if jerr := recordRun(report); jerr != nil {
			logger.Error("failed to write journal", "path", cfg.JournalPath, "error", jerr)
			fmt.Fprintf(os.Stderr, "Warning: failed to write journal: %v\n", jerr)
		} else {
			fmt.Printf("\nRun %s recorded in %s\n", report.RunID, cfg.JournalPath)
		}
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("transfer interrupted, %d of %d collections processed", len(report.Results), len(cfg.Collections))
	}
	return err
}

// recordRun writes the report to the configured journal.
func recordRun(report *migrate.Report) error {
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()
	return j.RecordRun(context.Background(), report, cfg.Source.URL, cfg.Destination.URL)
}
