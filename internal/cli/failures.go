package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/journal"
	"github.com/spf13/cobra"
)

var (
	failuresJournal string
	failuresRuns    bool
	failuresLimit   int
)

var failuresCmd = &cobra.Command{
	Use:   "failures [run-id]",
	Short: "Show failures recorded in the run journal",
	Long: `Show the record, attachment and link failures of a journaled run.
Without a run id the most recent run is shown.

Examples:
  pbtransfer failures                 # Failures of the latest run
  pbtransfer failures 3f2a...         # Failures of a specific run
  pbtransfer failures --runs          # List recorded runs`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFailures,
}

func init() {
	failuresCmd.Flags().StringVar(&failuresJournal, "journal", "", "SQLite journal file (default $JOURNAL_PATH)")
	failuresCmd.Flags().BoolVar(&failuresRuns, "runs", false, "list recorded runs instead of failures")
	failuresCmd.Flags().IntVarP(&failuresLimit, "limit", "n", 20, "maximum runs to list")
}

func runFailures(cmd *cobra.Command, args []string) error {
	setupLogging(os.Stderr)

	path := failuresJournal
	if path == "" {
		path = cfg.JournalPath
	}
	if path == "" {
		return errors.New("no journal configured: pass --journal or set JOURNAL_PATH")
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	if failuresRuns {
		return listRuns(ctx, os.Stdout, j, failuresLimit)
	}

	runID := ""
	if len(args) == 1 {
		runID = args[0]
	} else {
		runID, err = j.LatestRunID(ctx)
		if errors.Is(err, journal.ErrNoRuns) {
			fmt.Println("No runs recorded")
			return nil
		}
		if err != nil {
			return err
		}
	}
	return showFailures(ctx, os.Stdout, j, runID)
}

func listRuns(ctx context.Context, w io.Writer, j *journal.Journal, limit int) error {
	runs, err := j.Runs(ctx, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-19s %-10s %-11s %s\n", "ID", "STARTED", "DURATION", "COLLECTIONS", "FAILURES")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s %-19s %-10s %-11d %d\n",
			r.ID, r.Started.Local().Format("2006-01-02 15:04:05"),
			r.Finished.Sub(r.Started).Round(time.Second), r.Collections, r.Failures)
	}
	return nil
}

func showFailures(ctx context.Context, w io.Writer, j *journal.Journal, runID string) error {
	failures, err := j.Failures(ctx, runID)
	if err != nil {
		return fmt.Errorf("get failures: %w", err)
	}

	fmt.Fprintf(w, "Run: %s\n", runID)
	if len(failures) == 0 {
		fmt.Fprintln(w, "  No failures")
		return nil
	}

	fmt.Fprintf(w, "\n%-20s %-16s %-8s %-24s %s\n", "COLLECTION", "RECORD", "STAGE", "ATTACHMENT", "ERROR")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------")
	for _, f := range failures {
		attachment := f.Attachment
		if f.Field != "" && attachment != "" {
			attachment = f.Field + "/" + attachment
		}
		fmt.Fprintf(w, "%-20s %-16s %-8s %-24s %s\n", f.Collection, f.RecordID, f.Stage, attachment, f.Message)
	}
	fmt.Fprintf(w, "\n%d failures\n", len(failures))
	return nil
}
