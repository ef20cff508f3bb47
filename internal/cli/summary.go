package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/metrics"
	"github.com/raphaelgruber/pbtransfer/internal/migrate"
)

// maxListedFailures caps the failures printed per collection.
const maxListedFailures = 10

// printSummary writes the per-collection results of a run.
func printSummary(w io.Writer, report *migrate.Report) {
	fmt.Fprintf(w, "\nTransfer %s\n", report.RunID)
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")

	for _, res := range report.Results {
		mark := "✓"
		if !res.OK() {
			mark = "✗"
		}
		fmt.Fprintf(w, "\n%s %s", mark, res.Collection)
		if res.Hierarchical {
			fmt.Fprintf(w, " (hierarchical)")
		}
		fmt.Fprintln(w, ":")

		if res.Err != nil {
			fmt.Fprintf(w, "  Error: %v\n", res.Err)
		}
		fmt.Fprintf(w, "  Records:      %d/%d transferred", res.Succeeded, res.Total)
		if res.Failed > 0 {
			fmt.Fprintf(w, ", %d failed", res.Failed)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Cleared:      %d", res.Deleted)
		if res.DeleteFailed > 0 {
			fmt.Fprintf(w, ", %d could not be deleted", res.DeleteFailed)
		}
		fmt.Fprintln(w)
		if res.AttachmentsUploaded > 0 || res.AttachmentsFailed > 0 {
			fmt.Fprintf(w, "  Attachments:  %d uploaded, %d failed\n", res.AttachmentsUploaded, res.AttachmentsFailed)
		}
		if res.Hierarchical {
			fmt.Fprintf(w, "  Links:        %d updated, %d dropped, %d failed\n", res.LinksUpdated, res.LinksDropped, res.LinksFailed)
		}
		fmt.Fprintf(w, "  Duration:     %s\n", res.Duration.Round(time.Millisecond))

		if len(res.Failures) > 0 {
			fmt.Fprintf(w, "  Failures (%d):\n", len(res.Failures))
			for i, f := range res.Failures {
				if i == maxListedFailures {
					fmt.Fprintf(w, "    … %d more\n", len(res.Failures)-maxListedFailures)
					break
				}
				fmt.Fprintf(w, "    • %s\n", f.Error())
			}
		}
	}

	totals := report.Totals()
	fmt.Fprintf(w, "\nTotal: %d/%d records in %d collections, %s\n",
		totals.Succeeded, totals.Total, len(report.Results), totals.Duration.Round(time.Millisecond))
}

// printStats displays per-operation timings.
func printStats(w io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(w, "Operation Statistics\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Elapsed: %.1f seconds\n", snap.UptimeSeconds)

	for _, op := range snap.Operations {
		fmt.Fprintf(w, "\n%s:\n", op.Name)
		fmt.Fprintf(w, "  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
		fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
		if op.TotalBytes != nil {
			fmt.Fprintf(w, "  Bytes: %d\n", *op.TotalBytes)
		}
	}
}

// lineObserver prints progress lines for non-interactive output.
type lineObserver struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineObserver(w io.Writer) *lineObserver {
	return &lineObserver{w: w}
}

func (o *lineObserver) CollectionStarted(collection string, steps int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "%s: started (%d steps)\n", collection, steps)
}

func (o *lineObserver) BatchCompleted(collection string, done, steps int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "%s: %d/%d\n", collection, done, steps)
}

func (o *lineObserver) CollectionFinished(res migrate.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if res.Err != nil {
		fmt.Fprintf(o.w, "%s: failed: %v\n", res.Collection, res.Err)
		return
	}
	fmt.Fprintf(o.w, "%s: done, %d/%d records\n", res.Collection, res.Succeeded, res.Total)
}
