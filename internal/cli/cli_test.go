package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/journal"
	"github.com/raphaelgruber/pbtransfer/internal/metrics"
	"github.com/raphaelgruber/pbtransfer/internal/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *migrate.Report {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &migrate.Report{
		RunID:    "run-1",
		Started:  started,
		Finished: started.Add(2 * time.Second),
		Results: []migrate.Result{
			{
				Collection:          "posts",
				Total:               3,
				Succeeded:           2,
				Failed:              1,
				Deleted:             4,
				AttachmentsUploaded: 2,
				Failures: []migrate.Failure{
					{Collection: "posts", RecordID: "abc", Stage: migrate.StageCreate, Err: errors.New("boom")},
				},
			},
			{
				Collection:   "categories",
				Hierarchical: true,
				Total:        2,
				Succeeded:    2,
				LinksUpdated: 1,
				LinksDropped: 1,
			},
			{
				Collection: "tags",
				Err:        errors.New("list source: unauthorized"),
			},
		},
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, sampleReport())
	out := buf.String()

	assert.Contains(t, out, "Transfer run-1")
	assert.Contains(t, out, "✗ posts:")
	assert.Contains(t, out, "Records:      2/3 transferred, 1 failed")
	assert.Contains(t, out, "Attachments:  2 uploaded, 0 failed")
	assert.Contains(t, out, "create posts/abc: boom")
	assert.Contains(t, out, "✓ categories (hierarchical):")
	assert.Contains(t, out, "Links:        1 updated, 1 dropped, 0 failed")
	assert.Contains(t, out, "Error: list source: unauthorized")
	assert.Contains(t, out, "Total: 4/5 records in 3 collections, 2s")
}

func TestPrintSummaryCapsFailures(t *testing.T) {
	res := migrate.Result{Collection: "posts"}
	for range maxListedFailures + 3 {
		res.Failures = append(res.Failures, migrate.Failure{Collection: "posts", Stage: migrate.StageUpload})
	}

	var buf bytes.Buffer
	printSummary(&buf, &migrate.Report{RunID: "r", Results: []migrate.Result{res}})

	assert.Equal(t, maxListedFailures, strings.Count(buf.String(), "• upload"))
	assert.Contains(t, buf.String(), "… 3 more")
}

func TestPrintStats(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordCall("source.list", 10*time.Millisecond, 0, nil)
	c.RecordCall("destination.upload", 20*time.Millisecond, 512, nil)

	var buf bytes.Buffer
	printStats(&buf, c.Snapshot())
	out := buf.String()

	assert.Contains(t, out, "source.list:")
	assert.Contains(t, out, "destination.upload:")
	assert.Contains(t, out, "Bytes: 512")
}

func TestLineObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := newLineObserver(&buf)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs.BatchCompleted("posts", 1, 2)
		}()
	}
	wg.Wait()
	obs.CollectionStarted("tags", 0)
	obs.CollectionFinished(migrate.Result{Collection: "tags", Err: errors.New("nope")})
	obs.CollectionFinished(migrate.Result{Collection: "posts", Total: 2, Succeeded: 2})

	out := buf.String()
	assert.Equal(t, 4, strings.Count(out, "posts: 1/2\n"))
	assert.Contains(t, out, "tags: started (0 steps)")
	assert.Contains(t, out, "tags: failed: nope")
	assert.Contains(t, out, "posts: done, 2/2 records")
}

func TestProgressModel(t *testing.T) {
	canceled := false
	m := newProgressModel(func() { canceled = true })
	assert.Contains(t, m.renderContent(), "Connecting")

	step := func(msg any) {
		next, _ := m.Update(msg)
		m = next.(progressModel)
	}
	step(collectionStartedMsg{name: "posts", steps: 4})
	step(collectionStartedMsg{name: "categories", steps: 2})
	step(batchCompletedMsg{name: "posts", done: 2, steps: 4})
	step(collectionFinishedMsg{result: migrate.Result{Collection: "categories", Total: 1, Succeeded: 1}})

	out := m.renderContent()
	assert.Equal(t, []string{"posts", "categories"}, m.order)
	assert.Contains(t, out, "2/4")
	assert.Contains(t, out, "1/1 records")
	assert.Contains(t, out, "Ctrl+C")
	assert.False(t, canceled)

	step(runDoneMsg{})
	assert.True(t, m.done)
	assert.NotContains(t, m.renderContent(), "Ctrl+C")
}

func TestFailuresOutput(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.RecordRun(ctx, sampleReport(), "http://a", "http://b"))

	var buf bytes.Buffer
	require.NoError(t, listRuns(ctx, &buf, j, 10))
	assert.Contains(t, buf.String(), "run-1")

	buf.Reset()
	require.NoError(t, showFailures(ctx, &buf, j, "run-1"))
	assert.Contains(t, buf.String(), "posts")
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "1 failures")

	buf.Reset()
	require.NoError(t, showFailures(ctx, &buf, j, "missing"))
	assert.Contains(t, buf.String(), "No failures")
}
