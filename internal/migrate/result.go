package migrate

import (
	"errors"
	"time"
)

// ErrUnmappedReference marks a self reference whose record or parent was
// never re-created on the destination.
var ErrUnmappedReference = errors.New("reference not in identity map")

// Stage names the step a Failure happened in.
type Stage string

const (
	StageClear    Stage = "clear"
	StageCreate   Stage = "create"
	StageDownload Stage = "download"
	StageUpload   Stage = "upload"
	StageRelink   Stage = "relink"
)

// Failure is one non-fatal error recorded during a collection transfer.
type Failure struct {
	Collection string
	// RecordID is the source record identifier, or the destination one for
	// clearing failures.
	RecordID string
	Field    string
	// Attachment is the attachment name for download failures.
	Attachment string
	Stage      Stage
	Err        error
}

func (f Failure) Error() string {
	msg := string(f.Stage) + " " + f.Collection
	if f.RecordID != "" {
		msg += "/" + f.RecordID
	}
	if f.Field != "" {
		msg += " field " + f.Field
	}
	if f.Attachment != "" {
		msg += " (" + f.Attachment + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Result summarizes the transfer of one collection.
type Result struct {
	Collection   string
	Hierarchical bool

	Total     int
	Succeeded int
	Failed    int

	Deleted      int
	DeleteFailed int

	AttachmentsUploaded int
	AttachmentsFailed   int

	LinksUpdated int
	LinksDropped int
	LinksFailed  int

	Failures []Failure

	// Err is set when the collection could not be transferred at all.
	Err      error
	Duration time.Duration
}

func (r *Result) addFailure(f Failure) {
	f.Collection = r.Collection
	r.Failures = append(r.Failures, f)
}

// OK reports whether the collection finished without any failure.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Failures) == 0
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []Result
}

// Totals sums the counters of all results.
func (r *Report) Totals() Result {
	var total Result
	for _, res := range r.Results {
		total.Total += res.Total
		total.Succeeded += res.Succeeded
		total.Failed += res.Failed
		total.Deleted += res.Deleted
		total.DeleteFailed += res.DeleteFailed
		total.AttachmentsUploaded += res.AttachmentsUploaded
		total.AttachmentsFailed += res.AttachmentsFailed
		total.LinksUpdated += res.LinksUpdated
		total.LinksDropped += res.LinksDropped
		total.LinksFailed += res.LinksFailed
		total.Failures = append(total.Failures, res.Failures...)
	}
	total.Duration = r.Finished.Sub(r.Started)
	return total
}

// FailedCollections returns the results that ended with a collection-fatal error.
func (r *Report) FailedCollections() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}
