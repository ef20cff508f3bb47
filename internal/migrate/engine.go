// Package migrate moves the records and attachments of configured
// collections from a source store to a destination store, re-linking
// self-referential hierarchies through an identity map.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/raphaelgruber/pbtransfer/internal/staging"
	"github.com/raphaelgruber/pbtransfer/internal/store"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of records between progress reports.
const DefaultBatchSize = 50

// Observer receives progress events. Implementations must be safe for
// concurrent use when collections run in parallel.
type Observer interface {
	// CollectionStarted is called once the source records are known. steps
	// is the number of record steps the collection will report: one per
	// record for flat collections, two for hierarchical ones.
	CollectionStarted(collection string, steps int)
	// BatchCompleted reports the number of steps done so far.
	BatchCompleted(collection string, done, steps int)
	// CollectionFinished is called exactly once per collection, also when
	// the collection failed before it started.
	CollectionFinished(result Result)
}

type nopObserver struct{}

func (nopObserver) CollectionStarted(string, int) {}
func (nopObserver) BatchCompleted(string, int, int) {}
func (nopObserver) CollectionFinished(Result) {}

// Options tune a run.
type Options struct {
	// BatchSize is the number of records per batch. Batches only drive
	// progress reporting and page sizes.
	BatchSize int
	// DownloadTimeout bounds each attachment download.
	DownloadTimeout time.Duration
	// Attachments is the run-wide attachment schema.
	Attachments models.AttachmentSchema
	// Concurrency is the number of flat collections transferred at once.
	// Hierarchical collections always run alone.
	Concurrency int
	Observer    Observer
}

// Engine transfers collections between two stores.
type Engine struct {
	source      store.Client
	dest        store.Client
	attachments *AttachmentMigrator
	opts        Options
	logger      *slog.Logger
}

// New creates an engine. Staged attachment bytes go to area.
func New(source, dest store.Client, area *staging.Area, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultDownloadTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	return &Engine{
		source: source,
		dest:   dest,
		attachments: &AttachmentMigrator{
			Source:          source,
			Dest:            dest,
			Staging:         area,
			DownloadTimeout: opts.DownloadTimeout,
			Logger:          logger,
		},
		opts:   opts,
		logger: logger,
	}
}

// Run authenticates against both stores and transfers every collection in
// order. An authentication failure aborts the run. Collection failures are
// recorded on their Result and the run continues. A cancelled context stops
// the run between records; the partial report is returned with the error.
func (e *Engine) Run(ctx context.Context, specs []models.CollectionSpec) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}

	e.logger.Info("starting transfer",
		"run_id", report.RunID,
		"from", e.source.Endpoint(),
		"to", e.dest.Endpoint(),
		"collections", len(specs))

	if err := e.source.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticate source %s: %w", e.source.Endpoint(), err)
	}
	if err := e.dest.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticate destination %s: %w", e.dest.Endpoint(), err)
	}
	e.logger.Info("authenticated with both stores")

	results := make([]*Result, len(specs))
	var group *errgroup.Group
	wait := func() {
		if group != nil {
			_ = group.Wait()
			group = nil
		}
	}

	for i, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		if spec.HasSelfReference() || e.opts.Concurrency == 1 {
			wait()
			res := e.TransferCollection(ctx, spec)
			results[i] = &res
			continue
		}
		if group == nil {
			group = new(errgroup.Group)
			group.SetLimit(e.opts.Concurrency)
		}
		group.Go(func() error {
			res := e.TransferCollection(ctx, spec)
			results[i] = &res
			return nil
		})
	}
	wait()

	for _, res := range results {
		if res != nil {
			report.Results = append(report.Results, *res)
		}
	}
	report.Finished = time.Now()

	totals := report.Totals()
	e.logger.Info("transfer finished",
		"run_id", report.RunID,
		"records", totals.Total,
		"succeeded", totals.Succeeded,
		"failed", totals.Failed,
		"duration", totals.Duration)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("transfer interrupted: %w", err)
	}
	return report, nil
}

// TransferCollection clears the destination collection and re-creates the
// source records in it, using the two-phase algorithm when the collection
// has a self reference.
func (e *Engine) TransferCollection(ctx context.Context, spec models.CollectionSpec) Result {
	start := time.Now()
	res := Result{Collection: spec.Name, Hierarchical: spec.HasSelfReference()}
	log := e.logger.With("collection", spec.Name)

	err := e.transfer(ctx, spec, &res, log)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		log.Error("collection transfer failed", "error", err)
	} else {
		log.Info("collection transferred",
			"succeeded", res.Succeeded,
			"total", res.Total,
			"failed", res.Failed,
			"attachments", res.AttachmentsUploaded,
			"duration", res.Duration)
	}

	e.opts.Observer.CollectionFinished(res)
	return res
}

func (e *Engine) transfer(ctx context.Context, spec models.CollectionSpec, res *Result, log *slog.Logger) error {
	log.Info("clearing destination collection")
	if err := e.clear(ctx, spec.Name, res, log); err != nil {
		return err
	}

	log.Info("fetching source records")
	records, err := e.source.List(ctx, spec.Name, e.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list source: %w", err)
	}
	res.Total = len(records)
	if len(records) == 0 {
		log.Info("no records found in source collection")
		e.opts.Observer.CollectionStarted(spec.Name, 0)
		return nil
	}
	log.Info("found records to transfer", "count", len(records))

	schema := spec.AttachmentSchemaOr(e.opts.Attachments)
	if spec.HasSelfReference() {
		e.opts.Observer.CollectionStarted(spec.Name, 2*len(records))
		return e.transferHierarchy(ctx, spec, schema, records, res, log)
	}
	e.opts.Observer.CollectionStarted(spec.Name, len(records))
	return e.transferFlat(ctx, spec, schema, records, res, log)
}

// clear deletes every record of the destination collection. Per-record
// delete failures are recorded and clearing continues.
func (e *Engine) clear(ctx context.Context, collection string, res *Result, log *slog.Logger) error {
	existing, err := e.dest.List(ctx, collection, e.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list destination: %w", err)
	}

	for _, rec := range existing {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.dest.Delete(ctx, collection, rec.ID); err != nil {
			log.Warn("failed to delete destination record", "record", rec.ID, "error", err)
			res.DeleteFailed++
			res.addFailure(Failure{RecordID: rec.ID, Stage: StageClear, Err: err})
			continue
		}
		res.Deleted++
	}

	log.Info("deleted existing destination records", "count", res.Deleted, "failed", res.DeleteFailed)
	return nil
}

// batches calls fn for every record in order and reports progress after
// each batch. offset and steps place the batches within the collection's
// overall progress. It stops early when ctx is cancelled.
func (e *Engine) batches(ctx context.Context, collection string, records []models.Record, offset, steps int, log *slog.Logger, fn func(models.Record)) error {
	size := e.opts.BatchSize
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		for _, rec := range records[start:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(rec)
		}
		log.Debug("batch complete", "batch", start/size+1, "records", end)
		e.opts.Observer.BatchCompleted(collection, offset+end, steps)
	}
	return nil
}

// createRecord re-creates rec on the destination without the system,
// attachment and extra drop fields, then migrates its attachments. It
// returns the destination identifier.
func (e *Engine) createRecord(ctx context.Context, collection string, schema models.AttachmentSchema, rec models.Record, res *Result, log *slog.Logger, drop ...string) (string, bool) {
	omit := append(schema.Names(), drop...)
	created, err := e.dest.Create(ctx, collection, rec.Project(omit...))
	if err != nil {
		log.Warn("failed to transfer record", "record", rec.ID, "error", err)
		res.Failed++
		res.addFailure(Failure{RecordID: rec.ID, Stage: StageCreate, Err: err})
		return "", false
	}
	res.Succeeded++
	log.Debug("transferred record", "record", rec.ID, "dest_record", created.ID)

	e.migrateAttachments(ctx, collection, schema, rec, created.ID, res, log)
	return created.ID, true
}

// migrateAttachments runs the attachment migrator for every non-empty
// attachment field of rec.
func (e *Engine) migrateAttachments(ctx context.Context, collection string, schema models.AttachmentSchema, rec models.Record, destID string, res *Result, log *slog.Logger) {
	for _, field := range schema {
		v, ok := rec.Get(field.Name)
		if !ok || models.IsEmpty(v) {
			continue
		}
		names := models.Strings(v)
		if len(names) == 0 {
			continue
		}

		out, err := e.attachments.Migrate(ctx, AttachmentJob{
			Collection: collection,
			SourceID:   rec.ID,
			DestID:     destID,
			Field:      field,
			Names:      names,
		})
		res.AttachmentsUploaded += out.Uploaded
		res.AttachmentsFailed += out.Failed
		for _, f := range out.Failures {
			res.addFailure(f)
		}
		if err != nil {
			log.Warn("attachment upload failed", "record", rec.ID, "dest_record", destID, "field", field.Name, "error", err)
			res.addFailure(Failure{RecordID: rec.ID, Field: field.Name, Stage: StageUpload, Err: err})
		}
	}
}
