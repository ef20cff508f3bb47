package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/pbtransfer/internal/models"
)

// transferHierarchy copies a self-referential collection in two passes.
// Phase 1 creates every record without its self reference and maps source
// to destination identifiers. Phase 2 points each destination record at
// the destination identifier of its parent.
func (e *Engine) transferHierarchy(ctx context.Context, spec models.CollectionSpec, schema models.AttachmentSchema, records []models.Record, res *Result, log *slog.Logger) error {
	ids := NewIdentityMap(spec.Name)
	steps := 2 * len(records)

	log.Info("phase 1: creating records", "self_reference", spec.SelfReference)
	err := e.batches(ctx, spec.Name, records, 0, steps, log, func(rec models.Record) {
		destID, ok := e.createRecord(ctx, spec.Name, schema, rec, res, log, spec.SelfReference)
		if !ok {
			return
		}
		if err := ids.Put(rec.ID, destID); err != nil {
			log.Error("identity map rejected record", "record", rec.ID, "dest_record", destID, "error", err)
			res.addFailure(Failure{RecordID: rec.ID, Stage: StageCreate, Err: err})
		}
	})
	if err != nil {
		return err
	}
	log.Info("phase 1 complete", "mapped", ids.Len())

	log.Info("phase 2: relinking records")
	err = e.batches(ctx, spec.Name, records, len(records), steps, log, func(rec models.Record) {
		e.relink(ctx, spec, ids, rec, res, log)
	})
	if err != nil {
		return err
	}
	log.Info("phase 2 complete",
		"links_updated", res.LinksUpdated,
		"links_dropped", res.LinksDropped,
		"links_failed", res.LinksFailed)
	return nil
}

// relink sets the self reference of rec's destination copy. Records without
// a reference are skipped. A reference that cannot be resolved is dropped
// and never retried.
func (e *Engine) relink(ctx context.Context, spec models.CollectionSpec, ids *IdentityMap, rec models.Record, res *Result, log *slog.Logger) {
	v, ok := rec.Get(spec.SelfReference)
	if !ok || models.IsEmpty(v) {
		return
	}

	parent, isString := v.(models.String)
	if !isString {
		log.Warn("dropping self reference that is not a record id", "record", rec.ID, "value", v.Any())
		res.LinksDropped++
		res.addFailure(Failure{
			RecordID: rec.ID,
			Field:    spec.SelfReference,
			Stage:    StageRelink,
			Err:      fmt.Errorf("%w: value %v is not a string", ErrUnmappedReference, v.Any()),
		})
		return
	}

	destID, okID := ids.Lookup(rec.ID)
	destParent, okParent := ids.Lookup(string(parent))
	if !okID || !okParent {
		log.Warn("dropping link", "record", rec.ID, "parent", string(parent),
			"record_mapped", okID, "parent_mapped", okParent)
		res.LinksDropped++
		res.addFailure(Failure{
			RecordID: rec.ID,
			Field:    spec.SelfReference,
			Stage:    StageRelink,
			Err:      fmt.Errorf("%w: parent %s", ErrUnmappedReference, parent),
		})
		return
	}

	err := e.dest.Update(ctx, spec.Name, destID, models.Fields{
		{Name: spec.SelfReference, Value: models.String(destParent)},
	})
	if err != nil {
		log.Warn("failed to relink record", "record", rec.ID, "dest_record", destID, "error", err)
		res.LinksFailed++
		res.addFailure(Failure{RecordID: rec.ID, Field: spec.SelfReference, Stage: StageRelink, Err: err})
		return
	}
	res.LinksUpdated++
}
