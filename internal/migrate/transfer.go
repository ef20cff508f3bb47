package migrate

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/pbtransfer/internal/models"
)

// transferFlat re-creates every record in order. A failed create is
// recorded and the next record is attempted.
func (e *Engine) transferFlat(ctx context.Context, spec models.CollectionSpec, schema models.AttachmentSchema, records []models.Record, res *Result, log *slog.Logger) error {
	return e.batches(ctx, spec.Name, records, 0, len(records), log, func(rec models.Record) {
		e.createRecord(ctx, spec.Name, schema, rec, res, log)
	})
}
