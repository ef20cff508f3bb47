package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/raphaelgruber/pbtransfer/internal/store"
	"github.com/surrealdb/surrealdb.go"
)

const (
	defaultPageSize = 200

	// timestampLayout is fixed width so timestamps sort lexicographically.
	timestampLayout = "2006-01-02 15:04:05.000Z"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// List returns every record of a collection ordered by created ascending,
// reading batchSize records per query. A table that was never written
// reads as empty.
func (c *Client) List(ctx context.Context, collection string, batchSize int) ([]models.Record, error) {
	if batchSize <= 0 {
		batchSize = defaultPageSize
	}

	var records []models.Record
	for start := 0; ; start += batchSize {
		results, err := surrealdb.Query[[]map[string]any](ctx, c.db, `
			SELECT * FROM type::table($tb) ORDER BY created ASC LIMIT $limit START $start
		`, map[string]any{"tb": collection, "limit": batchSize, "start": start})
		if err != nil {
			err = wrapQueryError(err)
			if errors.Is(err, store.ErrNotFound) && start == 0 {
				return []models.Record{}, nil
			}
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}

		var rows []map[string]any
		if results != nil && len(*results) > 0 {
			rows = (*results)[0].Result
		}
		for _, row := range rows {
			records = append(records, toRecord(row))
		}
		if len(rows) < batchSize {
			break
		}
	}

	models.SortByCreated(records)
	c.logger.Debug("listed records", "collection", collection, "count", len(records))
	return records, nil
}

// Create inserts a record with a generated ID and stamps created/updated.
func (c *Client) Create(ctx context.Context, collection string, fields models.Fields) (models.Record, error) {
	data := fields.Without(models.SystemFields...).ToMap()
	ts := now().Format(timestampLayout)
	data[models.FieldCreated] = ts
	data[models.FieldUpdated] = ts

	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, `
		CREATE type::table($tb) CONTENT $data RETURN AFTER
	`, map[string]any{"tb": collection, "data": data})
	if err != nil {
		return models.Record{}, fmt.Errorf("create %s record: %w", collection, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Record{}, fmt.Errorf("create %s record: no record returned", collection)
	}

	rec := toRecord((*results)[0].Result[0])
	if rec.ID == "" {
		return models.Record{}, fmt.Errorf("create %s record: record carried no string id", collection)
	}
	return rec, nil
}

// Update merges fields into an existing record.
func (c *Client) Update(ctx context.Context, collection, id string, fields models.Fields) error {
	data := fields.Without(models.SystemFields...).ToMap()
	data[models.FieldUpdated] = now().Format(timestampLayout)

	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, `
		UPDATE type::record($tb, $id) MERGE $data RETURN AFTER
	`, map[string]any{"tb": collection, "id": id, "data": data})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

// Delete removes a record together with its attachments.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, `
		DELETE type::record($tb, $id) RETURN BEFORE;
		DELETE attachment WHERE collection = $tb AND record = $id;
	`, map[string]any{"tb": collection, "id": id})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

// exists reports whether a record is present.
func (c *Client) exists(ctx context.Context, collection, id string) (bool, error) {
	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, `
		SELECT id FROM type::record($tb, $id)
	`, map[string]any{"tb": collection, "id": id})
	if err != nil {
		return false, wrapQueryError(err)
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}

// toRecord converts a decoded row. SurrealDB returns object keys sorted, so
// the field order of FieldsFromMap matches what the database sends.
func toRecord(row map[string]any) models.Record {
	return models.NewRecord(models.FieldsFromMap(row))
}
