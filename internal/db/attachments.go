package db

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/raphaelgruber/pbtransfer/internal/store"
	"github.com/surrealdb/surrealdb.go"
)

// attachmentRow is one stored file.
type attachmentRow struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
	Size int    `json:"size"`
}

// FetchAttachment returns the bytes of a named attachment of a record.
func (c *Client) FetchAttachment(ctx context.Context, collection, id, name string) ([]byte, error) {
	results, err := surrealdb.Query[[]attachmentRow](ctx, c.db, `
		SELECT name, data, size FROM attachment
		WHERE collection = $tb AND record = $id AND name = $name
		LIMIT 1
	`, map[string]any{"tb": collection, "id": id, "name": name})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", name, store.ErrNotFound)
	}

	row := (*results)[0].Result[0]
	if len(row.Data) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", name, store.ErrEmptyAttachment)
	}
	return row.Data, nil
}

// UploadAttachments replaces the files of a record field. A single field is
// set to the stored name, a multiple field to the ordered list of names even
// when it holds one file. Names already taken on the record get a numeric
// suffix.
func (c *Client) UploadAttachments(ctx context.Context, collection, id string, attachment models.AttachmentField, files []store.File) error {
	if len(files) == 0 {
		return nil
	}
	field := attachment.Name

	ok, err := c.exists(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", field, collection, id, err)
	}
	if !ok {
		return fmt.Errorf("upload %s to %s/%s: %w", field, collection, id, store.ErrNotFound)
	}

	taken, err := c.attachmentNames(ctx, collection, id, field)
	if err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", field, collection, id, err)
	}

	rows := make([]map[string]any, 0, len(files))
	names := make([]string, 0, len(files))
	for i, f := range files {
		data, err := io.ReadAll(f.Content)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		name := uniqueName(f.Name, taken)
		taken[name] = struct{}{}
		names = append(names, name)
		rows = append(rows, map[string]any{
			"collection": collection,
			"record":     id,
			"field":      field,
			"name":       name,
			"position":   i,
			"data":       data,
			"size":       len(data),
		})
	}

	var value any = names
	if attachment.Cardinality == models.CardinalitySingle {
		value = names[0]
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		DELETE attachment WHERE collection = $tb AND record = $id AND field = $field;
		INSERT INTO attachment $rows;
		UPDATE type::record($tb, $id) MERGE $patch;
		COMMIT TRANSACTION;
	`, map[string]any{
		"tb":    collection,
		"id":    id,
		"field": field,
		"rows":  rows,
		"patch": map[string]any{field: value},
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", field, collection, id, wrapQueryError(err))
	}

	c.logger.Debug("stored attachments", "collection", collection, "record", id, "field", field, "count", len(names))
	return nil
}

// attachmentNames returns the names used by the record's other fields.
// Files of the target field are replaced and do not count.
func (c *Client) attachmentNames(ctx context.Context, collection, id, field string) (map[string]struct{}, error) {
	results, err := surrealdb.Query[[]attachmentRow](ctx, c.db, `
		SELECT name FROM attachment WHERE collection = $tb AND record = $id AND field != $field
	`, map[string]any{"tb": collection, "id": id, "field": field})
	if err != nil {
		return nil, wrapQueryError(err)
	}

	taken := map[string]struct{}{}
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			taken[row.Name] = struct{}{}
		}
	}
	return taken, nil
}

// uniqueName appends _1, _2, ... before the extension until name is free.
func uniqueName(name string, taken map[string]struct{}) string {
	if _, ok := taken[name]; !ok {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := base + "_" + strconv.Itoa(i) + ext
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
