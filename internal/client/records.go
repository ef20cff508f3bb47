package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raphaelgruber/pbtransfer/internal/models"
)

const (
	defaultPerPage = 200
	maxPerPage     = 1000
)

// listResponse is one page of a records list.
type listResponse struct {
	Page       int             `json:"page"`
	PerPage    int             `json:"perPage"`
	TotalItems int             `json:"totalItems"`
	TotalPages int             `json:"totalPages"`
	Items      []models.Record `json:"items"`
}

// List fetches every record of a collection sorted by creation time,
// walking all pages.
func (c *Client) List(ctx context.Context, collection string, batchSize int) ([]models.Record, error) {
	perPage := batchSize
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	var records []models.Record
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("perPage", strconv.Itoa(perPage))
		query.Set("sort", "created")

		var resp listResponse
		err := c.do(ctx, request{method: http.MethodGet, path: recordsPath(collection), query: query}, &resp)
		if err != nil {
			return nil, fmt.Errorf("list %s page %d: %w", collection, page, err)
		}
		records = append(records, resp.Items...)

		if len(resp.Items) == 0 || page >= resp.TotalPages {
			break
		}
	}

	models.SortByCreated(records)
	c.logger.Debug("listed records", "endpoint", c.baseURL, "collection", collection, "count", len(records))
	return records, nil
}

// Create inserts a record and returns it as stored. It is sent once: a
// server error is returned rather than retried.
func (c *Client) Create(ctx context.Context, collection string, fields models.Fields) (models.Record, error) {
	req, err := jsonRequest(http.MethodPost, recordsPath(collection), fields)
	if err != nil {
		return models.Record{}, err
	}
	req.noRetry = true

	var rec models.Record
	if err := c.do(ctx, req, &rec); err != nil {
		return models.Record{}, fmt.Errorf("create %s record: %w", collection, err)
	}
	if rec.ID == "" {
		return models.Record{}, fmt.Errorf("create %s record: response carried no id", collection)
	}
	return rec, nil
}

// Update patches the given fields of a record.
func (c *Client) Update(ctx context.Context, collection, id string, fields models.Fields) error {
	req, err := jsonRequest(http.MethodPatch, recordsPath(collection, id), fields)
	if err != nil {
		return err
	}
	if err := c.do(ctx, req, nil); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	err := c.do(ctx, request{method: http.MethodDelete, path: recordsPath(collection, id)}, nil)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}
