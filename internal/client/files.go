package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/raphaelgruber/pbtransfer/internal/store"
)

const fileTokenPath = "/api/files/token"

// fileTokenResponse carries a short-lived token for protected files.
type fileTokenResponse struct {
	Token string `json:"token"`
}

// FetchAttachment downloads a record file. A file token is requested first
// so protected files are readable.
func (c *Client) FetchAttachment(ctx context.Context, collection, id, name string) ([]byte, error) {
	var tok fileTokenResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: fileTokenPath}, &tok); err != nil {
		return nil, fmt.Errorf("file token: %w", err)
	}

	path := "/api/files/" + url.PathEscape(collection) + "/" + url.PathEscape(id) + "/" + url.PathEscape(name)
	query := url.Values{}
	if tok.Token != "" {
		query.Set("token", tok.Token)
	}

	data, err := c.send(ctx, request{method: http.MethodGet, path: path, query: query, auth: true})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download %s: %w", name, store.ErrEmptyAttachment)
	}
	return data, nil
}

// UploadAttachments sends files as one multipart PATCH. Every file is a
// part named after the field, in order. PocketBase derives the stored shape
// from its own field schema.
func (c *Client) UploadAttachments(ctx context.Context, collection, id string, field models.AttachmentField, files []store.File) error {
	if len(files) == 0 {
		return nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(field.Name, f.Name)
		if err != nil {
			return fmt.Errorf("multipart %s: %w", f.Name, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("multipart %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("multipart close: %w", err)
	}

	req := request{
		method:      http.MethodPatch,
		path:        recordsPath(collection, id),
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	}
	if err := c.do(ctx, req, nil); err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", field.Name, collection, id, err)
	}
	return nil
}
