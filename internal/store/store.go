// Package store defines the record store abstraction the migration engine
// talks to. Concrete stores live in internal/client (PocketBase REST) and
// internal/db (SurrealDB).
package store

import (
	"context"
	"errors"
	"io"

	"github.com/raphaelgruber/pbtransfer/internal/models"
)

// Sentinel errors shared by store implementations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the record or attachment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the session was rejected or credentials are wrong.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEmptyAttachment indicates an attachment was retrieved with zero bytes.
	ErrEmptyAttachment = errors.New("empty attachment")
)

// File is one attachment payload handed to UploadAttachments.
type File struct {
	// Name is the filename the destination should store the bytes under.
	Name    string
	Content io.Reader
}

// Client is one endpoint of a migration: the source or the destination store.
type Client interface {
	// Endpoint returns a human readable address for logs.
	Endpoint() string

	// Authenticate exchanges the configured credentials for a new session.
	Authenticate(ctx context.Context) error

	// EnsureAuth re-authenticates when the current session is missing or expired.
	EnsureAuth(ctx context.Context) error

	// List returns every record of a collection ordered by creation time
	// ascending. batchSize is a page size hint; paging is transparent.
	List(ctx context.Context, collection string, batchSize int) ([]models.Record, error)

	// Create stores a new record and returns it with its assigned identifier.
	Create(ctx context.Context, collection string, fields models.Fields) (models.Record, error)

	// Update applies a partial field update to an existing record.
	Update(ctx context.Context, collection, id string, fields models.Fields) error

	// Delete removes a record.
	Delete(ctx context.Context, collection, id string) error

	// FetchAttachment returns the raw bytes of a named attachment of a record.
	FetchAttachment(ctx context.Context, collection, id, name string) ([]byte, error)

	// UploadAttachments attaches files to an attachment field of a record.
	// Files are sent in order. A multiple field keeps list shape even when
	// only one file is given.
	UploadAttachments(ctx context.Context, collection, id string, field models.AttachmentField, files []File) error
}
