package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/raphaelgruber/pbtransfer/internal/staging"
	"github.com/raphaelgruber/pbtransfer/internal/store"
)

// DefaultDownloadTimeout bounds a single attachment download.
const DefaultDownloadTimeout = 30 * time.Second

// AttachmentMigrator moves the files of one attachment field from a source
// record to a destination record through the staging area.
type AttachmentMigrator struct {
	Source          store.Client
	Dest            store.Client
	Staging         *staging.Area
	DownloadTimeout time.Duration
	Logger          *slog.Logger
}

// AttachmentJob names the files to move for one field of one record.
type AttachmentJob struct {
	Collection string
	SourceID   string
	DestID     string
	Field      models.AttachmentField
	// Names are the attachment names in source order.
	Names []string
}

// AttachmentOutcome counts what happened to the files of a job.
type AttachmentOutcome struct {
	Uploaded int
	Failed   int
	// Failures holds the per-file download failures.
	Failures []Failure
}

// Migrate downloads every named file, uploads the ones that could be staged
// in a single update of the destination record and removes the staged
// copies. A failed download only skips that file. The returned error is
// the upload failure, if any.
func (m *AttachmentMigrator) Migrate(ctx context.Context, job AttachmentJob) (AttachmentOutcome, error) {
	var out AttachmentOutcome

	names := job.Names
	if job.Field.Cardinality == models.CardinalitySingle && len(names) > 1 {
		names = names[:1]
	}

	staged := make([]staging.Staged, 0, len(names))
	defer func() {
		for _, s := range staged {
			if err := m.Staging.Remove(s); err != nil {
				m.Logger.Warn("failed to remove staged attachment", "path", s.Path, "error", err)
			}
		}
	}()

	for _, name := range names {
		s, err := m.download(ctx, job, name)
		if err != nil {
			m.Logger.Warn("attachment download failed",
				"collection", job.Collection,
				"record", job.SourceID,
				"field", job.Field.Name,
				"attachment", name,
				"error", err)
			out.Failed++
			out.Failures = append(out.Failures, Failure{
				Collection: job.Collection,
				RecordID:   job.SourceID,
				Field:      job.Field.Name,
				Attachment: name,
				Stage:      StageDownload,
				Err:        err,
			})
			continue
		}
		staged = append(staged, s)
	}

	if len(staged) == 0 {
		return out, nil
	}

	if err := m.upload(ctx, job, staged); err != nil {
		out.Failed += len(staged)
		return out, err
	}
	out.Uploaded = len(staged)

	m.Logger.Debug("attachments migrated",
		"collection", job.Collection,
		"record", job.SourceID,
		"dest_record", job.DestID,
		"field", job.Field.Name,
		"count", len(staged))
	return out, nil
}

// download fetches one file and writes it to the staging area.
func (m *AttachmentMigrator) download(ctx context.Context, job AttachmentJob, name string) (staging.Staged, error) {
	if err := m.Source.EnsureAuth(ctx); err != nil {
		return staging.Staged{}, fmt.Errorf("source auth: %w", err)
	}

	timeout := m.DownloadTimeout
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := m.Source.FetchAttachment(dctx, job.Collection, job.SourceID, name)
	if err != nil {
		return staging.Staged{}, err
	}
	if len(data) == 0 {
		return staging.Staged{}, fmt.Errorf("download %s: %w", name, store.ErrEmptyAttachment)
	}

	return m.Staging.Write(job.Collection, job.SourceID, name, data)
}

// upload sends the staged files, in order, as one update.
func (m *AttachmentMigrator) upload(ctx context.Context, job AttachmentJob, staged []staging.Staged) error {
	if err := m.Dest.EnsureAuth(ctx); err != nil {
		return fmt.Errorf("destination auth: %w", err)
	}

	files := make([]store.File, 0, len(staged))
	for _, s := range staged {
		rc, err := m.Staging.Open(s)
		if err != nil {
			return err
		}
		defer rc.Close()
		files = append(files, store.File{Name: s.Name, Content: rc})
	}

	return m.Dest.UploadAttachments(ctx, job.Collection, job.DestID, job.Field, files)
}
