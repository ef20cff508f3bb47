package metrics

import (
	"context"
	"io"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/raphaelgruber/pbtransfer/internal/store"
)

// Store wraps a store.Client and records every call in a Collector under
// "<role>.<operation>".
type Store struct {
	next      store.Client
	collector *Collector
	role      string
}

var _ store.Client = (*Store)(nil)

// Instrument wraps next. role names the endpoint in operation names,
// typically "source" or "destination".
func Instrument(next store.Client, collector *Collector, role string) *Store {
	return &Store{next: next, collector: collector, role: role}
}

func (s *Store) observe(op string, start time.Time, bytes int64, err error) {
	s.collector.RecordCall(s.role+"."+op, time.Since(start), bytes, err)
}

func (s *Store) Endpoint() string {
	return s.next.Endpoint()
}

func (s *Store) Authenticate(ctx context.Context) error {
	start := time.Now()
	err := s.next.Authenticate(ctx)
	s.observe(OpAuth, start, 0, err)
	return err
}

// EnsureAuth is not timed; it is called before every attachment transfer
// and is a no-op while the session is valid.
func (s *Store) EnsureAuth(ctx context.Context) error {
	return s.next.EnsureAuth(ctx)
}

func (s *Store) List(ctx context.Context, collection string, batchSize int) ([]models.Record, error) {
	start := time.Now()
	records, err := s.next.List(ctx, collection, batchSize)
	s.observe(OpList, start, 0, err)
	return records, err
}

func (s *Store) Create(ctx context.Context, collection string, fields models.Fields) (models.Record, error) {
	start := time.Now()
	rec, err := s.next.Create(ctx, collection, fields)
	s.observe(OpCreate, start, 0, err)
	return rec, err
}

func (s *Store) Update(ctx context.Context, collection, id string, fields models.Fields) error {
	start := time.Now()
	err := s.next.Update(ctx, collection, id, fields)
	s.observe(OpUpdate, start, 0, err)
	return err
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	start := time.Now()
	err := s.next.Delete(ctx, collection, id)
	s.observe(OpDelete, start, 0, err)
	return err
}

func (s *Store) FetchAttachment(ctx context.Context, collection, id, name string) ([]byte, error) {
	start := time.Now()
	data, err := s.next.FetchAttachment(ctx, collection, id, name)
	s.observe(OpDownload, start, int64(len(data)), err)
	return data, err
}

func (s *Store) UploadAttachments(ctx context.Context, collection, id string, field models.AttachmentField, files []store.File) error {
	counted := make([]store.File, len(files))
	counters := make([]*countingReader, len(files))
	for i, f := range files {
		counters[i] = &countingReader{r: f.Content}
		counted[i] = store.File{Name: f.Name, Content: counters[i]}
	}

	start := time.Now()
	err := s.next.UploadAttachments(ctx, collection, id, field, counted)

	var total int64
	for _, c := range counters {
		total += c.n
	}
	s.observe(OpUpload, start, total, err)
	return err
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
