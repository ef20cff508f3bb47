package migrate

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/raphaelgruber/pbtransfer/internal/store"
)

type uploadCall struct {
	Collection string
	ID         string
	Field      string
	Multiple   bool
	Names      []string
	Contents   []string
}

type updateCall struct {
	Collection string
	ID         string
	Fields     models.Fields
}

// fakeStore is an in-memory store.Client.
type fakeStore struct {
	mu     sync.Mutex
	name   string
	prefix string
	seq    int
	clock  time.Time

	collections map[string][]models.Record
	files       map[string][]byte

	authErr    error
	listErr    map[string]error
	createErr  func(collection string, fields models.Fields) error
	deleteErr  map[string]error
	fetchErr   map[string]error
	updateErr  map[string]error
	uploadErr  error
	fetchDelay time.Duration

	authCalls   int
	ensureCalls int
	creates     map[string][]models.Fields
	updates     []updateCall
	uploads     []uploadCall
	deletes     int
}

var _ store.Client = (*fakeStore)(nil)

func newFakeStore(name, prefix string) *fakeStore {
	return &fakeStore{
		name:        name,
		prefix:      prefix,
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		collections: map[string][]models.Record{},
		files:       map[string][]byte{},
		listErr:     map[string]error{},
		deleteErr:   map[string]error{},
		fetchErr:    map[string]error{},
		updateErr:   map[string]error{},
		creates:     map[string][]models.Fields{},
	}
}

func fileKey(collection, id, name string) string {
	return collection + "/" + id + "/" + name
}

// seed stores a record with the given id and fields, including the
// server-managed ones a real store would return.
func (f *fakeStore) seed(collection, id string, fields ...models.Field) models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(collection, id, fields)
}

func (f *fakeStore) insert(collection, id string, fields models.Fields) models.Record {
	f.clock = f.clock.Add(time.Second)
	ts := f.clock.Format("2006-01-02 15:04:05.000Z")
	all := models.Fields{
		{Name: models.FieldCollectionID, Value: models.String("pbc_" + collection)},
		{Name: models.FieldCollectionName, Value: models.String(collection)},
		{Name: models.FieldID, Value: models.String(id)},
	}
	all = append(all, fields...)
	all = append(all,
		models.Field{Name: models.FieldCreated, Value: models.String(ts)},
		models.Field{Name: models.FieldUpdated, Value: models.String(ts)},
	)
	rec := models.NewRecord(all)
	f.collections[collection] = append(f.collections[collection], rec)
	return rec
}

func (f *fakeStore) putFile(collection, id, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[fileKey(collection, id, name)] = []byte(content)
}

func (f *fakeStore) records(collection string) []models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Record(nil), f.collections[collection]...)
}

func (f *fakeStore) find(collection, id string) (int, bool) {
	for i, rec := range f.collections[collection] {
		if rec.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (f *fakeStore) Endpoint() string { return f.name }

func (f *fakeStore) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	return f.authErr
}

func (f *fakeStore) EnsureAuth(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	return f.authErr
}

func (f *fakeStore) List(_ context.Context, collection string, _ int) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[collection]; err != nil {
		return nil, err
	}
	return append([]models.Record(nil), f.collections[collection]...), nil
}

func (f *fakeStore) Create(_ context.Context, collection string, fields models.Fields) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates[collection] = append(f.creates[collection], fields)
	if f.createErr != nil {
		if err := f.createErr(collection, fields); err != nil {
			return models.Record{}, err
		}
	}
	f.seq++
	return f.insert(collection, fmt.Sprintf("%s%d", f.prefix, f.seq), fields), nil
}

func (f *fakeStore) Update(_ context.Context, collection, id string, fields models.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updateCall{Collection: collection, ID: id, Fields: fields})
	if err := f.updateErr[id]; err != nil {
		return err
	}
	i, ok := f.find(collection, id)
	if !ok {
		return store.ErrNotFound
	}
	rec := f.collections[collection][i]
	for _, field := range fields {
		rec.Fields.Set(field.Name, field.Value)
	}
	f.collections[collection][i] = rec
	return nil
}

func (f *fakeStore) Delete(_ context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	i, ok := f.find(collection, id)
	if !ok {
		return store.ErrNotFound
	}
	f.collections[collection] = append(f.collections[collection][:i], f.collections[collection][i+1:]...)
	f.deletes++
	return nil
}

func (f *fakeStore) FetchAttachment(ctx context.Context, collection, id, name string) ([]byte, error) {
	if f.fetchDelay > 0 {
		select {
		case <-time.After(f.fetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[name]; err != nil {
		return nil, err
	}
	data, ok := f.files[fileKey(collection, id, name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (f *fakeStore) UploadAttachments(_ context.Context, collection, id string, field models.AttachmentField, files []store.File) error {
	call := uploadCall{
		Collection: collection,
		ID:         id,
		Field:      field.Name,
		Multiple:   field.Cardinality == models.CardinalityMultiple,
	}
	for _, file := range files {
		data, err := io.ReadAll(file.Content)
		if err != nil {
			return err
		}
		call.Names = append(call.Names, file.Name)
		call.Contents = append(call.Contents, string(data))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, call)
	if f.uploadErr != nil {
		return f.uploadErr
	}
	for i, name := range call.Names {
		f.files[fileKey(collection, id, name)] = []byte(call.Contents[i])
	}
	return nil
}
