package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("DONOR_URL", "http://donor:8090")
	t.Setenv("DONOR_USER", "admin@donor")
	t.Setenv("DONOR_PASSWORD", "secret")
	t.Setenv("RECIPIENT_URL", "http://recipient:8090")
	t.Setenv("RECIPIENT_USER", "admin@recipient")
	t.Setenv("RECIPIENT_PASSWORD", "secret")
	t.Setenv("COLLECTIONS", "posts, categories")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StorePocketBase, cfg.Source.Store)
	assert.Equal(t, "http://donor:8090", cfg.Source.URL)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1, cfg.Parallel)
	assert.Equal(t, 30*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, []string{"posts", "categories"}, []string{cfg.Collections[0].Name, cfg.Collections[1].Name})
}

func TestLoadLegacyVariableNames(t *testing.T) {
	t.Setenv("DONOR_POCKETBASE_URL", "http://old-donor")
	t.Setenv("DONOR_SUPERUSER_EMAIL", "a@b")
	t.Setenv("DONOR_SUPERUSER_PASSWORD", "pw")
	t.Setenv("COLLECTION_NAME", "notes")

	cfg := Load()

	assert.Equal(t, "http://old-donor", cfg.Source.URL)
	assert.Equal(t, "a@b", cfg.Source.User)
	assert.Equal(t, "pw", cfg.Source.Password)
	require.Len(t, cfg.Collections, 1)
	assert.Equal(t, "notes", cfg.Collections[0].Name)
}

func TestLoadRunVariables(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SELF_REFERENCES", "categories=parent")
	t.Setenv("ATTACHMENT_FIELDS", "avatar=single,gallery=multiple,cover")
	t.Setenv("DOWNLOAD_TIMEOUT", "45")
	t.Setenv("REQUEST_TIMEOUT", "2m")
	t.Setenv("PARALLEL", "4")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	specs := cfg.CollectionSpecs()
	require.Len(t, specs, 2)
	assert.False(t, specs[0].HasSelfReference())
	assert.Equal(t, "parent", specs[1].SelfReference)
	assert.Nil(t, specs[1].Attachments)

	assert.Equal(t, models.AttachmentSchema{
		{Name: "avatar", Cardinality: models.CardinalitySingle},
		{Name: "gallery", Cardinality: models.CardinalityMultiple},
		{Name: "cover", Cardinality: models.CardinalitySingle},
	}, cfg.AttachmentSchema())
	assert.Equal(t, 45*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, 4, cfg.Parallel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad integer", map[string]string{"BATCH_SIZE": "lots"}, "BATCH_SIZE"},
		{"zero batch", map[string]string{"BATCH_SIZE": "0"}, "batch size"},
		{"unknown store", map[string]string{"RECIPIENT_STORE": "mongo"}, "destination store"},
		{"surreal without namespace", map[string]string{"RECIPIENT_STORE": "surrealdb"}, "namespace and database"},
		{"bad cardinality", map[string]string{"ATTACHMENT_FIELDS": "avatar=many"}, "avatar"},
		{"self reference is attachment", map[string]string{
			"SELF_REFERENCES":   "categories=parent",
			"ATTACHMENT_FIELDS": "parent=single",
		}, "both self reference and attachment"},
		{"duplicate collection", map[string]string{"COLLECTIONS": "posts,posts"}, "listed twice"},
		{"missing collections", map[string]string{"COLLECTIONS": " , "}, "at least one collection"},
		{"bad self reference pair", map[string]string{"SELF_REFERENCES": "categories"}, "SELF_REFERENCES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := Load().Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateMissingEndpoint(t *testing.T) {
	t.Setenv("COLLECTIONS", "posts")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source url is required")
	assert.Contains(t, err.Error(), "destination url is required")
}

func TestLoadFileOverlays(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "pbtransfer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
destination:
  store: surrealdb
  url: ws://surreal:8000/rpc
  namespace: migrated
  database: blog
batch_size: 10
download_timeout: 5s
attachments:
  - field: avatar
    cardinality: single
collections:
  - name: posts
  - name: categories
    self_reference: parent
    attachments:
      - field: icon
        cardinality: single
  - name: tags
    attachments: []
`), 0o600))

	cfg, err := LoadFile(path, Load())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://donor:8090", cfg.Source.URL, "keys missing from the file keep env values")
	assert.Equal(t, StoreSurrealDB, cfg.Destination.Store)
	assert.Equal(t, "migrated", cfg.Destination.Namespace)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.DownloadTimeout)

	specs := cfg.CollectionSpecs()
	require.Len(t, specs, 3)
	assert.Nil(t, specs[0].Attachments)
	assert.Equal(t, "parent", specs[1].SelfReference)
	assert.Equal(t, models.AttachmentSchema{{Name: "icon", Cardinality: models.CardinalitySingle}}, specs[1].Attachments)
	assert.NotNil(t, specs[2].Attachments)
	assert.Empty(t, specs[2].Attachments)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), Config{})
	assert.Error(t, err)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("collection transferred", "collection", "posts")

	assert.Contains(t, stderr.String(), "collection=posts")
	assert.Contains(t, file.String(), `"collection":"posts"`)
	assert.NotContains(t, stderr.String(), "hidden")
}

func TestSetupLoggerFallsBackWithoutFile(t *testing.T) {
	var console bytes.Buffer
	logger, cleanup := SetupLogger(&console, filepath.Join(t.TempDir(), "missing", "dir", "x.log"), slog.LevelInfo)
	defer cleanup()

	logger.Info("hello")
	assert.Contains(t, console.String(), "hello")
}
