// Package db provides integration tests for the SurrealDB store.
package db

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"github.com/raphaelgruber/pbtransfer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
// In short mode no container is started and integration tests skip.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testDB.Authenticate(ctx); err != nil {
		log.Fatalf("Failed to authenticate: %v", err)
	}
	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// collectionName returns a table name unique to the test.
func collectionName(t *testing.T) string {
	name := strings.ToLower(strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	t.Cleanup(func() { _ = testDB.WipeData(context.Background(), name) })
	return name
}

// =============================================================================
// RECORD TESTS
// =============================================================================

func TestCreateAndList(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	coll := collectionName(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var created []models.Record
	for i := range 5 {
		now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		rec, err := testDB.Create(ctx, coll, models.Fields{
			{Name: "title", Value: models.String(fmt.Sprintf("post %d", i))},
			{Name: "views", Value: models.Number(fmt.Sprint(i * 10))},
			{Name: "id", Value: models.String("ignored")},
		})
		require.NoError(t, err)
		assert.NotEqual(t, "ignored", rec.ID)
		created = append(created, rec)
	}
	t.Cleanup(func() { now = func() time.Time { return time.Now().UTC() } })

	records, err := testDB.List(ctx, coll, 2)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, created[i].ID, rec.ID)
		title, _ := rec.Get("title")
		assert.Equal(t, models.String(fmt.Sprintf("post %d", i)), title)
		views, _ := rec.Get("views")
		assert.Equal(t, models.Number(fmt.Sprint(i*10)), views)
	}
}

func TestListUnknownCollectionIsEmpty(t *testing.T) {
	requireDB(t)

	records, err := testDB.List(context.Background(), "never_written", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUpdateAndDelete(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	coll := collectionName(t)

	rec, err := testDB.Create(ctx, coll, models.Fields{{Name: "name", Value: models.String("child")}})
	require.NoError(t, err)

	err = testDB.Update(ctx, coll, rec.ID, models.Fields{{Name: "parent", Value: models.String("p1")}})
	require.NoError(t, err)

	records, err := testDB.List(ctx, coll, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	parent, ok := records[0].Get("parent")
	require.True(t, ok)
	assert.Equal(t, models.String("p1"), parent)
	name, _ := records[0].Get("name")
	assert.Equal(t, models.String("child"), name)

	err = testDB.Update(ctx, coll, "missing", models.Fields{{Name: "parent", Value: models.String("p1")}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, testDB.Delete(ctx, coll, rec.ID))
	assert.ErrorIs(t, testDB.Delete(ctx, coll, rec.ID), store.ErrNotFound)
}

// =============================================================================
// ATTACHMENT TESTS
// =============================================================================

func TestAttachmentsRoundTrip(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	coll := collectionName(t)

	rec, err := testDB.Create(ctx, coll, models.Fields{{Name: "title", Value: models.String("gallery")}})
	require.NoError(t, err)

	err = testDB.UploadAttachments(ctx, coll, rec.ID, multipleField("images"), []store.File{
		{Name: "a.png", Content: strings.NewReader("aaa")},
		{Name: "b.png", Content: strings.NewReader("bbb")},
	})
	require.NoError(t, err)

	records, err := testDB.List(ctx, coll, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	images, _ := records[0].Get("images")
	assert.Equal(t, []string{"a.png", "b.png"}, models.Strings(images))

	data, err := testDB.FetchAttachment(ctx, coll, rec.ID, "b.png")
	require.NoError(t, err)
	assert.Equal(t, "bbb", string(data))

	_, err = testDB.FetchAttachment(ctx, coll, rec.ID, "missing.png")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUploadSingleFileSetsString(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	coll := collectionName(t)

	rec, err := testDB.Create(ctx, coll, models.Fields{{Name: "title", Value: models.String("doc")}})
	require.NoError(t, err)

	err = testDB.UploadAttachments(ctx, coll, rec.ID, singleField("cover"), []store.File{
		{Name: "cover.jpg", Content: strings.NewReader("jpg")},
	})
	require.NoError(t, err)

	records, err := testDB.List(ctx, coll, 10)
	require.NoError(t, err)
	cover, _ := records[0].Get("cover")
	assert.Equal(t, models.String("cover.jpg"), cover)
}

func TestUploadOneFileToMultipleFieldKeepsList(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	coll := collectionName(t)

	rec, err := testDB.Create(ctx, coll, models.Fields{{Name: "title", Value: models.String("album")}})
	require.NoError(t, err)

	err = testDB.UploadAttachments(ctx, coll, rec.ID, multipleField("images"), []store.File{
		{Name: "only.png", Content: strings.NewReader("png")},
	})
	require.NoError(t, err)

	records, err := testDB.List(ctx, coll, 10)
	require.NoError(t, err)
	images, _ := records[0].Get("images")
	assert.Equal(t, models.List{models.String("only.png")}, images)
}

func TestUploadToMissingRecord(t *testing.T) {
	requireDB(t)
	coll := collectionName(t)

	err := testDB.UploadAttachments(context.Background(), coll, "missing", singleField("cover"), []store.File{
		{Name: "cover.jpg", Content: strings.NewReader("jpg")},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func singleField(name string) models.AttachmentField {
	return models.AttachmentField{Name: name, Cardinality: models.CardinalitySingle}
}

func multipleField(name string) models.AttachmentField {
	return models.AttachmentField{Name: name, Cardinality: models.CardinalityMultiple}
}

func TestUniqueName(t *testing.T) {
	taken := map[string]struct{}{"a.png": {}, "a_1.png": {}, "readme": {}}

	assert.Equal(t, "b.png", uniqueName("b.png", taken))
	assert.Equal(t, "a_2.png", uniqueName("a.png", taken))
	assert.Equal(t, "readme_1", uniqueName("readme", taken))
}
