package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pocketbaseRecord = `{
	"id": "r1",
	"collectionId": "pbc_123",
	"collectionName": "posts",
	"created": "2024-03-01 10:00:00.123Z",
	"updated": "2024-03-02 10:00:00.000Z",
	"title": "Hello",
	"views": 42,
	"ratio": 0.5,
	"draft": false,
	"tags": ["a", "b"],
	"meta": {"z": 1, "a": null},
	"cover": "cover_abc.png",
	"expand": {"author": {"id": "u1"}}
}`

func TestRecordUnmarshalKeepsOrder(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(pocketbaseRecord), &rec))

	assert.Equal(t, "r1", rec.ID)
	assert.True(t, time.Date(2024, 3, 1, 10, 0, 0, 123000000, time.UTC).Equal(rec.Created), "created = %v", rec.Created)
	assert.Equal(t, []string{
		"id", "collectionId", "collectionName", "created", "updated",
		"title", "views", "ratio", "draft", "tags", "meta", "cover", "expand",
	}, rec.Fields.Names())

	meta, ok := rec.Get("meta")
	require.True(t, ok)
	obj, ok := meta.(Object)
	require.True(t, ok, "meta should decode as Object")
	assert.Equal(t, []string{"z", "a"}, Fields(obj).Names())
}

func TestRecordProject(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(pocketbaseRecord), &rec))

	projected := rec.Project("cover")
	assert.Equal(t, []string{"title", "views", "ratio", "draft", "tags", "meta"}, projected.Names())

	// Every kept field is unchanged.
	for _, f := range projected {
		orig, ok := rec.Get(f.Name)
		require.True(t, ok)
		assert.Equal(t, orig, f.Value, "field %s", f.Name)
	}

	// Projection leaves the source record untouched.
	assert.Len(t, rec.Fields, 13)
}

func TestFieldsMarshalRoundTripPreservesNumbers(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(pocketbaseRecord), &rec))

	out, err := json.Marshal(rec.Project("cover"))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"title":"Hello","views":42,"ratio":0.5,"draft":false,"tags":["a","b"],"meta":{"z":1,"a":null}}`,
		string(out))
	assert.Equal(t,
		`{"title":"Hello","views":42,"ratio":0.5,"draft":false,"tags":["a","b"],"meta":{"z":1,"a":null}}`,
		string(out), "field order must be preserved")
}

func TestFieldsSet(t *testing.T) {
	f := Fields{{Name: "a", Value: String("1")}}
	f.Set("b", String("2"))
	f.Set("a", String("3"))

	assert.Equal(t, Fields{{Name: "a", Value: String("3")}, {Name: "b", Value: String("2")}}, f)
}

func TestSortByCreatedIsStable(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "c", Created: t0.Add(2 * time.Hour)},
		{ID: "a1", Created: t0},
		{ID: "b", Created: t0.Add(time.Hour)},
		{ID: "a2", Created: t0},
	}
	SortByCreated(records)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a1", "a2", "b", "c"}, ids)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", "2024-05-01T08:30:00Z", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
		{"pocketbase millis", "2024-05-01 08:30:00.250Z", time.Date(2024, 5, 1, 8, 30, 0, 250000000, time.UTC)},
		{"pocketbase plain", "2024-05-01 08:30:00Z", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}
