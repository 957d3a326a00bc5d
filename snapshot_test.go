package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore() *fakeStore {
	created := time.Date(2024, 5, 17, 9, 30, 0, 123456789, time.UTC)
	return &fakeStore{
		tables: []string{"entries", "users"},
		schemas: map[string][]Column{
			"users": {
				{Name: "id", Type: "integer"},
				{Name: "name", Type: "text"},
				{Name: "created_at", Type: "timestamp"},
			},
			"entries": {
				{Name: "id", Type: "integer"},
				{Name: "body", Type: "text"},
			},
		},
		rows: map[string][]Row{
			"users": {
				{"id": int64(1), "name": "alice", "created_at": created},
				{"id": int64(2), "name": "bob", "created_at": created.Add(time.Hour)},
			},
			"entries": {
				{"id": int64(1), "body": "first"},
				{"id": int64(2), "body": "second"},
				{"id": int64(3), "body": "third"},
			},
		},
	}
}

func TestSnapshotSerializerWrite(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, databaseDirName, dataSnapshotName)

	serializer := &SnapshotSerializer{
		Store:     testStore(),
		BatchSize: 2, // force multiple pages per table
		Policy:    DefaultCompressionPolicy(),
	}
	tables, err := serializer.Write(context.Background(), dest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users", "entries"}, tables)

	document, err := readDataSnapshot(dest)
	require.NoError(t, err)
	require.Len(t, document, 2)

	users := document["users"]
	assert.Equal(t, map[string]string{
		"id": "integer", "name": "text", "created_at": "timestamp",
	}, users.Schema)
	require.Len(t, users.Data, 2)
	assert.Equal(t, "alice", users.Data[0]["name"])

	entries := document["entries"]
	require.Len(t, entries.Data, 3)
}

func TestSnapshotTemporalRoundTrip(t *testing.T) {
	store := testStore()
	dir := t.TempDir()
	dest := filepath.Join(dir, databaseDirName, dataSnapshotName)

	serializer := &SnapshotSerializer{
		Store:     store,
		BatchSize: 1000,
		Policy:    DefaultCompressionPolicy(),
	}
	_, err := serializer.Write(context.Background(), dest)
	require.NoError(t, err)

	document, err := readDataSnapshot(dest)
	require.NoError(t, err)

	// temporal values become canonical ISO-8601 strings that round trip to
	// the same instant
	encoded, ok := document["users"].Data[0]["created_at"].(string)
	require.True(t, ok, "temporal value must be encoded as string")

	parsed, err := time.Parse(time.RFC3339Nano, encoded)
	require.NoError(t, err)
	original := store.rows["users"][0]["created_at"].(time.Time)
	assert.True(t, parsed.Equal(original))
}

func TestSnapshotSerializerNoTables(t *testing.T) {
	serializer := &SnapshotSerializer{
		Store:     &fakeStore{},
		BatchSize: 10,
		Policy:    DefaultCompressionPolicy(),
	}
	dest := filepath.Join(t.TempDir(), dataSnapshotName)
	_, err := serializer.Write(context.Background(), dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSnapshotSerializerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	serializer := &SnapshotSerializer{
		Store:     testStore(),
		BatchSize: 1,
		Policy:    DefaultCompressionPolicy(),
	}
	dest := filepath.Join(t.TempDir(), dataSnapshotName)
	_, err := serializer.Write(ctx, dest)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSerializeValue(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "2024-01-02T03:04:05Z", serializeValue(now))
	assert.Equal(t, "2024-01-02T03:04:05Z", serializeValue(&now))
	assert.Nil(t, serializeValue((*time.Time)(nil)))
	assert.Equal(t, int64(42), serializeValue(int64(42)))
	assert.Equal(t, "unchanged", serializeValue("unchanged"))
}
