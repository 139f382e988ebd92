package localcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideamans/go-cadastro"
)

// setupTestStore opens a store in a per-test temporary file.
func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache", "cadastro.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err, "failed to open cache")
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func record(row int, name string) *cadastro.Record {
	return &cadastro.Record{RowIndex: row, Values: map[string]string{"Nome": name, "Email": name + "@x.com"}}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, cadastro.ErrInvalidArgument)
}

func TestStore_Records(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	records, err := s.Records(ctx, "Cadastro")
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.PutRecords(ctx, "Cadastro", []*cadastro.Record{record(3, "c"), record(1, "a")}))
	require.NoError(t, s.PutRecord(ctx, "Cadastro", record(2, "b")))
	require.NoError(t, s.PutRecord(ctx, "Outra", record(1, "z")))

	records, err = s.Records(ctx, "Cadastro")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].RowIndex)
	assert.Equal(t, "b", records[1].Get("Nome"))
	assert.Equal(t, "c@x.com", records[2].Get("Email"))

	// upsert replaces the values of an existing row
	require.NoError(t, s.PutRecord(ctx, "Cadastro", record(2, "bb")))
	records, _ = s.Records(ctx, "Cadastro")
	require.Len(t, records, 3)
	assert.Equal(t, "bb", records[1].Get("Nome"))

	require.NoError(t, s.DeleteRecord(ctx, "Cadastro", 1))
	records, _ = s.Records(ctx, "Cadastro")
	assert.Len(t, records, 2)

	require.NoError(t, s.ReplaceRecords(ctx, "Cadastro", []*cadastro.Record{record(7, "g")}))
	records, _ = s.Records(ctx, "Cadastro")
	require.Len(t, records, 1)
	assert.Equal(t, 7, records[0].RowIndex)

	other, _ := s.Records(ctx, "Outra")
	assert.Len(t, other, 1, "replace must not touch other tabs")

	require.NoError(t, s.ReplaceRecords(ctx, "Cadastro", nil))
	records, _ = s.Records(ctx, "Cadastro")
	assert.Empty(t, records)

	require.NoError(t, s.ClearRecords(ctx))
	other, _ = s.Records(ctx, "Outra")
	assert.Empty(t, other)
}

func TestStore_Blobs(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	b, err := s.GetBlob(ctx, "drive:abc")
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, s.PutBlob(ctx, "drive:abc", &cadastro.Blob{MimeType: "image/png", Data: []byte{1, 2, 3}}))
	require.NoError(t, s.PutBlob(ctx, "drive:abc", &cadastro.Blob{MimeType: "image/jpeg", Data: []byte{4, 5}}))

	b, err = s.GetBlob(ctx, "drive:abc")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "image/jpeg", b.MimeType)
	assert.Equal(t, []byte{4, 5}, b.Data)

	require.NoError(t, s.DeleteBlob(ctx, "drive:abc"))
	b, _ = s.GetBlob(ctx, "drive:abc")
	assert.Nil(t, b)

	require.NoError(t, s.PutBlob(ctx, "url:1", &cadastro.Blob{MimeType: "image/png", Data: []byte{9}}))
	require.NoError(t, s.ClearBlobs(ctx))
	b, _ = s.GetBlob(ctx, "url:1")
	assert.Nil(t, b)
}

func TestStore_Markers(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	m, err := s.GetMarker(ctx, "Cadastro")
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, s.SetMarker(ctx, "Cadastro", cadastro.Marker{Index: 2, LastModified: "T0"}))
	require.NoError(t, s.SetMarker(ctx, "Cadastro", cadastro.Marker{Index: 2, LastModified: "T1"}))

	m, err = s.GetMarker(ctx, "Cadastro")
	require.NoError(t, err)
	assert.Equal(t, &cadastro.Marker{Index: 2, LastModified: "T1"}, m)

	require.NoError(t, s.DeleteMarker(ctx, "Cadastro"))
	m, _ = s.GetMarker(ctx, "Cadastro")
	assert.Nil(t, m)

	require.NoError(t, s.SetMarker(ctx, "A", cadastro.Marker{Index: 1}))
	require.NoError(t, s.ClearMarkers(ctx))
	m, _ = s.GetMarker(ctx, "A")
	assert.Nil(t, m)
}

func TestStore_SurvivesReopen(t *testing.T) {
	s, path := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, "Cadastro", record(1, "a")))
	require.NoError(t, s.PutBlob(ctx, "drive:abc", &cadastro.Blob{MimeType: "image/png", Data: []byte{1}}))
	require.NoError(t, s.SetMarker(ctx, "Cadastro", cadastro.Marker{Index: 1, LastModified: "T0"}))
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Records(ctx, "Cadastro")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Get("Nome"))

	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Cadastro": 1}, stats.Tabs)
	assert.Equal(t, []string{"Cadastro"}, stats.TabNames())
	assert.Equal(t, 1, stats.Blobs)
	assert.Equal(t, int64(1), stats.BlobBytes)
	assert.Equal(t, 1, stats.Markers)
}

func TestStore_SchemaChangeRebuilds(t *testing.T) {
	s, path := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, "Cadastro", record(1, "a")))
	require.NoError(t, s.SetMarker(ctx, "Cadastro", cadastro.Marker{Index: 1, LastModified: "T0"}))
	require.NoError(t, s.db.Save(&cacheSchema{ID: 1, Version: SchemaVersion - 1}).Error)
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Records(ctx, "Cadastro")
	require.NoError(t, err)
	assert.Empty(t, records, "records from an old schema must be dropped")

	m, err := reopened.GetMarker(ctx, "Cadastro")
	require.NoError(t, err)
	assert.Nil(t, m, "markers from an old schema must be dropped")

	var current cacheSchema
	require.NoError(t, reopened.db.First(&current, 1).Error)
	assert.Equal(t, SchemaVersion, current.Version)
}
