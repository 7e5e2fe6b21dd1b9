package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.NewFileStore(dir, widgets)
	require.NoError(t, err)
	rec, err := s.Create(ctx, record.Record{"name": "persisted", "price": 3})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "widgets.json"))
	require.NoError(t, err)

	reopened, err := store.NewFileStore(dir, widgets)
	require.NoError(t, err)
	got, err := reopened.FindByID(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestFileStoreWritesOnOutermostCommit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.NewFileStore(dir, widgets)
	require.NoError(t, err)
	require.NoError(t, s.BeginTransaction(ctx))
	_, err = s.Create(ctx, record.Record{"name": "pending"})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "widgets.json"))
	assert.True(t, os.IsNotExist(err), "nothing is written inside a transaction")

	require.NoError(t, s.CommitTransaction(ctx))

	reopened, err := store.NewFileStore(dir, widgets)
	require.NoError(t, err)
	all, err := reopened.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, names(all))
}

func TestFileStoreIsolation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := store.NewFileStore(dir, record.Type{Name: "a"})
	require.NoError(t, err)
	b, err := store.NewFileStore(dir, record.Type{Name: "b"})
	require.NoError(t, err)

	_, err = a.Create(ctx, record.Record{"id": "k1", "x": 1})
	require.NoError(t, err)
	_, err = b.Create(ctx, record.Record{"id": "k1", "x": 2})
	require.NoError(t, err)

	aDoc, err := a.FindByID(ctx, "k1")
	require.NoError(t, err)
	bDoc, err := b.FindByID(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), aDoc["x"])
	assert.Equal(t, float64(2), bDoc["x"])

	assert.FileExists(t, filepath.Join(dir, "a.json"))
	assert.FileExists(t, filepath.Join(dir, "b.json"))
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widgets.json"), []byte("{not json"), 0o644))

	_, err := store.NewFileStore(dir, widgets)
	var be *store.BackendError
	assert.ErrorAs(t, err, &be)
}

func TestFileStoreFailedWriteLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.NewFileStore(dir, widgets)
	require.NoError(t, err)
	_, err = s.Create(ctx, record.Record{"id": "a", "name": "kept"})
	require.NoError(t, err)

	// A directory in place of the temp file makes every write fail.
	tmp := filepath.Join(dir, "widgets.json.tmp")
	require.NoError(t, os.Mkdir(tmp, 0o755))

	rec, err := s.Create(ctx, record.Record{"id": "b"})
	require.Error(t, err)
	assert.Nil(t, rec)

	rec, err = s.Update(ctx, "a", record.Record{"name": "changed"})
	require.Error(t, err)
	assert.Nil(t, rec)

	require.Error(t, s.Delete(ctx, "a"))

	require.NoError(t, s.BeginTransaction(ctx))
	_, err = s.Create(ctx, record.Record{"id": "c"})
	require.NoError(t, err)
	require.Error(t, s.CommitTransaction(ctx))

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, record.Record{"id": "a", "name": "kept"}, all[0])

	require.NoError(t, os.Remove(tmp))
	_, err = s.Create(ctx, record.Record{"id": "d"})
	require.NoError(t, err)
	reopened, err := store.NewFileStore(dir, widgets)
	require.NoError(t, err)
	all, err = reopened.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
