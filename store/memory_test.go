package store_test

import (
	"context"
	"testing"

	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreNestedTransactions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(widgets)

	_, err := s.Create(ctx, record.Record{"id": "a", "name": "outer-base"})
	require.NoError(t, err)

	require.NoError(t, s.BeginTransaction(ctx))
	_, err = s.Create(ctx, record.Record{"id": "b", "name": "outer"})
	require.NoError(t, err)

	require.NoError(t, s.BeginTransaction(ctx))
	_, err = s.Create(ctx, record.Record{"id": "c", "name": "inner"})
	require.NoError(t, err)
	require.NoError(t, s.RollbackTransaction(ctx))

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer-base", "outer"}, names(all), "inner rollback keeps outer changes")

	require.NoError(t, s.RollbackTransaction(ctx))
	all, err = s.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer-base"}, names(all))
	assert.False(t, s.InTransaction())
}

func TestMemoryStoreTransactionWithoutBegin(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(widgets)
	_, err := s.Create(ctx, record.Record{"name": "x"})
	require.NoError(t, err)

	assert.NoError(t, s.RollbackTransaction(ctx))
	assert.NoError(t, s.CommitTransaction(ctx))

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStoreDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(widgets)
	_, err := s.Create(ctx, record.Record{"id": "a"})
	require.NoError(t, err)

	_, err = s.Create(ctx, record.Record{"id": "a"})
	assert.ErrorIs(t, err, store.ErrDuplicateID)
}

func TestMemoryStoreCreateManyIsIndependent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(widgets)
	_, err := s.Create(ctx, record.Record{"id": "taken"})
	require.NoError(t, err)

	recs, err := s.CreateMany(ctx, []record.Record{
		{"name": "first"},
		{"id": "taken", "name": "dup"},
		{"name": "third"},
	})
	assert.ErrorIs(t, err, store.ErrDuplicateID)
	require.Len(t, recs, 3)
	assert.NotNil(t, recs[0])
	assert.Nil(t, recs[1])
	assert.NotNil(t, recs[2])

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStoreInputIsCopied(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(widgets)
	in := record.Record{"name": "orig"}
	rec, err := s.Create(ctx, in)
	require.NoError(t, err)

	in["name"] = "changed"
	rec["name"] = "changed too"

	got, err := s.FindByID(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "orig", got["name"])
	assert.NotContains(t, in, "id", "caller's map is not modified")
}
