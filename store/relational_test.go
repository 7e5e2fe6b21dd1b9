package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/relational"
	"github.com/stevemurr/recstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	categoriesType = record.Type{Name: "categories"}
	productsType   = record.Type{
		Name:      "products",
		Relations: map[string]string{"category": "categories"},
	}
)

func TestRelationalStoreResolvesRelations(t *testing.T) {
	ctx := context.Background()
	db, err := relational.Open(filepath.Join(t.TempDir(), "rel.db"))
	require.NoError(t, err)
	defer db.Close()

	catEM, err := db.Manager(ctx, categoriesType.Name)
	require.NoError(t, err)
	prodEM, err := db.Manager(ctx, productsType.Name)
	require.NoError(t, err)
	categories := store.NewRelationalStore(categoriesType, catEM)
	products := store.NewRelationalStore(productsType, prodEM)

	cat, err := categories.Create(ctx, record.Record{"name": "Tools"})
	require.NoError(t, err)

	prod, err := products.Create(ctx, record.Record{"name": "Hammer", "category": cat.ID()})
	require.NoError(t, err)
	assert.Equal(t, map[string]any(cat), prod["category"])

	got, err := products.FindByID(ctx, prod.ID())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": cat.ID(), "name": "Tools"}, got["category"])

	// Embedded related records are stored by id.
	other, err := products.Create(ctx, record.Record{"name": "Saw", "category": map[string]any(cat)})
	require.NoError(t, err)
	raw, err := prodEM.FindByID(ctx, other.ID())
	require.NoError(t, err)
	assert.Equal(t, cat.ID(), raw["category"])

	byCat, err := products.Find(ctx, record.Filter{"category": cat.ID()}, record.FindOptions{
		OrderBy: &record.Order{Field: "name"},
	})
	require.NoError(t, err)
	require.Len(t, byCat, 2)
	assert.Equal(t, []string{"Hammer", "Saw"}, names(byCat))
	for _, p := range byCat {
		assert.Equal(t, "Tools", p["category"].(map[string]any)["name"])
	}

	// Dangling references stay as ids.
	dangling, err := products.Create(ctx, record.Record{"name": "Orphan", "category": "missing"})
	require.NoError(t, err)
	assert.Equal(t, "missing", dangling["category"])
}

func TestRelationalStoreTransactionErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := newRelational(t, widgets)

	assert.ErrorIs(t, s.CommitTransaction(ctx), store.ErrNoTransaction)
	assert.ErrorIs(t, s.RollbackTransaction(ctx), store.ErrNoTransaction)

	require.NoError(t, s.BeginTransaction(ctx))
	assert.ErrorIs(t, s.BeginTransaction(ctx), store.ErrTransactionActive)
	require.NoError(t, s.RollbackTransaction(ctx))
}

func TestRelationalStoreDuplicateIDFails(t *testing.T) {
	ctx := context.Background()
	s, _ := newRelational(t, widgets)

	_, err := s.Create(ctx, record.Record{"id": "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, record.Record{"id": "a"})
	var be *store.BackendError
	assert.ErrorAs(t, err, &be)
}

func TestRelationalStoreCreateManyIsAtomic(t *testing.T) {
	ctx := context.Background()
	s, _ := newRelational(t, widgets)

	_, err := s.Create(ctx, record.Record{"id": "taken", "name": "existing"})
	require.NoError(t, err)

	_, err = s.CreateMany(ctx, []record.Record{
		{"name": "first"},
		{"id": "taken", "name": "dup"},
	})
	require.Error(t, err)

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"existing"}, names(all), "failed flush writes nothing")
}

// stubContext is a PersistenceContext whose FindByID fails for one id.
type stubContext struct {
	store.PersistenceContext
	failID  string
	cleared bool
}

func (s *stubContext) FindByID(ctx context.Context, id string) (record.Record, error) {
	if id == s.failID {
		return nil, errors.New("lookup failed")
	}
	return s.PersistenceContext.FindByID(ctx, id)
}

func (s *stubContext) Clear() {
	s.cleared = true
	s.PersistenceContext.Clear()
}

func TestRelationalStoreUpdateManyResolveFailure(t *testing.T) {
	ctx := context.Background()
	db, err := relational.Open(filepath.Join(t.TempDir(), "rel.db"))
	require.NoError(t, err)
	defer db.Close()
	em, err := db.Manager(ctx, widgets.Name)
	require.NoError(t, err)

	stub := &stubContext{PersistenceContext: em, failID: "bad"}
	s := store.NewRelationalStore(widgets, stub)
	a, err := s.Create(ctx, record.Record{"name": "a"})
	require.NoError(t, err)

	_, err = s.UpdateMany(ctx, []record.Patch{
		{ID: a.ID(), Data: record.Record{"name": "changed"}},
		{ID: "bad", Data: record.Record{"name": "x"}},
	})
	require.Error(t, err)
	assert.True(t, stub.cleared)
	require.NoError(t, em.Flush(ctx), "nothing left scheduled")

	got, err := s.FindByID(ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, "a", got["name"])
}
