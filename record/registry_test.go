package record_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stevemurr/recstore/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegistry(t *testing.T) {
	reg, err := record.ParseRegistry([]byte(`
types:
  products:
    kind: relational
    database: main
  categories:
    kind: memory
  orders:
    kind: remote
    endpoint: http://localhost:8080/orders
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"categories", "orders", "products"}, reg.Names())

	m, ok := reg.Lookup("products")
	require.True(t, ok)
	assert.Equal(t, record.KindRelational, m.Kind)
	assert.Equal(t, "main", m.Database)

	_, ok = reg.Lookup("unknown")
	assert.False(t, ok)
}

func TestParseRegistryInvalid(t *testing.T) {
	tests := map[string]string{
		"relational without database": "types:\n  p: {kind: relational}\n",
		"database on memory":          "types:\n  p: {kind: memory, database: main}\n",
		"unknown kind":                "types:\n  p: {kind: redis}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := record.ParseRegistry([]byte(doc))
			assert.ErrorIs(t, err, record.ErrInvalidMetadata)
		})
	}

	_, err := record.ParseRegistry([]byte("types: [not, a, map]"))
	assert.Error(t, err)
}

func TestRegisterTwice(t *testing.T) {
	reg := record.Registry{}
	require.NoError(t, reg.Register("p", record.Metadata{Kind: record.KindMemory}))
	err := reg.Register("p", record.Metadata{Kind: record.KindMemory})
	assert.ErrorIs(t, err, record.ErrInvalidMetadata)
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types:\n  notes: {kind: file}\n"), 0o644))

	reg, err := record.LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, record.Metadata{Kind: record.KindFile}, reg["notes"])

	_, err = record.LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
