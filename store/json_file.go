package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/stevemurr/recstore/record"
)

// FileStore keeps a record type in a single JSON file on disk and serves
// reads from memory.
//
// Layout:
//
//	data_dir/
//	  products.json     # "products" records, in insertion order
//	  categories.json   # "categories" records
//
// Mutations made outside a transaction are written immediately. Inside a
// transaction they are written when the outermost transaction commits;
// rollback restores the in-memory snapshot and leaves the file untouched.
// A failed write undoes the in-memory change it was writing.
// Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	mem  *MemoryStore
	path string
}

func NewFileStore(dir string, typ record.Type) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{
		mem:  NewMemoryStore(typ),
		path: filepath.Join(dir, typ.Name+".json"),
	}
	recs, err := s.load()
	if err != nil {
		return nil, backendErr("file", "open", err)
	}
	s.mem.records = recs
	return s, nil
}

func (s *FileStore) load() ([]record.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var recs []record.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("corrupt store file %s: %w", s.path, err)
	}
	return recs, nil
}

func (s *FileStore) save() error {
	recs := s.mem.records
	if recs == nil {
		recs = []record.Record{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// mutate applies fn to the in-memory records and writes them unless a
// transaction is open. When the write fails the records are restored, so
// memory never runs ahead of the file.
func (s *FileStore) mutate(op string, fn func() error) error {
	prev := slices.Clone(s.mem.records)
	if err := fn(); err != nil {
		return err
	}
	if s.mem.InTransaction() {
		return nil
	}
	if err := s.save(); err != nil {
		s.mem.records = prev
		return backendErr("file", op, err)
	}
	return nil
}

func (s *FileStore) Create(ctx context.Context, data record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec record.Record
	err := s.mutate("create", func() (err error) {
		rec, err = s.mem.Create(ctx, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) Update(ctx context.Context, id string, data record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem.indexOf(id) < 0 {
		return nil, nil
	}
	var rec record.Record
	err := s.mutate("update", func() (err error) {
		rec, err = s.mem.Update(ctx, id, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem.indexOf(id) < 0 {
		return nil
	}
	return s.mutate("delete", func() error {
		return s.mem.Delete(ctx, id)
	})
}

func (s *FileStore) FindByID(ctx context.Context, id string) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.FindByID(ctx, id)
}

func (s *FileStore) FindOne(ctx context.Context, filter record.Filter) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.FindOne(ctx, filter)
}

func (s *FileStore) FindAll(ctx context.Context) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.FindAll(ctx)
}

func (s *FileStore) Find(ctx context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Find(ctx, filter, opts)
}

func (s *FileStore) CreateMany(ctx context.Context, data []record.Record) ([]record.Record, error) {
	return createEach(ctx, s, data)
}

func (s *FileStore) UpdateMany(ctx context.Context, patches []record.Patch) ([]record.Record, error) {
	return updateEach(ctx, s, patches)
}

func (s *FileStore) DeleteMany(ctx context.Context, ids []string) error {
	return deleteEach(ctx, s, ids)
}

func (s *FileStore) BeginTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.BeginTransaction(ctx)
}

func (s *FileStore) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mem.InTransaction() {
		return nil
	}
	base := s.mem.snapshots[len(s.mem.snapshots)-1]
	if err := s.mem.CommitTransaction(ctx); err != nil {
		return err
	}
	if s.mem.InTransaction() {
		return nil
	}
	if err := s.save(); err != nil {
		// The outermost commit did not reach the file: undo it.
		s.mem.records = base
		return backendErr("file", "commit", err)
	}
	return nil
}

func (s *FileStore) RollbackTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.RollbackTransaction(ctx)
}

func (s *FileStore) Close() error {
	return nil
}
