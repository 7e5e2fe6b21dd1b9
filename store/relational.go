package store

import (
	"context"
	"fmt"

	"github.com/stevemurr/recstore/record"
)

// PersistenceContext is the unit of work a RelationalStore delegates to.
// It is bound to one mapped record type. *relational.EntityManager
// implements it.
type PersistenceContext interface {
	Persist(rec record.Record)
	Assign(entity, data record.Record) record.Record
	Remove(entity record.Record)
	Flush(ctx context.Context) error
	// Clear discards scheduled changes without writing them.
	Clear()

	FindByID(ctx context.Context, id string) (record.Record, error)
	FindOne(ctx context.Context, filter record.Filter) (record.Record, error)
	Find(ctx context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error)

	// Lookup loads a record of another mapped type, for resolving relations.
	Lookup(ctx context.Context, typeName, id string) (record.Record, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RelationalStore persists records through a PersistenceContext.
//
// Create, Update and Delete flush before returning. Bulk operations
// schedule every change and flush once, so a batch is atomic: if the flush
// fails nothing in it is written.
//
// Fields listed in the type's Relations are stored as the referenced id
// and are replaced by the full referenced record on every read.
type RelationalStore struct {
	typ record.Type
	pc  PersistenceContext
}

func NewRelationalStore(typ record.Type, pc PersistenceContext) *RelationalStore {
	return &RelationalStore{typ: typ, pc: pc}
}

func (s *RelationalStore) fail(op string, err error) error {
	return backendErr("relational", op, err)
}

// flatten replaces embedded related records with their id.
func (s *RelationalStore) flatten(data record.Record) record.Record {
	if len(s.typ.Relations) == 0 || data == nil {
		return data
	}
	out := make(record.Record, len(data))
	for k, v := range data {
		out[k] = v
	}
	for field := range s.typ.Relations {
		switch v := out[field].(type) {
		case map[string]any:
			if id, ok := v[record.IDField].(string); ok {
				out[field] = id
			}
		case record.Record:
			if id := v.ID(); id != "" {
				out[field] = id
			}
		}
	}
	return out
}

// populate replaces related ids with the referenced records.
func (s *RelationalStore) populate(ctx context.Context, rec record.Record) (record.Record, error) {
	if rec == nil || len(s.typ.Relations) == 0 {
		return rec, nil
	}
	for field, target := range s.typ.Relations {
		id, ok := rec[field].(string)
		if !ok || id == "" {
			continue
		}
		ref, err := s.pc.Lookup(ctx, target, id)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			rec[field] = map[string]any(ref)
		}
	}
	return rec, nil
}

func (s *RelationalStore) populateAll(ctx context.Context, recs []record.Record) ([]record.Record, error) {
	for i, r := range recs {
		p, err := s.populate(ctx, r)
		if err != nil {
			return nil, err
		}
		recs[i] = p
	}
	return recs, nil
}

func (s *RelationalStore) Create(ctx context.Context, data record.Record) (record.Record, error) {
	rec, err := prepare(s.flatten(data))
	if err != nil {
		return nil, err
	}
	s.pc.Persist(rec)
	if err := s.pc.Flush(ctx); err != nil {
		return nil, s.fail("create", err)
	}
	out, err := s.populate(ctx, record.Clone(rec))
	return out, s.fail("create", err)
}

func (s *RelationalStore) Update(ctx context.Context, id string, data record.Record) (record.Record, error) {
	patch, err := normalize(s.flatten(data))
	if err != nil {
		return nil, err
	}
	entity, err := s.pc.FindByID(ctx, id)
	if err != nil {
		return nil, s.fail("update", err)
	}
	if entity == nil {
		return nil, nil
	}
	merged := s.pc.Assign(entity, patch)
	if err := s.pc.Flush(ctx); err != nil {
		return nil, s.fail("update", err)
	}
	out, err := s.populate(ctx, merged)
	return out, s.fail("update", err)
}

func (s *RelationalStore) Delete(ctx context.Context, id string) error {
	entity, err := s.pc.FindByID(ctx, id)
	if err != nil {
		return s.fail("delete", err)
	}
	if entity == nil {
		return nil
	}
	s.pc.Remove(entity)
	return s.fail("delete", s.pc.Flush(ctx))
}

func (s *RelationalStore) FindByID(ctx context.Context, id string) (record.Record, error) {
	rec, err := s.pc.FindByID(ctx, id)
	if err != nil {
		return nil, s.fail("findById", err)
	}
	rec, err = s.populate(ctx, rec)
	return rec, s.fail("findById", err)
}

func (s *RelationalStore) FindOne(ctx context.Context, filter record.Filter) (record.Record, error) {
	rec, err := s.pc.FindOne(ctx, s.flattenFilter(filter))
	if err != nil {
		return nil, s.fail("findOne", err)
	}
	rec, err = s.populate(ctx, rec)
	return rec, s.fail("findOne", err)
}

func (s *RelationalStore) FindAll(ctx context.Context) ([]record.Record, error) {
	return s.Find(ctx, nil, record.FindOptions{})
}

func (s *RelationalStore) Find(ctx context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error) {
	recs, err := s.pc.Find(ctx, s.flattenFilter(filter), opts)
	if err != nil {
		return nil, s.fail("find", err)
	}
	recs, err = s.populateAll(ctx, recs)
	return recs, s.fail("find", err)
}

// flattenFilter lets callers filter a relation field by a related record.
func (s *RelationalStore) flattenFilter(f record.Filter) record.Filter {
	if f == nil {
		return nil
	}
	return record.Filter(s.flatten(record.Record(f)))
}

func (s *RelationalStore) CreateMany(ctx context.Context, data []record.Record) ([]record.Record, error) {
	out := make([]record.Record, len(data))
	for i, d := range data {
		rec, err := prepare(s.flatten(d))
		if err != nil {
			s.pc.Clear()
			return nil, err
		}
		s.pc.Persist(rec)
		out[i] = rec
	}
	if err := s.pc.Flush(ctx); err != nil {
		return nil, s.fail("createMany", err)
	}
	out, err := s.populateAll(ctx, out)
	return out, s.fail("createMany", err)
}

// UpdateMany resolves each id individually, merges the found records and
// writes them with a single flush. Unknown ids are nil in the result.
// Patches for an id seen earlier in the batch merge onto its previous
// result, as if applied one after the other.
func (s *RelationalStore) UpdateMany(ctx context.Context, patches []record.Patch) ([]record.Record, error) {
	out := make([]record.Record, len(patches))
	merged := make(map[string]record.Record, len(patches))
	for i, p := range patches {
		patch, err := normalize(s.flatten(p.Data))
		if err != nil {
			s.pc.Clear()
			return nil, err
		}
		entity, seen := merged[p.ID]
		if !seen {
			entity, err = s.pc.FindByID(ctx, p.ID)
			if err != nil {
				s.pc.Clear()
				return nil, s.fail("updateMany", fmt.Errorf("resolve %s: %w", p.ID, err))
			}
		}
		if entity == nil {
			continue
		}
		merged[p.ID] = s.pc.Assign(entity, patch)
		out[i] = record.Clone(merged[p.ID])
	}
	if err := s.pc.Flush(ctx); err != nil {
		return nil, s.fail("updateMany", err)
	}
	out, err := s.populateAll(ctx, out)
	return out, s.fail("updateMany", err)
}

func (s *RelationalStore) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		entity, err := s.pc.FindByID(ctx, id)
		if err != nil {
			s.pc.Clear()
			return s.fail("deleteMany", fmt.Errorf("resolve %s: %w", id, err))
		}
		if entity != nil {
			s.pc.Remove(entity)
		}
	}
	return s.fail("deleteMany", s.pc.Flush(ctx))
}

func (s *RelationalStore) BeginTransaction(ctx context.Context) error {
	return s.fail("begin", s.pc.Begin(ctx))
}

func (s *RelationalStore) CommitTransaction(ctx context.Context) error {
	return s.fail("commit", s.pc.Commit(ctx))
}

func (s *RelationalStore) RollbackTransaction(ctx context.Context) error {
	return s.fail("rollback", s.pc.Rollback(ctx))
}

// Close is a no-op: the database belongs to the caller.
func (s *RelationalStore) Close() error {
	return nil
}
