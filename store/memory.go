package store

import (
	"context"
	"fmt"

	"github.com/stevemurr/recstore/record"
)

// MemoryStore keeps records in an ordered slice. Data is lost on restart.
//
// Lookups are linear scans. MemoryStore is not safe for concurrent
// mutation: callers sharing an instance must serialize Create, Update and
// Delete themselves.
//
// Transactions are simulated: BeginTransaction pushes a full copy of the
// records onto a stack, which costs O(n) per begin. Commit pops the copy,
// rollback restores it. Commit or rollback on an empty stack is a no-op.
type MemoryStore struct {
	typ       record.Type
	records   []record.Record
	snapshots [][]record.Record
}

func NewMemoryStore(typ record.Type) *MemoryStore {
	return &MemoryStore{typ: typ}
}

func (m *MemoryStore) indexOf(id string) int {
	for i, r := range m.records {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) Create(_ context.Context, data record.Record) (record.Record, error) {
	rec, err := prepare(data)
	if err != nil {
		return nil, err
	}
	if m.indexOf(rec.ID()) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID())
	}
	m.records = append(m.records, rec)
	return record.Clone(rec), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, data record.Record) (record.Record, error) {
	patch, err := normalize(data)
	if err != nil {
		return nil, err
	}
	i := m.indexOf(id)
	if i < 0 {
		return nil, nil
	}
	m.records[i] = record.Merge(m.records[i], patch)
	return record.Clone(m.records[i]), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	if i := m.indexOf(id); i >= 0 {
		m.records = append(m.records[:i:i], m.records[i+1:]...)
	}
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (record.Record, error) {
	if i := m.indexOf(id); i >= 0 {
		return record.Clone(m.records[i]), nil
	}
	return nil, nil
}

func (m *MemoryStore) FindOne(_ context.Context, filter record.Filter) (record.Record, error) {
	for _, r := range m.records {
		if filter.Matches(r) {
			return record.Clone(r), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindAll(_ context.Context) ([]record.Record, error) {
	return record.CloneAll(m.records), nil
}

func (m *MemoryStore) Find(_ context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error) {
	return record.CloneAll(record.Apply(m.records, filter, opts)), nil
}

func (m *MemoryStore) CreateMany(ctx context.Context, data []record.Record) ([]record.Record, error) {
	return createEach(ctx, m, data)
}

func (m *MemoryStore) UpdateMany(ctx context.Context, patches []record.Patch) ([]record.Record, error) {
	return updateEach(ctx, m, patches)
}

func (m *MemoryStore) DeleteMany(ctx context.Context, ids []string) error {
	return deleteEach(ctx, m, ids)
}

func (m *MemoryStore) BeginTransaction(_ context.Context) error {
	m.snapshots = append(m.snapshots, record.CloneAll(m.records))
	return nil
}

func (m *MemoryStore) CommitTransaction(_ context.Context) error {
	if n := len(m.snapshots); n > 0 {
		m.snapshots = m.snapshots[:n-1]
	}
	return nil
}

func (m *MemoryStore) RollbackTransaction(_ context.Context) error {
	n := len(m.snapshots)
	if n == 0 {
		return nil
	}
	m.records = m.snapshots[n-1]
	m.snapshots = m.snapshots[:n-1]
	return nil
}

// InTransaction reports whether a transaction is open.
func (m *MemoryStore) InTransaction() bool {
	return len(m.snapshots) > 0
}

func (m *MemoryStore) Close() error {
	return nil
}
