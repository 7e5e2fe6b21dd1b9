package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/stevemurr/recstore/record"
)

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadger opens a BadgerDB database in dir, creating it if needed.
// An empty dir opens an in-memory database.
func OpenBadger(dir string, logger *slog.Logger) (*badger.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None
	return badger.Open(opts)
}

// BadgerStore keeps a record type in a BadgerDB key space under
// "rec/<type>/<id>", one JSON document per key.
//
// BeginTransaction opens a read-write badger transaction that every
// following operation uses until CommitTransaction or RollbackTransaction.
// Transactions do not nest. The database is owned by the caller; Close only
// discards an open transaction.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte

	mu  sync.Mutex
	txn *badger.Txn
}

func NewBadgerStore(db *badger.DB, typ record.Type) *BadgerStore {
	return &BadgerStore{db: db, prefix: []byte("rec/" + typ.Name + "/")}
}

func (s *BadgerStore) key(id string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(id))
	return append(append(k, s.prefix...), id...)
}

func (s *BadgerStore) fail(op string, err error) error {
	return backendErr("embedded", op, err)
}

// update runs fn in the open transaction, or in a transaction of its own.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil {
		return fn(s.txn)
	}
	return s.db.Update(fn)
}

func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil {
		return fn(s.txn)
	}
	return s.db.View(fn)
}

func getRecord(txn *badger.Txn, key []byte) (record.Record, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record.Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func putRecord(txn *badger.Txn, key []byte, rec record.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func (s *BadgerStore) scan(txn *badger.Txn) ([]record.Record, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = s.prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var recs []record.Record
	for it.Rewind(); it.Valid(); it.Next() {
		var rec record.Record
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *BadgerStore) Create(_ context.Context, data record.Record) (record.Record, error) {
	rec, err := prepare(data)
	if err != nil {
		return nil, err
	}
	err = s.update(func(txn *badger.Txn) error {
		existing, err := getRecord(txn, s.key(rec.ID()))
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID())
		}
		return putRecord(txn, s.key(rec.ID()), rec)
	})
	if errors.Is(err, ErrDuplicateID) {
		return nil, err
	}
	if err != nil {
		return nil, s.fail("create", err)
	}
	return rec, nil
}

func (s *BadgerStore) Update(_ context.Context, id string, data record.Record) (record.Record, error) {
	patch, err := normalize(data)
	if err != nil {
		return nil, err
	}
	var out record.Record
	err = s.update(func(txn *badger.Txn) error {
		existing, err := getRecord(txn, s.key(id))
		if err != nil || existing == nil {
			return err
		}
		out = record.Merge(existing, patch)
		return putRecord(txn, s.key(id), out)
	})
	if err != nil {
		return nil, s.fail("update", err)
	}
	return out, nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.fail("delete", s.update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(id))
	}))
}

func (s *BadgerStore) FindByID(_ context.Context, id string) (record.Record, error) {
	var rec record.Record
	err := s.view(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, s.key(id))
		return err
	})
	if err != nil {
		return nil, s.fail("findById", err)
	}
	return rec, nil
}

func (s *BadgerStore) FindOne(ctx context.Context, filter record.Filter) (record.Record, error) {
	recs, err := s.Find(ctx, filter, record.FindOptions{Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (s *BadgerStore) FindAll(ctx context.Context) ([]record.Record, error) {
	return s.Find(ctx, nil, record.FindOptions{})
}

// Find scans the type's key range in id order and applies the filter and
// options in memory.
func (s *BadgerStore) Find(_ context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error) {
	var recs []record.Record
	err := s.view(func(txn *badger.Txn) error {
		var err error
		recs, err = s.scan(txn)
		return err
	})
	if err != nil {
		return nil, s.fail("find", err)
	}
	return record.Apply(recs, filter, opts), nil
}

func (s *BadgerStore) CreateMany(ctx context.Context, data []record.Record) ([]record.Record, error) {
	return createEach(ctx, s, data)
}

func (s *BadgerStore) UpdateMany(ctx context.Context, patches []record.Patch) ([]record.Record, error) {
	return updateEach(ctx, s, patches)
}

func (s *BadgerStore) DeleteMany(ctx context.Context, ids []string) error {
	return deleteEach(ctx, s, ids)
}

func (s *BadgerStore) BeginTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil {
		return ErrTransactionActive
	}
	s.txn = s.db.NewTransaction(true)
	return nil
}

func (s *BadgerStore) CommitTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return ErrNoTransaction
	}
	txn := s.txn
	s.txn = nil
	return s.fail("commit", txn.Commit())
}

func (s *BadgerStore) RollbackTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return ErrNoTransaction
	}
	s.txn.Discard()
	s.txn = nil
	return nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil {
		s.txn.Discard()
		s.txn = nil
	}
	return nil
}
