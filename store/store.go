// Package store defines the record store contract and its backends.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stevemurr/recstore/record"
)

// Store is the interface that all backing stores must implement. A store
// holds the records of a single record type.
//
// Not-found is never an error: lookups and updates of an unknown id return
// a nil record and a nil error.
type Store interface {
	// Create persists a new record, assigning an id if none is given, and
	// returns the stored record.
	Create(ctx context.Context, data record.Record) (record.Record, error)

	// Update merges data onto an existing record. Returns nil if id is unknown.
	Update(ctx context.Context, id string, data record.Record) (record.Record, error)

	// Delete removes a record. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error

	// FindByID returns a record by id, or nil.
	FindByID(ctx context.Context, id string) (record.Record, error)

	// FindOne returns the first record matching filter, or nil.
	FindOne(ctx context.Context, filter record.Filter) (record.Record, error)

	// FindAll returns copies of every record.
	FindAll(ctx context.Context) ([]record.Record, error)

	// Find filters, then orders, then applies offset, then limit.
	Find(ctx context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error)

	// CreateMany creates each record independently.
	CreateMany(ctx context.Context, data []record.Record) ([]record.Record, error)

	// UpdateMany updates each record independently. Unknown ids yield a
	// nil element at the matching position.
	UpdateMany(ctx context.Context, patches []record.Patch) ([]record.Record, error)

	// DeleteMany deletes each id independently.
	DeleteMany(ctx context.Context, ids []string) error

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// normalize returns data in its stored form. Data holding values JSON
// cannot encode is rejected with ErrInvalidRecord.
func normalize(data record.Record) (record.Record, error) {
	rec, err := record.Normalized(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec == nil {
		rec = record.Record{}
	}
	return rec, nil
}

// prepare normalizes data for insertion and assigns an id if missing.
func prepare(data record.Record) (record.Record, error) {
	rec, err := normalize(data)
	if err != nil {
		return nil, err
	}
	if rec.ID() == "" {
		rec[record.IDField] = newID()
	}
	return rec, nil
}
