package store

import (
	"errors"
	"fmt"

	"github.com/stevemurr/recstore/relational"
)

var (
	// ErrUnsupported is returned for a capability a backend does not offer.
	ErrUnsupported = errors.New("operation not supported")

	// ErrDuplicateID is returned when creating a record whose id already exists.
	ErrDuplicateID = errors.New("duplicate record id")

	// ErrInvalidRecord is returned for data holding values that have no
	// JSON encoding.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNoMetadata is returned by New for a record type with no registry entry.
	ErrNoMetadata = errors.New("no repository metadata for record type")

	// ErrUnknownDatabase is returned by New when relational metadata names a
	// database that was not supplied.
	ErrUnknownDatabase = errors.New("unknown database")

	// ErrNoTransaction is returned by commit or rollback without a begin on
	// backends with real transactions.
	ErrNoTransaction = relational.ErrNoTransaction

	// ErrTransactionActive is returned by a nested begin on backends that
	// cannot nest transactions.
	ErrTransactionActive = relational.ErrTransactionActive
)

// BackendError wraps a failure of the collaborator behind a store: a
// transport error, a non-2xx response, or a database error.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func backendErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}
