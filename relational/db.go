// Package relational is a small unit-of-work persistence context over
// database/sql and SQLite. Each record type is mapped to its own table
// holding the record as a JSON document.
//
// Tables:
//
//	<type>(id TEXT PRIMARY KEY, data TEXT NOT NULL)
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var (
	// ErrNoTransaction is returned by Commit or Rollback without Begin.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionActive is returned by Begin while a transaction is open.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrInvalidName is returned for a type or field name that cannot be
	// used as a table name or JSON path.
	ErrInvalidName = errors.New("invalid name")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// querier is the subset of *sql.DB and *sql.Tx used for statements.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is a database shared by the entity managers of several record types.
// At most one explicit transaction is open at a time; while it is open
// every manager of the DB reads and writes through it.
type DB struct {
	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	tables map[string]bool
	logger *slog.Logger
}

// Open opens (creating if needed) a SQLite database file.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *DB {
	return &DB{
		db:     db,
		tables: make(map[string]bool),
		logger: slog.Default(),
	}
}

// SetLogger replaces the logger used for flush and transaction events.
func (d *DB) SetLogger(l *slog.Logger) {
	d.logger = l
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		d.tx.Rollback()
		d.tx = nil
	}
	return d.db.Close()
}

// Manager returns an entity manager for the named record type, creating its
// table if needed.
func (d *DB) Manager(ctx context.Context, typeName string) (*EntityManager, error) {
	if err := d.ensureTable(ctx, typeName); err != nil {
		return nil, err
	}
	return &EntityManager{db: d, table: typeName}, nil
}

func (d *DB) ensureTable(ctx context.Context, name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: table %q", ErrInvalidName, name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tables[name] {
		return nil
	}
	_, err := d.q().ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`, name))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}
	d.tables[name] = true
	return nil
}

// q returns the active transaction, or the database. Callers hold d.mu.
func (d *DB) q() querier {
	if d.tx != nil {
		return d.tx
	}
	return d.db
}

// Begin opens an explicit transaction.
func (d *DB) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return ErrTransactionActive
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	d.tx = tx
	d.logger.Debug("transaction started")
	return nil
}

// Commit commits the explicit transaction.
func (d *DB) Commit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil {
		return ErrNoTransaction
	}
	tx := d.tx
	d.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	d.logger.Debug("transaction committed")
	return nil
}

// Rollback aborts the explicit transaction.
func (d *DB) Rollback(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil {
		return ErrNoTransaction
	}
	tx := d.tx
	d.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	d.logger.Debug("transaction rolled back")
	return nil
}

// write runs fn inside a transaction of its own that is committed when fn
// succeeds. While an explicit transaction is open fn runs under a savepoint
// of it instead, so a failing fn leaves the explicit transaction as it was.
func (d *DB) write(ctx context.Context, fn func(q querier) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return d.savepoint(ctx, fn)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *DB) savepoint(ctx context.Context, fn func(q querier) error) error {
	if _, err := d.tx.ExecContext(ctx, `SAVEPOINT flush`); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(d.tx); err != nil {
		_, rerr := d.tx.ExecContext(ctx, `ROLLBACK TO flush`)
		if rerr == nil {
			_, rerr = d.tx.ExecContext(ctx, `RELEASE flush`)
		}
		return errors.Join(err, rerr)
	}
	if _, err := d.tx.ExecContext(ctx, `RELEASE flush`); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// read runs fn against the explicit transaction or the database.
func (d *DB) read(fn func(q querier) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.q())
}
