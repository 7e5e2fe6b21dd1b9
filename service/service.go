// Package service wraps a record store with lifecycle hooks. Every
// operation runs its before-hook, delegates to the store, then runs its
// after-hook.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/store"
)

// Service is the record-type-level entry point for application code. It
// satisfies store.Store, so a service can stand wherever a store is
// served.
type Service struct {
	typ    record.Type
	store  store.Store
	hooks  Hooks
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHooks replaces the default hooks with the ones built by f. A nil f
// keeps the defaults.
func WithHooks(f HookFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.hooks = f(DefaultHooks{Type: s.typ, Store: s.store})
		}
	}
}

// WithLogger sets the logger used for operation tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a Service for typ over st.
func New(typ record.Type, st store.Store, opts ...Option) *Service {
	s := &Service{
		typ:    typ,
		store:  st,
		hooks:  DefaultHooks{Type: typ, Store: st},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Service)(nil)

// Open selects the store registered for typ and wraps it in a Service.
func Open(ctx context.Context, typ record.Type, reg record.Registry, sopts store.Options, opts ...Option) (*Service, error) {
	st, err := store.New(ctx, typ, reg, sopts)
	if err != nil {
		return nil, err
	}
	return New(typ, st, opts...), nil
}

// Type returns the record type the service manages.
func (s *Service) Type() record.Type { return s.typ }

// Store returns the underlying store.
func (s *Service) Store() store.Store { return s.store }

// Create validates data through BeforeCreate and persists it. The caller's
// map is never modified.
func (s *Service) Create(ctx context.Context, data record.Record) (record.Record, error) {
	data = record.Clone(data)
	if data == nil {
		data = record.Record{}
	}
	if err := s.hooks.BeforeCreate(ctx, data); err != nil {
		s.logger.Debug("create rejected", "type", s.typ.Name, "error", err)
		return nil, err
	}
	rec, err := s.store.Create(ctx, data)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("created record", "type", s.typ.Name, "id", rec.ID())
	return rec, s.after("create", s.hooks.AfterCreate(ctx, rec))
}

// Update merges data onto the record with the given id. A nil record and
// nil error mean the id is unknown.
func (s *Service) Update(ctx context.Context, id string, data record.Record) (record.Record, error) {
	data = record.Clone(data)
	if data == nil {
		data = record.Record{}
	}
	if err := s.hooks.BeforeUpdate(ctx, id, data); err != nil {
		s.logger.Debug("update rejected", "type", s.typ.Name, "id", id, "error", err)
		return nil, err
	}
	rec, err := s.store.Update(ctx, id, data)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("updated record", "type", s.typ.Name, "id", id, "found", rec != nil)
	return rec, s.after("update", s.hooks.AfterUpdate(ctx, rec))
}

// Delete removes the record with the given id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.hooks.BeforeDelete(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Debug("deleted record", "type", s.typ.Name, "id", id)
	return s.after("delete", s.hooks.AfterDelete(ctx, id))
}

// FindByID returns the record with the given id, or nil.
func (s *Service) FindByID(ctx context.Context, id string) (record.Record, error) {
	if err := s.hooks.BeforeFind(ctx, record.Filter{record.IDField: id}, record.FindOptions{Limit: 1}); err != nil {
		return nil, err
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, s.after("find", s.hooks.AfterFind(ctx, single(rec)))
}

// FindOne returns the first record matching filter, or nil.
func (s *Service) FindOne(ctx context.Context, filter record.Filter) (record.Record, error) {
	if err := s.hooks.BeforeFind(ctx, filter, record.FindOptions{Limit: 1}); err != nil {
		return nil, err
	}
	rec, err := s.store.FindOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	return rec, s.after("find", s.hooks.AfterFind(ctx, single(rec)))
}

// FindAll returns every record.
func (s *Service) FindAll(ctx context.Context) ([]record.Record, error) {
	if err := s.hooks.BeforeFind(ctx, nil, record.FindOptions{}); err != nil {
		return nil, err
	}
	recs, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return recs, s.after("find", s.hooks.AfterFind(ctx, recs))
}

// Find returns the records matching filter, ordered and paged by opts.
func (s *Service) Find(ctx context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error) {
	if err := s.hooks.BeforeFind(ctx, filter, opts); err != nil {
		return nil, err
	}
	recs, err := s.store.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return recs, s.after("find", s.hooks.AfterFind(ctx, recs))
}

// CreateMany runs Create for every element. A failing element leaves its
// result nil and does not stop the others; failures are joined.
func (s *Service) CreateMany(ctx context.Context, data []record.Record) ([]record.Record, error) {
	out := make([]record.Record, len(data))
	var errs []error
	for i, d := range data {
		rec, err := s.Create(ctx, d)
		out[i] = rec
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// UpdateMany runs Update for every patch, in order.
func (s *Service) UpdateMany(ctx context.Context, patches []record.Patch) ([]record.Record, error) {
	out := make([]record.Record, len(patches))
	var errs []error
	for i, p := range patches {
		rec, err := s.Update(ctx, p.ID, p.Data)
		out[i] = rec
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// DeleteMany runs Delete for every id.
func (s *Service) DeleteMany(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) BeginTransaction(ctx context.Context) error {
	return s.store.BeginTransaction(ctx)
}

func (s *Service) CommitTransaction(ctx context.Context) error {
	return s.store.CommitTransaction(ctx)
}

func (s *Service) RollbackTransaction(ctx context.Context) error {
	return s.store.RollbackTransaction(ctx)
}

// Transaction runs fn inside a store transaction, committing if fn
// returns nil and rolling back otherwise.
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.BeginTransaction(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if rerr := s.RollbackTransaction(ctx); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return s.CommitTransaction(ctx)
}

// Close closes the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) after(op string, err error) error {
	if err == nil {
		return nil
	}
	s.logger.Warn("after hook failed", "type", s.typ.Name, "op", op, "error", err)
	return &AfterHookError{Op: op, Err: err}
}

func single(rec record.Record) []record.Record {
	if rec == nil {
		return nil
	}
	return []record.Record{rec}
}
