package service

import (
	"context"

	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/schema"
	"github.com/stevemurr/recstore/store"
)

// Hooks run around every service operation. Before-hooks may modify data
// in place; an error from a before-hook aborts the operation before the
// store is called.
type Hooks interface {
	BeforeCreate(ctx context.Context, data record.Record) error
	AfterCreate(ctx context.Context, rec record.Record) error

	BeforeUpdate(ctx context.Context, id string, data record.Record) error
	// AfterUpdate receives nil when the record was not found.
	AfterUpdate(ctx context.Context, rec record.Record) error

	BeforeDelete(ctx context.Context, id string) error
	AfterDelete(ctx context.Context, id string) error

	BeforeFind(ctx context.Context, filter record.Filter, opts record.FindOptions) error
	AfterFind(ctx context.Context, recs []record.Record) error
}

// HookFactory builds a service's hooks from its defaults. Implementations
// usually embed DefaultHooks and override some methods; to extend rather
// than replace a default, call the embedded method first.
type HookFactory func(base DefaultHooks) Hooks

// DefaultHooks validates creates and updates against the record type's
// schema and does nothing else.
type DefaultHooks struct {
	Type  record.Type
	Store store.Store
}

var _ Hooks = DefaultHooks{}

// BeforeCreate builds a transient instance of the type from data and
// validates it.
func (h DefaultHooks) BeforeCreate(_ context.Context, data record.Record) error {
	return h.check(schema.Validate(h.Type.Schema, h.Type.Instance(data)))
}

// BeforeUpdate validates the existing record merged with data. When the
// record does not exist the partial is validated on its own, without the
// required rules.
func (h DefaultHooks) BeforeUpdate(ctx context.Context, id string, data record.Record) error {
	if h.Type.Schema == nil {
		return nil
	}
	existing, err := h.Store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return h.check(schema.ValidatePartial(h.Type.Schema, data))
	}
	return h.check(schema.Validate(h.Type.Schema, h.Type.Instance(record.Merge(existing, data))))
}

func (h DefaultHooks) check(vs []schema.Violation) error {
	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Type: h.Type.Name, Violations: vs}
}

func (DefaultHooks) AfterCreate(context.Context, record.Record) error { return nil }
func (DefaultHooks) AfterUpdate(context.Context, record.Record) error { return nil }
func (DefaultHooks) BeforeDelete(context.Context, string) error { return nil }
func (DefaultHooks) AfterDelete(context.Context, string) error { return nil }
func (DefaultHooks) AfterFind(context.Context, []record.Record) error { return nil }
func (DefaultHooks) BeforeFind(context.Context, record.Filter, record.FindOptions) error { return nil }
