// Package catalog declares the product catalog record types and their
// business rules.
package catalog

import (
	"context"
	"math"

	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/service"
)

// TaxRate is applied to a product's price to compute its tax.
const TaxRate = 0.21

var CategoryType = record.Type{
	Name: "categories",
	Schema: map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "minLength": 1},
		},
	},
}

var ProductType = record.Type{
	Name: "products",
	New: func() record.Record {
		return record.Record{"tax": 0, "totalPrice": 0}
	},
	Schema: map[string]any{
		"type":     "object",
		"required": []any{"name", "price"},
		"properties": map[string]any{
			"name":       map[string]any{"type": "string", "minLength": 1},
			"price":      map[string]any{"type": "number", "minimum": 0},
			"tax":        map[string]any{"type": "number", "minimum": 0},
			"totalPrice": map[string]any{"type": "number", "minimum": 0},
		},
	},
	Relations: map[string]string{"category": CategoryType.Name},
}

// Types lists every catalog record type.
func Types() []record.Type {
	return []record.Type{CategoryType, ProductType}
}

// Hooks returns the hook factory for typ. Types without business rules
// keep the default hooks.
func Hooks(typ record.Type) service.HookFactory {
	if typ.Name == ProductType.Name {
		return ProductHooks
	}
	return func(base service.DefaultHooks) service.Hooks {
		return base
	}
}

// ProductHooks validates products, keeps product names unique and derives
// tax and totalPrice from price.
func ProductHooks(base service.DefaultHooks) service.Hooks {
	return productHooks{DefaultHooks: base}
}

type productHooks struct {
	service.DefaultHooks
}

func (h productHooks) BeforeCreate(ctx context.Context, data record.Record) error {
	if err := h.DefaultHooks.BeforeCreate(ctx, data); err != nil {
		return err
	}
	if err := h.unique(ctx, "", data); err != nil {
		return err
	}
	price(data)
	return nil
}

func (h productHooks) BeforeUpdate(ctx context.Context, id string, data record.Record) error {
	if err := h.DefaultHooks.BeforeUpdate(ctx, id, data); err != nil {
		return err
	}
	if err := h.unique(ctx, id, data); err != nil {
		return err
	}
	if _, ok := data["price"]; ok {
		price(data)
	}
	return nil
}

// unique fails when another product already carries data's name.
func (h productHooks) unique(ctx context.Context, id string, data record.Record) error {
	name, ok := data["name"]
	if !ok {
		return nil
	}
	existing, err := h.Store.FindOne(ctx, record.Filter{"name": name})
	if err != nil {
		return err
	}
	if existing != nil && existing.ID() != id {
		return service.NewConflictError(h.Type.Name, "name", name)
	}
	return nil
}

func price(data record.Record) {
	p, _ := record.Normalize(data["price"]).(float64)
	tax := math.Round(p * TaxRate)
	data["tax"] = tax
	data["totalPrice"] = p + tax
}
