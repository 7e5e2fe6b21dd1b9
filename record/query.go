package record

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Filter maps field names to exact-match values. All entries must match.
// A nil or empty Filter matches every record.
type Filter map[string]any

// Direction is the sort direction of an Order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts "asc" or "desc" in any case. Empty means Asc.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	}
	return "", fmt.Errorf("invalid sort direction %q", s)
}

// Order is a single (field, direction) sort key.
type Order struct {
	Field     string
	Direction Direction
}

// FindOptions shapes the result of Find. A Limit <= 0 means no limit.
type FindOptions struct {
	Limit   int
	Offset  int
	OrderBy *Order
}

// Matches reports whether every filter entry equals the record's field.
func (f Filter) Matches(r Record) bool {
	for field, want := range f {
		got, ok := r[field]
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, Normalize(want)) {
			return false
		}
	}
	return true
}

// Apply filters, orders, offsets and limits recs, in that order. The input
// slice is not modified; returned records are the same values as the input.
func Apply(recs []Record, f Filter, opts FindOptions) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	if opts.OrderBy != nil {
		field := opts.OrderBy.Field
		desc := opts.OrderBy.Direction == Desc
		slices.SortStableFunc(out, func(a, b Record) int {
			c := Compare(a[field], b[field])
			if desc {
				return -c
			}
			return c
		})
	}
	return Page(out, opts.Offset, opts.Limit)
}

// Page slices recs to [offset, offset+limit). A limit <= 0 keeps the rest.
func Page(recs []Record, offset, limit int) []Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return []Record{}
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

// Compare orders two normalized values by their natural ordering:
// nil < bool < number < string < anything else (compared as JSON text).
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case string:
		return strings.Compare(x, b.(string))
	}
	if fa, ok := toFloat(a); ok {
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return strings.Compare(string(ja), string(jb))
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	return 4
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
