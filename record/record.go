// Package record defines the document model shared by every store:
// records, filters, find options and record-type declarations.
package record

import (
	"encoding/json"
	"maps"
)

// IDField is the name of the identifier field every record carries.
const IDField = "id"

// Record is a single stored document. Values are kept in their JSON
// normalized form: numbers are float64, objects map[string]any and
// arrays []any.
type Record map[string]any

// ID returns the record identifier, or "" if it has none.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Normalized returns a deep copy of src in its stored form. It fails for
// values JSON cannot encode, such as NaN or channels.
func Normalized(src Record) (Record, error) {
	if src == nil {
		return nil, nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var dst Record
	if err := json.Unmarshal(b, &dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Clone returns a deep, normalized copy of src. src must be encodable;
// stores check this with Normalized when records enter them. A record that
// does not encode is copied shallowly.
func Clone(src Record) Record {
	dst, err := Normalized(src)
	if err != nil {
		return maps.Clone(src)
	}
	return dst
}

// CloneAll deep-copies a slice of records.
func CloneAll(src []Record) []Record {
	out := make([]Record, len(src))
	for i, r := range src {
		out[i] = Clone(r)
	}
	return out
}

// Normalize converts an arbitrary value into the representation it would
// have after being stored, so that an int filter value compares equal to a
// stored float64.
func Normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// Merge returns a copy of base with every field of patch applied on top.
// The identifier of base is never overwritten.
func Merge(base, patch Record) Record {
	out := Clone(base)
	if out == nil {
		out = Record{}
	}
	for k, v := range Clone(patch) {
		if k == IDField {
			continue
		}
		out[k] = v
	}
	return out
}

// Patch is one element of a bulk update.
type Patch struct {
	ID   string `json:"id"`
	Data Record `json:"data"`
}
