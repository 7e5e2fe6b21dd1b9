package record

// Type declares a record type: its name, how to build a transient
// instance, the structural rules for its fields and the fields that
// reference records of other types.
type Type struct {
	// Name identifies the type in a Registry and names its collection.
	Name string

	// New builds a zero-value instance with default field values.
	// May be nil, in which case instances start empty.
	New func() Record

	// Schema holds the JSON-Schema rules for the type's fields.
	Schema map[string]any

	// Relations maps a field to the name of the type it references.
	Relations map[string]string
}

// Instance builds a transient record of the type populated with data.
func (t Type) Instance(data Record) Record {
	var base Record
	if t.New != nil {
		base = t.New()
	}
	return Merge(base, data)
}
