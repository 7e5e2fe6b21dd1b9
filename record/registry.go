package record

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind names a store implementation.
type Kind string

const (
	KindRelational Kind = "relational"
	KindRemote     Kind = "remote"
	KindMemory     Kind = "memory"
	KindFile       Kind = "file"
	KindEmbedded   Kind = "embedded"
)

// ErrInvalidMetadata is returned for a Metadata entry that cannot be resolved.
var ErrInvalidMetadata = errors.New("invalid repository metadata")

// Metadata selects the store a record type is persisted in.
type Metadata struct {
	Kind Kind `yaml:"kind"`
	// Database names the relational database; only valid for KindRelational.
	Database string `yaml:"database,omitempty"`
	// Endpoint is the default base URL for KindRemote.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Validate checks that the entry is internally consistent.
func (m Metadata) Validate() error {
	switch m.Kind {
	case KindRelational:
		if m.Database == "" {
			return fmt.Errorf("%w: kind %q requires a database", ErrInvalidMetadata, m.Kind)
		}
		return nil
	case KindRemote, KindMemory, KindFile, KindEmbedded:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMetadata, m.Kind)
	}
	if m.Database != "" {
		return fmt.Errorf("%w: database is only valid for kind %q", ErrInvalidMetadata, KindRelational)
	}
	return nil
}

// Registry maps record-type names to their metadata. It is populated once
// at startup and handed to the store selector.
type Registry map[string]Metadata

// Register adds metadata for a type. A type may be registered only once.
func (r Registry) Register(typeName string, m Metadata) error {
	if _, ok := r[typeName]; ok {
		return fmt.Errorf("%w: type %q already registered", ErrInvalidMetadata, typeName)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("type %q: %w", typeName, err)
	}
	r[typeName] = m
	return nil
}

// Lookup returns the metadata for a type.
func (r Registry) Lookup(typeName string) (Metadata, bool) {
	m, ok := r[typeName]
	return m, ok
}

// Names returns the registered type names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type registryFile struct {
	Types map[string]Metadata `yaml:"types"`
}

// ParseRegistry decodes a YAML registry document:
//
//	types:
//	  products:   {kind: relational, database: main}
//	  categories: {kind: memory}
func ParseRegistry(data []byte) (Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	reg := make(Registry, len(f.Types))
	for name, m := range f.Types {
		if err := reg.Register(name, m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadRegistry reads and parses a YAML registry file.
func LoadRegistry(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return ParseRegistry(data)
}
