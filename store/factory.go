package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/relational"
)

// Options supplies the resources New cannot infer from metadata.
type Options struct {
	// Databases maps metadata database names to open relational databases.
	Databases map[string]*relational.DB

	// Endpoints maps record-type names to remote base URLs. Takes
	// precedence over the endpoint in the metadata.
	Endpoints map[string]string

	// Client is the HTTP transport for remote stores.
	Client Doer

	// DataDir holds the JSON files of file stores.
	DataDir string

	// Badger is the database of embedded stores.
	Badger *badger.DB

	Logger *slog.Logger
}

// New creates the Store registered for typ.
//
// Supported kinds:
//
//	"relational" - table in Options.Databases[metadata.Database]
//	"remote"     - HTTP resource at Options.Endpoints[typ.Name] or metadata.Endpoint
//	"memory"     - in-memory (ephemeral, for testing)
//	"file"       - JSON file in Options.DataDir
//	"embedded"   - key range in Options.Badger
func New(ctx context.Context, typ record.Type, reg record.Registry, opts Options) (Store, error) {
	meta, ok := reg.Lookup(typ.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoMetadata, typ.Name)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("type %q: %w", typ.Name, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("selecting store", "type", typ.Name, "kind", meta.Kind)

	switch meta.Kind {
	case record.KindRelational:
		db, ok := opts.Databases[meta.Database]
		if !ok {
			return nil, fmt.Errorf("%w: %q for type %q", ErrUnknownDatabase, meta.Database, typ.Name)
		}
		em, err := db.Manager(ctx, typ.Name)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", typ.Name, err)
		}
		return NewRelationalStore(typ, em), nil
	case record.KindRemote:
		endpoint := opts.Endpoints[typ.Name]
		if endpoint == "" {
			endpoint = meta.Endpoint
		}
		if endpoint == "" {
			return nil, fmt.Errorf("type %q: remote store requires an endpoint", typ.Name)
		}
		ropts := []RemoteOption{WithLogger(logger)}
		if opts.Client != nil {
			ropts = append(ropts, WithDoer(opts.Client))
		}
		return NewRemoteStore(endpoint, ropts...)
	case record.KindMemory:
		return NewMemoryStore(typ), nil
	case record.KindFile:
		if opts.DataDir == "" {
			return nil, fmt.Errorf("type %q: file store requires a data directory", typ.Name)
		}
		return NewFileStore(opts.DataDir, typ)
	case record.KindEmbedded:
		if opts.Badger == nil {
			return nil, fmt.Errorf("type %q: embedded store requires a badger database", typ.Name)
		}
		return NewBadgerStore(opts.Badger, typ), nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", record.ErrInvalidMetadata, meta.Kind)
}
