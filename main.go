package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/urfave/cli/v2"

	"github.com/stevemurr/recstore/catalog"
	"github.com/stevemurr/recstore/handler"
	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/relational"
	"github.com/stevemurr/recstore/service"
	"github.com/stevemurr/recstore/store"
)

// defaultDatabase names the database used when no --database is given.
const defaultDatabase = "main"

func main() {
	registryFlag := &cli.StringFlag{
		Name:    "registry",
		Aliases: []string{"r"},
		Usage:   "Path to a YAML registry of record types (default: every type uses --backend)",
		EnvVars: []string{"RECSTORE_REGISTRY"},
	}
	backendFlag := &cli.StringFlag{
		Name:    "backend",
		Usage:   "Store kind for every type when no registry is given (relational, remote, memory, file, embedded)",
		Value:   string(record.KindFile),
		EnvVars: []string{"STORE_BACKEND"},
	}

	app := &cli.App{
		Name:  "recstore",
		Usage: "Record stores for the product catalog over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve every catalog record type over HTTP",
				Action: serveCommand,
				Flags: []cli.Flag{
					registryFlag,
					backendFlag,
					&cli.StringFlag{
						Name:    "host",
						Value:   "0.0.0.0",
						EnvVars: []string{"HOST"},
					},
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   8080,
						EnvVars: []string{"PORT"},
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Aliases: []string{"d"},
						Usage:   "Directory for file stores and default database locations",
						Value:   "./data",
						EnvVars: []string{"DATA_DIR"},
					},
					&cli.StringSliceFlag{
						Name:    "database",
						Usage:   "Relational database as name=path (repeatable; default main=<data-dir>/recstore.db)",
						EnvVars: []string{"DATABASES"},
					},
					&cli.StringFlag{
						Name:    "badger-dir",
						Usage:   "BadgerDB directory for embedded stores (default <data-dir>/badger)",
						EnvVars: []string{"BADGER_DIR"},
					},
					&cli.StringSliceFlag{
						Name:    "endpoint",
						Usage:   "Remote endpoint as type=url (repeatable)",
						EnvVars: []string{"ENDPOINTS"},
					},
					&cli.StringFlag{
						Name:    "allowed-origins",
						Usage:   "Comma-separated CORS origins",
						Value:   "*",
						EnvVars: []string{"ALLOWED_ORIGINS"},
					},
					&cli.DurationFlag{
						Name:  "shutdown-timeout",
						Usage: "Grace period for in-flight requests on shutdown",
						Value: 10 * time.Second,
					},
				},
			},
			{
				Name:   "types",
				Usage:  "List the catalog record types and their stores",
				Action: typesCommand,
				Flags:  []cli.Flag{registryFlag, backendFlag},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadRegistry reads --registry, or registers every catalog type under
// --backend when it is not set.
func loadRegistry(c *cli.Context) (record.Registry, error) {
	if path := c.String("registry"); path != "" {
		return record.LoadRegistry(path)
	}
	kind := record.Kind(c.String("backend"))
	reg := record.Registry{}
	for _, typ := range catalog.Types() {
		meta := record.Metadata{Kind: kind}
		if kind == record.KindRelational {
			meta.Database = defaultDatabase
		}
		if err := reg.Register(typ.Name, meta); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// parsePairs splits "key=value" entries into a map.
func parsePairs(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid entry %q: expected key=value", e)
		}
		out[k] = v
	}
	return out, nil
}

// uses reports whether any registered type has the given kind.
func uses(reg record.Registry, kind record.Kind) bool {
	for _, name := range reg.Names() {
		if m, _ := reg.Lookup(name); m.Kind == kind {
			return true
		}
	}
	return false
}

func serveCommand(c *cli.Context) error {
	logger := slog.Default()

	reg, err := loadRegistry(c)
	if err != nil {
		return err
	}

	dataDir := c.String("data-dir")
	opts := store.Options{
		DataDir:   dataDir,
		Databases: map[string]*relational.DB{},
		Logger:    logger,
	}

	if opts.Endpoints, err = parsePairs(c.StringSlice("endpoint")); err != nil {
		return err
	}

	if uses(reg, record.KindRelational) {
		paths, err := parsePairs(c.StringSlice("database"))
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			paths[defaultDatabase] = filepath.Join(dataDir, "recstore.db")
		}
		for name, path := range paths {
			db, err := relational.Open(path)
			if err != nil {
				return fmt.Errorf("database %q: %w", name, err)
			}
			defer db.Close()
			db.SetLogger(logger.With("database", name))
			opts.Databases[name] = db
		}
	}

	if uses(reg, record.KindEmbedded) {
		dir := c.String("badger-dir")
		if dir == "" {
			dir = filepath.Join(dataDir, "badger")
		}
		var bdb *badger.DB
		if bdb, err = store.OpenBadger(dir, logger); err != nil {
			return fmt.Errorf("failed to open badger database: %w", err)
		}
		defer bdb.Close()
		opts.Badger = bdb
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openServices(ctx, reg, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range stores {
			s.Close()
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", c.String("host"), c.Int("port")),
		Handler:           corsMiddleware(handler.New(stores, logger), strings.Split(c.String("allowed-origins"), ",")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("recstore starting", "addr", server.Addr, "data", dataDir)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Duration("shutdown-timeout"))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openServices opens a record service with the catalog hooks for every
// catalog type, keyed by collection name.
func openServices(ctx context.Context, reg record.Registry, opts store.Options, logger *slog.Logger) (map[string]store.Store, error) {
	services := make(map[string]store.Store)
	for _, typ := range catalog.Types() {
		svc, err := service.Open(ctx, typ, reg, opts,
			service.WithHooks(catalog.Hooks(typ)),
			service.WithLogger(logger))
		if err != nil {
			for _, s := range services {
				s.Close()
			}
			return nil, err
		}
		services[typ.Name] = svc
		meta, _ := reg.Lookup(typ.Name)
		logger.Info("serving record type", "type", typ.Name, "kind", meta.Kind)
	}
	return services, nil
}

func typesCommand(c *cli.Context) error {
	reg, err := loadRegistry(c)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tKIND\tDATABASE\tENDPOINT\tRELATIONS")
	for _, typ := range catalog.Types() {
		meta, ok := reg.Lookup(typ.Name)
		kind := string(meta.Kind)
		if !ok {
			kind = "(unregistered)"
		}
		var rels []string
		for field, target := range typ.Relations {
			rels = append(rels, field+"->"+target)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", typ.Name, kind, meta.Database, meta.Endpoint, strings.Join(rels, ","))
	}
	return w.Flush()
}

// corsMiddleware wraps an http.Handler with CORS headers.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	// Fast path: wildcard allows everything.
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
