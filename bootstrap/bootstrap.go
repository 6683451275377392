// Package bootstrap wires configuration into a running application:
// logger, document store, id generator, clock, registry, metrics and
// the document service, in dependency order.
package bootstrap

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/docmap/adapters/clock"
	"github.com/artpar/docmap/adapters/idgen"
	"github.com/artpar/docmap/adapters/memory"
	"github.com/artpar/docmap/adapters/metrics"
	"github.com/artpar/docmap/adapters/sqlite"
	"github.com/artpar/docmap/config"
	"github.com/artpar/docmap/core/registry"
	"github.com/artpar/docmap/document"
	"github.com/artpar/docmap/ports"
)

// Options controls application construction.
type Options struct {
	// ConfigPath names a YAML configuration file. When empty or the
	// file does not exist, configuration comes from DOCMAP_*
	// environment variables and built-in defaults.
	ConfigPath string

	// Register declares the deployment's types on the builder before
	// the registry is built. Nil is allowed and yields an empty
	// registry, which is only useful for wiring smoke tests.
	Register func(b *registry.Builder) error

	// Store overrides the configured document store. Tests use this
	// to inject a prepared store; production wiring leaves it nil.
	Store ports.DocumentStore
}

// App holds the wired application components.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *registry.Registry
	Service  *document.Service
	Metrics  *metrics.Collector

	store ports.DocumentStore
}

// New loads configuration and builds the application.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, opts)
}

// NewWithConfig builds the application from an already-loaded
// configuration.
func NewWithConfig(cfg *config.Config, opts Options) (*App, error) {
	logger := setupLogger(cfg.Logging)

	b := registry.NewBuilder()
	if opts.Register != nil {
		if err := opts.Register(b); err != nil {
			return nil, fmt.Errorf("register types: %w", err)
		}
	}
	reg, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	store, err := openStore(cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	svc, err := document.NewService(reg, document.Deps{
		Store:   store,
		Clock:   clock.Real{},
		IDGen:   idGenerator(cfg.ID.Format),
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("document service: %w", err)
	}

	logger.Info().
		Str("driver", cfg.Store.Driver).
		Str("id_format", cfg.ID.Format).
		Int("documents", len(reg.Documents())).
		Msg("docmap initialized")

	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Service:  svc,
		Metrics:  collector,
		store:    store,
	}, nil
}

// Shutdown releases application resources.
func (a *App) Shutdown() error {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("store close error")
			return err
		}
		a.store = nil
	}
	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// setupLogger builds the process logger from configuration. Logs go
// to stderr so command output on stdout stays machine-readable.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func openStore(cfg *config.Config, opts Options, logger zerolog.Logger) (ports.DocumentStore, error) {
	if opts.Store != nil {
		return opts.Store, nil
	}

	switch cfg.Store.Driver {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		logger.Info().Str("dsn", cfg.Store.DSN).Msg("database initialized")
		return sqlite.NewStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func idGenerator(format string) ports.IDGenerator {
	if format == "uuid" {
		return idgen.UUID{}
	}
	return idgen.Hex{}
}
