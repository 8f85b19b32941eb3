package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/slipstream/searchd/internal/config"
	"github.com/slipstream/searchd/internal/database"
	"github.com/slipstream/searchd/internal/indexer"
	"github.com/slipstream/searchd/internal/indexer/cardigann"
	"github.com/slipstream/searchd/internal/indexer/interceptor"
	"github.com/slipstream/searchd/internal/indexer/ratelimit"
	"github.com/slipstream/searchd/internal/indexer/search"
	"github.com/slipstream/searchd/internal/indexer/status"
	"github.com/slipstream/searchd/internal/indexer/transport"
	"github.com/slipstream/searchd/internal/indexer/types"
	"github.com/slipstream/searchd/internal/logger"
	"github.com/slipstream/searchd/internal/metrics"
)

// app holds the wired services shared by every command.
type app struct {
	cfg *config.Config
	log *logger.Logger
	db  *database.DB

	tracker     *status.Tracker
	limiter     *ratelimit.Limiter
	definitions *cardigann.Manager
	registry    *indexer.Registry
	search      *search.Service

	registerer *prometheus.Registry
	metrics    *metrics.Metrics
}

// newApp loads configuration and wires the services. Definitions are not
// loaded yet; commands that search call initDefinitions.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	a := &app{cfg: cfg, log: log}

	db, err := database.New(ctx, cfg.Database.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	if err := db.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.registerer = prometheus.NewRegistry()
	a.registerer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registerer)

	a.tracker = status.NewTracker(status.NewSQLRepository(db.Conn()), cfg.Status.Policy, log.Logger)
	a.limiter = ratelimit.NewLimiter(cfg.RateLimit, log.Logger)

	solver := interceptor.NewSolver(cfg.Solver, nil, log.Logger)
	executors := transport.NewFactory(cfg.HTTP, a.limiter, solver, log.Logger)

	repo := cardigann.NewRepository(cfg.Definitions.Repository, nil, log.Logger)
	a.definitions, err = cardigann.NewManager(afero.NewOsFs(), cfg.Definitions.ManagerConfig, repo, log.Logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create definition manager: %w", err)
	}

	a.registry = indexer.NewRegistry(indexer.RegistryConfig{
		Definitions: a.definitions,
		Executors: indexer.ExecutorFactoryFunc(func(ix *types.IndexerDefinition, encoding string) (indexer.Executor, error) {
			exec, err := executors.For(ix, encoding)
			if err != nil {
				return nil, err
			}
			return exec, nil
		}),
		Cookies:    a.tracker,
		SizePolicy: cfg.Search.SizePolicy,
		MaxPages:   cfg.Search.MaxPages,
		Logger:     log.Logger,
	})
	if err := a.registry.Load(cfg.Indexers); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load indexers: %w", err)
	}

	a.search = search.NewService(cfg.Search.Config, a.registry, log.Logger,
		search.WithStatus(a.tracker),
		search.WithPacer(a.limiter),
		search.WithMetrics(a.metrics),
	)

	return a, nil
}

// initDefinitions loads the cached definition catalog.
func (a *app) initDefinitions(ctx context.Context) error {
	if err := a.definitions.Initialize(ctx); err != nil {
		return err
	}
	if n, err := a.definitions.Count(); err == nil {
		a.metrics.SetDefinitions(n)
	}
	return nil
}

// Close releases the database and log files.
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, a.log.Close())
	return errors.Join(errs...)
}
