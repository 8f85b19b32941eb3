package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipstream/searchd/internal/api"
	apiratelimit "github.com/slipstream/searchd/internal/api/ratelimit"
	"github.com/slipstream/searchd/internal/scheduler"
	"github.com/slipstream/searchd/internal/scheduler/tasks"
	"github.com/slipstream/searchd/internal/startup"
	"github.com/slipstream/searchd/internal/watcher"
)

// RunServeCommand starts the HTTP API with the background tasks.
func RunServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the search API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	log.Info().
		Str("version", Version).
		Str("logLevel", a.cfg.Logging.Level).
		Int("indexers", len(a.cfg.Indexers)).
		Msg("starting searchd")

	// An empty cache cannot serve Cardigann indexers, so wait out a slow
	// network before giving up on the first catalog download.
	if a.cfg.Definitions.AutoUpdate {
		if n, _ := a.definitions.Count(); n == 0 {
			err := startup.WithRetry(ctx, "definitions download", startup.DefaultRetryConfig(), a.definitions.ForceUpdate, &log.Logger)
			if err != nil {
				log.Warn().Err(err).Msg("definition catalog unavailable, Cardigann indexers will fail until it downloads")
			}
		}
	}
	if err := a.initDefinitions(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}
	if err := tasks.RegisterStatusRepairTask(sched, a.tracker, a.cfg.Status.RepairCron, &log.Logger); err != nil {
		return err
	}
	if err := tasks.RegisterDefinitionsRefreshTask(sched, a.definitions, a.metrics, a.cfg.Definitions.RefreshCron, &log.Logger); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop scheduler")
		}
	}()

	if a.cfg.Definitions.Watch {
		cache := a.definitions.Cache()
		defWatcher, err := watcher.NewDefinitionsService(cache,
			[]string{cache.DefinitionsDir(), cache.CustomDir()}, watcher.DefaultConfig(), log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("definition watcher unavailable")
		} else {
			defWatcher.Start()
			defer defWatcher.Stop()
		}
	}

	clientLimiter := apiratelimit.NewClientLimiter(a.cfg.Server.RequestsPerMinute, a.cfg.Server.Burst)
	clientLimiter.StartCleanup(ctx, time.Minute)

	server := api.NewServer(api.Deps{
		Searcher:    a.search,
		Indexers:    a.registry,
		Statuses:    a.tracker,
		Definitions: a.definitions,
		Scheduler:   sched,
		Gatherer:    a.registerer,
		Limiter:     clientLimiter,
	}, log.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(a.cfg.Server.Address())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
