package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/scheduler"
)

// DefinitionsRefreshTaskID identifies the definitions refresh task.
const DefinitionsRefreshTaskID = "definitions-refresh"

// DefinitionUpdater pulls the remote definition catalog.
type DefinitionUpdater interface {
	UpdateDefinitions(ctx context.Context) error
	LastUpdate() time.Time
	Count() (int, error)
}

// DefinitionsObserver receives refresh outcomes.
type DefinitionsObserver interface {
	SetDefinitions(count int)
	DefinitionsRefreshed()
}

// DefinitionsRefreshTask refreshes Cardigann definitions from the catalog.
type DefinitionsRefreshTask struct {
	updater  DefinitionUpdater
	observer DefinitionsObserver
	logger   *zerolog.Logger
}

// NewDefinitionsRefreshTask creates a new definitions refresh task. The
// observer may be nil.
func NewDefinitionsRefreshTask(updater DefinitionUpdater, observer DefinitionsObserver, logger *zerolog.Logger) *DefinitionsRefreshTask {
	subLogger := logger.With().Str("task", DefinitionsRefreshTaskID).Logger()
	return &DefinitionsRefreshTask{
		updater:  updater,
		observer: observer,
		logger:   &subLogger,
	}
}

// Run executes the refresh. The manager throttles remote fetches, so a
// run inside the update interval only refreshes the count.
func (t *DefinitionsRefreshTask) Run(ctx context.Context) error {
	before := t.updater.LastUpdate()
	if err := t.updater.UpdateDefinitions(ctx); err != nil {
		t.logger.Error().Err(err).Msg("Definitions refresh failed")
		return err
	}
	if t.observer != nil && t.updater.LastUpdate().After(before) {
		t.observer.DefinitionsRefreshed()
	}

	count, err := t.updater.Count()
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to count definitions")
		return nil
	}
	if t.observer != nil {
		t.observer.SetDefinitions(count)
	}
	t.logger.Debug().Int("count", count).Msg("Definitions refresh completed")
	return nil
}

// RegisterDefinitionsRefreshTask registers the definitions refresh task with the scheduler.
func RegisterDefinitionsRefreshTask(
	sched *scheduler.Scheduler,
	updater DefinitionUpdater,
	observer DefinitionsObserver,
	cron string,
	logger *zerolog.Logger,
) error {
	task := NewDefinitionsRefreshTask(updater, observer, logger)

	if cron == "" {
		cron = "0 */6 * * *"
	}

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          DefinitionsRefreshTaskID,
		Name:        "Definitions Refresh",
		Description: "Pulls the remote indexer definition catalog",
		Cron:        cron,
		Func:        task.Run,
	})
}
