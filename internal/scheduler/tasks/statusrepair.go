package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/scheduler"
)

// StatusRepairTaskID identifies the status repair task.
const StatusRepairTaskID = "status-repair"

// StatusRepairer fixes indexer status rows left inconsistent by a crash
// or a backoff table change.
type StatusRepairer interface {
	Repair(ctx context.Context) (int, error)
}

// StatusRepairTask runs the status consistency sweep.
type StatusRepairTask struct {
	tracker StatusRepairer
	logger  *zerolog.Logger
}

// NewStatusRepairTask creates a new status repair task.
func NewStatusRepairTask(tracker StatusRepairer, logger *zerolog.Logger) *StatusRepairTask {
	subLogger := logger.With().Str("task", StatusRepairTaskID).Logger()
	return &StatusRepairTask{
		tracker: tracker,
		logger:  &subLogger,
	}
}

// Run executes the sweep.
func (t *StatusRepairTask) Run(ctx context.Context) error {
	repaired, err := t.tracker.Repair(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("Status repair failed")
		return err
	}
	if repaired > 0 {
		t.logger.Info().Int("repaired", repaired).Msg("Repaired indexer statuses")
	} else {
		t.logger.Debug().Msg("Indexer statuses consistent")
	}
	return nil
}

// RegisterStatusRepairTask registers the status repair task with the scheduler.
func RegisterStatusRepairTask(sched *scheduler.Scheduler, tracker StatusRepairer, cron string, logger *zerolog.Logger) error {
	task := NewStatusRepairTask(tracker, logger)

	if cron == "" {
		cron = "*/15 * * * *"
	}

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          StatusRepairTaskID,
		Name:        "Indexer Status Repair",
		Description: "Clamps escalation levels and disable windows to the backoff table",
		Cron:        cron,
		RunOnStart:  true,
		Func:        task.Run,
	})
}
