package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/searchd/internal/scheduler"
	"github.com/slipstream/searchd/internal/testutil"
)

type fakeRepairer struct {
	repaired int
	err      error
	calls    int
}

func (f *fakeRepairer) Repair(context.Context) (int, error) {
	f.calls++
	return f.repaired, f.err
}

type fakeUpdater struct {
	last    time.Time
	advance bool
	count   int
	err     error
}

func (f *fakeUpdater) UpdateDefinitions(context.Context) error {
	if f.err != nil {
		return f.err
	}
	if f.advance {
		f.last = f.last.Add(time.Hour)
	}
	return nil
}

func (f *fakeUpdater) LastUpdate() time.Time { return f.last }
func (f *fakeUpdater) Count() (int, error)   { return f.count, nil }

type fakeObserver struct {
	count     int
	refreshed int
}

func (f *fakeObserver) SetDefinitions(count int) { f.count = count }
func (f *fakeObserver) DefinitionsRefreshed()    { f.refreshed++ }

func TestStatusRepairTask(t *testing.T) {
	logger := testutil.NewTestLogger(t)

	ok := &fakeRepairer{repaired: 2}
	require.NoError(t, NewStatusRepairTask(ok, &logger).Run(context.Background()))
	assert.Equal(t, 1, ok.calls)

	failing := &fakeRepairer{err: errors.New("db locked")}
	assert.Error(t, NewStatusRepairTask(failing, &logger).Run(context.Background()))
}

func TestDefinitionsRefreshTask(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("fetched", func(t *testing.T) {
		obs := &fakeObserver{}
		task := NewDefinitionsRefreshTask(&fakeUpdater{advance: true, count: 42}, obs, &logger)
		require.NoError(t, task.Run(context.Background()))
		assert.Equal(t, 1, obs.refreshed)
		assert.Equal(t, 42, obs.count)
	})

	t.Run("throttled", func(t *testing.T) {
		obs := &fakeObserver{}
		task := NewDefinitionsRefreshTask(&fakeUpdater{count: 7}, obs, &logger)
		require.NoError(t, task.Run(context.Background()))
		assert.Zero(t, obs.refreshed)
		assert.Equal(t, 7, obs.count)
	})

	t.Run("failed", func(t *testing.T) {
		obs := &fakeObserver{}
		task := NewDefinitionsRefreshTask(&fakeUpdater{err: errors.New("offline")}, obs, &logger)
		assert.Error(t, task.Run(context.Background()))
		assert.Zero(t, obs.count)
	})

	t.Run("nil observer", func(t *testing.T) {
		task := NewDefinitionsRefreshTask(&fakeUpdater{advance: true}, nil, &logger)
		assert.NoError(t, task.Run(context.Background()))
	})
}

func TestRegisterTasks(t *testing.T) {
	logger := zerolog.Nop()
	sched, err := scheduler.New(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Stop() })

	require.NoError(t, RegisterStatusRepairTask(sched, &fakeRepairer{}, "", &logger))
	require.NoError(t, RegisterDefinitionsRefreshTask(sched, &fakeUpdater{}, nil, "0 3 * * *", &logger))

	tasks := sched.ListTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, DefinitionsRefreshTaskID, tasks[0].ID)
	assert.Equal(t, "0 3 * * *", tasks[0].Cron)
	assert.Equal(t, StatusRepairTaskID, tasks[1].ID)
	assert.Equal(t, "*/15 * * * *", tasks[1].Cron)
}
