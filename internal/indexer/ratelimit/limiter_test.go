package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return ctx.Err()
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg, zerolog.Nop())
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestLimiter_WaitSpacesRequests(t *testing.T) {
	l, clock := newTestLimiter(Config{MinInterval: time.Second})
	ctx := context.Background()

	for range 3 {
		require.NoError(t, l.Wait(ctx, 1, 0))
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.sleeps)
}

func TestLimiter_WaitIsPerIndexer(t *testing.T) {
	l, clock := newTestLimiter(Config{MinInterval: time.Second})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, 1, 0))
	require.NoError(t, l.Wait(ctx, 2, 0))

	assert.Empty(t, clock.sleeps)
}

func TestLimiter_ConcurrentWaitersGetDistinctSlots(t *testing.T) {
	l, clock := newTestLimiter(Config{MinInterval: time.Second})
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Wait(ctx, 7, 0)
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t,
		[]time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second},
		clock.sleeps)
}

func TestLimiter_Defer(t *testing.T) {
	l, clock := newTestLimiter(Config{MinInterval: time.Second})
	ctx := context.Background()

	l.Defer(1, clock.now.Add(30*time.Second))
	l.Defer(1, clock.now.Add(10*time.Second)) // earlier deadline ignored

	until, ok := l.DeferredUntil(1)
	require.True(t, ok)
	assert.Equal(t, clock.now.Add(30*time.Second), until)

	require.NoError(t, l.Wait(ctx, 1, 0))
	assert.Equal(t, []time.Duration{30 * time.Second}, clock.sleeps)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(Config{MinInterval: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx, 1, 0))
	cancel()
	assert.ErrorIs(t, l.Wait(ctx, 1, 0), context.Canceled)
}

func TestLimiter_CancelledWaiterReleasesSlot(t *testing.T) {
	l, clock := newTestLimiter(Config{MinInterval: time.Second})
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, l.Wait(context.Background(), 1, 0))
	assert.ErrorIs(t, l.Wait(cancelled, 1, 0), context.Canceled)
	require.NoError(t, l.Wait(context.Background(), 1, 0))

	// The third caller takes the slot the cancelled one booked.
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps)
}

func TestLimiter_CancelledWaiterKeepsLaterBookings(t *testing.T) {
	l, clock := newTestLimiter(Config{MinInterval: time.Second})
	block := make(chan struct{})
	started := make(chan struct{})
	l.sleep = func(ctx context.Context, d time.Duration) error {
		if ctx.Err() == nil {
			return clock.Sleep(ctx, d)
		}
		close(started)
		<-block
		return ctx.Err()
	}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, l.Wait(context.Background(), 1, 0))

	done := make(chan error, 1)
	go func() { done <- l.Wait(cancelled, 1, 0) }()
	<-started

	// Booked behind the cancelled waiter while it is still asleep.
	require.NoError(t, l.Wait(context.Background(), 1, 0))
	close(block)
	require.ErrorIs(t, <-done, context.Canceled)

	require.NoError(t, l.Wait(context.Background(), 1, 0))
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, clock.sleeps)
}

func TestLimiter_Allow(t *testing.T) {
	l, clock := newTestLimiter(Config{HourlyQueryLimit: 2})

	assert.True(t, l.Allow(1, 0))
	assert.True(t, l.Allow(1, 0))
	assert.False(t, l.Allow(1, 0))

	clock.now = clock.now.Add(30 * time.Minute)
	assert.True(t, l.Allow(1, 0), "one token refills every half hour")

	assert.True(t, l.Allow(2, 0), "budgets are per indexer")
}

func TestLimiter_AllowUnlimited(t *testing.T) {
	l, _ := newTestLimiter(Config{})
	for range 100 {
		require.True(t, l.Allow(1, 0))
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, clock := newTestLimiter(Config{MinInterval: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, 1, 0))
	l.Reset(1)
	require.NoError(t, l.Wait(ctx, 1, 0))

	assert.Empty(t, clock.sleeps)
}
