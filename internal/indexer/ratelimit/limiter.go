// Package ratelimit paces requests against indexers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config defines rate limit configuration.
type Config struct {
	// MinInterval is the default spacing between two requests to one indexer.
	MinInterval time.Duration `mapstructure:"min_interval"`
	// HourlyQueryLimit caps queries per indexer per hour; 0 disables the cap.
	HourlyQueryLimit int `mapstructure:"hourly_query_limit"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		MinInterval:      2 * time.Second,
		HourlyQueryLimit: 0,
	}
}

// Limiter tracks the dispatch clock of every indexer. Each indexer has its
// own lock so concurrent callers against the same site share one schedule.
type Limiter struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	states map[int64]*indexerState
}

type indexerState struct {
	mu           sync.Mutex
	next         time.Time // earliest time the next request may go out
	deferredTill time.Time // set from 429 / Retry-After
	queries      *rate.Limiter
	queryLimit   int
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config, logger zerolog.Logger) *Limiter {
	return &Limiter{
		config: config,
		logger: logger.With().Str("component", "rate-limiter").Logger(),
		now:    time.Now,
		sleep:  sleepContext,
		states: make(map[int64]*indexerState),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) state(indexerID int64) *indexerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.states[indexerID]
	if !ok {
		s = &indexerState{}
		l.states[indexerID] = s
	}
	return s
}

// Wait reserves the next dispatch slot for the indexer and blocks until it
// arrives. A non-positive minInterval uses the configured default. The slot
// is reserved before sleeping, so concurrent waiters queue up one interval
// apart instead of firing together. A waiter whose context ends while it
// sleeps releases its slot.
func (l *Limiter) Wait(ctx context.Context, indexerID int64, minInterval time.Duration) error {
	if minInterval <= 0 {
		minInterval = l.config.MinInterval
	}
	s := l.state(indexerID)

	s.mu.Lock()
	now := l.now()
	prev := s.next
	slot := now
	if s.next.After(slot) {
		slot = s.next
	}
	if s.deferredTill.After(slot) {
		slot = s.deferredTill
	}
	booked := slot.Add(minInterval)
	s.next = booked
	s.mu.Unlock()

	delay := slot.Sub(now)
	if delay <= 0 {
		return nil
	}
	l.logger.Debug().
		Int64("indexerId", indexerID).
		Dur("delay", delay).
		Msg("Waiting for rate limit slot")
	if err := l.sleep(ctx, delay); err != nil {
		// Give the slot back unless a later waiter has already queued behind it.
		s.mu.Lock()
		if s.next.Equal(booked) {
			s.next = prev
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Defer holds every request to the indexer until the given time. Earlier
// deadlines never shorten an existing deferral.
func (l *Limiter) Defer(indexerID int64, until time.Time) {
	s := l.state(indexerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if until.After(s.deferredTill) {
		s.deferredTill = until
		l.logger.Info().
			Int64("indexerId", indexerID).
			Time("until", until).
			Msg("Deferring requests after rate limit response")
	}
}

// DeferredUntil returns the active deferral for the indexer, if any.
func (l *Limiter) DeferredUntil(indexerID int64) (time.Time, bool) {
	s := l.state(indexerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deferredTill.After(l.now()) {
		return s.deferredTill, true
	}
	return time.Time{}, false
}

// Allow consumes one query from the indexer's hourly budget. limit
// overrides the configured cap when positive; with no cap it always allows.
func (l *Limiter) Allow(indexerID int64, limit int) bool {
	if limit <= 0 {
		limit = l.config.HourlyQueryLimit
	}
	if limit <= 0 {
		return true
	}
	s := l.state(indexerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queries == nil || s.queryLimit != limit {
		s.queries = rate.NewLimiter(rate.Every(time.Hour/time.Duration(limit)), limit)
		s.queryLimit = limit
	}
	if !s.queries.AllowN(l.now(), 1) {
		l.logger.Warn().
			Int64("indexerId", indexerID).
			Int("limit", limit).
			Msg("Hourly query limit reached")
		return false
	}
	return true
}

// Reset clears the rate limit state for an indexer.
func (l *Limiter) Reset(indexerID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.states, indexerID)
}
