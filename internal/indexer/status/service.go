package status

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// Tracker is the per-indexer failure/backoff state machine. All mutations of
// one indexer's status happen under that indexer's lock.
type Tracker struct {
	repo   Repository
	policy Policy
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewTracker creates a status tracker over repo.
func NewTracker(repo Repository, policy Policy, logger zerolog.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		policy: policy,
		logger: logger.With().Str("component", "indexer-status").Logger(),
		now:    time.Now,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// Policy returns the escalation policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

func (t *Tracker) lock(indexerID int64) func() {
	t.mu.Lock()
	l, ok := t.locks[indexerID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[indexerID] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// load returns the stored status or a healthy default.
func (t *Tracker) load(ctx context.Context, indexerID int64) (*types.IndexerStatus, error) {
	s, err := t.repo.Get(ctx, indexerID)
	if errors.Is(err, ErrStatusNotFound) {
		return &types.IndexerStatus{IndexerID: indexerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Get retrieves the current status for an indexer.
func (t *Tracker) Get(ctx context.Context, indexerID int64) (*types.IndexerStatus, error) {
	return t.load(ctx, indexerID)
}

// All returns every stored status.
func (t *Tracker) All(ctx context.Context) ([]*types.IndexerStatus, error) {
	return t.repo.All(ctx)
}

// IsDisabled checks if an indexer is temporarily disabled.
func (t *Tracker) IsDisabled(ctx context.Context, indexerID int64) (bool, *time.Time, error) {
	s, err := t.load(ctx, indexerID)
	if err != nil {
		return false, nil, err
	}
	if !s.IsDisabled(t.now()) {
		return false, nil, nil
	}
	return true, s.DisabledTill, nil
}

// RecordSuccess resets the escalation level and clears the disabled period.
func (t *Tracker) RecordSuccess(ctx context.Context, indexerID int64) error {
	unlock := t.lock(indexerID)
	defer unlock()

	s, err := t.load(ctx, indexerID)
	if err != nil {
		return err
	}
	if s.EscalationLevel == 0 && s.DisabledTill == nil && s.InitialFailure == nil {
		return nil
	}

	s.EscalationLevel = 0
	s.DisabledTill = nil
	s.InitialFailure = nil
	if err := t.repo.Upsert(ctx, s); err != nil {
		return fmt.Errorf("failed to clear failure state: %w", err)
	}

	t.logger.Debug().
		Int64("indexerId", indexerID).
		Msg("Recorded successful indexer operation")
	return nil
}

// RecordFailure records a failed operation that was dispatched at startedAt.
// A failure whose request started before the last recorded failure belongs
// to the same outage and only refreshes the timestamps, so concurrent
// callers failing together escalate once.
func (t *Tracker) RecordFailure(ctx context.Context, indexerID int64, opErr error, startedAt time.Time) (*types.IndexerStatus, error) {
	unlock := t.lock(indexerID)
	defer unlock()

	s, err := t.load(ctx, indexerID)
	if err != nil {
		return nil, err
	}
	now := t.now()

	if !t.policy.escalates(opErr) {
		t.logger.Debug().
			Int64("indexerId", indexerID).
			Str("kind", string(types.KindOf(opErr))).
			Err(opErr).
			Msg("Failure kind does not escalate")
		return s, nil
	}

	concurrent := s.MostRecentFailure != nil && startedAt.Before(*s.MostRecentFailure)
	s.MostRecentFailure = &now
	if s.InitialFailure == nil {
		s.InitialFailure = &now
	}

	if !concurrent {
		if s.EscalationLevel < MaxEscalationLevel {
			s.EscalationLevel++
		}
		disabledTill := now.Add(CalculateBackoff(s.EscalationLevel))
		var rateErr *types.IndexerError
		if errors.As(opErr, &rateErr) && rateErr.RetryAfter > 0 {
			if retryAt := now.Add(rateErr.RetryAfter); retryAt.After(disabledTill) {
				disabledTill = retryAt
			}
		}
		s.DisabledTill = &disabledTill
	}

	if err := t.repo.Upsert(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}

	event := t.logger.Warn().
		Int64("indexerId", indexerID).
		Int("escalationLevel", s.EscalationLevel).
		Str("kind", string(types.KindOf(opErr))).
		Err(opErr)
	if s.DisabledTill != nil {
		event = event.Time("disabledTill", *s.DisabledTill)
	}
	if concurrent {
		event.Msg("Recorded concurrent indexer failure without escalating")
	} else {
		event.Msg("Recorded indexer failure, applying backoff")
	}
	return s, nil
}

// Repair clamps statuses whose timestamps drifted beyond what their
// escalation level allows. It returns the number of rows corrected.
func (t *Tracker) Repair(ctx context.Context) (int, error) {
	all, err := t.repo.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list statuses: %w", err)
	}

	repaired := 0
	for _, snapshot := range all {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		changed, err := t.repairOne(ctx, snapshot.IndexerID)
		if err != nil {
			t.logger.Warn().Err(err).Int64("indexerId", snapshot.IndexerID).Msg("Failed to repair indexer status")
			continue
		}
		if changed {
			repaired++
		}
	}
	if repaired > 0 {
		t.logger.Info().Int("count", repaired).Msg("Repaired indexer statuses")
	}
	return repaired, nil
}

func (t *Tracker) repairOne(ctx context.Context, indexerID int64) (bool, error) {
	unlock := t.lock(indexerID)
	defer unlock()

	s, err := t.load(ctx, indexerID)
	if err != nil {
		return false, err
	}
	now := t.now()
	changed := false

	if s.EscalationLevel > MaxEscalationLevel {
		s.EscalationLevel = MaxEscalationLevel
		changed = true
	}
	if s.EscalationLevel < 0 {
		s.EscalationLevel = 0
		changed = true
	}
	for _, ts := range []**time.Time{&s.InitialFailure, &s.MostRecentFailure} {
		if *ts != nil && (*ts).After(now) {
			*ts = &now
			changed = true
		}
	}

	if s.DisabledTill != nil {
		anchor := now
		if s.MostRecentFailure != nil {
			anchor = *s.MostRecentFailure
		}
		ceiling := anchor.Add(CalculateBackoff(s.EscalationLevel))
		switch {
		case s.EscalationLevel == 0:
			s.DisabledTill = nil
			changed = true
		case s.DisabledTill.After(ceiling):
			s.DisabledTill = &ceiling
			changed = true
		}
	}

	if !changed {
		return false, nil
	}
	t.logger.Debug().
		Int64("indexerId", indexerID).
		Int("escalationLevel", s.EscalationLevel).
		Msg("Clamped drifted indexer status")
	return true, t.repo.Upsert(ctx, s)
}

// GetCookies returns the persisted session cookies for an indexer.
func (t *Tracker) GetCookies(ctx context.Context, indexerID int64) (map[string]string, time.Time, error) {
	s, err := t.load(ctx, indexerID)
	if err != nil {
		return nil, time.Time{}, err
	}
	if s.Cookies == "" {
		return nil, time.Time{}, nil
	}
	var expires time.Time
	if s.CookiesExpiry != nil {
		expires = *s.CookiesExpiry
		if !expires.After(t.now()) {
			return nil, time.Time{}, nil
		}
	}
	return decodeCookies(s.Cookies), expires, nil
}

// SaveCookies persists session cookies for an indexer. Empty cookies clear
// the stored session.
func (t *Tracker) SaveCookies(ctx context.Context, indexerID int64, cookies map[string]string, expires time.Time) error {
	unlock := t.lock(indexerID)
	defer unlock()

	s, err := t.load(ctx, indexerID)
	if err != nil {
		return err
	}
	s.Cookies = encodeCookies(cookies)
	s.CookiesExpiry = nil
	if s.Cookies != "" && !expires.IsZero() {
		e := expires.UTC()
		s.CookiesExpiry = &e
	}
	if err := t.repo.Upsert(ctx, s); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// encodeCookies serializes cookies as "name=value; name2=value2", sorted by name.
func encodeCookies(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+url.QueryEscape(cookies[name]))
	}
	return strings.Join(parts, "; ")
}

func decodeCookies(raw string) map[string]string {
	cookies := make(map[string]string)
	for part := range strings.SplitSeq(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		cookies[name] = value
	}
	return cookies
}
