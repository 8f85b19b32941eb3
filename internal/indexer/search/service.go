// Package search provides search orchestration across multiple indexers.
package search

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/types"
	"github.com/slipstream/searchd/internal/metrics"
)

// Config controls aggregated searches.
type Config struct {
	// Timeout bounds one aggregated search; indexers still running when it
	// expires are reported as timed out.
	Timeout     time.Duration `mapstructure:"timeout"`
	DefaultSort string        `mapstructure:"default_sort"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:     60 * time.Second,
		DefaultSort: string(SortPublishDate),
	}
}

// Request is one aggregated search.
type Request struct {
	Criteria   types.SearchCriteria
	IndexerIDs []int64 // empty means every enabled indexer
	Sort       Sort    // zero value uses the configured default
}

// Result contains aggregated search results.
type Result struct {
	ID          string             `json:"id"`
	Releases    []types.Release    `json:"releases"`
	Diagnostics []types.Diagnostic `json:"diagnostics"`
	Elapsed     time.Duration      `json:"elapsed"`
}

// Failed returns the diagnostics of indexers that failed.
func (r *Result) Failed() []types.Diagnostic {
	var out []types.Diagnostic
	for _, d := range r.Diagnostics {
		if d.Status == types.DiagnosticFailed {
			out = append(out, d)
		}
	}
	return out
}

// Service orchestrates searches across multiple indexers.
type Service struct {
	config   Config
	sort     Sort
	indexers IndexerSource
	status   StatusTracker
	pacer    Pacer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithStatus sets the tracker used to gate and record indexer health.
func WithStatus(t StatusTracker) Option { return func(s *Service) { s.status = t } }

// WithPacer sets the rate limiter.
func WithPacer(p Pacer) Option { return func(s *Service) { s.pacer = p } }

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService creates a new search service.
func NewService(cfg Config, indexers IndexerSource, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		config:   cfg,
		sort:     DefaultSort,
		indexers: indexers,
		logger:   logger.With().Str("component", "search").Logger(),
		now:      time.Now,
	}
	if parsed, err := ParseSort(cfg.DefaultSort); err == nil {
		s.sort = parsed
	} else {
		s.logger.Warn().Err(err).Msg("Invalid default sort, using publish date")
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchTerm runs a basic free-text search.
func (s *Service) SearchTerm(ctx context.Context, term string, categories []int, indexerIDs []int64) (*Result, error) {
	return s.Search(ctx, Request{
		Criteria: types.SearchCriteria{
			Mode:       types.ModeBasic,
			Term:       term,
			Categories: categories,
		},
		IndexerIDs: indexerIDs,
	})
}

// task is one indexer's share of a search. Releases are collected under mu
// so a timed-out task can still contribute what it gathered.
type task struct {
	indexer *types.IndexerDefinition

	mu       sync.Mutex
	releases []types.Release
}

func (t *task) add(releases []types.Release) {
	t.mu.Lock()
	t.releases = append(t.releases, releases...)
	t.mu.Unlock()
}

func (t *task) collected() []types.Release {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.releases)
}

type taskResult struct {
	index   int
	err     error
	skip    string // non-empty when the indexer declined the search
	elapsed time.Duration
	cutShort bool // the deadline ended the task
}

// Search executes a search across the candidate indexers. A failing indexer
// becomes a diagnostic; the call only fails when every dispatched indexer
// failed.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	started := s.now()
	result := &Result{ID: uuid.NewString()}
	logger := s.logger.With().Str("searchId", result.ID).Logger()

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	candidates, diagnostics := s.candidates(ctx, req.IndexerIDs, logger)
	result.Diagnostics = diagnostics

	logger.Info().
		Int("indexerCount", len(candidates)).
		Int("skipped", len(diagnostics)).
		Str("term", req.Criteria.Term).
		Str("mode", string(req.Criteria.Mode)).
		Ints("categories", req.Criteria.Categories).
		Msg("Starting search across indexers")

	tasks := make([]*task, len(candidates))
	results := make(chan taskResult, len(candidates))
	for i, ix := range candidates {
		tasks[i] = &task{indexer: ix}
		go func(i int, t *task) {
			begin := s.now()
			skip, err := s.runIndexer(ctx, t, req.Criteria, logger)
			elapsed := s.now().Sub(begin)
			cutShort := err != nil && ctx.Err() != nil && !isSiteError(err)
			s.record(ctx, t.indexer, skip, err, cutShort, begin, logger)
			results <- taskResult{index: i, err: err, skip: skip, elapsed: elapsed, cutShort: cutShort}
		}(i, tasks[i])
	}

	finished := make([]*taskResult, len(tasks))
	pending := len(tasks)
wait:
	for pending > 0 {
		select {
		case r := <-results:
			finished[r.index] = &r
			pending--
		case <-ctx.Done():
			break wait
		}
	}
	// Tasks that returned before the deadline may still sit in the channel.
drain:
	for pending > 0 {
		select {
		case r := <-results:
			finished[r.index] = &r
			pending--
		default:
			break drain
		}
	}

	var merged []types.Release
	dispatched, failed, timedOut := 0, 0, 0
	for i, t := range tasks {
		d := types.Diagnostic{IndexerID: t.indexer.ID, IndexerName: t.indexer.Name}
		r := finished[i]
		switch {
		case r == nil || r.cutShort:
			partial := t.collected()
			d.Status = types.DiagnosticTimedOut
			d.Kind = types.KindTimeout
			d.Error = types.NewTimeoutError(ctx.Err()).Message
			d.ReleaseCount = len(partial)
			d.Elapsed = s.now().Sub(started)
			merged = append(merged, partial...)
			dispatched++
			timedOut++
		case r.skip != "":
			d.Status = types.DiagnosticSkipped
			d.Error = r.skip
			d.Elapsed = r.elapsed
		case r.err != nil:
			d.Status = types.DiagnosticFailed
			d.Kind = types.KindOf(r.err)
			d.Error = r.err.Error()
			d.Elapsed = r.elapsed
			dispatched++
			failed++
		default:
			releases := t.collected()
			d.Status = types.DiagnosticOK
			d.ReleaseCount = len(releases)
			d.Elapsed = r.elapsed
			merged = append(merged, releases...)
			dispatched++
		}
		s.metrics.ObserveIndexer(t.indexer.Name, string(d.Status), string(d.Kind), d.Elapsed)
		result.Diagnostics = append(result.Diagnostics, d)
	}

	result.Elapsed = s.now().Sub(started)
	if dispatched > 0 && failed == dispatched {
		s.metrics.ObserveSearch("failed", result.Elapsed, 0)
		logger.Warn().Int("failed", failed).Msg("Every indexer failed")
		return nil, &types.SearchFailure{Diagnostics: result.Diagnostics}
	}

	merged = filterReleases(merged, &req.Criteria, s.now())
	merged = deduplicate(merged)
	sortBy := req.Sort
	if sortBy.Key == "" {
		sortBy = s.sort
	}
	sortReleases(merged, sortBy)
	if merged == nil {
		merged = []types.Release{}
	}
	result.Releases = merged

	outcome := "ok"
	if failed > 0 || timedOut > 0 {
		outcome = "partial"
	}
	s.metrics.ObserveSearch(outcome, result.Elapsed, len(merged))
	logger.Info().
		Int("totalResults", len(merged)).
		Int("indexersUsed", dispatched-failed).
		Int("errors", failed).
		Int("timedOut", timedOut).
		Dur("elapsed", result.Elapsed).
		Msg("Search completed")

	return result, nil
}

// candidates resolves the requested indexers in candidate order and applies
// the health and query budget gates. Indexers left out are reported as
// skipped diagnostics.
func (s *Service) candidates(ctx context.Context, ids []int64, logger zerolog.Logger) ([]*types.IndexerDefinition, []types.Diagnostic) {
	var (
		pool        []*types.IndexerDefinition
		diagnostics []types.Diagnostic
	)
	skip := func(ix *types.IndexerDefinition, kind types.ErrorKind, reason string, till *time.Time) {
		diagnostics = append(diagnostics, types.Diagnostic{
			IndexerID:    ix.ID,
			IndexerName:  ix.Name,
			Status:       types.DiagnosticSkipped,
			Kind:         kind,
			Error:        reason,
			DisabledTill: till,
		})
		s.metrics.Skipped(ix.Name, reason)
	}

	if len(ids) == 0 {
		pool = s.indexers.Enabled()
	} else {
		seen := make(map[int64]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			ix, err := s.indexers.Get(id)
			if err != nil {
				skip(&types.IndexerDefinition{ID: id}, types.KindConfiguration, err.Error(), nil)
				continue
			}
			if !ix.Enabled {
				skip(ix, "", "indexer disabled", nil)
				continue
			}
			pool = append(pool, ix)
		}
		slices.SortFunc(pool, func(a, b *types.IndexerDefinition) int {
			if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
	}

	out := make([]*types.IndexerDefinition, 0, len(pool))
	for _, ix := range pool {
		if s.status != nil {
			disabled, till, err := s.status.IsDisabled(ctx, ix.ID)
			if err != nil {
				logger.Warn().Err(err).Int64("indexerId", ix.ID).Msg("Failed to check indexer status")
			} else if disabled {
				logger.Debug().
					Int64("indexerId", ix.ID).
					Str("indexerName", ix.Name).
					Msg("Skipping disabled indexer")
				skip(ix, "", "temporarily disabled after failures", till)
				continue
			}
		}
		if s.pacer != nil && !s.pacer.Allow(ix.ID, hourlyLimit(ix)) {
			skip(ix, types.KindRateLimited, "hourly query limit reached", nil)
			continue
		}
		out = append(out, ix)
	}
	return out, diagnostics
}

// hourlyLimit reads the per-indexer query cap; 0 defers to the limiter default.
func hourlyLimit(ix *types.IndexerDefinition) int {
	n, err := strconv.Atoi(strings.TrimSpace(ix.Settings["queryLimit"]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// runIndexer queries one indexer. It returns a skip reason when the indexer
// cannot serve the request, or the error that ended its part of the search.
func (s *Service) runIndexer(ctx context.Context, t *task, criteria types.SearchCriteria, logger zerolog.Logger) (string, error) {
	ix := t.indexer
	logger = logger.With().Int64("indexerId", ix.ID).Str("indexer", ix.Name).Logger()

	adapter, err := s.indexers.Adapter(ix.ID)
	if err != nil {
		return "", err
	}
	if p, ok := adapter.(indexer.Preparer); ok {
		if err := p.Prepare(ctx); err != nil {
			return "", types.Attribute(err, ix.ID, ix.Name)
		}
	}
	if mapper := adapter.Capabilities().Categories; len(criteria.Categories) > 0 && mapper != nil && mapper.Len() > 0 &&
		len(mapper.ToNativeAll(criteria.Categories)) == 0 {
		return "no matching categories", nil
	}

	auth, _ := adapter.(indexer.Authenticator)
	if auth != nil {
		if err := auth.Authenticate(ctx); err != nil {
			return "", types.Attribute(err, ix.ID, ix.Name)
		}
	}

	chain, err := adapter.RequestGenerator().GenerateSearch(criteria)
	if err != nil {
		return "", types.Attribute(err, ix.ID, ix.Name)
	}

	var minInterval time.Duration
	if th, ok := adapter.(indexer.Throttled); ok {
		minInterval = th.MinInterval()
	}

	for tier, batch := range chain.Batches() {
		relogged := false
		for {
			needsLogin, err := s.runBatch(ctx, t, adapter, auth, batch, minInterval)
			if err != nil {
				return "", types.Attribute(err, ix.ID, ix.Name)
			}
			if !needsLogin {
				break
			}
			if relogged {
				return "", types.Attribute(types.NewAuthError("session rejected after re-login", nil), ix.ID, ix.Name)
			}
			logger.Info().Int("tier", tier).Msg("Session expired, logging in again")
			auth.InvalidateSession()
			if err := auth.Authenticate(ctx); err != nil {
				return "", types.Attribute(err, ix.ID, ix.Name)
			}
			relogged = true
		}
	}

	logger.Debug().Int("results", len(t.collected())).Msg("Indexer search finished")
	return "", nil
}

// runBatch executes the pages of one batch in order, stopping at the first
// short page. It reports whether the site asked for a fresh login; pages
// parsed before that are kept.
func (s *Service) runBatch(ctx context.Context, t *task, adapter indexer.Adapter, auth indexer.Authenticator, batch request.Batch, minInterval time.Duration) (bool, error) {
	id := t.indexer.ID
	for req := range batch {
		if s.pacer != nil {
			if err := s.pacer.Wait(ctx, id, minInterval); err != nil {
				return false, err
			}
		}
		resp, err := adapter.Executor().Execute(ctx, req)
		if err != nil {
			return false, err
		}
		if auth != nil && auth.NeedsLogin(resp) {
			return true, nil
		}
		releases, err := adapter.ResponseParser().Parse(resp)
		if err != nil {
			return false, err
		}
		t.add(releases)
		if req.PageSize <= 0 || len(releases) < req.PageSize {
			break
		}
	}
	return false, nil
}

// record feeds the indexer outcome to the status tracker. Timeouts and
// skips are neither successes nor failures.
func (s *Service) record(ctx context.Context, ix *types.IndexerDefinition, skip string, err error, cutShort bool, startedAt time.Time, logger zerolog.Logger) {
	if s.status == nil || skip != "" || cutShort {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		if rerr := s.status.RecordSuccess(ctx, ix.ID); rerr != nil {
			logger.Warn().Err(rerr).Int64("indexerId", ix.ID).Msg("Failed to record indexer success")
		}
		return
	}
	logger.Warn().Err(err).Int64("indexerId", ix.ID).Str("indexer", ix.Name).Msg("Indexer search failed")
	if _, rerr := s.status.RecordFailure(ctx, ix.ID, err, startedAt); rerr != nil {
		logger.Warn().Err(rerr).Int64("indexerId", ix.ID).Msg("Failed to record indexer failure")
	}
}

// isSiteError reports whether err came from the site rather than from the
// search deadline cutting the request short.
func isSiteError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	switch types.KindOf(err) {
	case "", types.KindTransient, types.KindTimeout:
		return false
	}
	return true
}
