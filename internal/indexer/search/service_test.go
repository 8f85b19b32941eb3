package search

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/ratelimit"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/status"
	"github.com/slipstream/searchd/internal/indexer/types"
	"github.com/slipstream/searchd/internal/metrics"
)

var day = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, src IndexerSource, opts ...Option) *Service {
	t.Helper()
	return NewService(Config{Timeout: 5 * time.Second}, src, zerolog.Nop(), opts...)
}

func newTracker() *status.Tracker {
	return status.NewTracker(status.NewMemoryRepository(), status.DefaultPolicy(), zerolog.Nop())
}

func TestSearch_PartialFailure(t *testing.T) {
	a := newFakeAdapter(1, "Alpha", 10).serve("https://a.test/1", release("a1", 1, day, 100))
	b := newFakeAdapter(2, "Bravo", 20)
	b.serve("https://b.test/1")
	b.err = types.NewTransientError("connection reset", nil)
	c := newFakeAdapter(3, "Charlie", 30).serve("https://c.test/1", release("c1", 3, day.Add(time.Hour), 200))

	tracker := newTracker()
	svc := newTestService(t, newFakeSource(a, b, c), WithStatus(tracker))

	result, err := svc.SearchTerm(context.Background(), "matrix", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, []string{"c1", "a1"}, guids(result.Releases), "newest first")

	require.Len(t, result.Diagnostics, 3)
	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, int64(2), failed[0].IndexerID)
	assert.Equal(t, types.KindTransient, failed[0].Kind)
	assert.Equal(t, types.DiagnosticOK, diagnosticFor(result, 1).Status)
	assert.Equal(t, 1, diagnosticFor(result, 3).ReleaseCount)

	st, err := tracker.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, st.EscalationLevel)
	disabled, _, err := tracker.IsDisabled(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, disabled)
}

func TestSearch_AllFailed(t *testing.T) {
	a := newFakeAdapter(1, "Alpha", 10)
	a.serve("https://a.test/1")
	a.err = types.NewParseError("bad xml", nil)
	b := newFakeAdapter(2, "Bravo", 20)
	b.serve("https://b.test/1")
	b.err = types.NewAuthError("", nil)

	_, err := newTestService(t, newFakeSource(a, b)).SearchTerm(context.Background(), "x", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSearchFailed)

	var failure *types.SearchFailure
	require.ErrorAs(t, err, &failure)
	assert.Len(t, failure.Diagnostics, 2)
	assert.Contains(t, err.Error(), "all 2 indexers failed")
}

func TestSearch_NoCandidates(t *testing.T) {
	result, err := newTestService(t, newFakeSource()).SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Releases)
	assert.NotNil(t, result.Releases)
	assert.Empty(t, result.Diagnostics)
}

func TestSearch_DeduplicatesByGUIDInCandidateOrder(t *testing.T) {
	low := newFakeAdapter(1, "Low", 50).serve("https://low.test/", release("shared", 1, day, 1), release("low-only", 1, day, 1))
	high := newFakeAdapter(2, "High", 5).serve("https://high.test/", release(" SHARED ", 2, day, 1))

	result, err := newTestService(t, newFakeSource(low, high)).Search(context.Background(), Request{
		Criteria: types.SearchCriteria{Mode: types.ModeBasic, Term: "x"},
		Sort:     Sort{Key: SortTitle, Ascending: true},
	})
	require.NoError(t, err)
	require.Len(t, result.Releases, 2)
	for _, r := range result.Releases {
		if r.Info().GUID == " SHARED " {
			assert.Equal(t, int64(2), r.Info().IndexerID, "higher priority indexer wins")
		}
		assert.NotEqual(t, "shared", r.Info().GUID)
	}
}

func TestSearch_DisabledIndexerSkipped(t *testing.T) {
	a := newFakeAdapter(1, "Alpha", 10).serve("https://a.test/1", release("a1", 1, day, 1))
	b := newFakeAdapter(2, "Bravo", 20).serve("https://b.test/1", release("b1", 2, day, 1))

	tracker := newTracker()
	_, err := tracker.RecordFailure(context.Background(), 2, types.NewTransientError("", nil), time.Now())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	result, err := newTestService(t, newFakeSource(a, b), WithStatus(tracker), WithMetrics(m)).
		SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a1"}, guids(result.Releases))
	d := diagnosticFor(result, 2)
	assert.Equal(t, types.DiagnosticSkipped, d.Status)
	assert.NotNil(t, d.DisabledTill)
	assert.Zero(t, b.calls.Load(), "skipped indexer is never queried")
	assert.InDelta(t, 1, testutil.ToFloat64(m.IndexersSkipped.WithLabelValues("Bravo", d.Error)), 0)

	st, err := tracker.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, st.EscalationLevel, "a skip is not a new failure")
}

func TestSearch_TimeoutKeepsPartialResults(t *testing.T) {
	fast := newFakeAdapter(1, "Fast", 10).serve("https://fast.test/", release("f1", 1, day, 1))
	slow := newFakeAdapter(2, "Slow", 20).
		serve("https://slow.test/1", release("s1", 2, day, 1)).
		serve("https://slow.test/2", release("s2", 2, day, 1))
	slow.blockOn = "https://slow.test/2"

	tracker := newTracker()
	svc := NewService(Config{Timeout: 100 * time.Millisecond}, newFakeSource(fast, slow), zerolog.Nop(), WithStatus(tracker))

	result, err := svc.SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f1", "s1"}, guids(result.Releases))

	d := diagnosticFor(result, 2)
	assert.Equal(t, types.DiagnosticTimedOut, d.Status)
	assert.Equal(t, types.KindTimeout, d.Kind)
	assert.Equal(t, 1, d.ReleaseCount)

	st, err := tracker.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, st.EscalationLevel, "a deadline is not a site failure")
}

func TestSearch_FailureBeforeDeadlineStaysFailed(t *testing.T) {
	bad := newFakeAdapter(1, "Bad", 10)
	bad.serve("https://bad.test/1")
	bad.err = types.NewTransientError("connection refused", nil)
	slow := newFakeAdapter(2, "Slow", 20).
		serve("https://slow.test/1", release("s1", 2, day, 1)).
		serve("https://slow.test/2")
	slow.blockOn = "https://slow.test/2"

	tracker := newTracker()
	svc := NewService(Config{Timeout: 100 * time.Millisecond}, newFakeSource(bad, slow), zerolog.Nop(), WithStatus(tracker))

	result, err := svc.SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, guids(result.Releases))

	d := diagnosticFor(result, 1)
	assert.Equal(t, types.DiagnosticFailed, d.Status)
	assert.Equal(t, types.KindTransient, d.Kind)
	assert.Equal(t, types.DiagnosticTimedOut, diagnosticFor(result, 2).Status)

	st, err := tracker.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, st.EscalationLevel)
	st, err = tracker.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, st.EscalationLevel)
}

func TestSearch_RelogsOnceWhenSessionExpires(t *testing.T) {
	a := &authAdapter{fakeAdapter: newFakeAdapter(1, "Private", 10).serve("https://p.test/", release("p1", 1, day, 1))}
	a.expired.Store(true)

	result, err := newTestService(t, newFakeSource(a)).SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, guids(result.Releases))
	assert.Equal(t, int32(2), a.logins.Load())
	assert.Equal(t, int32(1), a.invalidated.Load())
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestSearch_CategoryAndBoundsFilter(t *testing.T) {
	a := newFakeAdapter(1, "Alpha", 10).serve("https://a.test/",
		release("movie-hd", 1, day, 5<<30, category.MoviesHD),
		release("tv", 1, day, 5<<30, category.TV),
		release("uncategorized", 1, day, 5<<30),
		release("too-small", 1, day, 10, category.Movies),
	)
	a.caps.Categories.Add("1", category.Movies, "Movies")
	a.caps.Categories.Add("2", category.TV, "TV")

	result, err := newTestService(t, newFakeSource(a)).Search(context.Background(), Request{
		Criteria: types.SearchCriteria{
			Mode:       types.ModeBasic,
			Categories: []int{category.Movies},
			MinSize:    1 << 20,
		},
		Sort: Sort{Key: SortTitle, Ascending: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"movie-hd", "uncategorized"}, guids(result.Releases))
}

func TestSearch_SkipsIndexerWithoutMatchingCategories(t *testing.T) {
	a := newFakeAdapter(1, "MoviesOnly", 10).serve("https://a.test/", release("m", 1, day, 1, category.Movies))
	a.caps.Categories.Add("1", category.Movies, "Movies")
	b := newFakeAdapter(2, "Books", 10).serve("https://b.test/", release("b", 2, day, 1, category.Books))
	b.caps.Categories.Add("7", category.Books, "Books")

	result, err := newTestService(t, newFakeSource(a, b)).SearchTerm(context.Background(), "", []int{category.Books}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, guids(result.Releases))
	assert.Equal(t, types.DiagnosticSkipped, diagnosticFor(result, 1).Status)
	assert.Zero(t, a.calls.Load())
}

func TestSearch_StopsPagingOnShortPage(t *testing.T) {
	a := newFakeAdapter(1, "Paged", 10)
	a.pages["https://p.test/?offset=0"] = []types.Release{release("r1", 1, day, 1), release("r2", 1, day, 1)}
	a.pages["https://p.test/?offset=2"] = []types.Release{release("r3", 1, day, 1)}
	a.pages["https://p.test/?offset=4"] = []types.Release{release("r4", 1, day, 1)}
	a.chain = func() *request.Chain {
		return request.NewChain().AddTier(request.Pages(0, 2, 5, func(offset, _ int) *request.IndexerRequest {
			req, _ := request.NewGet("https://p.test/?offset="+strconv.Itoa(offset), nil)
			return req
		}))
	}

	result, err := newTestService(t, newFakeSource(a)).SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)
	assert.Len(t, result.Releases, 3)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestSearch_ExplicitIndexers(t *testing.T) {
	a := newFakeAdapter(1, "Alpha", 10).serve("https://a.test/", release("a", 1, day, 1))
	b := newFakeAdapter(2, "Bravo", 5).serve("https://b.test/", release("b", 2, day, 1))
	off := newFakeAdapter(3, "Off", 1).serve("https://off.test/", release("off", 3, day, 1))
	off.def.Enabled = false

	result, err := newTestService(t, newFakeSource(a, b, off)).
		SearchTerm(context.Background(), "x", nil, []int64{1, 3, 99, 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, guids(result.Releases))
	assert.Zero(t, b.calls.Load(), "only requested indexers run")

	assert.Equal(t, types.DiagnosticSkipped, diagnosticFor(result, 3).Status)
	missing := diagnosticFor(result, 99)
	assert.Equal(t, types.DiagnosticSkipped, missing.Status)
	assert.Equal(t, types.KindConfiguration, missing.Kind)
	assert.Len(t, result.Diagnostics, 3)
}

func TestSearch_AdapterBuildFailure(t *testing.T) {
	a := newFakeAdapter(1, "Alpha", 10).serve("https://a.test/", release("a", 1, day, 1))
	b := newFakeAdapter(2, "Broken", 20)
	src := newFakeSource(a, b)
	src.buildErr[2] = types.NewConfigError("definition %q: missing", "broken")

	tracker := newTracker()
	result, err := newTestService(t, src, WithStatus(tracker)).SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, types.KindConfiguration, diagnosticFor(result, 2).Kind)

	st, err := tracker.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, st.EscalationLevel, "configuration errors do not escalate")
}

func TestSearch_HourlyQueryLimit(t *testing.T) {
	a := newFakeAdapter(1, "Capped", 10).serve("https://a.test/", release("a", 1, day, 1))
	a.def.Settings = map[string]string{"queryLimit": "1"}
	limiter := ratelimit.NewLimiter(ratelimit.Config{MinInterval: time.Millisecond}, zerolog.Nop())
	svc := newTestService(t, newFakeSource(a), WithPacer(limiter))

	first, err := svc.SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)
	assert.Len(t, first.Releases, 1)

	second, err := svc.SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, second.Releases)
	d := diagnosticFor(second, 1)
	assert.Equal(t, types.DiagnosticSkipped, d.Status)
	assert.Equal(t, types.KindRateLimited, d.Kind)
}

func TestSearch_SuccessResetsEscalation(t *testing.T) {
	a := newFakeAdapter(1, "Alpha", 10).serve("https://a.test/", release("a", 1, day, 1))
	repo := status.NewMemoryRepository()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Upsert(context.Background(), &types.IndexerStatus{
		IndexerID:       1,
		EscalationLevel: 3,
		InitialFailure:  &past,
		DisabledTill:    &past,
	}))
	tracker := status.NewTracker(repo, status.DefaultPolicy(), zerolog.Nop())

	_, err := newTestService(t, newFakeSource(a), WithStatus(tracker)).SearchTerm(context.Background(), "x", nil, nil)
	require.NoError(t, err)

	st, err := tracker.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, st.EscalationLevel)
	assert.Nil(t, st.DisabledTill)
}

func TestIsSiteError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{context.DeadlineExceeded, false},
		{errors.New("plain"), false},
		{types.NewTransientError("", nil), false},
		{types.NewAuthError("", nil), true},
		{types.NewParseError("x", nil), true},
		{types.NewProtectionError(403, types.ProtectionInfo{Vendor: "cloudflare"}), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSiteError(tt.err), "%v", tt.err)
	}
}
