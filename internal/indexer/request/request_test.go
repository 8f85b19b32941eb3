package request

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/types"
)

func testGenerator() *NewznabGenerator {
	caps := capabilities.New()
	caps.LimitsDefault = 50
	caps.TvSearchParams = []capabilities.Param{
		capabilities.ParamQ, capabilities.ParamSeason, capabilities.ParamEp,
		capabilities.ParamTvdbID, capabilities.ParamImdbID,
	}
	caps.MovieSearchParams = []capabilities.Param{capabilities.ParamQ, capabilities.ParamImdbID, capabilities.ParamTmdbID}
	caps.Categories.Add("2040", category.MoviesHD, "Movies/HD")
	caps.Categories.Add("5040", category.TVHD, "TV/HD")

	return &NewznabGenerator{
		BaseURL:      "https://indexer.example/",
		APIKey:       "secret",
		Capabilities: caps,
		MaxPages:     2,
	}
}

// firstQueries returns the query of the first page of every batch.
func firstQueries(t *testing.T, chain *Chain) []url.Values {
	t.Helper()
	var out []url.Values
	for _, batch := range chain.Batches() {
		for req := range batch {
			u, err := url.Parse(req.URL)
			if err != nil {
				t.Fatalf("invalid url %q: %v", req.URL, err)
			}
			out = append(out, u.Query())
			break
		}
	}
	return out
}

var identifyingParams = []string{"imdbid", "tmdbid", "tvdbid", "tvmazeid", "traktid", "rid", "doubanid", "season", "ep"}

func TestGenerateSearch_TermOnlyIsSingleBatch(t *testing.T) {
	chain, err := testGenerator().GenerateSearch(types.SearchCriteria{Mode: types.ModeBasic, Term: "ubuntu 24.04"})
	if err != nil {
		t.Fatalf("GenerateSearch() error = %v", err)
	}
	if chain.Len() != 1 || chain.BatchCount() != 1 {
		t.Fatalf("tiers = %d, batches = %d, want 1/1", chain.Len(), chain.BatchCount())
	}
	q := firstQueries(t, chain)[0]
	if q.Get("t") != "search" || q.Get("q") != "ubuntu 24.04" {
		t.Errorf("query = %v", q)
	}
	for _, p := range identifyingParams {
		if q.Has(p) {
			t.Errorf("unexpected identifying parameter %q", p)
		}
	}
}

func TestGenerateSearch_SeasonWithoutIDProducesTwoTiers(t *testing.T) {
	chain, err := testGenerator().GenerateSearch(types.SearchCriteria{Mode: types.ModeTV, Term: "The Wire", Season: 3})
	if err != nil {
		t.Fatalf("GenerateSearch() error = %v", err)
	}
	if chain.Len() != 2 {
		t.Fatalf("tiers = %d, want 2", chain.Len())
	}
	qs := firstQueries(t, chain)
	if qs[0].Get("t") != "tvsearch" || qs[0].Get("season") != "3" || qs[0].Get("q") != "The Wire" {
		t.Errorf("season tier = %v", qs[0])
	}
	if qs[1].Get("t") != "search" || qs[1].Get("q") != "The Wire S03" {
		t.Errorf("episode tier = %v", qs[1])
	}
}

func TestGenerateSearch_EpisodeAndDaily(t *testing.T) {
	g := testGenerator()

	chain, err := g.GenerateSearch(types.SearchCriteria{Mode: types.ModeTV, Term: "The Wire", Season: 3, Episode: "4"})
	if err != nil {
		t.Fatal(err)
	}
	qs := firstQueries(t, chain)
	if len(qs) != 2 || qs[0].Get("ep") != "4" || qs[1].Get("q") != "The Wire S03E04" {
		t.Errorf("episode queries = %v", qs)
	}

	daily := types.SearchCriteria{Mode: types.ModeTV, Term: "Late Show", AirDate: time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)}
	chain, err = g.GenerateSearch(daily)
	if err != nil {
		t.Fatal(err)
	}
	qs = firstQueries(t, chain)
	if len(qs) != 2 || qs[0].Get("season") != "2024" || qs[0].Get("ep") != "02/09" || qs[1].Get("q") != "Late Show 2024.02.09" {
		t.Errorf("daily queries = %v", qs)
	}
}

func TestGenerateSearch_AuthoritativeIDCollapses(t *testing.T) {
	chain, err := testGenerator().GenerateSearch(types.SearchCriteria{
		Mode:    types.ModeTV,
		Term:    "The Wire",
		ImdbID:  "tt0306414",
		Season:  3,
		Episode: "4",
	})
	if err != nil {
		t.Fatal(err)
	}
	if chain.Len() != 1 || chain.BatchCount() != 1 {
		t.Fatalf("tiers = %d, batches = %d, want 1/1", chain.Len(), chain.BatchCount())
	}
	q := firstQueries(t, chain)[0]
	if q.Get("imdbid") != "0306414" {
		t.Errorf("imdbid = %q", q.Get("imdbid"))
	}
	if q.Has("season") || q.Has("ep") || q.Has("q") {
		t.Errorf("id search must not carry season/episode/term: %v", q)
	}
}

func TestGenerateSearch_SeriesIDKeepsEpisode(t *testing.T) {
	chain, err := testGenerator().GenerateSearch(types.SearchCriteria{Mode: types.ModeTV, TvdbID: 79126, Season: 1, Episode: "2"})
	if err != nil {
		t.Fatal(err)
	}
	q := firstQueries(t, chain)[0]
	if chain.BatchCount() != 1 || q.Get("tvdbid") != "79126" || q.Get("season") != "1" || q.Get("ep") != "2" {
		t.Errorf("query = %v", q)
	}
}

func TestGenerateSearch_UnsupportedIDFallsBackToTerm(t *testing.T) {
	chain, err := testGenerator().GenerateSearch(types.SearchCriteria{Mode: types.ModeMovie, Term: "Heat: “Director’s Cut”", TraktID: 42})
	if err != nil {
		t.Fatal(err)
	}
	q := firstQueries(t, chain)[0]
	if q.Has("traktid") || q.Get("q") != "Heat: Director's Cut" || q.Get("t") != "movie" {
		t.Errorf("query = %v", q)
	}
}

func TestGenerateSearch_PagingAndCategories(t *testing.T) {
	chain, err := testGenerator().GenerateSearch(types.SearchCriteria{Mode: types.ModeMovie, Term: "heat", Categories: []int{category.Movies}})
	if err != nil {
		t.Fatal(err)
	}

	var offsets []string
	for _, batch := range chain.Batches() {
		for req := range batch {
			u, _ := url.Parse(req.URL)
			q := u.Query()
			offsets = append(offsets, q.Get("offset"))
			if q.Get("cat") != "2040" || q.Get("limit") != "50" || q.Get("apikey") != "secret" {
				t.Errorf("page query = %v", q)
			}
			if req.PageSize != 50 {
				t.Errorf("PageSize = %d", req.PageSize)
			}
		}
	}
	if len(offsets) != 2 || offsets[0] != "0" || offsets[1] != "50" {
		t.Errorf("offsets = %v", offsets)
	}
}

func TestPages_IsLazy(t *testing.T) {
	built := 0
	batch := Pages(0, 10, 5, func(off, limit int) *IndexerRequest {
		built++
		return &IndexerRequest{URL: "https://x/?o=" + string(rune('0'+off/10))}
	})
	for range batch {
		break
	}
	if built != 1 {
		t.Errorf("built %d pages, want 1", built)
	}
}

func TestGenerateSearch_MissingBaseURL(t *testing.T) {
	g := &NewznabGenerator{}
	_, err := g.GenerateSearch(types.SearchCriteria{Term: "x"})
	if !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestGenerateSearch_AdditionalParameters(t *testing.T) {
	g := testGenerator()
	g.AdditionalParameters = "&maxage=30&attrs=poster"
	chain, err := g.GenerateSearch(types.SearchCriteria{Mode: types.ModeBasic, Term: "x"})
	if err != nil {
		t.Fatalf("GenerateSearch() error = %v", err)
	}
	q := firstQueries(t, chain)[0]
	if q.Get("maxage") != "30" || q.Get("attrs") != "poster" {
		t.Errorf("query = %v", q)
	}
}

func TestGenerateSearch_InvalidAdditionalParameters(t *testing.T) {
	g := testGenerator()
	g.AdditionalParameters = "&maxage=%zz"

	if _, err := g.GenerateSearch(types.SearchCriteria{Mode: types.ModeBasic, Term: "x"}); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("GenerateSearch() error = %v, want configuration error", err)
	}
	if _, err := g.GenerateRecent(); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("GenerateRecent() error = %v, want configuration error", err)
	}
}

func TestIndexerRequest_HTTPRequest(t *testing.T) {
	body, err := JSONRPCBody("torrent-get", map[string]any{"q": "x"}, 7)
	if err != nil {
		t.Fatal(err)
	}
	r := NewPostJSON("https://rpc.example/api", body)
	r.SetCookies(map[string]string{"sid": "abc"})

	req, err := r.HTTPRequest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if req.Header.Get("Content-Type") != ContentTypeJSON {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
	if c, err := req.Cookie("sid"); err != nil || c.Value != "abc" {
		t.Errorf("cookie sid = %v, %v", c, err)
	}

	raw, _ := io.ReadAll(req.Body)
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["jsonrpc"] != "2.0" || decoded["method"] != "torrent-get" || decoded["id"] != float64(7) {
		t.Errorf("body = %s", raw)
	}
}
