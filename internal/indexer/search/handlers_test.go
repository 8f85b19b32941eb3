package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/searchd/internal/indexer/types"
)

type recordingSearcher struct {
	got    Request
	result *Result
	err    error
}

func (r *recordingSearcher) Search(_ context.Context, req Request) (*Result, error) {
	r.got = req
	return r.result, r.err
}

func serveSearch(t *testing.T, s Searcher, query string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	NewHandlers(s).RegisterRoutes(e.Group("/api/v1/search"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?"+query, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Search(t *testing.T) {
	s := &recordingSearcher{result: &Result{ID: "abc", Releases: []types.Release{release("r1", 1, day, 1)}}}
	rec := serveSearch(t, s, "query=dune&type=movie-search&categories=2000,2040&indexerIds=3,1&sort=size:asc&imdbId=tt1160419")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "dune", s.got.Criteria.Term)
	assert.Equal(t, types.ModeMovie, s.got.Criteria.Mode)
	assert.Equal(t, []int{2000, 2040}, s.got.Criteria.Categories)
	assert.Equal(t, []int64{3, 1}, s.got.IndexerIDs)
	assert.Equal(t, Sort{Key: SortSize, Ascending: true}, s.got.Sort)
	assert.Equal(t, "tt1160419", s.got.Criteria.ImdbID)

	var body struct {
		ID       string `json:"id"`
		Releases []struct {
			GUID string `json:"guid"`
		} `json:"releases"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "abc", body.ID)
	require.Len(t, body.Releases, 1)
	assert.Equal(t, "r1", body.Releases[0].GUID)
}

func TestHandlers_SearchDefaults(t *testing.T) {
	s := &recordingSearcher{result: &Result{}}
	rec := serveSearch(t, s, "query=x&airDate=2024-05-06&type=tv-search")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2024, s.got.Criteria.AirDate.Year())
	assert.Empty(t, s.got.Sort.Key, "service default applies")
}

func TestHandlers_SearchBadRequest(t *testing.T) {
	tests := []string{
		"type=lyrics-search",
		"categories=movies",
		"indexerIds=1,x",
		"sort=grabs",
		"airDate=06/05/2024",
	}
	for _, q := range tests {
		t.Run(q, func(t *testing.T) {
			rec := serveSearch(t, &recordingSearcher{result: &Result{}}, q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlers_SearchFailure(t *testing.T) {
	s := &recordingSearcher{err: &types.SearchFailure{Diagnostics: []types.Diagnostic{
		{IndexerID: 1, IndexerName: "Alpha", Status: types.DiagnosticFailed, Error: "boom"},
	}}}
	rec := serveSearch(t, s, "query=x")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alpha")
}
