package capabilities

import (
	"slices"
	"strings"
	"testing"

	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/types"
)

func TestSanitizeTerm(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "The Expanse", "The Expanse"},
		{"en dash", "Spider–Man", "Spider-Man"},
		{"curly apostrophe", "Schindler’s List", "Schindler's List"},
		{"double quotes dropped", "“Hello” \"World\"", "Hello World"},
		{"disallowed punctuation", "Who? What! #1 & *more*", "Who What 1 more"},
		{"allowed punctuation", "Mission: Impossible (1996) [x264] 50%", "Mission: Impossible (1996) [x264] 50%"},
		{"collapses whitespace", "  a \t  b\n", "a b"},
		{"unicode letters kept", "Amélie Æon", "Amélie Æon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeTerm(tt.in); got != tt.want {
				t.Errorf("SanitizeTerm(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCapabilities_PreferredID(t *testing.T) {
	caps := New()
	caps.TvSearchParams = []Param{ParamQ, ParamSeason, ParamEp, ParamTvdbID, ParamImdbID}
	caps.MovieSearchParams = []Param{ParamQ, ParamTmdbID}

	criteria := &types.SearchCriteria{Mode: types.ModeTV, ImdbID: "944947", TvdbID: 121361}
	p, v, ok := caps.PreferredID(types.ModeTV, criteria)
	if !ok || p != ParamImdbID || v != "tt0944947" {
		t.Errorf("PreferredID(tv) = %q, %q, %v", p, v, ok)
	}

	movie := &types.SearchCriteria{Mode: types.ModeMovie, ImdbID: "tt0111161"}
	if _, _, ok := caps.PreferredID(types.ModeMovie, movie); ok {
		t.Error("unsupported imdb id should not be preferred")
	}
	movie.TmdbID = 278
	p, v, ok = caps.PreferredID(types.ModeMovie, movie)
	if !ok || p != ParamTmdbID || v != "278" {
		t.Errorf("PreferredID(movie) = %q, %q, %v", p, v, ok)
	}
}

func TestCapabilities_PageSize(t *testing.T) {
	tests := []struct {
		def, max, want int
	}{
		{0, 0, 100},
		{50, 100, 50},
		{200, 100, 100},
		{0, 75, 75},
		{25, 0, 25},
	}
	for _, tt := range tests {
		c := &Capabilities{LimitsDefault: tt.def, LimitsMax: tt.max}
		if got := c.PageSize(); got != tt.want {
			t.Errorf("PageSize(%d,%d) = %d, want %d", tt.def, tt.max, got, tt.want)
		}
	}
}

const capsXML = `<?xml version="1.0" encoding="UTF-8"?>
<caps>
  <server title="Test"/>
  <limits default="50" max="100"/>
  <searching>
    <search available="yes" supportedParams="q"/>
    <tv-search available="yes" supportedParams="q,season,ep,tvdbid,imdbid"/>
    <movie-search available="yes" supportedParams="q,imdbid,tmdbid"/>
    <audio-search available="no" supportedParams="q"/>
    <book-search available="yes" supportedParams="q,author,title"/>
  </searching>
  <categories>
    <category id="2000" name="Movies">
      <subcat id="2040" name="Movies/HD"/>
    </category>
    <category id="5000" name="TV">
      <subcat id="5070" name="TV/Anime"/>
    </category>
    <category id="100001" name="Custom Cartoons"/>
  </categories>
</caps>`

func TestParseNewznabCaps(t *testing.T) {
	caps, err := ParseNewznabCaps(strings.NewReader(capsXML))
	if err != nil {
		t.Fatalf("ParseNewznabCaps() error = %v", err)
	}

	if caps.PageSize() != 50 {
		t.Errorf("PageSize() = %d", caps.PageSize())
	}
	if !caps.Supports(types.ModeTV, ParamTvdbID) || !caps.Supports(types.ModeTV, ParamEp) {
		t.Errorf("tv params = %v", caps.TvSearchParams)
	}
	if caps.SupportsMode(types.ModeMusic) {
		t.Error("audio search marked unavailable should not be supported")
	}
	if !slices.Equal(caps.BookSearchParams, []Param{ParamQ, ParamAuthor, ParamTitle}) {
		t.Errorf("book params = %v", caps.BookSearchParams)
	}
	if got := caps.Categories.ToCanonical("5070"); !slices.Equal(got, []int{category.TVAnime}) {
		t.Errorf("ToCanonical(5070) = %v", got)
	}
	if got := caps.Categories.ToCanonical("100001"); !slices.Equal(got, []int{category.Other}) {
		t.Errorf("ToCanonical(100001) = %v", got)
	}
}
