// Package capabilities declares which search modes and identifying
// parameters an indexer supports.
package capabilities

import (
	"slices"
	"strconv"
	"strings"

	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// Param is a search parameter an indexer may accept.
type Param string

const (
	ParamQ         Param = "q"
	ParamSeason    Param = "season"
	ParamEp        Param = "ep"
	ParamImdbID    Param = "imdbid"
	ParamTmdbID    Param = "tmdbid"
	ParamTvdbID    Param = "tvdbid"
	ParamTvMazeID  Param = "tvmazeid"
	ParamTraktID   Param = "traktid"
	ParamRID       Param = "rid"
	ParamDoubanID  Param = "doubanid"
	ParamYear      Param = "year"
	ParamGenre     Param = "genre"
	ParamArtist    Param = "artist"
	ParamAlbum     Param = "album"
	ParamLabel     Param = "label"
	ParamTrack     Param = "track"
	ParamAuthor    Param = "author"
	ParamTitle     Param = "title"
	ParamPublisher Param = "publisher"
)

// IDPriority is the order in which external ids are preferred when an
// indexer supports more than one.
var IDPriority = []Param{ParamImdbID, ParamTmdbID, ParamTvdbID, ParamTvMazeID, ParamTraktID, ParamRID, ParamDoubanID}

// SeriesIDs identify a show, so season/episode still narrow the query.
var SeriesIDs = []Param{ParamTvdbID, ParamTvMazeID, ParamRID}

// ParseParams converts a list of parameter names, ignoring unknown ones.
func ParseParams(names []string) []Param {
	out := make([]Param, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if n == "imdbidshort" {
			n = string(ParamImdbID)
		}
		p := Param(n)
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// Capabilities describes what an indexer supports.
type Capabilities struct {
	SearchParams      []Param             `json:"searchParams"`
	TvSearchParams    []Param             `json:"tvSearchParams"`
	MovieSearchParams []Param             `json:"movieSearchParams"`
	MusicSearchParams []Param             `json:"musicSearchParams"`
	BookSearchParams  []Param             `json:"bookSearchParams"`
	Categories        *category.Mapper    `json:"-"`
	LimitsDefault     int                 `json:"limitsDefault"`
	LimitsMax         int                 `json:"limitsMax"`
	SupportsRawSearch bool                `json:"supportsRawSearch"`
	Flags             []types.IndexerFlag `json:"flags,omitempty"`
}

// New returns capabilities supporting basic free-text search only.
func New() *Capabilities {
	return &Capabilities{
		SearchParams:  []Param{ParamQ},
		Categories:    category.NewMapper(),
		LimitsDefault: 100,
		LimitsMax:     100,
	}
}

// Params returns the parameter set for a search mode.
func (c *Capabilities) Params(mode types.SearchMode) []Param {
	switch mode {
	case types.ModeTV:
		return c.TvSearchParams
	case types.ModeMovie:
		return c.MovieSearchParams
	case types.ModeMusic:
		return c.MusicSearchParams
	case types.ModeBook:
		return c.BookSearchParams
	default:
		return c.SearchParams
	}
}

// SupportsMode reports whether the indexer has a dedicated endpoint for mode.
func (c *Capabilities) SupportsMode(mode types.SearchMode) bool {
	return len(c.Params(mode)) > 0
}

// Supports reports whether mode accepts param.
func (c *Capabilities) Supports(mode types.SearchMode, param Param) bool {
	return slices.Contains(c.Params(mode), param)
}

// PreferredID returns the highest-priority external id both set in criteria
// and supported by mode, with its value.
func (c *Capabilities) PreferredID(mode types.SearchMode, criteria *types.SearchCriteria) (Param, string, bool) {
	for _, p := range IDPriority {
		if !c.Supports(mode, p) {
			continue
		}
		if v := idValue(p, criteria); v != "" {
			return p, v, true
		}
	}
	return "", "", false
}

func idValue(p Param, c *types.SearchCriteria) string {
	itoa := func(v int) string {
		if v <= 0 {
			return ""
		}
		return strconv.Itoa(v)
	}
	switch p {
	case ParamImdbID:
		return c.NormalizedImdbID()
	case ParamTmdbID:
		return itoa(c.TmdbID)
	case ParamTvdbID:
		return itoa(c.TvdbID)
	case ParamTvMazeID:
		return itoa(c.TvMazeID)
	case ParamTraktID:
		return itoa(c.TraktID)
	case ParamRID:
		return itoa(c.RID)
	case ParamDoubanID:
		return itoa(c.DoubanID)
	}
	return ""
}

// PageSize returns the number of results requested per page.
func (c *Capabilities) PageSize() int {
	switch {
	case c.LimitsDefault > 0 && (c.LimitsMax <= 0 || c.LimitsDefault <= c.LimitsMax):
		return c.LimitsDefault
	case c.LimitsMax > 0:
		return c.LimitsMax
	default:
		return 100
	}
}

// HasFlag reports whether the indexer advertises flag.
func (c *Capabilities) HasFlag(flag types.IndexerFlag) bool {
	return slices.Contains(c.Flags, flag)
}
