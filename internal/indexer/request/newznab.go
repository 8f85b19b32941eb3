package request

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// DefaultMaxPages bounds how many pages one batch may request.
const DefaultMaxPages = 3

// NewznabGenerator builds query-string requests for Newznab/Torznab APIs.
type NewznabGenerator struct {
	BaseURL              string
	APIPath              string
	APIKey               string
	Capabilities         *capabilities.Capabilities
	Categories           []string // native categories always sent, overriding mapping
	AdditionalParameters string
	MaxPages             int
	Cookies              map[string]string
}

var _ Generator = (*NewznabGenerator)(nil)

func modeFunction(mode types.SearchMode) string {
	switch mode {
	case types.ModeTV:
		return "tvsearch"
	case types.ModeMovie:
		return "movie"
	case types.ModeMusic:
		return "music"
	case types.ModeBook:
		return "book"
	default:
		return "search"
	}
}

func (g *NewznabGenerator) endpoint() (string, error) {
	base := strings.TrimSuffix(strings.TrimSpace(g.BaseURL), "/")
	if base == "" {
		return "", types.NewConfigError("base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return "", types.NewConfigError("invalid base url %q: %v", base, err)
	}
	path := g.APIPath
	if path == "" {
		path = "/api"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

// additionalParams parses the user supplied query suffix, e.g. "&maxage=30".
func (g *NewznabGenerator) additionalParams() (url.Values, error) {
	if g.AdditionalParameters == "" {
		return nil, nil
	}
	extra, err := url.ParseQuery(strings.TrimPrefix(g.AdditionalParameters, "&"))
	if err != nil {
		return nil, types.NewConfigError("invalid additional parameters %q: %v", g.AdditionalParameters, err)
	}
	return extra, nil
}

func (g *NewznabGenerator) caps() *capabilities.Capabilities {
	if g.Capabilities == nil {
		return capabilities.New()
	}
	return g.Capabilities
}

// GenerateRecent produces one single-page batch of the newest releases.
func (g *NewznabGenerator) GenerateRecent() (*Chain, error) {
	endpoint, err := g.endpoint()
	if err != nil {
		return nil, err
	}
	extra, err := g.additionalParams()
	if err != nil {
		return nil, err
	}
	params := url.Values{"t": {"search"}}
	return NewChain().AddTier(g.batch(endpoint, params, extra, nil, 0, 1)), nil
}

// GenerateSearch expands criteria into tiers.
func (g *NewznabGenerator) GenerateSearch(criteria types.SearchCriteria) (*Chain, error) {
	endpoint, err := g.endpoint()
	if err != nil {
		return nil, err
	}
	extra, err := g.additionalParams()
	if err != nil {
		return nil, err
	}
	caps := g.caps()
	chain := NewChain()
	maxPages := g.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	add := func(params url.Values) {
		chain.AddTier(g.batch(endpoint, params, extra, criteria.Categories, criteria.Offset, maxPages))
	}

	if criteria.IsRssSearch() {
		return chain.AddTier(g.batch(endpoint, url.Values{"t": {"search"}}, extra, criteria.Categories, criteria.Offset, 1)), nil
	}

	term := capabilities.SanitizeTerm(criteria.Term)
	mode := criteria.Mode
	if mode != types.ModeBasic && !caps.SupportsMode(mode) {
		add(textQuery("search", joinTerm(term, criteria.EpisodeToken())))
		return chain, nil
	}

	if param, value, ok := caps.PreferredID(mode, &criteria); ok {
		params := url.Values{"t": {modeFunction(mode)}}
		params.Set(string(param), idParamValue(param, value))
		if mode == types.ModeTV && slices.Contains(capabilities.SeriesIDs, param) {
			g.addEpisode(params, caps, &criteria)
		}
		add(params)
		return chain, nil
	}

	if mode == types.ModeTV && criteria.EpisodeToken() != "" {
		if caps.Supports(mode, capabilities.ParamSeason) {
			params := textQuery("tvsearch", term)
			g.addEpisode(params, caps, &criteria)
			add(params)
		}
		add(textQuery("search", joinTerm(term, criteria.EpisodeToken())))
		return chain, nil
	}

	params := textQuery(modeFunction(mode), term)
	g.addModeFields(params, caps, &criteria)
	add(params)
	return chain, nil
}

func (g *NewznabGenerator) addEpisode(params url.Values, caps *capabilities.Capabilities, c *types.SearchCriteria) {
	if c.IsDaily() {
		params.Set("season", strconv.Itoa(c.AirDate.Year()))
		if caps.Supports(types.ModeTV, capabilities.ParamEp) {
			params.Set("ep", c.AirDate.Format("01/02"))
		}
		return
	}
	if c.Season > 0 && caps.Supports(types.ModeTV, capabilities.ParamSeason) {
		params.Set("season", strconv.Itoa(c.Season))
	}
	if c.Episode != "" && caps.Supports(types.ModeTV, capabilities.ParamEp) {
		params.Set("ep", c.Episode)
	}
}

func (g *NewznabGenerator) addModeFields(params url.Values, caps *capabilities.Capabilities, c *types.SearchCriteria) {
	set := func(p capabilities.Param, v string) {
		if v != "" && caps.Supports(c.Mode, p) {
			params.Set(string(p), v)
		}
	}
	if c.Year > 0 {
		set(capabilities.ParamYear, strconv.Itoa(c.Year))
	}
	set(capabilities.ParamGenre, c.Genre)
	set(capabilities.ParamArtist, c.Artist)
	set(capabilities.ParamAlbum, c.Album)
	set(capabilities.ParamLabel, c.Label)
	set(capabilities.ParamTrack, c.Track)
	set(capabilities.ParamAuthor, c.Author)
	set(capabilities.ParamTitle, c.Title)
	set(capabilities.ParamPublisher, c.Publisher)
}

func (g *NewznabGenerator) batch(endpoint string, params, extra url.Values, canonical []int, offset, maxPages int) Batch {
	params.Set("extended", "1")
	if g.APIKey != "" {
		params.Set("apikey", g.APIKey)
	}
	if cats := g.nativeCategories(canonical); len(cats) > 0 {
		params.Set("cat", strings.Join(cats, ","))
	}
	for k, vs := range extra {
		params[k] = vs
	}

	pageSize := g.caps().PageSize()
	return Pages(offset, pageSize, maxPages, func(off, limit int) *IndexerRequest {
		q := make(url.Values, len(params)+2)
		for k, vs := range params {
			q[k] = vs
		}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(off))
		req := &IndexerRequest{
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s?%s", endpoint, q.Encode()),
			Header: http.Header{},
		}
		req.SetCookies(g.Cookies)
		return req
	})
}

func (g *NewznabGenerator) nativeCategories(canonical []int) []string {
	if len(g.Categories) > 0 {
		return g.Categories
	}
	if len(canonical) == 0 || g.caps().Categories == nil {
		return nil
	}
	return g.caps().Categories.ToNativeAll(canonical)
}

func textQuery(fn, term string) url.Values {
	params := url.Values{"t": {fn}}
	if term != "" {
		params.Set("q", term)
	}
	return params
}

func joinTerm(term, token string) string {
	return strings.TrimSpace(term + " " + token)
}

// Newznab expects imdb ids without the tt prefix.
func idParamValue(p capabilities.Param, v string) string {
	if p == capabilities.ParamImdbID {
		return strings.TrimPrefix(v, "tt")
	}
	return v
}
