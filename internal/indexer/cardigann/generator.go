package cardigann

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// Request meta keys read back by the response parser.
const (
	metaResponseType = "cardigann.response"
	metaNoResults    = "cardigann.noresults"
	metaPath         = "cardigann.path"
)

// RequestGenerator builds search requests from a definition's search block.
// Every search path whose categories match yields one batch; all batches
// share a single tier.
type RequestGenerator struct {
	def     *Definition
	engine  *TemplateEngine
	caps    *capabilities.Capabilities
	baseURL string
	config  map[string]string
	session func() *Session
	logger  zerolog.Logger
}

var _ request.Generator = (*RequestGenerator)(nil)

// NewRequestGenerator creates a generator. session may be nil for
// definitions without a login block.
func NewRequestGenerator(def *Definition, engine *TemplateEngine, caps *capabilities.Capabilities, baseURL string, config map[string]string, session func() *Session, logger zerolog.Logger) *RequestGenerator {
	return &RequestGenerator{
		def:     def,
		engine:  engine,
		caps:    caps,
		baseURL: baseURL,
		config:  config,
		session: session,
		logger:  logger.With().Str("component", "cardigann-generator").Logger(),
	}
}

// GenerateRecent browses the newest releases without a query.
func (g *RequestGenerator) GenerateRecent() (*request.Chain, error) {
	return g.GenerateSearch(types.SearchCriteria{Mode: types.ModeBasic})
}

// GenerateSearch implements request.Generator.
func (g *RequestGenerator) GenerateSearch(criteria types.SearchCriteria) (*request.Chain, error) {
	tctx, err := g.templateContext(&criteria)
	if err != nil {
		return nil, err
	}

	var batches []request.Batch
	for i, path := range g.def.SearchPaths() {
		if !pathMatchesCategories(&path, tctx.Categories, len(criteria.Categories) > 0) {
			continue
		}
		req, err := g.buildRequest(&path, tctx)
		if err != nil {
			return nil, err
		}
		req.Meta[metaPath] = strconv.Itoa(i)
		batches = append(batches, g.batch(req))
	}
	if len(batches) == 0 {
		g.logger.Debug().Ints("categories", criteria.Categories).Msg("No search path matches the requested categories")
	}
	return request.NewChain().AddTier(batches...), nil
}

func (g *RequestGenerator) templateContext(c *types.SearchCriteria) (*TemplateContext, error) {
	tctx := NewTemplateContext()
	tctx.Config = g.config
	tctx.Query = QueryFromCriteria(c)
	if s := g.currentSession(); s != nil {
		tctx.Session = s.Values
	}

	keywords := buildKeywords(c)
	if g.idReplacesKeywords(c) {
		keywords = ""
	}
	if len(g.def.Search.KeywordsFilters) > 0 {
		filtered, err := ApplyFiltersWithContext(keywords, g.def.Search.KeywordsFilters, g.engine, tctx)
		if err != nil {
			return nil, types.NewConfigError("keywordsfilters: %v", err)
		}
		keywords = filtered
	}
	tctx.Keywords = keywords
	tctx.Query.Keywords = keywords

	if len(c.Categories) > 0 {
		tctx.Categories = g.caps.Categories.ToNativeAll(c.Categories)
	}
	return tctx, nil
}

// idReplacesKeywords reports whether a supported external id already
// identifies the movie, making free text redundant.
func (g *RequestGenerator) idReplacesKeywords(c *types.SearchCriteria) bool {
	if c.Mode != types.ModeMovie {
		return false
	}
	_, _, ok := g.caps.PreferredID(c.Mode, c)
	return ok
}

// buildKeywords renders the free-text query: the sanitized term with the
// episode token appended for TV, or the year for movies.
func buildKeywords(c *types.SearchCriteria) string {
	term := capabilities.SanitizeTerm(c.Term)
	if term == "" {
		return ""
	}
	switch c.Mode {
	case types.ModeTV:
		if token := c.EpisodeToken(); token != "" {
			return term + " " + token
		}
	case types.ModeMovie:
		if c.Year > 0 {
			return fmt.Sprintf("%s %d", term, c.Year)
		}
	}
	return term
}

// pathMatchesCategories checks if a search path applies to the requested
// categories. Paths without categories apply to everything.
func pathMatchesCategories(path *SearchPath, native []string, filtered bool) bool {
	if len(path.Categories) == 0 || !filtered {
		return true
	}
	for _, c := range native {
		if slices.Contains(path.Categories, c) {
			return true
		}
	}
	return false
}

func (g *RequestGenerator) buildRequest(path *SearchPath, tctx *TemplateContext) (*request.IndexerRequest, error) {
	p, err := g.engine.Evaluate(path.Path, tctx)
	if err != nil {
		return nil, err
	}
	target := resolveURL(g.baseURL, p)

	inputs := make(map[string]string)
	if path.inherits() {
		for k, v := range g.def.Search.Inputs {
			inputs[k] = v
		}
	}
	for k, v := range path.Inputs {
		inputs[k] = v
	}

	values := url.Values{}
	raw := ""
	for _, key := range sortedKeys(inputs) {
		val, err := g.engine.Evaluate(inputs[key], tctx)
		if err != nil {
			return nil, fmt.Errorf("search input %s: %w", key, err)
		}
		if key == "$raw" {
			raw = val
			continue
		}
		values.Add(key, val)
	}

	var req *request.IndexerRequest
	switch strings.ToLower(path.Method) {
	case "", "get":
		u, err := url.Parse(target)
		if err != nil {
			return nil, types.NewConfigError("invalid search url %q: %v", target, err)
		}
		q := u.Query()
		for k, vs := range values {
			q[k] = append(q[k], vs...)
		}
		u.RawQuery = q.Encode()
		if raw != "" {
			if u.RawQuery != "" {
				u.RawQuery += "&"
			}
			u.RawQuery += strings.TrimPrefix(raw, "&")
		}
		req = &request.IndexerRequest{Method: http.MethodGet, URL: u.String(), Header: http.Header{}}
	case "post":
		req = request.NewPostForm(target, values)
		if raw != "" {
			req.Body = append(req.Body, []byte("&"+strings.TrimPrefix(raw, "&"))...)
		}
	case "jsonrpc":
		params := make(map[string]any, len(values))
		for k := range values {
			params[k] = values.Get(k)
		}
		body, err := request.JSONRPCBody(path.RPCMethod, params, 1)
		if err != nil {
			return nil, types.NewConfigError("json-rpc body: %v", err)
		}
		req = request.NewPostJSON(target, body)
	default:
		return nil, types.NewConfigError("unsupported search method %q", path.Method)
	}

	for key, tmpl := range g.def.Search.Headers {
		val, err := g.engine.Evaluate(string(tmpl), tctx)
		if err != nil {
			return nil, fmt.Errorf("search header %s: %w", key, err)
		}
		req.Header.Set(key, val)
	}

	req.Meta = map[string]string{}
	if path.Response != nil {
		req.Meta[metaResponseType] = strings.ToLower(path.Response.Type)
		req.Meta[metaNoResults] = path.Response.NoResultsMessage
	}
	return req, nil
}

// batch yields req once, with the session current at dispatch time so a
// login that happened after generation is honored.
func (g *RequestGenerator) batch(req *request.IndexerRequest) request.Batch {
	return func(yield func(*request.IndexerRequest) bool) {
		r := req.Clone()
		if s := g.currentSession(); s != nil {
			r.SetCookies(s.Cookies)
			for k, vs := range s.Header {
				r.Header[k] = slices.Clone(vs)
			}
		}
		yield(r)
	}
}

func (g *RequestGenerator) currentSession() *Session {
	if g.session == nil {
		return nil
	}
	return g.session()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
