package cardigann

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// errFieldMissing marks a required field that produced no value.
var errFieldMissing = errors.New("required field missing")

// ResponseParser extracts releases from search responses using the
// definition's rows and fields.
type ResponseParser struct {
	IndexerID       int64
	IndexerName     string
	IndexerPriority int
	Protocol        types.Protocol
	BaseURL         string
	Categories      *category.Mapper
	SizePolicy      parser.SizePolicy
	DayFirst        bool // numeric dates put the day first
	Logger          zerolog.Logger

	def    *Definition
	engine *TemplateEngine
	config map[string]string
	now    func() time.Time
}

var _ parser.Parser = (*ResponseParser)(nil)

// NewResponseParser creates a parser for def.
func NewResponseParser(def *Definition, engine *TemplateEngine, config map[string]string) *ResponseParser {
	return &ResponseParser{
		Protocol:   def.GetProtocol(),
		BaseURL:    def.GetBaseURL(),
		Categories: def.Capabilities().Categories,
		DayFirst:   parser.DayFirstLocale(def.Language),
		Logger:     zerolog.Nop(),
		def:        def,
		engine:     engine,
		config:     config,
		now:        time.Now,
	}
}

// Parse implements parser.Parser.
func (p *ResponseParser) Parse(resp *parser.IndexerResponse) ([]types.Release, error) {
	if err := parser.CheckStatus(resp); err != nil {
		return nil, err
	}

	responseType, noResults := "", ""
	if resp.Request != nil && resp.Request.Meta != nil {
		responseType = resp.Request.Meta[metaResponseType]
		noResults = resp.Request.Meta[metaNoResults]
	}

	body := resp.Text()
	if noResults != "" && strings.Contains(body, noResults) {
		return nil, nil
	}

	if len(p.def.Search.PreprocessingFilters) > 0 {
		processed, err := ApplyFilters(body, p.def.Search.PreprocessingFilters)
		if err != nil {
			return nil, types.NewParseError("preprocessing filters failed", err)
		}
		body = processed
	}

	doc, err := ParseDocument(responseType, body)
	if err != nil {
		return nil, err
	}
	if msg, ok := matchErrors(doc, body, p.def.Search.Error); ok {
		return nil, types.NewSearchError(msg)
	}

	rows, err := doc.Rows(p.def.Search.Rows)
	if err != nil {
		return nil, err
	}

	releases := make([]types.Release, 0, len(rows))
	for i, row := range rows {
		r, err := p.parseRow(row)
		if err != nil {
			p.Logger.Debug().Err(err).Int("row", i).Msg("Skipping row")
			continue
		}
		if !p.SizePolicy.Apply(r.Info()) {
			p.Logger.Debug().Str("title", r.Info().Title).Msg("Dropping row without size")
			continue
		}
		releases = append(releases, r)
	}
	return releases, nil
}

func (p *ResponseParser) parseRow(row Row) (types.Release, error) {
	tctx := NewTemplateContext()
	tctx.Config = p.config
	tctx.Dates = p.dateOptions()

	for _, nf := range p.def.Search.Fields {
		name, modifier, _ := strings.Cut(nf.Name, "|")
		value, err := p.extractField(row, nf.Field, tctx)
		if errors.Is(err, errFieldMissing) {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if err != nil {
			if nf.Field.Optional {
				continue
			}
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if modifier == "append" {
			value = tctx.Result[name] + value
		}
		tctx.Result[name] = value
	}

	if tctx.Result["date"] == "" && p.def.Search.Rows.DateHeaders != nil {
		h := p.def.Search.Rows.DateHeaders
		if text := row.DateHeader(h); text != "" {
			date, err := ApplyFiltersWithContext(text, h.Filters, p.engine, tctx)
			if err == nil {
				tctx.Result["date"] = date
			}
		}
	}

	return p.buildRelease(tctx.Result)
}

// extractField resolves one field against a row: a static or templated
// text, a case block, or a selector followed by filters.
func (p *ResponseParser) extractField(row Row, f Field, tctx *TemplateContext) (string, error) {
	fallback := func() (string, error) {
		if f.Default != "" {
			return p.engine.Evaluate(f.Default, tctx)
		}
		if f.Optional {
			return "", nil
		}
		return "", errFieldMissing
	}

	var value string
	switch {
	case f.Text != "":
		v, err := p.engine.Evaluate(f.Text, tctx)
		if err != nil {
			return "", err
		}
		value = v
	default:
		node, ok := row.Select(f.Selector)
		if !ok {
			return fallback()
		}
		if len(f.Case) > 0 {
			v, matched := matchCase(node, f.Case)
			if !matched {
				return fallback()
			}
			value = v
			break
		}
		v, ok := node.Text(f.Attribute, f.Remove)
		if !ok {
			return fallback()
		}
		value = v
	}

	filtered, err := ApplyFiltersWithContext(value, f.Filters, p.engine, tctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(filtered) == "" && f.Default != "" {
		return fallback()
	}
	return filtered, nil
}

// matchCase returns the value of the first entry whose key matches node,
// with "*" as the catch-all.
func matchCase(node Node, cases CaseList) (string, bool) {
	text, _ := node.Text("", "")
	for _, c := range cases {
		if c.Match == "*" {
			continue
		}
		if node.Matches(c.Match, text) {
			return c.Value, true
		}
	}
	for _, c := range cases {
		if c.Match == "*" {
			return c.Value, true
		}
	}
	return "", false
}

func (p *ResponseParser) buildRelease(res map[string]string) (types.Release, error) {
	title := strings.TrimSpace(res["title"])
	if title == "" {
		return nil, fmt.Errorf("empty title")
	}

	info := types.ReleaseInfo{
		Title:           title,
		Description:     res["description"],
		IndexerID:       p.IndexerID,
		IndexerName:     p.IndexerName,
		IndexerPriority: p.IndexerPriority,
		Protocol:        p.Protocol,
	}
	info.DownloadURL = p.absolute(res["download"])
	info.InfoURL = p.absolute(res["details"])
	info.CommentsURL = p.absolute(firstNonEmpty(res["comments"], res["details"]))
	info.Size = parser.ParseSizeOr(res["size"], 0)
	info.PublishDate = p.parseDate(res["date"])
	info.Grabs, _ = parser.ParseInt(res["grabs"])
	info.Files, _ = parser.ParseInt(res["files"])
	info.ImdbID = parseImdbValue(firstNonEmpty(res["imdbid"], res["imdb"]))
	info.TmdbID, _ = parser.ParseInt(res["tmdbid"])
	info.TvdbID, _ = parser.ParseInt(res["tvdbid"])
	info.TvMazeID, _ = parser.ParseInt(res["tvmazeid"])
	info.Categories = p.mapCategories(res["category"], res["categorydesc"])

	if p.Protocol != types.ProtocolTorrent {
		if info.DownloadURL == "" {
			return nil, fmt.Errorf("missing download url")
		}
		if info.GUID = p.absolute(res["guid"]); info.GUID == "" {
			info.GUID = firstNonEmpty(info.InfoURL, info.DownloadURL)
		}
		return &info, nil
	}

	t := types.NewTorrentInfo()
	t.ReleaseInfo = info
	t.Protocol = types.ProtocolTorrent
	t.Seeders, _ = parser.ParseInt(res["seeders"])
	if peers, err := parser.ParseInt(res["peers"]); err == nil {
		t.Peers = peers
	} else if leechers, err := parser.ParseInt(res["leechers"]); err == nil {
		t.Peers = t.Seeders + leechers
	}
	t.InfoHash = strings.ToLower(strings.TrimSpace(res["infohash"]))
	t.MagnetURL = strings.TrimSpace(res["magnet"])
	if t.MagnetURL == "" && t.InfoHash != "" {
		t.MagnetURL = magnetURI(t.InfoHash, title)
	}
	if v, err := parser.ParseFloat(res["downloadvolumefactor"]); err == nil {
		t.DownloadVolumeFactor = v
	}
	if v, err := parser.ParseFloat(res["uploadvolumefactor"]); err == nil {
		t.UploadVolumeFactor = v
	}
	if v, err := parser.ParseFloat(res["minimumratio"]); err == nil {
		t.MinimumRatio = v
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(res["minimumseedtime"]), 10, 64); err == nil {
		t.MinimumSeedTime = v
	}
	t.ApplyVolumeFlags()

	if t.DownloadURL == "" {
		t.DownloadURL = t.MagnetURL
	}
	if t.DownloadURL == "" {
		return nil, fmt.Errorf("missing download url")
	}
	if t.GUID = p.absolute(res["guid"]); t.GUID == "" {
		t.GUID = firstNonEmpty(t.InfoURL, t.DownloadURL, t.InfoHash)
	}
	return t, nil
}

func (p *ResponseParser) dateOptions() parser.DateOptions {
	return parser.DateOptions{DayFirst: p.DayFirst, Now: p.now()}
}

// parseDate accepts the RFC3339 output of the date filters and falls back
// to the general date parser. Unparseable dates become now.
func (p *ResponseParser) parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return p.now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := parser.ParseDate(s, p.dateOptions()); err == nil {
		return t
	}
	if t, ok := parser.ParseRelative(s, p.now()); ok {
		return t
	}
	return p.now().UTC()
}

func (p *ResponseParser) mapCategories(native, desc string) []int {
	var out []int
	add := func(ids []int) {
		for _, id := range ids {
			out = appendUnique(out, id)
		}
	}
	for _, n := range strings.Split(native, ",") {
		if n = strings.TrimSpace(n); n != "" && p.Categories != nil {
			add(p.Categories.ToCanonical(n))
		}
	}
	if desc = strings.TrimSpace(desc); desc != "" && p.Categories != nil {
		add(p.Categories.ToCanonicalByDesc(desc))
	}
	if len(out) > 1 {
		out = slices.DeleteFunc(out, func(id int) bool { return id == category.Other })
	}
	if len(out) == 0 {
		out = []int{category.Other}
	}
	return out
}

func (p *ResponseParser) absolute(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "magnet:") {
		return ref
	}
	return resolveURL(p.BaseURL, ref)
}

func appendUnique(list []int, id int) []int {
	if slices.Contains(list, id) {
		return list
	}
	return append(list, id)
}

func parseImdbValue(s string) int {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tt")
	n, _ := strconv.Atoi(s)
	return n
}

func magnetURI(infoHash, title string) string {
	return "magnet:?xt=urn:btih:" + infoHash + "&dn=" + queryEscape(title)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
