package cardigann

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/settings"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// TemplateContext provides data available during template evaluation.
type TemplateContext struct {
	Config     map[string]string  // Resolved settings; checkboxes render as "true" or ""
	Query      QueryContext       // Search parameters
	Keywords   string             // Top-level alias for Query.Keywords
	Categories []string           // Native category IDs
	Result     map[string]string  // Previously extracted fields
	Session    map[string]string  // Values captured during login
	Today      TimeContext
	Dates      parser.DateOptions // Date order for the date filters
	True       bool
	False      bool
}

// QueryContext contains search query parameters. Unset values are empty
// strings so templates can test them with if.
type QueryContext struct {
	Type        string // search, tv-search, movie-search, ...
	Q           string // Raw search term
	Keywords    string // Term after keyword filters
	Series      string
	Movie       string
	Year        string
	Season      string
	Ep          string
	Episode     string // Alias for Ep
	IMDBID      string // With "tt" prefix
	IMDBIDShort string // Without "tt" prefix
	TMDBID      string
	TVDBID      string
	TVMazeID    string
	TraktID     string
	DoubanID    string
	Genre       string
	Album       string
	Artist      string
	Label       string
	Track       string
	Author      string
	Title       string
	Publisher   string
	Limit       string
	Offset      string
	Page        string
}

// TimeContext provides date/time information.
type TimeContext struct {
	Year  int
	Month int
	Day   int
}

// TemplateEngine evaluates template expressions in definition strings.
// Compiled templates are cached by source text.
type TemplateEngine struct {
	funcMap template.FuncMap
	cache   sync.Map // string -> *template.Template
}

// NewTemplateEngine creates a new template engine with all built-in functions.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		funcMap: template.FuncMap{
			"join":       funcJoin,
			"re_replace": funcReReplace,
			"replace":    funcReplace,
			"split":      funcSplit,
			"trim":       funcTrim,
			"trimleft":   funcTrimLeft,
			"trimright":  funcTrimRight,
			"tolower":    strings.ToLower,
			"toupper":    strings.ToUpper,
			"prepend":    funcPrepend,
			"append":     funcAppend,
			"default":    funcDefault,
			"urlencode":  queryEscape,
		},
	}
}

// NewTemplateContext creates a context with current time populated.
func NewTemplateContext() *TemplateContext {
	now := time.Now()
	return &TemplateContext{
		Config:     make(map[string]string),
		Categories: []string{},
		Result:     make(map[string]string),
		Session:    make(map[string]string),
		Today: TimeContext{
			Year:  now.Year(),
			Month: int(now.Month()),
			Day:   now.Day(),
		},
		True: true,
	}
}

// ConfigFromSettings exposes resolved settings to templates. Checkbox
// values become "true" or "" so {{ if .Config.x }} behaves.
func ConfigFromSettings(schema settings.Schema, values settings.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, f := range schema {
		if f.Type != settings.FieldCheckbox {
			continue
		}
		if values.Bool(f.Name) {
			out[f.Name] = "true"
		} else {
			out[f.Name] = ""
		}
	}
	return out
}

// QueryFromCriteria fills the query context from search criteria.
func QueryFromCriteria(c *types.SearchCriteria) QueryContext {
	itoa := func(v int) string {
		if v <= 0 {
			return ""
		}
		return strconv.Itoa(v)
	}
	q := QueryContext{
		Type:      string(c.Mode),
		Q:         c.Term,
		Keywords:  c.Term,
		Year:      itoa(c.Year),
		TMDBID:    itoa(c.TmdbID),
		TVDBID:    itoa(c.TvdbID),
		TVMazeID:  itoa(c.TvMazeID),
		TraktID:   itoa(c.TraktID),
		DoubanID:  itoa(c.DoubanID),
		Genre:     c.Genre,
		Album:     c.Album,
		Artist:    c.Artist,
		Label:     c.Label,
		Track:     c.Track,
		Author:    c.Author,
		Title:     c.Title,
		Publisher: c.Publisher,
	}
	if c.Limit > 0 {
		q.Limit = strconv.Itoa(c.Limit)
	}
	q.Offset = strconv.Itoa(c.Offset)
	if imdb := c.NormalizedImdbID(); imdb != "" {
		q.IMDBID = imdb
		q.IMDBIDShort = strings.TrimPrefix(imdb, "tt")
	}
	switch c.Mode {
	case types.ModeTV:
		q.Series = c.Term
		if c.IsDaily() {
			q.Season = strconv.Itoa(c.AirDate.Year())
			q.Ep = c.AirDate.Format("01/02")
		} else {
			q.Season = itoa(c.Season)
			q.Ep = c.Episode
		}
		q.Episode = q.Ep
	case types.ModeMovie:
		q.Movie = c.Term
	}
	return q
}

// Evaluate processes a template string with the given context.
func (e *TemplateEngine) Evaluate(tmplStr string, ctx *TemplateContext) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := e.compile(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("template execute error: %w", err)
	}
	return buf.String(), nil
}

func (e *TemplateEngine) compile(src string) (*template.Template, error) {
	if cached, ok := e.cache.Load(src); ok {
		return cached.(*template.Template), nil
	}
	tmpl, err := template.New("").Funcs(e.funcMap).Option("missingkey=zero").Parse(preprocessTemplate(src))
	if err != nil {
		return nil, types.NewConfigError("template parse error in %q: %v", src, err)
	}
	e.cache.Store(src, tmpl)
	return tmpl, nil
}

// EvaluateAll processes multiple template strings.
func (e *TemplateEngine) EvaluateAll(templates map[string]string, ctx *TemplateContext) (map[string]string, error) {
	result := make(map[string]string, len(templates))
	for key, tmpl := range templates {
		val, err := e.Evaluate(tmpl, ctx)
		if err != nil {
			return nil, fmt.Errorf("error evaluating %s: %w", key, err)
		}
		result[key] = val
	}
	return result, nil
}

var shortcutRegex = regexp.MustCompile(`\.(IMDBID|IMDBIDShort|TMDBID|TVDBID|TVMazeID|TraktID|Season|Ep|Episode|Year|Series|Movie|Album|Artist|Author|Title|Genre|Label|Track|Publisher)\b`)

// preprocessTemplate qualifies bare query shortcuts such as .Season with
// .Query inside actions. Field chains like .Query.Season or .Result.title
// are left alone.
func preprocessTemplate(tmpl string) string {
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			break
		}
		end += start + 2
		b.WriteString(rest[:start])
		b.WriteString(qualifyShortcuts(rest[start:end]))
		rest = rest[end:]
	}
	b.WriteString(rest)
	return b.String()
}

func qualifyShortcuts(action string) string {
	var b strings.Builder
	last := 0
	for _, m := range shortcutRegex.FindAllStringIndex(action, -1) {
		if m[0] > 0 && isChainChar(action[m[0]-1]) {
			continue
		}
		b.WriteString(action[last:m[0]])
		b.WriteString(".Query")
		b.WriteString(action[m[0]:m[1]])
		last = m[1]
	}
	b.WriteString(action[last:])
	return b.String()
}

func isChainChar(c byte) bool {
	return c == '_' || c == '$' || c == ')' || c == ']' ||
		c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Template functions

func funcJoin(arr any, sep string) string {
	switch v := arr.(type) {
	case []string:
		return strings.Join(v, sep)
	case []any:
		strs := make([]string, len(v))
		for i, item := range v {
			strs[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(strs, sep)
	default:
		return fmt.Sprintf("%v", arr)
	}
}

func funcReReplace(input, pattern, replacement string) string {
	re, err := compileRegex(pattern)
	if err != nil {
		return input
	}
	return re.ReplaceAllString(input, expandReplacement(replacement))
}

func funcReplace(input, old, newVal string) string {
	return strings.ReplaceAll(input, old, newVal)
}

func funcSplit(input, sep string) []string {
	return strings.Split(input, sep)
}

func funcTrim(input string, args ...string) string {
	if len(args) > 0 {
		return strings.Trim(input, args[0])
	}
	return strings.TrimSpace(input)
}

func funcTrimLeft(input string, args ...string) string {
	if len(args) > 0 {
		return strings.TrimLeft(input, args[0])
	}
	return strings.TrimLeft(input, " \t\n\r")
}

func funcTrimRight(input string, args ...string) string {
	if len(args) > 0 {
		return strings.TrimRight(input, args[0])
	}
	return strings.TrimRight(input, " \t\n\r")
}

func funcPrepend(input, prefix string) string {
	return prefix + input
}

func funcAppend(input, suffix string) string {
	return input + suffix
}

func funcDefault(value, defaultValue any) any {
	if value == nil || value == "" {
		return defaultValue
	}
	return value
}
