package cardigann

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/slipstream/searchd/internal/indexer/parser"
)

// FilterFunc is a function that transforms a string value.
type FilterFunc func(value string, args []string) (string, error)

// filters is the registry of all available filter functions.
var filters = map[string]FilterFunc{
	// String manipulation
	"replace":    filterReplace,
	"re_replace": filterReReplace,
	"split":      filterSplit,
	"trim":       filterTrim,
	"trimleft":   filterTrimLeft,
	"trimright":  filterTrimRight,
	"prepend":    filterPrepend,
	"append":     filterAppend,
	"tolower":    filterToLower,
	"toupper":    filterToUpper,

	// Relative dates
	"timeago": filterTimeAgo,
	"reltime": filterTimeAgo,

	// URL processing
	"urldecode":   filterURLDecode,
	"urlencode":   filterURLEncode,
	"querystring": filterQueryString,

	// HTML processing
	"htmldecode": filterHTMLDecode,
	"htmlencode": filterHTMLEncode,
	"striptags":  filterStripTags,

	// Regex extraction
	"regexp": filterRegexp,

	// Validation
	"validate": filterValidate,

	// Size parsing
	"size": filterSize,

	// Numeric
	"multiply": filterMultiply,
	"divide":   filterDivide,

	// Debug
	"strdump": filterStrDump,
	"hexdump": filterStrDump,

	// Text extraction
	"diacritics": filterDiacritics,
	"normalize":  filterNormalize,
}

// dateFilterFunc is a filter that also honours the indexer's date order.
type dateFilterFunc func(value string, args []string, opts parser.DateOptions) (string, error)

var dateFilters = map[string]dateFilterFunc{
	"dateparse": filterDateParse,
	"timeparse": filterDateParse,
	"fuzzytime": filterFuzzyTime,
}

// isFilter reports whether name is a known filter.
func isFilter(name string) bool {
	if _, ok := dateFilters[name]; ok {
		return true
	}
	_, ok := filters[name]
	return ok
}

// ApplyFilters applies a sequence of filters to a value.
func ApplyFilters(value string, filterList []Filter) (string, error) {
	return ApplyFiltersWithContext(value, filterList, nil, nil)
}

// ApplyFiltersWithContext applies filters with template evaluation support.
func ApplyFiltersWithContext(value string, filterList []Filter, engine *TemplateEngine, ctx *TemplateContext) (string, error) {
	result := value
	for _, f := range filterList {
		args := normalizeFilterArgs(f.Args)

		if engine != nil && ctx != nil {
			for i, arg := range args {
				if strings.Contains(arg, "{{") {
					evaluated, err := engine.Evaluate(arg, ctx)
					if err != nil {
						return "", fmt.Errorf("filter %s: %w", f.Name, err)
					}
					args[i] = evaluated
				}
			}
		}

		var err error
		if fn, ok := dateFilters[f.Name]; ok {
			var opts parser.DateOptions
			if ctx != nil {
				opts = ctx.Dates
			}
			result, err = fn(result, args, opts)
		} else if fn, ok := filters[f.Name]; ok {
			result, err = fn(result, args)
		} else {
			// Definitions with unknown filters are rejected on load.
			continue
		}
		if err != nil {
			return "", fmt.Errorf("filter %s failed: %w", f.Name, err)
		}
	}
	return result, nil
}

// normalizeFilterArgs converts filter args to []string.
func normalizeFilterArgs(args any) []string {
	if args == nil {
		return nil
	}
	switch v := args.(type) {
	case string:
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		result := make([]string, len(v))
		for i, item := range v {
			result[i] = fmt.Sprintf("%v", item)
		}
		return result
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

var regexCache sync.Map // string -> *regexp.Regexp

// compileRegex compiles pattern once per process.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// expandReplacement rewrites numbered group references ($1) into the
// braced form ("${1}") so a following letter or digit is not read as part
// of a group name. "$$" stays a literal dollar.
func expandReplacement(repl string) string {
	if !strings.Contains(repl, "$") {
		return repl
	}
	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c != '$' || i+1 >= len(repl) {
			b.WriteByte(c)
			continue
		}
		next := repl[i+1]
		switch {
		case next == '$':
			b.WriteString("$$")
			i++
		case next >= '0' && next <= '9':
			j := i + 1
			for j < len(repl) && repl[j] >= '0' && repl[j] <= '9' {
				j++
			}
			b.WriteString("${" + repl[i+1:j] + "}")
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func queryEscape(s string) string {
	return url.QueryEscape(s)
}

// String manipulation filters

func filterReplace(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	return strings.ReplaceAll(value, args[0], args[1]), nil
}

func filterReReplace(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	re, err := compileRegex(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", args[0], err)
	}
	return re.ReplaceAllString(value, expandReplacement(args[1])), nil
}

func filterSplit(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return value, nil
	}
	parts := strings.Split(value, args[0])
	if idx < 0 {
		idx = len(parts) + idx
	}
	if idx >= 0 && idx < len(parts) {
		return parts[idx], nil
	}
	return "", nil
}

func filterTrim(value string, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return strings.Trim(value, args[0]), nil
	}
	return strings.TrimSpace(value), nil
}

func filterTrimLeft(value string, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return strings.TrimLeft(value, args[0]), nil
	}
	return strings.TrimLeft(value, " \t\n\r"), nil
}

func filterTrimRight(value string, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return strings.TrimRight(value, args[0]), nil
	}
	return strings.TrimRight(value, " \t\n\r"), nil
}

func filterPrepend(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	return args[0] + value, nil
}

func filterAppend(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	return value + args[0], nil
}

func filterToLower(value string, _ []string) (string, error) {
	return strings.ToLower(value), nil
}

func filterToUpper(value string, _ []string) (string, error) {
	return strings.ToUpper(value), nil
}

// Date parsing filters

// filterDateParse parses value with the layout in args[0] and renders
// RFC3339 in UTC. Layouts may be written in Go reference form or with
// yyyy/MM/dd style tokens. Values the layout rejects go through the
// general date parser before failing.
func filterDateParse(value string, args []string, opts parser.DateOptions) (string, error) {
	value = strings.TrimSpace(value)
	if len(args) > 0 && args[0] != "" {
		layout := args[0]
		if !isGoLayout(layout) {
			layout = convertDateLayout(layout)
		}
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	t, err := parser.ParseDate(value, opts)
	if err != nil {
		return "", err
	}
	return t.Format(time.RFC3339), nil
}

var goLayoutTokens = []string{"2006", "Jan", "Mon", "15:04", "01/02", "01-02", "02-01", "02.01", "01.02", "-07", "MST"}

func isGoLayout(layout string) bool {
	for _, tok := range goLayoutTokens {
		if strings.Contains(layout, tok) {
			return true
		}
	}
	return false
}

// dateTokens maps yyyy/MM/dd style tokens to Go layout elements, longest first.
var dateTokens = []struct{ from, to string }{
	{"yyyy", "2006"}, {"YYYY", "2006"},
	{"MMMM", "January"}, {"dddd", "Monday"},
	{"MMM", "Jan"}, {"ddd", "Mon"}, {"fff", "000"}, {"zzz", "-07:00"},
	{"yy", "06"}, {"YY", "06"},
	{"MM", "01"}, {"dd", "02"}, {"DD", "02"},
	{"HH", "15"}, {"hh", "03"}, {"mm", "04"}, {"ss", "05"}, {"tt", "PM"},
	{"M", "1"}, {"d", "2"}, {"D", "2"}, {"H", "15"}, {"h", "3"}, {"m", "4"}, {"s", "5"},
}

// convertDateLayout rewrites a yyyy-MM-dd style layout to a Go layout.
func convertDateLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		if format[i] == '\'' {
			end := strings.IndexByte(format[i+1:], '\'')
			if end < 0 {
				b.WriteString(format[i+1:])
				break
			}
			b.WriteString(format[i+1 : i+1+end])
			i += end + 2
			continue
		}
		matched := false
		for _, tok := range dateTokens {
			if strings.HasPrefix(format[i:], tok.from) {
				b.WriteString(tok.to)
				i += len(tok.from)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

func filterTimeAgo(value string, _ []string) (string, error) {
	t, ok := parser.ParseRelative(value, time.Now())
	if !ok {
		return "", fmt.Errorf("not a relative time: %q", value)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func filterFuzzyTime(value string, _ []string, opts parser.DateOptions) (string, error) {
	t, err := parser.ParseDate(value, opts)
	if err != nil {
		return "", err
	}
	return t.Format(time.RFC3339), nil
}

// URL processing filters

func filterURLDecode(value string, _ []string) (string, error) {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value, nil
	}
	return decoded, nil
}

func filterURLEncode(value string, _ []string) (string, error) {
	return url.QueryEscape(value), nil
}

func filterQueryString(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	paramName := args[0]

	if u, err := url.Parse(value); err == nil && u.RawQuery != "" {
		return u.Query().Get(paramName), nil
	}
	if values, err := url.ParseQuery(value); err == nil {
		return values.Get(paramName), nil
	}
	return "", nil
}

// HTML processing filters

func filterHTMLDecode(value string, _ []string) (string, error) {
	return html.UnescapeString(value), nil
}

func filterHTMLEncode(value string, _ []string) (string, error) {
	return html.EscapeString(value), nil
}

var tagRegex = regexp.MustCompile(`<[^>]*>`)

func filterStripTags(value string, _ []string) (string, error) {
	return tagRegex.ReplaceAllString(value, ""), nil
}

// filterRegexp returns the first capture group, or the whole match when
// the pattern has no groups.
func filterRegexp(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	re, err := compileRegex(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", args[0], err)
	}
	matches := re.FindStringSubmatch(value)
	switch {
	case matches == nil:
		return "", nil
	case len(matches) == 1:
		return matches[0], nil
	default:
		return matches[1], nil
	}
}

// filterValidate keeps only the comma or pipe separated words of value
// that appear in the allow list.
func filterValidate(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	split := func(s string) []string {
		return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' })
	}
	allowed := map[string]bool{}
	for _, a := range split(strings.ToLower(args[0])) {
		allowed[strings.TrimSpace(a)] = true
	}
	var kept []string
	for _, v := range split(value) {
		v = strings.TrimSpace(v)
		if allowed[strings.ToLower(v)] {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ","), nil
}

// Size parsing filter - converts human-readable sizes to bytes

func filterSize(value string, _ []string) (string, error) {
	n, err := parser.ParseSize(value)
	if err != nil {
		return "0", nil
	}
	return strconv.FormatInt(n, 10), nil
}

// Numeric filters

func filterMultiply(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	num, err := parser.ParseFloat(value)
	if err != nil {
		return value, nil
	}
	factor, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return value, nil
	}
	return strconv.FormatFloat(num*factor, 'f', -1, 64), nil
}

func filterDivide(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	num, err := parser.ParseFloat(value)
	if err != nil {
		return value, nil
	}
	divisor, err := strconv.ParseFloat(args[0], 64)
	if err != nil || divisor == 0 {
		return value, nil
	}
	return strconv.FormatFloat(num/divisor, 'f', -1, 64), nil
}

// strdump is a debugging aid in definitions and passes values through.
func filterStrDump(value string, _ []string) (string, error) {
	return value, nil
}

// Text processing filters

func filterDiacritics(value string, _ []string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, value)
	if err != nil {
		return value, nil
	}
	return out, nil
}

var spaceRegex = regexp.MustCompile(`\s+`)

func filterNormalize(value string, _ []string) (string, error) {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(value, " ")), nil
}
