// Package cardigann implements a Cardigann-compatible indexer definition system.
// It parses YAML definition files and drives arbitrary indexer sites from them.
package cardigann

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/settings"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// StringOrArray is a type that can unmarshal from either a string or an array of strings.
// When unmarshaled, it always stores as a single string (joining array elements if needed).
type StringOrArray string

// UnmarshalYAML implements custom YAML unmarshaling for StringOrArray.
func (s *StringOrArray) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = StringOrArray(value.Value)
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := value.Decode(&arr); err != nil {
			return err
		}
		if len(arr) > 0 {
			*s = StringOrArray(strings.Join(arr, ", "))
		}
		return nil
	default:
		return fmt.Errorf("cannot unmarshal %v into StringOrArray", value.Kind)
	}
}

// Definition represents a parsed Cardigann YAML definition file.
// These definitions describe how to interact with a torrent/usenet indexer site.
type Definition struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Language     string   `yaml:"language"`
	Type         string   `yaml:"type"`     // public, private, semi-private
	Encoding     string   `yaml:"encoding"` // UTF-8, windows-1251, ...
	Protocol     string   `yaml:"protocol"` // torrent (default) or usenet
	RequestDelay float64  `yaml:"requestDelay"`
	Links        []string `yaml:"links"`
	LegacyLinks  []string `yaml:"legacylinks"`

	Caps     Caps           `yaml:"caps"`
	Settings []Setting      `yaml:"settings"`
	Login    *LoginBlock    `yaml:"login"`
	Search   SearchBlock    `yaml:"search"`
	Download *DownloadBlock `yaml:"download"`
}

// Caps describes what search modes and categories the indexer supports.
type Caps struct {
	CategoryMappings []CategoryMapping  `yaml:"categorymappings"`
	Categories       map[string]string  `yaml:"categories"` // native id -> canonical name
	Modes            map[string][]string `yaml:"modes"`     // search, tv-search, movie-search -> supported params
	AllowRawSearch   bool               `yaml:"allowrawsearch"`
}

// CategoryMapping maps indexer-specific category IDs to standard Newznab categories.
type CategoryMapping struct {
	ID      string `yaml:"id"`
	Cat     string `yaml:"cat"`  // Newznab category name (e.g., "Movies/HD")
	Desc    string `yaml:"desc"` // Human-readable description
	Default bool   `yaml:"default"`
}

// Setting defines a user-configurable option for the indexer.
type Setting struct {
	Name    string            `yaml:"name" json:"name"`
	Type    string            `yaml:"type" json:"type"` // text, password, checkbox, select, info, info_cookie, info_flaresolverr
	Label   string            `yaml:"label" json:"label"`
	Default string            `yaml:"default" json:"default,omitempty"`
	Options map[string]string `yaml:"options" json:"options,omitempty"` // For select type
}

// LoginBlock defines how to authenticate with the indexer.
type LoginBlock struct {
	Path           string                   `yaml:"path"`
	SubmitPath     string                   `yaml:"submitpath"`
	Method         string                   `yaml:"method"` // post, form, cookie, get, oneurl, token
	Form           string                   `yaml:"form"`   // CSS selector for form element
	Inputs         map[string]string        `yaml:"inputs"`
	SelectorInputs map[string]SelectorDef   `yaml:"selectorinputs"`
	Error          []ErrorSelector          `yaml:"error"`
	Test           TestBlock                `yaml:"test"`
	Captcha        *CaptchaBlock            `yaml:"captcha"`
	Cookies        []string                 `yaml:"cookies"`
	Headers        map[string]StringOrArray `yaml:"headers"`
	Token          *TokenBlock              `yaml:"token"`
}

// SelectorDef defines how to extract a value using a selector. Extracted
// values are kept in the session under the input name.
type SelectorDef struct {
	Selector  string   `yaml:"selector"`
	Attribute string   `yaml:"attribute"`
	Optional  bool     `yaml:"optional"`
	Filters   []Filter `yaml:"filters"`
}

// ErrorSelector defines how to detect and extract error messages. Either
// Selector must match the page or Contains must appear in its text.
type ErrorSelector struct {
	Selector string          `yaml:"selector"`
	Contains string          `yaml:"contains"`
	Message  *TextOrSelector `yaml:"message"`
}

// TextOrSelector can be either static text or a selector definition.
type TextOrSelector struct {
	Text     string `yaml:"text"`
	Selector string `yaml:"selector"`
}

// TestBlock defines how to verify successful authentication.
type TestBlock struct {
	Path     string `yaml:"path"`
	Selector string `yaml:"selector"`
}

// CaptchaBlock defines CAPTCHA handling.
type CaptchaBlock struct {
	Type     string `yaml:"type"` // image, recaptcha, etc.
	Selector string `yaml:"selector"`
	Input    string `yaml:"input"`
	SiteKey  string `yaml:"sitekey"`
}

// TokenBlock configures the token login strategy: the credential exchange
// answers with JSON, the token is read at Selector and sent on every search.
type TokenBlock struct {
	Selector string `yaml:"selector"`
	Header   string `yaml:"header"` // default Authorization
	Prefix   string `yaml:"prefix"` // e.g. "Bearer "
	Variable string `yaml:"variable"`
}

// SearchBlock defines how to execute searches and parse results.
type SearchBlock struct {
	Path                 string                   `yaml:"path"`
	Paths                []SearchPath             `yaml:"paths"`
	Inputs               map[string]string        `yaml:"inputs"`
	KeywordsFilters      []Filter                 `yaml:"keywordsfilters"`
	PreprocessingFilters []Filter                 `yaml:"preprocessingfilters"`
	Headers              map[string]StringOrArray `yaml:"headers"`
	Rows                 RowSelector              `yaml:"rows"`
	Fields               FieldList                `yaml:"fields"`
	Error                []ErrorSelector          `yaml:"error"`
}

// SearchPath defines a search endpoint, optionally restricted to certain categories.
type SearchPath struct {
	Path           string            `yaml:"path"`
	Categories     []string          `yaml:"categories"`
	Inputs         map[string]string `yaml:"inputs"`
	InheritInputs  *bool             `yaml:"inheritinputs"`
	Method         string            `yaml:"method"` // get, post or jsonrpc
	RPCMethod      string            `yaml:"rpcmethod"`
	Response       *ResponseConfig   `yaml:"response"`
	FollowRedirect bool              `yaml:"followredirect"`
}

// inherits reports whether search-level inputs apply to this path.
func (p *SearchPath) inherits() bool {
	return p.InheritInputs == nil || *p.InheritInputs
}

// ResponseConfig specifies the response format.
type ResponseConfig struct {
	Type             string `yaml:"type"` // html (default), xml, json, regex
	NoResultsMessage string `yaml:"noresultsmessage"`
}

// RowSelector defines how to find result rows in the response.
type RowSelector struct {
	Selector    string       `yaml:"selector"`
	Attribute   string       `yaml:"attribute"` // For JSON: extract this nested object from each row
	After       int          `yaml:"after"`     // Skip N rows (e.g., header row)
	Remove      string       `yaml:"remove"`
	Multiple    bool         `yaml:"multiple"`
	DateHeaders *DateHeaders `yaml:"dateheaders"`
	Count       *CountBlock  `yaml:"count"`
}

// DateHeaders handles sites that group results by date with header rows.
type DateHeaders struct {
	Selector string   `yaml:"selector"`
	Filters  []Filter `yaml:"filters"`
}

// CountBlock validates result count.
type CountBlock struct {
	Selector string   `yaml:"selector"`
	Filters  []Filter `yaml:"filters"`
}

// Field defines how to extract a single piece of data from a result row.
type Field struct {
	Selector  string    `yaml:"selector"`
	Attribute string    `yaml:"attribute"` // href, src, value, etc.
	Text      string    `yaml:"text"`      // Static value, may be a template
	Remove    string    `yaml:"remove"`
	Optional  bool      `yaml:"optional"`
	Default   string    `yaml:"default"`
	Filters   []Filter  `yaml:"filters"`
	Case      CaseList  `yaml:"case"`
}

// NamedField is one entry of a FieldList.
type NamedField struct {
	Name  string
	Field Field
}

// FieldList keeps fields in definition order, so later fields may
// reference earlier ones through .Result.
type FieldList []NamedField

// UnmarshalYAML decodes a mapping while preserving key order.
func (l *FieldList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("fields must be a mapping, got %v", value.Kind)
	}
	out := make(FieldList, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var f Field
		if err := value.Content[i+1].Decode(&f); err != nil {
			return fmt.Errorf("field %s: %w", value.Content[i].Value, err)
		}
		out = append(out, NamedField{Name: value.Content[i].Value, Field: f})
	}
	*l = out
	return nil
}

// Get returns the field named name.
func (l FieldList) Get(name string) (Field, bool) {
	for _, f := range l {
		if f.Name == name {
			return f.Field, true
		}
	}
	return Field{}, false
}

// Has reports whether a field named name exists.
func (l FieldList) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// CaseEntry is one selector/value pair of a case block.
type CaseEntry struct {
	Match string
	Value string
}

// CaseList keeps case entries in definition order; the first match wins
// and "*" applies when nothing else matched.
type CaseList []CaseEntry

// UnmarshalYAML decodes a mapping while preserving key order.
func (l *CaseList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("case must be a mapping, got %v", value.Kind)
	}
	out := make(CaseList, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		out = append(out, CaseEntry{Match: value.Content[i].Value, Value: value.Content[i+1].Value})
	}
	*l = out
	return nil
}

// Filter transforms extracted values.
type Filter struct {
	Name string `yaml:"name"`
	Args any    `yaml:"args"` // string, []string, or nil
}

// DownloadBlock defines how to construct download URLs.
type DownloadBlock struct {
	Selectors []DownloadSelector `yaml:"selectors"`
	Before    *BeforeRequest     `yaml:"before"`
	InfoHash  *InfoHashBlock     `yaml:"infohash"`
	Method    string             `yaml:"method"`
}

// DownloadSelector defines a selector for finding download links.
type DownloadSelector struct {
	Selector  string   `yaml:"selector"`
	Attribute string   `yaml:"attribute"`
	Filters   []Filter `yaml:"filters"`
}

// BeforeRequest defines a request to make before downloading.
type BeforeRequest struct {
	Path    string                   `yaml:"path"`
	Method  string                   `yaml:"method"`
	Inputs  map[string]string        `yaml:"inputs"`
	Headers map[string]StringOrArray `yaml:"headers"`
}

// InfoHashBlock defines how to extract magnet link info.
type InfoHashBlock struct {
	Hash  Field `yaml:"hash"`
	Title Field `yaml:"title"`
}

// ParseDefinition parses and validates a Cardigann YAML definition.
// Malformed or incomplete definitions yield a configuration error.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.NewConfigError("failed to parse definition YAML: %v", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

var loginMethods = []string{"", "post", "form", "cookie", "get", "oneurl", "token"}

// Validate checks the keys every usable definition must carry.
func (d *Definition) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, types.NewConfigError(format, args...))
	}

	if d.ID == "" {
		fail("definition: id is required")
	}
	if d.Name == "" {
		fail("definition %s: name is required", d.ID)
	}
	if len(d.Links) == 0 {
		fail("definition %s: at least one link is required", d.ID)
	}
	if len(d.Caps.CategoryMappings) == 0 && len(d.Caps.Categories) == 0 {
		fail("definition %s: caps.categorymappings is required", d.ID)
	}
	if len(d.SearchPaths()) == 0 {
		fail("definition %s: search.paths is required", d.ID)
	}
	if d.Search.Rows.Selector == "" {
		fail("definition %s: search.rows.selector is required", d.ID)
	}
	if !d.Search.Fields.Has("title") {
		fail("definition %s: search.fields.title is required", d.ID)
	}
	if !d.Search.Fields.Has("download") && !d.Search.Fields.Has("magnet") && !d.Search.Fields.Has("infohash") {
		fail("definition %s: one of search.fields download, magnet or infohash is required", d.ID)
	}
	if d.Login != nil && !containsFold(loginMethods, d.Login.Method) {
		fail("definition %s: unsupported login method %q", d.ID, d.Login.Method)
	}
	if d.Login != nil && strings.EqualFold(d.Login.Method, "token") && (d.Login.Token == nil || d.Login.Token.Selector == "") {
		fail("definition %s: login.token.selector is required for token login", d.ID)
	}
	for _, nf := range d.Search.Fields {
		for _, f := range nf.Field.Filters {
			if !isFilter(f.Name) {
				fail("definition %s: field %s uses unknown filter %q", d.ID, nf.Name, f.Name)
			}
		}
	}
	for _, p := range d.SearchPaths() {
		if p.Response != nil && p.Response.Type != "" && !containsFold([]string{"html", "xml", "json", "regex"}, p.Response.Type) {
			fail("definition %s: unsupported response type %q", d.ID, p.Response.Type)
		}
		if strings.EqualFold(p.Method, "jsonrpc") && p.RPCMethod == "" {
			fail("definition %s: path %s uses jsonrpc without rpcmethod", d.ID, p.Path)
		}
	}

	return errors.Join(errs...)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// SearchPaths returns the declared search paths, treating a lone
// search.path as a single GET path.
func (d *Definition) SearchPaths() []SearchPath {
	if len(d.Search.Paths) > 0 {
		return d.Search.Paths
	}
	if d.Search.Path != "" {
		return []SearchPath{{Path: d.Search.Path}}
	}
	return nil
}

// GetBaseURL returns the primary URL for this indexer.
func (d *Definition) GetBaseURL() string {
	if len(d.Links) > 0 {
		return d.Links[0]
	}
	return ""
}

// GetProtocol returns the protocol served by the site.
func (d *Definition) GetProtocol() types.Protocol {
	if strings.EqualFold(d.Protocol, string(types.ProtocolUsenet)) {
		return types.ProtocolUsenet
	}
	return types.ProtocolTorrent
}

// GetPrivacy returns the privacy level (public, private, semi-private).
func (d *Definition) GetPrivacy() types.Privacy {
	if d.Type == "" {
		return types.PrivacyPublic
	}
	return types.Privacy(d.Type)
}

// HasLogin returns true if this indexer requires authentication.
func (d *Definition) HasLogin() bool {
	return d.Login != nil && d.Login.Method != ""
}

// SearchUsesSession reports whether search templates read values captured
// at login through .Session.
func (d *Definition) SearchUsesSession() bool {
	if d.Login == nil || len(d.Login.SelectorInputs) == 0 {
		return false
	}
	uses := func(tmpl string) bool { return strings.Contains(tmpl, ".Session") }
	for _, p := range d.SearchPaths() {
		if uses(p.Path) {
			return true
		}
		for _, v := range p.Inputs {
			if uses(v) {
				return true
			}
		}
	}
	for _, v := range d.Search.Inputs {
		if uses(v) {
			return true
		}
	}
	for _, v := range d.Search.Headers {
		if uses(string(v)) {
			return true
		}
	}
	for _, f := range d.Search.KeywordsFilters {
		for _, arg := range normalizeFilterArgs(f.Args) {
			if uses(arg) {
				return true
			}
		}
	}
	return false
}

// SupportsSearch returns true if the indexer supports the given search mode.
func (d *Definition) SupportsSearch(mode string) bool {
	_, ok := d.Caps.Modes[mode]
	return ok
}

// Capabilities converts the caps block into the shared capability model.
func (d *Definition) Capabilities() *capabilities.Capabilities {
	caps := capabilities.New()
	caps.SupportsRawSearch = d.Caps.AllowRawSearch
	caps.LimitsDefault = 100
	caps.LimitsMax = 100

	for mode, params := range d.Caps.Modes {
		parsed := capabilities.ParseParams(params)
		switch types.SearchMode(mode) {
		case types.ModeBasic:
			caps.SearchParams = parsed
		case types.ModeTV:
			caps.TvSearchParams = parsed
		case types.ModeMovie:
			caps.MovieSearchParams = parsed
		case types.ModeMusic:
			caps.MusicSearchParams = parsed
		case types.ModeBook:
			caps.BookSearchParams = parsed
		}
	}

	for _, m := range d.Caps.CategoryMappings {
		caps.Categories.AddMapping(category.Mapping{
			NativeID:    m.ID,
			CanonicalID: canonicalCategory(m.Cat),
			Description: m.Desc,
			Default:     m.Default,
		})
	}
	for id, name := range d.Caps.Categories {
		caps.Categories.Add(id, canonicalCategory(name), name)
	}
	return caps
}

// canonicalCategory resolves a category name such as "Movies/HD" or a
// numeric id, falling back to Other.
func canonicalCategory(name string) int {
	if c, ok := category.FindByName(name); ok {
		return c.ID
	}
	if id, err := strconv.Atoi(strings.TrimSpace(name)); err == nil {
		if _, ok := category.Find(id); ok {
			return id
		}
	}
	return category.Other
}

var configRefRegex = regexp.MustCompile(`\.Config\.([A-Za-z0-9_]+)`)

// SettingsSchema returns the settings field descriptors for this
// definition. sitelink is always present; settings referenced by the
// login block are required.
func (d *Definition) SettingsSchema() settings.Schema {
	required := map[string]bool{}
	if d.Login != nil {
		var refs []string
		for _, v := range d.Login.Inputs {
			refs = append(refs, v)
		}
		for _, v := range d.Login.Headers {
			refs = append(refs, string(v))
		}
		for _, r := range refs {
			for _, m := range configRefRegex.FindAllStringSubmatch(r, -1) {
				required[m[1]] = true
			}
		}
	}

	schema := settings.Schema{{Name: "sitelink", Label: "Site Link", Type: settings.FieldText, Default: d.GetBaseURL()}}
	for _, s := range d.Settings {
		if s.Name == "sitelink" {
			continue
		}
		f := settings.Field{Name: s.Name, Label: s.Label, Default: s.Default, Options: s.Options}
		switch s.Type {
		case "password":
			f.Type = settings.FieldPassword
		case "checkbox":
			f.Type = settings.FieldCheckbox
		case "select":
			f.Type = settings.FieldSelect
		case "captcha":
			f.Type = settings.FieldCaptcha
		case "text", "":
			f.Type = settings.FieldText
		default:
			f.Type = settings.FieldInfo
		}
		f.Required = required[s.Name] && (f.Type == settings.FieldText || f.Type == settings.FieldPassword)
		schema = append(schema, f)
	}
	return schema
}
