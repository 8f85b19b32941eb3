package cardigann

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/settings"
	"github.com/slipstream/searchd/internal/indexer/types"
)

const htmlDefinition = `
id: testtracker
name: Test Tracker
description: A tracker used in tests
language: en-US
type: private
encoding: UTF-8
requestDelay: 1.5
links:
  - https://tracker.test/
caps:
  categorymappings:
    - {id: 1, cat: Movies/HD, desc: "Movies HD", default: true}
    - {id: 2, cat: TV/HD, desc: "TV HD"}
    - {id: 9, cat: Audio, desc: "Music"}
  modes:
    search: [q]
    tv-search: [q, season, ep, imdbid]
    movie-search: [q, imdbid]
settings:
  - {name: username, type: text, label: Username}
  - {name: password, type: password, label: Password}
  - {name: freeleech, type: checkbox, label: Freeleech only, default: "false"}
login:
  path: login.php
  method: post
  inputs:
    username: "{{ .Config.username }}"
    password: "{{ .Config.password }}"
  error:
    - selector: div.error
  test:
    path: index.php
    selector: a[href*="logout.php"]
search:
  paths:
    - path: browse.php
      categories: [1, 9]
    - path: tv.php
      categories: [2]
  inputs:
    search: "{{ .Keywords }}"
    "$raw": "{{ range .Categories }}c{{.}}=1&{{end}}"
  rows:
    selector: table#torrents > tbody > tr
  fields:
    category:
      selector: td.cat a
      attribute: href
      filters:
        - name: querystring
          args: cat
    title:
      selector: td.name a
    details:
      selector: td.name a
      attribute: href
    download:
      selector: td.dl a
      attribute: href
    size:
      selector: td.size
    seeders:
      selector: td.seeders
    leechers:
      selector: td.leechers
    date:
      selector: td.added
      filters:
        - name: dateparse
          args: "2006-01-02 15:04"
    downloadvolumefactor:
      case:
        span.freeleech: 0
        "*": 1
    uploadvolumefactor:
      text: 1
`

func mustParse(t *testing.T, yaml string) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(yaml))
	require.NoError(t, err)
	return def
}

func TestParseDefinition(t *testing.T) {
	def := mustParse(t, htmlDefinition)

	assert.Equal(t, "testtracker", def.ID)
	assert.Equal(t, "https://tracker.test/", def.GetBaseURL())
	assert.Equal(t, types.ProtocolTorrent, def.GetProtocol())
	assert.Equal(t, types.PrivacyPrivate, def.GetPrivacy())
	assert.True(t, def.HasLogin())
	assert.InDelta(t, 1.5, def.RequestDelay, 0.001)
	assert.Len(t, def.SearchPaths(), 2)

	var names []string
	for _, f := range def.Search.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"category", "title", "details", "download", "size", "seeders", "leechers", "date", "downloadvolumefactor", "uploadvolumefactor"}, names, "field order is preserved")

	f, ok := def.Search.Fields.Get("downloadvolumefactor")
	require.True(t, ok)
	assert.Equal(t, CaseList{{Match: "span.freeleech", Value: "0"}, {Match: "*", Value: "1"}}, f.Case)
}

func TestParseDefinition_InvalidYAML(t *testing.T) {
	_, err := ParseDefinition([]byte("id: [unterminated"))
	require.Error(t, err)
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Definition) {},
		},
		{
			name:    "missing id",
			mutate:  func(d *Definition) { d.ID = "" },
			wantErr: "id is required",
		},
		{
			name:    "missing links",
			mutate:  func(d *Definition) { d.Links = nil },
			wantErr: "at least one link",
		},
		{
			name: "missing categories",
			mutate: func(d *Definition) {
				d.Caps.CategoryMappings = nil
				d.Caps.Categories = nil
			},
			wantErr: "caps.categorymappings",
		},
		{
			name:    "missing search paths",
			mutate:  func(d *Definition) { d.Search.Paths = nil },
			wantErr: "search.paths",
		},
		{
			name:    "missing rows selector",
			mutate:  func(d *Definition) { d.Search.Rows.Selector = "" },
			wantErr: "rows.selector",
		},
		{
			name: "missing title",
			mutate: func(d *Definition) {
				d.Search.Fields = removeField(d.Search.Fields, "title")
			},
			wantErr: "fields.title",
		},
		{
			name: "missing download",
			mutate: func(d *Definition) {
				d.Search.Fields = removeField(d.Search.Fields, "download")
			},
			wantErr: "download, magnet or infohash",
		},
		{
			name: "infohash replaces download",
			mutate: func(d *Definition) {
				d.Search.Fields = append(removeField(d.Search.Fields, "download"), NamedField{Name: "infohash", Field: Field{Selector: "td.hash"}})
			},
		},
		{
			name:    "unsupported login method",
			mutate:  func(d *Definition) { d.Login.Method = "captcha" },
			wantErr: "unsupported login method",
		},
		{
			name: "token login without selector",
			mutate: func(d *Definition) {
				d.Login.Method = "token"
				d.Login.Token = nil
			},
			wantErr: "login.token.selector",
		},
		{
			name: "unknown filter",
			mutate: func(d *Definition) {
				d.Search.Fields[0].Field.Filters = append(d.Search.Fields[0].Field.Filters, Filter{Name: "frobnicate"})
			},
			wantErr: `unknown filter "frobnicate"`,
		},
		{
			name: "unsupported response type",
			mutate: func(d *Definition) {
				d.Search.Paths[0].Response = &ResponseConfig{Type: "yaml"}
			},
			wantErr: `unsupported response type "yaml"`,
		},
		{
			name: "jsonrpc without method",
			mutate: func(d *Definition) {
				d.Search.Paths[0].Method = "jsonrpc"
			},
			wantErr: "without rpcmethod",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := mustParse(t, htmlDefinition)
			tt.mutate(def)
			err := def.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, types.KindConfiguration, types.KindOf(err))
		})
	}
}

func TestDefinition_ValidateReportsAllProblems(t *testing.T) {
	def := &Definition{}
	err := def.Validate()
	require.Error(t, err)
	for _, want := range []string{"id is required", "name is required", "search.paths", "fields.title"} {
		assert.Contains(t, err.Error(), want)
	}
}

func removeField(list FieldList, name string) FieldList {
	out := make(FieldList, 0, len(list))
	for _, f := range list {
		if f.Name != name {
			out = append(out, f)
		}
	}
	return out
}

func TestDefinition_Capabilities(t *testing.T) {
	caps := mustParse(t, htmlDefinition).Capabilities()

	assert.True(t, caps.SupportsMode(types.ModeBasic))
	assert.True(t, caps.Supports(types.ModeTV, capabilities.ParamSeason))
	assert.True(t, caps.Supports(types.ModeMovie, capabilities.ParamImdbID))
	assert.False(t, caps.SupportsMode(types.ModeMusic))
	assert.Equal(t, 100, caps.PageSize())

	assert.Equal(t, []int{category.MoviesHD}, caps.Categories.ToCanonical("1"))
	assert.ElementsMatch(t, []string{"1"}, caps.Categories.ToNative(category.Movies))
	assert.Equal(t, []string{"1"}, caps.Categories.Defaults())
}

func TestDefinition_SettingsSchema(t *testing.T) {
	schema := mustParse(t, htmlDefinition).SettingsSchema()

	byName := map[string]settings.Field{}
	for _, f := range schema {
		byName[f.Name] = f
	}

	require.Contains(t, byName, "sitelink")
	assert.Equal(t, "https://tracker.test/", byName["sitelink"].Default)
	assert.True(t, byName["username"].Required, "referenced by the login inputs")
	assert.True(t, byName["password"].Required)
	assert.Equal(t, settings.FieldPassword, byName["password"].Type)
	assert.False(t, byName["freeleech"].Required)
	assert.Equal(t, settings.FieldCheckbox, byName["freeleech"].Type)

	_, err := schema.Resolve(map[string]string{"username": "alice"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "password"))
}
