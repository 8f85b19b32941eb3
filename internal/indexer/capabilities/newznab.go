package capabilities

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/slipstream/searchd/internal/indexer/category"
)

type capsDocument struct {
	XMLName xml.Name `xml:"caps"`
	Limits  struct {
		Default string `xml:"default,attr"`
		Max     string `xml:"max,attr"`
	} `xml:"limits"`
	Searching struct {
		Search      capsSearch `xml:"search"`
		TvSearch    capsSearch `xml:"tv-search"`
		MovieSearch capsSearch `xml:"movie-search"`
		MusicSearch capsSearch `xml:"music-search"`
		AudioSearch capsSearch `xml:"audio-search"`
		BookSearch  capsSearch `xml:"book-search"`
	} `xml:"searching"`
	Categories []capsCategory `xml:"categories>category"`
}

type capsSearch struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type capsCategory struct {
	ID      string         `xml:"id,attr"`
	Name    string         `xml:"name,attr"`
	Subcats []capsCategory `xml:"subcat"`
}

func (s capsSearch) params() []Param {
	if !strings.EqualFold(s.Available, "yes") {
		return nil
	}
	if s.SupportedParams == "" {
		return []Param{ParamQ}
	}
	return ParseParams(strings.Split(s.SupportedParams, ","))
}

// ParseNewznabCaps decodes a Newznab/Torznab caps document.
func ParseNewznabCaps(r io.Reader) (*Capabilities, error) {
	var doc capsDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode caps: %w", err)
	}

	caps := New()
	caps.SearchParams = doc.Searching.Search.params()
	caps.TvSearchParams = doc.Searching.TvSearch.params()
	caps.MovieSearchParams = doc.Searching.MovieSearch.params()
	caps.MusicSearchParams = doc.Searching.MusicSearch.params()
	if len(caps.MusicSearchParams) == 0 {
		caps.MusicSearchParams = doc.Searching.AudioSearch.params()
	}
	caps.BookSearchParams = doc.Searching.BookSearch.params()
	if len(caps.SearchParams) == 0 {
		caps.SearchParams = []Param{ParamQ}
	}

	if v, err := strconv.Atoi(doc.Limits.Default); err == nil {
		caps.LimitsDefault = v
	}
	if v, err := strconv.Atoi(doc.Limits.Max); err == nil {
		caps.LimitsMax = v
	}

	for _, c := range doc.Categories {
		addCapsCategory(caps.Categories, c)
		for _, s := range c.Subcats {
			addCapsCategory(caps.Categories, s)
		}
	}
	return caps, nil
}

// Newznab ids are canonical when they fall inside the standard tree;
// site-specific ids (usually 100000+) map by name or to their parent.
func addCapsCategory(m *category.Mapper, c capsCategory) {
	id, err := strconv.Atoi(c.ID)
	if err != nil {
		return
	}
	if _, ok := category.Find(id); ok {
		m.Add(c.ID, id, c.Name)
		return
	}
	if known, ok := category.FindByName(c.Name); ok {
		m.Add(c.ID, known.ID, c.Name)
		return
	}
	if id >= 100000 {
		if _, ok := category.Find(category.Parent(id % 100000)); ok {
			m.Add(c.ID, category.Parent(id%100000), c.Name)
			return
		}
	}
	m.Add(c.ID, category.Other, c.Name)
}
