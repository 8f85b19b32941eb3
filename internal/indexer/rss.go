package indexer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/settings"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// rssAdapter serves a plain RSS/Atom/TorrentPotato feed. Feeds cannot be
// searched, so every criteria maps to the feed itself and the aggregator's
// filters narrow the result.
type rssAdapter struct {
	indexer *types.IndexerDefinition
	feedURL string
	cookies map[string]string
	caps    *capabilities.Capabilities
	exec    Executor
	parser  *parser.FeedParser
}

func newRSSAdapter(indexer *types.IndexerDefinition, exec Executor, policy parser.SizePolicy, logger zerolog.Logger) (*rssAdapter, error) {
	values, err := settings.RSS.Resolve(indexer.Settings)
	if err != nil {
		return nil, fmt.Errorf("indexer %s: %w", indexer.Name, err)
	}

	cookies := make(map[string]string)
	if raw := strings.TrimSpace(values.String("cookie")); raw != "" {
		parsed, err := http.ParseCookie(raw)
		if err != nil {
			return nil, types.NewConfigError("indexer %s: invalid cookie setting: %v", indexer.Name, err)
		}
		for _, c := range parsed {
			cookies[c.Name] = c.Value
		}
	}

	caps := capabilities.New()
	caps.SearchParams = nil

	return &rssAdapter{
		indexer: indexer,
		feedURL: values.String("feedUrl"),
		cookies: cookies,
		caps:    caps,
		exec:    exec,
		parser: &parser.FeedParser{
			IndexerID:       indexer.ID,
			IndexerName:     indexer.Name,
			IndexerPriority: indexer.Priority,
			Categories:      caps.Categories,
			SizePolicy:      policy,
			DayFirst:        parser.DayFirst(indexer.Settings, indexer.Settings["language"]),
			Logger: logger.With().
				Str("component", "rss").
				Int64("indexerId", indexer.ID).
				Logger(),
		},
	}, nil
}

func (a *rssAdapter) Definition() *types.IndexerDefinition     { return a.indexer }
func (a *rssAdapter) Capabilities() *capabilities.Capabilities { return a.caps }
func (a *rssAdapter) RequestGenerator() request.Generator      { return a }
func (a *rssAdapter) ResponseParser() parser.Parser            { return a.parser }
func (a *rssAdapter) Executor() Executor                       { return a.exec }

// GenerateSearch implements request.Generator.
func (a *rssAdapter) GenerateSearch(types.SearchCriteria) (*request.Chain, error) {
	return a.GenerateRecent()
}

// GenerateRecent implements request.Generator.
func (a *rssAdapter) GenerateRecent() (*request.Chain, error) {
	req, err := request.NewGet(a.feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetCookies(a.cookies)
	return request.NewChain().AddTier(request.Single(req)), nil
}

// Test fetches the feed and requires at least one item.
func (a *rssAdapter) Test(ctx context.Context) error {
	chain, err := a.GenerateRecent()
	if err != nil {
		return err
	}
	for _, batch := range chain.Batches() {
		for req := range batch {
			resp, err := a.exec.Execute(ctx, req)
			if err != nil {
				return types.Attribute(err, a.indexer.ID, a.indexer.Name)
			}
			releases, err := a.parser.Parse(resp)
			if err != nil {
				return types.Attribute(err, a.indexer.ID, a.indexer.Name)
			}
			if len(releases) == 0 {
				return types.Attribute(types.NewParseError("feed returned no items", nil), a.indexer.ID, a.indexer.Name)
			}
		}
	}
	return nil
}
