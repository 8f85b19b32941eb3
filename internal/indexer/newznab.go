package indexer

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/settings"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// newznabAdapter drives Newznab (usenet) and Torznab (torrent) APIs. The
// capabilities document is fetched once before the first search.
type newznabAdapter struct {
	indexer   *types.IndexerDefinition
	values    settings.Values
	exec      Executor
	generator *request.NewznabGenerator
	parser    *parser.NewznabParser
	logger    zerolog.Logger

	mu     sync.Mutex
	caps   *capabilities.Capabilities
	loaded bool
}

func newNewznabAdapter(indexer *types.IndexerDefinition, exec Executor, policy parser.SizePolicy, maxPages int, logger zerolog.Logger) (*newznabAdapter, error) {
	values, err := settings.Newznab.Resolve(indexer.Settings)
	if err != nil {
		return nil, fmt.Errorf("indexer %s: %w", indexer.Name, err)
	}
	baseURL := indexer.BaseURL("")
	if baseURL == "" {
		return nil, types.NewConfigError("indexer %s: base url is required", indexer.Name)
	}

	protocol := indexer.Protocol
	if protocol == "" {
		protocol = types.ProtocolUsenet
		if indexer.Implementation == types.ImplementationTorznab {
			protocol = types.ProtocolTorrent
		}
	}

	caps := capabilities.New()
	var categories []string
	for _, c := range strings.Split(values.String("categories"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}

	l := logger.With().
		Str("component", "newznab").
		Int64("indexerId", indexer.ID).
		Str("indexer", indexer.Name).
		Logger()

	return &newznabAdapter{
		indexer: indexer,
		values:  values,
		exec:    exec,
		generator: &request.NewznabGenerator{
			BaseURL:              baseURL,
			APIPath:              values.String("apiPath"),
			APIKey:               values.String("apiKey"),
			Capabilities:         caps,
			Categories:           categories,
			AdditionalParameters: values.String("additionalParameters"),
			MaxPages:             maxPages,
		},
		parser: &parser.NewznabParser{
			IndexerID:       indexer.ID,
			IndexerName:     indexer.Name,
			IndexerPriority: indexer.Priority,
			Protocol:        protocol,
			Categories:      caps.Categories,
			SizePolicy:      policy,
			DayFirst:        parser.DayFirst(indexer.Settings, indexer.Settings["language"]),
			Logger:          l,
		},
		logger: l,
		caps:   caps,
	}, nil
}

func (a *newznabAdapter) Definition() *types.IndexerDefinition { return a.indexer }

func (a *newznabAdapter) Capabilities() *capabilities.Capabilities {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps
}

func (a *newznabAdapter) RequestGenerator() request.Generator { return a.generator }
func (a *newznabAdapter) ResponseParser() parser.Parser       { return a.parser }
func (a *newznabAdapter) Executor() Executor                  { return a.exec }

// Prepare fetches the caps document. Transient failures keep the default
// capabilities and are retried on the next search; authentication and
// configuration failures are returned.
func (a *newznabAdapter) Prepare(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return nil
	}

	caps, err := a.fetchCaps(ctx)
	if err != nil {
		switch types.KindOf(err) {
		case types.KindAuthentication, types.KindConfiguration:
			return types.Attribute(err, a.indexer.ID, a.indexer.Name)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn().Err(err).Msg("Failed to load capabilities, using defaults")
		return nil
	}

	a.caps = caps
	a.generator.Capabilities = caps
	a.parser.Categories = caps.Categories
	a.loaded = true
	a.logger.Debug().
		Int("categories", caps.Categories.Len()).
		Int("pageSize", caps.PageSize()).
		Msg("Loaded capabilities")
	return nil
}

// Test fetches the caps document.
func (a *newznabAdapter) Test(ctx context.Context) error {
	if _, err := a.fetchCaps(ctx); err != nil {
		return types.Attribute(err, a.indexer.ID, a.indexer.Name)
	}
	return nil
}

func (a *newznabAdapter) fetchCaps(ctx context.Context) (*capabilities.Capabilities, error) {
	endpoint := strings.TrimSuffix(a.generator.BaseURL, "/")
	path := a.generator.APIPath
	if path == "" {
		path = "/api"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	query := url.Values{"t": {"caps"}}
	if key := a.generator.APIKey; key != "" {
		query.Set("apikey", key)
	}
	req, err := request.NewGet(endpoint+path, query)
	if err != nil {
		return nil, err
	}

	resp, err := a.exec.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := parser.CheckStatus(resp); err != nil {
		return nil, err
	}

	caps, err := capabilities.ParseNewznabCaps(bytes.NewReader(resp.Body))
	if err == nil && caps.Categories.Len() > 0 {
		return caps, nil
	}
	// Sites answer a bad key with an <error> document instead of caps.
	if bytes.Contains(resp.Body, []byte("<error")) {
		if _, perr := a.parser.Parse(resp); perr != nil {
			return nil, perr
		}
	}
	if err != nil {
		return nil, types.NewParseError("invalid caps document", err)
	}
	return caps, nil
}
