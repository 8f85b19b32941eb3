package cardigann

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/settings"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// Executor performs one request against an indexer site. Login flows and
// the search loop share the same executor so cookies and interceptors apply
// to both.
type Executor interface {
	Execute(ctx context.Context, req *request.IndexerRequest) (*parser.IndexerResponse, error)
}

// CookieStore provides persistent cookie storage for indexer sessions.
type CookieStore interface {
	// GetCookies returns the stored cookies for an indexer, or nil when
	// none exist or they expired.
	GetCookies(ctx context.Context, indexerID int64) (map[string]string, time.Time, error)
	// SaveCookies stores cookies for an indexer until expires.
	SaveCookies(ctx context.Context, indexerID int64, cookies map[string]string, expires time.Time) error
}

// cookieLifetime is how long persisted session cookies are kept.
const cookieLifetime = 30 * 24 * time.Hour

// ClientConfig contains configuration options for creating a new Client.
type ClientConfig struct {
	Definition *Definition
	Indexer    *types.IndexerDefinition
	Executor   Executor
	Cookies    CookieStore // optional
	SizePolicy parser.SizePolicy
	Logger     zerolog.Logger
}

// Client adapts a Cardigann definition to the indexer adapter contract:
// capabilities, a request generator, a response parser and a login
// handler.
type Client struct {
	def     *Definition
	indexer *types.IndexerDefinition
	schema  settings.Schema
	values  settings.Values
	config  map[string]string
	baseURL string

	caps      *capabilities.Capabilities
	engine    *TemplateEngine
	login     *LoginHandler
	generator *RequestGenerator
	parser    *ResponseParser
	cookies   CookieStore
	logger    zerolog.Logger

	restoreOnce sync.Once
}

// NewClient creates a new Cardigann client. Settings are resolved against
// the definition's schema; a missing required setting is a configuration
// error.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Definition == nil {
		return nil, types.NewConfigError("definition is required")
	}
	if cfg.Indexer == nil {
		return nil, types.NewConfigError("indexer %s: indexer definition is required", cfg.Definition.ID)
	}
	if cfg.Executor == nil {
		return nil, types.NewConfigError("indexer %s: executor is required", cfg.Definition.ID)
	}

	def := cfg.Definition
	schema := def.SettingsSchema()
	values, err := schema.Resolve(cfg.Indexer.Settings)
	if err != nil {
		return nil, fmt.Errorf("indexer %s: %w", cfg.Indexer.Name, err)
	}

	baseURL := values.String("sitelink")
	if len(cfg.Indexer.BaseURLs) > 0 {
		baseURL = cfg.Indexer.BaseURL(baseURL)
	}
	if baseURL == "" {
		return nil, types.NewConfigError("indexer %s: definition %s has no base URL", cfg.Indexer.Name, def.ID)
	}

	logger := cfg.Logger.With().
		Str("component", "cardigann").
		Str("definition", def.ID).
		Int64("indexerId", cfg.Indexer.ID).
		Logger()

	engine := NewTemplateEngine()
	config := ConfigFromSettings(schema, values)
	config["sitelink"] = baseURL
	caps := def.Capabilities()

	c := &Client{
		def:     def,
		indexer: cfg.Indexer,
		schema:  schema,
		values:  values,
		config:  config,
		baseURL: baseURL,
		caps:    caps,
		engine:  engine,
		login:   NewLoginHandler(def, cfg.Executor, engine, logger),
		cookies: cfg.Cookies,
		logger:  logger,
	}
	c.generator = NewRequestGenerator(def, engine, caps, baseURL, config, c.login.Session, logger)

	c.parser = NewResponseParser(def, engine, config)
	c.parser.IndexerID = cfg.Indexer.ID
	c.parser.IndexerName = cfg.Indexer.Name
	c.parser.IndexerPriority = cfg.Indexer.Priority
	c.parser.BaseURL = baseURL
	c.parser.SizePolicy = cfg.SizePolicy
	c.parser.DayFirst = parser.DayFirst(cfg.Indexer.Settings, def.Language)
	c.parser.Logger = logger
	return c, nil
}

// Definition returns the configured indexer.
func (c *Client) Definition() *types.IndexerDefinition { return c.indexer }

// Cardigann returns the underlying site definition.
func (c *Client) Cardigann() *Definition { return c.def }

// Capabilities returns the capabilities declared by the definition.
func (c *Client) Capabilities() *capabilities.Capabilities { return c.caps }

// RequestGenerator returns the search request generator.
func (c *Client) RequestGenerator() request.Generator { return c.generator }

// ResponseParser returns the search response parser.
func (c *Client) ResponseParser() parser.Parser { return c.parser }

// Secrets returns the configured values that must never be logged.
func (c *Client) Secrets() []string { return c.schema.Secrets(c.values) }

// Authenticate ensures a valid session exists, logging in when needed.
// Stored cookies are tried before the first login; a fresh login is
// persisted back to the cookie store.
func (c *Client) Authenticate(ctx context.Context) error {
	if !c.def.HasLogin() {
		return nil
	}
	c.restoreOnce.Do(func() { c.restoreCookies(ctx) })

	before := c.login.Session()
	s, err := c.login.Ensure(ctx, c.baseURL, c.config)
	if err != nil {
		return types.Attribute(err, c.indexer.ID, c.indexer.Name)
	}
	if s != before {
		c.logger.Debug().Msg("Authentication successful")
		c.saveCookies(ctx, s)
	}
	return nil
}

// NeedsLogin reports whether resp shows the session was lost.
func (c *Client) NeedsLogin(resp *parser.IndexerResponse) bool {
	return c.def.HasLogin() && c.login.NeedsLogin(resp)
}

// InvalidateSession forces a fresh login on the next Authenticate.
func (c *Client) InvalidateSession() {
	c.login.Invalidate()
}

// Test verifies that the indexer is configured correctly and accessible.
func (c *Client) Test(ctx context.Context) error {
	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	if !c.def.HasLogin() {
		return nil
	}
	if err := c.login.Test(ctx, c.baseURL, c.login.Session()); err != nil {
		return types.Attribute(err, c.indexer.ID, c.indexer.Name)
	}
	c.logger.Info().Msg("Indexer test passed")
	return nil
}

// restoreCookies loads persisted session cookies into the login handler.
func (c *Client) restoreCookies(ctx context.Context) {
	if c.cookies == nil {
		return
	}
	// Only cookies are persisted, so searches that need login values start
	// from a fresh login.
	if c.def.SearchUsesSession() {
		c.logger.Debug().Msg("Search templates use session values, skipping cached cookies")
		return
	}
	cookies, expires, err := c.cookies.GetCookies(ctx, c.indexer.ID)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to load cached cookies")
		return
	}
	if len(cookies) == 0 {
		return
	}
	// A restored session is trusted for one TTL; a logged-out response
	// invalidates it earlier.
	if limit := time.Now().Add(SessionTTL); expires.IsZero() || expires.After(limit) {
		expires = limit
	}
	c.login.Restore(cookies, expires)
	c.logger.Info().Msg("Using cached session cookies")
}

// saveCookies persists current session cookies.
func (c *Client) saveCookies(ctx context.Context, s *Session) {
	if c.cookies == nil || s == nil || len(s.Cookies) == 0 {
		return
	}
	if err := c.cookies.SaveCookies(ctx, c.indexer.ID, s.Cookies, time.Now().Add(cookieLifetime)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to save session cookies")
		return
	}
	c.logger.Debug().Msg("Saved session cookies for future use")
}
