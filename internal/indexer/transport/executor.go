// Package transport executes indexer requests over HTTP with a per-indexer
// cookie jar, the interceptor chain, charset decoding and bounded retry.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/encoding"

	"github.com/slipstream/searchd/internal/indexer/interceptor"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// DefaultUserAgent is sent when neither the config nor the request sets one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config holds HTTP settings shared by all indexers.
type Config struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodySize    int64         `mapstructure:"max_body_size"`
	Retries        uint64        `mapstructure:"retries"`       // extra attempts for transient failures
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"` // base of the exponential backoff
}

// DefaultConfig returns the default HTTP configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:      DefaultUserAgent,
		RequestTimeout: 30 * time.Second,
		MaxBodySize:    interceptor.DefaultMaxBodySize,
		Retries:        2,
		RetryBackoff:   500 * time.Millisecond,
	}
}

// Options binds an executor to one indexer.
type Options struct {
	Indexer  *types.IndexerDefinition
	Limiter  interceptor.Deferrer // receives 429 feedback; optional
	Solver   *interceptor.Solver  // optional
	Encoding string               // forced response charset, e.g. "windows-1251"
	Base     http.RoundTripper    // defaults to a clone of http.DefaultTransport
}

// errServerStatus marks a 5xx response that may be retried.
var errServerStatus = errors.New("server error status")

// Executor performs indexer requests. It is safe for concurrent use.
type Executor struct {
	cfg      Config
	client   *http.Client
	jar      http.CookieJar
	encoding encoding.Encoding
	logger   zerolog.Logger
}

// New creates an executor for one indexer.
func New(cfg Config, opts Options, logger zerolog.Logger) (*Executor, error) {
	defaults := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaults.MaxBodySize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	var enc encoding.Encoding
	if opts.Encoding != "" {
		enc, _ = charset.Lookup(opts.Encoding)
		if enc == nil {
			return nil, types.NewConfigError("unknown encoding %q", opts.Encoding)
		}
	}

	base := opts.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}

	chain := interceptor.NewChain(base)
	chain.MaxBodySize = cfg.MaxBodySize
	if opts.Indexer != nil && opts.Limiter != nil {
		chain.Use(interceptor.NewRateLimitObserver(opts.Indexer.ID, opts.Limiter))
	}
	if opts.Indexer != nil && opts.Solver.AppliesTo(opts.Indexer) {
		chain.Use(opts.Solver)
	}
	chain.Use(interceptor.ProtectionDetector{})

	l := logger.With().Str("component", "transport")
	if opts.Indexer != nil {
		l = l.Int64("indexerId", opts.Indexer.ID).Str("indexer", opts.Indexer.Name)
	}

	return &Executor{
		cfg: cfg,
		client: &http.Client{
			Transport: chain,
			Jar:       jar,
			Timeout:   cfg.RequestTimeout,
		},
		jar:      jar,
		encoding: enc,
		logger:   l.Logger(),
	}, nil
}

// Execute performs req. Transient failures and 5xx responses are retried
// with exponential backoff; rate limits and protection are not. A 5xx that
// survives every retry is returned as a response for the parser to judge.
func (e *Executor) Execute(ctx context.Context, req *request.IndexerRequest) (*parser.IndexerResponse, error) {
	backoff := retry.WithMaxRetries(e.cfg.Retries, retry.NewExponential(e.cfg.RetryBackoff))

	var last *parser.IndexerResponse
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := e.do(ctx, req)
		if err != nil {
			if types.KindOf(err) == types.KindTransient {
				e.logger.Debug().Err(err).Str("url", req.URL).Msg("Transient failure, retrying")
				return retry.RetryableError(err)
			}
			return err
		}
		last = resp
		if resp.StatusCode >= 500 && resp.Header.Get("Retry-After") == "" {
			e.logger.Debug().Int("status", resp.StatusCode).Str("url", req.URL).Msg("Server error, retrying")
			return retry.RetryableError(errServerStatus)
		}
		return nil
	})
	if errors.Is(err, errServerStatus) && last != nil {
		return last, nil
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

func (e *Executor) do(ctx context.Context, req *request.IndexerRequest) (*parser.IndexerResponse, error) {
	httpReq, err := req.HTTPRequest(ctx)
	if err != nil {
		return nil, err
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	start := time.Now()
	e.logger.Debug().Str("method", httpReq.Method).Str("url", req.URL).Msg("Sending request")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, e.cfg.MaxBodySize))
	if err != nil {
		return nil, types.NewTransientError("failed to read response", err)
	}

	finalURL := httpReq.URL
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL
	}

	cookies := make(map[string]string)
	for _, c := range e.jar.Cookies(finalURL) {
		cookies[c.Name] = c.Value
	}

	e.logger.Debug().
		Int("status", httpResp.StatusCode).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Str("url", finalURL.String()).
		Msg("Received response")

	return &parser.IndexerResponse{
		Request:    req,
		URL:        finalURL.String(),
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Cookies:    cookies,
		Body:       body,
		Content:    e.decode(body, httpResp.Header.Get("Content-Type")),
	}, nil
}

// classify maps client errors onto indexer error kinds. Context errors pass
// through untouched so callers can tell a deadline from a site failure.
func classify(ctx context.Context, err error) error {
	var indexerErr *types.IndexerError
	if errors.As(err, &indexerErr) {
		return indexerErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return types.NewTransientError("request failed", err)
}

func (e *Executor) decode(body []byte, contentType string) string {
	enc := e.encoding
	if enc == nil {
		var name string
		enc, name, _ = charset.DetermineEncoding(body, contentType)
		if strings.EqualFold(name, "utf-8") {
			return string(body)
		}
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		e.logger.Debug().Err(err).Msg("Failed to decode response charset")
		return string(body)
	}
	return string(decoded)
}

// Cookies returns the jar's cookies for rawURL.
func (e *Executor) Cookies(rawURL string) (map[string]string, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	out := make(map[string]string)
	for _, c := range e.jar.Cookies(req.URL) {
		out[c.Name] = c.Value
	}
	return out, nil
}
