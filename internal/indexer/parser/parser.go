// Package parser converts raw indexer responses into typed releases.
package parser

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// IndexerResponse is a fetched page together with the request that produced it.
type IndexerResponse struct {
	Request    *request.IndexerRequest
	URL        string // final URL after redirects
	StatusCode int
	Header     http.Header
	Cookies    map[string]string // cookies the jar holds for URL after the exchange
	Body       []byte
	Content    string // Body decoded to UTF-8
}

// Text returns the decoded body, falling back to the raw bytes.
func (r *IndexerResponse) Text() string {
	if r.Content != "" {
		return r.Content
	}
	return string(r.Body)
}

// Parser turns a response into releases, in the order they were received.
type Parser interface {
	Parse(resp *IndexerResponse) ([]types.Release, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(resp *IndexerResponse) ([]types.Release, error)

// Parse implements Parser.
func (f ParserFunc) Parse(resp *IndexerResponse) ([]types.Release, error) { return f(resp) }

// CheckStatus validates the HTTP status before parsing. Additional allowed
// codes may be passed for sites that report errors in a 4xx body.
func CheckStatus(resp *IndexerResponse, allowed ...int) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 || slices.Contains(allowed, code) {
		return nil
	}
	switch {
	case code == http.StatusTooManyRequests:
		return types.NewRateLimitError(RetryAfter(resp.Header, time.Now()))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		err := types.NewAuthError("access denied", nil)
		err.StatusCode = code
		return err
	case code >= 500:
		err := types.NewTransientError("server error "+strconv.Itoa(code), nil)
		err.StatusCode = code
		return err
	default:
		return types.NewUnexpectedStatusError(code)
	}
}

// RetryAfter reads a Retry-After header in either seconds or HTTP-date form.
func RetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// SizePolicy decides what happens to rows that never report a size.
type SizePolicy struct {
	AllowZero   bool  `mapstructure:"allow_zero"`   // keep zero-size rows as they are
	DefaultSize int64 `mapstructure:"default_size"` // applied to zero-size rows when AllowZero is false; 0 drops the row
}

// Apply returns false when the release must be dropped.
func (p SizePolicy) Apply(r *types.ReleaseInfo) bool {
	if r.Size > 0 || p.AllowZero {
		return true
	}
	if p.DefaultSize > 0 {
		r.Size = p.DefaultSize
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
