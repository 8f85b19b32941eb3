// Package interceptor wraps indexer HTTP traffic with pre-request and
// post-response hooks: anti-bot detection, challenge solving and rate-limit
// feedback.
package interceptor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultMaxBodySize caps how much of a response the chain buffers.
const DefaultMaxBodySize = 16 << 20

// Response is a fully buffered HTTP response handed to post-response hooks.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL
}

// Interceptor observes or rewrites one exchange. PreRequest must not mutate
// the incoming request; it returns a clone when it needs changes.
// PostResponse may replace the response or fail the exchange.
type Interceptor interface {
	PreRequest(req *http.Request) (*http.Request, error)
	PostResponse(req *http.Request, resp *Response) (*Response, error)
}

// Chain is an http.RoundTripper that runs interceptors around a base
// transport. Pre hooks run in order, post hooks run in order.
type Chain struct {
	base         http.RoundTripper
	interceptors []Interceptor

	// MaxBodySize bounds the buffered body; larger responses are truncated.
	MaxBodySize int64
}

// NewChain creates a chain over base. A nil base uses http.DefaultTransport.
func NewChain(base http.RoundTripper, interceptors ...Interceptor) *Chain {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Chain{
		base:         base,
		interceptors: interceptors,
		MaxBodySize:  DefaultMaxBodySize,
	}
}

// Use appends interceptors to the chain.
func (c *Chain) Use(interceptors ...Interceptor) {
	c.interceptors = append(c.interceptors, interceptors...)
}

// RoundTrip implements http.RoundTripper.
func (c *Chain) RoundTrip(req *http.Request) (*http.Response, error) {
	var err error
	for _, ic := range c.interceptors {
		req, err = ic.PreRequest(req)
		if err != nil {
			return nil, err
		}
	}

	httpResp, err := c.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	limit := c.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		URL:        req.URL,
	}
	for _, ic := range c.interceptors {
		resp, err = ic.PostResponse(req, resp)
		if err != nil {
			return nil, err
		}
	}
	return resp.toHTTP(req), nil
}

func (r *Response) toHTTP(req *http.Request) *http.Response {
	header := r.Header
	if header == nil {
		header = http.Header{}
	}
	header = header.Clone()
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))

	return &http.Response{
		Status:        strconv.Itoa(r.StatusCode) + " " + http.StatusText(r.StatusCode),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}
