// Package request turns search criteria into pageable chains of HTTP requests.
package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// Content types emitted by generators.
const (
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeJSON = "application/json"
)

// IndexerRequest is one page request against an indexer.
type IndexerRequest struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	ContentType string
	Cookies     map[string]string
	PageSize    int               // results expected per page; 0 when the site does not page
	Meta        map[string]string // generator-specific hints for the parser
}

// NewGet builds a GET request for rawURL with query parameters merged in.
func NewGet(rawURL string, query url.Values) (*IndexerRequest, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, types.NewConfigError("invalid url %q: %v", rawURL, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return &IndexerRequest{Method: http.MethodGet, URL: u.String(), Header: http.Header{}}, nil
}

// NewPostForm builds a form-encoded POST request.
func NewPostForm(rawURL string, form url.Values) *IndexerRequest {
	return &IndexerRequest{
		Method:      http.MethodPost,
		URL:         rawURL,
		Header:      http.Header{},
		Body:        []byte(form.Encode()),
		ContentType: ContentTypeForm,
	}
}

// NewPostJSON builds a POST request with a JSON body.
func NewPostJSON(rawURL string, body []byte) *IndexerRequest {
	return &IndexerRequest{
		Method:      http.MethodPost,
		URL:         rawURL,
		Header:      http.Header{},
		Body:        body,
		ContentType: ContentTypeJSON,
	}
}

// Clone returns a deep copy safe to mutate.
func (r *IndexerRequest) Clone() *IndexerRequest {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = bytes.Clone(r.Body)
	if r.Cookies != nil {
		c.Cookies = make(map[string]string, len(r.Cookies))
		for k, v := range r.Cookies {
			c.Cookies[k] = v
		}
	}
	if r.Meta != nil {
		c.Meta = make(map[string]string, len(r.Meta))
		for k, v := range r.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

// SetCookies merges cookies into the request.
func (r *IndexerRequest) SetCookies(cookies map[string]string) {
	if len(cookies) == 0 {
		return
	}
	if r.Cookies == nil {
		r.Cookies = make(map[string]string, len(cookies))
	}
	for k, v := range cookies {
		r.Cookies[k] = v
	}
}

// HTTPRequest materializes the request for the given context.
func (r *IndexerRequest) HTTPRequest(ctx context.Context) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	for name, value := range r.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req, nil
}
