package cardigann

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// stubExecutor answers requests from a handler and records them.
type stubExecutor struct {
	mu       sync.Mutex
	requests []*request.IndexerRequest
	handle   func(req *request.IndexerRequest) *parser.IndexerResponse
}

func (s *stubExecutor) Execute(_ context.Context, req *request.IndexerRequest) (*parser.IndexerResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.handle(req), nil
}

func (s *stubExecutor) recorded() []*request.IndexerRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*request.IndexerRequest(nil), s.requests...)
}

func htmlResponse(req *request.IndexerRequest, body string) *parser.IndexerResponse {
	return &parser.IndexerResponse{
		Request:    req,
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
		Content:    body,
	}
}

func newTestClient(t *testing.T, yaml string, settings map[string]string, exec Executor) *Client {
	t.Helper()
	if exec == nil {
		exec = &stubExecutor{handle: func(req *request.IndexerRequest) *parser.IndexerResponse {
			return htmlResponse(req, "")
		}}
	}
	c, err := NewClient(ClientConfig{
		Definition: mustParse(t, yaml),
		Indexer:    &types.IndexerDefinition{ID: 7, Name: "Test", Priority: 25, Settings: settings},
		Executor:   exec,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

// collect drains every request of a chain in dispatch order.
func collect(t *testing.T, chain *request.Chain) []*request.IndexerRequest {
	t.Helper()
	var out []*request.IndexerRequest
	for _, batch := range chain.Batches() {
		for req := range batch {
			out = append(out, req)
		}
	}
	return out
}

var trackerLogin = map[string]string{"username": "alice", "password": "hunter2"}
