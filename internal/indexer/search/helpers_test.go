package search

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slipstream/searchd/internal/indexer"
	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// fakeAdapter serves canned releases per request URL.
type fakeAdapter struct {
	def   *types.IndexerDefinition
	caps  *capabilities.Capabilities
	urls  []string // one single-request batch per URL
	pages map[string][]types.Release

	err     error  // returned by every Execute
	blockOn string // URL that blocks until the context ends
	calls   atomic.Int32
	chain   func() *request.Chain
}

func newFakeAdapter(id int64, name string, priority int) *fakeAdapter {
	return &fakeAdapter{
		def: &types.IndexerDefinition{
			ID:             id,
			Name:           name,
			Implementation: types.ImplementationCardigann,
			Enabled:        true,
			Priority:       priority,
		},
		caps:  capabilities.New(),
		pages: make(map[string][]types.Release),
	}
}

// serve registers releases for a URL and adds its batch.
func (a *fakeAdapter) serve(url string, releases ...types.Release) *fakeAdapter {
	a.urls = append(a.urls, url)
	a.pages[url] = releases
	return a
}

func (a *fakeAdapter) Definition() *types.IndexerDefinition      { return a.def }
func (a *fakeAdapter) Capabilities() *capabilities.Capabilities { return a.caps }
func (a *fakeAdapter) RequestGenerator() request.Generator      { return a }
func (a *fakeAdapter) ResponseParser() parser.Parser            { return a }
func (a *fakeAdapter) Executor() indexer.Executor               { return a }

func (a *fakeAdapter) GenerateSearch(types.SearchCriteria) (*request.Chain, error) {
	if a.chain != nil {
		return a.chain(), nil
	}
	chain := request.NewChain()
	var batches []request.Batch
	for _, u := range a.urls {
		req, err := request.NewGet(u, nil)
		if err != nil {
			return nil, err
		}
		batches = append(batches, request.Single(req))
	}
	return chain.AddTier(batches...), nil
}

func (a *fakeAdapter) GenerateRecent() (*request.Chain, error) {
	return a.GenerateSearch(types.SearchCriteria{})
}

func (a *fakeAdapter) Execute(ctx context.Context, req *request.IndexerRequest) (*parser.IndexerResponse, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	if req.URL == a.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &parser.IndexerResponse{Request: req, URL: req.URL, StatusCode: 200}, nil
}

func (a *fakeAdapter) Parse(resp *parser.IndexerResponse) ([]types.Release, error) {
	return a.pages[resp.URL], nil
}

// authAdapter rejects the first response as logged out.
type authAdapter struct {
	*fakeAdapter
	logins      atomic.Int32
	invalidated atomic.Int32
	expired     atomic.Bool
}

func (a *authAdapter) Authenticate(context.Context) error {
	a.logins.Add(1)
	return nil
}

func (a *authAdapter) NeedsLogin(*parser.IndexerResponse) bool {
	return a.expired.CompareAndSwap(true, false)
}

func (a *authAdapter) InvalidateSession() { a.invalidated.Add(1) }

// fakeSource is an in-memory IndexerSource.
type fakeSource struct {
	mu       sync.Mutex
	adapters map[int64]indexer.Adapter
	buildErr map[int64]error
}

func newFakeSource(adapters ...indexer.Adapter) *fakeSource {
	s := &fakeSource{adapters: make(map[int64]indexer.Adapter), buildErr: make(map[int64]error)}
	for _, a := range adapters {
		s.adapters[a.Definition().ID] = a
	}
	return s
}

func (s *fakeSource) Enabled() []*types.IndexerDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.IndexerDefinition
	for _, a := range s.adapters {
		if a.Definition().Enabled {
			out = append(out, a.Definition())
		}
	}
	sortDefs(out)
	return out
}

func (s *fakeSource) Get(id int64) (*types.IndexerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", indexer.ErrIndexerNotFound, id)
	}
	return a.Definition(), nil
}

func (s *fakeSource) Adapter(id int64) (indexer.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buildErr[id]; err != nil {
		return nil, err
	}
	a, ok := s.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", indexer.ErrIndexerNotFound, id)
	}
	return a, nil
}

func sortDefs(defs []*types.IndexerDefinition) {
	slices.SortFunc(defs, func(a, b *types.IndexerDefinition) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func release(guid string, indexerID int64, published time.Time, size int64, cats ...int) *types.ReleaseInfo {
	return &types.ReleaseInfo{
		GUID:        guid,
		Title:       guid,
		DownloadURL: "https://dl.test/" + guid,
		Size:        size,
		PublishDate: published,
		Categories:  cats,
		IndexerID:   indexerID,
	}
}

func torrent(guid string, indexerID int64, seeders int) *types.TorrentInfo {
	t := types.NewTorrentInfo()
	t.GUID = guid
	t.Title = guid
	t.IndexerID = indexerID
	t.Seeders = seeders
	return t
}

func guids(releases []types.Release) []string {
	out := make([]string, 0, len(releases))
	for _, r := range releases {
		out = append(out, r.Info().GUID)
	}
	return out
}

func diagnosticFor(result *Result, id int64) types.Diagnostic {
	for _, d := range result.Diagnostics {
		if d.IndexerID == id {
			return d
		}
	}
	return types.Diagnostic{}
}
