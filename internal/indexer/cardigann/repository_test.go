package cardigann

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPackage(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func catalogServer(t *testing.T, pkg []byte, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch r.URL.Path {
		case "/master/11/package.zip":
			if n <= failures {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write(pkg)
		case "/master/11/testtracker":
			_, _ = w.Write([]byte(htmlDefinition))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testRepository(baseURL string) *Repository {
	return NewRepository(RepositoryConfig{BaseURL: baseURL, Attempts: 3}, nil, zerolog.Nop())
}

func TestRepository_FetchPackage(t *testing.T) {
	pkg := buildPackage(t, map[string]string{
		"definitions/v11/testtracker.yml": htmlDefinition,
		"definitions/v11/jsonsite.yaml":   jsonDefinition,
		"definitions/v11/README.md":       "ignored",
	})
	srv, calls := catalogServer(t, pkg, 1)

	defs, err := testRepository(srv.URL).FetchPackage(context.Background())
	require.NoError(t, err)
	assert.Len(t, defs, 2)
	assert.Contains(t, defs, "testtracker")
	assert.Contains(t, defs, "jsonsite")
	assert.Equal(t, int32(2), calls.Load(), "a 5xx is retried")
}

func TestRepository_FetchDefinition(t *testing.T) {
	srv, _ := catalogServer(t, nil, 0)
	repo := testRepository(srv.URL)

	def, err := repo.FetchDefinition(context.Background(), "testtracker")
	require.NoError(t, err)
	assert.Equal(t, "Test Tracker", def.Name)

	_, err = repo.FetchDefinition(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestRepository_GivesUpAfterAttempts(t *testing.T) {
	srv, calls := catalogServer(t, nil, 100)
	_, err := testRepository(srv.URL).FetchPackage(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestManager_UpdateDefinitions(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"testtracker.yml": htmlDefinition})
	srv, calls := catalogServer(t, pkg, 0)

	fsys := afero.NewMemMapFs()
	cfg := DefaultManagerConfig()
	cfg.Cache = CacheConfig{DefinitionsDir: "/defs"}
	m, err := NewManager(fsys, cfg, testRepository(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, now, m.LastUpdate())

	def, err := m.Definition("testtracker")
	require.NoError(t, err)
	assert.Equal(t, "Test Tracker", def.Name)

	stamp, err := afero.ReadFile(fsys, "/defs/.last_update")
	require.NoError(t, err)
	assert.Equal(t, now.Format(time.RFC3339), string(stamp))

	// Within the interval nothing is fetched.
	require.NoError(t, m.UpdateDefinitions(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, m.NeedsUpdate())

	now = now.Add(25 * time.Hour)
	assert.True(t, m.NeedsUpdate())
	require.NoError(t, m.UpdateDefinitions(context.Background()))
	assert.Equal(t, int32(2), calls.Load())

	// A restarted manager picks up the persisted timestamp.
	restarted, err := NewManager(fsys, cfg, testRepository(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	restarted.loadLastUpdateTime()
	assert.True(t, restarted.LastUpdate().Equal(now))
}

func TestManager_SearchDefinitions(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := DefaultManagerConfig()
	cfg.AutoUpdate = false
	cfg.Cache = CacheConfig{DefinitionsDir: "/defs"}
	m, err := NewManager(fsys, cfg, testRepository("http://127.0.0.1:1"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, m.Cache().Store("testtracker", []byte(htmlDefinition)))
	require.NoError(t, m.Cache().Store("jsonsite", []byte(jsonDefinition)))
	require.NoError(t, m.Initialize(context.Background()))

	tests := []struct {
		name    string
		query   string
		filters DefinitionFilters
		want    []string
	}{
		{name: "all sorted by name", want: []string{"jsonsite", "testtracker"}},
		{name: "text query", query: "used in tests", want: []string{"testtracker"}},
		{name: "privacy filter", filters: DefinitionFilters{Privacy: "private"}, want: []string{"testtracker"}},
		{name: "protocol filter", filters: DefinitionFilters{Protocol: "usenet"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.SearchDefinitions(tt.query, tt.filters)
			require.NoError(t, err)
			var ids []string
			for _, meta := range got {
				ids = append(ids, meta.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
