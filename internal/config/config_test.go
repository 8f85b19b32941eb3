package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/searchd/internal/indexer/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Search.Timeout, cfg.Search.Timeout)
	assert.Equal(t, "publish_date", cfg.Search.DefaultSort)
	assert.Equal(t, 3, cfg.Search.MaxPages)
	assert.Equal(t, want.Definitions.Repository.BaseURL, cfg.Definitions.Repository.BaseURL)
	assert.Equal(t, "./data/definitions", cfg.Definitions.Cache.DefinitionsDir)
	assert.True(t, cfg.Status.EscalateProtection)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.MinInterval)
	assert.Empty(t, cfg.Indexers)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "searchd.yaml", `
server:
  port: 8080
search:
  timeout: 15s
  default_sort: seeders
  max_pages: 5
  size_policy:
    allow_zero: true
definitions:
  cache:
    dir: /srv/definitions
  refresh_cron: "0 3 * * *"
  watch: false
status:
  escalate_on_protection: false
ratelimit:
  min_interval: 500ms
  hourly_query_limit: 100
solver:
  url: http://flaresolverr:8191
  tags: [cloudflare]
indexers:
  - id: 1
    name: Alpha
    implementation: cardigann
    definition: alpha
    protocol: torrent
    privacy: private
    enabled: true
    priority: 10
    settings:
      username: bob
  - id: 2
    name: Beta
    implementation: torznab
    base_urls: [https://beta.test]
    protocol: torrent
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Search.Timeout)
	assert.Equal(t, "seeders", cfg.Search.DefaultSort)
	assert.Equal(t, 5, cfg.Search.MaxPages)
	assert.True(t, cfg.Search.SizePolicy.AllowZero)
	assert.Equal(t, "/srv/definitions", cfg.Definitions.Cache.DefinitionsDir)
	assert.Equal(t, "./data/definitions/custom", cfg.Definitions.Cache.CustomDir)
	assert.Equal(t, "0 3 * * *", cfg.Definitions.RefreshCron)
	assert.False(t, cfg.Definitions.Watch)
	assert.False(t, cfg.Status.EscalateProtection)
	assert.True(t, cfg.Status.EscalateAuth)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.MinInterval)
	assert.Equal(t, 100, cfg.RateLimit.HourlyQueryLimit)
	assert.Equal(t, "http://flaresolverr:8191", cfg.Solver.URL)
	assert.Equal(t, []string{"cloudflare"}, cfg.Solver.Tags)

	require.Len(t, cfg.Indexers, 2)
	alpha := cfg.Indexers[0]
	assert.Equal(t, int64(1), alpha.ID)
	assert.Equal(t, types.ImplementationCardigann, alpha.Implementation)
	assert.Equal(t, "alpha", alpha.DefinitionID)
	assert.Equal(t, types.PrivacyPrivate, alpha.Privacy)
	assert.Equal(t, "bob", alpha.Settings["username"])
	assert.Equal(t, []string{"https://beta.test"}, cfg.Indexers[1].BaseURLs)
	assert.False(t, cfg.Indexers[1].Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "searchd.yaml", "search:\n  timeout: 15s\n")
	writeFile(t, dir, ".env", "SEARCHD_DATABASE_PATH=/from/dotenv.db\n")
	t.Setenv("SEARCHD_SEARCH_TIMEOUT", "45s")
	t.Setenv("SEARCHD_HTTP_USER_AGENT", "searchd-test")
	t.Cleanup(func() { os.Unsetenv("SEARCHD_DATABASE_PATH") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Search.Timeout)
	assert.Equal(t, "searchd-test", cfg.HTTP.UserAgent)
	assert.Equal(t, "/from/dotenv.db", cfg.Database.Path)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "bad sort", yaml: "search:\n  default_sort: grabs\n", want: "search.default_sort"},
		{name: "zero pages", yaml: "search:\n  max_pages: 0\n", want: "search.max_pages"},
		{name: "duplicate ids", yaml: "indexers:\n  - {id: 1, name: a}\n  - {id: 1, name: b}\n", want: "duplicate id 1"},
		{name: "missing id", yaml: "indexers:\n  - {name: a}\n", want: "id must be positive"},
		{name: "bad port", yaml: "server:\n  port: 70000\n", want: "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			_, err := Load(writeFile(t, dir, "searchd.yaml", tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("/nonexistent/searchd.yaml")
	assert.Error(t, err)
}

func TestServerConfig_Address(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9797}
	assert.Equal(t, "127.0.0.1:9797", s.Address())
}
