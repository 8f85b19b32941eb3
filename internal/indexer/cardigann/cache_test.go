package cardigann

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemCache(t *testing.T) (*Cache, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	c, err := NewCache(fsys, CacheConfig{DefinitionsDir: "/defs"}, zerolog.Nop())
	require.NoError(t, err)
	return c, fsys
}

func renamed(yaml, name string) string {
	return strings.Replace(yaml, "name: Test Tracker", "name: "+name, 1)
}

func TestCache_StoreAndGet(t *testing.T) {
	c, fsys := newMemCache(t)
	assert.Equal(t, "/defs/custom", c.CustomDir())

	require.NoError(t, c.Store("testtracker", []byte(htmlDefinition)))
	ok, err := afero.Exists(fsys, "/defs/testtracker.yml")
	require.NoError(t, err)
	assert.True(t, ok)

	def, err := c.Get("testtracker")
	require.NoError(t, err)
	assert.Equal(t, "Test Tracker", def.Name)

	again, err := c.Get("testtracker")
	require.NoError(t, err)
	assert.Same(t, def, again, "cached until invalidated")

	c.Invalidate("testtracker")
	reloaded, err := c.Get("testtracker")
	require.NoError(t, err)
	assert.NotSame(t, def, reloaded)
}

func TestCache_StoreRejectsInvalid(t *testing.T) {
	c, fsys := newMemCache(t)
	err := c.Store("broken", []byte("id: broken\nname: Broken\n"))
	require.Error(t, err)

	ok, _ := afero.Exists(fsys, "/defs/broken.yml")
	assert.False(t, ok)
}

func TestCache_CustomOverride(t *testing.T) {
	c, _ := newMemCache(t)
	require.NoError(t, c.Store("testtracker", []byte(htmlDefinition)))
	require.NoError(t, c.StoreCustom("testtracker", []byte(renamed(htmlDefinition, "Custom Tracker"))))

	def, err := c.Get("testtracker")
	require.NoError(t, err)
	assert.Equal(t, "Custom Tracker", def.Name)
	assert.True(t, c.IsCustom("testtracker"))

	// Updating the standard file does not shadow the override.
	require.NoError(t, c.Store("testtracker", []byte(renamed(htmlDefinition, "Upstream Tracker"))))
	def, err = c.Get("testtracker")
	require.NoError(t, err)
	assert.Equal(t, "Custom Tracker", def.Name)

	list, err := c.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Custom)
}

func TestCache_InvalidatePath(t *testing.T) {
	c, fsys := newMemCache(t)
	require.NoError(t, c.Store("testtracker", []byte(htmlDefinition)))
	before, err := c.Get("testtracker")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/defs/testtracker.yml", []byte(renamed(htmlDefinition, "Edited")), 0o600))

	tests := []struct {
		path string
		want bool
	}{
		{path: "/elsewhere/testtracker.yml", want: false},
		{path: "/defs/notes.txt", want: false},
		{path: "/defs/custom/other.yaml", want: true},
		{path: filepath.Join("/defs", "testtracker.yml"), want: true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.InvalidatePath(tt.path), tt.path)
	}

	after, err := c.Get("testtracker")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, "Edited", after.Name)
}

func TestCache_LoadAllSkipsBroken(t *testing.T) {
	c, fsys := newMemCache(t)
	require.NoError(t, afero.WriteFile(fsys, "/defs/testtracker.yml", []byte(htmlDefinition), 0o600))
	require.NoError(t, afero.WriteFile(fsys, "/defs/jsonsite.yaml", []byte(jsonDefinition), 0o600))
	require.NoError(t, afero.WriteFile(fsys, "/defs/broken.yml", []byte("id: [oops"), 0o600))
	require.NoError(t, afero.WriteFile(fsys, "/defs/readme.md", []byte("# defs"), 0o600))

	n, err := c.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = c.Get("broken")
	assert.Error(t, err)
	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestCache_Delete(t *testing.T) {
	c, fsys := newMemCache(t)
	require.NoError(t, c.Store("testtracker", []byte(htmlDefinition)))
	require.NoError(t, c.StoreCustom("testtracker", []byte(htmlDefinition)))
	_, err := c.Get("testtracker")
	require.NoError(t, err)

	require.NoError(t, c.Delete("testtracker"))
	assert.False(t, c.Exists("testtracker"))
	for _, p := range []string{"/defs/testtracker.yml", "/defs/custom/testtracker.yml"} {
		ok, _ := afero.Exists(fsys, p)
		assert.False(t, ok, p)
	}
}

func TestCache_StoreAll(t *testing.T) {
	c, _ := newMemCache(t)
	stored := c.StoreAll(map[string][]byte{
		"testtracker": []byte(htmlDefinition),
		"jsonsite":    []byte(jsonDefinition),
		"broken":      []byte("nope"),
	})
	assert.Equal(t, 2, stored)
	assert.True(t, c.Exists("jsonsite"))
	assert.False(t, c.Exists("broken"))
}
