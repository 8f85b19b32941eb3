package cardigann

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/slipstream/searchd/internal/indexer/types"
)

const (
	fileExtYML  = ".yml"
	fileExtYAML = ".yaml"
)

// ErrDefinitionNotFound is returned when no file exists for a definition id.
var ErrDefinitionNotFound = errors.New("definition not found")

// DefinitionMetadata contains metadata about a definition without the full content.
type DefinitionMetadata struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        string         `json:"type"` // public, private, semi-private
	Language    string         `json:"language"`
	Protocol    types.Protocol `json:"protocol"`
	Custom      bool           `json:"custom"`
}

func metadataOf(def *Definition, custom bool) *DefinitionMetadata {
	return &DefinitionMetadata{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Type:        def.Type,
		Language:    def.Language,
		Protocol:    def.GetProtocol(),
		Custom:      custom,
	}
}

// Cache manages parsed Cardigann definitions backed by a filesystem.
// Definitions in the custom directory override the standard ones.
//
// Invalidate and InvalidateAll bump a generation counter; a load that
// started before an invalidation never publishes its result, so readers
// cannot observe a definition older than the last invalidation.
type Cache struct {
	fs             afero.Fs
	definitionsDir string
	customDir      string
	logger         zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*cachedDefinition
	gen     uint64
}

// cachedDefinition holds a parsed definition with metadata.
type cachedDefinition struct {
	Definition *Definition
	LoadedAt   time.Time
	FilePath   string
	IsCustom   bool
}

// CacheConfig contains configuration for the definition cache.
type CacheConfig struct {
	DefinitionsDir string `mapstructure:"dir"`
	CustomDir      string `mapstructure:"custom_dir"`
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefinitionsDir: "./data/definitions",
		CustomDir:      "./data/definitions/custom",
	}
}

// NewCache creates a definition cache over fsys, creating both directories.
func NewCache(fsys afero.Fs, cfg CacheConfig, logger zerolog.Logger) (*Cache, error) {
	if cfg.DefinitionsDir == "" {
		cfg.DefinitionsDir = DefaultCacheConfig().DefinitionsDir
	}
	if cfg.CustomDir == "" {
		cfg.CustomDir = filepath.Join(cfg.DefinitionsDir, "custom")
	}
	if err := fsys.MkdirAll(cfg.DefinitionsDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create definitions directory: %w", err)
	}
	if err := fsys.MkdirAll(cfg.CustomDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create custom directory: %w", err)
	}

	return &Cache{
		fs:             fsys,
		definitionsDir: cfg.DefinitionsDir,
		customDir:      cfg.CustomDir,
		logger:         logger.With().Str("component", "definition-cache").Logger(),
		entries:        make(map[string]*cachedDefinition),
	}, nil
}

// Get returns a definition by id, loading it from disk on a miss.
func (c *Cache) Get(id string) (*Definition, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return entry.Definition, nil
	}

	entry, err := c.load(id)
	if err != nil {
		return nil, err
	}
	c.publish(id, entry, gen)
	return entry.Definition, nil
}

// publish stores entry unless an invalidation happened since gen was read.
func (c *Cache) publish(id string, entry *cachedDefinition, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.entries[id] = entry
}

// GetMetadata returns metadata for a definition.
func (c *Cache) GetMetadata(id string) (*DefinitionMetadata, error) {
	def, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	return metadataOf(def, c.IsCustom(id)), nil
}

// List returns metadata for every definition on disk, custom overrides
// first, sorted by id. Unparseable files are logged and skipped.
func (c *Cache) List() ([]*DefinitionMetadata, error) {
	ids, err := c.ids()
	if err != nil {
		return nil, err
	}
	out := make([]*DefinitionMetadata, 0, len(ids))
	for _, id := range ids {
		def, err := c.Get(id)
		if err != nil {
			c.logger.Warn().Str("id", id).Err(err).Msg("Failed to load definition")
			continue
		}
		out = append(out, metadataOf(def, c.IsCustom(id)))
	}
	return out, nil
}

// LoadAll parses every definition on disk concurrently and fills the
// cache. It returns the number of definitions loaded; broken files are
// logged and skipped.
func (c *Cache) LoadAll(ctx context.Context) (int, error) {
	ids, err := c.ids()
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	entries := make([]*cachedDefinition, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := c.load(id)
			if err != nil {
				c.logger.Warn().Str("id", id).Err(err).Msg("Skipping invalid definition")
				return nil
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	loaded := 0
	for i, entry := range entries {
		if entry == nil {
			continue
		}
		c.publish(ids[i], entry, gen)
		loaded++
	}
	c.logger.Info().Int("loaded", loaded).Int("files", len(ids)).Msg("Loaded definitions")
	return loaded, nil
}

// ids returns the ids of every definition file in both directories.
func (c *Cache) ids() ([]string, error) {
	seen := map[string]bool{}
	for _, dir := range []string{c.customDir, c.definitionsDir} {
		entries, err := afero.ReadDir(c.fs, dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if id, ok := definitionID(e.Name()); ok {
				seen[id] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// definitionID returns the id encoded in a definition file name.
func definitionID(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != fileExtYML && ext != fileExtYAML {
		return "", false
	}
	return strings.TrimSuffix(name, filepath.Ext(name)), true
}

// Store validates data and writes it as a standard definition.
func (c *Cache) Store(id string, data []byte) error {
	return c.store(id, data, false)
}

// StoreCustom validates data and writes it as a custom override.
func (c *Cache) StoreCustom(id string, data []byte) error {
	return c.store(id, data, true)
}

func (c *Cache) store(id string, data []byte, custom bool) error {
	if _, err := ParseDefinition(data); err != nil {
		return fmt.Errorf("invalid definition %s: %w", id, err)
	}

	path := c.path(id, custom)
	if err := afero.WriteFile(c.fs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write definition: %w", err)
	}

	// The next Get rereads from disk so a custom override keeps precedence.
	c.Invalidate(id)
	c.logger.Debug().Str("id", id).Str("path", path).Bool("custom", custom).Msg("Stored definition")
	return nil
}

// StoreAll stores multiple definitions from a package. It returns how
// many were stored; invalid ones are logged and skipped.
func (c *Cache) StoreAll(definitions map[string][]byte) int {
	stored, failed := 0, 0
	for id, data := range definitions {
		if err := c.Store(id, data); err != nil {
			c.logger.Warn().Str("id", id).Err(err).Msg("Failed to store definition")
			failed++
			continue
		}
		stored++
	}
	c.logger.Info().Int("stored", stored).Int("failed", failed).Msg("Stored definitions from package")
	return stored
}

// Delete removes a definition from memory and disk. Both the custom and
// the standard files are removed.
func (c *Cache) Delete(id string) error {
	c.Invalidate(id)
	for _, custom := range []bool{true, false} {
		for _, ext := range []string{fileExtYML, fileExtYAML} {
			path := filepath.Join(c.dir(custom), id+ext)
			if err := c.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to delete definition file: %w", err)
			}
		}
	}
	return nil
}

// Invalidate drops id from memory so the next Get rereads the file.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.gen++
	c.mu.Unlock()
	c.logger.Debug().Str("id", id).Msg("Invalidated definition")
}

// InvalidateAll drops every cached definition.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*cachedDefinition)
	c.gen++
	c.mu.Unlock()
	c.logger.Debug().Msg("Invalidated all definitions")
}

// InvalidatePath invalidates the definition stored at path, if path is a
// definition file in one of the cache directories.
func (c *Cache) InvalidatePath(path string) bool {
	dir := absDir(filepath.Dir(path))
	if dir != absDir(c.definitionsDir) && dir != absDir(c.customDir) {
		return false
	}
	id, ok := definitionID(filepath.Base(path))
	if !ok {
		return false
	}
	c.Invalidate(id)
	return true
}

func absDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

// Exists checks if a definition exists in memory or on disk.
func (c *Cache) Exists(id string) bool {
	c.mu.RLock()
	_, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return true
	}
	_, _, err := c.find(id)
	return err == nil
}

// Count returns the number of definitions on disk.
func (c *Cache) Count() (int, error) {
	ids, err := c.ids()
	return len(ids), err
}

// IsCustom reports whether id is served from the custom directory.
func (c *Cache) IsCustom(id string) bool {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return entry.IsCustom
	}
	_, custom, err := c.find(id)
	return err == nil && custom
}

// DefinitionsDir returns the standard definitions directory.
func (c *Cache) DefinitionsDir() string { return c.definitionsDir }

// CustomDir returns the custom definitions directory.
func (c *Cache) CustomDir() string { return c.customDir }

// load reads and parses id from disk, custom directory first.
func (c *Cache) load(id string) (*cachedDefinition, error) {
	path, custom, err := c.find(id)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition %s: %w", id, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definition %s: %w", id, err)
	}
	return &cachedDefinition{Definition: def, LoadedAt: time.Now(), FilePath: path, IsCustom: custom}, nil
}

// find locates the file for id.
func (c *Cache) find(id string) (string, bool, error) {
	for _, custom := range []bool{true, false} {
		for _, ext := range []string{fileExtYML, fileExtYAML} {
			path := filepath.Join(c.dir(custom), id+ext)
			if ok, _ := afero.Exists(c.fs, path); ok {
				return path, custom, nil
			}
		}
	}
	return "", false, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
}

func (c *Cache) dir(custom bool) string {
	if custom {
		return c.customDir
	}
	return c.definitionsDir
}

func (c *Cache) path(id string, custom bool) string {
	return filepath.Join(c.dir(custom), id+fileExtYML)
}
