package cardigann

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// lastUpdateFileName stores the time of the last successful catalog update.
const lastUpdateFileName = ".last_update"

// Manager owns the definition cache and keeps it in sync with the remote
// catalog.
type Manager struct {
	repo   *Repository
	cache  *Cache
	fs     afero.Fs
	logger zerolog.Logger
	now    func() time.Time

	updateMu       sync.Mutex
	lastUpdate     time.Time
	lastAttempt    time.Time // includes failed attempts
	autoUpdate     bool
	updateInterval time.Duration
}

// ManagerConfig contains configuration for the definition manager.
type ManagerConfig struct {
	Repository     RepositoryConfig `mapstructure:"repository"`
	Cache          CacheConfig      `mapstructure:"cache"`
	AutoUpdate     bool             `mapstructure:"auto_update"`
	UpdateInterval time.Duration    `mapstructure:"update_interval"`
}

// DefaultManagerConfig returns the default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Repository:     DefaultRepositoryConfig(),
		Cache:          DefaultCacheConfig(),
		AutoUpdate:     true,
		UpdateInterval: 24 * time.Hour,
	}
}

// NewManager creates a definition manager over fsys.
func NewManager(fsys afero.Fs, cfg ManagerConfig, repo *Repository, logger zerolog.Logger) (*Manager, error) {
	cache, err := NewCache(fsys, cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultManagerConfig().UpdateInterval
	}
	if repo == nil {
		repo = NewRepository(cfg.Repository, nil, logger)
	}
	return &Manager{
		repo:           repo,
		cache:          cache,
		fs:             fsys,
		logger:         logger.With().Str("component", "definition-manager").Logger(),
		now:            time.Now,
		autoUpdate:     cfg.AutoUpdate,
		updateInterval: cfg.UpdateInterval,
	}, nil
}

// Initialize loads cached definitions, updating from the catalog first
// when auto-update is on. A failed update falls back to the local copy.
func (m *Manager) Initialize(ctx context.Context) error {
	m.loadLastUpdateTime()

	if m.autoUpdate {
		if err := m.UpdateDefinitions(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to update definitions from remote, using cached versions")
		}
	}

	count, err := m.cache.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cached definitions: %w", err)
	}
	m.logger.Info().Int("count", count).Msg("Initialized definition manager")
	return nil
}

// UpdateDefinitions fetches the latest package from the catalog. Attempts
// are throttled to one per update interval, successful or not.
func (m *Manager) UpdateDefinitions(ctx context.Context) error {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	now := m.now()
	if now.Sub(m.lastUpdate) < m.updateInterval {
		m.logger.Debug().
			Time("lastUpdate", m.lastUpdate).
			Dur("interval", m.updateInterval).
			Msg("Skipping update, updated within interval")
		return nil
	}
	if now.Sub(m.lastAttempt) < m.updateInterval {
		m.logger.Debug().Time("lastAttempt", m.lastAttempt).Msg("Skipping update, attempted recently")
		return nil
	}

	return m.update(ctx)
}

// ForceUpdate fetches the catalog regardless of the update interval.
func (m *Manager) ForceUpdate(ctx context.Context) error {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	return m.update(ctx)
}

// update fetches and stores the catalog. The caller holds updateMu.
func (m *Manager) update(ctx context.Context) error {
	m.lastAttempt = m.now()
	m.logger.Info().Msg("Updating definitions from remote repository")

	definitions, err := m.repo.FetchPackage(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch definitions package: %w", err)
	}
	stored := m.cache.StoreAll(definitions)

	m.lastUpdate = m.now()
	m.saveLastUpdateTime()
	m.logger.Info().Int("count", stored).Msg("Updated definitions from remote")
	return nil
}

// Definition retrieves a definition by id.
func (m *Manager) Definition(id string) (*Definition, error) {
	return m.cache.Get(id)
}

// ListDefinitions returns metadata for all available definitions.
func (m *Manager) ListDefinitions() ([]*DefinitionMetadata, error) {
	return m.cache.List()
}

// DefinitionFilters narrows SearchDefinitions.
type DefinitionFilters struct {
	Protocol string // torrent, usenet
	Privacy  string // public, private, semi-private
	Language string // en-US, etc.
}

// SearchDefinitions returns definitions whose id, name or description
// contains query, sorted by name.
func (m *Manager) SearchDefinitions(query string, filters DefinitionFilters) ([]*DefinitionMetadata, error) {
	all, err := m.cache.List()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var results []*DefinitionMetadata
	for _, meta := range all {
		if matchesTextQuery(meta, query) && matchesFilters(meta, &filters) {
			results = append(results, meta)
		}
	}
	slices.SortFunc(results, func(a, b *DefinitionMetadata) int {
		return strings.Compare(a.Name, b.Name)
	})
	return results, nil
}

func matchesTextQuery(meta *DefinitionMetadata, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(meta.Name), query) ||
		strings.Contains(strings.ToLower(meta.Description), query) ||
		strings.Contains(strings.ToLower(meta.ID), query)
}

func matchesFilters(meta *DefinitionMetadata, filters *DefinitionFilters) bool {
	if filters.Protocol != "" && string(meta.Protocol) != filters.Protocol {
		return false
	}
	if filters.Privacy != "" && meta.Type != filters.Privacy {
		return false
	}
	if filters.Language != "" && meta.Language != filters.Language {
		return false
	}
	return true
}

// NeedsUpdate reports whether the update interval has elapsed.
func (m *Manager) NeedsUpdate() bool {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	return m.autoUpdate && m.now().Sub(m.lastUpdate) > m.updateInterval
}

// LastUpdate returns the time of the last successful update.
func (m *Manager) LastUpdate() time.Time {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	return m.lastUpdate
}

// Count returns the number of definitions on disk.
func (m *Manager) Count() (int, error) {
	return m.cache.Count()
}

// Cache returns the definition cache.
func (m *Manager) Cache() *Cache {
	return m.cache
}

func (m *Manager) loadLastUpdateTime() {
	path := filepath.Join(m.cache.DefinitionsDir(), lastUpdateFileName)
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to parse last update time")
		return
	}
	m.updateMu.Lock()
	m.lastUpdate = t
	m.updateMu.Unlock()
	m.logger.Debug().Time("lastUpdate", t).Msg("Loaded last update time from disk")
}

func (m *Manager) saveLastUpdateTime() {
	path := filepath.Join(m.cache.DefinitionsDir(), lastUpdateFileName)
	if err := afero.WriteFile(m.fs, path, []byte(m.lastUpdate.Format(time.RFC3339)), 0o600); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to save last update time")
	}
}
