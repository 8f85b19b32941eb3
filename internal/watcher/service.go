package watcher

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Invalidator drops cached definitions backed by a changed file.
type Invalidator interface {
	InvalidatePath(path string) bool
}

// DefinitionsService watches the definition directories and invalidates
// cached definitions when their files change on disk.
type DefinitionsService struct {
	watcher *Watcher
	cache   Invalidator
	dirs    []string
	logger  zerolog.Logger

	// onInvalidate, when set, observes each invalidated path.
	onInvalidate func(path string)
}

// IsDefinitionFile reports whether name looks like a definition file.
func IsDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yml" || ext == ".yaml") && !strings.HasPrefix(name, ".")
}

// NewDefinitionsService creates a watcher over dirs feeding cache.
func NewDefinitionsService(cache Invalidator, dirs []string, config Config, logger zerolog.Logger) (*DefinitionsService, error) {
	if config.Match == nil {
		config.Match = IsDefinitionFile
	}
	w, err := New(config, logger)
	if err != nil {
		return nil, err
	}

	s := &DefinitionsService{
		watcher: w,
		cache:   cache,
		dirs:    dirs,
		logger:  logger.With().Str("component", "definitions-watcher").Logger(),
	}
	w.SetHandler(s.handleEvents)
	return s, nil
}

// Start watches every directory and begins processing events. A directory
// that cannot be watched is logged and skipped.
func (s *DefinitionsService) Start() {
	for _, dir := range s.dirs {
		if err := s.watcher.AddPath(dir); err != nil {
			s.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch definitions directory")
		}
	}
	s.watcher.Start()
}

// Stop stops watching.
func (s *DefinitionsService) Stop() error {
	return s.watcher.Stop()
}

// WatchedPaths returns the watched directories.
func (s *DefinitionsService) WatchedPaths() []string {
	return s.watcher.WatchedPaths()
}

func (s *DefinitionsService) handleEvents(events []FileEvent) {
	for _, event := range events {
		if !s.cache.InvalidatePath(event.Path) {
			continue
		}
		s.logger.Info().Str("path", event.Path).Str("op", event.Op).Msg("Definition file changed")
		if s.onInvalidate != nil {
			s.onInvalidate(event.Path)
		}
	}
}
