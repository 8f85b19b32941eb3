package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileEvent represents a file system event.
type FileEvent struct {
	Path      string    `json:"path"`
	Op        string    `json:"op"` // "create", "write", "remove", "rename"
	Timestamp time.Time `json:"timestamp"`
}

// FileEventHandler is called when file events are ready to be processed.
type FileEventHandler func(events []FileEvent)

// Config holds watcher configuration.
type Config struct {
	// DebounceDelay is how long to wait after the last event before processing.
	DebounceDelay time.Duration

	// MaxBatchSize is the maximum number of events to batch before forcing processing.
	MaxBatchSize int

	// Match selects the files whose events are reported; nil reports all.
	Match func(name string) bool
}

// DefaultConfig returns default watcher configuration.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 500 * time.Millisecond,
		MaxBatchSize:  100,
	}
}

// Watcher monitors directories for file changes. Directories are watched
// without descending into subdirectories.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	config    Config
	logger    zerolog.Logger
	handler   FileEventHandler

	watchedPaths map[string]bool
	pathsMu      sync.RWMutex

	pendingEvents map[string]FileEvent
	eventsMu      sync.Mutex
	debounceTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new file watcher.
func New(config Config, logger zerolog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = DefaultConfig().DebounceDelay
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultConfig().MaxBatchSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		fsWatcher:     fsWatcher,
		config:        config,
		logger:        logger.With().Str("component", "watcher").Logger(),
		watchedPaths:  make(map[string]bool),
		pendingEvents: make(map[string]FileEvent),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// SetHandler sets the event handler function. Call before Start.
func (w *Watcher) SetHandler(handler FileEventHandler) {
	w.handler = handler
}

// Start begins watching for file events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.eventLoop()
}

// Stop stops the watcher, flushing pending events first.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.fsWatcher.Close()
}

// AddPath adds a directory to watch.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()

	if w.watchedPaths[absPath] {
		return nil
	}
	if err := w.fsWatcher.Add(absPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", absPath, err)
	}
	w.watchedPaths[absPath] = true

	w.logger.Info().Str("path", absPath).Msg("Added watch path")
	return nil
}

// RemovePath stops watching a directory.
func (w *Watcher) RemovePath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()

	if !w.watchedPaths[absPath] {
		return nil
	}
	delete(w.watchedPaths, absPath)
	if err := w.fsWatcher.Remove(absPath); err != nil {
		return fmt.Errorf("failed to unwatch %s: %w", absPath, err)
	}

	w.logger.Info().Str("path", absPath).Msg("Removed watch path")
	return nil
}

// WatchedPaths returns the currently watched directories, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.pathsMu.RLock()
	defer w.pathsMu.RUnlock()

	paths := make([]string, 0, len(w.watchedPaths))
	for path := range w.watchedPaths {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.flushPendingEvents()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if w.config.Match != nil && !w.config.Match(filepath.Base(event.Name)) {
		return
	}

	var op string
	switch {
	case event.Has(fsnotify.Create):
		op = "create"
	case event.Has(fsnotify.Write):
		op = "write"
	case event.Has(fsnotify.Remove):
		op = "remove"
	case event.Has(fsnotify.Rename):
		op = "rename"
	default:
		return
	}

	w.addPendingEvent(FileEvent{
		Path:      event.Name,
		Op:        op,
		Timestamp: time.Now(),
	})
}

// addPendingEvent adds an event to the pending batch and resets the
// debounce timer. Later events on the same path replace earlier ones.
func (w *Watcher) addPendingEvent(event FileEvent) {
	w.eventsMu.Lock()
	defer w.eventsMu.Unlock()

	w.pendingEvents[event.Path] = event

	if len(w.pendingEvents) >= w.config.MaxBatchSize {
		w.flushPendingEventsLocked()
		return
	}

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.DebounceDelay, w.flushPendingEvents)
}

func (w *Watcher) flushPendingEvents() {
	w.eventsMu.Lock()
	defer w.eventsMu.Unlock()
	w.flushPendingEventsLocked()
}

// flushPendingEventsLocked hands the batch to the handler. The caller
// holds eventsMu.
func (w *Watcher) flushPendingEventsLocked() {
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	if len(w.pendingEvents) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(w.pendingEvents))
	for _, event := range w.pendingEvents {
		events = append(events, event)
	}
	slices.SortFunc(events, func(a, b FileEvent) int { return a.Timestamp.Compare(b.Timestamp) })
	w.pendingEvents = make(map[string]FileEvent)

	if w.handler != nil {
		go w.handler(events)
	}

	w.logger.Debug().Int("count", len(events)).Msg("Flushed file events")
}
