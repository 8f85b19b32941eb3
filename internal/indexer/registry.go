package indexer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/cardigann"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/types"
)

var (
	ErrIndexerNotFound    = errors.New("indexer not found")
	ErrUnsupportedAdapter = errors.New("unsupported indexer implementation")
)

// DefinitionSource resolves Cardigann definitions by id.
type DefinitionSource interface {
	Definition(id string) (*cardigann.Definition, error)
}

// ExecutorFactory creates the HTTP executor for one indexer.
type ExecutorFactory interface {
	For(indexer *types.IndexerDefinition, encoding string) (Executor, error)
}

// ExecutorFactoryFunc adapts a function to ExecutorFactory.
type ExecutorFactoryFunc func(indexer *types.IndexerDefinition, encoding string) (Executor, error)

// For implements ExecutorFactory.
func (f ExecutorFactoryFunc) For(indexer *types.IndexerDefinition, encoding string) (Executor, error) {
	return f(indexer, encoding)
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Definitions DefinitionSource
	Executors   ExecutorFactory
	Cookies     cardigann.CookieStore // optional session persistence
	SizePolicy  parser.SizePolicy     // default zero-size handling
	MaxPages    int                   // page bound for API adapters
	Logger      zerolog.Logger
}

type entry struct {
	indexer *types.IndexerDefinition
	adapter Adapter
	def     *cardigann.Definition // definition the adapter was built from
}

// Registry holds the configured indexers and builds their adapters on
// first use. Cardigann adapters are rebuilt when their definition changes.
type Registry struct {
	cfg    RegistryConfig
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[int64]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "indexer-registry").Logger(),
		entries: make(map[int64]*entry),
	}
}

// Load replaces the configured indexers. Adapters of indexers whose
// configuration is unchanged are kept.
func (r *Registry) Load(indexers []types.IndexerDefinition) error {
	seen := make(map[int64]bool, len(indexers))
	for _, ix := range indexers {
		if ix.ID <= 0 {
			return types.NewConfigError("indexer %q: id must be positive", ix.Name)
		}
		if seen[ix.ID] {
			return types.NewConfigError("duplicate indexer id %d", ix.ID)
		}
		seen[ix.ID] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[int64]*entry, len(indexers))
	for i := range indexers {
		ix := indexers[i]
		if old, ok := r.entries[ix.ID]; ok && sameConfig(old.indexer, &ix) {
			next[ix.ID] = old
			continue
		}
		next[ix.ID] = &entry{indexer: &ix}
	}
	r.entries = next
	r.logger.Info().Int("count", len(next)).Msg("Loaded indexers")
	return nil
}

func sameConfig(a, b *types.IndexerDefinition) bool {
	if a.Name != b.Name || a.Implementation != b.Implementation || a.DefinitionID != b.DefinitionID ||
		a.Protocol != b.Protocol || a.Privacy != b.Privacy || a.Enabled != b.Enabled || a.Priority != b.Priority {
		return false
	}
	if !slices.Equal(a.BaseURLs, b.BaseURLs) || !slices.Equal(a.Tags, b.Tags) || len(a.Settings) != len(b.Settings) {
		return false
	}
	for k, v := range a.Settings {
		if bv, ok := b.Settings[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Indexers returns every configured indexer ordered by priority, then id.
func (r *Registry) Indexers() []*types.IndexerDefinition {
	r.mu.Lock()
	out := make([]*types.IndexerDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.indexer)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b *types.IndexerDefinition) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Enabled returns the enabled indexers in candidate order.
func (r *Registry) Enabled() []*types.IndexerDefinition {
	all := r.Indexers()
	out := all[:0]
	for _, ix := range all {
		if ix.Enabled {
			out = append(out, ix)
		}
	}
	return out
}

// Get returns the configured indexer.
func (r *Registry) Get(id int64) (*types.IndexerDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrIndexerNotFound, id)
	}
	return e.indexer, nil
}

// Adapter returns the adapter for id, building it if needed.
func (r *Registry) Adapter(id int64) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrIndexerNotFound, id)
	}

	var def *cardigann.Definition
	if e.indexer.Implementation == types.ImplementationCardigann {
		if r.cfg.Definitions == nil {
			return nil, types.NewConfigError("indexer %s: no definition source", e.indexer.Name)
		}
		var err error
		def, err = r.cfg.Definitions.Definition(e.indexer.DefinitionID)
		if err != nil {
			return nil, types.Attribute(types.NewConfigError("definition %q: %v", e.indexer.DefinitionID, err), e.indexer.ID, e.indexer.Name)
		}
	}
	if e.adapter != nil && e.def == def {
		return e.adapter, nil
	}

	adapter, err := r.build(e.indexer, def)
	if err != nil {
		return nil, types.Attribute(err, e.indexer.ID, e.indexer.Name)
	}
	if e.adapter != nil {
		r.logger.Debug().Int64("indexerId", id).Msg("Definition changed, rebuilt adapter")
	}
	e.adapter = adapter
	e.def = def
	return adapter, nil
}

func (r *Registry) build(ix *types.IndexerDefinition, def *cardigann.Definition) (Adapter, error) {
	if r.cfg.Executors == nil {
		return nil, types.NewConfigError("no executor factory")
	}
	policy := sizePolicy(ix, r.cfg.SizePolicy)

	switch ix.Implementation {
	case types.ImplementationCardigann:
		if err := def.Validate(); err != nil {
			return nil, err
		}
		exec, err := r.cfg.Executors.For(ix, def.Encoding)
		if err != nil {
			return nil, err
		}
		client, err := cardigann.NewClient(cardigann.ClientConfig{
			Definition: def,
			Indexer:    ix,
			Executor:   exec,
			Cookies:    r.cfg.Cookies,
			SizePolicy: policy,
			Logger:     r.cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return &cardigannAdapter{Client: client, exec: exec}, nil

	case types.ImplementationNewznab, types.ImplementationTorznab:
		exec, err := r.cfg.Executors.For(ix, "")
		if err != nil {
			return nil, err
		}
		return newNewznabAdapter(ix, exec, policy, r.cfg.MaxPages, r.cfg.Logger)

	case types.ImplementationRSS:
		exec, err := r.cfg.Executors.For(ix, "")
		if err != nil {
			return nil, err
		}
		return newRSSAdapter(ix, exec, policy, r.cfg.Logger)

	default:
		return nil, types.NewConfigError("%v %q", ErrUnsupportedAdapter, ix.Implementation)
	}
}

// Test builds the adapter for id and runs its connectivity check.
func (r *Registry) Test(ctx context.Context, id int64) error {
	adapter, err := r.Adapter(id)
	if err != nil {
		return err
	}
	if t, ok := adapter.(Tester); ok {
		return t.Test(ctx)
	}
	return nil
}
