package transport

import (
	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/interceptor"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// Factory builds executors that share the rate limiter and solver.
type Factory struct {
	cfg     Config
	limiter interceptor.Deferrer
	solver  *interceptor.Solver
	logger  zerolog.Logger
}

// NewFactory creates a factory. limiter and solver may be nil.
func NewFactory(cfg Config, limiter interceptor.Deferrer, solver *interceptor.Solver, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, limiter: limiter, solver: solver, logger: logger}
}

// For returns a new executor for def. encoding forces a response charset
// when non-empty.
func (f *Factory) For(def *types.IndexerDefinition, encoding string) (*Executor, error) {
	return New(f.cfg, Options{
		Indexer:  def,
		Limiter:  f.limiter,
		Solver:   f.solver,
		Encoding: encoding,
	}, f.logger)
}
