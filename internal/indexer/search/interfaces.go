package search

import (
	"context"
	"time"

	"github.com/slipstream/searchd/internal/indexer"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// IndexerSource resolves the configured indexers and their adapters.
type IndexerSource interface {
	Enabled() []*types.IndexerDefinition
	Get(id int64) (*types.IndexerDefinition, error)
	Adapter(id int64) (indexer.Adapter, error)
}

// StatusTracker gates dispatch on indexer health and records outcomes.
type StatusTracker interface {
	IsDisabled(ctx context.Context, indexerID int64) (bool, *time.Time, error)
	RecordSuccess(ctx context.Context, indexerID int64) error
	RecordFailure(ctx context.Context, indexerID int64, err error, startedAt time.Time) (*types.IndexerStatus, error)
}

// Pacer spaces requests to one indexer and enforces its query budget.
type Pacer interface {
	Wait(ctx context.Context, indexerID int64, minInterval time.Duration) error
	Allow(indexerID int64, limit int) bool
}

// Searcher is the inbound search entrypoint.
type Searcher interface {
	Search(ctx context.Context, req Request) (*Result, error)
}
