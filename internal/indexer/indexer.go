// Package indexer assembles per-site adapters from configured indexer
// definitions.
package indexer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/slipstream/searchd/internal/indexer/capabilities"
	"github.com/slipstream/searchd/internal/indexer/cardigann"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// Executor performs requests for one indexer.
type Executor = cardigann.Executor

// Adapter is everything the search aggregator needs to query one indexer.
type Adapter interface {
	Definition() *types.IndexerDefinition
	Capabilities() *capabilities.Capabilities
	RequestGenerator() request.Generator
	ResponseParser() parser.Parser
	Executor() Executor
}

// Authenticator is implemented by adapters that keep a login session.
type Authenticator interface {
	Authenticate(ctx context.Context) error
	NeedsLogin(resp *parser.IndexerResponse) bool
	InvalidateSession()
}

// Preparer is implemented by adapters that must load remote state, such as
// a capabilities document, before the first search.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Tester verifies connectivity and credentials.
type Tester interface {
	Test(ctx context.Context) error
}

// Throttled is implemented by adapters that declare their own minimum
// spacing between requests.
type Throttled interface {
	MinInterval() time.Duration
}

// sizePolicy reads the per-indexer zero-size handling, falling back to def.
func sizePolicy(indexer *types.IndexerDefinition, def parser.SizePolicy) parser.SizePolicy {
	p := def
	if v, ok := indexer.Settings["allowZeroSize"]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			p.AllowZero = b
		}
	}
	if v, ok := indexer.Settings["defaultSize"]; ok {
		if mb, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && mb >= 0 {
			p.DefaultSize = mb << 20
		}
	}
	return p
}

// cardigannAdapter binds a definition-driven client to its executor.
type cardigannAdapter struct {
	*cardigann.Client
	exec Executor
}

func (a *cardigannAdapter) Executor() Executor { return a.exec }

// MinInterval honours the definition's requestDelay, in seconds.
func (a *cardigannAdapter) MinInterval() time.Duration {
	return time.Duration(a.Cardigann().RequestDelay * float64(time.Second))
}
