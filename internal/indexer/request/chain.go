package request

import (
	"iter"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// Batch is a lazily produced sequence of page requests. Consumers stop
// iterating once a page comes back short.
type Batch = iter.Seq[*IndexerRequest]

// Chain is an ordered list of tiers, each holding one or more batches.
// Every batch in every tier is executed; results are deduplicated downstream.
type Chain struct {
	tiers [][]Batch
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddTier appends a tier. Nil batches are ignored and an empty tier is not added.
func (c *Chain) AddTier(batches ...Batch) *Chain {
	tier := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b != nil {
			tier = append(tier, b)
		}
	}
	if len(tier) > 0 {
		c.tiers = append(c.tiers, tier)
	}
	return c
}

// Tiers returns all tiers in order.
func (c *Chain) Tiers() [][]Batch {
	return c.tiers
}

// Tier returns tier i.
func (c *Chain) Tier(i int) []Batch {
	if i < 0 || i >= len(c.tiers) {
		return nil
	}
	return c.tiers[i]
}

// Len returns the number of tiers.
func (c *Chain) Len() int {
	return len(c.tiers)
}

// BatchCount returns the number of batches across all tiers.
func (c *Chain) BatchCount() int {
	n := 0
	for _, t := range c.tiers {
		n += len(t)
	}
	return n
}

// Batches iterates every batch of every tier in order, with its tier index.
func (c *Chain) Batches() iter.Seq2[int, Batch] {
	return func(yield func(int, Batch) bool) {
		for i, tier := range c.tiers {
			for _, b := range tier {
				if !yield(i, b) {
					return
				}
			}
		}
	}
}

// Single wraps one request as a batch.
func Single(req *IndexerRequest) Batch {
	return func(yield func(*IndexerRequest) bool) {
		yield(req)
	}
}

// Pages yields up to maxPages requests built for successive offsets,
// starting at offset. Nothing is built until the consumer asks for it.
func Pages(offset, pageSize, maxPages int, build func(offset, limit int) *IndexerRequest) Batch {
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 1
	}
	return func(yield func(*IndexerRequest) bool) {
		for page := range maxPages {
			req := build(offset+page*pageSize, pageSize)
			if req == nil {
				return
			}
			req.PageSize = pageSize
			if !yield(req) {
				return
			}
		}
	}
}

// Generator turns search criteria into request chains.
type Generator interface {
	GenerateSearch(criteria types.SearchCriteria) (*Chain, error)
	GenerateRecent() (*Chain, error)
}
