// Package vector provides the in-memory serving index for live (non-precomputed)
// collections. The record store owns the durable copy of every vector; this
// index is a rebuildable mirror used for brute-force search.
package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/verdantlabs/leafid/internal/similarity"
)

// Index is a brute-force vector index over live record embeddings. Safe for
// concurrent use; writes come only from the index maintainer.
type Index struct {
	name       string
	dimensions int

	mu      sync.RWMutex
	ids     []string
	pos     map[string]int
	vectors [][]float32
}

// NewIndex creates an empty index with the given name and dimension.
func NewIndex(name string, dimensions int) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Index{
		name:       name,
		dimensions: dimensions,
		pos:        make(map[string]int),
	}, nil
}

// Name returns the index name.
func (x *Index) Name() string { return x.name }

// Dimensions returns the fixed vector dimension.
func (x *Index) Dimensions() int { return x.dimensions }

// Upsert inserts or replaces vectors by id. Re-upserting the same pairs is
// idempotent, which makes retried index batches safe.
func (x *Index) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != x.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), x.dimensions)
		}
		vec := make([]float32, x.dimensions)
		copy(vec, vectors[i])
		if p, ok := x.pos[id]; ok {
			x.vectors[p] = vec
			continue
		}
		x.pos[id] = len(x.ids)
		x.ids = append(x.ids, id)
		x.vectors = append(x.vectors, vec)
	}
	return nil
}

// Search returns the k nearest vectors by cosine distance, ascending.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]similarity.ScoredMatch, error) {
	if len(query) != x.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dimensions)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.ids) == 0 {
		return nil, nil
	}
	matches := make([]similarity.ScoredMatch, len(x.ids))
	for i, vec := range x.vectors {
		matches[i] = similarity.ScoredMatch{
			ID:       x.ids[i],
			Distance: similarity.CosineDistance(query, vec),
		}
	}
	similarity.SortMatches(matches)
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// Remove deletes vectors by id; unknown ids are ignored.
func (x *Index) Remove(ctx context.Context, ids []string) error {
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	newIDs := make([]string, 0, len(x.ids))
	newVectors := make([][]float32, 0, len(x.vectors))
	for i, id := range x.ids {
		if !removeSet[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, x.vectors[i])
		}
	}
	x.ids = newIDs
	x.vectors = newVectors
	x.pos = make(map[string]int, len(newIDs))
	for i, id := range newIDs {
		x.pos[id] = i
	}
	return nil
}

// Size returns the number of vectors in the index.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}
