// Package catalog holds the precomputed reference-embedding catalog, loaded
// once from a bundled artifact and read-only for the process lifetime.
package catalog

// ReferenceEmbedding is one precomputed catalog entry. Vectors are immutable
// after load; callers must not modify them.
type ReferenceEmbedding struct {
	ID            string
	Name          string
	SecondaryName string
	Vector        []float32
	// ContentDigest identifies the source image the vector was computed from.
	// Informational only; not used for invalidation.
	ContentDigest string
}

// Catalog is a read-only set of reference embeddings with a fixed dimension.
type Catalog struct {
	dimensions int
	entries    []*ReferenceEmbedding
	byID       map[string]*ReferenceEmbedding
}

// NewEmpty returns a catalog with no entries. This is the degraded mode after
// a malformed artifact: searches find nothing, nothing crashes.
func NewEmpty(dimensions int) *Catalog {
	return &Catalog{
		dimensions: dimensions,
		byID:       make(map[string]*ReferenceEmbedding),
	}
}

// Get returns the entry with the given id, if present.
func (c *Catalog) Get(id string) (*ReferenceEmbedding, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// All returns the entries in artifact order. The returned slice is a copy;
// the entries themselves are shared and must be treated as read-only.
func (c *Catalog) All() []*ReferenceEmbedding {
	return append([]*ReferenceEmbedding(nil), c.entries...)
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Dimensions returns the fixed vector dimension.
func (c *Catalog) Dimensions() int {
	return c.dimensions
}
