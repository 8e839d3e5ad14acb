// Package similarity provides cosine distance and catalog ranking.
package similarity

import (
	"math"
	"sort"

	"github.com/verdantlabs/leafid/internal/catalog"
)

// ScoredMatch is a single ranking hit. Distance grows with dissimilarity:
// 0 = identical direction, 1 = orthogonal, up to 2 = opposite.
type ScoredMatch struct {
	ID       string
	Distance float64
}

// Options tunes a ranking pass.
type Options struct {
	// Ceiling is the hard admissibility cutoff: entries with distance above
	// it are excluded regardless of rank.
	Ceiling float64
	// TopK caps the result length; <= 0 means unlimited.
	TopK int
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped
// to [-1, 1]. If either vector has zero magnitude (or lengths differ), the
// similarity is 0, never NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, s))
}

// CosineDistance returns 1 - CosineSimilarity(a, b), in [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// Rank scores every catalog entry against the query with cosine distance,
// keeps entries within the ceiling, and returns them ascending by distance
// (ties broken by id) capped at TopK. A brute-force O(N*D) scan: the catalog
// is tens to low hundreds of entries, so no approximate index is warranted.
func Rank(query []float32, cat *catalog.Catalog, opts Options) []ScoredMatch {
	entries := cat.All()
	matches := make([]ScoredMatch, 0, len(entries))
	for _, e := range entries {
		d := CosineDistance(query, e.Vector)
		if d <= opts.Ceiling {
			matches = append(matches, ScoredMatch{ID: e.ID, Distance: d})
		}
	}
	SortMatches(matches)
	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches
}

// SortMatches orders matches ascending by distance, ties broken by id for
// determinism.
func SortMatches(matches []ScoredMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
}
