// Package retrieval orchestrates identification requests across the
// embedding catalog, the live vector index, and the record store.
package retrieval

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/leafid/internal/catalog"
	"github.com/verdantlabs/leafid/internal/config"
	"github.com/verdantlabs/leafid/internal/embedding"
	"github.com/verdantlabs/leafid/internal/keyword"
	"github.com/verdantlabs/leafid/internal/models"
	"github.com/verdantlabs/leafid/internal/similarity"
	"github.com/verdantlabs/leafid/internal/store"
	"github.com/verdantlabs/leafid/internal/vector"
)

// Coordinator runs identification queries. The read path is stateless and
// safe for concurrent callers; all state lives in the injected collaborators.
//
// Failure policy: collaborator errors (store, inference) are swallowed at
// this boundary and reduce the result set. Callers only ever see a list of
// matches, possibly empty; an empty list means "no confident identification",
// never an error.
type Coordinator struct {
	loader     *catalog.Loader
	embedder   embedding.Embedder
	store      store.Store
	keywords   keyword.Index
	live       *vector.Index
	policy     config.IdentifyConfig
	zoomLevels []float64
	logger     *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithKeywordIndex enables text search.
func WithKeywordIndex(idx keyword.Index) Option {
	return func(c *Coordinator) { c.keywords = idx }
}

// WithLiveIndex enables the live-embedding tier, consulted when the
// precomputed catalog has no admissible match.
func WithLiveIndex(x *vector.Index) Option {
	return func(c *Coordinator) { c.live = x }
}

// WithLogger sets a logger for retrieval diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator with the given dependencies.
func New(
	loader *catalog.Loader,
	emb embedding.Embedder,
	st store.Store,
	policy config.IdentifyConfig,
	zoomLevels []float64,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		loader:     loader,
		embedder:   emb,
		store:      st,
		policy:     policy,
		zoomLevels: zoomLevels,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identify ranks each query variant, in the caller's priority order, against
// the reference embeddings. The first variant with any admissible match wins
// and later variants are not evaluated: the least-processed view is preferred
// whenever it is already confident. The winning list is tightened relative to
// its best distance, then hydrated. Returns the matches and the index of the
// winning variant (-1 when there is none).
func (c *Coordinator) Identify(ctx context.Context, variants []embedding.QueryVector) ([]*models.Identification, int) {
	i := 0
	return c.identify(ctx, func(context.Context) (embedding.QueryVector, bool) {
		if i >= len(variants) {
			return embedding.QueryVector{}, false
		}
		v := variants[i]
		i++
		return v, true
	})
}

// identify consumes variants lazily from next, so that losing variants that
// were never needed are never produced (and never embedded).
func (c *Coordinator) identify(ctx context.Context, next func(context.Context) (embedding.QueryVector, bool)) ([]*models.Identification, int) {
	cat := c.loader.Catalog()
	rankOpts := similarity.Options{Ceiling: c.policy.DistanceCeiling, TopK: c.policy.TopK}
	for i := 0; ; i++ {
		v, ok := next(ctx)
		if !ok {
			return nil, -1
		}
		matches := similarity.Rank(v.Values, cat, rankOpts)
		fromCatalog := true
		if len(matches) == 0 && c.live != nil {
			matches = c.rankLive(ctx, v.Values)
			fromCatalog = false
		}
		if len(matches) == 0 {
			continue
		}
		matches = Tighten(matches, c.policy.TightenRatio)
		return c.hydrate(ctx, matches, fromCatalog), i
	}
}

// rankLive searches the live index and applies the same admissibility
// ceiling as the catalog tier. Errors reduce to "no matches".
func (c *Coordinator) rankLive(ctx context.Context, query []float32) []similarity.ScoredMatch {
	results, err := c.live.Search(ctx, query, c.policy.TopK)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("live index search failed", zap.Error(err))
		}
		return nil
	}
	admissible := results[:0]
	for _, m := range results {
		if m.Distance <= c.policy.DistanceCeiling {
			admissible = append(admissible, m)
		}
	}
	return admissible
}

// Tighten keeps only matches within bestDistance x ratio. The input must be
// sorted ascending by distance. This second filter removes also-rans that
// cleared the absolute ceiling but are clearly worse than the best candidate,
// so a weak multi-match result never looks like several equally valid
// identifications.
func Tighten(matches []similarity.ScoredMatch, ratio float64) []similarity.ScoredMatch {
	if len(matches) == 0 {
		return matches
	}
	cutoff := matches[0].Distance * ratio
	kept := matches[:0]
	for _, m := range matches {
		if m.Distance <= cutoff {
			kept = append(kept, m)
		}
	}
	return kept
}

// hydrate maps match ids to full records. Catalog ids are natural keys; live
// index ids are record ids. Ids with no corresponding record are dropped
// silently: store/catalog drift is not fatal.
func (c *Coordinator) hydrate(ctx context.Context, matches []similarity.ScoredMatch, fromCatalog bool) []*models.Identification {
	out := make([]*models.Identification, 0, len(matches))
	for _, m := range matches {
		var rec *models.Record
		var err error
		if fromCatalog {
			rec, err = c.store.GetByNaturalKey(ctx, m.ID)
		} else {
			rec, err = c.store.GetRecord(ctx, m.ID)
		}
		if err != nil {
			if c.logger != nil && err != store.ErrNotFound {
				c.logger.Warn("record hydration failed", zap.String("id", m.ID), zap.Error(err))
			}
			continue
		}
		out = append(out, &models.Identification{
			Record:   rec,
			Distance: m.Distance,
			Rank:     len(out) + 1,
		})
	}
	return out
}

// IdentifyByImage identifies against the whole frame first and only embeds
// the configured center-zoom fallbacks when earlier variants find nothing.
// A variant whose embedding fails is skipped; if every variant fails the
// response is empty.
func (c *Coordinator) IdentifyByImage(ctx context.Context, img image.Image) *models.IdentifyResponse {
	start := time.Now()
	stream := embedding.NewVariantStream(c.embedder, img, c.zoomLevels, c.logger)
	matches, winner := c.identify(ctx, stream.Next)
	return &models.IdentifyResponse{
		Matches:   matches,
		Variant:   winner,
		QueryTime: time.Since(start).Milliseconds(),
	}
}

// IdentifyByText delegates to the full-text index and hydrates the hits.
// Returns an empty response when no keyword index is configured.
func (c *Coordinator) IdentifyByText(ctx context.Context, query string, limit int) *models.SearchResponse {
	start := time.Now()
	resp := &models.SearchResponse{Query: query}
	if c.keywords == nil || query == "" {
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp
	}
	if limit <= 0 {
		limit = c.policy.TopK
	}
	ids, err := c.keywords.Search(ctx, query, limit)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("text search failed", zap.String("query", query), zap.Error(err))
		}
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp
	}
	for _, id := range ids {
		rec, err := c.store.GetRecord(ctx, id)
		if err != nil {
			continue
		}
		resp.Results = append(resp.Results, rec)
	}
	resp.Total = len(resp.Results)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp
}
