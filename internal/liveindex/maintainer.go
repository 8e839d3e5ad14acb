// Package liveindex keeps live (non-precomputed) vector indexes consistent
// with the record store.
package liveindex

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/leafid/internal/embedding"
	"github.com/verdantlabs/leafid/internal/store"
	"github.com/verdantlabs/leafid/internal/vector"
)

const (
	defaultBatchSize     = 5
	defaultYieldInterval = 200 * time.Millisecond
)

// Maintainer drives one named vector index: it fetches bounded batches of
// unindexed records, embeds their images, and commits the vectors, pausing
// between batches so background indexing never starves interactive use.
// Exactly one maintenance loop runs per Maintainer; notifications arriving
// mid-pass coalesce into a single rerun.
type Maintainer struct {
	indexName string
	store     store.Store
	embedder  embedding.Embedder
	mirror    *vector.Index
	batchSize int
	yield     time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	rerun   bool
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithBatchSize sets the number of records fetched per batch.
func WithBatchSize(n int) Option {
	return func(m *Maintainer) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithYieldInterval sets the cooperative pause between committed batches.
func WithYieldInterval(d time.Duration) Option {
	return func(m *Maintainer) {
		if d > 0 {
			m.yield = d
		}
	}
}

// WithMirror sets an in-memory serving index updated alongside each commit.
func WithMirror(x *vector.Index) Option {
	return func(m *Maintainer) { m.mirror = x }
}

// WithLogger sets a logger for maintenance events.
func WithLogger(l *zap.Logger) Option {
	return func(m *Maintainer) { m.logger = l }
}

// NewMaintainer creates a maintainer for the named index.
func NewMaintainer(indexName string, st store.Store, emb embedding.Embedder, opts ...Option) *Maintainer {
	m := &Maintainer{
		indexName: indexName,
		store:     st,
		embedder:  emb,
		batchSize: defaultBatchSize,
		yield:     defaultYieldInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start kicks an initial pass and then reruns on every store change
// notification until ctx is cancelled. Delete notifications also drop the
// record's vector from the serving mirror; the durable entry is already gone,
// and a stale mirror vector would keep shadowing real matches until restart.
func (m *Maintainer) Start(ctx context.Context) {
	m.Notify(ctx)
	go func() {
		changes := m.store.Changes()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-changes:
				if !ok {
					return
				}
				if c.Type == store.ChangeDelete {
					m.dropFromMirror(ctx, c.RecordID)
				}
				m.Notify(ctx)
			}
		}
	}()
}

func (m *Maintainer) dropFromMirror(ctx context.Context, recordID string) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Remove(ctx, []string{recordID}); err != nil && m.logger != nil {
		m.logger.Warn("serving index removal failed",
			zap.String("index", m.indexName),
			zap.String("record_id", recordID),
			zap.Error(err))
	}
}

// Notify requests a maintenance pass. If a pass is already running, it is
// marked to run again after the current one completes; a second concurrent
// loop is never spawned.
func (m *Maintainer) Notify(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.rerun = true
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go func() {
		for {
			if err := m.Sync(ctx); err != nil && m.logger != nil {
				m.logger.Warn("index maintenance pass failed",
					zap.String("index", m.indexName), zap.Error(err))
			}
			m.mu.Lock()
			if m.rerun && ctx.Err() == nil {
				m.rerun = false
				m.mu.Unlock()
				continue
			}
			m.running = false
			m.mu.Unlock()
			return
		}
	}()
}

// Sync runs batches until the index is caught up. A missing index is a
// legitimate no-op (the collection is served by the precomputed catalog).
// A batch where nothing embeds stops the pass; the failed records stay
// eligible and are retried on the next notification.
func (m *Maintainer) Sync(ctx context.Context) error {
	for {
		committed, done, err := m.RunBatch(ctx)
		if errors.Is(err, store.ErrIndexMissing) {
			if m.logger != nil {
				m.logger.Debug("index not registered, skipping maintenance",
					zap.String("index", m.indexName))
			}
			return nil
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if committed == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.yield):
		}
	}
}

// RunBatch processes one batch: fetch up to batchSize unindexed records,
// embed each image, and commit every vector obtained in one transaction.
// A record that fails to embed is logged and left for a later pass; it does
// not abort the batch. Returns the number of vectors committed and whether
// the index is fully caught up.
func (m *Maintainer) RunBatch(ctx context.Context) (committed int, done bool, err error) {
	recs, err := m.store.ListUnindexed(ctx, m.indexName, m.batchSize)
	if err != nil {
		return 0, false, err
	}
	if len(recs) == 0 {
		return 0, true, nil
	}

	entries := make([]store.VectorEntry, 0, len(recs))
	for _, rec := range recs {
		vec, embErr := embedding.DecodeAndEmbed(ctx, m.embedder, rec.Image)
		if embErr != nil {
			if m.logger != nil {
				m.logger.Warn("record embedding failed",
					zap.String("index", m.indexName),
					zap.String("record_id", rec.ID),
					zap.Error(embErr))
			}
			continue
		}
		entries = append(entries, store.VectorEntry{RecordID: rec.ID, Vector: vec})
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	if err := m.store.CommitVectors(ctx, m.indexName, entries); err != nil {
		return 0, false, err
	}
	if m.mirror != nil {
		ids := make([]string, len(entries))
		vecs := make([][]float32, len(entries))
		for i, e := range entries {
			ids[i] = e.RecordID
			vecs[i] = e.Vector
		}
		if err := m.mirror.Upsert(ctx, ids, vecs); err != nil && m.logger != nil {
			m.logger.Warn("serving index update failed",
				zap.String("index", m.indexName), zap.Error(err))
		}
	}
	if m.logger != nil {
		m.logger.Debug("index batch committed",
			zap.String("index", m.indexName),
			zap.Int("committed", len(entries)),
			zap.Int("fetched", len(recs)))
	}
	return len(entries), false, nil
}
