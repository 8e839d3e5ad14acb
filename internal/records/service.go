// Package records provides the write path for records: store persistence
// plus full-text index maintenance, kept in step on every mutation.
package records

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/verdantlabs/leafid/internal/keyword"
	"github.com/verdantlabs/leafid/internal/models"
	"github.com/verdantlabs/leafid/internal/store"
)

// Service writes records through the store and mirrors them into the
// full-text index. The store emits change notifications on every mutation,
// which is what wakes the live index maintainer.
type Service struct {
	store    store.Store
	keywords keyword.Index
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for write-path events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a record service. keywords may be nil to disable
// full-text indexing.
func NewService(st store.Store, kw keyword.Index, opts ...Option) *Service {
	s := &Service{store: st, keywords: kw}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert validates the input, writes the record (insert or update by natural
// key), and indexes it for text search.
func (s *Service) Upsert(ctx context.Context, in *models.RecordInput) (*models.Record, error) {
	rec, err := in.Record()
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	if err := s.indexKeywords(ctx, rec); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Debug("record upserted",
			zap.String("id", rec.ID), zap.String("natural_key", rec.NaturalKey))
	}
	return rec, nil
}

func (s *Service) indexKeywords(ctx context.Context, rec *models.Record) error {
	if s.keywords == nil {
		return nil
	}
	doc := &keyword.IndexedRecord{
		Name:          rec.Name,
		SecondaryName: rec.SecondaryName,
		Text:          rec.SearchText(),
	}
	if err := s.keywords.Index(ctx, rec.ID, doc); err != nil {
		return fmt.Errorf("failed to index record text: %w", err)
	}
	return nil
}

// Delete removes a record from the store and the full-text index.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.keywords != nil {
		if err := s.keywords.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from text index: %w", err)
		}
	}
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug("record deleted", zap.String("id", id))
	}
	return nil
}

// DeleteByNaturalKey removes the record with the given natural key. A missing
// record is not an error.
func (s *Service) DeleteByNaturalKey(ctx context.Context, key string) error {
	rec, err := s.store.GetByNaturalKey(ctx, key)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Delete(ctx, rec.ID)
}

// ReindexKeywords rebuilds the full-text index from the store, used after
// the index directory is opened empty.
func (s *Service) ReindexKeywords(ctx context.Context) (int, error) {
	if s.keywords == nil {
		return 0, nil
	}
	const page = 200
	n := 0
	for offset := 0; ; offset += page {
		recs, err := s.store.ListRecords(ctx, offset, page)
		if err != nil {
			return n, err
		}
		if len(recs) == 0 {
			return n, nil
		}
		for _, rec := range recs {
			if err := s.indexKeywords(ctx, rec); err != nil {
				return n, err
			}
			n++
		}
	}
}
