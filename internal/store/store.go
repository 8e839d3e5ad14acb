// Package store defines the persistence interface for records and live
// vector indexes.
package store

import (
	"context"
	"errors"

	"github.com/verdantlabs/leafid/internal/models"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("record not found")

// ErrIndexMissing reports an unknown vector index name. Callers maintaining
// live indexes treat it as a legitimate no-op branch, not a failure.
var ErrIndexMissing = errors.New("vector index missing")

// ChangeType discriminates change notifications.
type ChangeType int

const (
	// ChangeUpsert is emitted after a record is created or updated.
	ChangeUpsert ChangeType = iota
	// ChangeDelete is emitted after a record is deleted.
	ChangeDelete
)

// Change is a record change notification.
type Change struct {
	Type     ChangeType
	RecordID string
}

// VectorEntry is one persisted (record, vector) pair of a named index.
type VectorEntry struct {
	RecordID string
	Vector   []float32
}

// Store defines record persistence, vector-index bookkeeping, and change
// notification operations.
type Store interface {
	// Record operations
	CreateRecord(ctx context.Context, rec *models.Record) error
	UpsertRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	GetByNaturalKey(ctx context.Context, key string) (*models.Record, error)
	DeleteRecord(ctx context.Context, id string) error
	DeleteByNaturalKey(ctx context.Context, key string) error
	ListRecords(ctx context.Context, offset, limit int) ([]*models.Record, error)
	CountRecords(ctx context.Context) (int64, error)

	// Vector index operations
	CreateVectorIndex(ctx context.Context, name string, dimensions int) error
	// ListUnindexed returns up to limit records carrying an image whose
	// vector entry for the named index is absent or older than the record.
	// Returns ErrIndexMissing for an unknown index name.
	ListUnindexed(ctx context.Context, indexName string, limit int) ([]*models.Record, error)
	// CommitVectors writes the entries transactionally as one unit. Upserts
	// by (index, record), so a retried batch converges to the same state.
	CommitVectors(ctx context.Context, indexName string, entries []VectorEntry) error
	ListVectors(ctx context.Context, indexName string) ([]VectorEntry, error)
	CountVectors(ctx context.Context, indexName string) (int64, error)

	// Changes returns the change notification stream. Notifications are
	// best-effort: slow consumers may miss events and must reconcile by
	// listing unindexed records.
	Changes() <-chan Change

	Close() error
}
