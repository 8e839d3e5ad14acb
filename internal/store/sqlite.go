package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/verdantlabs/leafid/internal/models"
	"github.com/verdantlabs/leafid/pkg/utils"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	changes chan Change
}

const changeBuffer = 64

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer connection: sqlite serializes writers anyway, and funneling
	// through a single connection avoids SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{
		db:      db,
		changes: make(chan Change, changeBuffer),
	}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		secondary_name TEXT,
		natural_key TEXT NOT NULL UNIQUE,
		care TEXT,
		description TEXT,
		image BLOB,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at);

	CREATE TABLE IF NOT EXISTS vector_indexes (
		name TEXT PRIMARY KEY,
		dimensions INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vector_entries (
		index_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		vector BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (index_name, record_id),
		FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// notify publishes a change without blocking; a full buffer drops the event
// (consumers reconcile via ListUnindexed).
func (s *SQLiteStore) notify(c Change) {
	select {
	case s.changes <- c:
	default:
	}
}

// Changes returns the change notification stream. Intended for a single
// consumer (the index maintainer).
func (s *SQLiteStore) Changes() <-chan Change {
	return s.changes
}

// CreateRecord inserts a record, generating an id when absent.
func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	care, metadata, err := marshalFields(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, kind, name, secondary_name, natural_key, care, description, image, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Name, rec.SecondaryName, rec.NaturalKey,
		care, rec.Description, rec.Image, metadata, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	s.notify(Change{Type: ChangeUpsert, RecordID: rec.ID})
	return nil
}

// UpsertRecord inserts the record or, when its natural key already exists,
// updates the existing row in place (keeping its id and created_at). A single
// ON CONFLICT statement, so concurrent upserts of the same new key cannot
// race into a UNIQUE violation. The bumped updated_at makes the record
// eligible for re-indexing.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now()
	care, metadata, err := marshalFields(rec)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO records (id, kind, name, secondary_name, natural_key, care, description, image, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(natural_key) DO UPDATE SET
		   kind = excluded.kind, name = excluded.name, secondary_name = excluded.secondary_name,
		   care = excluded.care, description = excluded.description, image = excluded.image,
		   metadata = excluded.metadata, updated_at = excluded.updated_at
		 RETURNING id, created_at`,
		rec.ID, string(rec.Kind), rec.Name, rec.SecondaryName, rec.NaturalKey,
		care, rec.Description, rec.Image, metadata, now.UnixNano(), now.UnixNano(),
	)
	var createdNS int64
	if err := row.Scan(&rec.ID, &createdNS); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdNS)
	rec.UpdatedAt = now
	s.notify(Change{Type: ChangeUpsert, RecordID: rec.ID})
	return nil
}

// GetRecord returns the record with the given id, or ErrNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id)
	return scanRecord(row)
}

// GetByNaturalKey returns the record with the given natural key, or ErrNotFound.
func (s *SQLiteStore) GetByNaturalKey(ctx context.Context, key string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE natural_key = ?`, key)
	return scanRecord(row)
}

// DeleteRecord removes a record and its vector entries.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vector_entries WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete vector entries: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify(Change{Type: ChangeDelete, RecordID: id})
	return nil
}

// DeleteByNaturalKey removes the record with the given natural key.
func (s *SQLiteStore) DeleteByNaturalKey(ctx context.Context, key string) error {
	rec, err := s.GetByNaturalKey(ctx, key)
	if err != nil {
		return err
	}
	return s.DeleteRecord(ctx, rec.ID)
}

// ListRecords returns records ordered by creation time.
func (s *SQLiteStore) ListRecords(ctx context.Context, offset, limit int) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRecord+` ORDER BY created_at ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountRecords returns the number of stored records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// CreateVectorIndex registers a named vector index. Re-creating an existing
// index with the same dimension is a no-op.
func (s *SQLiteStore) CreateVectorIndex(ctx context.Context, name string, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	var existing int
	err := s.db.QueryRowContext(ctx, `SELECT dimensions FROM vector_indexes WHERE name = ?`, name).Scan(&existing)
	if err == nil {
		if existing != dimensions {
			return fmt.Errorf("index %q exists with dimensions %d, want %d", name, existing, dimensions)
		}
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to query index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vector_indexes (name, dimensions) VALUES (?, ?)`, name, dimensions); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (s *SQLiteStore) indexExists(ctx context.Context, name string) error {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimensions FROM vector_indexes WHERE name = ?`, name).Scan(&dim)
	if err == sql.ErrNoRows {
		return ErrIndexMissing
	}
	return err
}

// ListUnindexed returns records with images whose vector entry for the named
// index is absent or stale (older than the record's last update).
func (s *SQLiteStore) ListUnindexed(ctx context.Context, indexName string, limit int) ([]*models.Record, error) {
	if err := s.indexExists(ctx, indexName); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		selectRecordPrefixed+` FROM records r
		 WHERE r.image IS NOT NULL AND length(r.image) > 0
		   AND NOT EXISTS (
		     SELECT 1 FROM vector_entries v
		     WHERE v.index_name = ? AND v.record_id = r.id AND v.updated_at >= r.updated_at
		   )
		 ORDER BY r.updated_at ASC LIMIT ?`,
		indexName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unindexed records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CommitVectors upserts the entries in one transaction.
func (s *SQLiteStore) CommitVectors(ctx context.Context, indexName string, entries []VectorEntry) error {
	if err := s.indexExists(ctx, indexName); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	now := time.Now().UnixNano()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vector_entries (index_name, record_id, vector, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(index_name, record_id) DO UPDATE SET vector = excluded.vector, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, indexName, e.RecordID, utils.Float32sToBytes(e.Vector), now); err != nil {
			return fmt.Errorf("failed to upsert vector for %s: %w", e.RecordID, err)
		}
	}
	return tx.Commit()
}

// ListVectors returns all entries of the named index.
func (s *SQLiteStore) ListVectors(ctx context.Context, indexName string) ([]VectorEntry, error) {
	if err := s.indexExists(ctx, indexName); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, vector FROM vector_entries WHERE index_name = ?`, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to list vectors: %w", err)
	}
	defer rows.Close()
	var entries []VectorEntry
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		entries = append(entries, VectorEntry{RecordID: id, Vector: utils.BytesToFloat32s(blob)})
	}
	return entries, rows.Err()
}

// CountVectors returns the number of entries in the named index.
func (s *SQLiteStore) CountVectors(ctx context.Context, indexName string) (int64, error) {
	if err := s.indexExists(ctx, indexName); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vector_entries WHERE index_name = ?`, indexName).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const (
	selectRecordPrefixed = `SELECT r.id, r.kind, r.name, r.secondary_name, r.natural_key, r.care, r.description, r.image, r.metadata, r.created_at, r.updated_at`
	selectRecord         = `SELECT id, kind, name, secondary_name, natural_key, care, description, image, metadata, created_at, updated_at FROM records`
)

func marshalFields(rec *models.Record) (care, metadata []byte, err error) {
	if rec.Care != nil {
		care, err = json.Marshal(rec.Care)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal care guide: %w", err)
		}
	}
	if rec.Metadata != nil {
		metadata, err = json.Marshal(rec.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return care, metadata, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var kind string
	var secondary sql.NullString
	var care, metadata []byte
	var createdNS, updatedNS int64
	err := row.Scan(&rec.ID, &kind, &rec.Name, &secondary, &rec.NaturalKey,
		&care, &rec.Description, &rec.Image, &metadata, &createdNS, &updatedNS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.Kind = models.Kind(kind)
	rec.SecondaryName = secondary.String
	if len(care) > 0 {
		rec.Care = &models.CareGuide{}
		if err := json.Unmarshal(care, rec.Care); err != nil {
			return nil, fmt.Errorf("failed to unmarshal care guide: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	rec.CreatedAt = time.Unix(0, createdNS)
	rec.UpdatedAt = time.Unix(0, updatedNS)
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	var recs []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
