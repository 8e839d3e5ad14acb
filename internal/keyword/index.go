// Package keyword provides the full-text record index backing text search.
package keyword

import "context"

// Index defines full-text indexing and search over records.
type Index interface {
	Index(ctx context.Context, id string, doc *IndexedRecord) error
	Delete(ctx context.Context, id string) error
	// Search returns record ids by descending relevance, up to limit.
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Close() error
}

// IndexedRecord is the flattened record shape fed to the full-text index.
type IndexedRecord struct {
	Name          string `json:"name"`
	SecondaryName string `json:"secondary_name"`
	Text          string `json:"text"`
}
