package storage

import (
	"context"
	"time"

	"doc-toc/pkg/models"
)

// DocumentRecord pairs a document key with its stored state
type DocumentRecord struct {
	Key   string
	Entry models.DocumentDBEntry
}

// DocumentStore handles per-document build state
type DocumentStore interface {
	// CheckDocumentStatus retrieves the status and details of a document key
	// Returns status (success, failure, pending, not_found, db_error),
	// the DocumentDBEntry if found and parsed, and any error
	CheckDocumentStatus(docKey string) (status models.DocumentStatus, entry *models.DocumentDBEntry, err error)

	// UpdateDocumentStatus stores the status and details for a document key
	UpdateDocumentStatus(docKey string, entry *models.DocumentDBEntry) error

	// GetContentHash retrieves the source hash recorded at the last successful build
	// Returns the hash string, whether it exists, and any error
	GetContentHash(docKey string) (hash string, exists bool, err error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetDocumentCount returns the number of documents with stored state
	GetDocumentCount() (int, error)

	// ListDocuments returns every stored document record ordered by key
	ListDocuments(ctx context.Context) ([]DocumentRecord, error)

	// IncompleteDocuments returns keys whose last build failed or never finished
	IncompleteDocuments(ctx context.Context) (keys []string, scanErrors int, err error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// StateStore combines all store interfaces for components that need full access
type StateStore interface {
	DocumentStore
	StoreAdmin
}
