package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"doc-toc/pkg/log"
	"doc-toc/pkg/models"
	"doc-toc/pkg/utils"
)

const (
	docKeyPrefix = "doc:"         // Prefix for document keys in DB
	stateDBDir   = "toc_state_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the StateStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) GetDocumentCount
}

// NewBadgerStore opens (or creates) the state database under stateDir.
// With reset set, any existing state is removed first.
func NewBadgerStore(stateDir string, reset bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}
	dbPath := filepath.Join(stateDir, stateDBDir)

	if reset {
		logger.Warnf("Reset requested. REMOVING existing state directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing document state database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest build state matters

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing keys: %v", err)
	} else {
		store.keyCount.Store(int64(count))
		logger.Debugf("Loaded existing document count: %d", count)
	}

	return store, nil
}

// countKeys performs a one-time full key scan (used only during initialization).
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	prefix := []byte(docKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// CheckDocumentStatus implements the DocumentStore interface
func (s *BadgerStore) CheckDocumentStatus(docKey string) (models.DocumentStatus, *models.DocumentDBEntry, error) {
	status := models.DocumentStatusNotFound
	var entry *models.DocumentDBEntry
	key := []byte(docKeyPrefix + docKey)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil // Not found is a status, not an error
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting document key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				status = models.DocumentStatusPending
				return nil
			}

			var decoded models.DocumentDBEntry
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				s.log.Warnf("Failed to unmarshal DocumentDBEntry for key '%s': %v. Treating as 'pending'.", string(key), errJson)
				status = models.DocumentStatusPending
				return nil
			}

			entry = &decoded
			status = decoded.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckDocumentStatus for key '%s': %v", string(key), errView)
		return models.DocumentStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdateDocumentStatus implements the DocumentStore interface
func (s *BadgerStore) UpdateDocumentStatus(docKey string, entry *models.DocumentDBEntry) error {
	if s.db == nil {
		return fmt.Errorf("%w: state DB not initialized", utils.ErrDatabase)
	}
	key := []byte(docKeyPrefix + docKey)

	entryBytes, errJson := json.Marshal(entry)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal DocumentDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateDocumentStatus: %v", err)
		return fmt.Errorf("%w: failed setting document status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.Debugf("Updated document status for key '%s' to '%s'", string(key), entry.Status)
	return nil
}

// GetContentHash implements the DocumentStore interface.
// Only successfully built documents report a hash.
func (s *BadgerStore) GetContentHash(docKey string) (string, bool, error) {
	status, entry, err := s.CheckDocumentStatus(docKey)
	if err != nil {
		return "", false, err
	}
	if status == models.DocumentStatusSuccess && entry != nil && entry.ContentHash != "" {
		return entry.ContentHash, true, nil
	}
	return "", false, nil
}

// GetDocumentCount implements the StoreAdmin interface.
func (s *BadgerStore) GetDocumentCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// scan iterates every document key in order, passing the key without prefix and a copy of its value.
func (s *BadgerStore) scan(ctx context.Context, fn func(docKey string, val []byte) error) error {
	prefix := []byte(docKeyPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			docKey := string(item.Key()[len(prefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("%w: reading value for '%s': %w", utils.ErrDatabase, docKey, err)
			}
			if err := fn(docKey, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDocuments implements the StoreAdmin interface
func (s *BadgerStore) ListDocuments(ctx context.Context) ([]DocumentRecord, error) {
	var records []DocumentRecord
	err := s.scan(ctx, func(docKey string, val []byte) error {
		rec := DocumentRecord{Key: docKey, Entry: models.DocumentDBEntry{Status: models.DocumentStatusPending}}
		if len(val) > 0 {
			if errJson := json.Unmarshal(val, &rec.Entry); errJson != nil {
				s.log.Warnf("Skipping undecodable entry for '%s': %v", docKey, errJson)
				return nil
			}
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return records, err
	}
	return records, nil
}

// IncompleteDocuments implements the StoreAdmin interface
func (s *BadgerStore) IncompleteDocuments(ctx context.Context) ([]string, int, error) {
	var keys []string
	scanErrors := 0
	start := time.Now()

	err := s.scan(ctx, func(docKey string, val []byte) error {
		if len(val) == 0 {
			keys = append(keys, docKey)
			return nil
		}
		var entry models.DocumentDBEntry
		if errJson := json.Unmarshal(val, &entry); errJson != nil {
			s.log.Errorf("Incomplete scan: failed unmarshal for '%s': %v. Skipping.", docKey, errJson)
			scanErrors++
			return nil
		}
		if entry.Status == models.DocumentStatusFailure || entry.Status == models.DocumentStatusPending {
			keys = append(keys, docKey)
		}
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Errorf("Error during DB scan for incomplete documents: %v", err)
	}
	s.log.Debugf("Incomplete scan found %d documents in %v (errors: %d)", len(keys), time.Since(start), scanErrors)
	return keys, scanErrors, err
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Run GC if log is at least 50% reclaimable space
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing state DB: %v", err)
			return err
		}
		s.log.Debug("State DB closed.")
	}
	return nil
}
