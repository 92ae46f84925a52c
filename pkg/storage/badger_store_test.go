package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-toc/pkg/log"
	"doc-toc/pkg/models"
	"doc-toc/pkg/utils"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), false, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func successEntry(hash string) *models.DocumentDBEntry {
	return &models.DocumentDBEntry{
		Status:       models.DocumentStatusSuccess,
		ContentHash:  hash,
		OutputPath:   "/out/guide.html",
		SectionCount: 4,
		ProcessedAt:  time.Now(),
		LastAttempt:  time.Now(),
	}
}

func TestNewBadgerStore(t *testing.T) {
	t.Run("fresh start has zero count", func(t *testing.T) {
		store := newTestStore(t)
		count, err := store.GetDocumentCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("reopen preserves data", func(t *testing.T) {
		dir := t.TempDir()

		store1, err := NewBadgerStore(dir, false, log.Discard())
		require.NoError(t, err)
		require.NoError(t, store1.UpdateDocumentStatus("guide", successEntry("abc")))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(dir, false, log.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.GetDocumentCount()
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		hash, ok, err := store2.GetContentHash("guide")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "abc", hash)
	})

	t.Run("reset wipes data", func(t *testing.T) {
		dir := t.TempDir()

		store1, err := NewBadgerStore(dir, false, log.Discard())
		require.NoError(t, err)
		require.NoError(t, store1.UpdateDocumentStatus("guide", successEntry("abc")))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(dir, true, log.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.GetDocumentCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestCheckDocumentStatus(t *testing.T) {
	t.Run("unknown key is not_found", func(t *testing.T) {
		store := newTestStore(t)
		status, entry, err := store.CheckDocumentStatus("missing")
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusNotFound, status)
		assert.Nil(t, entry)
	})

	t.Run("stored entry round trips", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.UpdateDocumentStatus("guide", successEntry("abc")))

		status, entry, err := store.CheckDocumentStatus("guide")
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusSuccess, status)
		require.NotNil(t, entry)
		assert.Equal(t, "abc", entry.ContentHash)
		assert.Equal(t, 4, entry.SectionCount)
		assert.Equal(t, "/out/guide.html", entry.OutputPath)
	})

	t.Run("empty value is pending", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.dbUpdate(func(txn *badger.Txn) error {
			return txn.Set([]byte(docKeyPrefix+"raw"), []byte{})
		}))

		status, entry, err := store.CheckDocumentStatus("raw")
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusPending, status)
		assert.Nil(t, entry)
	})

	t.Run("corrupt value is pending", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.dbUpdate(func(txn *badger.Txn) error {
			return txn.Set([]byte(docKeyPrefix+"bad"), []byte("{not json"))
		}))

		status, _, err := store.CheckDocumentStatus("bad")
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusPending, status)
	})
}

func TestUpdateDocumentStatus(t *testing.T) {
	t.Run("overwrite keeps count", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.UpdateDocumentStatus("guide", successEntry("v1")))
		require.NoError(t, store.UpdateDocumentStatus("guide", &models.DocumentDBEntry{
			Status:      models.DocumentStatusFailure,
			ErrorType:   "Content_HeadingStructure",
			LastAttempt: time.Now(),
		}))

		count, _ := store.GetDocumentCount()
		assert.Equal(t, 1, count)

		status, entry, err := store.CheckDocumentStatus("guide")
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusFailure, status)
		assert.Equal(t, "Content_HeadingStructure", entry.ErrorType)
	})

	t.Run("closed store returns error", func(t *testing.T) {
		store, err := NewBadgerStore(t.TempDir(), false, log.Discard())
		require.NoError(t, err)
		require.NoError(t, store.Close())

		err = store.UpdateDocumentStatus("guide", successEntry("x"))
		assert.Error(t, err)
	})
}

func TestGetContentHash(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.GetContentHash("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.UpdateDocumentStatus("failed", &models.DocumentDBEntry{
		Status:      models.DocumentStatusFailure,
		ContentHash: "ignored",
	}))
	_, ok, err = store.GetContentHash("failed")
	require.NoError(t, err)
	assert.False(t, ok, "failed builds must not report a hash")

	require.NoError(t, store.UpdateDocumentStatus("ok", successEntry("deadbeef")))
	hash, ok, err := store.GetContentHash("ok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", hash)
}

func TestListDocuments(t *testing.T) {
	store := newTestStore(t)

	records, err := store.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, store.UpdateDocumentStatus("b-guide", successEntry("1")))
	require.NoError(t, store.UpdateDocumentStatus("a-intro", successEntry("2")))
	require.NoError(t, store.UpdateDocumentStatus("c-api", &models.DocumentDBEntry{Status: models.DocumentStatusFailure}))

	records, err = store.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a-intro", records[0].Key)
	assert.Equal(t, "b-guide", records[1].Key)
	assert.Equal(t, "c-api", records[2].Key)
	assert.Equal(t, models.DocumentStatusFailure, records[2].Entry.Status)
}

func TestIncompleteDocuments(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		store := newTestStore(t)
		keys, scanErrors, err := store.IncompleteDocuments(context.Background())
		require.NoError(t, err)
		assert.Empty(t, keys)
		assert.Equal(t, 0, scanErrors)
	})

	t.Run("failed and pending returned", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.UpdateDocumentStatus("ok", successEntry("1")))
		require.NoError(t, store.UpdateDocumentStatus("broken", &models.DocumentDBEntry{Status: models.DocumentStatusFailure}))
		require.NoError(t, store.UpdateDocumentStatus("started", &models.DocumentDBEntry{Status: models.DocumentStatusPending}))

		keys, _, err := store.IncompleteDocuments(context.Background())
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"broken", "started"}, keys)
	})

	t.Run("corrupt entries counted", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.dbUpdate(func(txn *badger.Txn) error {
			return txn.Set([]byte(docKeyPrefix+"bad"), []byte("nope"))
		}))

		keys, scanErrors, err := store.IncompleteDocuments(context.Background())
		require.NoError(t, err)
		assert.Empty(t, keys)
		assert.Equal(t, 1, scanErrors)
	})

	t.Run("context cancellation", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.UpdateDocumentStatus("broken", &models.DocumentDBEntry{Status: models.DocumentStatusFailure}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, err := store.IncompleteDocuments(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunGC(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, 50*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not respect context cancellation")
	}
}

func TestClose(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), false, log.Discard())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close()) // second close should be safe
}

func TestDBUpdateConflictRetry(t *testing.T) {
	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			if attempts <= 3 {
				return badger.ErrConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return badger.ErrConflict
		})
		require.Error(t, err)
		require.ErrorIs(t, err, utils.ErrDatabase)
		assert.Contains(t, err.Error(), "transaction conflict not resolved")
		assert.Equal(t, maxConflictRetries, attempts)
	})

	t.Run("non-conflict error returned immediately", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		sentinel := errors.New("some other error")
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})
}

var _ StateStore = (*BadgerStore)(nil)
