package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
	"github.com/poiesic/corpus/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.DocumentRepository {
		repo, err := NewMemoryRepository()
		require.NoError(t, err)
		return repo
	})
}

func TestOpen_FileSystemPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := Open(dir, nil)
	require.NoError(t, err)

	doc := &core.Document{URL: "https://example.com/p", Text: "persisted", CreatedAt: time.Now().UTC()}
	err = repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertDocument(ctx, doc)
	})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetDocumentByURL(ctx, doc.URL)
	require.NoError(t, err)
	assert.Equal(t, doc.Id, got.Id)
	assert.Equal(t, "persisted", got.Text)

	// IDs keep increasing across restarts.
	next := &core.Document{URL: "https://example.com/q", Text: "next"}
	err = reopened.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertDocument(ctx, next)
	})
	require.NoError(t, err)
	assert.Greater(t, next.Id, doc.Id)
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	backend, err := OpenBackend(dir, false, nil)
	require.NoError(t, err)
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	_, err = OpenBackend(dir+"/MANIFEST", false, nil)
	assert.Error(t, err)
}

func TestUpdate_ClosedBackend(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	err = backend.Update(context.Background(), func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestWithTransaction_ConcurrentInsertConflicts(t *testing.T) {
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	const url = "https://example.com/race"

	// Both transactions observe the URL as absent before either commits.
	bothLooked := make(chan struct{})
	var once sync.Once
	var ready sync.WaitGroup
	ready.Add(2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
				_, err := tx.GetDocumentByURL(ctx, url)
				if !errors.Is(err, storage.ErrNotFound) {
					return err
				}
				ready.Done()
				once.Do(func() {
					go func() {
						ready.Wait()
						close(bothLooked)
					}()
				})
				<-bothLooked
				return tx.InsertDocument(ctx, &core.Document{URL: url, Text: "writer"})
			})
		}()
	}
	wg.Wait()

	var committed, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, storage.ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, conflicted)
}

func TestKeys_Ordering(t *testing.T) {
	assert.Less(t, string(makeChunkKey(1, 2)), string(makeChunkKey(1, 10)))
	assert.Less(t, string(makeChunkKey(1, 1<<20)), string(makeChunkKey(2, 0)))

	docID, index := chunkPositionFromHashKey(makeChunkHashKey("abc", 7, 300))
	assert.Equal(t, core.ID(7), docID)
	assert.Equal(t, 300, index)
	assert.Equal(t, core.ID(9), documentIDFromKey(makeDocumentKey(9)))
}
