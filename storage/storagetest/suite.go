// Package storagetest holds a conformance suite that every
// storage.DocumentRepository implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty repository. The suite closes it.
type Factory func(t *testing.T) storage.DocumentRepository

var errRollback = errors.New("rollback requested")

// Run executes the conformance suite against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo storage.DocumentRepository)
	}{
		{"InsertAndLookup", testInsertAndLookup},
		{"LookupMissing", testLookupMissing},
		{"DuplicateURL", testDuplicateURL},
		{"UpdateDocument", testUpdateDocument},
		{"UpdateMissingDocument", testUpdateMissingDocument},
		{"ChunksOrderedByIndex", testChunksOrdered},
		{"DuplicateChunkPosition", testDuplicateChunkPosition},
		{"UpdateChunk", testUpdateChunk},
		{"DeleteChunksFrom", testDeleteChunksFrom},
		{"ChunksByHash", testChunksByHash},
		{"RollbackOnError", testRollbackOnError},
		{"CancelledContext", testCancelledContext},
		{"TxSeesOwnWrites", testTxSeesOwnWrites},
		{"DeleteDocumentCascades", testDeleteDocumentCascades},
		{"ListDocuments", testListDocuments},
		{"UntrackedOffsets", testUntrackedOffsets},
		{"EmptyOffsetSpan", testEmptyOffsetSpan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			defer repo.Close()
			tt.fn(t, repo)
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newDocument(url, text string) *core.Document {
	ts := now()
	fetched := ts.Add(-time.Hour)
	return &core.Document{
		URL:         url,
		Title:       "Title of " + url,
		Lang:        "en",
		Domain:      "example.com",
		FetchedAt:   &fetched,
		Status:      200,
		ContentType: "text/html",
		Text:        text,
		Meta:        map[string]any{"source": "test", "depth": float64(1)},
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func newChunk(docID core.ID, index int, content string) *core.Chunk {
	ts := now()
	return &core.Chunk{
		DocumentId:    docID,
		Index:         index,
		Content:       content,
		Offsets:       &core.Span{Start: index * 10, End: index*10 + len(content)},
		TokenEstimate: (len(content) + 3) / 4,
		ContentHash:   "hash-" + content,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
}

// insertDocument stores doc with n chunks in one transaction.
func insertDocument(t *testing.T, repo storage.DocumentRepository, doc *core.Document, n int) {
	t.Helper()
	err := repo.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := tx.InsertChunk(ctx, newChunk(doc.Id, i, fmt.Sprintf("chunk %d of %s", i, doc.URL))); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NotZero(t, doc.Id)
}

func chunkIndices(chunks []*core.Chunk) []int {
	indices := make([]int, len(chunks))
	for i, c := range chunks {
		indices[i] = c.Index
	}
	return indices
}

func testInsertAndLookup(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/a", "alpha text")
	insertDocument(t, repo, doc, 0)

	byURL, err := repo.GetDocumentByURL(ctx, doc.URL)
	require.NoError(t, err)
	assert.Equal(t, doc.Id, byURL.Id)
	assert.True(t, doc.SameContent(byURL), "stored %+v, got %+v", doc, byURL)
	assert.True(t, doc.CreatedAt.Equal(byURL.CreatedAt))
	assert.True(t, doc.UpdatedAt.Equal(byURL.UpdatedAt))

	byID, err := repo.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, doc.URL, byID.URL)

	other := newDocument("https://example.com/b", "beta text")
	insertDocument(t, repo, other, 0)
	assert.NotEqual(t, doc.Id, other.Id)
}

func testLookupMissing(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()

	_, err := repo.GetDocumentByURL(ctx, "https://nowhere.example")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.GetDocument(ctx, 999999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	chunks, err := repo.GetChunks(ctx, 999999)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	err = repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetDocumentByURL(ctx, "https://nowhere.example")
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDuplicateURL(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	insertDocument(t, repo, newDocument("https://example.com/dup", "first"), 0)

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertDocument(ctx, newDocument("https://example.com/dup", "second"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := repo.GetDocumentByURL(ctx, "https://example.com/dup")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Text)
}

func testUpdateDocument(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/u", "before")
	insertDocument(t, repo, doc, 0)
	createdAt := doc.CreatedAt

	updated := *doc
	updated.Text = "after"
	updated.Title = "New title"
	updated.FetchedAt = nil
	updated.Meta = nil
	updated.Status = 304
	updated.UpdatedAt = doc.UpdatedAt.Add(time.Minute)
	updated.CreatedAt = doc.CreatedAt.Add(time.Hour) // must be ignored

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdateDocument(ctx, &updated)
	})
	require.NoError(t, err)

	got, err := repo.GetDocumentByURL(ctx, doc.URL)
	require.NoError(t, err)
	assert.Equal(t, doc.Id, got.Id)
	assert.Equal(t, "after", got.Text)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, 304, got.Status)
	assert.Nil(t, got.FetchedAt)
	assert.Empty(t, got.Meta)
	assert.True(t, createdAt.Equal(got.CreatedAt), "created_at must be preserved")
	assert.True(t, updated.UpdatedAt.Equal(got.UpdatedAt))
}

func testUpdateMissingDocument(t *testing.T, repo storage.DocumentRepository) {
	doc := newDocument("https://example.com/ghost", "x")
	doc.Id = 424242
	err := repo.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdateDocument(ctx, doc)
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testChunksOrdered(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/c", "text")

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		// Insert out of order; reads must come back ordered.
		for _, i := range []int{2, 0, 11, 1, 10} {
			if err := tx.InsertChunk(ctx, newChunk(doc.Id, i, fmt.Sprintf("c%d", i))); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	chunks, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 10, 11}, chunkIndices(chunks))
	for _, c := range chunks {
		assert.NotZero(t, c.Id)
		assert.Equal(t, doc.Id, c.DocumentId)
		assert.Equal(t, fmt.Sprintf("c%d", c.Index), c.Content)
		require.NotNil(t, c.Offsets)
		assert.Equal(t, c.Index*10, c.Offsets.Start)
	}
}

func testDuplicateChunkPosition(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/dc", "text")
	insertDocument(t, repo, doc, 2)

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertChunk(ctx, newChunk(doc.Id, 1, "intruder"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrIntegrity)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	chunks, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.NotEqual(t, "intruder", chunks[1].Content)
}

func testUpdateChunk(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/uc", "text")
	insertDocument(t, repo, doc, 2)

	before, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)

	replacement := newChunk(doc.Id, 1, "rewritten")
	replacement.UpdatedAt = before[1].UpdatedAt.Add(time.Minute)
	replacement.Offsets = &core.Span{Start: 3, End: 12}
	err = repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdateChunk(ctx, replacement)
	})
	require.NoError(t, err)

	after, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[1].Id, after[1].Id)
	assert.Equal(t, "rewritten", after[1].Content)
	assert.Equal(t, "hash-rewritten", after[1].ContentHash)
	assert.Equal(t, &core.Span{Start: 3, End: 12}, after[1].Offsets)
	assert.True(t, before[1].CreatedAt.Equal(after[1].CreatedAt))
	assert.True(t, replacement.UpdatedAt.Equal(after[1].UpdatedAt))
	assert.Equal(t, before[0].Content, after[0].Content)

	err = repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdateChunk(ctx, newChunk(doc.Id, 7, "nope"))
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteChunksFrom(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/dcf", "text")
	insertDocument(t, repo, doc, 5)
	neighbour := newDocument("https://example.com/neighbour", "text")
	insertDocument(t, repo, neighbour, 5)

	var removed int
	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		removed, err = tx.DeleteChunksFrom(ctx, doc.Id, 3)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	chunks, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, chunkIndices(chunks))

	others, err := repo.GetChunks(ctx, neighbour.Id)
	require.NoError(t, err)
	assert.Len(t, others, 5)

	err = repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		removed, err = tx.DeleteChunksFrom(ctx, doc.Id, 3)
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func testChunksByHash(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	a := newDocument("https://example.com/ha", "text")
	b := newDocument("https://example.com/hb", "text")

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, doc := range []*core.Document{a, b} {
			if err := tx.InsertDocument(ctx, doc); err != nil {
				return err
			}
			if err := tx.InsertChunk(ctx, newChunk(doc.Id, 0, "shared boilerplate")); err != nil {
				return err
			}
			if err := tx.InsertChunk(ctx, newChunk(doc.Id, 1, "unique "+doc.URL)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	shared, err := repo.GetChunksByHash(ctx, "hash-shared boilerplate")
	require.NoError(t, err)
	require.Len(t, shared, 2)
	assert.Equal(t, a.Id, shared[0].DocumentId)
	assert.Equal(t, b.Id, shared[1].DocumentId)

	none, err := repo.GetChunksByHash(ctx, "hash-absent")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testRollbackOnError(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/rb", "original")
	insertDocument(t, repo, doc, 3)

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		changed := *doc
		changed.Text = "replacement"
		if err := tx.UpdateDocument(ctx, &changed); err != nil {
			return err
		}
		if err := tx.UpdateChunk(ctx, newChunk(doc.Id, 0, "replacement chunk")); err != nil {
			return err
		}
		if _, err := tx.DeleteChunksFrom(ctx, doc.Id, 1); err != nil {
			return err
		}
		if err := tx.InsertDocument(ctx, newDocument("https://example.com/rb-new", "x")); err != nil {
			return err
		}
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	got, err := repo.GetDocumentByURL(ctx, doc.URL)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Text)

	chunks, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, chunkIndices(chunks))
	assert.NotEqual(t, "replacement chunk", chunks[0].Content)

	_, err = repo.GetDocumentByURL(ctx, "https://example.com/rb-new")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCancelledContext(t *testing.T, repo storage.DocumentRepository) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		called = true
		return tx.InsertDocument(ctx, newDocument("https://example.com/cancel", "x"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	_, err = repo.GetDocumentByURL(context.Background(), "https://example.com/cancel")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTxSeesOwnWrites(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		doc := newDocument("https://example.com/own", "mine")
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		found, err := tx.GetDocumentByURL(ctx, doc.URL)
		if err != nil {
			return err
		}
		if found.Id != doc.Id {
			return fmt.Errorf("looked up id %d, inserted %d", found.Id, doc.Id)
		}
		if err := tx.InsertChunk(ctx, newChunk(doc.Id, 0, "one")); err != nil {
			return err
		}
		chunks, err := tx.GetChunks(ctx, doc.Id)
		if err != nil {
			return err
		}
		if len(chunks) != 1 {
			return fmt.Errorf("expected 1 chunk inside tx, got %d", len(chunks))
		}
		return nil
	})
	require.NoError(t, err)
}

func testDeleteDocumentCascades(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/del", "text")
	insertDocument(t, repo, doc, 3)
	keep := newDocument("https://example.com/keep", "text")
	insertDocument(t, repo, keep, 1)

	require.NoError(t, repo.DeleteDocument(ctx, doc.Id))

	_, err := repo.GetDocument(ctx, doc.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetDocumentByURL(ctx, doc.URL)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	chunks, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	byHash, err := repo.GetChunksByHash(ctx, "hash-chunk 0 of "+doc.URL)
	require.NoError(t, err)
	assert.Empty(t, byHash)

	kept, err := repo.GetChunks(ctx, keep.Id)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	assert.ErrorIs(t, repo.DeleteDocument(ctx, doc.Id), storage.ErrNotFound)

	// The URL is free again.
	insertDocument(t, repo, newDocument(doc.URL, "reborn"), 1)
}

func testListDocuments(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	var ids []core.ID
	for i := 0; i < 5; i++ {
		doc := newDocument(fmt.Sprintf("https://example.com/list/%d", i), "text")
		insertDocument(t, repo, doc, 0)
		ids = append(ids, doc.Id)
	}

	page, err := repo.ListDocuments(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[:3], []core.ID{page[0].Id, page[1].Id, page[2].Id})

	rest, err := repo.ListDocuments(ctx, page[2].Id, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, ids[3:], []core.ID{rest[0].Id, rest[1].Id})

	_, err = repo.ListDocuments(ctx, 0, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func testUntrackedOffsets(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/nooff", "text")
	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		c := newChunk(doc.Id, 0, "no offsets")
		c.Offsets = nil
		return tx.InsertChunk(ctx, c)
	})
	require.NoError(t, err)

	chunks, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Offsets)
}

func testEmptyOffsetSpan(t *testing.T, repo storage.DocumentRepository) {
	ctx := context.Background()
	doc := newDocument("https://example.com/emptyspan", "text")
	insertDocument(t, repo, doc, 1)

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		c := newChunk(doc.Id, 1, "zero width")
		c.Offsets = &core.Span{Start: 5, End: 5}
		return tx.InsertChunk(ctx, c)
	})
	assert.ErrorIs(t, err, storage.ErrIntegrity)

	err = repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		c := newChunk(doc.Id, 0, "backwards")
		c.Offsets = &core.Span{Start: 9, End: 3}
		return tx.UpdateChunk(ctx, c)
	})
	assert.ErrorIs(t, err, storage.ErrIntegrity)

	chunks, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Offsets.Start)
	assert.Positive(t, chunks[0].Offsets.End)
}
