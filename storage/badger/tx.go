package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
)

// tx implements storage.Tx over a read-write Badger transaction.
// Every lookup goes through txn.Get or an iterator, so Badger records it in
// the read set and rejects the commit if another transaction wrote it first.
type tx struct {
	repo *Repository
	txn  *badger.Txn
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) GetDocumentByURL(ctx context.Context, url string) (*core.Document, error) {
	return readDocumentByURL(t.txn, url)
}

func (t *tx) InsertDocument(ctx context.Context, doc *core.Document) error {
	taken, err := hasKey(t.txn, makeDocumentURLKey(doc.URL))
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %w: url %q", storage.ErrConflict, storage.ErrDuplicateKey, doc.URL)
	}

	id, err := nextID(t.repo.docSeq)
	if err != nil {
		return err
	}
	doc.Id = id

	value, err := storage.MarshalDocument(doc)
	if err != nil {
		return err
	}
	if err := t.txn.Set(makeDocumentKey(doc.Id), value); err != nil {
		return err
	}
	return t.txn.Set(makeDocumentURLKey(doc.URL), storage.MarshalID(doc.Id))
}

func (t *tx) UpdateDocument(ctx context.Context, doc *core.Document) error {
	existing, err := readDocument(t.txn, doc.Id)
	if err != nil {
		return err
	}

	existing.CopyContent(doc)
	existing.UpdatedAt = doc.UpdatedAt
	doc.URL = existing.URL
	doc.CreatedAt = existing.CreatedAt

	value, err := storage.MarshalDocument(existing)
	if err != nil {
		return err
	}
	return t.txn.Set(makeDocumentKey(existing.Id), value)
}

func (t *tx) GetChunks(ctx context.Context, docID core.ID) ([]*core.Chunk, error) {
	return readChunks(t.txn, docID, 0)
}

func (t *tx) InsertChunk(ctx context.Context, chunk *core.Chunk) error {
	if err := checkSpan(chunk); err != nil {
		return err
	}
	owner, err := hasKey(t.txn, makeDocumentKey(chunk.DocumentId))
	if err != nil {
		return err
	}
	if !owner {
		return fmt.Errorf("%w: chunk references missing document %d", storage.ErrIntegrity, chunk.DocumentId)
	}

	key := makeChunkKey(chunk.DocumentId, chunk.Index)
	occupied, err := hasKey(t.txn, key)
	if err != nil {
		return err
	}
	if occupied {
		return fmt.Errorf("%w: %w: document %d index %d",
			storage.ErrIntegrity, storage.ErrDuplicateKey, chunk.DocumentId, chunk.Index)
	}

	id, err := nextID(t.repo.chunkSeq)
	if err != nil {
		return err
	}
	chunk.Id = id

	value, err := storage.MarshalChunk(chunk)
	if err != nil {
		return err
	}
	if err := t.txn.Set(key, value); err != nil {
		return err
	}
	return t.txn.Set(makeChunkHashKey(chunk.ContentHash, chunk.DocumentId, chunk.Index), nil)
}

func (t *tx) UpdateChunk(ctx context.Context, chunk *core.Chunk) error {
	if err := checkSpan(chunk); err != nil {
		return err
	}
	existing, err := readChunk(t.txn, chunk.DocumentId, chunk.Index)
	if err != nil {
		return err
	}

	chunk.Id = existing.Id
	chunk.CreatedAt = existing.CreatedAt

	if existing.ContentHash != chunk.ContentHash {
		if err := t.txn.Delete(makeChunkHashKey(existing.ContentHash, existing.DocumentId, existing.Index)); err != nil {
			return err
		}
	}

	value, err := storage.MarshalChunk(chunk)
	if err != nil {
		return err
	}
	if err := t.txn.Set(makeChunkKey(chunk.DocumentId, chunk.Index), value); err != nil {
		return err
	}
	return t.txn.Set(makeChunkHashKey(chunk.ContentHash, chunk.DocumentId, chunk.Index), nil)
}

func (t *tx) DeleteChunksFrom(ctx context.Context, docID core.ID, fromIndex int) (int, error) {
	return deleteChunksFrom(t.txn, docID, fromIndex)
}

// checkSpan mirrors the SQL chunks_offsets_check constraint.
func checkSpan(chunk *core.Chunk) error {
	if o := chunk.Offsets; o != nil && (o.Start < 0 || o.End <= o.Start) {
		return fmt.Errorf("%w: document %d index %d has invalid span [%d,%d)",
			storage.ErrIntegrity, chunk.DocumentId, chunk.Index, o.Start, o.End)
	}
	return nil
}
