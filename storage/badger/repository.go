package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
)

// Repository implements storage.DocumentRepository for BadgerDB.
//
// Transactions are optimistic and serializable: two units of work that read
// and write the same URL cannot both commit, and the loser gets
// storage.ErrConflict.
type Repository struct {
	backend  *Backend
	docSeq   *badger.Sequence
	chunkSeq *badger.Sequence
	owned    bool // close the backend on Close
}

var _ storage.DocumentRepository = (*Repository)(nil)

// NewRepository creates a Repository over an open backend.
// The caller remains responsible for closing the backend.
func NewRepository(backend *Backend) (*Repository, error) {
	docSeq, err := backend.Sequence(documentIDSeq)
	if err != nil {
		return nil, err
	}
	chunkSeq, err := backend.Sequence(chunkIDSeq)
	if err != nil {
		docSeq.Release()
		return nil, err
	}

	return &Repository{
		backend:  backend,
		docSeq:   docSeq,
		chunkSeq: chunkSeq,
	}, nil
}

// Close releases the ID sequences, and the backend when the repository owns it.
func (r *Repository) Close() error {
	err := errors.Join(r.chunkSeq.Release(), r.docSeq.Release())
	if r.owned {
		err = errors.Join(err, r.backend.Close())
	}
	return err
}

// WithTransaction runs fn in one read-write Badger transaction.
func (r *Repository) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return r.backend.Update(ctx, func(txn *badger.Txn) error {
		return fn(ctx, &tx{repo: r, txn: txn})
	})
}

// GetDocument retrieves a document by ID.
func (r *Repository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.View(ctx, func(txn *badger.Txn) error {
		var err error
		doc, err = readDocument(txn, id)
		return err
	})
	return doc, err
}

// GetDocumentByURL retrieves a document by URL.
func (r *Repository) GetDocumentByURL(ctx context.Context, url string) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.View(ctx, func(txn *badger.Txn) error {
		var err error
		doc, err = readDocumentByURL(txn, url)
		return err
	})
	return doc, err
}

// ListDocuments returns up to limit documents with Id > afterID in Id order.
func (r *Repository) ListDocuments(ctx context.Context, afterID core.ID, limit int) ([]*core.Document, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	var docs []*core.Document
	err := r.backend.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentPrefix)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makeDocumentKey(afterID + 1)); iter.Valid() && len(docs) < limit; iter.Next() {
			item := iter.Item()
			if documentIDFromKey(item.Key()) <= afterID {
				continue
			}
			err := item.Value(func(val []byte) error {
				doc, err := storage.UnmarshalDocument(val)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return docs, err
}

// GetChunks returns the chunks of a document ordered by sequence index.
func (r *Repository) GetChunks(ctx context.Context, docID core.ID) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := r.backend.View(ctx, func(txn *badger.Txn) error {
		var err error
		chunks, err = readChunks(txn, docID, 0)
		return err
	})
	return chunks, err
}

// GetChunksByHash returns every chunk with the given content hash.
func (r *Repository) GetChunksByHash(ctx context.Context, hash string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := r.backend.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartialChunkHashKey(hash)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			docID, index := chunkPositionFromHashKey(iter.Item().Key())
			chunk, err := readChunk(txn, docID, index)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, err
}

// DeleteDocument removes a document, its URL index entry and all its chunks.
func (r *Repository) DeleteDocument(ctx context.Context, id core.ID) error {
	return r.backend.Update(ctx, func(txn *badger.Txn) error {
		doc, err := readDocument(txn, id)
		if err != nil {
			return err
		}
		if _, err := deleteChunksFrom(txn, id, 0); err != nil {
			return err
		}
		if err := txn.Delete(makeDocumentURLKey(doc.URL)); err != nil {
			return err
		}
		return txn.Delete(makeDocumentKey(id))
	})
}

// nextID draws the next non-zero value from seq.
func nextID(seq *badger.Sequence) (core.ID, error) {
	id, err := seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if id == 0 {
		if id, err = seq.Next(); err != nil {
			return 0, err
		}
	}
	return core.ID(id), nil
}

func readDocument(txn *badger.Txn, id core.ID) (*core.Document, error) {
	item, err := txn.Get(makeDocumentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

func readDocumentByURL(txn *badger.Txn, url string) (*core.Document, error) {
	item, err := txn.Get(makeDocumentURLKey(url))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var id core.ID
	err = item.Value(func(val []byte) error {
		var err error
		id, err = storage.UnmarshalID(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(txn, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: url index points at missing document %d", storage.ErrIntegrity, id)
	}
	return doc, err
}

func readChunk(txn *badger.Txn, docID core.ID, index int) (*core.Chunk, error) {
	item, err := txn.Get(makeChunkKey(docID, index))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}

// readChunks returns the chunks of docID with index >= fromIndex in index order.
func readChunks(txn *badger.Txn, docID core.ID, fromIndex int) ([]*core.Chunk, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialChunkKey(docID)
	iter := txn.NewIterator(opts)
	defer iter.Close()

	var chunks []*core.Chunk
	for iter.Seek(makeChunkKey(docID, fromIndex)); iter.Valid(); iter.Next() {
		err := iter.Item().Value(func(val []byte) error {
			chunk, err := storage.UnmarshalChunk(val)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

func deleteChunksFrom(txn *badger.Txn, docID core.ID, fromIndex int) (int, error) {
	stale, err := readChunks(txn, docID, fromIndex)
	if err != nil {
		return 0, err
	}
	for _, chunk := range stale {
		if err := txn.Delete(makeChunkKey(docID, chunk.Index)); err != nil {
			return 0, err
		}
		if err := txn.Delete(makeChunkHashKey(chunk.ContentHash, docID, chunk.Index)); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// hasKey reports whether key exists, recording the read for conflict detection.
func hasKey(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}
