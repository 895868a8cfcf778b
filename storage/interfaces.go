package storage

import (
	"context"

	"github.com/poiesic/corpus/core"
)

// Tx is one atomic unit of work against the store.
// A Tx must not be used after the WithTransaction callback returns.
type Tx interface {
	// GetDocumentByURL looks up a document by its URL.
	// Backends that support row locks lock the row until the unit of work ends.
	// Returns ErrNotFound if no document has this URL.
	GetDocumentByURL(ctx context.Context, url string) (*core.Document, error)

	// InsertDocument stores a new document and assigns its Id.
	// CreatedAt and UpdatedAt are stored as given.
	// Returns an error wrapping ErrConflict and ErrDuplicateKey if the URL is taken.
	InsertDocument(ctx context.Context, doc *core.Document) error

	// UpdateDocument overwrites the mutable fields and UpdatedAt of an existing
	// document, keeping its Id, URL and CreatedAt.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) error

	// GetChunks returns the chunks of a document ordered by sequence index.
	GetChunks(ctx context.Context, docID core.ID) ([]*core.Chunk, error)

	// InsertChunk stores a new chunk and assigns its Id.
	// Returns an error wrapping ErrIntegrity and ErrDuplicateKey if the
	// (document, index) position is already occupied.
	InsertChunk(ctx context.Context, chunk *core.Chunk) error

	// UpdateChunk overwrites content, offsets, token estimate, hash and
	// UpdatedAt of the chunk at (DocumentId, Index).
	// Returns ErrNotFound if no chunk occupies that position.
	UpdateChunk(ctx context.Context, chunk *core.Chunk) error

	// DeleteChunksFrom removes every chunk of the document whose index is
	// >= fromIndex and returns how many were removed.
	DeleteChunksFrom(ctx context.Context, docID core.ID, fromIndex int) (int, error)
}

// DocumentRepository stores documents and their chunks.
type DocumentRepository interface {
	// WithTransaction runs fn inside one atomic unit of work.
	// If fn returns an error, every write made through tx is discarded.
	// If fn returns nil, the unit of work is committed. Commit failures caused by
	// concurrent writers are reported as ErrConflict.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// GetDocumentByURL retrieves a document by URL.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocumentByURL(ctx context.Context, url string) (*core.Document, error)

	// ListDocuments returns up to limit documents with Id > afterID in Id order.
	ListDocuments(ctx context.Context, afterID core.ID, limit int) ([]*core.Document, error)

	// GetChunks returns the chunks of a document ordered by sequence index.
	// Returns an empty slice for unknown documents.
	GetChunks(ctx context.Context, docID core.ID) ([]*core.Chunk, error)

	// GetChunksByHash returns every chunk whose content hash equals hash,
	// ordered by document and index.
	GetChunksByHash(ctx context.Context, hash string) ([]*core.Chunk, error)

	// DeleteDocument removes a document and all of its chunks.
	// Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id core.ID) error

	// Close closes the storage backend and releases resources.
	Close() error
}
