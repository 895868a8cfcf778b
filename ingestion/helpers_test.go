package ingestion

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/corpus/chunking"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
	"github.com/poiesic/corpus/storage/badger"
	"github.com/stretchr/testify/require"
)

func newMemoryRepo(t *testing.T) *badger.Repository {
	t.Helper()
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func smallChunker(t *testing.T) *chunking.Chunker {
	t.Helper()
	c, err := chunking.New(chunking.Config{
		MaxChunkChars:  80,
		OverlapChars:   10,
		MinChunkChars:  20,
		BoundaryWindow: 30,
		Separators:     chunking.DefaultSeparators,
		CharsPerToken:  4,
	})
	require.NoError(t, err)
	return c
}

// lineSplitter makes one chunk per non-empty line, which keeps chunk counts
// easy to control from test text.
type lineSplitter struct{}

func (lineSplitter) Split(text string) ([]core.ChunkCandidate, error) {
	var out []core.ChunkCandidate
	pos := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		content := strings.TrimSuffix(line, "\n")
		if content != "" {
			out = append(out, core.ChunkCandidate{
				Index:         len(out),
				Content:       content,
				Offsets:       &core.Span{Start: pos, End: pos + utf8.RuneCountInString(content)},
				TokenEstimate: chunking.EstimateTokens(utf8.RuneCountInString(content), 4),
			})
		}
		pos += n
	}
	return out, nil
}

// faultyRepo wraps a repository and lets a test fail chosen Tx operations.
type faultyRepo struct {
	storage.DocumentRepository

	mu     sync.Mutex
	txns   int
	inject func(txn int, op string, call int) error
}

func (f *faultyRepo) transactions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txns
}

func (f *faultyRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	f.mu.Lock()
	f.txns++
	txn := f.txns
	f.mu.Unlock()

	return f.DocumentRepository.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, repo: f, txn: txn, calls: map[string]int{}})
	})
}

type faultyTx struct {
	storage.Tx
	repo  *faultyRepo
	txn   int
	calls map[string]int
}

func (t *faultyTx) fault(op string) error {
	t.calls[op]++
	if t.repo.inject == nil {
		return nil
	}
	return t.repo.inject(t.txn, op, t.calls[op])
}

func (t *faultyTx) InsertDocument(ctx context.Context, doc *core.Document) error {
	if err := t.fault("InsertDocument"); err != nil {
		return err
	}
	return t.Tx.InsertDocument(ctx, doc)
}

func (t *faultyTx) UpdateDocument(ctx context.Context, doc *core.Document) error {
	if err := t.fault("UpdateDocument"); err != nil {
		return err
	}
	return t.Tx.UpdateDocument(ctx, doc)
}

func (t *faultyTx) InsertChunk(ctx context.Context, chunk *core.Chunk) error {
	if err := t.fault("InsertChunk"); err != nil {
		return err
	}
	return t.Tx.InsertChunk(ctx, chunk)
}

func (t *faultyTx) UpdateChunk(ctx context.Context, chunk *core.Chunk) error {
	if err := t.fault("UpdateChunk"); err != nil {
		return err
	}
	return t.Tx.UpdateChunk(ctx, chunk)
}

func (t *faultyTx) DeleteChunksFrom(ctx context.Context, docID core.ID, fromIndex int) (int, error) {
	if err := t.fault("DeleteChunksFrom"); err != nil {
		return 0, err
	}
	return t.Tx.DeleteChunksFrom(ctx, docID, fromIndex)
}

// assertStoredChunksValid checks density and offsets of the stored chunk set
// against the stored document text.
func assertStoredChunksValid(t *testing.T, repo storage.DocumentRepository, url string) (*core.Document, []*core.Chunk) {
	t.Helper()
	ctx := context.Background()
	doc, err := repo.GetDocumentByURL(ctx, url)
	require.NoError(t, err)
	chunks, err := repo.GetChunks(ctx, doc.Id)
	require.NoError(t, err)

	runes := []rune(doc.Text)
	for i, c := range chunks {
		require.Equal(t, i, c.Index, "indices must be dense")
		require.NotNil(t, c.Offsets)
		require.LessOrEqual(t, c.Offsets.End, len(runes))
		require.Equal(t, c.Content, string(runes[c.Offsets.Start:c.Offsets.End]))
	}
	return doc, chunks
}
