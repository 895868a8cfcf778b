package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/fingerprint"
	"github.com/poiesic/corpus/storage"
	"github.com/poiesic/corpus/storage/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const longText = `Go is an open source programming language that makes it simple to build secure, scalable systems.

It was designed at Google in 2007 to improve programming productivity in an era of multicore, networked machines and large codebases.

The designers wanted to address criticisms of other languages in use at Google, but keep their useful characteristics: static typing and run-time efficiency, readability and usability, and high-performance networking and multiprocessing.`

func page(url, text string) *core.FetchedPage {
	return &core.FetchedPage{
		URL:       url,
		Text:      text,
		Title:     "A page",
		Lang:      "en",
		FetchedAt: "2024-05-01T10:00:00Z",
		Meta:      map[string]any{"crawl": 7},
	}
}

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestNewIngester_RequiresRepository(t *testing.T) {
	_, err := NewIngester(nil)
	assert.ErrorIs(t, err, ErrRepositoryRequired)

	_, err = NewIngester(newMemoryRepo(t), WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = NewIngester(newMemoryRepo(t), WithRetryDelay(-time.Second))
	assert.Error(t, err)
}

func TestIngest_CreatesDocumentAndChunks(t *testing.T) {
	repo := newMemoryRepo(t)
	fp, err := fingerprint.New(fingerprint.XXHash64)
	require.NoError(t, err)
	ing, err := NewIngester(repo, WithSplitter(smallChunker(t)), WithFingerprinter(fp))
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), page("https://Example.com/go#intro", longText))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.NotZero(t, res.Document.Id)
	assert.Equal(t, "https://example.com/go", res.Document.URL)
	assert.Equal(t, "example.com", res.Document.Domain)
	assert.Greater(t, res.ChunksInserted, 3)
	assert.Zero(t, res.ChunksUpdated+res.ChunksUnchanged+res.ChunksDeleted)

	doc, chunks := assertStoredChunksValid(t, repo, "https://example.com/go")
	assert.Equal(t, res.Document.Id, doc.Id)
	require.Len(t, chunks, res.ChunksInserted)
	for _, c := range chunks {
		assert.Equal(t, fp.Sum(c.Content), c.ContentHash)
		assert.Positive(t, c.TokenEstimate)
	}
}

func TestIngest_Idempotent(t *testing.T) {
	repo := newMemoryRepo(t)
	ing, err := NewIngester(repo, WithSplitter(smallChunker(t)), WithClock(steppingClock()))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, page("https://example.com/idem", longText))
	require.NoError(t, err)
	_, before := assertStoredChunksValid(t, repo, "https://example.com/idem")

	second, err := ing.Ingest(ctx, page("https://example.com/idem", longText))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, second.Outcome)
	assert.False(t, second.Changed())
	assert.Equal(t, first.ChunksInserted, second.ChunksUnchanged)
	assert.Equal(t, first.Document.Id, second.Document.Id)
	assert.True(t, first.Document.UpdatedAt.Equal(second.Document.UpdatedAt), "updated_at must not move")

	_, after := assertStoredChunksValid(t, repo, "https://example.com/idem")
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Id, after[i].Id)
		assert.True(t, before[i].UpdatedAt.Equal(after[i].UpdatedAt))
	}
}

func TestIngest_DeduplicatesByURL(t *testing.T) {
	repo := newMemoryRepo(t)
	ing, err := NewIngester(repo, WithClock(steppingClock()))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, page("https://example.com/dedup", "first version"))
	require.NoError(t, err)
	second, err := ing.Ingest(ctx, page("https://example.com/dedup", "second version"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeUpdated, second.Outcome)
	assert.Equal(t, first.Document.Id, second.Document.Id)
	assert.True(t, first.Document.CreatedAt.Equal(second.Document.CreatedAt))
	assert.True(t, second.Document.UpdatedAt.After(first.Document.UpdatedAt))

	docs, err := repo.ListDocuments(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "second version", docs[0].Text)
}

func TestIngest_ReconcilesShrinkingChunkSet(t *testing.T) {
	repo := newMemoryRepo(t)
	ing, err := NewIngester(repo, WithSplitter(lineSplitter{}))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, page("https://example.com/shrink", "one\ntwo\nthree\nfour\nfive"))
	require.NoError(t, err)
	require.Equal(t, 5, res.ChunksInserted)

	res, err = ing.Ingest(ctx, page("https://example.com/shrink", "one\ntwo\nTHREE"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, 2, res.ChunksUnchanged)
	assert.Equal(t, 1, res.ChunksUpdated)
	assert.Equal(t, 2, res.ChunksDeleted)

	_, chunks := assertStoredChunksValid(t, repo, "https://example.com/shrink")
	require.Len(t, chunks, 3)
	assert.Equal(t, "THREE", chunks[2].Content)

	res, err = ing.Ingest(ctx, page("https://example.com/shrink", "one\ntwo\nTHREE\nfour"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksInserted)
	assert.Zero(t, res.ChunksDeleted)
}

func TestIngest_ShiftedContentUpdatesOffsets(t *testing.T) {
	repo := newMemoryRepo(t)
	ing, err := NewIngester(repo, WithSplitter(lineSplitter{}))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ing.Ingest(ctx, page("https://example.com/shift", "alpha\nbeta"))
	require.NoError(t, err)

	// Same chunk contents, but the blank line moves the second one.
	res, err := ing.Ingest(ctx, page("https://example.com/shift", "alpha\n\nbeta"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksUpdated)
	assert.Equal(t, 1, res.ChunksUnchanged)

	_, chunks := assertStoredChunksValid(t, repo, "https://example.com/shift")
	assert.Equal(t, &core.Span{Start: 7, End: 11}, chunks[1].Offsets)
}

func TestIngest_OffsetsAreCodePoints(t *testing.T) {
	repo := newMemoryRepo(t)
	ing, err := NewIngester(repo, WithSplitter(smallChunker(t)))
	require.NoError(t, err)

	text := strings.Repeat("日本語のテキスト。", 20) + "\n\n" + strings.Repeat("Ünïcödé wörds hère. ", 10)
	_, err = ing.Ingest(context.Background(), page("https://example.com/unicode", text))
	require.NoError(t, err)

	_, chunks := assertStoredChunksValid(t, repo, "https://example.com/unicode")
	assert.Greater(t, len(chunks), 2)
}

func TestIngest_InvalidInputWritesNothing(t *testing.T) {
	repo := &faultyRepo{DocumentRepository: newMemoryRepo(t)}
	ing, err := NewIngester(repo)
	require.NoError(t, err)
	ctx := context.Background()

	for name, p := range map[string]*core.FetchedPage{
		"empty url":   page("", "text"),
		"bad url":     page("not a url", "text"),
		"blank text":  page("https://example.com/blank", " \n\t "),
		"bad fetched": {URL: "https://example.com/t", Text: "x", FetchedAt: "yesterday-ish"},
		"year 33658":  {URL: "https://example.com/t", Text: "x", FetchedAt: "1e15"},
		"nil page":    nil,
	} {
		_, err := ing.Ingest(ctx, p)
		assert.ErrorIs(t, err, core.ErrInvalidInput, name)
	}
	assert.Zero(t, repo.transactions())
}

func TestIngest_FailureRollsBackEverything(t *testing.T) {
	repo := &faultyRepo{DocumentRepository: newMemoryRepo(t)}
	ing, err := NewIngester(repo, WithSplitter(lineSplitter{}))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ing.Ingest(ctx, page("https://example.com/atomic", "a\nb\nc\nd\ne"))
	require.NoError(t, err)
	before, beforeChunks := assertStoredChunksValid(t, repo, "https://example.com/atomic")

	boom := errors.New("disk on fire")
	for _, op := range []string{"UpdateDocument", "UpdateChunk", "InsertChunk", "DeleteChunksFrom"} {
		t.Run(op, func(t *testing.T) {
			repo.inject = func(txn int, failing string, call int) error {
				if failing == op {
					return boom
				}
				return nil
			}
			defer func() { repo.inject = nil }()

			text := "a\nB\nc\nd\ne\nf"
			if op == "DeleteChunksFrom" {
				text = "a\nB"
			}
			_, err := ing.Ingest(ctx, page("https://example.com/atomic", text))
			require.ErrorIs(t, err, boom)

			after, afterChunks := assertStoredChunksValid(t, repo, "https://example.com/atomic")
			assert.Equal(t, before.Text, after.Text)
			assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
			require.Len(t, afterChunks, len(beforeChunks))
			for i := range beforeChunks {
				assert.Equal(t, beforeChunks[i].Content, afterChunks[i].Content)
			}
		})
	}
}

func TestIngest_RetriesConflicts(t *testing.T) {
	repo := &faultyRepo{DocumentRepository: newMemoryRepo(t)}
	repo.inject = func(txn int, op string, call int) error {
		if txn == 1 && op == "InsertChunk" && call == 2 {
			return fmt.Errorf("%w: simulated", storage.ErrConflict)
		}
		return nil
	}
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	ing, err := NewIngester(repo, WithSplitter(lineSplitter{}), WithRetryDelay(time.Millisecond), WithMetrics(metrics))
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), page("https://example.com/retry", "x\ny\nz"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 3, res.ChunksInserted)
	assert.Equal(t, 2, repo.transactions())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.documents.WithLabelValues("created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.chunks.WithLabelValues("inserted")))
	assertStoredChunksValid(t, repo, "https://example.com/retry")
}

func TestIngest_RetryExhaustion(t *testing.T) {
	tests := []struct {
		name     string
		injected error
		want     error
		txns     int
	}{
		{"conflict", storage.ErrConflict, core.ErrIngestionConflict, 4},
		{"unavailable", storage.ErrUnavailable, core.ErrStorageUnavailable, 4},
		{"integrity is not retried", storage.ErrIntegrity, core.ErrIntegrityViolation, 1},
		{"closed store is not retried", fmt.Errorf("%w: %w", storage.ErrUnavailable, storage.ErrStorageClosed), core.ErrStorageUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &faultyRepo{DocumentRepository: newMemoryRepo(t)}
			repo.inject = func(int, string, int) error { return tt.injected }
			reg := prometheus.NewRegistry()
			metrics, err := NewMetrics(reg)
			require.NoError(t, err)
			ing, err := NewIngester(repo, WithMaxAttempts(4), WithRetryDelay(0), WithMetrics(metrics))
			require.NoError(t, err)

			_, err = ing.Ingest(context.Background(), page("https://example.com/exhaust", "text"))
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.txns, repo.transactions())
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues(ErrorKind(err))))

			_, err = repo.GetDocumentByURL(context.Background(), "https://example.com/exhaust")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestIngest_CancelledContext(t *testing.T) {
	repo := newMemoryRepo(t)
	ing, err := NewIngester(repo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ing.Ingest(ctx, page("https://example.com/cancel", "text"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", ErrorKind(err))

	_, err = repo.GetDocumentByURL(context.Background(), "https://example.com/cancel")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIngest_SameURLConcurrently(t *testing.T) {
	repo := newMemoryRepo(t)
	ing, err := NewIngester(repo, WithSplitter(lineSplitter{}), WithMaxAttempts(50), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	const writers = 8
	texts := make([]string, writers)
	for w := range texts {
		lines := make([]string, w+1)
		for i := range lines {
			lines[i] = fmt.Sprintf("writer %d line %d", w, i)
		}
		texts[w] = strings.Join(lines, "\n")
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_, errs[w] = ing.Ingest(context.Background(), page("https://example.com/race", texts[w]))
		}(w)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	docs, err := repo.ListDocuments(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, texts, docs[0].Text)

	// The chunk set belongs to exactly the text that won.
	doc, chunks := assertStoredChunksValid(t, repo, "https://example.com/race")
	want, err := lineSplitter{}.Split(doc.Text)
	require.NoError(t, err)
	require.Len(t, chunks, len(want))
	for i := range want {
		assert.Equal(t, want[i].Content, chunks[i].Content)
	}
}

func TestIngest_DifferentURLsConcurrently(t *testing.T) {
	repo := newMemoryRepo(t)
	ing, err := NewIngester(repo, WithSplitter(smallChunker(t)), WithMaxAttempts(20), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ing.Ingest(context.Background(), page(fmt.Sprintf("https://example.com/many/%d", i), longText))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	docs, err := repo.ListDocuments(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Len(t, docs, 16)

	// Identical text on different pages shares chunk hashes.
	_, chunks := assertStoredChunksValid(t, repo, "https://example.com/many/0")
	shared, err := repo.GetChunksByHash(context.Background(), chunks[0].ContentHash)
	require.NoError(t, err)
	assert.Len(t, shared, 16)
}

func TestIngest_SQLiteBackend(t *testing.T) {
	store, err := sqlstore.Open(context.Background(), sqlstore.SQLite, sqlstore.SQLiteDSN(filepath.Join(t.TempDir(), "corpus.db")))
	require.NoError(t, err)
	defer store.Close()

	ing, err := NewIngester(store, WithSplitter(smallChunker(t)))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, page("https://example.com/sql", longText))
	require.NoError(t, err)
	second, err := ing.Ingest(ctx, page("https://example.com/sql", longText))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, second.Outcome, "meta and timestamps must survive the round trip")
	assert.Equal(t, first.ChunksInserted, second.ChunksUnchanged)

	third, err := ing.Ingest(ctx, page("https://example.com/sql", "short now"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, third.Outcome)
	assert.Equal(t, first.ChunksInserted-1, third.ChunksDeleted)
	assertStoredChunksValid(t, store, "https://example.com/sql")
}
