package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/corpus/chunking"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/fingerprint"
	"github.com/poiesic/corpus/normalize"
	"github.com/poiesic/corpus/storage"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 25 * time.Millisecond
)

// Normalizer turns a raw fetched page into a candidate document.
type Normalizer interface {
	Normalize(page *core.FetchedPage) (*core.Document, error)
}

// Ingester stores fetched pages as documents and chunks. It is safe for
// concurrent use; ingestions of different URLs proceed independently and
// ingestions of the same URL serialize through the repository.
type Ingester struct {
	repo          storage.DocumentRepository
	normalizer    Normalizer
	splitter      chunking.Splitter
	fingerprinter fingerprint.Fingerprinter
	maxAttempts   int
	retryDelay    time.Duration
	metrics       *Metrics
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures an Ingester.
type Option func(*Ingester) error

// WithNormalizer replaces the default normalize.Normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(i *Ingester) error {
		if n == nil {
			return errors.New("normalizer cannot be nil")
		}
		i.normalizer = n
		return nil
	}
}

// WithSplitter replaces the default chunking.Chunker.
func WithSplitter(s chunking.Splitter) Option {
	return func(i *Ingester) error {
		if s == nil {
			return errors.New("splitter cannot be nil")
		}
		i.splitter = s
		return nil
	}
}

// WithFingerprinter replaces the default BLAKE2b-256 fingerprinter.
func WithFingerprinter(f fingerprint.Fingerprinter) Option {
	return func(i *Ingester) error {
		if f == nil {
			return errors.New("fingerprinter cannot be nil")
		}
		i.fingerprinter = f
		return nil
	}
}

// WithMaxAttempts sets how many times one unit of work runs before giving up.
// Default is DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(i *Ingester) error {
		if n <= 0 {
			return ErrInvalidMaxAttempts
		}
		i.maxAttempts = n
		return nil
	}
}

// WithRetryDelay sets the base backoff delay between attempts.
// Default is DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(i *Ingester) error {
		if d < 0 {
			return fmt.Errorf("retry delay cannot be negative: %s", d)
		}
		i.retryDelay = d
		return nil
	}
}

// WithMetrics records ingestion metrics.
func WithMetrics(m *Metrics) Option {
	return func(i *Ingester) error {
		i.metrics = m
		return nil
	}
}

// WithClock sets the source of created_at and updated_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		i.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger
		return nil
	}
}

// NewIngester creates an Ingester writing to repo.
func NewIngester(repo storage.DocumentRepository, opts ...Option) (*Ingester, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}

	i := &Ingester{
		repo:        repo,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}

	if i.normalizer == nil {
		n, err := normalize.New()
		if err != nil {
			return nil, err
		}
		i.normalizer = n
	}
	if i.splitter == nil {
		c, err := chunking.New(chunking.DefaultConfig())
		if err != nil {
			return nil, err
		}
		i.splitter = c
	}
	if i.fingerprinter == nil {
		f, err := fingerprint.New("")
		if err != nil {
			return nil, err
		}
		i.fingerprinter = f
	}
	return i, nil
}

// Ingest normalizes page and stores it. See IngestDocument.
func (i *Ingester) Ingest(ctx context.Context, page *core.FetchedPage) (*Result, error) {
	doc, err := i.normalizer.Normalize(page)
	if err != nil {
		if !errors.Is(err, core.ErrInvalidInput) {
			err = fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		}
		i.metrics.observeError(err, 0)
		return nil, err
	}
	return i.IngestDocument(ctx, doc)
}

// IngestDocument stores a normalized document and reconciles its chunks in one
// atomic unit of work:
//
//  1. look up the document by URL
//  2. insert it, update its mutable fields, or leave it untouched when nothing changed
//  3. insert, update or keep each chunk by (document, index)
//  4. delete every chunk at or beyond the new chunk count
//
// Conflicts and transient storage failures re-run all four steps.
func (i *Ingester) IngestDocument(ctx context.Context, doc *core.Document) (*Result, error) {
	started := time.Now()
	result, err := i.ingest(ctx, doc)
	elapsed := time.Since(started)
	if err != nil {
		i.metrics.observeError(err, elapsed)
		return nil, err
	}
	i.metrics.observeResult(result, elapsed)
	return result, nil
}

func (i *Ingester) ingest(ctx context.Context, doc *core.Document) (*Result, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}
	doc, err := canonical(doc)
	if err != nil {
		return nil, err
	}

	// Splitting is pure, so it happens once outside the retry loop.
	candidates, err := i.splitter.Split(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: splitting %s: %w", core.ErrInvalidInput, doc.URL, err)
	}
	if err := core.ValidateChunks(doc.Text, candidates); err != nil {
		i.logger.Error("splitter produced invalid chunks", "url", doc.URL, "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrIntegrityViolation, err)
	}
	hashes := make([]string, len(candidates))
	for idx, c := range candidates {
		hashes[idx] = i.fingerprinter.Sum(c.Content)
	}

	policy := retryPolicy{attempts: i.maxAttempts, base: i.retryDelay, retryable: retryable, logger: i.logger.With("url", doc.URL)}
	var result *Result
	attempts, err := policy.run(ctx, func(attempt int) error {
		if attempt > 1 {
			i.metrics.observeRetry()
		}
		var err error
		result, err = i.apply(ctx, doc, candidates, hashes)
		return err
	})
	if err != nil {
		return nil, i.classify(doc.URL, attempts, err)
	}

	result.Attempts = attempts
	i.logger.Debug("ingested document",
		"url", doc.URL,
		"doc_id", result.Document.Id,
		"outcome", result.Outcome,
		"chunks_inserted", result.ChunksInserted,
		"chunks_updated", result.ChunksUpdated,
		"chunks_unchanged", result.ChunksUnchanged,
		"chunks_deleted", result.ChunksDeleted,
		"attempts", attempts)
	return result, nil
}

// apply runs one attempt of the unit of work.
func (i *Ingester) apply(ctx context.Context, doc *core.Document, candidates []core.ChunkCandidate, hashes []string) (*Result, error) {
	var result *Result
	err := i.repo.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		now := i.now().UTC().Truncate(time.Microsecond)
		res := &Result{}

		stored, err := tx.GetDocumentByURL(ctx, doc.URL)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			created := *doc
			created.Id = 0
			created.CreatedAt = now
			created.UpdatedAt = now
			if err := tx.InsertDocument(ctx, &created); err != nil {
				return err
			}
			res.Document = &created
			res.Outcome = OutcomeCreated
		case err != nil:
			return err
		case stored.SameContent(doc):
			res.Document = stored
			res.Outcome = OutcomeUnchanged
		default:
			stored.CopyContent(doc)
			stored.UpdatedAt = now
			if err := tx.UpdateDocument(ctx, stored); err != nil {
				return err
			}
			res.Document = stored
			res.Outcome = OutcomeUpdated
		}

		docID := res.Document.Id
		existing := map[int]*core.Chunk{}
		if res.Outcome != OutcomeCreated {
			chunks, err := tx.GetChunks(ctx, docID)
			if err != nil {
				return err
			}
			for _, c := range chunks {
				existing[c.Index] = c
			}
		}

		for idx, candidate := range candidates {
			chunk := &core.Chunk{
				DocumentId:    docID,
				Index:         candidate.Index,
				Content:       candidate.Content,
				Offsets:       candidate.Offsets,
				TokenEstimate: candidate.TokenEstimate,
				ContentHash:   hashes[idx],
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			old, ok := existing[candidate.Index]
			switch {
			case !ok:
				if err := tx.InsertChunk(ctx, chunk); err != nil {
					return err
				}
				res.ChunksInserted++
			case old.Matches(candidate, hashes[idx]):
				res.ChunksUnchanged++
			default:
				if err := tx.UpdateChunk(ctx, chunk); err != nil {
					return err
				}
				res.ChunksUpdated++
			}
		}

		deleted, err := tx.DeleteChunksFrom(ctx, docID, len(candidates))
		if err != nil {
			return err
		}
		res.ChunksDeleted = deleted

		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retryable reports whether a failed unit of work may be re-run from the start.
func retryable(err error) bool {
	if errors.Is(err, storage.ErrStorageClosed) {
		return false
	}
	return errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrUnavailable)
}

// classify maps a storage failure onto the ingestion error taxonomy.
func (i *Ingester) classify(url string, attempts int, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, storage.ErrIntegrity), errors.Is(err, storage.ErrSerializationFailed):
		i.logger.Error("integrity violation", "url", url, "err", err)
		return fmt.Errorf("%w: %s: %w", core.ErrIntegrityViolation, url, err)
	case errors.Is(err, storage.ErrConflict):
		i.logger.Warn("ingestion conflict", "url", url, "attempts", attempts, "err", err)
		return fmt.Errorf("%w: %s after %d attempts: %w", core.ErrIngestionConflict, url, attempts, err)
	default:
		i.logger.Warn("storage unavailable", "url", url, "attempts", attempts, "err", err)
		return fmt.Errorf("%w: %s after %d attempts: %w", core.ErrStorageUnavailable, url, attempts, err)
	}
}

// canonical returns a copy of doc whose meta and fetched_at have the shape a
// store hands back, so unchanged re-ingestions compare equal.
func canonical(doc *core.Document) (*core.Document, error) {
	meta, err := normalize.CanonicalMeta(doc.Meta)
	if err != nil {
		return nil, err
	}
	out := *doc
	out.Meta = meta
	if doc.FetchedAt != nil {
		t := doc.FetchedAt.UTC().Truncate(time.Microsecond)
		out.FetchedAt = &t
	}
	return &out, nil
}
