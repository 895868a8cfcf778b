package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
	"github.com/sony/gobreaker"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultPingTimeout     = 30 * time.Second

	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// Store implements storage.DocumentRepository over database/sql.
//
// Every call runs behind a circuit breaker that opens after consecutive
// infrastructure failures; while it is open calls fail fast with
// storage.ErrUnavailable.
type Store struct {
	db      *sql.DB
	dialect *Dialect
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	closed  atomic.Bool

	maxOpenConns    int
	breakerFailures uint32
	breakerCooldown time.Duration
}

var _ storage.DocumentRepository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMaxOpenConns caps the connection pool. Ignored for single-writer dialects.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) error {
		if n <= 0 {
			return fmt.Errorf("max open connections must be positive, got %d", n)
		}
		s.maxOpenConns = n
		return nil
	}
}

// WithBreaker sets how many consecutive infrastructure failures open the
// circuit and how long it stays open.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(s *Store) error {
		if failures == 0 || cooldown <= 0 {
			return fmt.Errorf("invalid breaker settings: failures=%d cooldown=%s", failures, cooldown)
		}
		s.breakerFailures = failures
		s.breakerCooldown = cooldown
		return nil
	}
}

// Open connects to the database described by dsn, verifies the connection and
// brings the schema up to date.
func Open(ctx context.Context, dialect *Dialect, dsn string, opts ...Option) (*Store, error) {
	if dialect == nil {
		return nil, errors.New("sqlstore: nil dialect")
	}
	s := &Store{
		dialect:         dialect,
		logger:          slog.Default(),
		maxOpenConns:    defaultMaxOpenConns,
		breakerFailures: defaultBreakerFailures,
		breakerCooldown: defaultBreakerCooldown,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "sqlstore", "dialect", dialect.name)

	db, err := sql.Open(dialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", storage.ErrUnavailable, err)
	}
	if dialect.singleWriter {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.maxOpenConns)
		db.SetMaxIdleConns(min(defaultMaxIdleConns, s.maxOpenConns))
		db.SetConnMaxLifetime(defaultConnMaxLifetime)
		db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
	}
	s.db = db

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %w", storage.ErrUnavailable, err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sqlstore-" + dialect.name,
		MaxRequests: 1,
		Timeout:     s.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, storage.ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// guard runs op behind the circuit breaker and translates its error.
func (s *Store) guard(op func() error) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, storage.ErrStorageClosed)
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.dialect.translate(op())
	})
	return s.dialect.translate(err)
}

// WithTransaction runs fn in one database transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.guard(func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(ctx, &tx{store: s, sqlTx: sqlTx}); err != nil {
			sqlTx.Rollback()
			return err
		}
		if err := ctx.Err(); err != nil {
			sqlTx.Rollback()
			return err
		}
		return sqlTx.Commit()
	})
}

func (s *Store) documentQuery(where string) string {
	return s.dialect.rebind("SELECT " + fmt.Sprintf(documentColumns, s.dialect.jsonColumn) + " FROM documents " + where)
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var doc *core.Document
	err := s.guard(func() error {
		var err error
		doc, err = scanDocument(s.db.QueryRowContext(ctx, s.documentQuery("WHERE id = ?"), int64(id)))
		return err
	})
	return doc, err
}

// GetDocumentByURL retrieves a document by URL.
func (s *Store) GetDocumentByURL(ctx context.Context, url string) (*core.Document, error) {
	var doc *core.Document
	err := s.guard(func() error {
		var err error
		doc, err = scanDocument(s.db.QueryRowContext(ctx, s.documentQuery("WHERE url = ?"), url))
		return err
	})
	return doc, err
}

// ListDocuments returns up to limit documents with Id > afterID in Id order.
func (s *Store) ListDocuments(ctx context.Context, afterID core.ID, limit int) ([]*core.Document, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	var docs []*core.Document
	err := s.guard(func() error {
		rows, err := s.db.QueryContext(ctx, s.documentQuery("WHERE id > ? ORDER BY id LIMIT ?"), int64(afterID), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	return docs, err
}

// GetChunks returns the chunks of a document ordered by sequence index.
func (s *Store) GetChunks(ctx context.Context, docID core.ID) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := s.guard(func() error {
		var err error
		chunks, err = queryChunks(ctx, s.db, s.dialect, "WHERE doc_id = ? ORDER BY sequence_index", int64(docID))
		return err
	})
	return chunks, err
}

// GetChunksByHash returns every chunk with the given content hash.
func (s *Store) GetChunksByHash(ctx context.Context, hash string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := s.guard(func() error {
		var err error
		chunks, err = queryChunks(ctx, s.db, s.dialect, "WHERE content_hash = ? ORDER BY doc_id, sequence_index", hash)
		return err
	})
	return chunks, err
}

// DeleteDocument removes a document; its chunks go with it through the
// foreign key cascade.
func (s *Store) DeleteDocument(ctx context.Context, id core.ID) error {
	return s.guard(func() error {
		res, err := s.db.ExecContext(ctx, s.dialect.rebind("DELETE FROM documents WHERE id = ?"), int64(id))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryChunks(ctx context.Context, q querier, d *Dialect, where string, args ...any) ([]*core.Chunk, error) {
	rows, err := q.QueryContext(ctx, d.rebind("SELECT "+chunkColumns+" FROM chunks "+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}
