package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/poiesic/corpus/storage"
	"github.com/sony/gobreaker"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// translate maps driver errors onto the storage sentinels.
func (d *Dialect) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, storage.ErrIntegrity),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrSerializationFailed):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return storage.ErrNotFound
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}

	if classified := d.classifyError(err); classified != nil {
		return classified
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return err
}

func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
			return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
		}
		var connectErr *pgconn.ConnectError
		if errors.As(err, &connectErr) {
			return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
		}
		return nil
	}

	switch {
	case pgErr.Code == "23505" && pgErr.TableName == "documents":
		return fmt.Errorf("%w: %w: %w", storage.ErrConflict, storage.ErrDuplicateKey, err)
	case pgErr.Code == "23505":
		return fmt.Errorf("%w: %w: %w", storage.ErrIntegrity, storage.ErrDuplicateKey, err)
	case strings.HasPrefix(pgErr.Code, "23"):
		return fmt.Errorf("%w: %w", storage.ErrIntegrity, err)
	case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03":
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	case strings.HasPrefix(pgErr.Code, "08"), // connection exception
		strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
		strings.HasPrefix(pgErr.Code, "57"): // operator intervention
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

func classifySQLite(err error) error {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return nil
	}

	code := liteErr.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	case sqlite3.SQLITE_CONSTRAINT:
		unique := code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
		switch {
		case unique && strings.Contains(err.Error(), "documents.url"):
			return fmt.Errorf("%w: %w: %w", storage.ErrConflict, storage.ErrDuplicateKey, err)
		case unique:
			return fmt.Errorf("%w: %w: %w", storage.ErrIntegrity, storage.ErrDuplicateKey, err)
		default:
			return fmt.Errorf("%w: %w", storage.ErrIntegrity, err)
		}
	case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_CANTOPEN,
		sqlite3.SQLITE_READONLY, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return nil
}
