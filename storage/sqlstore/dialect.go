package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the differences between the SQL engines the store runs on.
type Dialect struct {
	name          string
	driver        string
	numbered      bool   // $1, $2 placeholders instead of ?
	lockClause    string // appended to row lookups made inside a transaction
	jsonParam     string // expression that binds a JSON text parameter
	jsonColumn    string // expression that reads extra_json back as text
	timeAsText    bool   // timestamps are stored as RFC 3339 text
	singleWriter  bool   // the engine serializes writers; one connection suffices
	classifyError func(error) error
}

var (
	// Postgres talks to PostgreSQL through pgx's database/sql driver.
	Postgres = &Dialect{
		name:          "postgres",
		driver:        "pgx",
		numbered:      true,
		lockClause:    " FOR UPDATE",
		jsonParam:     "CAST(? AS JSONB)",
		jsonColumn:    "extra_json::text",
		classifyError: classifyPostgres,
	}

	// SQLite uses the pure Go modernc.org/sqlite driver.
	SQLite = &Dialect{
		name:          "sqlite",
		driver:        "sqlite",
		jsonParam:     "?",
		jsonColumn:    "extra_json",
		timeAsText:    true,
		singleWriter:  true,
		classifyError: classifySQLite,
	}
)

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unknown SQL dialect %q", name)
	}
}

// Name returns the dialect name.
func (d *Dialect) Name() string {
	return d.name
}

// rebind rewrites ? placeholders into the dialect's form.
func (d *Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeValue converts t into the value bound for a timestamp column.
func (d *Dialect) timeValue(t time.Time) any {
	t = t.UTC()
	if d.timeAsText {
		return t.Format(time.RFC3339Nano)
	}
	return t
}

func (d *Dialect) nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeValue(*t)
}

// SQLiteDSN builds a modernc.org/sqlite DSN for the database file at path with
// the pragmas the store relies on.
func SQLiteDSN(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate"
}
