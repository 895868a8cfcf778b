package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
)

const (
	documentColumns = "id, url, title, lang, domain, fetched_at, status, content_type, text, %s, created_at, updated_at"
	chunkColumns    = "id, doc_id, sequence_index, content, char_start, char_end, token_estimate, content_hash, created_at, updated_at"
)

// nullTime scans a timestamp column stored either natively or as text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	n.Valid = false
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time = v.UTC()
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return fmt.Errorf("%w: cannot scan %T into timestamp", storage.ErrSerializationFailed, src)
	}
	n.Valid = true
	return nil
}

func (n *nullTime) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	n.Time = t.UTC()
	n.Valid = true
	return nil
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*core.Document, error) {
	var (
		doc       core.Document
		id        int64
		fetchedAt nullTime
		meta      sql.NullString
		createdAt nullTime
		updatedAt nullTime
	)
	err := row.Scan(&id, &doc.URL, &doc.Title, &doc.Lang, &doc.Domain, &fetchedAt,
		&doc.Status, &doc.ContentType, &doc.Text, &meta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	doc.Id = core.ID(id)
	doc.FetchedAt = fetchedAt.ptr()
	doc.CreatedAt = createdAt.Time
	doc.UpdatedAt = updatedAt.Time
	if meta.Valid {
		if doc.Meta, err = storage.UnmarshalMeta([]byte(meta.String)); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func scanChunk(row rowScanner) (*core.Chunk, error) {
	var (
		chunk     core.Chunk
		id        int64
		docID     int64
		start     sql.NullInt64
		end       sql.NullInt64
		createdAt nullTime
		updatedAt nullTime
	)
	err := row.Scan(&id, &docID, &chunk.Index, &chunk.Content, &start, &end,
		&chunk.TokenEstimate, &chunk.ContentHash, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	chunk.Id = core.ID(id)
	chunk.DocumentId = core.ID(docID)
	chunk.CreatedAt = createdAt.Time
	chunk.UpdatedAt = updatedAt.Time
	if start.Valid && end.Valid {
		chunk.Offsets = &core.Span{Start: int(start.Int64), End: int(end.Int64)}
	}
	return &chunk, nil
}

func offsetValues(span *core.Span) (any, any) {
	if span == nil {
		return nil, nil
	}
	return span.Start, span.End
}

func metaValue(meta map[string]any) (any, error) {
	data, err := storage.MarshalMeta(meta)
	if err != nil || data == nil {
		return nil, err
	}
	return string(data), nil
}
