package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
)

// tx implements storage.Tx over a database/sql transaction. URL lookups lock
// the row on engines that support it; SQLite takes the database write lock
// when the transaction begins.
type tx struct {
	store *Store
	sqlTx *sql.Tx
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) fail(err error) error {
	return t.store.dialect.translate(err)
}

func (t *tx) GetDocumentByURL(ctx context.Context, url string) (*core.Document, error) {
	query := t.store.documentQuery("WHERE url = ?" + t.store.dialect.lockClause)
	doc, err := scanDocument(t.sqlTx.QueryRowContext(ctx, query, url))
	if err != nil {
		return nil, t.fail(err)
	}
	return doc, nil
}

func (t *tx) InsertDocument(ctx context.Context, doc *core.Document) error {
	d := t.store.dialect
	meta, err := metaValue(doc.Meta)
	if err != nil {
		return err
	}
	query := d.rebind(`INSERT INTO documents
		(url, title, lang, domain, fetched_at, status, content_type, text, extra_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ` + d.jsonParam + `, ?, ?)
		RETURNING id`)

	var id int64
	err = t.sqlTx.QueryRowContext(ctx, query,
		doc.URL, doc.Title, doc.Lang, doc.Domain, d.nullableTime(doc.FetchedAt), doc.Status,
		doc.ContentType, doc.Text, meta, d.timeValue(doc.CreatedAt), d.timeValue(doc.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return t.fail(err)
	}
	doc.Id = core.ID(id)
	return nil
}

func (t *tx) UpdateDocument(ctx context.Context, doc *core.Document) error {
	d := t.store.dialect
	meta, err := metaValue(doc.Meta)
	if err != nil {
		return err
	}
	query := d.rebind(`UPDATE documents SET
		title = ?, lang = ?, domain = ?, fetched_at = ?, status = ?, content_type = ?,
		text = ?, extra_json = ` + d.jsonParam + `, updated_at = ?
		WHERE id = ?
		RETURNING url, created_at`)

	var createdAt nullTime
	err = t.sqlTx.QueryRowContext(ctx, query,
		doc.Title, doc.Lang, doc.Domain, d.nullableTime(doc.FetchedAt), doc.Status, doc.ContentType,
		doc.Text, meta, d.timeValue(doc.UpdatedAt), int64(doc.Id),
	).Scan(&doc.URL, &createdAt)
	if err != nil {
		return t.fail(err)
	}
	doc.CreatedAt = createdAt.Time
	return nil
}

func (t *tx) GetChunks(ctx context.Context, docID core.ID) ([]*core.Chunk, error) {
	chunks, err := queryChunks(ctx, t.sqlTx, t.store.dialect, "WHERE doc_id = ? ORDER BY sequence_index", int64(docID))
	if err != nil {
		return nil, t.fail(err)
	}
	return chunks, nil
}

func (t *tx) InsertChunk(ctx context.Context, chunk *core.Chunk) error {
	d := t.store.dialect
	start, end := offsetValues(chunk.Offsets)
	query := d.rebind(`INSERT INTO chunks
		(doc_id, sequence_index, content, char_start, char_end, token_estimate, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	var id int64
	err := t.sqlTx.QueryRowContext(ctx, query,
		int64(chunk.DocumentId), chunk.Index, chunk.Content, start, end, chunk.TokenEstimate,
		chunk.ContentHash, d.timeValue(chunk.CreatedAt), d.timeValue(chunk.UpdatedAt),
	).Scan(&id)
	if err != nil {
		err = t.fail(err)
		if errors.Is(err, storage.ErrIntegrity) {
			return fmt.Errorf("%w (document %d index %d)", err, chunk.DocumentId, chunk.Index)
		}
		return err
	}
	chunk.Id = core.ID(id)
	return nil
}

func (t *tx) UpdateChunk(ctx context.Context, chunk *core.Chunk) error {
	d := t.store.dialect
	start, end := offsetValues(chunk.Offsets)
	query := d.rebind(`UPDATE chunks SET
		content = ?, char_start = ?, char_end = ?, token_estimate = ?, content_hash = ?, updated_at = ?
		WHERE doc_id = ? AND sequence_index = ?
		RETURNING id, created_at`)

	var (
		id        int64
		createdAt nullTime
	)
	err := t.sqlTx.QueryRowContext(ctx, query,
		chunk.Content, start, end, chunk.TokenEstimate, chunk.ContentHash, d.timeValue(chunk.UpdatedAt),
		int64(chunk.DocumentId), chunk.Index,
	).Scan(&id, &createdAt)
	if err != nil {
		return t.fail(err)
	}
	chunk.Id = core.ID(id)
	chunk.CreatedAt = createdAt.Time
	return nil
}

func (t *tx) DeleteChunksFrom(ctx context.Context, docID core.ID, fromIndex int) (int, error) {
	res, err := t.sqlTx.ExecContext(ctx,
		t.store.dialect.rebind("DELETE FROM chunks WHERE doc_id = ? AND sequence_index >= ?"),
		int64(docID), fromIndex)
	if err != nil {
		return 0, t.fail(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, t.fail(err)
	}
	return int(n), nil
}
