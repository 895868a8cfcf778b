// Package sqlstore implements storage.DocumentRepository on relational
// databases through database/sql.
//
// Two dialects are supported: Postgres (github.com/jackc/pgx/v5/stdlib) and
// SQLite (modernc.org/sqlite). The schema is embedded per dialect and applied
// by Open. Uniqueness of document URLs and of chunk positions, and the
// cascade from documents to chunks, are enforced by table constraints.
//
//	store, err := sqlstore.Open(ctx, sqlstore.SQLite, sqlstore.SQLiteDSN("corpus.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package sqlstore
