// Package ingestion turns fetched pages into stored documents and chunks.
//
// The Ingester runs one atomic unit of work per page:
//   - Normalizing the record and splitting its text into chunks
//   - Upserting the document by URL
//   - Upserting chunks by (document, index) and deleting stale trailing chunks
//
// Conflicts with concurrent writers and transient storage failures re-run the
// whole unit of work with exponential backoff. The Runner feeds a stream of
// pages through an Ingester on a bounded worker pool.
package ingestion
