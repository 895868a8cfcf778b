// Package source reads fetched-page records for batch ingestion.
//
// Records are JSON Lines: one JSON object per line. A Reader can be opened
// on a local file, standard input ("-") or an S3 object ("s3://bucket/key");
// files ending in .gz are decompressed. A Watcher reports .jsonl files that
// appear or change in a directory.
package source
