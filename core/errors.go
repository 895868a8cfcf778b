// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "errors"

// Ingestion error taxonomy. Callers match these with errors.Is.
var (
	// ErrInvalidInput indicates a malformed or incomplete fetched-page record.
	// Nothing is written when this is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIngestionConflict indicates concurrent writes to the same URL kept
	// colliding until the retry budget ran out.
	ErrIngestionConflict = errors.New("ingestion conflict")

	// ErrStorageUnavailable indicates the store was unreachable or refused the
	// transaction for infrastructure reasons. Safe to retry later.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrIntegrityViolation indicates the store rejected a write that the
	// pipeline should never have produced. Never retried.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// Validation errors
var (
	// ErrEmptyURL indicates the url field is missing or blank.
	ErrEmptyURL = errors.New("url cannot be empty")

	// ErrMalformedURL indicates the url is not an absolute http(s)-style URL.
	ErrMalformedURL = errors.New("malformed url")

	// ErrEmptyText indicates the text is empty after normalization.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrInvalidTimestamp indicates fetched_at could not be parsed.
	ErrInvalidTimestamp = errors.New("invalid fetched_at timestamp")

	// ErrInvalidLanguage indicates lang is not a valid BCP 47 tag.
	ErrInvalidLanguage = errors.New("invalid language tag")

	// ErrInvalidOffsets indicates chunk offsets fall outside the document text
	// or do not match the chunk content.
	ErrInvalidOffsets = errors.New("invalid chunk offsets")

	// ErrSparseIndices indicates chunk sequence indices are not 0..N-1.
	ErrSparseIndices = errors.New("chunk indices are not dense")

	// ErrEmptyChunk indicates a chunk with no content.
	ErrEmptyChunk = errors.New("chunk content cannot be empty")
)
