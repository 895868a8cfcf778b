package ingestion

import "errors"

var (
	// ErrRepositoryRequired is returned when a document repository is not provided.
	ErrRepositoryRequired = errors.New("document repository required")

	// ErrIngesterRequired is returned when a runner is built without an ingester.
	ErrIngesterRequired = errors.New("ingester required")

	// ErrSourceRequired is returned when a runner is started without a page source.
	ErrSourceRequired = errors.New("page source required")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)
