package chunking

import "errors"

var (
	// ErrInvalidConfig indicates a chunking configuration that cannot produce chunks.
	ErrInvalidConfig = errors.New("invalid chunking config")
)
