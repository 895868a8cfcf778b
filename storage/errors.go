package storage

import "errors"

// Lookup and argument errors.
var (
	ErrNotFound     = errors.New("storage: no such record")
	ErrInvalidQuery = errors.New("storage: bad query arguments")
)

// Write-path errors. ErrConflict is the only one that a fresh attempt of the
// same unit of work can clear.
var (
	ErrDuplicateKey = errors.New("storage: unique key already taken")
	ErrConflict     = errors.New("storage: concurrent write collided")
	ErrIntegrity    = errors.New("storage: stored data violates a constraint")
)

// Backend-state errors. ErrStorageClosed is always reported wrapped together
// with ErrUnavailable.
var (
	ErrUnavailable         = errors.New("storage: backend unavailable")
	ErrStorageClosed       = errors.New("storage: backend closed")
	ErrSerializationFailed = errors.New("storage: cannot encode or decode record")
)
