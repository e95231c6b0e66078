package store

import "errors"

var (
	// ErrStoreUnavailable means the underlying file could not be opened or
	// pinged — the equivalent of the teacher's fail-fast database.DB errors.
	ErrStoreUnavailable = errors.New("cipherpad: store unavailable")

	// ErrStoreError wraps an unexpected SQL failure on an otherwise healthy
	// connection, constraint violations included.
	ErrStoreError = errors.New("cipherpad: store error")

	// ErrNotFound means a node id does not exist.
	ErrNotFound = errors.New("cipherpad: node not found")
)
