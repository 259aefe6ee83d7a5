package storage

import "errors"

var (
	// ErrStorageFailure wraps backend errors from upsert, search and delete.
	ErrStorageFailure = errors.New("storage failure")

	// ErrBackendUnreachable is returned when the backend fails its startup health check.
	ErrBackendUnreachable = errors.New("vector backend unreachable")

	// ErrDimensionMismatch rejects vectors whose size differs from the index's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnknownBackend is returned by Open for an unrecognized backend name.
	ErrUnknownBackend = errors.New("unknown index backend")
)
