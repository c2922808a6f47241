package storage

import "errors"

// Sentinel errors returned by store implementations. Callers should use
// [errors.Is] to match against these values.
var (
	// ErrStoreClosed is returned when an operation is attempted on a store
	// that has already been closed.
	ErrStoreClosed = errors.New("byte store is closed")

	// ErrBatchCommitted is returned when Commit is called on a write batch
	// that has already been committed.
	ErrBatchCommitted = errors.New("write batch already committed")
)
