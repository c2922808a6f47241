package keys

import "errors"

// Sentinel errors returned by key providers. Callers should use [errors.Is]
// to match against these values.
var (
	// ErrKeyNotFound is returned when the requested (key_id, version) pair
	// is absent.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyOperationDenied is returned when the key's current status
	// forbids the requested operation (e.g. reading a DELETED version or
	// deleting an ACTIVE one).
	ErrKeyOperationDenied = errors.New("key operation denied")

	// ErrBadKeyLength is returned by CreateKeyFromBytes when the material
	// is not exactly 32 bytes.
	ErrBadKeyLength = errors.New("key material must be 32 bytes")

	// ErrTransientTransport marks 5xx and network-level failures from the
	// external KMS; such calls are retried with backoff before this error
	// propagates.
	ErrTransientTransport = errors.New("transient transport error")
)
