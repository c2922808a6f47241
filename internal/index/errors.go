package index

import "errors"

// Sentinel errors returned by the index engine. Callers should use
// [errors.Is] to match against these values.
var (
	// ErrUniqueViolation is returned when a unique index already holds the
	// same value projection under a different primary key. The offending
	// batch is rolled back in full.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrNoIndex is returned when a query targets a (table, column) pair
	// with no maintained index of the required family.
	ErrNoIndex = errors.New("no index for table/column")

	// ErrInvalidName is returned when a table or column name is empty or
	// contains a reserved separator character.
	ErrInvalidName = errors.New("invalid table/column name")

	// ErrSchemaDecode marks a stored index-config document that failed to
	// parse; the engine downgrades to the default config and warns.
	ErrSchemaDecode = errors.New("index config decode failed")

	// ErrCorruption marks an index entry whose primary record is missing or
	// undeserializable. Scans log and skip the candidate.
	ErrCorruption = errors.New("index corruption")
)
