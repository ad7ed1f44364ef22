package types

import "errors"

// Error taxonomy of the index. Callers match with errors.Is; components wrap
// these with context via fmt.Errorf("...: %w", ...).
var (
	// ErrOutOfOrder is returned by assignment when a parent hash has no
	// vertex yet. The caller must resubmit commits in topological order;
	// nothing is retried internally.
	ErrOutOfOrder = errors.New("parent commit has no assigned vertex")

	// ErrNotFound is returned by pure lookups when the hash or vertex is
	// absent in the requested version.
	ErrNotFound = errors.New("not found in this version")

	// ErrUnknownVertex is returned by ancestry queries for a vertex outside
	// the queried IdDag. Always a stale version reference on the caller side.
	ErrUnknownVertex = errors.New("vertex not present in this dag version")

	// ErrUnknownVersion is returned when a repository has no published
	// version or the referenced version does not exist.
	ErrUnknownVersion = errors.New("unknown version")

	// ErrAmbiguousPrefix is returned by prefix resolution when more than one
	// known hash matches.
	ErrAmbiguousPrefix = errors.New("ambiguous hash prefix")

	// ErrCorruption means durable data failed an internal consistency check.
	// Fatal for the affected version; it must not be served or published.
	ErrCorruption = errors.New("corrupt index data")

	// ErrStorageUnavailable wraps I/O failures of the durable store. The
	// caller retries with backoff; the core performs no hidden retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
