package docyard

// errors.go defines the error values surfaced by the storage and query core.
// Engine (SQLite) errors pass through wrapped; use errors.Is/As to inspect.

import "errors"

var (
	// ErrNoSuchIndex is returned when a query references a full-text index
	// that does not exist.
	ErrNoSuchIndex = errors.New("docyard: no such index")

	// ErrInvalidParameter is returned for precondition violations such as
	// seeking past the end of a result set.
	ErrInvalidParameter = errors.New("docyard: invalid parameter")

	// ErrInvalidQueryParam is returned when a query parameter name is not
	// declared by the compiled query.
	ErrInvalidQueryParam = errors.New("docyard: unknown query parameter")

	// ErrUnsupportedOperation is returned for operations the enumerator mode
	// cannot perform, e.g. refreshing a one-shot enumerator.
	ErrUnsupportedOperation = errors.New("docyard: unsupported operation")

	// ErrCorruptRevisionData is returned when a stored value cannot be
	// decoded. There is no auto-repair.
	ErrCorruptRevisionData = errors.New("docyard: corrupt revision data")

	// ErrCheckpointConflict is returned when a peer checkpoint write carries
	// a revision that does not match the stored one (HTTP 409 equivalent).
	ErrCheckpointConflict = errors.New("docyard: checkpoint revision conflict")

	// ErrNotFound is returned by lookups that require the target to exist,
	// such as Checkpoints.GetPeer. Checkpoints.GetLocal reports a missing
	// checkpoint as an empty result instead.
	ErrNotFound = errors.New("docyard: not found")

	// ErrDBClosed is returned when the database handle has been closed.
	ErrDBClosed = errors.New("docyard: database is closed")

	// ErrIndexExists is returned when creating an index under a name that is
	// already taken by a different definition.
	ErrIndexExists = errors.New("docyard: index already exists")
)
