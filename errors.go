package chronicle

import "errors"

// Open errors. Every error returned by Open, other than a Config
// validation error (which Open returns as is), wraps one of these via
// fmt.Errorf("...: %w", ...) with the path/table/step that failed, so
// callers can errors.Is against the sentinel while still getting a full
// contextual chain from Error().
var (
	// ErrOpenIO covers any failure opening, creating, or reading a
	// directory or file during recovery.
	ErrOpenIO = errors.New("chronicle: open: i/o failure")
	// ErrOpenOrdering is returned when a keys or offsets file is not
	// non-decreasing.
	ErrOpenOrdering = errors.New("chronicle: open: sequence is not non-decreasing")
	// ErrOpenLengthMismatch is returned when a file is shorter than the
	// 8*N bytes its declared length requires.
	ErrOpenLengthMismatch = errors.New("chronicle: open: file shorter than declared length")
	// ErrOpenDataTooSmall is returned when a table's data file is shorter
	// than the last offset recorded for it.
	ErrOpenDataTooSmall = errors.New("chronicle: open: data file shorter than last offset")
)

// Write errors, surfaced from Writer.Append.
var (
	// ErrWriteArity is returned when the number of values supplied to
	// Append does not equal the number of configured tables.
	ErrWriteArity = errors.New("chronicle: append: value count does not match table count")
	// ErrWriteIO covers any i/o step of the commit protocol: payload,
	// offsets, keys, new_length build/sync/close, or rename.
	ErrWriteIO = errors.New("chronicle: append: i/o failure")
)

// Read errors, surfaced from Reader.Read, Reader.ReadMany, and Iter.
var (
	// ErrUnknownTable is returned when a table name is not among those
	// the store was opened with.
	ErrUnknownTable = errors.New("chronicle: read: unknown table")
	// ErrReadIO covers any underlying read failure.
	ErrReadIO = errors.New("chronicle: read: i/o failure")
)

// Iter errors.
var (
	// ErrIterNotStarted is returned by Iter.Read / Iter.ReadMany when
	// called before the first call to Iter.Next.
	ErrIterNotStarted = errors.New("chronicle: iter: read called before next")
)
