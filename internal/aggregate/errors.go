package aggregate

import "fmt"

// ValidationError reports a structurally unusable row, e.g. one that retains
// no group-value column after the count is removed. It aborts the whole run.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// DataError reports a malformed count on a row that should have been filtered
// upstream. It is a defensive check with the same abort behavior as
// ValidationError.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string { return "data: " + e.Reason }

// UnsupportedError reports an indicator shape this design does not cover,
// such as more than two grouping dimensions remaining in a leaf breakdown.
type UnsupportedError struct {
	Reason string
}

func (e *UnsupportedError) Error() string { return "unsupported: " + e.Reason }

// PersistenceError wraps a storage failure during the delete/insert phase of
// a run. The transaction is rolled back; the previous output set survives.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
