package gc

import "errors"

var (
	// ErrAllocationFailure is returned when a semispace has no room for an
	// allocation. The caller decides whether to collect and retry.
	ErrAllocationFailure = errors.New("gc: allocation failure")

	// ErrOutOfMemory means the live data does not fit in one semispace.
	// Raised inside Collect it is fatal for the heap.
	ErrOutOfMemory = errors.New("gc: out of memory")
)

// InvariantViolation is the panic value for conditions that never occur
// under correct use, such as collecting into a non-empty to-space.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string {
	return e.Msg
}

func gcPanic(msg string) {
	panic(&InvariantViolation{Msg: msg})
}
