package gc

import (
	"fmt"

	"github.com/tinygo-org/semispace/memory"
)

// Semispace is one half of the heap: a linear, bump-allocated arena.
//
// The allocation frontier top only grows between resets, and
// bottom <= top <= end always holds.
type Semispace struct {
	bottom memory.Address
	top    memory.Address
	end    memory.Address

	// target is set while the space receives evacuated objects. Resetting
	// it then would discard objects the collector is still scanning.
	target bool
}

// NewSemispace returns an empty space covering [bottom, end). Both bounds
// must be aligned.
func NewSemispace(bottom, end memory.Address) *Semispace {
	if bottom > end || !bottom.Aligned() || !end.Aligned() {
		gcPanic(fmt.Sprintf("gc: invalid semispace bounds %v..%v", bottom, end))
	}
	return &Semispace{bottom: bottom, top: bottom, end: end}
}

// Bottom returns the first address of the space.
func (s *Semispace) Bottom() memory.Address { return s.bottom }

// Top returns the allocation frontier.
func (s *Semispace) Top() memory.Address { return s.top }

// End returns the address just past the space.
func (s *Semispace) End() memory.Address { return s.end }

// Size returns the capacity of the space in bytes.
func (s *Semispace) Size() uintptr { return s.end.Sub(s.bottom) }

// Used returns the number of allocated bytes.
func (s *Semispace) Used() uintptr { return s.top.Sub(s.bottom) }

// Free returns the number of bytes still available.
func (s *Semispace) Free() uintptr { return s.end.Sub(s.top) }

// Allocate reserves size bytes, rounded up to memory.Align, and returns
// their address. If the space cannot hold them it returns an error wrapping
// ErrAllocationFailure and top is left unchanged. A zero size succeeds
// without moving top.
func (s *Semispace) Allocate(size uintptr) (memory.Address, error) {
	// top and end are aligned, so checking the raw size is enough and
	// avoids overflow when rounding huge sizes.
	if size > s.Free() {
		return memory.Nil, fmt.Errorf("%w: %d bytes requested, %d free", ErrAllocationFailure, size, s.Free())
	}
	addr := s.top
	s.top = s.top.Add(memory.AlignUp(size))
	return addr, nil
}

// Contains reports whether addr lies in the allocated part of the space.
// It checks against top, not end: bytes past the frontier never hold live
// objects.
func (s *Semispace) Contains(addr memory.Address) bool {
	return s.bottom <= addr && addr < s.top
}

// Reset discards everything in the space. It must not be called while the
// space is the target of a collection.
func (s *Semispace) Reset() {
	if s.target {
		gcPanic("gc: reset of a semispace that is the target of a collection")
	}
	s.top = s.bottom
}

// Span is a snapshot of the bounds of a semispace.
type Span struct {
	Bottom, Top, End memory.Address
}

// Used returns the number of allocated bytes in the span.
func (s Span) Used() uintptr { return s.Top.Sub(s.Bottom) }

// Size returns the capacity of the span.
func (s Span) Size() uintptr { return s.End.Sub(s.Bottom) }

func (s *Semispace) span() Span {
	return Span{Bottom: s.bottom, Top: s.top, End: s.end}
}
