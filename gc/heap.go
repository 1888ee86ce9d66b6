// Package gc implements a two-space copying garbage collector using Cheney's
// breadth-first evacuation algorithm.
//
// The heap is split into two equal semispaces. Allocation bumps a pointer in
// the active (from) space. A collection copies every object reachable from
// the root set into the reserve (to) space, rewriting each reference on the
// way, and then the two spaces swap roles. Garbage is never visited: it is
// discarded when the old active space is reset.
//
// The heap is not safe for concurrent use. Collect stops the world: the
// mutator must not allocate, write pointers or change its roots until it
// returns.
//
// More information:
// "A Nonrecursive List Compacting Algorithm", C. J. Cheney, CACM 1970.
// "The Garbage Collection Handbook" by Richard Jones, Antony Hosking, Eliot
// Moss.
package gc

import (
	"errors"
	"fmt"
	"io"

	"github.com/tinygo-org/semispace/memory"
)

// Heap owns two semispaces and mediates all allocation.
type Heap struct {
	region *memory.Region
	model  Model

	from *Semispace // serves allocation
	to   *Semispace // empty, receives evacuees during a collection

	// forwarding maps from-space objects to their copies. It is only
	// populated during a collection and is cleared when the from-space is
	// reset.
	forwarding map[memory.Address]memory.Address

	collecting bool

	debug       io.Writer
	outOfMemory func(error)

	stats heapStats
}

// Option configures a Heap.
type Option func(*Heap)

// WithDebug writes a trace of allocations and collections to w.
func WithDebug(w io.Writer) Option {
	return func(h *Heap) { h.debug = w }
}

// WithOutOfMemoryHandler installs fn to be called when a collection runs out
// of to-space. The heap is unusable afterwards: Collect panics after fn
// returns.
func WithOutOfMemoryHandler(fn func(error)) Option {
	return func(h *Heap) { h.outOfMemory = fn }
}

// New creates a heap that uses the whole region.
func New(region *memory.Region, model Model, opts ...Option) (*Heap, error) {
	return NewRange(region, region.Bottom(), region.End(), model, opts...)
}

// NewRange creates a heap on [bottom, end), which must lie within region.
// The range is split into two equal halves; if its size is not a multiple of
// twice the alignment, the remaining tail is unused.
func NewRange(region *memory.Region, bottom, end memory.Address, model Model, opts ...Option) (*Heap, error) {
	if model == nil {
		return nil, errors.New("gc: no object model")
	}
	if bottom >= end || !region.Contains(bottom, end.Sub(bottom)) {
		return nil, fmt.Errorf("%w: heap %v..%v outside region %v..%v", memory.ErrBadRange, bottom, end, region.Bottom(), region.End())
	}
	if !bottom.Aligned() {
		return nil, fmt.Errorf("%w: heap bottom %v is not aligned", memory.ErrBadRange, bottom)
	}
	spaceSize := memory.AlignDown(end.Sub(bottom) / 2)
	if spaceSize == 0 {
		return nil, fmt.Errorf("%w: heap %v..%v too small to split", memory.ErrBadRange, bottom, end)
	}
	boundary := bottom.Add(spaceSize)
	h := &Heap{
		region:     region,
		model:      model,
		from:       NewSemispace(bottom, boundary),
		to:         NewSemispace(boundary, boundary.Add(spaceSize)),
		forwarding: make(map[memory.Address]memory.Address),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.debugf("heap: from %v..%v, to %v..%v (%d bytes each)\n", h.from.bottom, h.from.end, h.to.bottom, h.to.end, spaceSize)
	return h, nil
}

// Region returns the memory the heap lives in.
func (h *Heap) Region() *memory.Region { return h.region }

// Model returns the object model.
func (h *Heap) Model() Model { return h.model }

// Active returns the bounds of the space currently serving allocation.
func (h *Heap) Active() Span { return h.from.span() }

// Reserve returns the bounds of the empty space that receives the next
// collection.
func (h *Heap) Reserve() Span { return h.to.span() }

// Contains reports whether addr points into allocated memory of the active
// space.
func (h *Heap) Contains(addr memory.Address) bool {
	return h.from.Contains(addr)
}

// Allocate reserves size bytes in the active space. The memory is not
// initialized; that is up to the mutator. On failure it returns an error
// wrapping ErrAllocationFailure.
//
// Allocating zero bytes is a no-op that returns memory.Nil with a nil error,
// so the result cannot be told apart from a nil reference. The active
// space's top would be the only other answer, and it is the address of the
// next allocation.
func (h *Heap) Allocate(size uintptr) (memory.Address, error) {
	if h.collecting {
		gcPanic("gc: allocation during a collection")
	}
	if size == 0 {
		return memory.Nil, nil
	}
	addr, err := h.from.Allocate(size)
	if err != nil {
		h.debugf("alloc: %d bytes failed, %d free\n", size, h.from.Free())
		return memory.Nil, err
	}
	h.stats.mallocs++
	h.stats.totalAlloc += uint64(memory.AlignUp(size))
	return addr, nil
}

// AllocateOrCollect is Allocate with the usual recovery policy: if the
// active space is full, run one collection with the given roots and try once
// more. A second failure returns an error wrapping ErrOutOfMemory, since
// collecting again cannot free anything more.
func (h *Heap) AllocateOrCollect(size uintptr, roots Roots) (memory.Address, error) {
	addr, err := h.Allocate(size)
	if !errors.Is(err, ErrAllocationFailure) {
		return addr, err
	}
	h.Collect(roots)
	addr, err = h.Allocate(size)
	if err != nil {
		return memory.Nil, fmt.Errorf("%w: %d bytes after collection: %w", ErrOutOfMemory, size, err)
	}
	return addr, nil
}

// Walk calls fn for every object in the active space in address order,
// until fn returns false. Every allocation must have been initialized as an
// object the model understands.
func (h *Heap) Walk(fn func(Object) bool) {
	for addr := h.from.bottom; addr < h.from.top; {
		obj := h.Object(addr)
		size := obj.Size()
		if size == 0 {
			gcPanic(fmt.Sprintf("gc: zero-sized object at %v", addr))
		}
		if !fn(obj) {
			return
		}
		addr = addr.Add(memory.AlignUp(size))
	}
}

func (h *Heap) debugf(format string, args ...any) {
	if h.debug != nil {
		fmt.Fprintf(h.debug, format, args...)
	}
}
