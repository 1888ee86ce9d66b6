package layout

import (
	"fmt"

	"github.com/tinygo-org/semispace/memory"
)

// HeaderError is the panic value when an object header is read from an
// address that does not hold a valid header.
type HeaderError struct {
	Addr   memory.Address
	Header Layout
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("layout: invalid object header %#x at %v", uint32(e.Header), e.Addr)
}

// Model reports object sizes and pointer fields by reading the header word
// of each object. The zero value is ready to use.
type Model struct{}

// Header reads and validates the header of the object at addr. An invalid
// header panics with a *HeaderError.
func (m Model) Header(r *memory.Region, addr memory.Address) Layout {
	l, err := m.ReadHeader(r, addr)
	if err != nil {
		panic(err)
	}
	return l
}

// ReadHeader is like Header, but returns a *HeaderError for an invalid
// header. Use it on memory that did not come from a running heap.
func (Model) ReadHeader(r *memory.Region, addr memory.Address) (Layout, error) {
	l := Layout(r.Load(addr))
	if !l.Valid() {
		return l, &HeaderError{Addr: addr, Header: l}
	}
	return l, nil
}

// Size returns the size in bytes of the object at addr.
func (m Model) Size(r *memory.Region, addr memory.Address) uintptr {
	return m.Header(r, addr).Size()
}

// Fields calls fn with the address of every pointer field of the object at
// addr, in increasing address order.
func (m Model) Fields(r *memory.Region, addr memory.Address, fn func(slot memory.Address)) {
	l := m.Header(r, addr)
	if l.PointerFree() {
		// This is a fast path for objects like [16]int.
		return
	}
	scanWithMask(Field(addr, 0), l.mask(), fn)
}

// scanWithMask calls fn for every word starting at addr whose bit is set in
// mask.
func scanWithMask(addr memory.Address, mask uint32, fn func(slot memory.Address)) {
	for mask != 0 {
		if mask&1 != 0 {
			fn(addr)
		}

		// Move to the next word.
		mask >>= 1
		addr = addr.Add(memory.WordSize)
	}
}

// Init writes the header for l at addr and clears the payload.
// Object initialization is the responsibility of the mutator; the collector
// only reserves bytes.
func Init(r *memory.Region, addr memory.Address, l Layout) {
	r.Zero(addr, l.Size())
	r.Store(addr, memory.Address(l))
}
