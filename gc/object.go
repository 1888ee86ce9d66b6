package gc

import (
	"fmt"

	"github.com/tinygo-org/semispace/memory"
)

// Model describes the layout of heap objects. The collector never infers a
// layout itself; it always asks the model.
type Model interface {
	// Size returns the size in bytes of the object at addr. It must remain
	// valid for the original copy of an object after it has been
	// forwarded. Zero-sized objects are not copied by a collection: every
	// reference to one is set to nil.
	Size(r *memory.Region, addr memory.Address) uintptr

	// Fields calls fn with the address of every pointer-sized slot in the
	// object at addr that may hold a heap reference. The order must be the
	// same every time for the same object.
	Fields(r *memory.Region, addr memory.Address, fn func(slot memory.Address))
}

// Object is a handle to a heap object at a given address.
//
// Forwarding addresses are kept in a side table owned by the heap rather
// than in the object itself, so the bytes of a forwarded object, and thus
// its size, stay intact until its space is reset.
type Object struct {
	h    *Heap
	addr memory.Address
}

// Object returns a handle to the object at addr.
func (h *Heap) Object(addr memory.Address) Object {
	return Object{h: h, addr: addr}
}

// Address returns the location of the object.
func (o Object) Address() memory.Address { return o.addr }

// Size returns the size of the object in bytes.
func (o Object) Size() uintptr {
	return o.h.model.Size(o.h.region, o.addr)
}

// Fields calls fn with the address of every pointer slot of the object.
func (o Object) Fields(fn func(slot memory.Address)) {
	o.h.model.Fields(o.h.region, o.addr, fn)
}

// IsForwarded reports whether the object has been relocated in the current
// collection.
func (o Object) IsForwarded() bool {
	_, ok := o.h.forwarding[o.addr]
	return ok
}

// Forwardee returns the address the object was relocated to, or memory.Nil
// if it has not been relocated.
func (o Object) Forwardee() memory.Address {
	return o.h.forwarding[o.addr]
}

// ForwardTo records that the object now lives at addr. It may be called at
// most once per collection, and only for objects in the from-space.
func (o Object) ForwardTo(addr memory.Address) {
	if !o.h.from.Contains(o.addr) {
		gcPanic(fmt.Sprintf("gc: forwarding object %v outside the from-space", o.addr))
	}
	if o.IsForwarded() {
		gcPanic(fmt.Sprintf("gc: object %v forwarded twice", o.addr))
	}
	o.h.forwarding[o.addr] = addr
}
