// Package memory provides the simulated address space the collector works
// on: a 32-bit address type and contiguous reserved regions backed by bytes.
//
// Addresses are plain integers, never native pointers. A Region translates
// an address into an offset in its backing buffer, so relocating an object is
// a byte copy within memory owned by the region.
package memory

import "fmt"

// Address is a byte address in the simulated address space.
type Address uint32

// Nil is the null reference. No region may contain it.
const Nil Address = 0

const (
	// WordSize is the size of a pointer-sized slot.
	WordSize = 4

	// Align is the allocation alignment. Every allocation size is rounded
	// up to a multiple of it.
	Align = WordSize

	// DefaultBase is the bottom address used for regions when the caller
	// has no preference.
	DefaultBase Address = 0x1000
)

// Add returns a+n.
func (a Address) Add(n uintptr) Address {
	return a + Address(n)
}

// Sub returns the distance in bytes from b to a. a must not be below b.
func (a Address) Sub(b Address) uintptr {
	return uintptr(a - b)
}

// Aligned reports whether a is a multiple of Align.
func (a Address) Aligned() bool {
	return a%Align == 0
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint32(a))
}

// AlignUp rounds size up to a multiple of Align.
func AlignUp(size uintptr) uintptr {
	return (size + Align - 1) &^ (Align - 1)
}

// AlignDown rounds size down to a multiple of Align.
func AlignDown(size uintptr) uintptr {
	return size &^ (Align - 1)
}
