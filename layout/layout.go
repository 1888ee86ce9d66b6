// Package layout implements the object layout used by heap objects that the
// collector can introspect.
//
// Every object starts with a header word describing it, followed by its
// payload words. The header has the form pppppppp_pppppppp_pppppppp_ppsssss1:
//   - The lowest bit is always set, so a header is never mistaken for a
//     zeroed word.
//   - The 's' bits hold the number of payload words (0-31).
//   - The 'p' bits indicate which payload words hold a pointer. Bit 0 of the
//     bitstring corresponds to the first payload word. Only the first 26
//     payload words can hold pointers.
//
// Some examples:
//
//	| object            | words | bitstring | note
//	|-------------------|-------|-----------|------
//	| int               | 1     |   0       | no pointers in this object
//	| *int              | 1     |   1       |
//	| string            | 2     |  01       | {pointer, len}
//	| []int             | 3     | 001       | {pointer, len, cap}
//	| struct{a, b *T}   | 2     |  11       |
//
// The size of an object is derived from its header alone, so the collector
// can read it at any time, including on an object that has already been
// relocated.
package layout

import (
	"fmt"
	"math/bits"

	"github.com/tinygo-org/semispace/memory"
)

// Layout is the header word of an object.
type Layout uint32

const (
	// 16-bit word => bits = 4
	// 32-bit word => bits = 5
	// 64-bit word => bits = 6
	sizeBits = 4 + memory.WordSize/4

	sizeShift = sizeBits + 1

	// MaxWords is the largest payload, in words, a layout can describe.
	MaxWords = 1<<sizeBits - 1

	// MaxPointers is the number of leading payload words that may hold a
	// pointer.
	MaxPointers = memory.WordSize*8 - sizeShift

	// HeaderSize is the size of the header word in bytes.
	HeaderSize = memory.WordSize
)

// Common layouts.
var (
	NoPtrs  = MustMake(1, 0b0)
	Pointer = MustMake(1, 0b1)
	String  = MustMake(2, 0b01)
	Slice   = MustMake(3, 0b001)
)

// Make returns the layout of an object with the given number of payload
// words, where bit i of mask is set if payload word i is a pointer.
func Make(words int, mask uint32) (Layout, error) {
	if words < 0 || words > MaxWords {
		return 0, fmt.Errorf("layout: %d payload words out of range 0-%d", words, MaxWords)
	}
	if limit := min(words, MaxPointers); mask>>limit != 0 {
		return 0, fmt.Errorf("layout: pointer mask %#b does not fit %d words", mask, limit)
	}
	return Layout(mask<<sizeShift | uint32(words)<<1 | 1), nil
}

// MustMake is like Make but panics on an invalid layout.
func MustMake(words int, mask uint32) Layout {
	l, err := Make(words, mask)
	if err != nil {
		panic(err)
	}
	return l
}

// Valid reports whether l could have been returned by Make.
func (l Layout) Valid() bool {
	if l&1 == 0 {
		return false
	}
	return l.mask()>>min(l.Words(), MaxPointers) == 0
}

// Words returns the number of payload words.
func (l Layout) Words() int {
	return int(l>>1) & (1<<sizeBits - 1)
}

// Size returns the size of the object in bytes, header included.
func (l Layout) Size() uintptr {
	return uintptr(1+l.Words()) * memory.WordSize
}

func (l Layout) mask() uint32 {
	return uint32(l) >> sizeShift
}

// PointerFree reports whether the object has no pointer fields.
func (l Layout) PointerFree() bool {
	return l.mask() == 0
}

// IsPointer reports whether payload word i is a pointer.
func (l Layout) IsPointer(i int) bool {
	return i >= 0 && i < MaxPointers && l.mask()&(1<<i) != 0
}

// NumPointers returns the number of pointer fields.
func (l Layout) NumPointers() int {
	return bits.OnesCount32(l.mask())
}

func (l Layout) String() string {
	if !l.Valid() {
		return fmt.Sprintf("layout(invalid %#x)", uint32(l))
	}
	return fmt.Sprintf("layout{words=%d ptrs=%0*b}", l.Words(), max(l.Words(), 1), l.mask())
}

// Field returns the address of payload word i of the object at obj.
func Field(obj memory.Address, i int) memory.Address {
	return obj.Add(HeaderSize + uintptr(i)*memory.WordSize)
}
