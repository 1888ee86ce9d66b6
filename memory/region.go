package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrBadRange is returned when a region cannot be reserved at the requested
// base and size.
var ErrBadRange = errors.New("memory: bad address range")

// Fault is the panic value for an access outside a region. It indicates a
// bug in the caller, not a recoverable condition.
type Fault struct {
	Addr Address
	Len  uintptr
	Msg  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("memory: %s: %v+%d", f.Msg, f.Addr, f.Len)
}

// Region is a contiguous reserved address range [Bottom, End) backed by a
// byte buffer. The zero value is not usable; use Reserve or Map.
type Region struct {
	bottom Address
	buf    []byte

	// release returns the backing buffer to the system, if it needs that.
	release func([]byte) error
}

// Reserve reserves size bytes starting at base, backed by a Go byte slice.
func Reserve(base Address, size uintptr) (*Region, error) {
	if err := checkRange(base, size); err != nil {
		return nil, err
	}
	return &Region{bottom: base, buf: make([]byte, size)}, nil
}

func checkRange(base Address, size uintptr) error {
	switch {
	case base == Nil:
		return fmt.Errorf("%w: base may not be the nil address", ErrBadRange)
	case !base.Aligned():
		return fmt.Errorf("%w: base %v is not %d-byte aligned", ErrBadRange, base, Align)
	case size == 0 || size%Align != 0:
		return fmt.Errorf("%w: size %d is not a positive multiple of %d", ErrBadRange, size, Align)
	case uint64(base)+uint64(size) > math.MaxUint32:
		return fmt.Errorf("%w: %v+%d does not fit the address space", ErrBadRange, base, size)
	}
	return nil
}

// Bottom returns the first address of the region.
func (r *Region) Bottom() Address { return r.bottom }

// End returns the address just past the region.
func (r *Region) End() Address { return r.bottom.Add(uintptr(len(r.buf))) }

// Size returns the size of the region in bytes.
func (r *Region) Size() uintptr { return uintptr(len(r.buf)) }

// Contains reports whether [addr, addr+n) lies within the region.
func (r *Region) Contains(addr Address, n uintptr) bool {
	return addr >= r.bottom && uint64(addr)+uint64(n) <= uint64(r.End())
}

// offset translates addr into an index in the backing buffer, panicking with
// a *Fault if [addr, addr+n) is not inside the region.
func (r *Region) offset(addr Address, n uintptr, what string) uintptr {
	if !r.Contains(addr, n) {
		panic(&Fault{Addr: addr, Len: n, Msg: what + " outside region"})
	}
	return addr.Sub(r.bottom)
}

// Load reads the pointer-sized word at addr.
func (r *Region) Load(addr Address) Address {
	off := r.offset(addr, WordSize, "load")
	return Address(binary.LittleEndian.Uint32(r.buf[off:]))
}

// Store writes the pointer-sized word v at addr.
func (r *Region) Store(addr Address, v Address) {
	off := r.offset(addr, WordSize, "store")
	binary.LittleEndian.PutUint32(r.buf[off:], uint32(v))
}

// Bytes returns the n bytes at addr. The slice aliases the region.
func (r *Region) Bytes(addr Address, n uintptr) []byte {
	off := r.offset(addr, n, "slice")
	return r.buf[off : off+n : off+n]
}

// Move copies n bytes from src to dst. The ranges may overlap.
func (r *Region) Move(dst, src Address, n uintptr) {
	if n == 0 {
		return
	}
	d := r.offset(dst, n, "move destination")
	s := r.offset(src, n, "move source")
	copy(r.buf[d:d+n], r.buf[s:s+n])
}

// Zero clears n bytes at addr.
func (r *Region) Zero(addr Address, n uintptr) {
	clear(r.Bytes(addr, n))
}

// Close releases the backing memory. The region must not be used afterwards.
func (r *Region) Close() error {
	buf := r.buf
	r.buf = nil
	if r.release != nil && buf != nil {
		return r.release(buf)
	}
	return nil
}
