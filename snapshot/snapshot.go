// Package snapshot captures the active semispace of a heap as an image that
// can be stored and inspected later.
//
// Images are written in Intel HEX format, with the start address record set
// to the bottom of the space, and checksummed with CRC-16/CCITT-FALSE.
package snapshot

import (
	"errors"
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"
	"github.com/sigurn/crc16"

	"github.com/tinygo-org/semispace/gc"
	"github.com/tinygo-org/semispace/memory"
)

// ErrChecksum is returned when image data does not match its checksum.
var ErrChecksum = errors.New("snapshot: checksum mismatch")

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// hexLineLength is the number of data bytes per Intel HEX record.
const hexLineLength = 16

// Snapshot is a copy of the allocated part of the active space.
type Snapshot struct {
	Cycle   uint64         // number of collections before the snapshot
	Bottom  memory.Address // bounds of the space
	Top     memory.Address
	End     memory.Address
	Objects int    // number of objects in the space
	Data    []byte // contents of [Bottom, Top)
}

// Take captures the active space of h. Every allocation in the space must be
// an initialized object.
func Take(h *gc.Heap) *Snapshot {
	var ms gc.MemStats
	h.ReadMemStats(&ms)
	span := h.Active()
	s := &Snapshot{
		Cycle:  ms.NumGC,
		Bottom: span.Bottom,
		Top:    span.Top,
		End:    span.End,
		Data:   append([]byte(nil), h.Region().Bytes(span.Bottom, span.Used())...),
	}
	h.Walk(func(gc.Object) bool {
		s.Objects++
		return true
	})
	return s
}

// Checksum returns the CRC-16 of the snapshot data.
func (s *Snapshot) Checksum() uint16 {
	return crc16.Checksum(s.Data, crcTable)
}

// WriteHex writes the snapshot data to w in Intel HEX format.
func (s *Snapshot) WriteHex(w io.Writer) error {
	mem := gohex.NewMemory()
	mem.SetStartAddress(uint32(s.Bottom))
	if len(s.Data) > 0 {
		if err := mem.AddBinary(uint32(s.Bottom), s.Data); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}
	return mem.DumpIntelHex(w, hexLineLength)
}

// ReadHex reads an image written by WriteHex and returns the bottom address
// and the data. The data must form a single block at the start address.
func ReadHex(r io.Reader) (memory.Address, []byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return memory.Nil, nil, fmt.Errorf("snapshot: %w", err)
	}
	start, ok := mem.GetStartAddress()
	if !ok {
		return memory.Nil, nil, errors.New("snapshot: image has no start address")
	}
	segments := mem.GetDataSegments()
	switch {
	case len(segments) == 0:
		return memory.Address(start), nil, nil
	case len(segments) > 1:
		return memory.Nil, nil, fmt.Errorf("snapshot: image has %d separate blocks, want 1", len(segments))
	case segments[0].Address != start:
		return memory.Nil, nil, fmt.Errorf("snapshot: data at %#x, start address %#x", segments[0].Address, start)
	}
	return memory.Address(start), segments[0].Data, nil
}

// Restore copies the snapshot data into region at its original address.
func (s *Snapshot) Restore(region *memory.Region) error {
	if !region.Contains(s.Bottom, uintptr(len(s.Data))) {
		return fmt.Errorf("%w: snapshot %v+%d outside region", memory.ErrBadRange, s.Bottom, len(s.Data))
	}
	copy(region.Bytes(s.Bottom, uintptr(len(s.Data))), s.Data)
	return nil
}
