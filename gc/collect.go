package gc

import (
	"fmt"
	"time"

	"github.com/tinygo-org/semispace/memory"
)

// Collect performs a garbage collection cycle. Every object reachable from
// roots is copied into the reserve space, every root and every field of a
// copied object is rewritten to the new location, and then the spaces swap
// roles. roots may be nil, in which case everything is garbage.
//
// Collect cannot fail partway. If the live data does not fit in the reserve
// space, the out-of-memory handler is called and Collect panics with an
// error wrapping ErrOutOfMemory; the heap must not be used afterwards.
func (h *Heap) Collect(roots Roots) {
	if h.collecting {
		gcPanic("gc: recursive collection")
	}
	if h.to.top != h.to.bottom {
		gcPanic("gc: collection started with a non-empty to-space")
	}
	start := time.Now()
	used := h.from.Used()
	h.debugf("collect: start, %d bytes in use\n", used)

	h.collecting = true
	h.to.target = true

	// Scavenge the objects directly referenced by the root set.
	if roots != nil {
		roots.Slots(h.processRoot)
	}

	// Scan the to-space breadth first. Objects between to.bottom and scan
	// have had their fields processed; objects between scan and to.top have
	// been copied but not scanned. Processing a field may copy another
	// object, which moves to.top.
	scan := h.to.bottom
	for scan < h.to.top {
		obj := h.Object(scan)
		obj.Fields(h.processReference)
		size := obj.Size()
		if size == 0 {
			// Only objects with a non-zero size are copied.
			gcPanic(fmt.Sprintf("gc: object at %v changed size to 0 while being scanned", scan))
		}
		scan = scan.Add(memory.AlignUp(size))
	}

	// All live objects have been evacuated into the to-space, and nothing
	// in the from-space is needed anymore.
	h.to.target = false
	live := h.to.Used()
	h.swapSpaces()
	h.collecting = false

	h.stats.recordCycle(start, time.Now(), uint64(used-live))
	h.debugf("collect: done, %d bytes live, %d bytes freed\n", live, used-live)
}

// swapSpaces exchanges the roles of the two spaces and discards the old
// from-space.
func (h *Heap) swapSpaces() {
	h.from, h.to = h.to, h.from

	// After swapping, the to-space holds only dead data.
	h.to.Reset()
	clear(h.forwarding)
}

// processRoot updates a root slot.
func (h *Heap) processRoot(slot *memory.Address) {
	if ref, ok := h.forward(*slot); ok {
		*slot = ref
	}
}

// processReference updates a pointer field of a to-space object.
func (h *Heap) processReference(slot memory.Address) {
	if ref, ok := h.forward(h.region.Load(slot)); ok {
		h.region.Store(slot, ref)
	}
}

// forward returns the new location of the object referenced by ref,
// evacuating it first if needed. It returns false if ref is nil or does not
// point into the from-space; such a reference is left alone. A reference to
// a zero-sized object is replaced by nil.
func (h *Heap) forward(ref memory.Address) (memory.Address, bool) {
	if ref == memory.Nil || !h.from.Contains(ref) {
		return ref, false
	}
	obj := h.Object(ref)
	if obj.IsForwarded() {
		// Already copied.
		h.stats.forwardHits++
		return obj.Forwardee(), true
	}
	size := obj.Size()
	if size == 0 {
		// Nothing to copy, and a zero-sized copy would alias whatever is
		// evacuated next. The from-space is about to be reset, so the
		// reference becomes nil.
		h.debugf("evacuate %v: zero-sized object dropped\n", ref)
		return memory.Nil, true
	}
	return h.evacuate(obj, size), true
}

// evacuate copies obj into the to-space and leaves a forwarding address
// behind.
func (h *Heap) evacuate(obj Object, size uintptr) memory.Address {
	newAddr, err := h.to.Allocate(size)
	if err != nil {
		h.fatalOutOfMemory(err)
	}
	h.region.Move(newAddr, obj.addr, size)
	obj.ForwardTo(newAddr)

	h.stats.evacuated++
	h.stats.evacuatedBytes += uint64(memory.AlignUp(size))
	h.debugf("evacuate %v -> %v (%d bytes)\n", obj.addr, newAddr, size)
	return newAddr
}

func (h *Heap) fatalOutOfMemory(cause error) {
	err := fmt.Errorf("%w: live data exceeds the %d byte semispace: %w", ErrOutOfMemory, h.to.Size(), cause)
	h.debugf("collect: %v\n", err)
	if h.outOfMemory != nil {
		h.outOfMemory(err)
	}
	panic(err)
}
