package gc

import "github.com/tinygo-org/semispace/memory"

// Roots enumerates the root set: every slot outside the heap that holds a
// reference the mutator can reach. Collect calls Slots exactly once, and may
// overwrite any slot it is given.
type Roots interface {
	Slots(fn func(slot *memory.Address))
}

// RootSlice is a root set stored in a slice. Each element is a slot.
type RootSlice []memory.Address

// Slots implements Roots.
func (s RootSlice) Slots(fn func(slot *memory.Address)) {
	for i := range s {
		fn(&s[i])
	}
}

// RootFunc adapts a function to the Roots interface.
type RootFunc func(fn func(slot *memory.Address))

// Slots implements Roots.
func (f RootFunc) Slots(fn func(slot *memory.Address)) {
	f(fn)
}
