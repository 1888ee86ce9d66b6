package script

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/inhies/go-bytesize"

	"github.com/tinygo-org/semispace/gc"
	"github.com/tinygo-org/semispace/layout"
	"github.com/tinygo-org/semispace/memory"
	"github.com/tinygo-org/semispace/snapshot"
)

var commands = map[string]func(m *Machine, args []string) error{
	"alloc":    (*Machine).alloc,
	"set":      (*Machine).set,
	"get":      (*Machine).get,
	"drop":     (*Machine).drop,
	"collect":  (*Machine).collect,
	"assert":   (*Machine).assert,
	"print":    (*Machine).print,
	"stats":    (*Machine).stats,
	"dump":     (*Machine).dump,
	"snapshot": (*Machine).snapshot,
}

var varName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func nargs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

// object returns the address held by a variable, which must not be nil.
func (m *Machine) object(name string) (memory.Address, error) {
	addr, ok := m.Lookup(name)
	if !ok {
		return memory.Nil, fmt.Errorf("undefined variable %q", name)
	}
	if addr == memory.Nil {
		return memory.Nil, fmt.Errorf("variable %q is nil", name)
	}
	return addr, nil
}

// field parses VAR.I and returns the object, its layout and the field index.
func (m *Machine) field(ref string) (memory.Address, layout.Layout, int, error) {
	name, index, ok := strings.Cut(ref, ".")
	if !ok {
		return memory.Nil, 0, 0, fmt.Errorf("expected VAR.FIELD, got %q", ref)
	}
	obj, err := m.object(name)
	if err != nil {
		return memory.Nil, 0, 0, err
	}
	i, err := strconv.Atoi(index)
	if err != nil {
		return memory.Nil, 0, 0, fmt.Errorf("bad field index %q", index)
	}
	l := layout.Model{}.Header(m.heap.Region(), obj)
	if i < 0 || i >= l.Words() {
		return memory.Nil, 0, 0, fmt.Errorf("field %d out of range for %s (%v)", i, name, l)
	}
	return obj, l, i, nil
}

// value parses the right-hand side of set and assert for a field that may or
// may not hold a pointer.
func (m *Machine) value(s string, pointer bool) (memory.Address, error) {
	if s == "nil" {
		if !pointer {
			return memory.Nil, errors.New("nil stored in a non-pointer field")
		}
		return memory.Nil, nil
	}
	if varName.MatchString(s) {
		if !pointer {
			return memory.Nil, fmt.Errorf("reference %s stored in a non-pointer field", s)
		}
		addr, ok := m.Lookup(s)
		if !ok {
			return memory.Nil, fmt.Errorf("undefined variable %q", s)
		}
		return addr, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return memory.Nil, fmt.Errorf("bad value %q", s)
	}
	if pointer {
		return memory.Nil, fmt.Errorf("integer %s stored in a pointer field", s)
	}
	return memory.Address(n), nil
}

// parseMask parses "ptr=0,2" into a pointer bitmask.
func parseMask(arg string) (uint32, error) {
	list, ok := strings.CutPrefix(arg, "ptr=")
	if !ok {
		return 0, fmt.Errorf("unexpected argument %q", arg)
	}
	var mask uint32
	for _, s := range strings.Split(list, ",") {
		i, err := strconv.Atoi(s)
		if err != nil || i < 0 || i >= layout.MaxPointers {
			return 0, fmt.Errorf("bad pointer index %q", s)
		}
		mask |= 1 << i
	}
	return mask, nil
}

func (m *Machine) alloc(args []string) error {
	const usage = "alloc VAR WORDS [ptr=I,J,...]"
	if len(args) != 2 && len(args) != 3 {
		return fmt.Errorf("usage: %s", usage)
	}
	name := args[0]
	if !varName.MatchString(name) || name == "nil" {
		return fmt.Errorf("bad variable name %q", name)
	}
	words, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad word count %q", args[1])
	}
	var mask uint32
	if len(args) == 3 {
		if mask, err = parseMask(args[2]); err != nil {
			return err
		}
	}
	l, err := layout.Make(words, mask)
	if err != nil {
		return err
	}
	addr, err := m.heap.AllocateOrCollect(l.Size(), m)
	if err != nil {
		return err
	}
	layout.Init(m.heap.Region(), addr, l)
	m.bind(name, addr)
	return nil
}

func (m *Machine) set(args []string) error {
	if len(args) != 3 || args[1] != "=" {
		return errors.New("usage: set VAR.I = VAR|nil|INT")
	}
	obj, l, i, err := m.field(args[0])
	if err != nil {
		return err
	}
	v, err := m.value(args[2], l.IsPointer(i))
	if err != nil {
		return err
	}
	m.heap.Region().Store(layout.Field(obj, i), v)
	return nil
}

func (m *Machine) get(args []string) error {
	if len(args) != 3 || args[1] != "=" {
		return errors.New("usage: get VAR = VAR.I")
	}
	name := args[0]
	if !varName.MatchString(name) || name == "nil" {
		return fmt.Errorf("bad variable name %q", name)
	}
	obj, l, i, err := m.field(args[2])
	if err != nil {
		return err
	}
	if !l.IsPointer(i) {
		return fmt.Errorf("field %s is not a pointer", args[2])
	}
	m.bind(name, m.heap.Region().Load(layout.Field(obj, i)))
	return nil
}

func (m *Machine) drop(args []string) error {
	if err := nargs(args, 1, "drop VAR"); err != nil {
		return err
	}
	if _, ok := m.vars[args[0]]; !ok {
		return fmt.Errorf("undefined variable %q", args[0])
	}
	delete(m.vars, args[0])
	return nil
}

func (m *Machine) collect(args []string) error {
	if err := nargs(args, 0, "collect"); err != nil {
		return err
	}
	m.heap.Collect(m)
	return nil
}

func (m *Machine) countObjects() int {
	n := 0
	m.heap.Walk(func(gc.Object) bool {
		n++
		return true
	})
	return n
}

func (m *Machine) assert(args []string) error {
	switch {
	case len(args) == 2 && args[0] == "live":
		want, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return fmt.Errorf("bad byte count %q", args[1])
		}
		if got := m.heap.Active().Used(); uint64(got) != want {
			return fmt.Errorf("%w: %d bytes live, want %d", ErrAssertion, got, want)
		}
	case len(args) == 2 && args[0] == "objects":
		want, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad object count %q", args[1])
		}
		if got := m.countObjects(); got != want {
			return fmt.Errorf("%w: %d objects, want %d", ErrAssertion, got, want)
		}
	case len(args) == 2 && args[0] == "reachable":
		addr, ok := m.Lookup(args[1])
		if !ok {
			return fmt.Errorf("undefined variable %q", args[1])
		}
		if !m.heap.Contains(addr) {
			return fmt.Errorf("%w: %s (%v) is not in the active space", ErrAssertion, args[1], addr)
		}
	case len(args) == 3 && args[1] == "==":
		obj, l, i, err := m.field(args[0])
		if err != nil {
			return err
		}
		want, err := m.value(args[2], l.IsPointer(i))
		if err != nil {
			return err
		}
		if got := m.heap.Region().Load(layout.Field(obj, i)); got != want {
			return fmt.Errorf("%w: %s is %v, want %v", ErrAssertion, args[0], got, want)
		}
	default:
		return errors.New("usage: assert live BYTES | objects N | reachable VAR | VAR.I == VALUE")
	}
	return nil
}

func (m *Machine) print(args []string) error {
	if err := nargs(args, 1, "print VAR"); err != nil {
		return err
	}
	addr, ok := m.Lookup(args[0])
	if !ok {
		return fmt.Errorf("undefined variable %q", args[0])
	}
	if addr == memory.Nil {
		fmt.Fprintf(m.out, "%s = nil\n", args[0])
		return nil
	}
	r := m.heap.Region()
	l := layout.Model{}.Header(r, addr)
	fmt.Fprintf(m.out, "%s = %v %v\n", args[0], addr, l)
	for i := 0; i < l.Words(); i++ {
		v := r.Load(layout.Field(addr, i))
		if l.IsPointer(i) {
			fmt.Fprintf(m.out, "  .%d = %v%s\n", i, v, m.names(v))
		} else {
			fmt.Fprintf(m.out, "  .%d = %d\n", i, uint32(v))
		}
	}
	return nil
}

// names returns the variables that refer to addr, for display.
func (m *Machine) names(addr memory.Address) string {
	if addr == memory.Nil {
		return ""
	}
	var names []string
	for _, name := range m.Vars() {
		if *m.vars[name] == addr {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return " (" + strings.Join(names, ", ") + ")"
}

func (m *Machine) stats(args []string) error {
	if err := nargs(args, 0, "stats"); err != nil {
		return err
	}
	var ms gc.MemStats
	m.heap.ReadMemStats(&ms)
	var gs gc.GCStats
	m.heap.ReadGCStats(&gs)
	size := func(n uint64) string { return bytesize.New(float64(n)).String() }
	fmt.Fprintf(m.out, "heap:      %s of %s in use (%s total)\n", size(ms.HeapAlloc), size(ms.HeapSys), size(ms.Sys))
	fmt.Fprintf(m.out, "allocated: %d objects, %s\n", ms.Mallocs, size(ms.TotalAlloc))
	fmt.Fprintf(m.out, "cycles:    %d, %v total pause\n", ms.NumGC, gs.PauseTotal)
	fmt.Fprintf(m.out, "evacuated: %d objects, %s; %d forwarded references\n", ms.Evacuated, size(ms.EvacuatedBytes), ms.ForwardHits)
	fmt.Fprintf(m.out, "freed:     %s\n", size(ms.Freed))
	return nil
}

func (m *Machine) dump(args []string) error {
	if err := nargs(args, 0, "dump"); err != nil {
		return err
	}
	m.heap.Dump(m.out, m.color)
	return nil
}

func (m *Machine) snapshot(args []string) error {
	if err := nargs(args, 0, "snapshot"); err != nil {
		return err
	}
	if m.snapshots == "" {
		return errors.New("no snapshot archive configured")
	}
	return snapshot.Append(m.snapshots, snapshot.Take(m.heap))
}
