// Package script drives a heap with a small line-oriented language. It plays
// the part of the mutator: its variables are the root set, and it allocates,
// links and drops objects as the script says.
//
// Commands:
//
//	alloc VAR WORDS [ptr=I,J,...]   allocate an object, collecting if needed
//	set VAR.I = VAR|nil|INT         store into field I of an object
//	get VAR = VAR.I                 load a pointer field into a variable
//	drop VAR                        forget a variable
//	collect                         run a collection
//	assert live BYTES               bytes allocated in the active space
//	assert objects N                number of objects in the active space
//	assert VAR.I == VAR|nil|INT     field contents
//	assert reachable VAR            the variable refers to a live object
//	print VAR                       describe an object
//	stats                           print heap statistics
//	dump                            print a map of the active space
//	snapshot                        append a snapshot to the archive
//
// Text after '#' is a comment. Words may be quoted as in a POSIX shell.
package script

import (
	"bufio"
	"errors"
	"fmt"
	"go/token"
	"io"
	"sort"

	"github.com/google/shlex"

	"github.com/tinygo-org/semispace/gc"
	"github.com/tinygo-org/semispace/memory"
	"github.com/tinygo-org/semispace/snapshot"
)

// Machine executes script commands against a heap.
type Machine struct {
	heap *gc.Heap
	out  io.Writer

	// vars holds the root slots, one per variable.
	vars map[string]*memory.Address

	color              bool
	snapshots          string
	snapshotEveryCycle bool
	lastCycle          uint64
}

// Option configures a Machine.
type Option func(*Machine)

// WithColor makes dump use ANSI colors.
func WithColor(color bool) Option {
	return func(m *Machine) { m.color = color }
}

// WithSnapshots sets the archive the snapshot command appends to. If
// everyCycle is set, a snapshot is also taken after every collection.
func WithSnapshots(path string, everyCycle bool) Option {
	return func(m *Machine) {
		m.snapshots = path
		m.snapshotEveryCycle = everyCycle
	}
}

// New returns a machine that runs commands on h and prints to out.
func New(h *gc.Heap, out io.Writer, opts ...Option) *Machine {
	m := &Machine{
		heap: h,
		out:  out,
		vars: make(map[string]*memory.Address),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Heap returns the heap the machine runs on.
func (m *Machine) Heap() *gc.Heap { return m.heap }

// Slots implements gc.Roots. Variables are visited in name order.
func (m *Machine) Slots(fn func(slot *memory.Address)) {
	for _, name := range m.Vars() {
		fn(m.vars[name])
	}
}

// Vars returns the names of all variables, sorted.
func (m *Machine) Vars() []string {
	names := make([]string, 0, len(m.vars))
	for name := range m.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the address held by a variable.
func (m *Machine) Lookup(name string) (memory.Address, bool) {
	slot, ok := m.vars[name]
	if !ok {
		return memory.Nil, false
	}
	return *slot, true
}

func (m *Machine) bind(name string, addr memory.Address) {
	if slot, ok := m.vars[name]; ok {
		*slot = addr
		return
	}
	m.vars[name] = &addr
}

// Exec runs a single line.
func (m *Machine) Exec(line string) error {
	words, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}
	cmd, ok := commands[words[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", words[0])
	}
	if err := cmd(m, words[1:]); err != nil {
		return err
	}
	return m.afterCommand()
}

// afterCommand takes a snapshot if a collection happened and snapshots of
// every cycle were requested.
func (m *Machine) afterCommand() error {
	var ms gc.MemStats
	m.heap.ReadMemStats(&ms)
	cycled := ms.NumGC != m.lastCycle
	m.lastCycle = ms.NumGC
	if cycled && m.snapshotEveryCycle {
		return snapshot.Append(m.snapshots, snapshot.Take(m.heap))
	}
	return nil
}

// Run executes a script read from r. Failed assertions are collected and
// execution continues; any other error stops the script. The returned error
// is an *ErrorList, or nil.
func (m *Machine) Run(r io.Reader, filename string) error {
	list := &ErrorList{Filename: filename}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		err := m.Exec(scanner.Text())
		if err == nil {
			continue
		}
		list.Errs = append(list.Errs, &Error{
			Pos: token.Position{Filename: filename, Line: line, Column: 1},
			Err: err,
		})
		if !errors.Is(err, ErrAssertion) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		list.Errs = append(list.Errs, &Error{
			Pos: token.Position{Filename: filename, Line: line + 1},
			Err: err,
		})
	}
	if len(list.Errs) == 0 {
		return nil
	}
	return list
}
