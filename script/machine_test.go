package script

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinygo-org/semispace/gc"
	"github.com/tinygo-org/semispace/layout"
	"github.com/tinygo-org/semispace/memory"
	"github.com/tinygo-org/semispace/snapshot"
)

func newMachine(t *testing.T, size uintptr, opts ...Option) (*Machine, *bytes.Buffer) {
	t.Helper()
	r, err := memory.Reserve(memory.DefaultBase, size)
	if err != nil {
		t.Fatal(err)
	}
	h, err := gc.New(r, layout.Model{})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	return New(h, &out, opts...), &out
}

func run(t *testing.T, m *Machine, src string) {
	t.Helper()
	if err := m.Run(strings.NewReader(src), "test.gcs"); err != nil {
		t.Fatal(err)
	}
}

func TestTwoObjectScenario(t *testing.T) {
	m, _ := newMachine(t, 64)
	run(t, m, `
# a -> b, c unreachable
alloc a 1 ptr=0
alloc b 1
set a.0 = b
set b.0 = 7
drop b
alloc c 3
drop c
assert live 32
collect
assert live 16
assert objects 2
get b = a.0
assert b.0 == 7
assert a.0 == b
assert reachable a
assert reachable b
`)
}

func TestImplicitCollection(t *testing.T) {
	m, _ := newMachine(t, 64)
	run(t, m, `
alloc keep 1
set keep.0 = 42
alloc tmp 1
alloc tmp 1
alloc tmp 1
# The active space is full: this collects first, keeping keep and the last
# tmp, then allocates.
alloc tmp 1
assert live 24
assert objects 3
assert keep.0 == 42
`)
	var ms gc.MemStats
	m.Heap().ReadMemStats(&ms)
	if ms.NumGC != 1 {
		t.Errorf("%d collections, want 1", ms.NumGC)
	}
}

func TestOutOfMemory(t *testing.T) {
	m, _ := newMachine(t, 64)
	err := m.Run(strings.NewReader(`
alloc a 3
alloc b 3
alloc c 1
`), "oom.gcs")
	if !errors.Is(err, gc.ErrOutOfMemory) {
		t.Fatalf("Run returned %v, want ErrOutOfMemory", err)
	}
	var list *ErrorList
	if !errors.As(err, &list) || len(list.Errs) != 1 || list.Errs[0].Pos.Line != 4 {
		t.Errorf("unexpected error list %v", err)
	}
}

func TestAssertionsContinue(t *testing.T) {
	m, _ := newMachine(t, 64)
	err := m.Run(strings.NewReader(`alloc a 2 ptr=1
assert live 4
assert a.0 == 1
assert a.1 == nil
bogus
assert live 0
`), "asserts.gcs")
	var list *ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("Run returned %v", err)
	}
	var lines []int
	for _, e := range list.Errs {
		lines = append(lines, e.Pos.Line)
	}
	// Two failed assertions, then the unknown command stops the script.
	if len(lines) != 3 || lines[0] != 2 || lines[1] != 3 || lines[2] != 5 {
		t.Errorf("errors on lines %v, want [2 3 5]", lines)
	}
	if !errors.Is(list.Errs[0], ErrAssertion) || errors.Is(list.Errs[2], ErrAssertion) {
		t.Errorf("wrong error kinds: %v", err)
	}
}

func TestSyntaxErrors(t *testing.T) {
	m, _ := newMachine(t, 64)
	run(t, m, "alloc a 1 ptr=0\nalloc n 1\n")
	for _, line := range []string{
		"alloc",
		"alloc 1x 2",
		"alloc x 40",
		"alloc x 2 ptr=5",
		"alloc x 2 bytes=4",
		"set a.0 = 5",      // integer in a pointer field
		"set n.0 = a",      // pointer in an integer field
		"set n.0 = nil",    // nil in an integer field
		"set a.1 = nil",    // out of range
		"set a = nil",      // no field
		"set a.0 = zz",     // undefined
		"get n = a",        // no field
		"get x = n.0",      // not a pointer
		"drop zz",          // undefined
		"collect now",      // extra argument
		"assert",           // no arguments
		"assert live many", // bad number
		`set "a.0`,         // unterminated quote
	} {
		if err := m.Exec(line); err == nil {
			t.Errorf("Exec(%q) succeeded", line)
		}
	}
}

func TestRootsAreVariables(t *testing.T) {
	m, _ := newMachine(t, 128)
	run(t, m, "alloc b 1\nalloc a 1\nalloc c 1\ndrop c\n")
	var slots []memory.Address
	m.Slots(func(slot *memory.Address) { slots = append(slots, *slot) })
	a, _ := m.Lookup("a")
	b, _ := m.Lookup("b")
	if len(slots) != 2 || slots[0] != a || slots[1] != b {
		t.Errorf("roots are %v, want [%v %v]", slots, a, b)
	}
	if names := m.Vars(); strings.Join(names, ",") != "a,b" {
		t.Errorf("Vars() = %v", names)
	}
}

func TestPrintAndStats(t *testing.T) {
	m, out := newMachine(t, 64)
	run(t, m, `
alloc a 2 ptr=0
alloc b 1
set a.0 = b
set a.1 = 0x10
print a
stats
dump
`)
	for _, want := range []string{
		"a = 0x1000 layout{words=2 ptrs=01}",
		"  .0 = 0x100c (b)",
		"  .1 = 16",
		"allocated: 2 objects",
		"*--*-",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output does not contain %q:\n%s", want, out.String())
		}
	}
}

func TestSnapshotEveryCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.snapshots")
	m, _ := newMachine(t, 64, WithSnapshots(path, true))
	run(t, m, `
alloc a 1
collect
snapshot
alloc b 1
drop a
collect
`)
	snaps, err := snapshot.ReadArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 3 {
		t.Fatalf("%d snapshots, want 3", len(snaps))
	}
	if snaps[0].Cycle != 1 || snaps[1].Cycle != 1 || snaps[2].Cycle != 2 {
		t.Errorf("snapshot cycles %d %d %d", snaps[0].Cycle, snaps[1].Cycle, snaps[2].Cycle)
	}
	if snaps[2].Objects != 1 {
		t.Errorf("last snapshot has %d objects, want 1", snaps[2].Objects)
	}
}

func TestSnapshotWithoutArchive(t *testing.T) {
	m, _ := newMachine(t, 64)
	if err := m.Exec("snapshot"); err == nil {
		t.Errorf("snapshot without an archive succeeded")
	}
}
