package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinygo-org/semispace/layout"
	"github.com/tinygo-org/semispace/snapshot"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunAndInspect(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "run.snapshots")
	cfg := writeFile(t, dir, "heap.yml", "heap_size: 128\nsnapshots: '"+archive+"'\nsnapshot_every_cycle: true\n")
	src := writeFile(t, dir, "list.gcs", `
alloc head 1 ptr=0
alloc next 2 ptr=0
set head.0 = next
set next.1 = 9
drop next
alloc junk 4
drop junk
collect
print head
`)

	var out bytes.Buffer
	opts := options{configPath: cfg, metrics: true}
	if err := runCommand("run", []string{src}, opts, &out, false); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"head = 0x1040 layout{words=1 ptrs=1}",
		"/gc/cycles/total:gc-cycles",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("run output does not contain %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := runCommand("inspect", []string{archive}, options{verbose: true}, &out, false); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"cycle 1: 0x1040..0x1054 of 0x1080",
		"0x1040 layout{words=1 ptrs=1} 0x1048",
		"0x1048 layout{words=2 ptrs=01} 0x0 0x9",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("inspect output does not contain %q:\n%s", want, out.String())
		}
	}
}

func TestConfigOverrides(t *testing.T) {
	var out bytes.Buffer
	opts := options{heapSize: "1KB", backing: "mmap"}
	if err := runCommand("config", nil, opts, &out, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "backing: mmap") || !strings.Contains(out.String(), "heap_size: 1") {
		t.Errorf("unexpected configuration:\n%s", out.String())
	}

	if err := runCommand("config", nil, options{heapSize: "lots"}, &out, false); err == nil {
		t.Errorf("bad -heap value accepted")
	}
	if err := runCommand("config", nil, options{backing: "disk"}, &out, false); err == nil {
		t.Errorf("bad -backing value accepted")
	}
}

func TestCommandErrors(t *testing.T) {
	var out bytes.Buffer
	for _, args := range [][]string{
		{"frobnicate"},
		{"run"},
		{"inspect"},
		{"run", filepath.Join(t.TempDir(), "missing.gcs")},
	} {
		if err := runCommand(args[0], args[1:], options{}, &out, false); err == nil {
			t.Errorf("%v succeeded", args)
		}
	}
}

func TestUseColor(t *testing.T) {
	if c, err := useColor("always"); err != nil || !c {
		t.Errorf("useColor(always) = %v, %v", c, err)
	}
	if c, err := useColor("never"); err != nil || c {
		t.Errorf("useColor(never) = %v, %v", c, err)
	}
	if _, err := useColor("sometimes"); err == nil {
		t.Errorf("useColor accepted an invalid mode")
	}
}

func TestInspectCorruptObjects(t *testing.T) {
	for _, tc := range []struct {
		name   string
		header uint32
	}{
		{"invalid header", 0},
		{"object past top", uint32(layout.MustMake(3, 0))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data := make([]byte, 8)
			binary.LittleEndian.PutUint32(data, tc.header)
			// The checksum covers the bad bytes, so only the walk can
			// notice them.
			s := &snapshot.Snapshot{Cycle: 1, Bottom: 0x1000, Top: 0x1008, End: 0x1020, Objects: 1, Data: data}
			archive := filepath.Join(t.TempDir(), "bad.snapshots")
			if err := snapshot.Append(archive, s); err != nil {
				t.Fatal(err)
			}
			var out bytes.Buffer
			err := runCommand("inspect", []string{archive}, options{verbose: true}, &out, false)
			if err == nil {
				t.Errorf("corrupt object listed without error:\n%s", out.String())
			}
		})
	}
}
