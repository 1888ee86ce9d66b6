package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinygo-org/semispace/memory"
)

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
heap_size: 2KB
base: 0x2000
backing: mmap
debug: true
snapshots: out.snapshots
snapshot_every_cycle: true
`))
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		HeapSize:           2048,
		Base:               0x2000,
		Backing:            BackingMmap,
		Debug:              true,
		Snapshots:          "out.snapshots",
		SnapshotEveryCycle: true,
	}
	if cfg != want {
		t.Errorf("Parse returned %+v, want %+v", cfg, want)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader("heap_size: 128\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HeapSize != 128 || cfg.Base != memory.DefaultBase || cfg.Backing != BackingSlice {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"heap_size: 4\n",
		"heap_size: 66\n",
		"heap_size: lots\n",
		"base: 0\n",
		"base: 0x1002\n",
		"backing: tape\n",
		"snapshot_every_cycle: true\n",
		"heap_sise: 1KB\n",
	} {
		if _, err := Parse(strings.NewReader(input)); err == nil {
			t.Errorf("Parse(%q) succeeded", input)
		}
	}
}

func TestLoadAndNewHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.yaml")
	if err := os.WriteFile(path, []byte("heap_size: 1KB\ndebug: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var trace bytes.Buffer
	h, err := cfg.NewHeap(&trace)
	if err != nil {
		t.Fatal(err)
	}
	if h.Active().Size() != 512 {
		t.Errorf("semispace size is %d, want 512", h.Active().Size())
	}
	if !strings.Contains(trace.String(), "heap: from") {
		t.Errorf("debug trace not enabled: %q", trace.String())
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Snapshots = "x"
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "KB") {
		t.Errorf("size not written in human form:\n%s", data)
	}
	back, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if back != cfg {
		t.Errorf("round trip returned %+v, want %+v", back, cfg)
	}
}

func TestMarshalExactSizes(t *testing.T) {
	for _, size := range []Size{100000, 3<<20 + 4, 1 << 20, 8} {
		cfg := Default()
		cfg.HeapSize = size
		data, err := cfg.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		back, err := Parse(bytes.NewReader(data))
		if err != nil {
			t.Errorf("size %d: %v\n%s", uint64(size), err, data)
			continue
		}
		if back.HeapSize != size {
			t.Errorf("size %d read back as %d:\n%s", uint64(size), uint64(back.HeapSize), data)
		}
	}
}
