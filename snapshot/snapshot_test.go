package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/marcinbor85/gohex"

	"github.com/tinygo-org/semispace/gc"
	"github.com/tinygo-org/semispace/layout"
	"github.com/tinygo-org/semispace/memory"
)

func newHeap(t *testing.T) (*gc.Heap, gc.RootSlice) {
	t.Helper()
	r, err := memory.Reserve(memory.DefaultBase, 256)
	if err != nil {
		t.Fatal(err)
	}
	h, err := gc.New(r, layout.Model{})
	if err != nil {
		t.Fatal(err)
	}
	var roots gc.RootSlice
	for i := 0; i < 3; i++ {
		l := layout.MustMake(2, 0b01)
		addr, err := h.Allocate(l.Size())
		if err != nil {
			t.Fatal(err)
		}
		layout.Init(r, addr, l)
		r.Store(layout.Field(addr, 1), memory.Address(0x100+i))
		if len(roots) > 0 {
			r.Store(layout.Field(addr, 0), roots[len(roots)-1])
		}
		roots = append(roots[:0], addr)
	}
	return h, roots
}

func TestTake(t *testing.T) {
	h, _ := newHeap(t)
	s := Take(h)
	if s.Cycle != 0 || s.Objects != 3 || len(s.Data) != 36 {
		t.Errorf("unexpected snapshot: cycle %d, %d objects, %d bytes", s.Cycle, s.Objects, len(s.Data))
	}
	if s.Bottom != h.Active().Bottom || s.Top != h.Active().Top || s.End != h.Active().End {
		t.Errorf("snapshot bounds %v..%v..%v do not match heap %+v", s.Bottom, s.Top, s.End, h.Active())
	}
}

func TestHexRoundTrip(t *testing.T) {
	h, _ := newHeap(t)
	s := Take(h)

	var buf bytes.Buffer
	if err := s.WriteHex(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), ":") {
		t.Fatalf("not an Intel HEX file: %q", buf.String())
	}
	bottom, data, err := ReadHex(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if bottom != s.Bottom || !bytes.Equal(data, s.Data) {
		t.Errorf("ReadHex returned %v % x, want %v % x", bottom, data, s.Bottom, s.Data)
	}
}

func TestRestore(t *testing.T) {
	h, _ := newHeap(t)
	s := Take(h)

	r, err := memory.Reserve(s.Bottom, s.End.Sub(s.Bottom))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Restore(r); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r.Bytes(s.Bottom, uintptr(len(s.Data))), s.Data) {
		t.Errorf("restored data differs")
	}

	small, _ := memory.Reserve(s.Bottom, 8)
	if err := s.Restore(small); !errors.Is(err, memory.ErrBadRange) {
		t.Errorf("Restore into a small region returned %v", err)
	}
}

func TestArchive(t *testing.T) {
	h, roots := newHeap(t)
	path := filepath.Join(t.TempDir(), "heap.snapshots")

	first := Take(h)
	if err := Append(path, first); err != nil {
		t.Fatal(err)
	}
	h.Collect(roots)
	second := Take(h)
	if err := Append(path, second); err != nil {
		t.Fatal(err)
	}

	snaps, err := ReadArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("read %d snapshots, want 2", len(snaps))
	}
	for i, want := range []*Snapshot{first, second} {
		got := snaps[i]
		if got.Cycle != want.Cycle || got.Bottom != want.Bottom || got.Top != want.Top ||
			got.End != want.End || got.Objects != want.Objects || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("snapshot %d: got %+v, want %+v", i, got, want)
		}
	}
	if snaps[1].Cycle != 1 || snaps[1].Bottom == snaps[0].Bottom {
		t.Errorf("second snapshot should be of the other space after one cycle")
	}
}

func TestArchiveChecksum(t *testing.T) {
	h, _ := newHeap(t)
	path := filepath.Join(t.TempDir(), "heap.snapshots")
	if err := Append(path, Take(h)); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt the checksum in the metadata member.
	i := bytes.Index(data, []byte("crc16: "))
	if i < 0 {
		t.Fatalf("no checksum in archive:\n%s", data)
	}
	data[i+len("crc16: ")] ^= 1
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	// Depending on the digit, this is a checksum mismatch or a parse error.
	if _, err := ReadArchive(path); err == nil {
		t.Errorf("corrupted archive read without error")
	}
}

func TestEmptySnapshot(t *testing.T) {
	r, _ := memory.Reserve(memory.DefaultBase, 64)
	h, _ := gc.New(r, layout.Model{})
	path := filepath.Join(t.TempDir(), "empty.snapshots")
	if err := Append(path, Take(h)); err != nil {
		t.Fatal(err)
	}
	snaps, err := ReadArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || len(snaps[0].Data) != 0 || snaps[0].Objects != 0 {
		t.Errorf("unexpected snapshots %+v", snaps)
	}
}

// rawArchive builds an archive holding the image of s with the given
// metadata.
func rawArchive(t *testing.T, s *Snapshot, info string) []byte {
	t.Helper()
	var image, buf bytes.Buffer
	if err := s.WriteHex(&image); err != nil {
		t.Fatal(err)
	}
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		t.Fatal(err)
	}
	for _, m := range []struct {
		name string
		data []byte
	}{
		{"c000001.hex", image.Bytes()},
		{"c000001.yml", []byte(info)},
	} {
		if err := w.WriteHeader(&ar.Header{Name: m.name, ModTime: time.Unix(0, 0), Mode: 0o644, Size: int64(len(m.data))}); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(m.data); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestArchiveRejectsBadBounds(t *testing.T) {
	s := &Snapshot{Bottom: 0x1000, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	crc := s.Checksum()
	for _, tc := range []struct {
		name             string
		bottom, top, end uint32
		objects          int
	}{
		{"top below bottom", 0x1000, 0xffc, 0x1020, 1},
		{"end below top", 0x1000, 0x1008, 0x1004, 1},
		{"unaligned end", 0x1000, 0x1008, 0x1022, 1},
		{"unaligned top", 0x1000, 0x1006, 0x1020, 1},
		{"image past top", 0x1000, 0x1004, 0x1020, 1},
		{"image short of top", 0x1000, 0x1010, 0x1020, 1},
		{"far top", 0x1000, 0xfffff000, 0xfffff000, 1},
		{"negative objects", 0x1000, 0x1008, 0x1020, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			info := fmt.Sprintf("cycle: 1\nbottom: %d\ntop: %d\nend: %d\nobjects: %d\ncrc16: %d\n",
				tc.bottom, tc.top, tc.end, tc.objects, crc)
			_, err := readArchive(bytes.NewReader(rawArchive(t, s, info)))
			if err == nil {
				t.Fatal("archive accepted")
			}
			if errors.Is(err, ErrChecksum) {
				t.Errorf("bounds not checked before the checksum: %v", err)
			}
		})
	}

	// The same image with consistent metadata is fine.
	info := fmt.Sprintf("cycle: 1\nbottom: %d\ntop: %d\nend: %d\nobjects: 1\ncrc16: %d\n", 0x1000, 0x1008, 0x1020, crc)
	snaps, err := readArchive(bytes.NewReader(rawArchive(t, s, info)))
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].Top != 0x1008 || !bytes.Equal(snaps[0].Data, s.Data) {
		t.Errorf("unexpected snapshots %+v", snaps)
	}
}

func TestReadHexRejectsGaps(t *testing.T) {
	mem := gohex.NewMemory()
	mem.SetStartAddress(0x1000)
	if err := mem.AddBinary(0x1000, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := mem.AddBinary(0xfffff000, []byte{5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := mem.DumpIntelHex(&buf, 16); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadHex(&buf); err == nil {
		t.Errorf("image with a gap accepted")
	}
}
