package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/blakesmith/ar"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v2"

	"github.com/tinygo-org/semispace/memory"
)

// An archive is a Unix ar file with two members per snapshot: the Intel HEX
// image ("cNNNNNN.hex") followed by its metadata ("cNNNNNN.yml").

type meta struct {
	Cycle   uint64 `yaml:"cycle"`
	Bottom  uint32 `yaml:"bottom"`
	Top     uint32 `yaml:"top"`
	End     uint32 `yaml:"end"`
	Objects int    `yaml:"objects"`
	CRC16   uint16 `yaml:"crc16"`
}

// check validates the bounds in the metadata against an image of n bytes.
func (m *meta) check(n int) error {
	switch {
	case m.Top < m.Bottom || m.End < m.Top:
		return fmt.Errorf("snapshot: bounds %#x..%#x..%#x out of order", m.Bottom, m.Top, m.End)
	case !memory.Address(m.Bottom).Aligned() || !memory.Address(m.Top).Aligned() || !memory.Address(m.End).Aligned():
		return fmt.Errorf("snapshot: bounds %#x..%#x..%#x not aligned", m.Bottom, m.Top, m.End)
	case uint64(m.Top-m.Bottom) != uint64(n):
		return fmt.Errorf("snapshot: image holds %d bytes, bounds cover %d", n, m.Top-m.Bottom)
	case m.Objects < 0:
		return fmt.Errorf("snapshot: negative object count %d", m.Objects)
	}
	return nil
}

func memberName(cycle uint64, ext string) string {
	return fmt.Sprintf("c%06d.%s", cycle, ext)
}

// Append adds snapshots to the archive at path, creating it if needed. The
// archive is locked for the duration of the write, so multiple processes
// may append to the same archive.
func Append(path string, snaps ...*Snapshot) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("snapshot: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w := ar.NewWriter(f)
	if st.Size() == 0 {
		if err := w.WriteGlobalHeader(); err != nil {
			f.Close()
			return err
		}
	}
	for _, s := range snaps {
		if err := writeSnapshot(w, s); err != nil {
			f.Close()
			return fmt.Errorf("snapshot: write %s: %w", path, err)
		}
	}
	return f.Close()
}

func writeSnapshot(w *ar.Writer, s *Snapshot) error {
	var image bytes.Buffer
	if err := s.WriteHex(&image); err != nil {
		return err
	}
	info, err := yaml.Marshal(meta{
		Cycle:   s.Cycle,
		Bottom:  uint32(s.Bottom),
		Top:     uint32(s.Top),
		End:     uint32(s.End),
		Objects: s.Objects,
		CRC16:   s.Checksum(),
	})
	if err != nil {
		return err
	}
	now := time.Now()
	for _, m := range []struct {
		name string
		data []byte
	}{
		{memberName(s.Cycle, "hex"), image.Bytes()},
		{memberName(s.Cycle, "yml"), info},
	} {
		hdr := &ar.Header{
			Name:    m.name,
			ModTime: now,
			Mode:    0o644,
			Size:    int64(len(m.data)),
		}
		if err := w.WriteHeader(hdr); err != nil {
			return err
		}
		// The writer pads odd-sized members, so write each in one go.
		if _, err := w.Write(m.data); err != nil {
			return err
		}
	}
	return nil
}

// ReadArchive reads all snapshots from the archive at path, verifying the
// checksum of each.
func ReadArchive(path string) ([]*Snapshot, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("snapshot: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	snaps, err := readArchive(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snaps, nil
}

func readArchive(r io.Reader) ([]*Snapshot, error) {
	var (
		snaps       []*Snapshot
		pending     *Snapshot // image read, waiting for metadata
		pendingName string
	)
	rd := ar.NewReader(r)
	for {
		hdr, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return nil, err
		}
		name := strings.TrimRight(hdr.Name, " \x00/")
		switch path.Ext(name) {
		case ".hex":
			bottom, image, err := ReadHex(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			pending = &Snapshot{Bottom: bottom, Data: image}
			pendingName = name
		case ".yml":
			if pending == nil {
				return nil, fmt.Errorf("%s: metadata without image", name)
			}
			var m meta
			if err := yaml.UnmarshalStrict(data, &m); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			s := pending
			pending = nil
			if memory.Address(m.Bottom) != s.Bottom {
				return nil, fmt.Errorf("%s: image starts at %v, metadata says %#x", pendingName, s.Bottom, m.Bottom)
			}
			if err := m.check(len(s.Data)); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			s.Cycle = m.Cycle
			s.Top = memory.Address(m.Top)
			s.End = memory.Address(m.End)
			s.Objects = m.Objects
			if s.Checksum() != m.CRC16 {
				return nil, fmt.Errorf("%s: %w: %#04x, want %#04x", pendingName, ErrChecksum, s.Checksum(), m.CRC16)
			}
			snaps = append(snaps, s)
		default:
			return nil, fmt.Errorf("unexpected archive member %q", name)
		}
	}
	if pending != nil {
		return nil, fmt.Errorf("%s: image without metadata", pendingName)
	}
	return snaps, nil
}
