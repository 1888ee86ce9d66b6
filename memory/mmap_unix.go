//go:build unix

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Map reserves size bytes starting at base, backed by an anonymous private
// mapping obtained from the operating system. The mapping is released by
// Close.
func Map(base Address, size uintptr) (*Region, error) {
	if err := checkRange(base, size); err != nil {
		return nil, err
	}
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("memory: mmap %d bytes: %w", size, err)
	}
	return &Region{bottom: base, buf: buf, release: unix.Munmap}, nil
}
