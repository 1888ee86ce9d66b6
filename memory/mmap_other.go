//go:build !unix

package memory

// Map falls back to Reserve on systems without mmap.
func Map(base Address, size uintptr) (*Region, error) {
	return Reserve(base, size)
}
