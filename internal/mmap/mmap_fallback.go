//go:build !(linux || darwin || freebsd || netbsd || openbsd) && !windows

package mmap

import "fmt"

// Map allocates from the Go heap when anonymous mappings are not available.
func Map(size int) ([]byte, func() error, error) {
	if size < 0 {
		return nil, nil, fmt.Errorf("mmap: negative size %d", size)
	}
	return make([]byte, size), func() error { return nil }, nil
}

// Release is a no-op on the heap fallback.
func Release([]byte) error { return nil }

// PageSize returns a nominal page size.
func PageSize() int { return 4096 }
