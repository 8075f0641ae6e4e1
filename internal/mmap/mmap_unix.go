//go:build linux || darwin || freebsd || netbsd || openbsd

// Package mmap provides platform-specific helpers for anonymous memory
// mappings backing an arena.
package mmap

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Map returns size bytes of zeroed, private, anonymous memory and a func that
// unmaps it.
func Map(size int) ([]byte, func() error, error) {
	if size < 0 {
		return nil, nil, fmt.Errorf("mmap: negative size %d", size)
	}
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: map %d bytes: %w", size, err)
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return data, cleanup, nil
}

// Release tells the kernel the pages backing b are no longer needed. The
// memory stays mapped; its contents are undefined until written again.
// b must start on a page boundary.
func Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Madvise(b, unix.MADV_DONTNEED)
}

// PageSize returns the OS page size.
func PageSize() int { return unix.Getpagesize() }
