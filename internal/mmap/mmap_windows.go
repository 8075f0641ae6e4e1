//go:build windows

package mmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Map reserves and commits size bytes with VirtualAlloc and returns a func
// that frees them.
func Map(size int) ([]byte, func() error, error) {
	if size < 0 {
		return nil, nil, fmt.Errorf("mmap: negative size %d", size)
	}
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: map %d bytes: %w", size, err)
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	cleanup := func() error {
		if addr == 0 {
			return nil
		}
		err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
		addr = 0
		return err
	}
	return data, cleanup, nil
}

// Release marks the pages backing b as no longer needed. Their contents are
// undefined until written again.
func Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&b[0]))
	_, err := windows.VirtualAlloc(addr, uintptr(len(b)), windows.MEM_RESET, windows.PAGE_READWRITE)
	return err
}

// PageSize returns the allocation granularity used by Release.
func PageSize() int { return 4096 }
