// Package arena hands out byte slices from one anonymous memory mapping,
// using a buddy allocator to pick the offsets.
//
// # Usage Example
//
//	ar, err := arena.New(buddy.ConfigSmall)
//	if err != nil {
//	    return err
//	}
//	defer ar.Close()
//
//	b, err := ar.Alloc(100) // two 64-byte blocks
//	if err != nil {
//	    return err
//	}
//	copy(b.Data, payload)
//	err = ar.Free(b)
//
// # Memory
//
// The mapping is sized to Config.Bytes() and created once in New. Freed
// blocks of at least one OS page are handed back to the kernel with
// madvise(MADV_DONTNEED) but stay mapped. Block contents are undefined after
// Alloc.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single mutex serializes access
// to the allocator.
package arena
