// Package buddy provides a binary buddy allocator over a fixed range of
// equally sized blocks.
//
// # Overview
//
// Allocations are power-of-two runs of blocks ("orders"): an order-k block is
// 2^k blocks long and starts at a multiple of 2^k. Free runs are split in
// halves to serve small requests and two free halves ("buddies") are merged
// back when both are released.
//
// The bookkeeping lives in package tree: one byte per tree node, no free
// lists, and O(MaxOrder) work per Alloc or Free.
//
// # Usage Example
//
//	a, err := buddy.New(buddy.ConfigPages4K)
//	if err != nil {
//	    return err
//	}
//
//	// Three blocks round up to an order-2 run of four.
//	r, err := a.Alloc(3)
//	if err != nil {
//	    return err
//	}
//	off, n := a.Bytes(r) // byte offset and length for 4 KiB blocks
//
//	// Later, hand the same range back.
//	err = a.Free(r)
//
// # Ranges and Handles
//
// Range{Offset, Count} is the public name of an allocation, in blocks.
// Handle is the tree node behind it. AllocOrder and FreeHandle work on handles
// directly; RangeOf and HandleOf convert between the two.
//
// # Size Limits
//
// Config.MinBlocks raises small requests to a minimum run. Config.MaxBlocks
// rejects large requests with ErrBlockCount. Config.Blocks below 2^MaxOrder
// reserves the tail of the address space.
//
// # Errors
//
//   - ErrOutOfMemory: no free run of the needed order; free something and retry
//   - ErrDoubleFree: the range is already free
//   - ErrInvalidRange: the range was never returned by Alloc (misaligned,
//     wrong size, out of range, or inside another allocation)
//
// Free failures are returned as *RangeError. A tag inconsistency found while
// allocating means memory corruption and panics with *tree.InvariantError.
//
// # Logging
//
// Pass WithLogger to receive events. Setting BUDDY_LOG_ALLOC in the
// environment logs every allocation to stderr at debug level.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. Callers must synchronize access
// externally, or use package arena, which guards an allocator with a mutex.
package buddy
