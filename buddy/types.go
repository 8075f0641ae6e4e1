package buddy

import (
	"fmt"

	"github.com/joshuapare/buddykit/buddy/tree"
)

// Range is a run of order-0 blocks: Count blocks starting at block Offset.
// Ranges returned by Alloc always have a power-of-two Count and an Offset
// that is a multiple of Count.
type Range struct {
	Offset uint64
	Count  uint64
}

// End returns the first block past the range.
func (r Range) End() uint64 { return r.Offset + r.Count }

// Overlaps reports whether r and o share a block.
func (r Range) Overlaps(o Range) bool {
	return r.Offset < o.End() && o.Offset < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Offset, r.End())
}

// Handle is the tree-level name of an allocation. Hosts should treat it as
// opaque and convert with RangeOf / HandleOf.
type Handle = tree.Handle

// PageSize is a hardware page size the allocator can hand out directly.
type PageSize uint8

const (
	Kib4 PageSize = iota // 4 KiB page
	Mib2                 // 2 MiB huge page
	Gib1                 // 1 GiB huge page
)

// Shift returns log2 of the page size in bytes.
func (ps PageSize) Shift() uint8 {
	switch ps {
	case Mib2:
		return 21
	case Gib1:
		return 30
	default:
		return 12
	}
}

// Bytes returns the page size in bytes.
func (ps PageSize) Bytes() uint64 { return 1 << ps.Shift() }

func (ps PageSize) String() string {
	switch ps {
	case Mib2:
		return "2MiB"
	case Gib1:
		return "1GiB"
	default:
		return "4KiB"
	}
}

// BlockAllocator is the allocate/free contract shared by every backend. The
// tree-based Allocator implements it; list-based or balanced-tree baselines
// can implement it too and be swapped in by a host.
type BlockAllocator interface {
	// Alloc reserves at least count contiguous blocks.
	Alloc(count uint64) (Range, error)

	// Free releases a range previously returned by Alloc. The range must be
	// passed back unchanged.
	Free(r Range) error

	// FreeBlocks reports how many blocks are currently free.
	FreeBlocks() uint64
}
