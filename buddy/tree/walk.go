package tree

import "github.com/joshuapare/buddykit/internal/order"

// WalkFree calls fn for every maximal free block, in address order, until fn
// returns false.
func (t *Tree) WalkFree(fn func(h Handle) bool) {
	t.walkFree(1, t.maxOrder, fn)
}

func (t *Tree) walkFree(node uint64, base uint8, fn func(Handle) bool) bool {
	switch tag := t.tags[node]; {
	case tag == base:
		return fn(Handle{Node: node, Order: base})
	case tag == Taken, base == 0:
		// Nothing free below. Tags under an allocated block are stale and
		// must not be visited.
		return true
	}
	return t.walkFree(order.Left(node), base-1, fn) && t.walkFree(order.Right(node), base-1, fn)
}

// WalkAllocated calls fn for every live allocation, in address order, until fn
// returns false. Reserved leaves are not reported.
func (t *Tree) WalkAllocated(fn func(h Handle) bool) {
	t.walkAllocated(1, t.maxOrder, fn)
}

func (t *Tree) walkAllocated(node uint64, base uint8, fn func(Handle) bool) bool {
	tag := t.tags[node]
	if tag == base {
		return true
	}
	if tag == Taken && t.isHead(node, base) {
		if base == 0 && t.reserved(node, 0) {
			return true
		}
		return fn(Handle{Node: node, Order: base})
	}
	return t.walkAllocated(order.Left(node), base-1, fn) && t.walkAllocated(order.Right(node), base-1, fn)
}

// FreeBlocks counts free order-0 blocks by walking the tags. The cost is
// proportional to the number of free fragments and live allocations.
func (t *Tree) FreeBlocks() uint64 {
	var n uint64
	t.WalkFree(func(h Handle) bool {
		n += order.Span(h.Order)
		return true
	})
	return n
}
