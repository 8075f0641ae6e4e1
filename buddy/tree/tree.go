package tree

import (
	"fmt"

	"github.com/joshuapare/buddykit/internal/order"
)

// Taken marks a node with no free block beneath it, or a node handed out by
// Allocate. It lies outside every valid order.
const Taken uint8 = 0xFF

// Handle names an allocated block: the tree node and the block's order.
type Handle struct {
	Node  uint64
	Order uint8
}

// Tree is a buddy allocator over 2^MaxOrder order-0 blocks, stored as a
// flattened complete binary tree of order tags.
//
// tags[i] is the largest order of a fully free, coalesced block in node i's
// subtree, or Taken. Slot 0 is unused so that children of i are 2i and 2i+1.
type Tree struct {
	tags     []uint8
	maxOrder uint8
	blocks   uint64 // usable leaves; leaves at or past this address are reserved

	stats Stats
}

// Stats holds tree operation counters.
type Stats struct {
	Allocs    uint64 // Successful Allocate calls
	Frees     uint64 // Successful Free calls
	Failures  uint64 // Allocate calls that returned ErrOutOfMemory
	Splits    uint64 // Fully free blocks split on the way down
	Coalesces uint64 // Buddy pairs merged on the way up
}

// New builds a tree of height maxOrder with blocks usable leaves. blocks == 0
// means every leaf is usable. Leaves from blocks up to 2^maxOrder are reserved:
// they stay Taken for the life of the tree and are never served.
func New(maxOrder uint8, blocks uint64) (*Tree, error) {
	if maxOrder > order.MaxSupported {
		return nil, fmt.Errorf("%w: max order %d above %d", ErrInvalidShape, maxOrder, order.MaxSupported)
	}
	leaves := order.Span(maxOrder)
	if blocks == 0 {
		blocks = leaves
	}
	if blocks > leaves {
		return nil, fmt.Errorf("%w: %d blocks do not fit in %d leaves", ErrInvalidShape, blocks, leaves)
	}

	t := &Tree{
		tags:     make([]uint8, order.TreeLen(maxOrder)),
		maxOrder: maxOrder,
		blocks:   blocks,
	}
	t.Reset()
	return t, nil
}

// Reset frees every block. Outstanding handles become invalid.
func (t *Tree) Reset() {
	leaves := order.Span(t.maxOrder)
	first := order.FirstAt(0, t.maxOrder)
	for addr := range leaves {
		if addr < t.blocks {
			t.tags[first+addr] = 0
		} else {
			t.tags[first+addr] = Taken
		}
	}
	for node := first - 1; node >= 1; node-- {
		t.tags[node] = t.combine(node, order.OrderOf(node, t.maxOrder)-1)
	}
	t.tags[0] = Taken
}

// Allocate reserves a free block of order k and returns its handle.
func (t *Tree) Allocate(k uint8) (Handle, error) {
	if k > t.maxOrder {
		return Handle{}, fmt.Errorf("%w: %d > %d", ErrInvalidOrder, k, t.maxOrder)
	}
	if !fits(t.tags[1], k) {
		t.stats.Failures++
		return Handle{}, ErrOutOfMemory
	}

	node := uint64(1)
	for base := t.maxOrder; base > k; base-- {
		if t.tags[node] == base {
			t.stats.Splits++
		}
		left := order.Left(node)
		switch {
		case fits(t.tags[left], k):
			node = left
		case fits(t.tags[left+1], k):
			node = left + 1
		default:
			panic(&InvariantError{
				Node: node,
				Tag:  t.tags[node],
				Want: t.combine(node, base-1),
				Msg:  fmt.Sprintf("no child holds order %d", k),
			})
		}
	}
	if t.tags[node] != k {
		panic(&InvariantError{Node: node, Tag: t.tags[node], Want: k, Msg: "descent ended on a split block"})
	}

	t.tags[node] = Taken
	t.propagate(node, k)
	t.stats.Allocs++
	return Handle{Node: node, Order: k}, nil
}

// Free releases a block previously returned by Allocate. Free buddies
// coalesce on the way back to the root.
func (t *Tree) Free(h Handle) error {
	if !order.Valid(h.Node, t.maxOrder) || order.OrderOf(h.Node, t.maxOrder) != h.Order {
		return fmt.Errorf("%w: node %d is not an order %d node", ErrInvalidNode, h.Node, h.Order)
	}
	if t.reserved(h.Node, h.Order) {
		return fmt.Errorf("%w: node %d covers reserved blocks", ErrInvalidNode, h.Node)
	}
	if t.tags[h.Node] != Taken {
		if t.insideAllocation(h.Node) {
			return fmt.Errorf("%w: node %d is part of a larger allocation", ErrInvalidNode, h.Node)
		}
		return fmt.Errorf("%w: node %d", ErrDoubleFree, h.Node)
	}
	if !t.isHead(h.Node, h.Order) {
		return fmt.Errorf("%w: node %d is not an allocated block", ErrInvalidNode, h.Node)
	}

	t.tags[h.Node] = h.Order
	t.propagate(h.Node, h.Order)
	t.stats.Frees++
	return nil
}

// MaxFreeOrder returns the largest order Allocate can currently satisfy.
// ok is false when the tree is full.
func (t *Tree) MaxFreeOrder() (k uint8, ok bool) {
	tag := t.tags[1]
	return tag, tag != Taken
}

// Tag returns the raw tag of node.
func (t *Tree) Tag(node uint64) uint8 { return t.tags[node] }

// MaxOrder returns the tree height.
func (t *Tree) MaxOrder() uint8 { return t.maxOrder }

// Blocks returns the number of usable order-0 blocks.
func (t *Tree) Blocks() uint64 { return t.blocks }

// Leaves returns 2^MaxOrder, the number of leaves including reserved ones.
func (t *Tree) Leaves() uint64 { return order.Span(t.maxOrder) }

// Stats returns a copy of the operation counters.
func (t *Tree) Stats() Stats { return t.stats }

// Address returns the first block address covered by h.
func (t *Tree) Address(h Handle) uint64 {
	return order.NodeToAddress(h.Node, h.Order, t.maxOrder)
}

// HandleAt returns the handle of the order-k block starting at addr.
func (t *Tree) HandleAt(addr uint64, k uint8) (Handle, error) {
	node, err := order.AddressToNode(addr, k, t.maxOrder)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Node: node, Order: k}, nil
}

// propagate recomputes the ancestors of an order-k node. It stops at the
// first ancestor whose tag does not change.
func (t *Tree) propagate(node uint64, k uint8) {
	for base := k; node > 1; base++ {
		node = order.Parent(node)
		tag := t.combine(node, base)
		if tag == t.tags[node] {
			return
		}
		if tag == base+1 {
			t.stats.Coalesces++
		}
		t.tags[node] = tag
	}
}

// combine derives a node's tag from its children, whose blocks have order
// childBase. Two fully free children merge into one block of childBase+1.
func (t *Tree) combine(node uint64, childBase uint8) uint8 {
	l, r := t.tags[order.Left(node)], t.tags[order.Right(node)]
	if l == childBase && r == childBase {
		return childBase + 1
	}
	return maxTag(l, r)
}

// isHead reports whether a Taken node was handed out by Allocate, rather than
// being Taken because everything beneath it is. Descendants of an allocated
// block keep their fully free tags.
func (t *Tree) isHead(node uint64, k uint8) bool {
	if k == 0 {
		return true
	}
	l, r := t.tags[order.Left(node)], t.tags[order.Right(node)]
	return l == k-1 && r == k-1
}

// insideAllocation reports whether some ancestor of node is Taken. A node
// that is not Taken itself can only have a Taken ancestor if that ancestor
// is an allocated block.
func (t *Tree) insideAllocation(node uint64) bool {
	for node > 1 {
		node = order.Parent(node)
		if t.tags[node] == Taken {
			return true
		}
	}
	return false
}

func (t *Tree) reserved(node uint64, k uint8) bool {
	return order.NodeToAddress(node, k, t.maxOrder)+order.Span(k) > t.blocks
}

func fits(tag, k uint8) bool { return tag != Taken && tag >= k }

// maxTag orders Taken below every order.
func maxTag(a, b uint8) uint8 {
	if a == Taken {
		return b
	}
	if b == Taken || a > b {
		return a
	}
	return b
}
