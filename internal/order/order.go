// Package order holds the integer arithmetic shared by the buddy tree and its
// facade: block counts to orders, tree node indices to block addresses, and
// the shape of a 1-indexed flattened complete binary tree.
//
// Node numbering:
//
//	root      = 1
//	left(i)   = 2i
//	right(i)  = 2i + 1
//	parent(i) = i / 2
//
// A tree of height maxOrder has 2^maxOrder leaves. A node at depth d spans
// 2^(maxOrder-d) leaves, so its order is maxOrder-d.
package order

import (
	"errors"
	"math/bits"
)

// MaxSupported is the largest maxOrder a tree may be built with. A tree of
// that height already needs 2^33 tag bytes.
const MaxSupported = 32

var (
	// ErrZeroCount indicates a request for zero blocks.
	ErrZeroCount = errors.New("order: block count must be positive")

	// ErrTooLarge indicates a block count whose order exceeds the tree height.
	ErrTooLarge = errors.New("order: block count exceeds max order")

	// ErrMisaligned indicates an address that is not a multiple of its block size.
	ErrMisaligned = errors.New("order: address not aligned to block order")

	// ErrOutOfRange indicates an address or node outside the tree.
	ErrOutOfRange = errors.New("order: address out of range")
)

// For returns the smallest k with 2^k >= n. For n <= 1 it returns 0.
func For(n uint64) uint8 {
	if n <= 1 {
		return 0
	}
	return uint8(bits.Len64(n - 1))
}

// ForCount is For with the allocator's policy applied: zero counts and counts
// above 2^maxOrder fail rather than clamp.
func ForCount(n uint64, maxOrder uint8) (uint8, error) {
	if n == 0 {
		return 0, ErrZeroCount
	}
	k := For(n)
	if k > maxOrder {
		return 0, ErrTooLarge
	}
	return k, nil
}

// Span returns the number of blocks in an order-k block.
func Span(k uint8) uint64 { return 1 << k }

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n uint64) bool { return n != 0 && n&(n-1) == 0 }

// Log2 returns floor(log2(n)). n must be positive.
func Log2(n uint64) uint8 { return uint8(bits.Len64(n) - 1) }

// TreeLen returns the length of a tag slice for a tree of height maxOrder,
// including the unused slot 0.
func TreeLen(maxOrder uint8) uint64 { return 1 << (maxOrder + 1) }

// Depth returns the depth of node (root = 0).
func Depth(node uint64) uint8 { return Log2(node) }

// OrderOf returns the order of the block node spans.
func OrderOf(node uint64, maxOrder uint8) uint8 { return maxOrder - Depth(node) }

// Valid reports whether node lies inside a tree of height maxOrder.
func Valid(node uint64, maxOrder uint8) bool {
	return node >= 1 && node < TreeLen(maxOrder)
}

// Parent returns the parent of node. The root has no parent; Parent(1) is 0.
func Parent(node uint64) uint64 { return node >> 1 }

// Left returns the left child of node.
func Left(node uint64) uint64 { return node << 1 }

// Right returns the right child of node.
func Right(node uint64) uint64 { return node<<1 | 1 }

// Sibling returns node's buddy.
func Sibling(node uint64) uint64 { return node ^ 1 }

// FirstAt returns the leftmost node whose block has order k.
func FirstAt(k, maxOrder uint8) uint64 { return 1 << (maxOrder - k) }

// NodeToAddress returns the first block address covered by node, which must be
// an order-k node of a tree of height maxOrder.
func NodeToAddress(node uint64, k, maxOrder uint8) uint64 {
	return (node - FirstAt(k, maxOrder)) << k
}

// AddressToNode is the inverse of NodeToAddress.
func AddressToNode(addr uint64, k, maxOrder uint8) (uint64, error) {
	if k > maxOrder {
		return 0, ErrTooLarge
	}
	if addr&(Span(k)-1) != 0 {
		return 0, ErrMisaligned
	}
	if addr >= Span(maxOrder) {
		return 0, ErrOutOfRange
	}
	return FirstAt(k, maxOrder) + addr>>k, nil
}
