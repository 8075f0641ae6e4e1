// Package tree implements the augmented binary tree behind the buddy allocator.
//
// # Layout
//
// The address space of 2^MaxOrder order-0 blocks is a complete binary tree
// flattened into a []uint8. Node 1 is the root, node i has children 2i and
// 2i+1, and the leaves 2^MaxOrder .. 2^(MaxOrder+1)-1 are the order-0 blocks
// in address order.
//
// Each node holds the largest order of a fully free, coalesced block in its
// subtree, or Taken:
//
//	      3              all eight blocks free
//	   2     2
//	  1 1   1 1
//	 0 0 0 0 0 0 0 0
//
//	      2              block 0 allocated
//	   1     2
//	  0 1   1 1
//	 T 0 0 0 0 0 0 0     (T = Taken)
//
// # Allocate
//
// Allocate(k) fails fast when the root holds less than k. Otherwise it walks
// down, preferring the left child whenever that child holds at least k, until
// it reaches a node of order k. That node becomes Taken and its ancestors are
// recomputed.
//
// # Free
//
// Free resets the node to its own order and recomputes the ancestors. When
// both children of an ancestor are fully free at order o, the ancestor becomes
// o+1. There is no explicit merge step.
//
// Both operations touch one root-to-node path: O(MaxOrder).
//
// # Reserved blocks
//
// When the usable block count is not a power of two, the tree is still built
// with 2^MaxOrder leaves and the excess leaves are Taken from construction.
// They are never returned by Allocate and cannot be freed.
//
// # Thread Safety
//
// A Tree is not safe for concurrent use. Callers serialize access or keep one
// tree per arena.
package tree
