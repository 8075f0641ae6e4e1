package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates that no free, coalesced block of the requested order exists.
	ErrOutOfMemory = errors.New("tree: no free block of requested order")

	// ErrDoubleFree indicates an attempt to free a node that is already free.
	ErrDoubleFree = errors.New("tree: block already free")

	// ErrInvalidNode indicates a handle that does not name a live allocation in this tree.
	ErrInvalidNode = errors.New("tree: invalid node")

	// ErrInvalidOrder indicates an order above the tree's max order.
	ErrInvalidOrder = errors.New("tree: order exceeds max order")

	// ErrInvalidShape indicates bad construction parameters.
	ErrInvalidShape = errors.New("tree: invalid shape")
)

// InvariantError reports a tag that disagrees with its children. It is
// returned by Check and used as the panic value when Allocate finds a
// corrupted path.
type InvariantError struct {
	Node uint64
	Tag  uint8
	Want uint8
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("tree: invariant violated at node %d (tag %s, want %s): %s",
		e.Node, tagString(e.Tag), tagString(e.Want), e.Msg)
}

func tagString(tag uint8) string {
	if tag == Taken {
		return "taken"
	}
	return fmt.Sprintf("%d", tag)
}
