package tree

import "github.com/joshuapare/buddykit/internal/order"

// Check walks the whole tag array and verifies:
//
//   - leaves hold 0 or Taken, and reserved leaves hold Taken
//   - every internal node equals the combination of its children, except
//     allocated blocks, which are Taken over fully free children
//
// It returns the first violation as an *InvariantError. Check is O(capacity)
// and meant for tests and diagnostics.
func (t *Tree) Check() error {
	first := order.FirstAt(0, t.maxOrder)
	for addr := range order.Span(t.maxOrder) {
		node := first + addr
		tag := t.tags[node]
		if addr >= t.blocks && tag != Taken {
			return &InvariantError{Node: node, Tag: tag, Want: Taken, Msg: "reserved leaf is not taken"}
		}
		if tag != 0 && tag != Taken {
			return &InvariantError{Node: node, Tag: tag, Want: 0, Msg: "leaf tag out of range"}
		}
	}

	for node := first - 1; node >= 1; node-- {
		base := order.OrderOf(node, t.maxOrder)
		tag := t.tags[node]
		want := t.combine(node, base-1)
		if tag == Taken && want == base {
			continue // allocated block
		}
		if tag != want {
			return &InvariantError{Node: node, Tag: tag, Want: want, Msg: "tag disagrees with children"}
		}
	}
	return nil
}
