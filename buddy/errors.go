package buddy

import (
	"errors"
	"fmt"

	"github.com/joshuapare/buddykit/buddy/tree"
	"github.com/joshuapare/buddykit/internal/order"
)

// Errors surfaced from the tree and the order arithmetic. They are the same
// values, so errors.Is works against either name.
var (
	// ErrOutOfMemory indicates no free block of the requested order. Callers may
	// free other allocations and retry.
	ErrOutOfMemory = tree.ErrOutOfMemory

	// ErrDoubleFree indicates a Free of a range that is already free.
	ErrDoubleFree = tree.ErrDoubleFree

	// ErrInvalidNode indicates a handle that names no live allocation.
	ErrInvalidNode = tree.ErrInvalidNode

	// ErrInvalidOrder indicates an order above the allocator's max order.
	ErrInvalidOrder = tree.ErrInvalidOrder

	// ErrMisalignedAddress indicates a range whose offset is not a multiple of its count.
	ErrMisalignedAddress = order.ErrMisaligned

	// ErrOutOfRange indicates a range outside the allocator's address space.
	ErrOutOfRange = order.ErrOutOfRange

	// ErrTooLarge indicates a request bigger than the whole allocator.
	ErrTooLarge = order.ErrTooLarge

	// ErrZeroCount indicates a request for zero blocks or zero bytes.
	ErrZeroCount = order.ErrZeroCount
)

var (
	// ErrInvalidRange matches every Free failure caused by a range that was
	// never returned by Alloc: misaligned, out of range, wrong size, or part of
	// another allocation.
	ErrInvalidRange = errors.New("buddy: invalid range")

	// ErrBlockCount indicates a request above Config.MaxBlocks.
	ErrBlockCount = errors.New("buddy: block count above configured maximum")

	// ErrInvalidConfig indicates a Config that fails Validate.
	ErrInvalidConfig = errors.New("buddy: invalid config")

	// ErrCorrupt indicates the free-block counter and the tree disagree.
	ErrCorrupt = errors.New("buddy: allocator state corrupt")
)

// RangeError describes a failed Free.
//
// The underlying cause can be accessed via errors.Unwrap. errors.Is also
// matches ErrInvalidRange when the range could not name a live allocation.
type RangeError struct {
	Range   Range
	cause   error
	invalid bool
}

func newRangeError(r Range, cause error) *RangeError {
	invalid := !errors.Is(cause, ErrDoubleFree)
	return &RangeError{Range: r, cause: cause, invalid: invalid}
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("buddy: free %s: %v", e.Range, e.cause)
}

func (e *RangeError) Unwrap() error { return e.cause }

// Is reports whether target is ErrInvalidRange for ranges that are not
// merely already free.
func (e *RangeError) Is(target error) bool {
	return e.invalid && target == ErrInvalidRange
}
