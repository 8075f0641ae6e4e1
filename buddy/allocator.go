package buddy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joshuapare/buddykit/buddy/tree"
	"github.com/joshuapare/buddykit/internal/order"
)

var _ BlockAllocator = (*Allocator)(nil)

// Allocator hands out power-of-two runs of blocks from a fixed address space.
// It hides tree node indices behind block ranges, applies the configured size
// limits, and keeps a free-block counter for diagnostics.
type Allocator struct {
	tree *tree.Tree
	cfg  Config

	minOrder uint8 // order of Config.MinBlocks
	maxReq   uint8 // order of Config.MaxBlocks

	free uint64 // never consulted by the tree
	live uint64

	rejected   uint64
	freeErrors uint64

	log   *slog.Logger
	debug bool
}

// Stats holds allocator counters.
type Stats struct {
	tree.Stats

	Rejected   uint64 // Requests refused before reaching the tree
	FreeErrors uint64 // Free calls that returned an error
	FreeBlocks uint64 // Currently free blocks
	Live       uint64 // Currently live allocations
}

// New builds an allocator for cfg.
func New(cfg Config, opts ...Option) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t, err := tree.New(cfg.MaxOrder, cfg.Blocks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	a := &Allocator{
		tree:     t,
		cfg:      cfg,
		minOrder: order.Log2(cfg.MinBlocks),
		maxReq:   order.Log2(cfg.MaxBlocks),
		free:     cfg.Blocks,
		log:      o.logger,
	}
	a.debug = a.log.Enabled(context.Background(), slog.LevelDebug)

	a.log.Info("buddy allocator ready",
		"config", cfg.Name,
		"max_order", cfg.MaxOrder,
		"blocks", cfg.Blocks,
		"block_size", cfg.BlockSize,
		"reserved", t.Leaves()-cfg.Blocks,
	)
	return a, nil
}

// Alloc reserves the smallest power-of-two run of at least count blocks.
func (a *Allocator) Alloc(count uint64) (Range, error) {
	k, err := order.ForCount(count, a.cfg.MaxOrder)
	if err != nil {
		return Range{}, a.reject(fmt.Errorf("alloc %d blocks: %w", count, err))
	}
	h, err := a.AllocOrder(k)
	if err != nil {
		return Range{}, err
	}
	return a.RangeOf(h), nil
}

// AllocOrder reserves a block of order k (2^k blocks). Orders below the
// configured minimum are raised to it.
func (a *Allocator) AllocOrder(k uint8) (Handle, error) {
	if k > a.maxReq {
		if k > a.cfg.MaxOrder {
			return Handle{}, a.reject(fmt.Errorf("%w: %d > %d", ErrInvalidOrder, k, a.cfg.MaxOrder))
		}
		return Handle{}, a.reject(fmt.Errorf("%w: %d blocks > %d", ErrBlockCount, order.Span(k), a.cfg.MaxBlocks))
	}
	if k < a.minOrder {
		k = a.minOrder
	}

	h, err := a.tree.Allocate(k)
	if err != nil {
		if a.debug {
			maxFree, ok := a.tree.MaxFreeOrder()
			a.log.Debug("alloc failed",
				"order", k,
				"free_blocks", a.free,
				"max_free_order", maxFree,
				"full", !ok,
				"error", err,
			)
		}
		return Handle{}, err
	}

	a.free -= order.Span(k)
	a.live++
	if a.debug {
		a.log.Debug("alloc", "order", k, "offset", a.tree.Address(h), "free_blocks", a.free)
	}
	return h, nil
}

// AllocBytes reserves enough blocks to hold n bytes.
func (a *Allocator) AllocBytes(n uint64) (Range, error) {
	if n == 0 {
		return Range{}, a.reject(fmt.Errorf("alloc 0 bytes: %w", ErrZeroCount))
	}
	count := n / a.cfg.BlockSize
	if n%a.cfg.BlockSize != 0 {
		count++
	}
	return a.Alloc(count)
}

// AllocPage reserves one page of size ps. The byte offset of the result is
// aligned to the page size.
func (a *Allocator) AllocPage(ps PageSize) (Range, error) {
	return a.AllocBytes(ps.Bytes())
}

// Free releases a range returned by Alloc, AllocBytes or AllocPage. The range
// must be passed back exactly; partial frees fail with ErrInvalidRange.
func (a *Allocator) Free(r Range) error {
	h, err := a.HandleOf(r)
	if err != nil {
		return a.freeFailed(r, err)
	}
	return a.release(r, h)
}

// FreeHandle releases a handle returned by AllocOrder.
func (a *Allocator) FreeHandle(h Handle) error {
	var r Range
	if order.Valid(h.Node, a.cfg.MaxOrder) && order.OrderOf(h.Node, a.cfg.MaxOrder) == h.Order {
		r = a.RangeOf(h)
	}
	return a.release(r, h)
}

func (a *Allocator) release(r Range, h Handle) error {
	if err := a.tree.Free(h); err != nil {
		return a.freeFailed(r, err)
	}
	a.free += order.Span(h.Order)
	a.live--
	if a.debug {
		a.log.Debug("free", "range", r.String(), "free_blocks", a.free)
	}
	return nil
}

func (a *Allocator) freeFailed(r Range, cause error) error {
	a.freeErrors++
	err := newRangeError(r, cause)
	a.log.Warn("free rejected", "range", r.String(), "error", cause)
	return err
}

func (a *Allocator) reject(err error) error {
	a.rejected++
	if a.debug {
		a.log.Debug("alloc rejected", "error", err)
	}
	return err
}

// RangeOf converts a handle to the block range it covers.
func (a *Allocator) RangeOf(h Handle) Range {
	return Range{Offset: a.tree.Address(h), Count: order.Span(h.Order)}
}

// HandleOf converts a range back to its handle. It fails for ranges that no
// allocation could have produced: a Count that is not a power of two, or an
// Offset that is misaligned or out of range.
func (a *Allocator) HandleOf(r Range) (Handle, error) {
	if !order.IsPowerOfTwo(r.Count) {
		return Handle{}, fmt.Errorf("%w: count %d is not a power of two", ErrInvalidRange, r.Count)
	}
	k := order.Log2(r.Count)
	if k > a.cfg.MaxOrder {
		return Handle{}, fmt.Errorf("%w: count %d", ErrTooLarge, r.Count)
	}
	return a.tree.HandleAt(r.Offset, k)
}

// Bytes converts r to a byte offset and length using the configured block size.
func (a *Allocator) Bytes(r Range) (off, length uint64) {
	return r.Offset * a.cfg.BlockSize, r.Count * a.cfg.BlockSize
}

// FreeBlocks returns the number of free blocks. It is kept as a counter and
// is not used by the allocation algorithm.
func (a *Allocator) FreeBlocks() uint64 { return a.free }

// Capacity returns the number of usable blocks.
func (a *Allocator) Capacity() uint64 { return a.cfg.Blocks }

// MaxOrder returns the tree height.
func (a *Allocator) MaxOrder() uint8 { return a.cfg.MaxOrder }

// BlockSize returns the configured block size in bytes.
func (a *Allocator) BlockSize() uint64 { return a.cfg.BlockSize }

// Config returns the effective configuration with defaults applied.
func (a *Allocator) Config() Config { return a.cfg }

// Logger returns the logger set with WithLogger.
func (a *Allocator) Logger() *slog.Logger { return a.log }

// MaxAlloc returns the largest run that can be allocated right now, in blocks.
func (a *Allocator) MaxAlloc() uint64 {
	k, ok := a.tree.MaxFreeOrder()
	if !ok {
		return 0
	}
	return order.Span(min(k, a.maxReq))
}

// FreeRanges calls fn for every maximal free run, in address order, until fn
// returns false.
func (a *Allocator) FreeRanges(fn func(Range) bool) {
	a.tree.WalkFree(func(h tree.Handle) bool { return fn(a.RangeOf(h)) })
}

// LiveRanges calls fn for every live allocation, in address order, until fn
// returns false.
func (a *Allocator) LiveRanges(fn func(Range) bool) {
	a.tree.WalkAllocated(func(h tree.Handle) bool { return fn(a.RangeOf(h)) })
}

// Reset frees every allocation. Ranges handed out before Reset must not be
// freed afterwards.
func (a *Allocator) Reset() {
	a.tree.Reset()
	a.free = a.cfg.Blocks
	a.live = 0
}

// Check verifies the tree invariants and that the free counter matches the
// tree. It is O(capacity).
func (a *Allocator) Check() error {
	if err := a.tree.Check(); err != nil {
		return err
	}
	if got := a.tree.FreeBlocks(); got != a.free {
		return fmt.Errorf("%w: counter says %d free blocks, tree holds %d", ErrCorrupt, a.free, got)
	}
	return nil
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		Stats:      a.tree.Stats(),
		Rejected:   a.rejected,
		FreeErrors: a.freeErrors,
		FreeBlocks: a.free,
		Live:       a.live,
	}
}
