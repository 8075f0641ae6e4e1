package buddy

import (
	"fmt"
	"math/bits"

	"github.com/joshuapare/buddykit/internal/order"
)

// Config describes the shape of an allocator.
type Config struct {
	// Name for this configuration (for logs and benchmarks)
	Name string

	// MaxOrder is the tree height. The allocator manages at most 2^MaxOrder
	// blocks and the largest single allocation is 2^MaxOrder blocks.
	MaxOrder uint8

	// Blocks is the number of usable blocks (0 = 2^MaxOrder). Anything past it
	// is reserved and never handed out.
	Blocks uint64

	// BlockSize is the size in bytes of an order-0 block. The tree never looks
	// at it; it is used by AllocBytes, AllocPage and Bytes. Must be a power of two.
	BlockSize uint64

	// MinBlocks is the smallest allocation handed out (0 = 1). Smaller
	// requests are rounded up to it. Must be a power of two.
	MinBlocks uint64

	// MaxBlocks is the largest request accepted (0 = 2^MaxOrder). Larger
	// requests fail with ErrBlockCount. Must be a power of two.
	MaxBlocks uint64
}

// Predefined configurations.
var (
	// Pages4K: 4 KiB blocks, 19 orders (4 KiB .. 1 GiB), 1 GiB managed.
	ConfigPages4K = Config{
		Name:      "Pages4K",
		MaxOrder:  18,
		BlockSize: 4096,
	}

	// Small: 64-byte blocks, 64 KiB managed. Cheap to build in tests.
	ConfigSmall = Config{
		Name:      "Small",
		MaxOrder:  10,
		BlockSize: 64,
	}

	// Default configuration (used if none specified).
	DefaultConfig = ConfigPages4K
)

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Blocks == 0 {
		c.Blocks = order.Span(c.MaxOrder)
	}
	if c.BlockSize == 0 {
		c.BlockSize = 1
	}
	if c.MinBlocks == 0 {
		c.MinBlocks = 1
	}
	if c.MaxBlocks == 0 {
		c.MaxBlocks = order.Span(c.MaxOrder)
	}
	return c
}

// Validate reports whether c describes a buildable allocator. Zero fields are
// checked after their defaults are applied.
func (c Config) Validate() error {
	if c.MaxOrder > order.MaxSupported {
		return fmt.Errorf("%w: max order %d above %d", ErrInvalidConfig, c.MaxOrder, order.MaxSupported)
	}
	c = c.withDefaults()

	leaves := order.Span(c.MaxOrder)
	switch {
	case c.Blocks > leaves:
		return fmt.Errorf("%w: %d blocks exceed 2^%d", ErrInvalidConfig, c.Blocks, c.MaxOrder)
	case !order.IsPowerOfTwo(c.BlockSize):
		return fmt.Errorf("%w: block size %d is not a power of two", ErrInvalidConfig, c.BlockSize)
	case bits.Len64(c.BlockSize)-1+int(c.MaxOrder) >= 64:
		return fmt.Errorf("%w: %d blocks of %d bytes overflow a 64-bit byte offset",
			ErrInvalidConfig, leaves, c.BlockSize)
	case !order.IsPowerOfTwo(c.MinBlocks):
		return fmt.Errorf("%w: min blocks %d is not a power of two", ErrInvalidConfig, c.MinBlocks)
	case !order.IsPowerOfTwo(c.MaxBlocks):
		return fmt.Errorf("%w: max blocks %d is not a power of two", ErrInvalidConfig, c.MaxBlocks)
	case c.MaxBlocks > leaves:
		return fmt.Errorf("%w: max blocks %d exceed 2^%d", ErrInvalidConfig, c.MaxBlocks, c.MaxOrder)
	case c.MinBlocks > c.MaxBlocks:
		return fmt.Errorf("%w: min blocks %d above max blocks %d", ErrInvalidConfig, c.MinBlocks, c.MaxBlocks)
	}
	return nil
}

// Bytes returns the number of usable bytes c manages.
func (c Config) Bytes() uint64 {
	c = c.withDefaults()
	return c.Blocks * c.BlockSize
}
