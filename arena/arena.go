package arena

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/joshuapare/buddykit/buddy"
	"github.com/joshuapare/buddykit/internal/mmap"
)

var (
	// ErrClosed indicates use of an arena after Close.
	ErrClosed = errors.New("arena: closed")

	// ErrForeignBlock indicates a Block whose Data does not belong to this
	// arena at the offset its Range names.
	ErrForeignBlock = errors.New("arena: block does not belong to this arena")
)

// Block is an allocation: its block range and the bytes it covers.
type Block struct {
	Range buddy.Range
	Data  []byte
}

// Arena is a fixed-size byte arena. It is safe for concurrent use.
type Arena struct {
	mu     sync.Mutex
	alloc  *buddy.Allocator
	mem    []byte
	unmap  func() error
	page   uint64
	closed bool

	released uint64 // bytes handed back with mmap.Release

	log *slog.Logger
}

// New maps cfg.Bytes() of anonymous memory and builds an allocator over it.
func New(cfg buddy.Config, opts ...buddy.Option) (*Arena, error) {
	alloc, err := buddy.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	size := alloc.Config().Bytes()
	if size > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes do not fit in memory", buddy.ErrInvalidConfig, size)
	}

	mem, unmap, err := mmap.Map(int(size))
	if err != nil {
		return nil, fmt.Errorf("arena: %w", err)
	}

	ar := &Arena{
		alloc: alloc,
		mem:   mem,
		unmap: unmap,
		page:  uint64(mmap.PageSize()),
		log:   alloc.Logger().With("component", "arena"),
	}
	ar.log.Info("arena mapped", "bytes", size, "page_size", ar.page)
	return ar, nil
}

// Alloc returns a block of at least n bytes. Len(Data) is the block size
// rounded up to a power-of-two number of blocks.
func (ar *Arena) Alloc(n uint64) (Block, error) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if ar.closed {
		return Block{}, ErrClosed
	}
	r, err := ar.alloc.AllocBytes(n)
	if err != nil {
		return Block{}, err
	}
	off, length := ar.alloc.Bytes(r)
	end := off + length
	return Block{Range: r, Data: ar.mem[off:end:end]}, nil
}

// Free returns b to the arena. b must be passed back exactly as Alloc
// returned it.
func (ar *Arena) Free(b Block) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if ar.closed {
		return ErrClosed
	}
	off, length := ar.alloc.Bytes(b.Range)
	if !ar.owns(b, off, length) {
		return fmt.Errorf("%w: range %s", ErrForeignBlock, b.Range)
	}
	if err := ar.alloc.Free(b.Range); err != nil {
		return err
	}

	if length >= ar.page && off%ar.page == 0 {
		if err := mmap.Release(b.Data); err != nil {
			ar.log.Warn("release pages failed", "range", b.Range.String(), "error", err)
			return fmt.Errorf("arena: release %s: %w", b.Range, err)
		}
		ar.released += length
	}
	return nil
}

// owns reports whether b.Data is the slice Alloc would return for b.Range.
// Ranges outside the mapping are left to the allocator to reject.
func (ar *Arena) owns(b Block, off, length uint64) bool {
	if off >= uint64(len(ar.mem)) || length > uint64(len(ar.mem))-off {
		return true
	}
	if uint64(len(b.Data)) != length {
		return false
	}
	return length == 0 || &b.Data[0] == &ar.mem[off]
}

// Close unmaps the arena. Blocks still held by callers must not be used
// afterwards. Close is idempotent.
func (ar *Arena) Close() error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if ar.closed {
		return nil
	}
	ar.closed = true
	ar.mem = nil
	live := ar.alloc.Stats().Live
	if live > 0 {
		ar.log.Warn("arena closed with live blocks", "live", live)
	}
	return ar.unmap()
}

// Stats holds arena counters.
type Stats struct {
	buddy.Stats

	FreeBytes     uint64 // Bytes not currently allocated
	ReleasedBytes uint64 // Bytes handed back to the OS by Free, cumulative
}

// Stats returns a snapshot of the arena and allocator counters.
func (ar *Arena) Stats() Stats {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	s := ar.alloc.Stats()
	return Stats{
		Stats:         s,
		FreeBytes:     s.FreeBlocks * ar.alloc.BlockSize(),
		ReleasedBytes: ar.released,
	}
}

// Size returns the arena size in bytes.
func (ar *Arena) Size() uint64 {
	return ar.alloc.Config().Bytes()
}

// Check verifies the allocator invariants. It holds the lock for O(capacity).
func (ar *Arena) Check() error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	return ar.alloc.Check()
}
