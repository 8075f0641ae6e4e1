package buddy

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAllocator builds an allocator of 2^maxOrder one-byte blocks.
func newTestAllocator(t testing.TB, maxOrder uint8, opts ...Option) *Allocator {
	t.Helper()
	a, err := New(Config{Name: "test", MaxOrder: maxOrder}, opts...)
	require.NoError(t, err)
	return a
}

func assertInvariants(t testing.TB, a *Allocator) {
	t.Helper()
	require.NoError(t, a.Check())

	var live uint64
	var prev *Range
	a.LiveRanges(func(r Range) bool {
		if prev != nil {
			require.LessOrEqual(t, prev.End(), r.Offset, "live ranges must be disjoint and ordered")
		}
		live += r.Count
		prev = &r
		return true
	})
	require.Equal(t, a.Capacity()-live, a.FreeBlocks())
}

func TestNew_Defaults(t *testing.T) {
	a := newTestAllocator(t, 4)

	assert.Equal(t, uint64(16), a.Capacity())
	assert.Equal(t, uint64(16), a.FreeBlocks())
	assert.Equal(t, uint64(16), a.MaxAlloc())
	assert.Equal(t, uint8(4), a.MaxOrder())
	assert.Equal(t, uint64(1), a.BlockSize())

	cfg := a.Config()
	assert.Equal(t, uint64(1), cfg.MinBlocks)
	assert.Equal(t, uint64(16), cfg.MaxBlocks)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{MaxOrder: 3, Blocks: 9})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAlloc_RoundsUpToPowerOfTwo(t *testing.T) {
	a := newTestAllocator(t, 4)

	tests := []struct {
		count uint64
		want  uint64
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{5, 8},
	}
	for _, tt := range tests {
		r, err := a.Alloc(tt.count)
		require.NoError(t, err)
		assert.Equal(t, tt.want, r.Count, "Alloc(%d)", tt.count)
		assert.Zero(t, r.Offset%r.Count, "Alloc(%d) misaligned at %d", tt.count, r.Offset)
	}
	assert.Equal(t, uint64(16-1-2-4-8), a.FreeBlocks())
	assertInvariants(t, a)
}

func TestAlloc_ZeroAndTooLarge(t *testing.T) {
	a := newTestAllocator(t, 3)

	_, err := a.Alloc(0)
	require.ErrorIs(t, err, ErrZeroCount)

	_, err = a.Alloc(9)
	require.ErrorIs(t, err, ErrTooLarge)

	assert.Equal(t, uint64(2), a.Stats().Rejected)
	assert.Equal(t, uint64(8), a.FreeBlocks())
}

func TestAlloc_Exhaustion(t *testing.T) {
	const maxOrder = 5
	a := newTestAllocator(t, maxOrder)

	for i := range 1 << maxOrder {
		_, err := a.Alloc(1)
		require.NoError(t, err, "alloc %d", i)
	}
	_, err := a.Alloc(1)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Zero(t, a.FreeBlocks())
	assert.Zero(t, a.MaxAlloc())
	assert.Equal(t, uint64(1), a.Stats().Failures)
}

func TestAlloc_MinBlocksRoundsUp(t *testing.T) {
	a, err := New(Config{MaxOrder: 4, MinBlocks: 4})
	require.NoError(t, err)

	r, err := a.Alloc(1)
	require.NoError(t, err)
	assert.Equal(t, Range{Offset: 0, Count: 4}, r)

	h, err := a.AllocOrder(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), h.Order)
	assert.Equal(t, Range{Offset: 4, Count: 4}, a.RangeOf(h))

	require.NoError(t, a.Free(r))
	require.NoError(t, a.FreeHandle(h))
	assertInvariants(t, a)
}

func TestAlloc_MaxBlocksRejects(t *testing.T) {
	a, err := New(Config{MaxOrder: 4, MaxBlocks: 4})
	require.NoError(t, err)

	_, err = a.Alloc(5)
	require.ErrorIs(t, err, ErrBlockCount)

	_, err = a.AllocOrder(3)
	require.ErrorIs(t, err, ErrBlockCount)

	_, err = a.AllocOrder(5)
	require.ErrorIs(t, err, ErrInvalidOrder)

	r, err := a.Alloc(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), r.Count)
	assert.Equal(t, uint64(4), a.MaxAlloc())
}

func TestAlloc_ReservedTail(t *testing.T) {
	a, err := New(Config{MaxOrder: 4, Blocks: 10})
	require.NoError(t, err)

	assert.Equal(t, uint64(10), a.FreeBlocks())
	assert.Equal(t, uint64(8), a.MaxAlloc())

	var got []Range
	for {
		r, allocErr := a.Alloc(1)
		if allocErr != nil {
			require.ErrorIs(t, allocErr, ErrOutOfMemory)
			break
		}
		got = append(got, r)
	}
	require.Len(t, got, 10)
	for _, r := range got {
		assert.Less(t, r.Offset, uint64(10))
	}

	err = a.Free(Range{Offset: 12, Count: 1})
	require.ErrorIs(t, err, ErrInvalidRange, "reserved blocks cannot be freed")
	assertInvariants(t, a)
}

func TestFree_Errors(t *testing.T) {
	a := newTestAllocator(t, 4)
	r, err := a.Alloc(4) // [0, 4)
	require.NoError(t, err)

	tests := []struct {
		name string
		r    Range
		want error
	}{
		{"count not a power of two", Range{Offset: 0, Count: 3}, ErrInvalidRange},
		{"misaligned", Range{Offset: 2, Count: 4}, ErrMisalignedAddress},
		{"out of range", Range{Offset: 16, Count: 1}, ErrOutOfRange},
		{"bigger than the allocator", Range{Offset: 0, Count: 32}, ErrTooLarge},
		{"partial free", Range{Offset: 0, Count: 2}, ErrInvalidRange},
		{"free part of the space", Range{Offset: 8, Count: 8}, ErrDoubleFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Free(tt.r)
			require.ErrorIs(t, err, tt.want)

			var re *RangeError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.r, re.Range)
		})
	}

	assert.Equal(t, uint64(len(tests)), a.Stats().FreeErrors)
	require.NoError(t, a.Free(r))
	assertInvariants(t, a)
}

func TestFree_DoubleFreeIsNotInvalidRange(t *testing.T) {
	a := newTestAllocator(t, 3)
	r, err := a.Alloc(2)
	require.NoError(t, err)
	require.NoError(t, a.Free(r))

	err = a.Free(r)
	require.ErrorIs(t, err, ErrDoubleFree)
	require.NotErrorIs(t, err, ErrInvalidRange)
	assert.Equal(t, uint64(8), a.FreeBlocks(), "a rejected free must not change the counter")
}

func TestFreeHandle_Invalid(t *testing.T) {
	a := newTestAllocator(t, 3)

	err := a.FreeHandle(Handle{Node: 99, Order: 0})
	require.ErrorIs(t, err, ErrInvalidNode)
	require.ErrorIs(t, err, ErrInvalidRange)
}

// TestScenario_NonBuddyFragments: live blocks at 0 and 2 are not buddies; an
// order-1 request is served from a real free pair further right.
func TestScenario_NonBuddyFragments(t *testing.T) {
	a := newTestAllocator(t, 3)

	r0, err := a.Alloc(1)
	require.NoError(t, err)
	r1, err := a.Alloc(1)
	require.NoError(t, err)
	r2, err := a.Alloc(1)
	require.NoError(t, err)
	require.NoError(t, a.Free(r1))
	require.Equal(t, uint64(0), r0.Offset)
	require.Equal(t, uint64(2), r2.Offset)

	r, err := a.Alloc(2)
	require.NoError(t, err)
	assert.Contains(t, []Range{{Offset: 4, Count: 2}, {Offset: 6, Count: 2}}, r)
	assertInvariants(t, a)
}

// TestScenario_BuddyStillTaken: freeing A while its buddy B is live leaves no
// order-1 run; freeing B restores one at address 0.
func TestScenario_BuddyStillTaken(t *testing.T) {
	a := newTestAllocator(t, 2)

	ra, err := a.Alloc(1)
	require.NoError(t, err)
	rb, err := a.Alloc(1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), ra.Offset)
	require.Equal(t, uint64(1), rb.Offset)

	// Take the other pair so {0, 1} is the only possible order-1 run.
	rc, err := a.Alloc(2)
	require.NoError(t, err)
	require.Equal(t, Range{Offset: 2, Count: 2}, rc)

	require.NoError(t, a.Free(ra))
	_, err = a.Alloc(2)
	require.ErrorIs(t, err, ErrOutOfMemory)

	require.NoError(t, a.Free(rb))
	r, err := a.Alloc(2)
	require.NoError(t, err)
	assert.Equal(t, Range{Offset: 0, Count: 2}, r)
	assertInvariants(t, a)
}

func TestRoundTrip_RestoresMaxAlloc(t *testing.T) {
	a := newTestAllocator(t, 6)
	_, err := a.Alloc(3)
	require.NoError(t, err)

	for _, count := range []uint64{1, 2, 4, 8, 16, 32} {
		before := a.MaxAlloc()
		r, err := a.Alloc(count)
		require.NoError(t, err)
		require.NoError(t, a.Free(r))
		assert.Equal(t, before, a.MaxAlloc(), "count %d", count)
	}
}

func TestAllocBytes(t *testing.T) {
	a, err := New(Config{MaxOrder: 6, BlockSize: 64})
	require.NoError(t, err)

	r, err := a.AllocBytes(100) // two 64-byte blocks
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Count)

	off, n := a.Bytes(r)
	assert.Equal(t, r.Offset*64, off)
	assert.Equal(t, uint64(128), n)

	r, err = a.AllocBytes(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Count)

	_, err = a.AllocBytes(0)
	require.ErrorIs(t, err, ErrZeroCount)
}

func TestAllocPage_Alignment(t *testing.T) {
	a, err := New(Config{MaxOrder: 12, BlockSize: 4096})
	require.NoError(t, err)

	_, err = a.AllocPage(Kib4)
	require.NoError(t, err)

	r, err := a.AllocPage(Mib2)
	require.NoError(t, err)
	off, n := a.Bytes(r)
	assert.Equal(t, Mib2.Bytes(), n)
	assert.Zero(t, off%Mib2.Bytes(), "2 MiB page must be 2 MiB aligned")

	_, err = a.AllocPage(Gib1)
	require.ErrorIs(t, err, ErrTooLarge, "16 MiB allocator cannot hold a 1 GiB page")
}

func TestFreeRanges(t *testing.T) {
	a := newTestAllocator(t, 3)
	_, err := a.Alloc(1)
	require.NoError(t, err)

	var got []Range
	a.FreeRanges(func(r Range) bool {
		got = append(got, r)
		return true
	})
	want := []Range{{Offset: 1, Count: 1}, {Offset: 2, Count: 2}, {Offset: 4, Count: 4}}
	assert.Equal(t, want, got)
}

func TestReset(t *testing.T) {
	a := newTestAllocator(t, 4)
	for range 5 {
		_, err := a.Alloc(2)
		require.NoError(t, err)
	}
	a.Reset()

	assert.Equal(t, uint64(16), a.FreeBlocks())
	assert.Zero(t, a.Stats().Live)
	assertInvariants(t, a)
}

func TestStats(t *testing.T) {
	a := newTestAllocator(t, 3)

	r1, err := a.Alloc(1)
	require.NoError(t, err)
	r2, err := a.Alloc(1)
	require.NoError(t, err)
	require.NoError(t, a.Free(r1))
	require.NoError(t, a.Free(r2))

	s := a.Stats()
	assert.Equal(t, uint64(2), s.Allocs)
	assert.Equal(t, uint64(2), s.Frees)
	assert.Equal(t, uint64(3), s.Splits)
	assert.Equal(t, uint64(3), s.Coalesces)
	assert.Equal(t, uint64(8), s.FreeBlocks)
	assert.Zero(t, s.Live)
}

func TestCheck_CounterMismatch(t *testing.T) {
	a := newTestAllocator(t, 3)
	a.free-- // simulate a lost update

	err := a.Check()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := newTestAllocator(t, 2, WithLogger(logger))

	assert.Contains(t, buf.String(), "buddy allocator ready")

	r, err := a.Alloc(4)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "msg=alloc")

	_, err = a.Alloc(1)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Contains(t, buf.String(), "alloc failed")

	require.NoError(t, a.Free(r))
	require.Error(t, a.Free(r))
	assert.Contains(t, buf.String(), "free rejected")
}

func TestWithLogger_Nil(t *testing.T) {
	a := newTestAllocator(t, 2, WithLogger(nil))
	_, err := a.Alloc(1)
	require.NoError(t, err)
}

func TestRangeError_Unwrap(t *testing.T) {
	err := newRangeError(Range{Offset: 1, Count: 2}, ErrMisalignedAddress)
	assert.Equal(t, ErrMisalignedAddress, errors.Unwrap(err))
	assert.Equal(t, "buddy: free [1, 3): order: address not aligned to block order", err.Error())
}

func TestRange_Overlaps(t *testing.T) {
	a := Range{Offset: 4, Count: 4}
	assert.True(t, a.Overlaps(Range{Offset: 6, Count: 2}))
	assert.True(t, a.Overlaps(Range{Offset: 0, Count: 8}))
	assert.False(t, a.Overlaps(Range{Offset: 8, Count: 8}))
	assert.False(t, a.Overlaps(Range{Offset: 0, Count: 4}))
}
