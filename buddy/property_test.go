package buddy

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test_RandomAllocFree_Ranges drives the allocator through block ranges,
// mixing valid frees with frees of ranges that were never handed out, and
// checks after every step that:
//   - live ranges never overlap and are aligned to their size
//   - the free counter matches the tree
//   - rejected frees leave the state unchanged
func Test_RandomAllocFree_Ranges(t *testing.T) {
	configs := []Config{
		{Name: "full", MaxOrder: 7},
		{Name: "reserved", MaxOrder: 7, Blocks: 100},
		{Name: "min4", MaxOrder: 7, MinBlocks: 4},
		{Name: "max16", MaxOrder: 7, MaxBlocks: 16},
	}

	for _, cfg := range configs {
		t.Run(cfg.Name, func(t *testing.T) {
			a, err := New(cfg)
			require.NoError(t, err)
			rng := rand.New(rand.NewSource(7)) // Fixed seed for reproducibility
			var live []Range

			for step := range 1500 {
				switch op := rng.Intn(10); {
				case op < 6 || len(live) == 0:
					r, err := a.Alloc(uint64(1 + rng.Intn(24)))
					if err != nil {
						require.True(t, errorIsAny(err, ErrOutOfMemory, ErrBlockCount), "step %d: %v", step, err)
						continue
					}
					require.Zero(t, r.Offset%r.Count, "step %d: misaligned %s", step, r)
					require.LessOrEqual(t, r.End(), a.Capacity(), "step %d: %s past capacity", step, r)
					for _, o := range live {
						require.False(t, r.Overlaps(o), "step %d: %s overlaps %s", step, r, o)
					}
					live = append(live, r)

				case op < 9:
					i := rng.Intn(len(live))
					require.NoError(t, a.Free(live[i]), "step %d", step)
					live[i] = live[len(live)-1]
					live = live[:len(live)-1]

				default:
					before := a.FreeBlocks()
					bogus := Range{Offset: uint64(rng.Intn(160)), Count: uint64(1 + rng.Intn(8))}
					if isLive(live, bogus) {
						continue
					}
					require.Error(t, a.Free(bogus), "step %d: free of %s", step, bogus)
					require.Equal(t, before, a.FreeBlocks(), "step %d", step)
				}

				require.NoError(t, a.Check(), "step %d", step)
				var held uint64
				for _, r := range live {
					held += r.Count
				}
				require.Equal(t, a.Capacity()-held, a.FreeBlocks(), "step %d", step)
			}

			for _, r := range live {
				require.NoError(t, a.Free(r))
			}
			require.Equal(t, a.Capacity(), a.FreeBlocks())
			assertInvariants(t, a)
		})
	}
}

func isLive(live []Range, r Range) bool {
	for _, l := range live {
		if l == r {
			return true
		}
	}
	return false
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
