package mmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMap_ReadWrite(t *testing.T) {
	size := 4 * PageSize()
	data, cleanup, err := Map(size)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cleanup())
	}()

	require.Len(t, data, size)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: 0x%x", i, b)
		}
	}

	data[0] = 0xde
	data[size-1] = 0xad
	require.Equal(t, byte(0xde), data[0])
	require.Equal(t, byte(0xad), data[size-1])
}

func TestMap_ZeroLength(t *testing.T) {
	data, cleanup, err := Map(0)
	require.NoError(t, err)
	require.Empty(t, data)
	require.NotNil(t, cleanup)
	require.NoError(t, cleanup())
}

func TestMap_Negative(t *testing.T) {
	_, _, err := Map(-1)
	require.Error(t, err)
}

func TestCleanup_Twice(t *testing.T) {
	_, cleanup, err := Map(PageSize())
	require.NoError(t, err)
	require.NoError(t, cleanup())
	require.NoError(t, cleanup(), "second cleanup must be a no-op")
}

func TestRelease_KeepsMapping(t *testing.T) {
	page := PageSize()
	data, cleanup, err := Map(2 * page)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cleanup())
	}()

	data[page] = 7
	require.NoError(t, Release(data[page:]))

	// Still mapped and writable.
	data[page] = 9
	require.Equal(t, byte(9), data[page])
	require.NoError(t, Release(nil))
}
