package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitytrope/realm-core/ref"
)

type fakeFile struct {
	data []byte
}

func (f *fakeFile) Translate(r ref.Ref) ([]byte, error) {
	return f.data[r:], nil
}

func TestAllocGrowsSlabsGeometrically(t *testing.T) {
	a := New(&fakeFile{data: make([]byte, 64)}, ref.Ref(64), nil)

	r1, b1, err := a.Alloc(8)
	require.NoError(t, err)
	require.Equal(t, ref.Ref(64), r1)
	require.Len(t, b1, 8)
	require.Len(t, a.slabs, 1)

	_, _, err = a.Alloc(512)
	require.NoError(t, err)
	require.Len(t, a.slabs, 2)
	require.GreaterOrEqual(t, a.slabs[1].size(), 512)
}

func TestFreeAndReallocReusesSpace(t *testing.T) {
	a := New(&fakeFile{data: make([]byte, 64)}, ref.Ref(64), nil)

	r1, b1, err := a.Alloc(256)
	require.NoError(t, err)
	require.NoError(t, a.Free(r1, b1))
	require.Equal(t, Dirty, a.state)

	r2, b2, err := a.Alloc(128)
	require.NoError(t, err)
	require.Equal(t, r1, r2, "should reuse the freed chunk rather than grow a new slab")
	require.Len(t, b2, 128)
	require.Len(t, a.slabs, 1, "no new slab should have been grown")
}

func TestCoalesceDoesNotCrossSlabBoundary(t *testing.T) {
	a := New(&fakeFile{data: make([]byte, 64)}, ref.Ref(64), nil)

	rA, bA, err := a.Alloc(256)
	require.NoError(t, err)
	rB, bB, err := a.Alloc(504)
	require.NoError(t, err)
	require.Len(t, a.slabs, 2)
	boundary := a.slabs[0].end
	require.Equal(t, boundary, a.slabs[1].base)

	// Freeing A leaves a free tail touching the boundary from below;
	// freeing B leaves a free block touching it from above. They are
	// numerically adjacent across the boundary and must not coalesce,
	// since the allocator's two slabs are separate, non-contiguous
	// []byte allocations even though their ref ranges abut.
	require.NoError(t, a.Free(rA, bA))
	require.NoError(t, a.Free(rB, bB))

	for _, c := range a.freeSpace.chunks {
		require.False(t, c.r < boundary && c.r+ref.Ref(c.size) > boundary,
			"no free chunk may straddle the slab boundary at %s", boundary)
	}
}

func TestResetFreeSpaceTrackingCoversEverySlabByte(t *testing.T) {
	a := New(&fakeFile{data: make([]byte, 64)}, ref.Ref(64), nil)
	_, _, err := a.Alloc(128)
	require.NoError(t, err)
	_, _, err = a.Alloc(512)
	require.NoError(t, err)

	a.ResetFreeSpaceTracking()
	require.Equal(t, Clean, a.state)

	var total int
	for _, c := range a.freeSpace.chunks {
		total += c.size
	}
	var want int
	for _, s := range a.slabs {
		want += s.size()
	}
	require.Equal(t, want, total)
}

func TestDoubleFreeMarksStateInvalid(t *testing.T) {
	a := New(&fakeFile{data: make([]byte, 64)}, ref.Ref(64), nil)
	r, b, err := a.Alloc(64)
	require.NoError(t, err)

	require.NoError(t, a.Free(r, b))
	err = a.Free(r, b)
	require.ErrorIs(t, err, ErrInvalidFreeSpace)
	require.Equal(t, Invalid, a.state)

	_, _, err = a.Alloc(8)
	require.ErrorIs(t, err, ErrInvalidFreeSpace)
}

func TestTranslateResolvesSameBytesAfterCacheBump(t *testing.T) {
	a := New(&fakeFile{data: make([]byte, 64)}, ref.Ref(64), nil)
	r, _, err := a.Alloc(8)
	require.NoError(t, err)

	addr1, err := a.Translate(r)
	require.NoError(t, err)

	a.cache.bump()
	addr2, err := a.Translate(r)
	require.NoError(t, err)
	require.Equal(t, addr1, addr2, "bumping the cache must not change the resolved bytes, only force re-resolution")
}

func TestSectionIndexIsMonotonicAndStartsAtZero(t *testing.T) {
	pageSize := 4096
	require.Equal(t, 0, SectionIndex(0, pageSize))
	prev := -1
	for pos := uint64(0); pos < uint64(pageSize)*4096; pos += uint64(pageSize) {
		idx := SectionIndex(pos, pageSize)
		require.GreaterOrEqual(t, idx, prev)
		prev = idx
	}
}

func TestSectionBaseInvertsSectionIndexBoundaries(t *testing.T) {
	pageSize := 4096
	for index := 0; index < 40; index++ {
		base := SectionBase(index, pageSize)
		require.Equal(t, index, SectionIndex(uint64(base), pageSize), "index %d", index)
	}
}
