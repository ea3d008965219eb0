// Package integration exercises array and alloc together, the way a
// higher commit layer would, without either package depending on the
// other directly.
package integration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitytrope/realm-core/alloc"
	"github.com/gravitytrope/realm-core/array"
	"github.com/gravitytrope/realm-core/ref"
)

type fakeFile struct {
	data []byte
}

func (f *fakeFile) Translate(r ref.Ref) ([]byte, error) {
	return f.data[r:], nil
}

// buildChildNode hand-encodes an 8-bit-width, 2-element node header and
// payload directly into buf at offset off, standing in for a page a
// real commit had already flushed to disk.
func buildChildNode(buf []byte, off int, values [2]byte) {
	const widthLog8 = 4 // widthTable[4] == 8
	buf[off] = widthLog8
	buf[off+1], buf[off+2], buf[off+3] = 0, 0, 2  // length = 2
	buf[off+4], buf[off+5], buf[off+6] = 0, 0, 10 // capacity = 8 + 2
	buf[off+7] = 0
	buf[off+8] = values[0]
	buf[off+9] = values[1]
}

func TestCOWPropagatesNewRefToParentAndLeavesOldBytesUntouched(t *testing.T) {
	const baseline = 64
	file := &fakeFile{data: make([]byte, baseline)}
	buildChildNode(file.data, 8, [2]byte{5, 6})

	allocator := alloc.New(file, ref.Ref(baseline), nil)

	parent, err := array.CreateEmpty(allocator, array.HasRefsKind, nil)
	require.NoError(t, err)
	require.NoError(t, parent.Add(ref.InlineSlot(0).Raw()))
	require.NoError(t, parent.Add(ref.InlineSlot(0).Raw()))
	require.NoError(t, parent.Add(ref.InlineSlot(0).Raw()))
	require.NoError(t, parent.Add(int64(8)))

	link := array.NewParentLink(parent, 3)
	child, err := array.Create(allocator, ref.Ref(8), link, nil)
	require.NoError(t, err)
	require.Equal(t, int64(5), child.Get(0))
	require.Equal(t, int64(6), child.Get(1))

	oldRef := child.Ref()
	require.True(t, allocator.IsReadOnly(oldRef))

	require.NoError(t, child.Set(0, 99))

	newRef := child.Ref()
	require.NotEqual(t, oldRef, newRef, "a mutation on read-only-backed data must reallocate")
	require.Equal(t, int64(99), child.Get(0))
	require.Equal(t, int64(6), child.Get(1))

	require.Equal(t, int64(newRef), parent.GetSlot(3).Raw(), "parent slot 3 must be updated to the new ref")

	oldBytes, err := allocator.Translate(oldRef)
	require.NoError(t, err)
	require.Equal(t, byte(5), oldBytes[8], "the original read-only buffer must be untouched by the child's COW")
	require.Equal(t, byte(6), oldBytes[9])
}
