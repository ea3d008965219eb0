package ref

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotRoundTrip(t *testing.T) {
	r := Ref(800)
	s := RefSlot(r)
	require.True(t, s.IsRef())
	require.Equal(t, r, s.Ref())

	inline := InlineSlot(-42)
	require.False(t, inline.IsRef())
	require.Equal(t, int64(-42), inline.Inline())
}

func TestNullSlotIsNotARef(t *testing.T) {
	s := RefSlot(Null)
	require.False(t, s.IsRef())
}

func TestRefAligned(t *testing.T) {
	require.True(t, Ref(0).Aligned())
	require.True(t, Ref(800).Aligned())
	require.False(t, Ref(801).Aligned())
}
