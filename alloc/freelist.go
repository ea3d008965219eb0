package alloc

import (
	"fmt"

	"github.com/gravitytrope/realm-core/ref"
)

// FreeSpaceState tracks whether the allocator's free-space bookkeeping
// can be trusted, per spec.md §4.2.2.
type FreeSpaceState uint8

const (
	Clean FreeSpaceState = iota
	Dirty
	Invalid
)

func (s FreeSpaceState) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type chunk struct {
	r    ref.Ref
	size int
}

// freeList is an unordered set of free (ref, size) chunks. New chunks
// are pushed at the end and taken from the end first, matching the
// most-recently-pushed-end scan order in spec.md §4.2.2.
type freeList struct {
	chunks []chunk
}

func (f *freeList) reset() {
	f.chunks = f.chunks[:0]
}

func (f *freeList) push(c chunk) {
	f.chunks = append(f.chunks, c)
}

func (f *freeList) removeAt(i int) {
	last := len(f.chunks) - 1
	f.chunks[i] = f.chunks[last]
	f.chunks = f.chunks[:last]
}

// takeAtLeast removes and returns the first chunk (scanning from the
// most-recently-pushed end) whose size is at least size.
func (f *freeList) takeAtLeast(size int) (chunk, bool) {
	for i := len(f.chunks) - 1; i >= 0; i-- {
		if f.chunks[i].size >= size {
			c := f.chunks[i]
			f.removeAt(i)
			return c, true
		}
	}
	return chunk{}, false
}

// insertCoalesced pushes (r, size) onto the list, merging it with any
// chunk it is directly adjacent to. boundary reports offsets that must
// never be crossed by a merge (slab and mapped-region edges). Returns
// an error if r is already present in the list, which the caller
// reports as a free-space corruption.
func (f *freeList) insertCoalesced(r ref.Ref, size int, boundary func(ref.Ref) bool) error {
	for _, c := range f.chunks {
		if c.r == r {
			return fmt.Errorf("double free of ref %s", r)
		}
	}

	c := chunk{r: r, size: size}
	for {
		merged := false
		end := c.r + ref.Ref(c.size)
		for i, other := range f.chunks {
			if other.r+ref.Ref(other.size) == c.r && !boundary(c.r) {
				c = chunk{r: other.r, size: other.size + c.size}
				f.removeAt(i)
				merged = true
				break
			}
			if end == other.r && !boundary(end) {
				c = chunk{r: c.r, size: c.size + other.size}
				f.removeAt(i)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}
	f.push(c)
	return nil
}
