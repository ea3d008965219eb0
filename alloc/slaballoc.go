// Package alloc implements the slab allocator that unifies a read-only
// mmap'd file region and writable in-memory slabs into one flat ref
// space (spec.md §4.2). It satisfies array.Allocator structurally,
// without importing package array, so there is no import cycle between
// the two halves of the storage engine.
package alloc

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gravitytrope/realm-core/ref"
)

// ErrInvalidFreeSpace is returned by Alloc once the free-space
// bookkeeping has been judged corrupt; only ResetFreeSpaceTracking
// clears it.
var ErrInvalidFreeSpace = errors.New("alloc: invalid free space")

// FileTranslator is the narrow dependency SlabAllocator has on the
// file-mapping layer: translating a ref below the baseline to its
// backing bytes. filestore.MappedFile satisfies this structurally.
type FileTranslator interface {
	Translate(r ref.Ref) ([]byte, error)
}

type slabRecord struct {
	base ref.Ref
	end  ref.Ref
	data []byte
}

func (s slabRecord) size() int { return int(s.end - s.base) }

// SlabAllocator is the C2 component of the storage engine: everything
// at or above baseline is a writable in-memory slab; everything below
// it is delegated to file.
type SlabAllocator struct {
	file     FileTranslator
	baseline ref.Ref

	slabs        []slabRecord
	freeSpace    freeList
	freeReadOnly freeList
	state        FreeSpaceState

	cache  translateCache
	logger *slog.Logger
}

// New builds a SlabAllocator over file, with baseline marking the
// first ref that belongs to the writable slab region.
func New(file FileTranslator, baseline ref.Ref, logger *slog.Logger) *SlabAllocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlabAllocator{file: file, baseline: baseline, state: Clean, logger: logger}
}

// Baseline returns the first ref served by the in-memory slab region.
func (a *SlabAllocator) Baseline() ref.Ref { return a.baseline }

// State reports the current free-space bookkeeping state.
func (a *SlabAllocator) State() FreeSpaceState { return a.state }

func roundUp256(n int) int {
	return ((n + 255) / 256) * 256
}

// Alloc returns a fresh block of exactly size bytes, carved from an
// existing free chunk when one is large enough, otherwise from a newly
// grown slab (spec.md §4.2.2: each new slab is at least double the
// previous one, rounded up to 256 bytes).
func (a *SlabAllocator) Alloc(size int) (ref.Ref, []byte, error) {
	if size <= 0 || size%8 != 0 {
		return 0, nil, fmt.Errorf("alloc: size must be a positive multiple of 8, got %d", size)
	}
	if a.state == Invalid {
		return 0, nil, ErrInvalidFreeSpace
	}

	if c, ok := a.freeSpace.takeAtLeast(size); ok {
		if remainder := c.size - size; remainder > 0 {
			a.freeSpace.push(chunk{r: c.r + ref.Ref(size), size: remainder})
		}
		a.state = Dirty
		addr, err := a.Translate(c.r)
		if err != nil {
			return 0, nil, err
		}
		return c.r, addr[:size], nil
	}

	prevSize := 256
	if n := len(a.slabs); n > 0 {
		prevSize = a.slabs[n-1].size()
	}
	slabSize := roundUp256(size)
	if d := 2 * prevSize; d > slabSize {
		slabSize = d
	}

	base := a.baseline
	if n := len(a.slabs); n > 0 {
		base = a.slabs[n-1].end
	}
	data := make([]byte, slabSize)
	a.slabs = append(a.slabs, slabRecord{base: base, end: base + ref.Ref(slabSize), data: data})
	a.cache.bump()

	if remainder := slabSize - size; remainder > 0 {
		a.freeSpace.push(chunk{r: base + ref.Ref(size), size: remainder})
	}
	a.state = Dirty
	return base, data[:size], nil
}

// Realloc moves a block to a fresh allocation of newSize bytes. The
// slab allocator never resizes in place; every Realloc goes through
// Alloc + copy + Free, so
// a caller that also needs to widen element payload must do its own
// elementwise rewrite instead of calling Realloc (spec.md §4.4).
func (a *SlabAllocator) Realloc(r ref.Ref, addr []byte, oldSize, newSize int) (ref.Ref, []byte, error) {
	newRef, newData, err := a.Alloc(newSize)
	if err != nil {
		return 0, nil, err
	}
	n := oldSize
	if len(addr) < n {
		n = len(addr)
	}
	if n > newSize {
		n = newSize
	}
	copy(newData, addr[:n])
	if err := a.Free(r, addr); err != nil {
		return 0, nil, err
	}
	return newRef, newData, nil
}

// Free returns a previously allocated block to the appropriate free
// list, coalescing with adjacent chunks. Freeing a ref below baseline
// only updates bookkeeping: that space is reclaimed by a higher layer
// at commit, never reused by Alloc before then (spec.md §4.2.2).
func (a *SlabAllocator) Free(r ref.Ref, addr []byte) error {
	var err error
	if r < a.baseline {
		err = a.freeReadOnly.insertCoalesced(r, len(addr), a.isSlabBoundary)
	} else {
		err = a.freeSpace.insertCoalesced(r, len(addr), a.isSlabBoundary)
	}
	if err != nil {
		a.state = Invalid
		a.logger.Error("alloc: free-list record insertion failed", "ref", r.String(), "err", err)
		return fmt.Errorf("%w: %v", ErrInvalidFreeSpace, err)
	}
	if a.state != Invalid {
		a.state = Dirty
	}
	return nil
}

func (a *SlabAllocator) isSlabBoundary(r ref.Ref) bool {
	if r == a.baseline {
		return true
	}
	for _, s := range a.slabs {
		if r == s.base || r == s.end {
			return true
		}
	}
	return false
}

// Translate resolves r to its backing bytes, through the direct-mapped
// cache first.
func (a *SlabAllocator) Translate(r ref.Ref) ([]byte, error) {
	if addr, ok := a.cache.lookup(r); ok {
		return addr, nil
	}
	var addr []byte
	var err error
	if r < a.baseline {
		addr, err = a.file.Translate(r)
	} else {
		addr, err = a.translateSlab(r)
	}
	if err != nil {
		return nil, err
	}
	a.cache.store(r, addr)
	return addr, nil
}

func (a *SlabAllocator) translateSlab(r ref.Ref) ([]byte, error) {
	idx := sort.Search(len(a.slabs), func(i int) bool { return a.slabs[i].end > r })
	if idx == len(a.slabs) {
		return nil, fmt.Errorf("alloc: ref %s beyond all slabs", r)
	}
	s := a.slabs[idx]
	off := int(r - s.base)
	if off < 0 || off > len(s.data) {
		return nil, fmt.Errorf("alloc: ref %s outside slab bounds", r)
	}
	return s.data[off:], nil
}

// IsReadOnly reports whether r is backed by the mmap'd file region.
func (a *SlabAllocator) IsReadOnly(r ref.Ref) bool {
	return r < a.baseline
}

// ResetFreeSpaceTracking rebuilds free-space bookkeeping from scratch:
// every byte of every slab becomes free, every read-only free record is
// dropped, and the Invalid state (if any) clears. A higher layer calls
// this once it knows nothing still references data below the refs it
// previously freed (spec.md §4.2.2).
func (a *SlabAllocator) ResetFreeSpaceTracking() {
	a.freeSpace.reset()
	a.freeReadOnly.reset()
	for _, s := range a.slabs {
		a.freeSpace.push(chunk{r: s.base, size: s.size()})
	}
	a.state = Clean
	a.cache.bump()
}

// Remap shifts baseline and every tracked ref up by the growth in the
// underlying file, after the file layer has extended its mapping to
// newFileSize. It refuses to run against dirty or invalid bookkeeping,
// since shifting refs out from under live free-list entries would
// desynchronize them from the slabs they describe.
func (a *SlabAllocator) Remap(newFileSize int) error {
	if a.state != Clean {
		return fmt.Errorf("alloc: remap requires clean free-space tracking, got %s", a.state)
	}
	delta := ref.Ref(newFileSize) - a.baseline
	if delta == 0 {
		return nil
	}
	if delta < 0 {
		return fmt.Errorf("alloc: remap cannot shrink baseline (delta %d)", delta)
	}
	for i := range a.slabs {
		a.slabs[i].base += delta
		a.slabs[i].end += delta
	}
	shiftFreeList(&a.freeSpace, delta)
	shiftFreeList(&a.freeReadOnly, delta)
	a.baseline = ref.Ref(newFileSize)
	a.cache.bump()
	return nil
}

func shiftFreeList(f *freeList, delta ref.Ref) {
	for i := range f.chunks {
		f.chunks[i].r += delta
	}
}
