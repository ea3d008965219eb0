package array

import "encoding/binary"

// NotFound is returned by Find when v does not occur in the scanned
// range.
const NotFound = -1

// broadcastPattern replicates the low `width` bits of v into every
// width-sized slot of a 64-bit word. Every legal width in this engine
// (1, 2, 4, 8, 16, 32, 64) divides 64, so the classic
// (maxuint64/unit_mask) multiplier is always exact.
func broadcastPattern(width uint, v uint64) uint64 {
	if width >= 64 {
		return v
	}
	unitMask := uint64(1)<<width - 1
	multiplier := ^uint64(0) / unitMask
	return multiplier * (v & unitMask)
}

// hasZeroSlot implements the broadcast-and-xor / has-zero-byte trick
// from spec.md §4.1.1: given x with one width-sized slot per element,
// returns a non-zero word iff some slot is entirely zero.
func hasZeroSlot(x uint64, width uint) uint64 {
	low := broadcastPattern(width, 1)
	high := broadcastPattern(width, uint64(1)<<(width-1))
	return (x - low) &^ x & high
}

func chunkMatches(chunk uint64, v int64, width uint) bool {
	pattern := broadcastPattern(width, uint64(v))
	return hasZeroSlot(chunk^pattern, width) != 0
}

// Find performs an equality scan over [start, end). Per spec.md §4.1, if
// v cannot be represented at the node's current width the answer is
// NotFound without scanning.
func (a *Array) Find(v int64, start, end uint32) (int64, error) {
	if err := a.checkBound(end); err != nil {
		return NotFound, err
	}
	if start > end {
		return NotFound, nil
	}

	bits := a.hdr.WidthBits()
	if bits == 0 {
		if v == 0 && start < end {
			return int64(start), nil
		}
		return NotFound, nil
	}
	if bits < 64 && !a.ops.fits(v) {
		return NotFound, nil
	}

	if bits == 64 {
		for i := start; i < end; i++ {
			if a.ops.get(a.payload(), i) == v {
				return int64(i), nil
			}
		}
		return NotFound, nil
	}

	perChunk := uint32(64 / bits)
	i := start
	for i < end {
		// Fall back to element-wise comparison for a short tail that
		// does not fill a whole 64-bit chunk.
		if i+perChunk > end || i%perChunk != 0 {
			if a.ops.get(a.payload(), i) == v {
				return int64(i), nil
			}
			i++
			continue
		}
		chunk := a.readChunk(i, bits)
		if chunkMatches(chunk, v, uint(bits)) {
			for j := i; j < i+perChunk; j++ {
				if a.ops.get(a.payload(), j) == v {
					return int64(j), nil
				}
			}
		}
		i += perChunk
	}
	return NotFound, nil
}

// FindAll appends the offset-adjusted index of every match in [start,
// end) to out.
func (a *Array) FindAll(out *Array, v int64, offset int64, start, end uint32) error {
	if err := a.checkBound(end); err != nil {
		return err
	}
	bits := a.hdr.WidthBits()
	if bits == 0 {
		if v != 0 {
			return nil
		}
		for i := start; i < end; i++ {
			if err := out.Add(int64(i) + offset); err != nil {
				return err
			}
		}
		return nil
	}
	if bits < 64 && !a.ops.fits(v) {
		return nil
	}
	for i := start; i < end; i++ {
		if a.ops.get(a.payload(), i) == v {
			if err := out.Add(int64(i) + offset); err != nil {
				return err
			}
		}
	}
	return nil
}

// readChunk reads 64 bits starting at element index i, for a width that
// evenly divides 64. i must be chunk-aligned.
func (a *Array) readChunk(i uint32, bits int) uint64 {
	payload := a.payload()
	switch bits {
	case 1, 2, 4:
		byteIdx := i / uint32(8/bits)
		return uint64(payload[byteIdx]) |
			uint64(payload[byteIdx+1])<<8 |
			uint64(payload[byteIdx+2])<<16 |
			uint64(payload[byteIdx+3])<<24 |
			uint64(payload[byteIdx+4])<<32 |
			uint64(payload[byteIdx+5])<<40 |
			uint64(payload[byteIdx+6])<<48 |
			uint64(payload[byteIdx+7])<<56
	case 8:
		return binary.LittleEndian.Uint64(payload[i:])
	case 16:
		byteIdx := i * 2
		return binary.LittleEndian.Uint64(payload[byteIdx:])
	case 32:
		byteIdx := i * 4
		return binary.LittleEndian.Uint64(payload[byteIdx:])
	default:
		panic("array: readChunk called with non-chunkable width")
	}
}

// Sum returns the sum of elements in [start, end) as a 64-bit integer.
func (a *Array) Sum(start, end uint32) (int64, error) {
	if err := a.checkBound(end); err != nil {
		return 0, err
	}
	if a.hdr.WidthBits() == 0 {
		return 0, nil
	}
	var total int64
	for i := start; i < end; i++ {
		total += a.ops.get(a.payload(), i)
	}
	return total, nil
}

// Min writes the minimum element of [start, end) to *out and reports
// whether the range was non-empty.
func (a *Array) Min(out *int64, start, end uint32) (bool, error) {
	return a.extreme(out, start, end, func(cur, best int64) bool { return cur < best })
}

// Max writes the maximum element of [start, end) to *out and reports
// whether the range was non-empty.
func (a *Array) Max(out *int64, start, end uint32) (bool, error) {
	return a.extreme(out, start, end, func(cur, best int64) bool { return cur > best })
}

func (a *Array) extreme(out *int64, start, end uint32, better func(cur, best int64) bool) (bool, error) {
	if err := a.checkBound(end); err != nil {
		return false, err
	}
	if start >= end {
		return false, nil
	}
	best := a.ops.get(a.payload(), start)
	for i := start + 1; i < end; i++ {
		v := a.ops.get(a.payload(), i)
		if better(v, best) {
			best = v
		}
	}
	*out = best
	return true, nil
}

// FindPos returns the index of the largest element strictly less than
// target, used when descending B+-tree inner nodes. Ties resolve to the
// lower index.
func (a *Array) FindPos(target int64) int64 {
	n := a.hdr.Length
	lo, hi := uint32(0), n
	for lo < hi {
		mid := lo + (hi-lo)/2
		if a.ops.get(a.payload(), mid) < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return NotFound
	}
	best := a.ops.get(a.payload(), lo-1)
	first, last := uint32(0), lo-1
	for first < last {
		mid := first + (last-first)/2
		if a.ops.get(a.payload(), mid) < best {
			first = mid + 1
		} else {
			last = mid
		}
	}
	return int64(first)
}

// FindPosUpper returns the index of the smallest element greater than or
// equal to target, used for sorted-index lookups.
func (a *Array) FindPosUpper(target int64) int64 {
	n := a.hdr.Length
	lo, hi := uint32(0), n
	for lo < hi {
		mid := lo + (hi-lo)/2
		if a.ops.get(a.payload(), mid) < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == n {
		return NotFound
	}
	return int64(lo)
}

// Sort performs an in-place quicksort over all elements.
func (a *Array) Sort() {
	n := int64(a.hdr.Length)
	if n < 2 {
		return
	}
	a.quicksort(0, n-1)
}

func (a *Array) quicksort(lo, hi int64) {
	for lo < hi {
		if hi-lo < 12 {
			a.insertionSort(lo, hi)
			return
		}
		p := a.partition(lo, hi)
		if p-lo < hi-p {
			a.quicksort(lo, p-1)
			lo = p + 1
		} else {
			a.quicksort(p+1, hi)
			hi = p - 1
		}
	}
}

func (a *Array) insertionSort(lo, hi int64) {
	for i := lo + 1; i <= hi; i++ {
		v := a.Get(uint32(i))
		j := i - 1
		for j >= lo && a.Get(uint32(j)) > v {
			a.swap(uint32(j), uint32(j+1))
			j--
		}
	}
}

func (a *Array) partition(lo, hi int64) int64 {
	mid := lo + (hi-lo)/2
	a.swap(uint32(mid), uint32(hi))
	pivot := a.Get(uint32(hi))
	i := lo
	for j := lo; j < hi; j++ {
		if a.Get(uint32(j)) < pivot {
			a.swap(uint32(i), uint32(j))
			i++
		}
	}
	a.swap(uint32(i), uint32(hi))
	return i
}

func (a *Array) swap(i, j uint32) {
	if i == j {
		return
	}
	vi := a.Get(i)
	vj := a.Get(j)
	a.ops.set(a.payload(), i, vj)
	a.ops.set(a.payload(), j, vi)
}
