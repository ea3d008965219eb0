package alloc

import "math/bits"

// SectionIndex maps a byte offset into the file to the index of the
// section that contains it, per the exponential 16/8/8/8... staircase
// in spec.md §4.2.1: the first 16 sections are one page, the next 8 are
// two pages, the next 8 are four pages, and so on.
func SectionIndex(pos uint64, pageSize int) int {
	lg := bits.Len(uint(pageSize)) - 1
	b := pos >> uint(lg)
	g := b / 16
	if g == 0 {
		return int(b)
	}
	log := bits.Len64(g) - 1
	inGroup := (b >> uint(1+log)) & 7
	return 16 + log*8 + int(inGroup)
}

// SectionSize returns the byte size of the section at index.
func SectionSize(index, pageSize int) int {
	if index < 16 {
		return pageSize
	}
	log := (index - 16) / 8
	return pageSize * (1 << uint(log+1))
}

// SectionBase returns the byte offset at which the section at index
// begins.
func SectionBase(index, pageSize int) int {
	if index < 16 {
		return index * pageSize
	}
	base := 16 * pageSize
	idx := index - 16
	log := idx / 8
	inGroup := idx % 8
	for g := 0; g < log; g++ {
		base += 8 * pageSize * (1 << uint(g+1))
	}
	base += inGroup * pageSize * (1 << uint(log+1))
	return base
}
