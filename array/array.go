// Package array implements the packed bit-width integer vector that
// every persistent structure in the engine is built from: a
// self-describing node with an 8-byte header (see header.go), adaptive
// element width (see width.go), and the copy-on-write / parent-
// propagation contract described in spec.md §4.1 and §4.4.
package array

import (
	"fmt"
	"log/slog"

	"github.com/gravitytrope/realm-core/ref"
)

// Allocator is the narrow contract this package needs from the slab
// allocator (spec.md §6). It is declared here, not in the alloc
// package, so array never imports alloc — alloc depends on array's
// Allocator interface being satisfiable, not the other way round.
type Allocator interface {
	Alloc(size int) (ref.Ref, []byte, error)
	Realloc(r ref.Ref, addr []byte, oldSize, newSize int) (ref.Ref, []byte, error)
	Free(r ref.Ref, addr []byte) error
	Translate(r ref.Ref) ([]byte, error)
	IsReadOnly(r ref.Ref) bool
}

// Kind selects the header flags for a freshly created node.
type Kind uint8

const (
	// Normal holds plain signed integers.
	Normal Kind = iota
	// HasRefsKind holds elements that may be tagged refs (ref.Slot).
	HasRefsKind
	// InnerNodeKind holds refs to child nodes of a B+-tree.
	InnerNodeKind
)

// Array is a bound packed integer vector. The zero value is not usable;
// construct one with Create or CreateEmpty.
type Array struct {
	alloc  Allocator
	ref    ref.Ref
	data   []byte
	hdr    Header
	ops    widthOps
	parent *ParentLink
	logger *slog.Logger

	destroyed bool
}

func logOrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// CreateEmpty allocates a brand new, width-0, zero-length node.
func CreateEmpty(alloc Allocator, kind Kind, logger *slog.Logger) (*Array, error) {
	hdr := Header{}
	switch kind {
	case Normal:
	case HasRefsKind:
		hdr.HasRefs = true
	case InnerNodeKind:
		hdr.HasRefs = true
		hdr.IsInner = true
	default:
		return nil, fmt.Errorf("array: unknown kind %d", kind)
	}

	r, data, err := alloc.Alloc(HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("array: create_empty: %w", err)
	}
	hdr.Capacity = uint32(len(data))
	if err := encodeHeader(data, hdr); err != nil {
		return nil, err
	}

	a := &Array{
		alloc:  alloc,
		ref:    r,
		data:   data,
		hdr:    hdr,
		ops:    opsFor(0),
		logger: logOrDefault(logger),
	}
	a.logger.Debug("array: created empty node", "ref", r, "kind", kind)
	return a, nil
}

// Create binds to an existing node at r. parent may be nil for a root
// node.
func Create(alloc Allocator, r ref.Ref, parent *ParentLink, logger *slog.Logger) (*Array, error) {
	data, err := alloc.Translate(r)
	if err != nil {
		return nil, fmt.Errorf("array: create %s: %w", r, err)
	}
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("array: create %s: malformed header: %w", r, err)
	}
	if uint32(len(data)) < hdr.Capacity {
		return nil, fmt.Errorf("array: create %s: translated region (%d bytes) shorter than declared capacity (%d)", r, len(data), hdr.Capacity)
	}
	return &Array{
		alloc:  alloc,
		ref:    r,
		data:   data[:hdr.Capacity],
		hdr:    hdr,
		ops:    opsFor(hdr.WidthLog),
		parent: parent,
		logger: logOrDefault(logger),
	}, nil
}

// Ref returns the node's current ref. It changes across any mutation
// that causes a reallocation (widen, grow, or copy-on-write).
func (a *Array) Ref() ref.Ref { return a.ref }

// Len returns the element count.
func (a *Array) Len() uint32 { return a.hdr.Length }

// WidthBits returns the current element width in bits.
func (a *Array) WidthBits() int { return a.hdr.WidthBits() }

// IsInner reports the node's is_inner header flag.
func (a *Array) IsInner() bool { return a.hdr.IsInner }

// HasRefs reports the node's has_refs header flag.
func (a *Array) HasRefs() bool { return a.hdr.HasRefs }

// SetParent rebinds the node's parent back-edge, used when a node is
// attached under a new parent slot without itself being recreated.
func (a *Array) SetParent(p *ParentLink) { a.parent = p }

func (a *Array) payload() []byte {
	return a.data[HeaderSize:a.hdr.Capacity]
}

func (a *Array) checkBound(end uint32) error {
	if end > a.hdr.Length {
		return fmt.Errorf("array: range end %d exceeds length %d", end, a.hdr.Length)
	}
	return nil
}

func (a *Array) checkAlive() error {
	if a.destroyed {
		return fmt.Errorf("array: operation on destroyed node %s", a.ref)
	}
	return nil
}

// Get returns the i-th element. i must be < Len().
func (a *Array) Get(i uint32) int64 {
	if i >= a.hdr.Length {
		panic(fmt.Sprintf("array: index %d out of range (length %d)", i, a.hdr.Length))
	}
	return a.ops.get(a.payload(), i)
}

// GetSlot interprets the i-th element of a has_refs node as a tagged
// Slot.
func (a *Array) GetSlot(i uint32) ref.Slot {
	return ref.SlotFromRaw(a.Get(i))
}

// ensureMutable implements the copy-on-write trigger from spec.md §4.4:
// a read-only-backed node must acquire a fresh, exclusive block before
// any mutation proceeds.
func (a *Array) ensureMutable() error {
	if !a.alloc.IsReadOnly(a.ref) {
		return nil
	}
	doubled := a.hdr.Capacity * 2
	if doubled < a.hdr.Capacity+8 {
		doubled = a.hdr.Capacity + 8
	}
	a.logger.Debug("array: copy-on-write", "ref", a.ref, "new_capacity", doubled)
	return a.reallocate(a.hdr.WidthLog, doubled, true)
}

// reallocate grows/widens the node to newWidthLog at (at least) newCap
// bytes, rewriting existing elements, swapping in the new ref/data, and
// propagating the new ref to the parent slot.
func (a *Array) reallocate(newWidthLog uint8, newCap uint32, notifyParent bool) error {
	ops := opsFor(newWidthLog)
	minCap := uint32(HeaderSize + byteLenForBits(ops.bits(), a.hdr.Length))
	if newCap < minCap {
		newCap = minCap
	}
	// The allocator serves sizes in multiples of 8.
	newCap = (newCap + 7) &^ 7
	sameWidth := newWidthLog == a.hdr.WidthLog

	var (
		newRef  ref.Ref
		newData []byte
		err     error
	)
	if sameWidth {
		newRef, newData, err = a.alloc.Realloc(a.ref, a.data, int(a.hdr.Capacity), int(newCap))
	} else {
		newRef, newData, err = a.alloc.Alloc(int(newCap))
	}
	if err != nil {
		return fmt.Errorf("array: reallocate: %w", err)
	}

	newHdr := a.hdr
	newHdr.WidthLog = newWidthLog
	newHdr.Capacity = uint32(len(newData))
	if err := encodeHeader(newData, newHdr); err != nil {
		return err
	}

	if !sameWidth {
		oldOps, oldPayload := a.ops, a.payload()
		newPayload := newData[HeaderSize:newHdr.Capacity]
		for i := uint32(0); i < a.hdr.Length; i++ {
			ops.set(newPayload, i, oldOps.get(oldPayload, i))
		}
		if err := a.alloc.Free(a.ref, a.data); err != nil {
			return fmt.Errorf("array: reallocate: freeing old widened block: %w", err)
		}
	}

	oldRef := a.ref
	a.ref = newRef
	a.data = newData
	a.hdr = newHdr
	a.ops = ops

	if notifyParent {
		if err := a.parent.UpdateSlot(int64(newRef)); err != nil {
			return fmt.Errorf("array: propagating new ref %s (was %s) to parent: %w", newRef, oldRef, err)
		}
	}
	return nil
}

// Set replaces the i-th element, widening the node first if v does not
// fit the current width. i must be < Len().
func (a *Array) Set(i uint32, v int64) error {
	if err := a.checkAlive(); err != nil {
		return err
	}
	if i >= a.hdr.Length {
		return fmt.Errorf("array: set index %d out of range (length %d)", i, a.hdr.Length)
	}
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if newWidthLog := requiredWidthLog(v); newWidthLog > a.hdr.WidthLog {
		if err := a.reallocate(newWidthLog, 0, true); err != nil {
			return err
		}
	}
	a.ops.set(a.payload(), i, v)
	return nil
}

func (a *Array) shiftRight(i uint32) {
	bits := a.ops.bits()
	length := a.hdr.Length
	payload := a.payload()
	if bits != 0 && bits%8 == 0 {
		wb := uint32(bits / 8)
		copy(payload[wb*(i+1):wb*(length+1)], payload[wb*i:wb*length])
	} else {
		for j := length; j > i; j-- {
			a.ops.set(payload, j, a.ops.get(payload, j-1))
		}
	}
}

func (a *Array) shiftLeft(i uint32) {
	bits := a.ops.bits()
	length := a.hdr.Length
	payload := a.payload()
	if bits != 0 && bits%8 == 0 {
		wb := uint32(bits / 8)
		copy(payload[wb*i:wb*(length-1)], payload[wb*(i+1):wb*length])
	} else {
		for j := i; j < length-1; j++ {
			a.ops.set(payload, j, a.ops.get(payload, j+1))
		}
	}
}

// Insert places v at position i, shifting [i, Len()) right by one. i
// must be <= Len().
func (a *Array) Insert(i uint32, v int64) error {
	if err := a.checkAlive(); err != nil {
		return err
	}
	if i > a.hdr.Length {
		return fmt.Errorf("array: insert index %d out of range (length %d)", i, a.hdr.Length)
	}
	if err := a.ensureMutable(); err != nil {
		return err
	}

	widthLogNeeded := a.hdr.WidthLog
	if nl := requiredWidthLog(v); nl > widthLogNeeded {
		widthLogNeeded = nl
	}
	newLength := a.hdr.Length + 1
	opsNeeded := opsFor(widthLogNeeded)
	neededCap := uint32(HeaderSize + byteLenForBits(opsNeeded.bits(), newLength))

	if widthLogNeeded != a.hdr.WidthLog || neededCap > a.hdr.Capacity {
		growCap := a.hdr.Capacity * 2
		if growCap < neededCap {
			growCap = neededCap
		}
		if err := a.reallocate(widthLogNeeded, growCap, true); err != nil {
			return err
		}
	}

	a.shiftRight(i)
	a.ops.set(a.payload(), i, v)
	a.hdr.Length = newLength
	return encodeHeader(a.data, a.hdr)
}

// Add appends v.
func (a *Array) Add(v int64) error {
	return a.Insert(a.hdr.Length, v)
}

// Delete removes the element at i, shifting the tail left. Width is
// never narrowed.
func (a *Array) Delete(i uint32) error {
	if err := a.checkAlive(); err != nil {
		return err
	}
	if i >= a.hdr.Length {
		return fmt.Errorf("array: delete index %d out of range (length %d)", i, a.hdr.Length)
	}
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.shiftLeft(i)
	a.hdr.Length--
	return encodeHeader(a.data, a.hdr)
}

// Resize truncates the node to n elements. n must be <= Len(); capacity
// is unaffected.
func (a *Array) Resize(n uint32) error {
	if err := a.checkAlive(); err != nil {
		return err
	}
	if n > a.hdr.Length {
		return fmt.Errorf("array: resize to %d exceeds current length %d", n, a.hdr.Length)
	}
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.hdr.Length = n
	return encodeHeader(a.data, a.hdr)
}

// Destroy recursively frees every child reachable through a has_refs
// node's tagged elements, then frees the node's own storage. The node
// is invalid after Destroy returns successfully.
func (a *Array) Destroy() error {
	if err := a.checkAlive(); err != nil {
		return err
	}
	if a.hdr.HasRefs {
		payload := a.payload()
		for i := uint32(0); i < a.hdr.Length; i++ {
			slot := ref.SlotFromRaw(a.ops.get(payload, i))
			if !slot.IsRef() {
				continue
			}
			child, err := Create(a.alloc, slot.Ref(), nil, a.logger)
			if err != nil {
				return fmt.Errorf("array: destroy: resolving child %s: %w", slot.Ref(), err)
			}
			if err := child.Destroy(); err != nil {
				return fmt.Errorf("array: destroy: child %s: %w", slot.Ref(), err)
			}
		}
	}
	if err := a.alloc.Free(a.ref, a.data); err != nil {
		return fmt.Errorf("array: destroy: freeing %s: %w", a.ref, err)
	}
	a.destroyed = true
	return nil
}

// CalcByteLen, CalcItemCount and WidthType are the three hook points
// spec.md §9 calls out for ArrayBinary/ArrayBlob/ArrayString to
// override by embedding Array, rather than inheriting from it.
func (a *Array) CalcByteLen(n uint32) int      { return HeaderSize + byteLenForBits(a.hdr.WidthBits(), n) }
func (a *Array) CalcItemCount(byteLen int) uint32 {
	bits := a.hdr.WidthBits()
	if bits == 0 {
		return 0
	}
	return uint32((byteLen - HeaderSize) * 8 / bits)
}
func (a *Array) WidthType() WType { return a.hdr.WType }
