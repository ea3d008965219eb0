package alloc

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/gravitytrope/realm-core/ref"
)

// translateCache is the direct-mapped 256-slot ref-to-address cache
// from spec.md §4.2.3. Every structural change that can move a ref
// (growing a slab list, remapping the file) bumps the version counter,
// which invalidates every slot in O(1) without clearing them.
type translateCache struct {
	slots   [256]cacheSlot
	version uint64
}

type cacheSlot struct {
	ref     ref.Ref
	version uint64
	addr    []byte
	valid   bool
}

func (c *translateCache) lookup(r ref.Ref) ([]byte, bool) {
	s := &c.slots[cacheIndex(r)]
	if s.valid && s.ref == r && s.version == c.version {
		return s.addr, true
	}
	return nil, false
}

func (c *translateCache) store(r ref.Ref, addr []byte) {
	c.slots[cacheIndex(r)] = cacheSlot{ref: r, version: c.version, addr: addr, valid: true}
}

func (c *translateCache) bump() {
	c.version++
}

func cacheIndex(r ref.Ref) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(r))
	return int(xxhash.Sum64(b[:]) & 0xFF)
}
