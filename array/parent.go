package array

// ParentLink is the weak, non-owning back-edge from a child node to the
// parent slot that references it (spec.md §3.4, §4.4, §9). The parent
// outlives the child for the duration of any single operation; the
// child never owns the parent and never extends its lifetime.
type ParentLink struct {
	parent *Array
	slot   uint32
}

// NewParentLink builds a back-edge pointing at slot within parent.
func NewParentLink(parent *Array, slot uint32) *ParentLink {
	return &ParentLink{parent: parent, slot: slot}
}

// UpdateSlot writes newRef into the parent's slot, following the
// propagation contract in spec.md §4.4: if that write itself causes the
// parent to reallocate, the parent recurses into its own parent before
// returning.
func (p *ParentLink) UpdateSlot(newRef int64) error {
	if p == nil || p.parent == nil {
		return nil
	}
	return p.parent.Set(p.slot, newRef)
}
