package vkforge

// slot is one entry of a slotTable: either free (on the free list) or
// holding exactly one live payload, per spec §4.1 invariant (a).
type slot[T any] struct {
	generation uint32
	occupied   bool
	payload    T
	// nextFree chains free slots together; meaningless while occupied.
	nextFree uint32
}

// slotTable is a contiguous, sparsely occupied sequence of slots for one
// resource kind, with an intrusive free list. Grounded on Daxa's
// GPUShaderResourceTable slot vectors (impl_device.cpp) and generalized
// with Go 1.18 generics so buffer/image/sampler/view tables share one
// implementation instead of four copy-pasted ones.
type slotTable[T any] struct {
	kind      kind
	slots     []slot[T]
	freeHead  uint32
	hasFree   bool
	liveCount int
}

const noFree = ^uint32(0)

func newSlotTable[T any](k kind) *slotTable[T] {
	return &slotTable[T]{kind: k, freeHead: noFree}
}

// newSlot allocates a slot: O(1), taking from the free list or growing the
// backing vector. Returns the fresh id and a pointer to the slot's payload
// for the caller to fill in.
func (t *slotTable[T]) newSlot() (id, *T) {
	t.liveCount++
	if t.hasFree {
		idx := t.freeHead
		s := &t.slots[idx]
		t.freeHead = s.nextFree
		t.hasFree = t.freeHead != noFree
		s.occupied = true
		return makeID(idx, s.generation), &s.payload
	}
	idx := uint32(len(t.slots))
	// fresh slots start at generation 1 so no live id ever equals the
	// empty (zero) id.
	t.slots = append(t.slots, slot[T]{occupied: true, generation: 1})
	return makeID(idx, 1), &t.slots[idx].payload
}

// returnSlot frees a slot: O(1); generation-bumps, clears the payload, and
// pushes it onto the free list. dereferencing the old id afterward detects
// the generation mismatch per spec §8.
func (t *slotTable[T]) returnSlot(i id) {
	s := &t.slots[i.slot()]
	var zero T
	s.payload = zero
	s.occupied = false
	s.generation++
	s.nextFree = t.freeHead
	t.freeHead = i.slot()
	t.hasFree = true
	t.liveCount--
}

// dereference returns the slot's payload iff i's generation matches the
// slot's current generation. ok is false for a stale or out-of-range id.
func (t *slotTable[T]) dereference(i id) (payload *T, ok bool) {
	idx := i.slot()
	if idx >= uint32(len(t.slots)) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.occupied || s.generation != i.generation() {
		return nil, false
	}
	return &s.payload, true
}

// isValid reports whether i currently refers to a live slot.
func (t *slotTable[T]) isValid(i id) bool {
	_, ok := t.dereference(i)
	return ok
}

func (t *slotTable[T]) capacity() int { return len(t.slots) }
func (t *slotTable[T]) liveCountN() int { return t.liveCount }
