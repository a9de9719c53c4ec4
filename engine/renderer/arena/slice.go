package arena

import (
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/math"
)

const (
	// ChunkSize is the allocation granularity in elements.
	ChunkSize = 32
	MaxTiers  = 4
)

/** @brief A range of elements inside one buffer set of a GlobalAllocator. */
type Allocation struct {
	/** @brief Index of the buffer set holding the range. */
	Set uint32
	/** @brief First element of the range. */
	Offset uint64
	/** @brief Number of elements, always a multiple of ChunkSize. */
	Count uint64

	heap *heap
	mask uint32
}

// Valid reports whether the allocation holds a range.
func (a Allocation) Valid() bool {
	return a.Count != 0
}

type heap struct {
	tier   int
	legion *Legion
	set    uint32
	base   uint64

	parent     *heap
	parentMask uint32
	dedicated  bool
}

// SliceAllocator sub-allocates buffer sets of a GlobalAllocator through tiers
// of legion heaps. Tier i splits a heap into 32 sub-blocks of 32*32^i
// elements. It is not safe for concurrent use.
type SliceAllocator struct {
	global   *GlobalAllocator
	subBlock []uint64
	heaps    [][]*heap
}

func NewSliceAllocator(global *GlobalAllocator, tiers uint32) *SliceAllocator {
	tiers = math.Clamp(tiers, 1, MaxTiers)
	s := &SliceAllocator{
		global:   global,
		subBlock: make([]uint64, tiers),
		heaps:    make([][]*heap, tiers),
	}
	size := uint64(ChunkSize)
	for i := range s.subBlock {
		s.subBlock[i] = size
		size *= NumSubBlocks
	}
	return s
}

func (s *SliceAllocator) Global() *GlobalAllocator {
	return s.global
}

func (s *SliceAllocator) topTier() int {
	return len(s.subBlock) - 1
}

// HeapSize is the number of elements a heap of the given tier covers.
func (s *SliceAllocator) HeapSize(tier int) uint64 {
	return s.subBlock[tier] * NumSubBlocks
}

// Prime reserves a top tier heap worth of elements, or count if larger.
func (s *SliceAllocator) Prime(count uint64) error {
	if count == 0 {
		return nil
	}
	count = math.Max(math.AlignUp(count, uint64(ChunkSize)), s.HeapSize(s.topTier()))
	return s.global.Prime(count, s.global.config.Usage)
}

func (s *SliceAllocator) Allocate(count uint64) (Allocation, bool) {
	if count == 0 {
		return Allocation{}, false
	}
	count = math.AlignUp(count, uint64(ChunkSize))

	tier := -1
	for t := range s.subBlock {
		if count <= s.HeapSize(t) {
			tier = t
			break
		}
	}

	if tier < 0 {
		set, ok := s.global.Allocate(count)
		if !ok {
			return Allocation{}, false
		}
		return Allocation{
			Set:   set,
			Count: count,
			heap:  &heap{set: set, dedicated: true},
		}, true
	}

	blocks := uint32(math.DivRoundUp(count, s.subBlock[tier]))
	h, mask, offset, ok := s.allocateBlocks(tier, blocks)
	if !ok {
		return Allocation{}, false
	}
	return Allocation{
		Set:    h.set,
		Offset: h.base + uint64(offset)*s.subBlock[tier],
		Count:  count,
		heap:   h,
		mask:   mask,
	}, true
}

func (s *SliceAllocator) allocateBlocks(tier int, blocks uint32) (*heap, uint32, uint32, bool) {
	for _, h := range s.heaps[tier] {
		if h.legion.LongestRun() >= blocks {
			mask, offset, _ := h.legion.Allocate(blocks)
			return h, mask, offset, true
		}
	}

	h, ok := s.newHeap(tier)
	if !ok {
		return nil, 0, 0, false
	}
	mask, offset, _ := h.legion.Allocate(blocks)
	return h, mask, offset, true
}

func (s *SliceAllocator) newHeap(tier int) (*heap, bool) {
	h := &heap{
		tier:   tier,
		legion: NewLegion(),
	}

	if tier == s.topTier() {
		set, ok := s.global.Allocate(s.HeapSize(tier))
		if !ok {
			return nil, false
		}
		h.set = set
	} else {
		parent, mask, offset, ok := s.allocateBlocks(tier+1, 1)
		if !ok {
			return nil, false
		}
		h.parent = parent
		h.parentMask = mask
		h.set = parent.set
		h.base = parent.base + uint64(offset)*s.subBlock[tier+1]
	}

	s.heaps[tier] = append(s.heaps[tier], h)
	return h, true
}

func (s *SliceAllocator) Free(a Allocation) {
	if a.heap == nil {
		core.LogError("slice allocator free of an empty allocation")
		return
	}
	if a.heap.dedicated {
		s.global.Free(a.Set)
		return
	}
	s.freeBlocks(a.heap, a.mask)
}

func (s *SliceAllocator) freeBlocks(h *heap, mask uint32) {
	h.legion.Free(mask)
	if !h.legion.Empty() {
		return
	}

	heaps := s.heaps[h.tier]
	for i, other := range heaps {
		if other == h {
			s.heaps[h.tier] = append(heaps[:i], heaps[i+1:]...)
			break
		}
	}

	if h.parent == nil {
		s.global.Free(h.set)
		return
	}
	s.freeBlocks(h.parent, h.parentMask)
}

// HeapCount returns the number of live heaps in a tier.
func (s *SliceAllocator) HeapCount(tier int) int {
	if tier < 0 || tier >= len(s.heaps) {
		return 0
	}
	return len(s.heaps[tier])
}
