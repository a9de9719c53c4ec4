package arena

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

const (
	// MaxArenaSets is the number of buffer sets a GlobalAllocator can hold at
	// once, one per sub-block of a top tier legion heap.
	MaxArenaSets = NumSubBlocks
	// MaxSoASlots is the number of parallel buffers in one set.
	MaxSoASlots = 3
)

var (
	ErrNoSoASlots      = errors.New("arena needs between 1 and 3 element sizes")
	ErrZeroElementSize = errors.New("arena element size must be > 0")
)

type GlobalAllocatorConfig struct {
	/** @brief Debug name prefix for the created buffers. */
	Name string
	/** @brief Bytes per element for every SoA slot of the arena. */
	ElementSizes []uint64
	Usage        gpu.BufferUsage
}

type bufferSet struct {
	buffers []gpu.Buffer
	count   uint64
}

func (s *bufferSet) release() {
	for _, b := range s.buffers {
		if b != nil {
			b.Release()
		}
	}
	s.buffers = nil
}

// GlobalAllocator owns whole buffer sets. Every set has one buffer per SoA
// slot and all of them hold the same number of elements. It is not safe for
// concurrent use; callers serialize access.
type GlobalAllocator struct {
	device gpu.Device
	config GlobalAllocatorConfig

	sets         [MaxArenaSets]*bufferSet
	spare        *bufferSet
	preallocated *bufferSet
}

func NewGlobalAllocator(device gpu.Device, config *GlobalAllocatorConfig) (*GlobalAllocator, error) {
	if len(config.ElementSizes) == 0 || len(config.ElementSizes) > MaxSoASlots {
		return nil, ErrNoSoASlots
	}
	for _, size := range config.ElementSizes {
		if size == 0 {
			return nil, ErrZeroElementSize
		}
	}
	cfg := *config
	cfg.ElementSizes = append([]uint64(nil), config.ElementSizes...)
	return &GlobalAllocator{
		device: device,
		config: cfg,
	}, nil
}

func (g *GlobalAllocator) SoACount() int {
	return len(g.config.ElementSizes)
}

func (g *GlobalAllocator) ElementSize(slot int) uint64 {
	return g.config.ElementSizes[slot]
}

func (g *GlobalAllocator) createSet(count uint64, usage gpu.BufferUsage) (*bufferSet, error) {
	set := &bufferSet{count: count}
	for slot, size := range g.config.ElementSizes {
		buf, err := g.device.CreateBuffer(gpu.BufferCreateInfo{
			Domain: gpu.BufferDomainDevice,
			Size:   count * size,
			Usage:  usage,
			Misc:   gpu.BufferMiscZeroInitialize,
		}, nil)
		if err != nil {
			set.release()
			return nil, fmt.Errorf("failed to create %s buffer for slot %d: %w", g.config.Name, slot, err)
		}
		g.device.SetName(buf, fmt.Sprintf("%s-soa-%d", g.config.Name, slot))
		set.buffers = append(set.buffers, buf)
	}
	return set, nil
}

// Allocate hands out a set of at least count elements and returns its index.
// Primed and spare sets are reused before any new buffer is created.
func (g *GlobalAllocator) Allocate(count uint64) (uint32, bool) {
	if count == 0 {
		return 0, false
	}

	index := -1
	for i, s := range g.sets {
		if s == nil {
			index = i
			break
		}
	}
	if index < 0 {
		core.LogWarn("arena '%s' has no free set for %d elements", g.config.Name, count)
		return 0, false
	}

	var set *bufferSet
	switch {
	case g.preallocated != nil && g.preallocated.count >= count:
		set, g.preallocated = g.preallocated, nil
	case g.spare != nil && g.spare.count >= count:
		set, g.spare = g.spare, nil
	default:
		created, err := g.createSet(count, g.config.Usage)
		if err != nil {
			core.LogError("%s", err)
			return 0, false
		}
		set = created
	}

	g.sets[index] = set
	return uint32(index), true
}

// Free moves the set into the one-deep spare cache. A previous spare is
// dropped.
func (g *GlobalAllocator) Free(index uint32) {
	if index >= MaxArenaSets || g.sets[index] == nil {
		core.LogError("arena '%s' free of unallocated set %d", g.config.Name, index)
		return
	}
	if g.spare != nil {
		g.spare.release()
	}
	g.spare = g.sets[index]
	g.sets[index] = nil
}

// Prime creates a set of at least count elements ahead of time. It serves as
// the buffer of set 0 until the first allocation claims it.
func (g *GlobalAllocator) Prime(count uint64, usage gpu.BufferUsage) error {
	if count == 0 {
		return nil
	}
	if g.preallocated != nil && g.preallocated.count >= count {
		return nil
	}
	set, err := g.createSet(count, usage)
	if err != nil {
		return err
	}
	if g.preallocated != nil {
		g.preallocated.release()
	}
	g.preallocated = set
	return nil
}

func (g *GlobalAllocator) Buffer(index uint32, slot int) gpu.Buffer {
	if index >= MaxArenaSets || slot < 0 || slot >= len(g.config.ElementSizes) {
		return nil
	}
	set := g.sets[index]
	if set == nil && index == 0 {
		set = g.preallocated
	}
	if set == nil {
		return nil
	}
	return set.buffers[slot]
}

func (g *GlobalAllocator) ElementCount(index uint32) uint64 {
	if index >= MaxArenaSets || g.sets[index] == nil {
		return 0
	}
	return g.sets[index].count
}

// Close releases every buffer the allocator owns, including the spare.
func (g *GlobalAllocator) Close() {
	for i, s := range g.sets {
		if s != nil {
			s.release()
			g.sets[i] = nil
		}
	}
	if g.spare != nil {
		g.spare.release()
		g.spare = nil
	}
	if g.preallocated != nil {
		g.preallocated.release()
		g.preallocated = nil
	}
}
