package arena

import (
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

// Range selects one of the three allocations a mesh owns.
type Range int

const (
	RangeIndexOrPayload Range = iota
	RangeAttributeOrStream
	RangeIndirectOrHeader
	RangeCount
)

func (r Range) String() string {
	switch r {
	case RangeIndexOrPayload:
		return "index"
	case RangeAttributeOrStream:
		return "attribute"
	case RangeIndirectOrHeader:
		return "indirect"
	default:
		return "unknown"
	}
}

// Stream names one SoA slot of a mesh arena.
type Stream int

const (
	StreamIndex Stream = iota
	StreamPayload
	StreamPosition
	StreamVarying
	StreamSkin
	StreamDescriptors
	StreamIndirect
	StreamHeader
	StreamBounds
)

func (s Stream) String() string {
	switch s {
	case StreamIndex:
		return "index"
	case StreamPayload:
		return "payload"
	case StreamPosition:
		return "position"
	case StreamVarying:
		return "varying"
	case StreamSkin:
		return "skin"
	case StreamDescriptors:
		return "stream-descriptors"
	case StreamIndirect:
		return "indirect"
	case StreamHeader:
		return "header"
	case StreamBounds:
		return "bounds"
	default:
		return "unknown"
	}
}

type SlotLayout struct {
	Stream Stream
	/** @brief Bytes per allocation unit (one meshlet). */
	ElementSize uint64
}

type RangeLayout struct {
	Slots []SlotLayout
	Usage gpu.BufferUsage
}

type MeshBuffersConfig struct {
	Name   string
	Ranges [RangeCount]RangeLayout
	/** @brief Slice allocator tiers per range. */
	Tiers uint32
	/** @brief Chunk groups reserved in every range at creation. */
	PrimeChunks uint32
}

type streamLocation struct {
	rng  Range
	slot int
}

// MeshBuffers is the set of arenas meshes are sub-allocated from. The element
// of every range is one meshlet; a range's SoA slots share its offsets.
type MeshBuffers struct {
	name       string
	allocators [RangeCount]*SliceAllocator
	streams    map[Stream]streamLocation
}

func NewMeshBuffers(device gpu.Device, config *MeshBuffersConfig) (*MeshBuffers, error) {
	mb := &MeshBuffers{
		name:    config.Name,
		streams: make(map[Stream]streamLocation),
	}

	for r := Range(0); r < RangeCount; r++ {
		layout := config.Ranges[r]
		sizes := make([]uint64, 0, len(layout.Slots))
		for slot, s := range layout.Slots {
			if _, dup := mb.streams[s.Stream]; dup {
				mb.Close()
				return nil, fmt.Errorf("stream %s mapped twice in %s", s.Stream, config.Name)
			}
			mb.streams[s.Stream] = streamLocation{rng: r, slot: slot}
			sizes = append(sizes, s.ElementSize)
		}

		global, err := NewGlobalAllocator(device, &GlobalAllocatorConfig{
			Name:         fmt.Sprintf("%s-%s", config.Name, r),
			ElementSizes: sizes,
			Usage:        layout.Usage,
		})
		if err != nil {
			mb.Close()
			return nil, fmt.Errorf("failed to create %s range of %s: %w", r, config.Name, err)
		}
		mb.allocators[r] = NewSliceAllocator(global, config.Tiers)

		if config.PrimeChunks > 0 {
			if err := mb.allocators[r].Prime(uint64(config.PrimeChunks) * ChunkSize); err != nil {
				mb.Close()
				return nil, err
			}
		}
	}
	return mb, nil
}

func (mb *MeshBuffers) Allocator(r Range) *SliceAllocator {
	return mb.allocators[r]
}

// AllocateMesh reserves numChunks chunk groups in every range. On failure the
// ranges already taken are returned in reverse order.
func (mb *MeshBuffers) AllocateMesh(numChunks uint64) ([RangeCount]Allocation, bool) {
	var allocs [RangeCount]Allocation
	count := numChunks * ChunkSize
	for r := Range(0); r < RangeCount; r++ {
		a, ok := mb.allocators[r].Allocate(count)
		if !ok {
			for rb := r - 1; rb >= 0; rb-- {
				mb.allocators[rb].Free(allocs[rb])
			}
			return [RangeCount]Allocation{}, false
		}
		allocs[r] = a
	}
	return allocs, true
}

func (mb *MeshBuffers) FreeMesh(allocs [RangeCount]Allocation) {
	for r := RangeCount - 1; r >= 0; r-- {
		if allocs[r].Valid() {
			mb.allocators[r].Free(allocs[r])
		}
	}
}

// CommittedBytes is the device memory the allocations cover across all slots.
func (mb *MeshBuffers) CommittedBytes(allocs [RangeCount]Allocation) uint64 {
	var total uint64
	for r := Range(0); r < RangeCount; r++ {
		g := mb.allocators[r].Global()
		for slot := 0; slot < g.SoACount(); slot++ {
			total += allocs[r].Count * g.ElementSize(slot)
		}
	}
	return total
}

func (mb *MeshBuffers) HasStream(stream Stream) bool {
	_, ok := mb.streams[stream]
	return ok
}

func (mb *MeshBuffers) ElementSize(stream Stream) uint64 {
	loc, ok := mb.streams[stream]
	if !ok {
		return 0
	}
	return mb.allocators[loc.rng].Global().ElementSize(loc.slot)
}

// Buffer returns the buffer of a stream in the given set, nil if the stream is
// not part of this layout or the set is not allocated.
func (mb *MeshBuffers) Buffer(stream Stream, set uint32) gpu.Buffer {
	loc, ok := mb.streams[stream]
	if !ok {
		return nil
	}
	return mb.allocators[loc.rng].Global().Buffer(set, loc.slot)
}

// ByteOffset converts an allocation into the byte offset of a stream.
func (mb *MeshBuffers) ByteOffset(stream Stream, a Allocation) uint64 {
	return a.Offset * mb.ElementSize(stream)
}

func (mb *MeshBuffers) Close() {
	for _, a := range mb.allocators {
		if a != nil {
			a.Global().Close()
		}
	}
}
