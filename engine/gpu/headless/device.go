// Package headless implements gpu.Device in host memory. Compute programs run
// through kernels registered by the packages that own them, which makes the
// streaming core testable without a live GPU.
package headless

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

var (
	ErrUnknownProgram   = errors.New("no kernel registered for program")
	ErrForeignResource  = errors.New("resource was not created by this device")
	ErrReleasedResource = errors.New("resource used after release")
	ErrWorkgroupLimit   = errors.New("dispatch exceeds workgroup count limit")
)

type Capabilities struct {
	Formats             map[gpu.Format]gpu.FormatFeature
	SubgroupSizeControl bool
	SubgroupMinLog2     uint32
	SubgroupMaxLog2     uint32
	MeshShader          bool
	Limits              gpu.Limits
	Heaps               []gpu.HeapBudget
}

// DefaultCapabilities resembles a desktop GPU with BC sampling support.
func DefaultCapabilities() Capabilities {
	all := gpu.FormatFeatureSampledImage | gpu.FormatFeatureStorageImage | gpu.FormatFeatureBlitSrc | gpu.FormatFeatureBlitDst
	return Capabilities{
		Formats: map[gpu.Format]gpu.FormatFeature{
			gpu.FormatR8Unorm:      all,
			gpu.FormatRG8Unorm:     all,
			gpu.FormatRGBA8Unorm:   all,
			gpu.FormatRGBA8Srgb:    gpu.FormatFeatureSampledImage | gpu.FormatFeatureBlitSrc | gpu.FormatFeatureBlitDst,
			gpu.FormatRGBA16Sfloat: all,
			gpu.FormatBC1RGBAUnorm: gpu.FormatFeatureSampledImage,
			gpu.FormatBC1RGBASrgb:  gpu.FormatFeatureSampledImage,
			gpu.FormatBC3Unorm:     gpu.FormatFeatureSampledImage,
			gpu.FormatBC3Srgb:      gpu.FormatFeatureSampledImage,
			gpu.FormatBC4Unorm:     gpu.FormatFeatureSampledImage,
			gpu.FormatBC5Unorm:     gpu.FormatFeatureSampledImage,
			gpu.FormatBC7Unorm:     gpu.FormatFeatureSampledImage,
			gpu.FormatBC7Srgb:      gpu.FormatFeatureSampledImage,
		},
		SubgroupSizeControl: true,
		SubgroupMinLog2:     5,
		SubgroupMaxLog2:     7,
		Limits: gpu.Limits{
			MaxComputeWorkGroupCount: [3]uint32{65535, 65535, 65535},
		},
		Heaps: []gpu.HeapBudget{
			{BudgetSize: 4 << 30, DeviceLocal: true},
			{BudgetSize: 8 << 30, DeviceLocal: false},
		},
	}
}

type Device struct {
	caps Capabilities

	// Serializes command execution, the single hardware queue of this device.
	execMu sync.Mutex

	mu      sync.Mutex
	kernels map[string]gpu.Kernel
	waits   map[gpu.QueueType][]*gpu.Semaphore
	names   map[interface{}]string

	bufferCreations atomic.Uint64
	imageCreations  atomic.Uint64
	liveBuffers     atomic.Int64
	liveImages      atomic.Int64
	dispatches      atomic.Uint64
	submissions     atomic.Uint64
	timeline        atomic.Uint64
}

func New(caps Capabilities) *Device {
	if caps.Formats == nil {
		caps.Formats = map[gpu.Format]gpu.FormatFeature{}
	}
	return &Device{
		caps:    caps,
		kernels: make(map[string]gpu.Kernel),
		waits:   make(map[gpu.QueueType][]*gpu.Semaphore),
		names:   make(map[interface{}]string),
	}
}

func (d *Device) RegisterKernel(program string, kernel gpu.Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[program] = kernel
}

func (d *Device) kernel(program string) (gpu.Kernel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.kernels[program]
	return k, ok
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo, initial []byte) (gpu.Buffer, error) {
	if info.Size == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	buf := &Buffer{
		id:     uuid.New(),
		device: d,
		info:   info,
		data:   make([]byte, info.Size),
	}
	copy(buf.data, initial)
	d.bufferCreations.Add(1)
	d.liveBuffers.Add(1)
	return buf, nil
}

func (d *Device) CreateImage(info gpu.ImageCreateInfo, initial []gpu.ImageInitialData) (gpu.Image, error) {
	if !info.Format.Valid() {
		return nil, fmt.Errorf("invalid image format %d", info.Format)
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, fmt.Errorf("image extent must be non-zero")
	}
	if info.Depth == 0 {
		info.Depth = 1
	}
	if info.Layers == 0 {
		info.Layers = 1
	}
	if info.Levels == 0 {
		info.Levels = gpu.MipLevels(info.Width, info.Height, info.Depth)
	}

	img := &Image{
		id:     uuid.New(),
		device: d,
		info:   info,
		levels: make([][][]byte, info.Levels),
	}
	for level := uint32(0); level < info.Levels; level++ {
		size := info.Format.SubresourceSize(gpu.MipExtent(info.Width, level), gpu.MipExtent(info.Height, level), gpu.MipExtent(info.Depth, level))
		img.levels[level] = make([][]byte, info.Layers)
		for layer := uint32(0); layer < info.Layers; layer++ {
			img.levels[level][layer] = make([]byte, size)
			idx := int(level*info.Layers + layer)
			if idx < len(initial) {
				copy(img.levels[level][layer], initial[idx].Data)
			}
		}
	}
	if info.Misc&gpu.ImageMiscGenerateMips != 0 {
		img.generateMips()
	}

	d.imageCreations.Add(1)
	d.liveImages.Add(1)
	return img, nil
}

func (d *Device) RequestCommandBuffer(queue gpu.QueueType) gpu.CommandBuffer {
	return &CommandBuffer{
		device: d,
		queue:  queue,
	}
}

func (d *Device) Submit(cmd gpu.CommandBuffer, signal bool) (*gpu.Semaphore, error) {
	c, ok := cmd.(*CommandBuffer)
	if !ok || c.device != d {
		return nil, ErrForeignResource
	}
	if c.submitted {
		return nil, fmt.Errorf("command buffer submitted twice")
	}
	c.submitted = true

	d.execMu.Lock()
	err := c.execute()
	d.execMu.Unlock()
	d.submissions.Add(1)
	if err != nil {
		core.LogError("headless submission on %s queue failed: %s", c.queue, err)
		return nil, err
	}

	if !signal {
		return nil, nil
	}
	return gpu.NewSemaphore(c.queue, d.timeline.Add(1)), nil
}

func (d *Device) AddWaitSemaphore(queue gpu.QueueType, sem *gpu.Semaphore, stages gpu.PipelineStage) {
	if sem == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waits[queue] = append(d.waits[queue], sem)
}

func (d *Device) ImageFormatSupported(format gpu.Format, features gpu.FormatFeature) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps.Formats[format]&features == features
}

func (d *Device) SupportsSubgroupSizeLog2(allowFull bool, minLog2, maxLog2 uint32) bool {
	if !d.caps.SubgroupSizeControl {
		return false
	}
	return minLog2 <= maxLog2 && d.caps.SubgroupMinLog2 <= minLog2 && d.caps.SubgroupMaxLog2 >= maxLog2
}

func (d *Device) SupportsMeshShader() bool {
	return d.caps.MeshShader
}

func (d *Device) Limits() gpu.Limits {
	return d.caps.Limits
}

func (d *Device) MemoryBudget() []gpu.HeapBudget {
	return append([]gpu.HeapBudget(nil), d.caps.Heaps...)
}

func (d *Device) SetName(object interface{}, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[object] = name
}

// Name returns the debug name given through SetName.
func (d *Device) Name(object interface{}) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.names[object]
}

// PendingWaits returns the semaphores queued on a queue and clears them, as a
// submission on that queue would.
func (d *Device) PendingWaits(queue gpu.QueueType) []*gpu.Semaphore {
	d.mu.Lock()
	defer d.mu.Unlock()
	waits := d.waits[queue]
	delete(d.waits, queue)
	return waits
}

func (d *Device) BufferCreations() uint64 { return d.bufferCreations.Load() }
func (d *Device) ImageCreations() uint64 { return d.imageCreations.Load() }
func (d *Device) LiveBuffers() int64 { return d.liveBuffers.Load() }
func (d *Device) LiveImages() int64 { return d.liveImages.Load() }
func (d *Device) Dispatches() uint64 { return d.dispatches.Load() }
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// ReadBuffer copies size bytes starting at offset out of a buffer.
func (d *Device) ReadBuffer(buf gpu.Buffer, offset, size uint64) ([]byte, error) {
	b, ok := buf.(*Buffer)
	if !ok || b.device != d {
		return nil, ErrForeignResource
	}
	d.execMu.Lock()
	defer d.execMu.Unlock()
	if offset+size > uint64(len(b.data)) {
		return nil, fmt.Errorf("read [%d, %d) outside buffer of %d bytes", offset, offset+size, len(b.data))
	}
	out := make([]byte, size)
	copy(out, b.data[offset:offset+size])
	return out, nil
}

// ReadImage copies one subresource of an image.
func (d *Device) ReadImage(img gpu.Image, layer, level uint32) ([]byte, error) {
	i, ok := img.(*Image)
	if !ok || i.device != d {
		return nil, ErrForeignResource
	}
	d.execMu.Lock()
	defer d.execMu.Unlock()
	if level >= uint32(len(i.levels)) || layer >= uint32(len(i.levels[level])) {
		return nil, fmt.Errorf("subresource layer %d level %d out of range", layer, level)
	}
	return append([]byte(nil), i.levels[level][layer]...), nil
}
