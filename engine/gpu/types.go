package gpu

import (
	"github.com/google/uuid"
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageIndirect
)

/** @brief Where a buffer lives. */
type BufferDomain int

const (
	/** @brief Device local, only written through command buffers. */
	BufferDomainDevice BufferDomain = iota
	/** @brief Device local when possible, host visible otherwise. Used for per-call uploads. */
	BufferDomainLinkedDeviceHost
	/** @brief Host visible staging memory. */
	BufferDomainHost
)

type BufferMisc uint32

const (
	BufferMiscZeroInitialize BufferMisc = 1 << iota
)

type BufferCreateInfo struct {
	Domain BufferDomain
	Size   uint64
	Usage  BufferUsage
	Misc   BufferMisc
}

type ImageUsage uint32

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageStorage
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

type ImageCreateFlags uint32

const (
	ImageCreateCubeCompatible ImageCreateFlags = 1 << iota
)

type ImageMisc uint32

const (
	/** @brief Fill levels 1..N from level 0 as part of creation. */
	ImageMiscGenerateMips ImageMisc = 1 << iota
	ImageMiscConcurrentQueueGraphics
	ImageMiscConcurrentQueueAsyncCompute
	ImageMiscConcurrentQueueAsyncTransfer
)

type ComponentSwizzle uint8

const (
	SwizzleIdentity ComponentSwizzle = iota
	SwizzleZero
	SwizzleOne
	SwizzleR
	SwizzleG
	SwizzleB
	SwizzleA
)

type ImageCreateInfo struct {
	Format Format
	Width  uint32
	Height uint32
	Depth  uint32
	/** @brief 0 requests a full mip chain. */
	Levels  uint32
	Layers  uint32
	Usage   ImageUsage
	Flags   ImageCreateFlags
	Misc    ImageMisc
	Swizzle [4]ComponentSwizzle
}

// Immutable2DImage describes a sampled single level 2D image.
func Immutable2DImage(width, height uint32, format Format) ImageCreateInfo {
	return ImageCreateInfo{
		Format: format,
		Width:  width,
		Height: height,
		Depth:  1,
		Levels: 1,
		Layers: 1,
		Usage:  ImageUsageSampled,
	}
}

/** @brief Initial contents of one subresource, indexed level * layers + layer. */
type ImageInitialData struct {
	Data []byte
}

type QueueType int

const (
	QueueGeneric QueueType = iota
	QueueAsyncCompute
	QueueAsyncTransfer
	QueueAsyncGraphics
)

func (q QueueType) String() string {
	switch q {
	case QueueGeneric:
		return "generic"
	case QueueAsyncCompute:
		return "async-compute"
	case QueueAsyncTransfer:
		return "async-transfer"
	case QueueAsyncGraphics:
		return "async-graphics"
	default:
		return "unknown"
	}
}

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageComputeShader
	StageTransfer
	StageAllCommands
)

/**
 * @brief A pending GPU signal produced by a submission. Whoever consumes the
 * results adds it as a wait on its own queue; the CPU never waits on it.
 */
type Semaphore struct {
	ID    uuid.UUID
	Queue QueueType
	Value uint64
}

func NewSemaphore(queue QueueType, value uint64) *Semaphore {
	return &Semaphore{
		ID:    uuid.New(),
		Queue: queue,
		Value: value,
	}
}

type Limits struct {
	MaxComputeWorkGroupCount [3]uint32
}

type HeapBudget struct {
	BudgetSize  uint64
	DeviceLocal bool
}
