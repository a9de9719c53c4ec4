package gpu

// Buffer is a device buffer. Release hands it back to the device, which frees
// the memory once already submitted work has retired.
type Buffer interface {
	Size() uint64
	Usage() BufferUsage
	Release()
}

type ImageView interface {
	Image() Image
	Format() Format
}

type Image interface {
	CreateInfo() ImageCreateInfo
	View() ImageView
	/** @brief Bytes of device memory backing the image. */
	AllocationSize() uint64
	Release()
}

// CommandBuffer records work for one queue. Recording is not thread safe;
// each task records into its own command buffer.
type CommandBuffer interface {
	Queue() QueueType
	Device() Device

	UpdateBuffer(dst Buffer, offset uint64, data []byte)
	FillBuffer(dst Buffer, offset, size uint64, value uint32)
	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64)
	Barrier(srcStages, dstStages PipelineStage)

	SetProgram(name string, defines map[string]int)
	SetStorageBuffer(set, binding uint32, buf Buffer)
	SetStorageImage(set, binding uint32, img Image, level uint32)
	PushConstants(data []byte)
	EnableSubgroupSizeControl(enable bool)
	SetSubgroupSizeLog2(allowFull bool, minLog2, maxLog2 uint32)
	Dispatch(x, y, z uint32)
}

// Device is the GPU collaborator. All methods are safe for concurrent use.
type Device interface {
	CreateBuffer(info BufferCreateInfo, initial []byte) (Buffer, error)
	CreateImage(info ImageCreateInfo, initial []ImageInitialData) (Image, error)

	RequestCommandBuffer(queue QueueType) CommandBuffer
	// Submit executes cmd. With signal set, the returned semaphore completes
	// when the GPU has finished the submission.
	Submit(cmd CommandBuffer, signal bool) (*Semaphore, error)
	AddWaitSemaphore(queue QueueType, sem *Semaphore, stages PipelineStage)

	ImageFormatSupported(format Format, features FormatFeature) bool
	SupportsSubgroupSizeLog2(allowFull bool, minLog2, maxLog2 uint32) bool
	SupportsMeshShader() bool
	Limits() Limits
	MemoryBudget() []HeapBudget

	SetName(object interface{}, name string)
}

/**
 * @brief Read side of a compute dispatch as seen by a host-executed kernel.
 * Buffers and image levels are exposed as their raw little-endian bytes.
 */
type KernelInvocation interface {
	Groups() [3]uint32
	Define(name string) int
	PushConstants() []byte
	StorageBuffer(set, binding uint32) []byte
	StorageImage(set, binding uint32) (level ImageLevel, ok bool)
}

type ImageLevel struct {
	Format Format
	Width  uint32
	Height uint32
	/** @brief One byte slice per array layer. */
	Layers [][]byte
}

type Kernel func(inv KernelInvocation) error

// KernelRegistrar is implemented by devices that execute compute programs on
// the host. Programs with a host implementation register it here.
type KernelRegistrar interface {
	RegisterKernel(program string, kernel Kernel)
}
