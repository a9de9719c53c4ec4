package resources

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-stream/engine/assets"
	"github.com/spaghettifunk/anima-stream/engine/containers"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/renderer/arena"
	"github.com/spaghettifunk/anima-stream/engine/renderer/meshlet"
	"github.com/spaghettifunk/anima-stream/engine/vfs"
)

const (
	defaultBudget = 2 << 30

	// MaxPendingIterations is how far the asset manager may run ahead of
	// instantiation work before it only latches.
	MaxPendingIterations = 3
)

type ResourceManagerConfig struct {
	/** @brief auto, encoded, decoded or classic. */
	MeshEncoding string
	/** @brief Target style meshes are decoded or stored as. */
	MeshStyle string
	/** @brief Asset budget in MiB. 0 uses half of the largest device-local heap. */
	BudgetMiB          uint64
	BudgetPerIteration uint64
	ArenaTiers         uint32
	PrimeChunks        uint32
}

type DrawKind int

const (
	DrawNone DrawKind = iota
	DrawClassic
	DrawMeshlet
)

/** @brief Indexed indirect draws of a classic mesh. */
type ClassicParams struct {
	/** @brief First indirect record of the mesh in its indirect buffer. */
	IndirectOffset uint32
	DrawCount      uint32
}

/** @brief Dispatch parameters of a mesh drawn through the meshlet pipeline. */
type MeshletParams struct {
	/** @brief First meshlet header of the mesh in its header buffer. */
	HeaderOffset uint32
	MeshletCount uint32
	Style        meshlet.Style
}

// DrawParams tells the renderer how to draw a mesh. Kind selects which of
// Classic and Meshlet is meaningful; DrawNone draws nothing.
type DrawParams struct {
	Kind DrawKind
	/** @brief Buffer set of every mesh range, indexed by arena.Range. */
	Sets    [arena.RangeCount]uint32
	Classic ClassicParams
	Meshlet MeshletParams
}

type assetSlot struct {
	class      assets.AssetClass
	generation uint64
	latchable  bool
	released   bool

	image gpu.Image
	mesh  [arena.RangeCount]arena.Allocation
	draw  DrawParams
}

// instance is what one instantiation produced.
type instance struct {
	image gpu.Image
	mesh  [arena.RangeCount]arena.Allocation
	draw  DrawParams
}

func (i instance) empty() bool {
	return i.image == nil && !i.mesh[arena.RangeIndexOrPayload].Valid()
}

// ResourceManager turns asset files into GPU images and arena backed meshes on
// worker goroutines and publishes them to the render thread in LatchHandles.
// GetImageView and GetDrawParams read state published by the last latch and
// must be called from the goroutine that calls LatchHandles.
type ResourceManager struct {
	config  ResourceManagerConfig
	device  gpu.Device
	group   assets.TaskGroup
	manager *assets.AssetManager

	encoding MeshEncoding
	style    meshlet.Style

	allocMu     sync.Mutex
	meshBuffers *arena.MeshBuffers

	fallbacks [fallbackCount]gpu.Image

	mu          sync.Mutex
	cond        *sync.Cond
	slots       []assetSlot
	updates     *containers.RingQueue[assets.AssetID]
	pendingFree []instance

	views []gpu.ImageView
	draws []DrawParams

	initialized bool
}

// NewResourceManager creates a manager that runs instantiations on group. A
// nil group runs them on the calling goroutine.
func NewResourceManager(config *ResourceManagerConfig, device gpu.Device, group assets.TaskGroup) (*ResourceManager, error) {
	if device == nil {
		return nil, fmt.Errorf("resource manager needs a device")
	}
	style, err := meshlet.ParseStyle(config.MeshStyle)
	if err != nil {
		return nil, err
	}
	rm := &ResourceManager{
		config:  *config,
		device:  device,
		group:   group,
		style:   style,
		updates: containers.NewGrowableRingQueue[assets.AssetID](64),
	}
	rm.cond = sync.NewCond(&rm.mu)
	return rm, nil
}

// Init creates the fallback images and mesh arenas and, with a non-nil
// manager, registers as its instantiator. A device that cannot run the
// selected mesh encoding fails with core.ErrMissingDeviceCapability.
func (rm *ResourceManager) Init(manager *assets.AssetManager) error {
	if rm.initialized {
		return nil
	}

	encoding, err := resolveEncoding(rm.config.MeshEncoding, rm.device)
	if err != nil {
		return err
	}
	if encoding != MeshEncodingMeshletEncoded && !meshlet.SupportsDecode(rm.device) {
		return fmt.Errorf("%w: %s meshes need subgroup size control", core.ErrMissingDeviceCapability, encoding)
	}
	if encoding == MeshEncodingMeshletEncoded && !rm.device.SupportsMeshShader() {
		return fmt.Errorf("%w: encoded meshes need mesh shaders", core.ErrMissingDeviceCapability)
	}
	rm.encoding = encoding

	if err := rm.createFallbacks(); err != nil {
		return err
	}

	mb, err := arena.NewMeshBuffers(rm.device, meshBuffersConfig(encoding, rm.style, rm.config.ArenaTiers, rm.config.PrimeChunks))
	if err != nil {
		rm.releaseFallbacks()
		return fmt.Errorf("failed to create mesh arenas: %w", err)
	}
	rm.meshBuffers = mb
	rm.initialized = true
	core.LogInfo("resource manager using %s meshes of style %s", encoding, rm.style)

	if manager != nil {
		rm.manager = manager
		budget := rm.budget()
		core.LogInfo("using asset budget of %d MiB", budget>>20)
		manager.SetBudget(budget)
		manager.SetBudgetPerIteration(rm.config.BudgetPerIteration)
		manager.SetInstantiator(rm)
	}
	return nil
}

func (rm *ResourceManager) budget() uint64 {
	if rm.config.BudgetMiB != 0 {
		return rm.config.BudgetMiB << 20
	}
	var size uint64
	for _, heap := range rm.device.MemoryBudget() {
		if heap.DeviceLocal && heap.BudgetSize/2 > size {
			size = heap.BudgetSize / 2
		}
	}
	if size == 0 {
		core.LogWarn("no device-local heap found, assuming a 2 GiB budget")
		size = defaultBudget
	}
	return size
}

// Shutdown detaches from the asset manager and frees every GPU resource.
func (rm *ResourceManager) Shutdown() error {
	if !rm.initialized {
		return nil
	}
	if rm.manager != nil {
		rm.manager.SetInstantiator(nil)
		rm.manager = nil
	}

	rm.mu.Lock()
	for i := range rm.slots {
		slot := &rm.slots[i]
		rm.pendingFree = append(rm.pendingFree, instance{image: slot.image, mesh: slot.mesh})
		*slot = assetSlot{class: slot.class, generation: slot.generation + 1}
	}
	rm.freePendingLocked()
	rm.views = nil
	rm.draws = nil
	rm.mu.Unlock()

	rm.meshBuffers.Close()
	rm.releaseFallbacks()
	rm.initialized = false
	return nil
}

func (rm *ResourceManager) MeshEncoding() MeshEncoding {
	return rm.encoding
}

func (rm *ResourceManager) MeshStyle() meshlet.Style {
	return rm.style
}

// MeshBuffers exposes the mesh arenas so the renderer can bind the sets named
// by DrawParams.
func (rm *ResourceManager) MeshBuffers() *arena.MeshBuffers {
	return rm.meshBuffers
}

func (rm *ResourceManager) SetIDBounds(bound uint32) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if int(bound) > len(rm.slots) {
		rm.slots = append(rm.slots, make([]assetSlot, int(bound)-len(rm.slots))...)
	}
}

func (rm *ResourceManager) SetAssetClass(id assets.AssetID, class assets.AssetClass) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if int(id) >= len(rm.slots) {
		core.LogError("asset %d is out of bounds", id)
		return
	}
	rm.slots[id].class = class
	// The render visible fallback follows the class on the next latch.
	if !rm.slots[id].latchable {
		rm.updates.Enqueue(id)
	}
}

func (rm *ResourceManager) EstimateCost(id assets.AssetID, file vfs.File) uint64 {
	rm.mu.Lock()
	class := assets.ClassZeroable
	if int(id) < len(rm.slots) {
		class = rm.slots[id].class
	}
	rm.mu.Unlock()

	if class == assets.ClassMesh {
		return rm.estimateMeshCost(file)
	}
	return file.Size()
}

// Instantiate starts turning file into the GPU resource of id. The result
// becomes visible to the render thread on the first LatchHandles after it
// completes.
func (rm *ResourceManager) Instantiate(costs assets.CostUpdater, group assets.TaskGroup, id assets.AssetID, file vfs.File) {
	rm.mu.Lock()
	if int(id) >= len(rm.slots) {
		rm.mu.Unlock()
		core.LogError("asset %d is out of bounds", id)
		costs.UpdateCost(id, 0)
		return
	}
	slot := &rm.slots[id]
	slot.generation++
	slot.latchable = false
	slot.released = false
	generation := slot.generation
	class := slot.class
	rm.mu.Unlock()

	task := func() {
		rm.instantiate(costs, id, class, generation, file)
	}
	if group != nil {
		group.Enqueue(task)
	} else {
		task()
	}
}

func (rm *ResourceManager) instantiate(costs assets.CostUpdater, id assets.AssetID, class assets.AssetClass, generation uint64, file vfs.File) {
	var result instance
	var cost uint64
	if class == assets.ClassMesh {
		result, cost = rm.instantiateMesh(id, file)
	} else {
		result.image, cost = rm.instantiateImage(id, class, file)
	}
	costs.UpdateCost(id, cost)
	rm.complete(id, generation, result)
}

func (rm *ResourceManager) complete(id assets.AssetID, generation uint64, result instance) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	slot := &rm.slots[id]
	if slot.generation != generation {
		// A newer instantiation owns the slot.
		rm.pendingFree = append(rm.pendingFree, result)
		return
	}
	if slot.released {
		rm.pendingFree = append(rm.pendingFree, result)
		result = instance{}
	}
	slot.image = result.image
	slot.mesh = result.mesh
	slot.draw = result.draw
	slot.latchable = true
	rm.updates.Enqueue(id)
	rm.cond.Broadcast()
}

// Release drops the resource of id. GPU memory is returned on the next
// LatchHandles, or on the first latch after an in-flight instantiation
// completes.
func (rm *ResourceManager) Release(id assets.AssetID) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if int(id) >= len(rm.slots) {
		return
	}
	slot := &rm.slots[id]
	slot.released = true
	if !slot.latchable {
		return
	}
	if held := (instance{image: slot.image, mesh: slot.mesh}); !held.empty() {
		rm.pendingFree = append(rm.pendingFree, held)
	}
	slot.image = nil
	slot.mesh = [arena.RangeCount]arena.Allocation{}
	slot.draw = DrawParams{}
	rm.updates.Enqueue(id)
}

func (rm *ResourceManager) freePendingLocked() {
	if len(rm.pendingFree) == 0 {
		return
	}
	rm.allocMu.Lock()
	for _, p := range rm.pendingFree {
		if p.image != nil {
			p.image.Release()
		}
		if p.mesh[arena.RangeIndexOrPayload].Valid() {
			rm.meshBuffers.FreeMesh(p.mesh)
		}
	}
	rm.allocMu.Unlock()
	rm.pendingFree = rm.pendingFree[:0]
}

// LatchHandles publishes completed work to the render visible tables. It is
// called once per frame by the render thread.
func (rm *ResourceManager) LatchHandles() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.freePendingLocked()

	for len(rm.views) < len(rm.slots) {
		id := len(rm.views)
		rm.views = append(rm.views, rm.fallbackFor(rm.slots[id].class).View())
		rm.draws = append(rm.draws, DrawParams{})
	}

	rm.updates.Drain(func(id assets.AssetID) {
		if int(id) >= len(rm.views) {
			return
		}
		slot := &rm.slots[id]
		if !slot.latchable || slot.released {
			rm.views[id] = rm.fallbackFor(slot.class).View()
			rm.draws[id] = DrawParams{}
			return
		}
		if slot.image != nil {
			rm.views[id] = slot.image.View()
		} else {
			rm.views[id] = rm.fallbackFor(slot.class).View()
		}
		rm.draws[id] = slot.draw
	})
}

// GetImageView returns the view published for id by the last latch. Out of
// bounds IDs return nil.
func (rm *ResourceManager) GetImageView(id assets.AssetID) gpu.ImageView {
	if int(id) >= len(rm.views) {
		return nil
	}
	if rm.manager != nil {
		rm.manager.MarkUsed(id)
	}
	return rm.views[id]
}

// GetDrawParams returns the draw parameters published for id by the last
// latch.
func (rm *ResourceManager) GetDrawParams(id assets.AssetID) DrawParams {
	if int(id) >= len(rm.draws) {
		return DrawParams{}
	}
	if rm.manager != nil {
		rm.manager.MarkUsed(id)
	}
	return rm.draws[id]
}

// GetImageViewBlocking instantiates id if needed and waits for it. Failed
// assets return their fallback.
func (rm *ResourceManager) GetImageViewBlocking(id assets.AssetID) gpu.ImageView {
	rm.mu.Lock()
	if int(id) >= len(rm.slots) {
		rm.mu.Unlock()
		core.LogError("asset %d is out of bounds", id)
		return nil
	}
	if slot := &rm.slots[id]; slot.latchable && !slot.released {
		view := rm.viewOfLocked(slot)
		rm.mu.Unlock()
		return view
	}
	rm.mu.Unlock()

	if rm.manager == nil || !rm.manager.IterateBlocking(rm.group, id) {
		core.LogError("failed to iterate asset %d", id)
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for !rm.slots[id].latchable {
		rm.cond.Wait()
	}
	return rm.viewOfLocked(&rm.slots[id])
}

func (rm *ResourceManager) viewOfLocked(slot *assetSlot) gpu.ImageView {
	if slot.image != nil {
		return slot.image.View()
	}
	return rm.fallbackFor(slot.class).View()
}
