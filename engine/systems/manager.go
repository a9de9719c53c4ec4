package systems

import (
	"io/fs"
	"path/filepath"

	"github.com/spaghettifunk/anima-stream/engine/assets"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/gpu/headless"
	"github.com/spaghettifunk/anima-stream/engine/renderer/meshlet"
	"github.com/spaghettifunk/anima-stream/engine/renderer/resources"
	"github.com/spaghettifunk/anima-stream/engine/renderer/texture"
)

// SystemManager owns the streaming systems and wires them together: a job
// system running instantiations, the asset manager deciding residency and the
// resource manager creating GPU resources.
type SystemManager struct {
	config *core.Config

	device          gpu.Device
	jobSystem       *JobSystem
	assetManager    *assets.AssetManager
	resourceManager *resources.ResourceManager
}

// NewSystemManager builds the systems described by config on device. A nil
// device selects a headless device with default capabilities. Devices that
// run host kernels get the decode kernels registered.
func NewSystemManager(config *core.Config, device gpu.Device) (*SystemManager, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if device == nil {
		device = headless.New(headless.DefaultCapabilities())
	}
	if reg, ok := device.(gpu.KernelRegistrar); ok {
		meshlet.RegisterKernels(reg)
		texture.RegisterKernels(reg)
	}

	js, err := NewJobSystem(config.Jobs.Workers, config.Jobs.QueueSize)
	if err != nil {
		return nil, err
	}

	am, err := assets.NewAssetManager(&assets.AssetManagerConfig{
		BudgetPerIteration:   config.Streaming.BudgetPerIteration,
		MaxPendingIterations: resources.MaxPendingIterations,
	})
	if err != nil {
		js.Shutdown()
		return nil, err
	}

	rm, err := resources.NewResourceManager(&resources.ResourceManagerConfig{
		MeshEncoding:       config.Streaming.MeshEncoding,
		MeshStyle:          config.Streaming.MeshStyle,
		BudgetMiB:          config.Streaming.BudgetMiB,
		BudgetPerIteration: config.Streaming.BudgetPerIteration,
		ArenaTiers:         config.Arena.Tiers,
		PrimeChunks:        config.Arena.PrimeChunks,
	}, device, js)
	if err != nil {
		js.Shutdown()
		return nil, err
	}

	return &SystemManager{
		config:          config,
		device:          device,
		jobSystem:       js,
		assetManager:    am,
		resourceManager: rm,
	}, nil
}

/**
 * @brief Initializes the resource manager against the asset manager and starts
 * watching the configured directory for hot reload.
 */
func (sm *SystemManager) Initialize() error {
	if err := sm.resourceManager.Init(sm.assetManager); err != nil {
		return err
	}
	if dir := sm.config.Streaming.WatchDir; dir != "" {
		if err := sm.assetManager.Watch(dir); err != nil {
			core.LogError("failed to watch '%s': %s", dir, err)
			return err
		}
		core.LogInfo("watching '%s' for asset changes", dir)
	}
	return nil
}

// RegisterDirectory registers every file below dir whose name maps to an
// asset class. It returns the number of files registered.
func (sm *SystemManager) RegisterDirectory(dir string, prio int) (int, error) {
	registered := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := assets.ClassFromPath(path); !ok {
			return nil
		}
		if _, err := sm.assetManager.RegisterPath(path, prio); err != nil {
			core.LogWarn("skipping '%s': %s", path, err)
			return nil
		}
		registered++
		return nil
	})
	return registered, err
}

/**
 * @brief Runs one streaming iteration. Should happen once per frame.
 */
func (sm *SystemManager) Update() {
	sm.assetManager.Iterate(sm.jobSystem)
}

// Wait blocks until every instantiation started so far has finished.
func (sm *SystemManager) Wait() {
	sm.jobSystem.Wait()
}

func (sm *SystemManager) Device() gpu.Device {
	return sm.device
}

func (sm *SystemManager) AssetManager() *assets.AssetManager {
	return sm.assetManager
}

func (sm *SystemManager) ResourceManager() *resources.ResourceManager {
	return sm.resourceManager
}

func (sm *SystemManager) Shutdown() error {
	sm.jobSystem.Wait()
	if err := sm.assetManager.Shutdown(); err != nil {
		core.LogError("failed to stop asset watcher: %s", err)
	}
	if err := sm.resourceManager.Shutdown(); err != nil {
		return err
	}
	return sm.jobSystem.Shutdown()
}
