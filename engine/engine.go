package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// FrameFunc is called once per frame after the streaming iteration, with the
// time since the previous frame.
type FrameFunc func(delta time.Duration) error

type Engine struct {
	currentStage  Stage
	config        *core.Config
	systemManager *systems.SystemManager
	frameTarget   time.Duration
	onFrame       FrameFunc
	frameCount    uint64
}

// New builds the streaming systems for config on device. A nil device runs
// headless.
func New(config *core.Config, device gpu.Device, onFrame FrameFunc) (*Engine, error) {
	sm, err := systems.NewSystemManager(config, device)
	if err != nil {
		core.LogError("%s", err)
		return nil, err
	}
	return &Engine{
		currentStage:  EngineStageUninitialized,
		config:        config,
		systemManager: sm,
		frameTarget:   time.Second / 60,
		onFrame:       onFrame,
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine initialized twice")
	}
	e.currentStage = EngineStageInitializing
	if err := e.systemManager.Initialize(); err != nil {
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Systems() *systems.SystemManager {
	return e.systemManager
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) FrameCount() uint64 {
	return e.frameCount
}

// SetFrameTarget changes the frame pacing. Zero runs frames back to back.
func (e *Engine) SetFrameTarget(target time.Duration) {
	e.frameTarget = target
}

// Run iterates the streaming systems once per frame until ctx is done or the
// frame callback fails.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return core.ErrNotInitialized
	}
	e.currentStage = EngineStageRunning

	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frameStart := time.Now()
		delta := frameStart.Sub(lastTime)
		lastTime = frameStart

		e.systemManager.Update()
		if e.onFrame != nil {
			if err := e.onFrame(delta); err != nil {
				core.LogError("frame %d failed, shutting down: %s", e.frameCount, err)
				return err
			}
		}
		e.frameCount++

		// Give the remaining frame time back to the OS.
		if remaining := e.frameTarget - time.Since(frameStart); remaining > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(remaining):
			}
		}
	}
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	return e.systemManager.Shutdown()
}
