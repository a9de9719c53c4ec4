/*
Streams the assets of a directory through the headless GPU device and
reports what became resident. Useful to check asset packs and budgets
without a window.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/anima-stream/engine"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/gpu/headless"
	"github.com/spaghettifunk/anima-stream/engine/gpu/vulkan"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	assetDir := flag.String("assets", "assets", "directory of assets to register")
	probe := flag.Bool("probe", false, "mirror the capabilities of the local Vulkan device")
	frames := flag.Uint64("frames", 0, "number of frames to run, 0 runs until interrupted")
	flag.Parse()

	cfg := core.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = core.LoadConfig(*configPath); err != nil {
			core.LogFatal("%s", err)
		}
	}
	core.SetLogLevel(cfg.Log.Level)

	var device gpu.Device
	if *probe {
		caps, err := vulkan.ProbeSystemCapabilities("anima-stream")
		if err != nil {
			core.LogFatal("%s", err)
		}
		device = headless.New(caps)
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var count uint64
	onFrame := func(time.Duration) error {
		count++
		if *frames > 0 && count >= *frames {
			cancel()
		}
		return nil
	}

	e, err := engine.New(cfg, device, onFrame)
	if err != nil {
		panic(err)
	}
	if err := e.Initialize(); err != nil {
		panic(err)
	}

	n, err := e.Systems().RegisterDirectory(*assetDir, 1)
	if err != nil {
		core.LogError("failed to register assets: %s", err)
	}
	core.LogInfo("registered %d assets from '%s'", n, *assetDir)

	start := time.Now()
	if err := e.Run(ctx); err != nil {
		core.LogError("%s", err)
	}
	e.Systems().Wait()
	core.LogInfo("ran %d frames in %s, %d bytes resident", e.FrameCount(), time.Since(start).Round(time.Millisecond),
		e.Systems().AssetManager().TotalConsumed())

	if err := e.Shutdown(); err != nil {
		core.LogError("%s", err)
		os.Exit(1)
	}
}
