package systems

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima-stream/engine/assets"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu/headless"
	"github.com/spaghettifunk/anima-stream/engine/renderer/meshlet"
	"github.com/spaghettifunk/anima-stream/engine/renderer/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAssets(t *testing.T, dir string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{10, 20, 30, 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crate.png"), buf.Bytes(), 0o644))

	mesh := &meshlet.Mesh{
		Indices:    []uint32{0, 1, 2, 2, 1, 3},
		Positions:  []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}},
		Attributes: [][]uint32{{1, 2, 3}, {1, 2, 3}, {1, 2, 3}, {1, 2, 3}},
	}
	blob, err := meshlet.Encode(mesh, meshlet.StyleTextured)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crate.msh"), blob, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
}

func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Jobs.Workers = 2
	cfg.Jobs.QueueSize = 4
	cfg.Streaming.MeshEncoding = "classic"
	cfg.Arena.Tiers = 1
	return cfg
}

func TestSystemManagerStreamsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeAssets(t, dir)

	sm, err := NewSystemManager(testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())
	defer sm.Shutdown()

	n, err := sm.RegisterDirectory(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	imageID, err := sm.AssetManager().RegisterPath(filepath.Join(dir, "crate.png"), 1)
	require.NoError(t, err)
	meshID, err := sm.AssetManager().RegisterPath(filepath.Join(dir, "crate.msh"), 1)
	require.NoError(t, err)

	sm.Update()
	sm.Wait()
	sm.Update()

	rm := sm.ResourceManager()
	assert.NotEqual(t, rm.FallbackImage(assets.ClassColor).View(), rm.GetImageView(imageID))
	params := rm.GetDrawParams(meshID)
	assert.Equal(t, resources.DrawClassic, params.Kind)
	assert.Equal(t, uint32(1), params.Classic.DrawCount)
	assert.NotZero(t, sm.AssetManager().TotalConsumed())
}

func TestSystemManagerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.Workers = 0
	_, err := NewSystemManager(cfg, nil)
	assert.Error(t, err)
}

func TestSystemManagerMissingCapability(t *testing.T) {
	caps := headless.DefaultCapabilities()
	caps.SubgroupSizeControl = false
	sm, err := NewSystemManager(testConfig(), headless.New(caps))
	require.NoError(t, err)
	assert.ErrorIs(t, sm.Initialize(), core.ErrMissingDeviceCapability)
	require.NoError(t, sm.jobSystem.Shutdown())
}

func TestSystemManagerWatchesDirectory(t *testing.T) {
	cfg := testConfig()
	cfg.Streaming.WatchDir = t.TempDir()
	sm, err := NewSystemManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())
	assert.ErrorIs(t, sm.AssetManager().Watch(cfg.Streaming.WatchDir), assets.ErrAlreadyWatching)
	require.NoError(t, sm.Shutdown())
}
