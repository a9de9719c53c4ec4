package resources

import (
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/assets"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/renderer/texture"
	"github.com/spaghettifunk/anima-stream/engine/vfs"
)

// instantiateImage loads a texture file into an image. A nil image means the
// asset failed and the fallback of its class is shown instead.
func (rm *ResourceManager) instantiateImage(id assets.AssetID, class assets.AssetClass, file vfs.File) (gpu.Image, uint64) {
	if file.Size() == 0 {
		core.LogWarn("image asset %d (%s) is empty", id, file.Name())
		return nil, 0
	}
	mapping, err := file.Map()
	if err != nil {
		core.LogError("failed to map image asset %d: %s", id, err)
		return nil, 0
	}
	defer mapping.Close()

	layout, err := texture.Load(mapping.Data(), class == assets.ClassColor)
	if err != nil {
		core.LogError("failed to load image asset %d (%s): %s", id, file.Name(), err)
		return nil, 0
	}

	img, err := rm.createImage(layout)
	if err != nil {
		core.LogError("failed to create image asset %d: %s", id, err)
		return nil, 0
	}
	rm.device.SetName(img, fmt.Sprintf("ImageAssetID-%d", id))
	return img, img.AllocationSize()
}

func (rm *ResourceManager) createImage(layout *texture.Layout) (gpu.Image, error) {
	if !rm.device.ImageFormatSupported(layout.Format, gpu.FormatFeatureSampledImage) &&
		layout.Format.Compression() != gpu.CompressionUncompressed {
		core.LogInfo("format %s is not supported, decoding it on the GPU", layout.Format)
		return rm.decodeImage(layout)
	}

	info := layout.CreateInfo()
	info.Misc = gpu.ImageMiscConcurrentQueueGraphics | gpu.ImageMiscConcurrentQueueAsyncCompute
	if info.Levels == 1 &&
		layout.Flags&texture.FlagGenerateMipmapOnLoad != 0 &&
		rm.device.ImageFormatSupported(info.Format, gpu.FormatFeatureBlitSrc) &&
		rm.device.ImageFormatSupported(info.Format, gpu.FormatFeatureBlitDst) {
		info.Levels = 0
		info.Misc |= gpu.ImageMiscGenerateMips
	}
	if !rm.device.ImageFormatSupported(info.Format, gpu.FormatFeatureSampledImage) {
		return nil, fmt.Errorf("format %s cannot be sampled", info.Format)
	}
	return rm.device.CreateImage(info, layout.InitialData())
}

// decodeImage expands block compressed data on the async compute queue. The
// generic queue waits for the decode before it samples the image.
func (rm *ResourceManager) decodeImage(layout *texture.Layout) (gpu.Image, error) {
	cmd := rm.device.RequestCommandBuffer(gpu.QueueAsyncCompute)
	img, err := texture.DecodeCompressed(cmd, layout)
	if err != nil {
		return nil, err
	}
	sem, err := rm.device.Submit(cmd, true)
	if err != nil {
		img.Release()
		return nil, fmt.Errorf("decode submission failed: %w", err)
	}
	rm.device.AddWaitSemaphore(gpu.QueueGeneric, sem, gpu.StageTopOfPipe)
	return img, nil
}
