package resources

import (
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/assets"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

const (
	fallbackZero = iota
	fallbackColor
	fallbackNormal
	fallbackMetallicRoughness
	fallbackCount
)

var fallbackTexels = [fallbackCount][4]byte{
	fallbackZero:              {0x00, 0x00, 0x00, 0x00},
	fallbackColor:             {0xff, 0x00, 0xff, 0xff},
	fallbackNormal:            {0x80, 0x80, 0xff, 0xff},
	fallbackMetallicRoughness: {0x00, 0x00, 0xff, 0xff},
}

func (rm *ResourceManager) createFallbacks() error {
	info := gpu.Immutable2DImage(1, 1, gpu.FormatRGBA8Unorm)
	info.Misc = gpu.ImageMiscConcurrentQueueGraphics |
		gpu.ImageMiscConcurrentQueueAsyncCompute |
		gpu.ImageMiscConcurrentQueueAsyncTransfer

	for i, texel := range fallbackTexels {
		img, err := rm.device.CreateImage(info, []gpu.ImageInitialData{{Data: texel[:]}})
		if err != nil {
			rm.releaseFallbacks()
			return fmt.Errorf("failed to create fallback image: %w", err)
		}
		rm.device.SetName(img, fmt.Sprintf("fallback-%d", i))
		rm.fallbacks[i] = img
	}
	return nil
}

func (rm *ResourceManager) releaseFallbacks() {
	for i, img := range rm.fallbacks {
		if img != nil {
			img.Release()
			rm.fallbacks[i] = nil
		}
	}
}

func (rm *ResourceManager) fallbackFor(class assets.AssetClass) gpu.Image {
	switch class {
	case assets.ClassColor:
		return rm.fallbacks[fallbackColor]
	case assets.ClassNormal:
		return rm.fallbacks[fallbackNormal]
	case assets.ClassMetallicRoughness:
		return rm.fallbacks[fallbackMetallicRoughness]
	default:
		return rm.fallbacks[fallbackZero]
	}
}

// FallbackImage returns the placeholder substituted for absent assets of a
// class.
func (rm *ResourceManager) FallbackImage(class assets.AssetClass) gpu.Image {
	return rm.fallbackFor(class)
}
