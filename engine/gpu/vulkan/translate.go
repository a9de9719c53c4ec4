// Package vulkan maps the streaming core's device vocabulary onto Vulkan and
// probes a physical device for the capabilities the core depends on.
package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

var formatTable = map[gpu.Format]vk.Format{
	gpu.FormatR8Unorm:      vk.FormatR8Unorm,
	gpu.FormatRG8Unorm:     vk.FormatR8g8Unorm,
	gpu.FormatRGBA8Unorm:   vk.FormatR8g8b8a8Unorm,
	gpu.FormatRGBA8Srgb:    vk.FormatR8g8b8a8Srgb,
	gpu.FormatRGBA16Sfloat: vk.FormatR16g16b16a16Sfloat,
	gpu.FormatBC1RGBAUnorm: vk.FormatBc1RgbaUnormBlock,
	gpu.FormatBC1RGBASrgb:  vk.FormatBc1RgbaSrgbBlock,
	gpu.FormatBC3Unorm:     vk.FormatBc3UnormBlock,
	gpu.FormatBC3Srgb:      vk.FormatBc3SrgbBlock,
	gpu.FormatBC4Unorm:     vk.FormatBc4UnormBlock,
	gpu.FormatBC5Unorm:     vk.FormatBc5UnormBlock,
	gpu.FormatBC7Unorm:     vk.FormatBc7UnormBlock,
	gpu.FormatBC7Srgb:      vk.FormatBc7SrgbBlock,
}

// Formats lists every format with a Vulkan equivalent.
func Formats() []gpu.Format {
	out := make([]gpu.Format, 0, len(formatTable))
	for f := gpu.FormatUndefined + 1; f.Valid(); f++ {
		if _, ok := formatTable[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func ToVkFormat(format gpu.Format) vk.Format {
	if f, ok := formatTable[format]; ok {
		return f
	}
	return vk.FormatUndefined
}

func FromVkFormat(format vk.Format) gpu.Format {
	for f, v := range formatTable {
		if v == format {
			return f
		}
	}
	return gpu.FormatUndefined
}

func ToVkBufferUsage(usage gpu.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage&gpu.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage&gpu.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	if usage&gpu.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage&gpu.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage&gpu.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if usage&gpu.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if usage&gpu.BufferUsageIndirect != 0 {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func ToVkImageUsage(usage gpu.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if usage&gpu.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if usage&gpu.ImageUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if usage&gpu.ImageUsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if usage&gpu.ImageUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}

// FromVkFormatFeatures keeps the feature bits the streaming core inspects.
func FromVkFormatFeatures(features vk.FormatFeatureFlags) gpu.FormatFeature {
	bits := vk.FormatFeatureFlagBits(features)
	var out gpu.FormatFeature
	if bits&vk.FormatFeatureSampledImageBit != 0 {
		out |= gpu.FormatFeatureSampledImage
	}
	if bits&vk.FormatFeatureStorageImageBit != 0 {
		out |= gpu.FormatFeatureStorageImage
	}
	if bits&vk.FormatFeatureBlitSrcBit != 0 {
		out |= gpu.FormatFeatureBlitSrc
	}
	if bits&vk.FormatFeatureBlitDstBit != 0 {
		out |= gpu.FormatFeatureBlitDst
	}
	return out
}
