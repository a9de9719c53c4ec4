package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/stretchr/testify/assert"
)

func TestFormatRoundTrip(t *testing.T) {
	for _, f := range Formats() {
		assert.Equal(t, f, FromVkFormat(ToVkFormat(f)), f.String())
	}
	assert.Equal(t, vk.FormatUndefined, ToVkFormat(gpu.FormatUndefined))
	assert.Equal(t, gpu.FormatUndefined, FromVkFormat(vk.FormatD32Sfloat))
}

func TestUsageTranslation(t *testing.T) {
	usage := ToVkBufferUsage(gpu.BufferUsageStorage | gpu.BufferUsageIndirect)
	bits := vk.BufferUsageFlagBits(usage)
	assert.NotZero(t, bits&vk.BufferUsageStorageBufferBit)
	assert.NotZero(t, bits&vk.BufferUsageIndirectBufferBit)
	assert.Zero(t, bits&vk.BufferUsageVertexBufferBit)

	img := vk.ImageUsageFlagBits(ToVkImageUsage(gpu.ImageUsageSampled))
	assert.Equal(t, vk.ImageUsageSampledBit, img)
}

func TestFormatFeatures(t *testing.T) {
	features := vk.FormatFeatureFlags(vk.FormatFeatureSampledImageBit | vk.FormatFeatureBlitSrcBit)
	assert.Equal(t, gpu.FormatFeatureSampledImage|gpu.FormatFeatureBlitSrc, FromVkFormatFeatures(features))
}

func TestSubgroupRange(t *testing.T) {
	lo, hi := subgroupRange(vendorAMD)
	assert.Equal(t, uint32(5), lo)
	assert.Equal(t, uint32(6), hi)
}
