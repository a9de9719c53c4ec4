package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBlockDimensions(t *testing.T) {
	w, h, b := FormatBC1RGBAUnorm.BlockDimensions()
	assert.Equal(t, []uint32{4, 4, 8}, []uint32{w, h, b})
	assert.Equal(t, CompressionBC, FormatBC7Srgb.Compression())
	assert.True(t, FormatBC7Srgb.IsSRGB())
	assert.Equal(t, CompressionUncompressed, FormatRGBA8Unorm.Compression())
	assert.False(t, FormatUndefined.Valid())
	assert.False(t, Format(999).Valid())
}

func TestSubresourceSize(t *testing.T) {
	assert.Equal(t, uint64(16*16*4), FormatRGBA8Unorm.SubresourceSize(16, 16, 1))
	// 5x5 texels round up to 2x2 blocks
	assert.Equal(t, uint64(4*8), FormatBC1RGBAUnorm.SubresourceSize(5, 5, 1))
}

func TestMipLevels(t *testing.T) {
	assert.Equal(t, uint32(1), MipLevels(1, 1, 1))
	assert.Equal(t, uint32(9), MipLevels(256, 16, 1))
	assert.Equal(t, uint32(1), MipExtent(4, 5))
	assert.Equal(t, uint32(2), MipExtent(8, 2))
}
