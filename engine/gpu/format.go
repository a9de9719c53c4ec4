package gpu

type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatRG8Unorm
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatRGBA16Sfloat
	FormatBC1RGBAUnorm
	FormatBC1RGBASrgb
	FormatBC3Unorm
	FormatBC3Srgb
	FormatBC4Unorm
	FormatBC5Unorm
	FormatBC7Unorm
	FormatBC7Srgb
	formatCount
)

type FormatFeature uint32

const (
	FormatFeatureSampledImage FormatFeature = 1 << iota
	FormatFeatureStorageImage
	FormatFeatureBlitSrc
	FormatFeatureBlitDst
)

type CompressionType int

const (
	CompressionUncompressed CompressionType = iota
	CompressionBC
)

type formatInfo struct {
	name        string
	blockWidth  uint32
	blockHeight uint32
	blockBytes  uint32
	compression CompressionType
	srgb        bool
}

var formats = [formatCount]formatInfo{
	FormatUndefined:    {"undefined", 1, 1, 0, CompressionUncompressed, false},
	FormatR8Unorm:      {"r8-unorm", 1, 1, 1, CompressionUncompressed, false},
	FormatRG8Unorm:     {"rg8-unorm", 1, 1, 2, CompressionUncompressed, false},
	FormatRGBA8Unorm:   {"rgba8-unorm", 1, 1, 4, CompressionUncompressed, false},
	FormatRGBA8Srgb:    {"rgba8-srgb", 1, 1, 4, CompressionUncompressed, true},
	FormatRGBA16Sfloat: {"rgba16-sfloat", 1, 1, 8, CompressionUncompressed, false},
	FormatBC1RGBAUnorm: {"bc1-rgba-unorm", 4, 4, 8, CompressionBC, false},
	FormatBC1RGBASrgb:  {"bc1-rgba-srgb", 4, 4, 8, CompressionBC, true},
	FormatBC3Unorm:     {"bc3-unorm", 4, 4, 16, CompressionBC, false},
	FormatBC3Srgb:      {"bc3-srgb", 4, 4, 16, CompressionBC, true},
	FormatBC4Unorm:     {"bc4-unorm", 4, 4, 8, CompressionBC, false},
	FormatBC5Unorm:     {"bc5-unorm", 4, 4, 16, CompressionBC, false},
	FormatBC7Unorm:     {"bc7-unorm", 4, 4, 16, CompressionBC, false},
	FormatBC7Srgb:      {"bc7-srgb", 4, 4, 16, CompressionBC, true},
}

func (f Format) Valid() bool {
	return f > FormatUndefined && f < formatCount
}

func (f Format) String() string {
	if f >= formatCount {
		return "invalid"
	}
	return formats[f].name
}

// BlockDimensions returns the texel footprint of one block and its size in bytes.
func (f Format) BlockDimensions() (width, height, bytes uint32) {
	if f >= formatCount {
		return 1, 1, 0
	}
	info := formats[f]
	return info.blockWidth, info.blockHeight, info.blockBytes
}

func (f Format) Compression() CompressionType {
	if f >= formatCount {
		return CompressionUncompressed
	}
	return formats[f].compression
}

func (f Format) IsSRGB() bool {
	return f < formatCount && formats[f].srgb
}

// SubresourceSize is the byte size of one layer of one mip level.
func (f Format) SubresourceSize(width, height, depth uint32) uint64 {
	bw, bh, bb := f.BlockDimensions()
	bx := uint64((width + bw - 1) / bw)
	by := uint64((height + bh - 1) / bh)
	return bx * by * uint64(depth) * uint64(bb)
}

// MipLevels is the length of a full mip chain for the given extent.
func MipLevels(width, height, depth uint32) uint32 {
	size := width
	if height > size {
		size = height
	}
	if depth > size {
		size = depth
	}
	levels := uint32(0)
	for size != 0 {
		levels++
		size >>= 1
	}
	if levels == 0 {
		levels = 1
	}
	return levels
}

// MipExtent returns the extent of a level, clamped to 1.
func MipExtent(extent, level uint32) uint32 {
	extent >>= level
	if extent == 0 {
		return 1
	}
	return extent
}
