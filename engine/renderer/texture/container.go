package texture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/vfs"
)

const (
	Magic      = "ANIMATX1"
	headerSize = 36
)

var ErrMalformed = errors.New("malformed texture container")

type ImageType uint32

const (
	Type2D ImageType = iota
	Type2DArray
	TypeCube
	Type3D
)

type Flags uint32

const (
	FlagCubeCompatible Flags = 1 << iota
	FlagGenerateMipmapOnLoad
	FlagLZ4Compressed
)

type Header struct {
	Format gpu.Format
	Type   ImageType
	Width  uint32
	Height uint32
	Depth  uint32
	Layers uint32
	/** @brief Number of stored levels, at least 1. */
	Levels  uint32
	Flags   Flags
	Swizzle [4]gpu.ComponentSwizzle
}

/** @brief Texel data of every level and layer, stored level major. */
type Layout struct {
	Header
	Data []byte
}

func (l *Layout) subresourceSize(level uint32) uint64 {
	return l.Format.SubresourceSize(gpu.MipExtent(l.Width, level), gpu.MipExtent(l.Height, level), gpu.MipExtent(l.Depth, level))
}

// DataSize is the number of texel bytes the header describes.
func (l *Layout) DataSize() uint64 {
	var size uint64
	for level := uint32(0); level < l.Levels; level++ {
		size += l.subresourceSize(level) * uint64(l.Layers)
	}
	return size
}

func (l *Layout) Subresource(layer, level uint32) []byte {
	var off uint64
	for lv := uint32(0); lv < level; lv++ {
		off += l.subresourceSize(lv) * uint64(l.Layers)
	}
	size := l.subresourceSize(level)
	off += size * uint64(layer)
	return l.Data[off : off+size]
}

// InitialData splits the texel data in the order gpu.ImageInitialData expects.
func (l *Layout) InitialData() []gpu.ImageInitialData {
	out := make([]gpu.ImageInitialData, 0, l.Levels*l.Layers)
	for level := uint32(0); level < l.Levels; level++ {
		for layer := uint32(0); layer < l.Layers; layer++ {
			out = append(out, gpu.ImageInitialData{Data: l.Subresource(layer, level)})
		}
	}
	return out
}

func (l *Layout) CreateInfo() gpu.ImageCreateInfo {
	info := gpu.ImageCreateInfo{
		Format:  l.Format,
		Width:   l.Width,
		Height:  l.Height,
		Depth:   l.Depth,
		Levels:  l.Levels,
		Layers:  l.Layers,
		Usage:   gpu.ImageUsageSampled,
		Swizzle: l.Swizzle,
	}
	if l.Flags&FlagCubeCompatible != 0 || l.Type == TypeCube {
		info.Flags |= gpu.ImageCreateCubeCompatible
	}
	return info
}

func (l *Layout) validate() error {
	if !l.Format.Valid() {
		return fmt.Errorf("%w: unknown format %d", ErrMalformed, l.Format)
	}
	if l.Width == 0 || l.Height == 0 || l.Depth == 0 || l.Layers == 0 || l.Levels == 0 {
		return fmt.Errorf("%w: zero extent %dx%dx%d, %d layers, %d levels", ErrMalformed, l.Width, l.Height, l.Depth, l.Layers, l.Levels)
	}
	if l.Levels > gpu.MipLevels(l.Width, l.Height, l.Depth) {
		return fmt.Errorf("%w: %d levels for %dx%dx%d", ErrMalformed, l.Levels, l.Width, l.Height, l.Depth)
	}
	if l.Type == TypeCube && l.Layers%6 != 0 {
		return fmt.Errorf("%w: cube with %d layers", ErrMalformed, l.Layers)
	}
	return nil
}

// IsContainer reports whether data starts with the container magic.
func IsContainer(data []byte) bool {
	return len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], []byte(Magic))
}

// Encode serializes a layout. With FlagLZ4Compressed set the texel data is
// stored as an LZ4 frame.
func Encode(l *Layout) ([]byte, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	if uint64(len(l.Data)) != l.DataSize() {
		return nil, fmt.Errorf("%w: %d texel bytes, expected %d", ErrMalformed, len(l.Data), l.DataSize())
	}

	buf := &bytes.Buffer{}
	buf.WriteString(Magic)
	if err := binary.Write(buf, binary.LittleEndian, l.Header); err != nil {
		return nil, err
	}
	if l.Flags&FlagLZ4Compressed != 0 {
		if err := vfs.Compress(buf, l.Data); err != nil {
			return nil, fmt.Errorf("failed to compress texel data: %w", err)
		}
	} else {
		buf.Write(l.Data)
	}
	return buf.Bytes(), nil
}

func Parse(data []byte) (*Layout, error) {
	if !IsContainer(data) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	if len(data) < len(Magic)+headerSize {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
	}

	l := &Layout{}
	if err := binary.Read(bytes.NewReader(data[len(Magic):len(Magic)+headerSize]), binary.LittleEndian, &l.Header); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if err := l.validate(); err != nil {
		return nil, err
	}

	payload := data[len(Magic)+headerSize:]
	if l.Flags&FlagLZ4Compressed != 0 {
		raw, err := vfs.Decompress(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
		}
		payload = raw
	}
	if uint64(len(payload)) != l.DataSize() {
		return nil, fmt.Errorf("%w: %d texel bytes, expected %d", ErrMalformed, len(payload), l.DataSize())
	}
	l.Data = payload
	return l, nil
}
