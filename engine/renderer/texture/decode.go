package texture

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/math"
)

const (
	DecodeProgram = "builtin://shaders/decode/bc.comp"

	decodeGroupSize = 8
)

var ErrUnsupportedDecode = errors.New("no GPU decoder for format")

// CanDecode reports whether DecodeCompressed handles the format.
func CanDecode(format gpu.Format) bool {
	switch format {
	case gpu.FormatBC1RGBAUnorm, gpu.FormatBC1RGBASrgb, gpu.FormatBC3Unorm, gpu.FormatBC3Srgb, gpu.FormatBC4Unorm:
		return true
	default:
		return false
	}
}

// DecodedFormat is the uncompressed format a block format decodes to.
func DecodedFormat(format gpu.Format) gpu.Format {
	if format.IsSRGB() {
		return gpu.FormatRGBA8Srgb
	}
	return gpu.FormatRGBA8Unorm
}

func decodePushConstants(offset, layer, width, height uint32) []byte {
	push := make([]byte, 16)
	binary.LittleEndian.PutUint32(push[0:], offset)
	binary.LittleEndian.PutUint32(push[4:], layer)
	binary.LittleEndian.PutUint32(push[8:], width)
	binary.LittleEndian.PutUint32(push[12:], height)
	return push
}

// DecodeCompressed records a compute pass that expands block compressed texel
// data into a new RGBA8 image. The image is shared with the graphics queue.
func DecodeCompressed(cmd gpu.CommandBuffer, l *Layout) (gpu.Image, error) {
	if !CanDecode(l.Format) {
		return nil, fmt.Errorf("%w %s", ErrUnsupportedDecode, l.Format)
	}
	if l.Depth > 1 {
		return nil, fmt.Errorf("%w: 3D %s", ErrUnsupportedDecode, l.Format)
	}
	device := cmd.Device()

	info := l.CreateInfo()
	info.Format = DecodedFormat(l.Format)
	info.Usage = gpu.ImageUsageSampled | gpu.ImageUsageStorage
	info.Misc = gpu.ImageMiscConcurrentQueueGraphics | gpu.ImageMiscConcurrentQueueAsyncCompute
	img, err := device.CreateImage(info, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decode target: %w", err)
	}

	src, err := device.CreateBuffer(gpu.BufferCreateInfo{
		Domain: gpu.BufferDomainLinkedDeviceHost,
		Size:   uint64(len(l.Data)),
		Usage:  gpu.BufferUsageStorage,
	}, l.Data)
	if err != nil {
		img.Release()
		return nil, fmt.Errorf("failed to upload compressed blocks: %w", err)
	}
	defer src.Release()
	device.SetName(img, "decoded-"+l.Format.String())

	cmd.SetProgram(DecodeProgram, map[string]int{"FORMAT": int(l.Format)})
	cmd.SetStorageBuffer(0, 0, src)

	bw, bh, _ := l.Format.BlockDimensions()
	var offset uint64
	for level := uint32(0); level < l.Levels; level++ {
		width, height := gpu.MipExtent(l.Width, level), gpu.MipExtent(l.Height, level)
		size := l.subresourceSize(level)
		cmd.SetStorageImage(0, 1, img, level)
		for layer := uint32(0); layer < l.Layers; layer++ {
			cmd.PushConstants(decodePushConstants(uint32(offset), layer, width, height))
			cmd.Dispatch(
				math.DivRoundUp(math.DivRoundUp(width, bw), decodeGroupSize),
				math.DivRoundUp(math.DivRoundUp(height, bh), decodeGroupSize),
				1)
			offset += size
		}
	}
	cmd.Barrier(gpu.StageComputeShader, gpu.StageAllCommands)
	return img, nil
}
