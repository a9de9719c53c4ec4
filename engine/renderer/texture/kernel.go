package texture

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

// RegisterKernels installs the host implementation of the block decoder.
func RegisterKernels(reg gpu.KernelRegistrar) {
	reg.RegisterKernel(DecodeProgram, decodeKernel)
}

func expand565(c uint16) [3]uint8 {
	r := uint8(c>>11) & 31
	g := uint8(c>>5) & 63
	b := uint8(c) & 31
	return [3]uint8{r<<3 | r>>2, g<<2 | g>>4, b<<3 | b>>2}
}

func lerp(a, b uint8, num, den int) uint8 {
	return uint8((int(a)*(den-num) + int(b)*num + den/2) / den)
}

// decodeColorBlock expands an 8 byte BC1 color block into 16 RGBA texels.
func decodeColorBlock(block []byte, allowAlpha bool, out *[16][4]uint8) {
	c0 := binary.LittleEndian.Uint16(block[0:])
	c1 := binary.LittleEndian.Uint16(block[2:])
	e0, e1 := expand565(c0), expand565(c1)

	var palette [4][4]uint8
	palette[0] = [4]uint8{e0[0], e0[1], e0[2], 255}
	palette[1] = [4]uint8{e1[0], e1[1], e1[2], 255}
	if c0 > c1 || !allowAlpha {
		for c := 0; c < 3; c++ {
			palette[2][c] = lerp(e0[c], e1[c], 1, 3)
			palette[3][c] = lerp(e0[c], e1[c], 2, 3)
		}
		palette[2][3], palette[3][3] = 255, 255
	} else {
		for c := 0; c < 3; c++ {
			palette[2][c] = lerp(e0[c], e1[c], 1, 2)
		}
		palette[2][3] = 255
		palette[3] = [4]uint8{0, 0, 0, 0}
	}

	indices := binary.LittleEndian.Uint32(block[4:])
	for i := 0; i < 16; i++ {
		out[i] = palette[(indices>>(2*i))&3]
	}
}

// decodeAlphaBlock expands an 8 byte BC4 style block into 16 values.
func decodeAlphaBlock(block []byte, out *[16]uint8) {
	a0, a1 := block[0], block[1]
	var palette [8]uint8
	palette[0], palette[1] = a0, a1
	if a0 > a1 {
		for i := 1; i < 7; i++ {
			palette[i+1] = lerp(a0, a1, i, 7)
		}
	} else {
		for i := 1; i < 5; i++ {
			palette[i+1] = lerp(a0, a1, i, 5)
		}
		palette[6], palette[7] = 0, 255
	}

	var bits uint64
	for i := 0; i < 6; i++ {
		bits |= uint64(block[2+i]) << (8 * i)
	}
	for i := 0; i < 16; i++ {
		out[i] = palette[(bits>>(3*i))&7]
	}
}

func decodeBlock(format gpu.Format, block []byte) [16][4]uint8 {
	var texels [16][4]uint8
	switch format {
	case gpu.FormatBC1RGBAUnorm, gpu.FormatBC1RGBASrgb:
		decodeColorBlock(block, true, &texels)
	case gpu.FormatBC3Unorm, gpu.FormatBC3Srgb:
		var alpha [16]uint8
		decodeAlphaBlock(block[:8], &alpha)
		decodeColorBlock(block[8:], false, &texels)
		for i := range texels {
			texels[i][3] = alpha[i]
		}
	case gpu.FormatBC4Unorm:
		var red [16]uint8
		decodeAlphaBlock(block, &red)
		for i := range texels {
			texels[i] = [4]uint8{red[i], 0, 0, 255}
		}
	}
	return texels
}

func decodeKernel(inv gpu.KernelInvocation) error {
	format := gpu.Format(inv.Define("FORMAT"))
	push := inv.PushConstants()
	if len(push) < 16 {
		return fmt.Errorf("block decode push constants are %d bytes", len(push))
	}
	le := binary.LittleEndian
	offset, layer := le.Uint32(push[0:]), le.Uint32(push[4:])
	width, height := le.Uint32(push[8:]), le.Uint32(push[12:])

	src := inv.StorageBuffer(0, 0)
	dst, ok := inv.StorageImage(0, 1)
	if src == nil || !ok {
		return fmt.Errorf("block decode is missing a binding")
	}
	if layer >= uint32(len(dst.Layers)) || dst.Width != width || dst.Height != height {
		return fmt.Errorf("block decode target does not match %dx%d layer %d", width, height, layer)
	}
	out := dst.Layers[layer]

	bw, bh, blockBytes := format.BlockDimensions()
	blocksX, blocksY := (width+bw-1)/bw, (height+bh-1)/bh
	groups := inv.Groups()

	for by := uint32(0); by < groups[1]*decodeGroupSize && by < blocksY; by++ {
		for bx := uint32(0); bx < groups[0]*decodeGroupSize && bx < blocksX; bx++ {
			start := uint64(offset) + uint64(by*blocksX+bx)*uint64(blockBytes)
			if start+uint64(blockBytes) > uint64(len(src)) {
				return fmt.Errorf("block %d,%d outside source data", bx, by)
			}
			texels := decodeBlock(format, src[start:start+uint64(blockBytes)])
			for i, texel := range texels {
				x, y := bx*4+uint32(i%4), by*4+uint32(i/4)
				if x >= width || y >= height {
					continue
				}
				copy(out[(y*width+x)*4:], texel[:])
			}
		}
	}
	return nil
}
