package headless

import (
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

// tracked counts the unsubmitted command buffers referencing a resource, so a
// release only frees memory once that work has executed.
type tracked struct {
	pending          int
	releaseRequested bool
}

type Buffer struct {
	tracked
	id     uuid.UUID
	device *Device
	info   gpu.BufferCreateInfo
	data   []byte
}

func (b *Buffer) ID() uuid.UUID { return b.id }
func (b *Buffer) Size() uint64 { return b.info.Size }
func (b *Buffer) Usage() gpu.BufferUsage { return b.info.Usage }

func (b *Buffer) Release() {
	b.device.execMu.Lock()
	defer b.device.execMu.Unlock()
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	if b.releaseRequested {
		return
	}
	b.releaseRequested = true
	if b.pending == 0 {
		b.free()
	}
}

func (b *Buffer) retain() {
	b.pending++
}

func (b *Buffer) drop() {
	b.pending--
	if b.pending == 0 && b.releaseRequested {
		b.free()
	}
}

func (b *Buffer) free() {
	b.data = nil
	b.device.liveBuffers.Add(-1)
}

type Image struct {
	tracked
	id     uuid.UUID
	device *Device
	info   gpu.ImageCreateInfo
	levels [][][]byte
}

func (i *Image) ID() uuid.UUID { return i.id }
func (i *Image) CreateInfo() gpu.ImageCreateInfo { return i.info }
func (i *Image) View() gpu.ImageView { return imageView{image: i} }

func (i *Image) AllocationSize() uint64 {
	var size uint64
	for _, layers := range i.levels {
		for _, layer := range layers {
			size += uint64(len(layer))
		}
	}
	return size
}

func (i *Image) Release() {
	i.device.execMu.Lock()
	defer i.device.execMu.Unlock()
	i.device.mu.Lock()
	defer i.device.mu.Unlock()
	if i.releaseRequested {
		return
	}
	i.releaseRequested = true
	if i.pending == 0 {
		i.free()
	}
}

func (i *Image) retain() {
	i.pending++
}

func (i *Image) drop() {
	i.pending--
	if i.pending == 0 && i.releaseRequested {
		i.free()
	}
}

func (i *Image) free() {
	i.levels = nil
	i.device.liveImages.Add(-1)
}

// generateMips box filters level 0 down the chain. Only 8 bit unorm and srgb
// formats are filtered; other formats keep zeroed levels.
func (i *Image) generateMips() {
	_, _, texel := i.info.Format.BlockDimensions()
	if i.info.Format.Compression() != gpu.CompressionUncompressed || i.info.Format == gpu.FormatRGBA16Sfloat {
		return
	}
	channels := int(texel)
	for level := uint32(1); level < i.info.Levels; level++ {
		sw, sh := gpu.MipExtent(i.info.Width, level-1), gpu.MipExtent(i.info.Height, level-1)
		dw, dh := gpu.MipExtent(i.info.Width, level), gpu.MipExtent(i.info.Height, level)
		for layer := uint32(0); layer < i.info.Layers; layer++ {
			src := i.levels[level-1][layer]
			dst := i.levels[level][layer]
			for y := uint32(0); y < dh; y++ {
				for x := uint32(0); x < dw; x++ {
					x0, y0 := min(2*x, sw-1), min(2*y, sh-1)
					x1, y1 := min(2*x+1, sw-1), min(2*y+1, sh-1)
					for c := 0; c < channels; c++ {
						sum := uint32(src[(int(y0*sw+x0))*channels+c]) +
							uint32(src[(int(y0*sw+x1))*channels+c]) +
							uint32(src[(int(y1*sw+x0))*channels+c]) +
							uint32(src[(int(y1*sw+x1))*channels+c])
						dst[int(y*dw+x)*channels+c] = byte((sum + 2) / 4)
					}
				}
			}
		}
	}
}

type imageView struct {
	image *Image
}

func (v imageView) Image() gpu.Image { return v.image }
func (v imageView) Format() gpu.Format { return v.image.info.Format }
