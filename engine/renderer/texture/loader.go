package texture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Load turns a file into a texture layout. Containers are parsed directly and
// everything else goes through the registered image decoders.
func Load(data []byte, srgb bool) (*Layout, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMalformed)
	}
	if IsContainer(data) {
		return Parse(data)
	}
	return LoadGeneric(data, srgb)
}

// LoadGeneric decodes PNG, JPEG, BMP, TIFF or WebP into a single level RGBA8
// layout that asks for mipmaps on load.
func LoadGeneric(data []byte, srgb bool) (*Layout, error) {
	img, kind, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	bounds := img.Bounds()
	rgba, ok := img.(*image.NRGBA)
	if !ok || rgba.Stride != 4*bounds.Dx() || bounds.Min != (image.Point{}) {
		rgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	format := gpu.FormatRGBA8Unorm
	if srgb {
		format = gpu.FormatRGBA8Srgb
	}
	l := &Layout{
		Header: Header{
			Format: format,
			Type:   Type2D,
			Width:  uint32(bounds.Dx()),
			Height: uint32(bounds.Dy()),
			Depth:  1,
			Layers: 1,
			Levels: 1,
			Flags:  FlagGenerateMipmapOnLoad,
		},
		Data: rgba.Pix,
	}
	if err := l.validate(); err != nil {
		return nil, fmt.Errorf("decoded %s image: %w", kind, err)
	}
	return l, nil
}
