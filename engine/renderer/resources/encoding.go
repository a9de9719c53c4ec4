package resources

import (
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/renderer/arena"
	"github.com/spaghettifunk/anima-stream/engine/renderer/meshlet"
)

type MeshEncoding int

const (
	// MeshEncodingClassic decodes meshlets into index and vertex buffers drawn
	// with indexed indirect draws.
	MeshEncodingClassic MeshEncoding = iota
	// MeshEncodingMeshletDecoded decodes meshlets into vertex buffers consumed
	// by a meshlet pipeline through decoded headers.
	MeshEncodingMeshletDecoded
	// MeshEncodingMeshletEncoded keeps the payload encoded; mesh shaders decode
	// it while drawing.
	MeshEncodingMeshletEncoded
)

func (e MeshEncoding) String() string {
	switch e {
	case MeshEncodingClassic:
		return "classic"
	case MeshEncodingMeshletDecoded:
		return "decoded"
	case MeshEncodingMeshletEncoded:
		return "encoded"
	default:
		return "unknown"
	}
}

// resolveEncoding turns the configured name into an encoding. auto picks the
// encoded path on devices with mesh shaders.
func resolveEncoding(name string, device gpu.Device) (MeshEncoding, error) {
	switch name {
	case "auto", "":
		if device.SupportsMeshShader() {
			return MeshEncodingMeshletEncoded, nil
		}
		return MeshEncodingClassic, nil
	case "classic":
		return MeshEncodingClassic, nil
	case "decoded":
		return MeshEncodingMeshletDecoded, nil
	case "encoded":
		return MeshEncodingMeshletEncoded, nil
	default:
		return 0, fmt.Errorf("unknown mesh encoding '%s'", name)
	}
}

const (
	indexBytesPerMeshlet    = meshlet.MaxElements * 3 * 4
	positionBytesPerMeshlet = meshlet.MaxElements * 2 * 4
	varyingBytesPerMeshlet  = meshlet.MaxElements * 3 * 4
	skinBytesPerMeshlet     = meshlet.MaxElements * 2 * 4
	payloadBytesPerMeshlet  = meshlet.PayloadWordsPerMeshlet * 4
)

// meshBuffersConfig lays out the three mesh ranges for an encoding. Every
// element is one meshlet slot.
func meshBuffersConfig(encoding MeshEncoding, style meshlet.Style, tiers, primeChunks uint32) *arena.MeshBuffersConfig {
	storage := gpu.BufferUsageStorage | gpu.BufferUsageTransferDst
	config := &arena.MeshBuffersConfig{
		Name:        "mesh-" + encoding.String(),
		Tiers:       tiers,
		PrimeChunks: primeChunks,
	}

	if encoding == MeshEncodingMeshletEncoded {
		config.Ranges[arena.RangeIndexOrPayload] = arena.RangeLayout{
			Slots: []arena.SlotLayout{{Stream: arena.StreamPayload, ElementSize: payloadBytesPerMeshlet}},
			Usage: storage,
		}
		config.Ranges[arena.RangeAttributeOrStream] = arena.RangeLayout{
			Slots: []arena.SlotLayout{{Stream: arena.StreamDescriptors, ElementSize: uint64(style.StreamCount()) * meshlet.StreamSize}},
			Usage: storage,
		}
		config.Ranges[arena.RangeIndirectOrHeader] = arena.RangeLayout{
			Slots: []arena.SlotLayout{
				{Stream: arena.StreamHeader, ElementSize: meshlet.RuntimeHeaderSize},
				{Stream: arena.StreamBounds, ElementSize: meshlet.BoundsRecordSize},
			},
			Usage: storage,
		}
		return config
	}

	config.Ranges[arena.RangeIndexOrPayload] = arena.RangeLayout{
		Slots: []arena.SlotLayout{{Stream: arena.StreamIndex, ElementSize: indexBytesPerMeshlet}},
		Usage: storage | gpu.BufferUsageIndex,
	}

	vertex := []arena.SlotLayout{{Stream: arena.StreamPosition, ElementSize: positionBytesPerMeshlet}}
	if style.AttributeWords() > 0 {
		vertex = append(vertex, arena.SlotLayout{Stream: arena.StreamVarying, ElementSize: varyingBytesPerMeshlet})
	}
	if style == meshlet.StyleSkinned {
		vertex = append(vertex, arena.SlotLayout{Stream: arena.StreamSkin, ElementSize: skinBytesPerMeshlet})
	}
	config.Ranges[arena.RangeAttributeOrStream] = arena.RangeLayout{
		Slots: vertex,
		Usage: storage | gpu.BufferUsageVertex,
	}

	header := arena.SlotLayout{Stream: arena.StreamIndirect, ElementSize: meshlet.IndirectRecordSize}
	if encoding == MeshEncodingMeshletDecoded {
		header = arena.SlotLayout{Stream: arena.StreamHeader, ElementSize: meshlet.DecodedHeaderSize}
	}
	config.Ranges[arena.RangeIndirectOrHeader] = arena.RangeLayout{
		Slots: []arena.SlotLayout{header, {Stream: arena.StreamBounds, ElementSize: meshlet.BoundsRecordSize}},
		Usage: storage | gpu.BufferUsageIndirect,
	}
	return config
}
