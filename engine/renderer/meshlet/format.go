package meshlet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	Magic = "MESHLET2"

	// MaxElements bounds both primitives and vertices of one meshlet.
	MaxElements = 32
	// ChunkSize is the number of meshlets in one chunk group.
	ChunkSize = 32
	// PayloadWordsPerMeshlet is the payload budget of one meshlet slot.
	PayloadWordsPerMeshlet = 256

	HeaderSize       = 16
	BoundsSize       = 20
	StreamSize       = 16
	BoundsRecordSize = 32
)

var ErrMalformed = errors.New("malformed meshlet blob")

type Style uint32

const (
	StyleWireframe Style = iota
	StyleUntextured
	StyleTextured
	StyleSkinned
	styleCount
)

var styleNames = [styleCount]string{"wireframe", "untextured", "textured", "skinned"}

func (s Style) Valid() bool {
	return s < styleCount
}

func (s Style) String() string {
	if !s.Valid() {
		return "invalid"
	}
	return styleNames[s]
}

// StreamCount is the number of encoded streams per meshlet: the primitive
// stream, two position words and the attribute words of the style.
func (s Style) StreamCount() uint32 {
	return 3 + s.AttributeWords()
}

// AttributeWords is the number of 32 bit words per vertex beyond position.
func (s Style) AttributeWords() uint32 {
	switch s {
	case StyleUntextured:
		return 1
	case StyleTextured:
		return 3
	case StyleSkinned:
		return 5
	default:
		return 0
	}
}

func ParseStyle(name string) (Style, error) {
	for i, n := range styleNames {
		if n == name {
			return Style(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mesh style '%s'", name)
}

type Header struct {
	Style            Style
	StreamCount      uint32
	MeshletCount     uint32
	PayloadSizeWords uint32
}

/** @brief Bounding sphere plus a backface cone, one per meshlet or chunk group. */
type Bounds struct {
	Center [3]float32
	Radius float32
	/** @brief Cone axis xyz and cutoff, snorm8. */
	ConeAxisCutoff [4]int8
}

/**
 * @brief Encoding of one stream of one meshlet. For stream 0, BaseOrCounts holds
 * the primitive and vertex counts and Bits the index width. For attribute streams
 * BaseOrCounts holds the base of the low and high 16 bit lanes and Bits packs
 * the lane widths as bits0 | bits1 << 8.
 */
type Stream struct {
	BaseOrCounts [2]uint32
	Bits         uint32
	/** @brief Payload word where the stream starts. */
	Offset uint32
}

func (s Stream) PrimitiveCount() uint32 {
	return s.BaseOrCounts[0]
}

func (s Stream) VertexCount() uint32 {
	return s.BaseOrCounts[1]
}

func (s Stream) laneBits() (uint32, uint32) {
	return s.Bits & 0xff, (s.Bits >> 8) & 0xff
}

// MeshView is a read-only view of a parsed meshlet blob. The raw slices alias
// the source bytes.
type MeshView struct {
	Header      Header
	Bounds      []Bounds
	ChunkBounds []Bounds
	Streams     []Stream
	Payload     []uint32

	NumPrimitives uint32
	NumVertices   uint32

	rawStreams []byte
	rawPayload []byte
}

func (v *MeshView) NumChunks() uint32 {
	return (v.Header.MeshletCount + ChunkSize - 1) / ChunkSize
}

// Stream returns the descriptor of stream s of meshlet m.
func (v *MeshView) Stream(m, s uint32) Stream {
	return v.Streams[m*v.Header.StreamCount+s]
}

func (v *MeshView) StreamBytes() []byte {
	return v.rawStreams
}

func (v *MeshView) PayloadBytes() []byte {
	return v.rawPayload
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func primitiveWords(s Stream) uint64 {
	return (uint64(s.PrimitiveCount())*3*uint64(s.Bits) + 31) / 32
}

func attributeWords(s Stream, verts uint32) uint64 {
	b0, b1 := s.laneBits()
	return (uint64(verts)*uint64(b0+b1) + 31) / 32
}

// ReadHeader validates and returns the header of a blob without looking at
// the rest of it.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < len(Magic)+HeaderSize {
		return Header{}, malformed("blob of %d bytes is too small", len(data))
	}
	if !bytes.Equal(data[:len(Magic)], []byte(Magic)) {
		return Header{}, malformed("bad magic")
	}

	le := binary.LittleEndian
	off := len(Magic)
	h := Header{
		Style:            Style(le.Uint32(data[off:])),
		StreamCount:      le.Uint32(data[off+4:]),
		MeshletCount:     le.Uint32(data[off+8:]),
		PayloadSizeWords: le.Uint32(data[off+12:]),
	}
	if !h.Style.Valid() {
		return Header{}, malformed("unknown style %d", h.Style)
	}
	if h.StreamCount != h.Style.StreamCount() {
		return Header{}, malformed("style %s needs %d streams, header has %d", h.Style, h.Style.StreamCount(), h.StreamCount)
	}
	if h.MeshletCount == 0 {
		return Header{}, malformed("no meshlets")
	}
	if uint64(h.PayloadSizeWords) > uint64(h.MeshletCount)*PayloadWordsPerMeshlet {
		return Header{}, malformed("payload of %d words exceeds %d meshlets", h.PayloadSizeWords, h.MeshletCount)
	}
	return h, nil
}

// Parse validates a meshlet blob and returns a view over it. Every stream is
// checked against the payload so decoding never reads out of bounds.
func Parse(data []byte) (*MeshView, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	off := len(Magic) + HeaderSize
	view := &MeshView{Header: h}

	numChunks := uint64(view.NumChunks())
	boundsBytes := (uint64(h.MeshletCount) + numChunks) * BoundsSize
	streamBytes := uint64(h.MeshletCount) * uint64(h.StreamCount) * StreamSize
	payloadBytes := uint64(h.PayloadSizeWords) * 4
	if uint64(len(data)-off) != boundsBytes+streamBytes+payloadBytes {
		return nil, malformed("expected %d bytes after header, got %d", boundsBytes+streamBytes+payloadBytes, len(data)-off)
	}

	readBounds := func(n uint32) []Bounds {
		out := make([]Bounds, n)
		for i := range out {
			b := &out[i]
			for c := 0; c < 3; c++ {
				b.Center[c] = math.Float32frombits(le.Uint32(data[off+4*c:]))
			}
			b.Radius = math.Float32frombits(le.Uint32(data[off+12:]))
			for c := 0; c < 4; c++ {
				b.ConeAxisCutoff[c] = int8(data[off+16+c])
			}
			off += BoundsSize
		}
		return out
	}
	view.Bounds = readBounds(h.MeshletCount)
	view.ChunkBounds = readBounds(uint32(numChunks))

	view.rawStreams = data[off : off+int(streamBytes)]
	view.Streams = make([]Stream, h.MeshletCount*h.StreamCount)
	for i := range view.Streams {
		view.Streams[i] = Stream{
			BaseOrCounts: [2]uint32{le.Uint32(data[off:]), le.Uint32(data[off+4:])},
			Bits:         le.Uint32(data[off+8:]),
			Offset:       le.Uint32(data[off+12:]),
		}
		off += StreamSize
	}

	view.rawPayload = data[off : off+int(payloadBytes)]
	view.Payload = make([]uint32, h.PayloadSizeWords)
	for i := range view.Payload {
		view.Payload[i] = le.Uint32(data[off:])
		off += 4
	}

	for m := uint32(0); m < h.MeshletCount; m++ {
		if err := view.validateMeshlet(m); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func (v *MeshView) validateMeshlet(m uint32) error {
	s0 := v.Stream(m, 0)
	prims, verts := s0.PrimitiveCount(), s0.VertexCount()
	if prims == 0 || prims > MaxElements || verts == 0 || verts > MaxElements {
		return malformed("meshlet %d has %d primitives and %d vertices", m, prims, verts)
	}
	if s0.Bits > 5 {
		return malformed("meshlet %d index width %d", m, s0.Bits)
	}

	size := uint64(v.Header.PayloadSizeWords)
	if uint64(s0.Offset)+primitiveWords(s0) > size {
		return malformed("meshlet %d primitive stream overruns payload", m)
	}
	for s := uint32(1); s < v.Header.StreamCount; s++ {
		st := v.Stream(m, s)
		b0, b1 := st.laneBits()
		if b0 > 16 || b1 > 16 {
			return malformed("meshlet %d stream %d lane widths %d/%d", m, s, b0, b1)
		}
		if uint64(st.Offset)+attributeWords(st, verts) > size {
			return malformed("meshlet %d stream %d overruns payload", m, s)
		}
	}
	v.NumPrimitives += prims
	v.NumVertices += verts
	return nil
}
