package meshlet

import (
	"encoding/binary"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/gpu/headless"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridMesh is an n x n quad grid in the xz plane.
func gridMesh(n int, style Style) *Mesh {
	mesh := &Mesh{}
	for z := 0; z <= n; z++ {
		for x := 0; x <= n; x++ {
			mesh.Positions = append(mesh.Positions, mgl32.Vec3{float32(x) * 0.5, float32(x*z) * 0.01, float32(z) * 0.5})
			attrs := make([]uint32, style.AttributeWords())
			for a := range attrs {
				attrs[a] = uint32(x*131+z*7+a) | uint32(z*3+a)<<16
			}
			mesh.Attributes = append(mesh.Attributes, attrs)
		}
	}
	row := uint32(n + 1)
	for z := uint32(0); z < uint32(n); z++ {
		for x := uint32(0); x < uint32(n); x++ {
			i := z*row + x
			mesh.Indices = append(mesh.Indices, i, i+row, i+1, i+1, i+row, i+row+1)
		}
	}
	return mesh
}

// disjointMesh has count unconnected triangles, ten per meshlet.
func disjointMesh(count int) *Mesh {
	mesh := &Mesh{}
	for t := 0; t < count; t++ {
		base := uint32(len(mesh.Positions))
		f := float32(t)
		mesh.Positions = append(mesh.Positions,
			mgl32.Vec3{f, 0, 0}, mgl32.Vec3{f + 1, 0, 0}, mgl32.Vec3{f, 1, 0})
		mesh.Indices = append(mesh.Indices, base, base+1, base+2)
	}
	return mesh
}

func encodeParse(t *testing.T, mesh *Mesh, style Style) *MeshView {
	t.Helper()
	blob, err := Encode(mesh, style)
	require.NoError(t, err)
	view, err := Parse(blob)
	require.NoError(t, err)
	return view
}

func TestBitstreamRoundTrip(t *testing.T) {
	w := &bitWriter{}
	values := []struct{ v, bits uint32 }{{5, 3}, {0xffff, 16}, {1, 1}, {0, 0}, {0x1234, 13}, {31, 5}, {0xabcd, 16}}
	for _, v := range values {
		w.write(v.v, v.bits)
	}
	bit := uint32(0)
	for _, v := range values {
		assert.Equal(t, v.v&(uint32(1)<<v.bits-1), readBits(w.words, bit, v.bits))
		bit += v.bits
	}
	assert.Equal(t, uint32(len(w.words)), w.align())
}

func TestStyleStreamCounts(t *testing.T) {
	assert.Equal(t, uint32(3), StyleWireframe.StreamCount())
	assert.Equal(t, uint32(4), StyleUntextured.StreamCount())
	assert.Equal(t, uint32(6), StyleTextured.StreamCount())
	assert.Equal(t, uint32(8), StyleSkinned.StreamCount())

	s, err := ParseStyle("skinned")
	require.NoError(t, err)
	assert.Equal(t, StyleSkinned, s)
	_, err = ParseStyle("voxel")
	assert.Error(t, err)
}

func TestEncodeParseRoundTrip(t *testing.T) {
	mesh := gridMesh(8, StyleTextured)
	view := encodeParse(t, mesh, StyleTextured)

	assert.Equal(t, StyleTextured, view.Header.Style)
	assert.Equal(t, uint32(128), view.NumPrimitives)
	assert.GreaterOrEqual(t, view.NumVertices, uint32(len(mesh.Positions)))
	assert.Len(t, view.Bounds, int(view.Header.MeshletCount))
	assert.Len(t, view.ChunkBounds, int(view.NumChunks()))

	exponent := positionExponent(mesh.Positions)
	var tri int
	for m := uint32(0); m < view.Header.MeshletCount; m++ {
		d := view.DecodeMeshlet(m)
		assert.LessOrEqual(t, len(d.Primitives), MaxElements)
		assert.LessOrEqual(t, len(d.Words[0]), MaxElements)
		for _, p := range d.Primitives {
			for k := 0; k < 3; k++ {
				orig := mesh.Indices[tri*3+k]
				w0, w1 := EncodePosition(mesh.Positions[orig], exponent)
				assert.Equal(t, w0, d.Words[0][p[k]])
				assert.Equal(t, w1, d.Words[1][p[k]])
				for a := 0; a < 3; a++ {
					assert.Equal(t, mesh.Attributes[orig][a], d.Words[2+a][p[k]])
				}
			}
			tri++
		}
	}
	assert.Equal(t, len(mesh.Indices)/3, tri)
}

func TestBoundsContainMeshlet(t *testing.T) {
	view := encodeParse(t, gridMesh(6, StyleWireframe), StyleWireframe)
	for m := uint32(0); m < view.Header.MeshletCount; m++ {
		d := view.DecodeMeshlet(m)
		b := view.Bounds[m]
		for v := range d.Words[0] {
			p := DecodePosition(d.Words[0][v], d.Words[1][v])
			assert.LessOrEqual(t, p.Sub(mgl32.Vec3(b.Center)).Len(), b.Radius+1e-4)
		}
		chunk := view.ChunkBounds[m/ChunkSize]
		assert.LessOrEqual(t, mgl32.Vec3(b.Center).Sub(mgl32.Vec3(chunk.Center)).Len()+b.Radius, chunk.Radius+1e-4)
	}
}

func TestPositionQuantization(t *testing.T) {
	p := mgl32.Vec3{1.5, -2.25, 100}
	exponent := positionExponent([]mgl32.Vec3{p})
	got := DecodePosition(EncodePosition(p, exponent))
	assert.InDelta(t, 1.5, got[0], 0.01)
	assert.InDelta(t, -2.25, got[1], 0.01)
	assert.InDelta(t, 100, got[2], 0.01)
}

func TestParseRejectsMalformed(t *testing.T) {
	blob, err := Encode(gridMesh(2, StyleWireframe), StyleWireframe)
	require.NoError(t, err)

	_, err = Parse(blob[:10])
	assert.ErrorIs(t, err, ErrMalformed)

	bad := append([]byte(nil), blob...)
	copy(bad, "MESHLET1")
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse(blob[:len(blob)-4])
	assert.ErrorIs(t, err, ErrMalformed)

	bad = append([]byte(nil), blob...)
	binary.LittleEndian.PutUint32(bad[8:], 9)
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrMalformed)

	bad = append([]byte(nil), blob...)
	binary.LittleEndian.PutUint32(bad[12:], 5)
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeRejectsBadInput(t *testing.T) {
	_, err := Encode(&Mesh{Indices: []uint32{0, 1}}, StyleWireframe)
	assert.Error(t, err)
	_, err = Encode(&Mesh{Indices: []uint32{0, 1, 5}, Positions: make([]mgl32.Vec3, 3)}, StyleWireframe)
	assert.Error(t, err)
	_, err = Encode(&Mesh{Indices: []uint32{0, 1, 2}, Positions: make([]mgl32.Vec3, 3)}, StyleTextured)
	assert.Error(t, err)
}

func TestPartialChunkGroupTail(t *testing.T) {
	view := encodeParse(t, disjointMesh(330), StyleWireframe)
	require.Equal(t, uint32(33), view.Header.MeshletCount)
	assert.Equal(t, uint32(2), view.NumChunks())
	assert.Equal(t, uint32(64), view.PaddedMeshletCount())

	stride := StyleWireframe.StreamCount()
	streams := view.RebasedStreams(1000, stride)
	require.Len(t, streams, 64*int(stride)*StreamSize)

	slot := int(stride) * StreamSize
	zeroSlots := 0
	for m := 0; m < 64; m++ {
		rec := streams[m*slot : (m+1)*slot]
		if assert.ObjectsAreEqual(make([]byte, slot), rec) {
			zeroSlots++
		}
	}
	assert.Equal(t, 31, zeroSlots)
	assert.Equal(t, view.Stream(0, 1).Offset+1000, binary.LittleEndian.Uint32(streams[StreamSize+12:]))

	headers := view.RuntimeHeaders(96, stride)
	require.Len(t, headers, 64*RuntimeHeaderSize)
	assert.Equal(t, uint32(96+32*stride), binary.LittleEndian.Uint32(headers[32*RuntimeHeaderSize:]))
	assert.Equal(t, uint32(10|30<<16), binary.LittleEndian.Uint32(headers[4:]))
	assert.Equal(t, make([]byte, 31*RuntimeHeaderSize), headers[33*RuntimeHeaderSize:])
}

func TestIndirectDrawsRestartPerChunkGroup(t *testing.T) {
	view := encodeParse(t, disjointMesh(330), StyleWireframe)
	draws := view.IndirectDraws(64, 128)
	le := binary.LittleEndian

	first := draws[0:]
	assert.Equal(t, uint32(30), le.Uint32(first[0:]))
	assert.Equal(t, uint32(1), le.Uint32(first[4:]))
	assert.Equal(t, uint32(3*64), le.Uint32(first[8:]))
	assert.Equal(t, uint32(128), le.Uint32(first[12:]))

	// Meshlet 31 shares the first group's vertex base, meshlet 32 starts a new one.
	assert.Equal(t, uint32(128), le.Uint32(draws[31*IndirectRecordSize+12:]))
	assert.Equal(t, uint32(128+32*30), le.Uint32(draws[32*IndirectRecordSize+12:]))
	assert.Equal(t, make([]byte, 31*IndirectRecordSize), draws[33*IndirectRecordSize:])

	offsets := computeOffsets(view)
	assert.Equal(t, uint32(0), offsets[32].index)
	assert.Equal(t, uint32(31*30), offsets[31].index)
}

type decodeTarget struct {
	index, position, varying, indirect gpu.Buffer
}

func newDecodeTarget(t *testing.T, dev gpu.Device, view *MeshView, primOff, vertOff uint32) decodeTarget {
	t.Helper()
	padded := uint64(view.PaddedMeshletCount())
	create := func(size uint64) gpu.Buffer {
		buf, err := dev.CreateBuffer(gpu.BufferCreateInfo{Size: size, Usage: gpu.BufferUsageStorage}, nil)
		require.NoError(t, err)
		return buf
	}
	return decodeTarget{
		index:    create((uint64(primOff) + padded*MaxElements) * 12),
		position: create((uint64(vertOff) + padded*MaxElements) * 8),
		varying:  create((uint64(vertOff) + padded*MaxElements) * 12),
		indirect: create(padded * IndirectRecordSize),
	}
}

func decodeClassic(t *testing.T, caps headless.Capabilities, mesh *Mesh, style Style) (*headless.Device, *MeshView, decodeTarget, bool) {
	t.Helper()
	dev := headless.New(caps)
	RegisterKernels(dev)
	view := encodeParse(t, mesh, style)
	target := newDecodeTarget(t, dev, view, 64, 96)

	cmd := dev.RequestCommandBuffer(gpu.QueueAsyncCompute)
	ok := DecodeMesh(cmd, &DecodeInfo{
		Mode:            DecodeClassic,
		Target:          style,
		IndexBuffer:     target.index,
		PrimitiveOffset: 64,
		VertexBuffers:   [3]gpu.Buffer{target.position, target.varying},
		VertexOffset:    96,
		IndirectBuffer:  target.indirect,
	}, view)
	if ok {
		_, err := dev.Submit(cmd, true)
		require.NoError(t, err)
	}
	return dev, view, target, ok
}

// drawnTriangles walks the indirect draws the way the renderer would and
// returns the position words of every drawn corner.
func drawnTriangles(t *testing.T, dev *headless.Device, view *MeshView, target decodeTarget) [][2]uint32 {
	t.Helper()
	le := binary.LittleEndian
	read := func(buf gpu.Buffer) []byte {
		data, err := dev.ReadBuffer(buf, 0, buf.Size())
		require.NoError(t, err)
		return data
	}
	draws, indices, positions := read(target.indirect), read(target.index), read(target.position)

	var corners [][2]uint32
	for m := uint32(0); m < view.Header.MeshletCount; m++ {
		rec := draws[m*IndirectRecordSize:]
		count, firstIndex, vertexOffset := le.Uint32(rec[0:]), le.Uint32(rec[8:]), le.Uint32(rec[12:])
		for i := firstIndex; i < firstIndex+count; i++ {
			v := vertexOffset + le.Uint32(indices[i*4:])
			corners = append(corners, [2]uint32{le.Uint32(positions[v*8:]), le.Uint32(positions[v*8+4:])})
		}
	}
	return corners
}

func TestDecodeMeshClassicRoundTrip(t *testing.T) {
	mesh := gridMesh(12, StyleTextured)
	dev, view, target, ok := decodeClassic(t, headless.DefaultCapabilities(), mesh, StyleTextured)
	require.True(t, ok)

	corners := drawnTriangles(t, dev, view, target)
	require.Len(t, corners, len(mesh.Indices))

	exponent := positionExponent(mesh.Positions)
	for i, idx := range mesh.Indices {
		w0, w1 := EncodePosition(mesh.Positions[idx], exponent)
		assert.Equal(t, [2]uint32{w0, w1}, corners[i], "corner %d", i)
	}

	var prims, verts uint32
	for m := uint32(0); m < view.Header.MeshletCount; m++ {
		prims += view.Stream(m, 0).PrimitiveCount()
		verts += view.Stream(m, 0).VertexCount()
	}
	assert.Equal(t, view.NumPrimitives, prims)
	assert.Equal(t, uint32(len(mesh.Indices)/3), prims)
	assert.Equal(t, view.NumVertices, verts)
}

func TestDecodeMeshBatchesDispatches(t *testing.T) {
	caps := headless.DefaultCapabilities()
	caps.Limits.MaxComputeWorkGroupCount = [3]uint32{2, 1, 1}
	mesh := disjointMesh(330)

	dev, view, target, ok := decodeClassic(t, caps, mesh, StyleWireframe)
	require.True(t, ok)
	// 33 meshlets need 5 groups of 8, split into batches of 2, 2 and 1.
	assert.Equal(t, uint64(3), dev.Dispatches())

	corners := drawnTriangles(t, dev, view, target)
	require.Len(t, corners, len(mesh.Indices))
	exponent := positionExponent(mesh.Positions)
	for i, idx := range mesh.Indices {
		w0, w1 := EncodePosition(mesh.Positions[idx], exponent)
		assert.Equal(t, [2]uint32{w0, w1}, corners[i])
	}
}

func TestDecodeMeshRefusesWithoutSubgroupControl(t *testing.T) {
	caps := headless.DefaultCapabilities()
	caps.SubgroupSizeControl = false
	dev, _, _, ok := decodeClassic(t, caps, gridMesh(2, StyleWireframe), StyleWireframe)
	assert.False(t, ok)
	assert.Zero(t, dev.Dispatches())
}

func TestDecodeMeshRefusesMissingBuffers(t *testing.T) {
	dev := headless.New(headless.DefaultCapabilities())
	view := encodeParse(t, gridMesh(2, StyleWireframe), StyleWireframe)
	target := newDecodeTarget(t, dev, view, 0, 0)
	cmd := dev.RequestCommandBuffer(gpu.QueueAsyncCompute)

	assert.False(t, DecodeMesh(cmd, &DecodeInfo{VertexBuffers: [3]gpu.Buffer{target.position}}, view))
	assert.False(t, DecodeMesh(cmd, &DecodeInfo{IndexBuffer: target.index}, view))
	assert.False(t, DecodeMesh(cmd, &DecodeInfo{
		Target:        StyleTextured,
		IndexBuffer:   target.index,
		VertexBuffers: [3]gpu.Buffer{target.position},
	}, view))
}

func TestDecodeMeshletHeaders(t *testing.T) {
	dev := headless.New(headless.DefaultCapabilities())
	RegisterKernels(dev)
	view := encodeParse(t, gridMesh(6, StyleUntextured), StyleUntextured)
	target := newDecodeTarget(t, dev, view, 0, 0)

	cmd := dev.RequestCommandBuffer(gpu.QueueAsyncCompute)
	require.True(t, DecodeMesh(cmd, &DecodeInfo{
		Mode:           DecodeMeshlet,
		Target:         StyleUntextured,
		IndexBuffer:    target.index,
		VertexBuffers:  [3]gpu.Buffer{target.position, target.varying},
		IndirectBuffer: target.indirect,
	}, view))
	_, err := dev.Submit(cmd, false)
	require.NoError(t, err)

	headers, err := dev.ReadBuffer(target.indirect, 0, uint64(view.PaddedMeshletCount())*DecodedHeaderSize)
	require.NoError(t, err)
	indices, err := dev.ReadBuffer(target.index, 0, target.index.Size())
	require.NoError(t, err)

	le := binary.LittleEndian
	for m := uint32(0); m < view.Header.MeshletCount; m++ {
		rec := headers[m*DecodedHeaderSize:]
		primOffset, numPrims, numVerts := le.Uint32(rec[0:]), le.Uint32(rec[8:]), le.Uint32(rec[12:])
		assert.Equal(t, view.Stream(m, 0).PrimitiveCount(), numPrims)
		d := view.DecodeMeshlet(m)
		for p := uint32(0); p < numPrims; p++ {
			for k := uint32(0); k < 3; k++ {
				local := le.Uint32(indices[((primOffset+p)*3+k)*4:])
				assert.Less(t, local, numVerts)
				assert.Equal(t, d.Primitives[p][k], local)
			}
		}
	}
}
