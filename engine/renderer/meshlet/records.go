package meshlet

import (
	"encoding/binary"
	"math"
)

const (
	// IndirectRecordSize is one indexed indirect draw.
	IndirectRecordSize = 20
	// DecodedHeaderSize is {primOffset, vertOffset, numPrims, numVerts}.
	DecodedHeaderSize = 16
	// RuntimeHeaderSize is {streamOffset, numPrims | numVerts << 16}.
	RuntimeHeaderSize = 8
)

// PaddedMeshletCount rounds the meshlet count up to whole chunk groups.
func (v *MeshView) PaddedMeshletCount() uint32 {
	return v.NumChunks() * ChunkSize
}

type meshletOffsets struct {
	prim  uint32
	vert  uint32
	index uint32
}

// computeOffsets returns the running primitive and vertex offsets of every
// meshlet. The index offset restarts at every chunk group.
func computeOffsets(v *MeshView) []meshletOffsets {
	out := make([]meshletOffsets, v.Header.MeshletCount)
	var prim, vert, groupVert uint32
	for m := range out {
		if m%ChunkSize == 0 {
			groupVert = vert
		}
		s := v.Stream(uint32(m), 0)
		out[m] = meshletOffsets{prim: prim, vert: vert, index: vert - groupVert}
		prim += s.PrimitiveCount()
		vert += s.VertexCount()
	}
	return out
}

func encodeOffsets(offsets []meshletOffsets) []byte {
	out := make([]byte, len(offsets)*12)
	for i, o := range offsets {
		binary.LittleEndian.PutUint32(out[i*12:], o.prim)
		binary.LittleEndian.PutUint32(out[i*12+4:], o.vert)
		binary.LittleEndian.PutUint32(out[i*12+8:], o.index)
	}
	return out
}

// IndirectDraws builds one indexed indirect draw per meshlet for meshes
// decoded to classic buffers at the given primitive and vertex bases. The
// vertex offset of a draw is the first vertex of its chunk group.
func (v *MeshView) IndirectDraws(primBase, vertBase uint32) []byte {
	offsets := computeOffsets(v)
	out := make([]byte, int(v.PaddedMeshletCount())*IndirectRecordSize)
	le := binary.LittleEndian
	for m, o := range offsets {
		s := v.Stream(uint32(m), 0)
		group := offsets[m-m%ChunkSize]
		rec := out[m*IndirectRecordSize:]
		le.PutUint32(rec[0:], 3*s.PrimitiveCount())
		le.PutUint32(rec[4:], 1)
		le.PutUint32(rec[8:], 3*(primBase+o.prim))
		le.PutUint32(rec[12:], vertBase+group.vert)
		le.PutUint32(rec[16:], 0)
	}
	return out
}

// DecodedHeaders builds the per meshlet headers of meshes decoded for the
// meshlet pipeline.
func (v *MeshView) DecodedHeaders(primBase, vertBase uint32) []byte {
	offsets := computeOffsets(v)
	out := make([]byte, int(v.PaddedMeshletCount())*DecodedHeaderSize)
	le := binary.LittleEndian
	for m, o := range offsets {
		s := v.Stream(uint32(m), 0)
		rec := out[m*DecodedHeaderSize:]
		le.PutUint32(rec[0:], primBase+o.prim)
		le.PutUint32(rec[4:], vertBase+o.vert)
		le.PutUint32(rec[8:], s.PrimitiveCount())
		le.PutUint32(rec[12:], s.VertexCount())
	}
	return out
}

// RuntimeHeaders builds the headers of encoded meshlets. streamBase is the
// first descriptor of the mesh in the global stream arena, which holds stride
// descriptors per meshlet.
func (v *MeshView) RuntimeHeaders(streamBase, stride uint32) []byte {
	out := make([]byte, int(v.PaddedMeshletCount())*RuntimeHeaderSize)
	le := binary.LittleEndian
	for m := uint32(0); m < v.Header.MeshletCount; m++ {
		s := v.Stream(m, 0)
		rec := out[m*RuntimeHeaderSize:]
		le.PutUint32(rec[0:], streamBase+m*stride)
		le.PutUint32(rec[4:], s.PrimitiveCount()|s.VertexCount()<<16)
	}
	return out
}

// RebasedStreams returns the first stride descriptors of every meshlet with
// payload offsets moved by payloadBase words. The tail of the last chunk group
// is zero.
func (v *MeshView) RebasedStreams(payloadBase, stride uint32) []byte {
	out := make([]byte, int(v.PaddedMeshletCount()*stride)*StreamSize)
	le := binary.LittleEndian
	for m := uint32(0); m < v.Header.MeshletCount; m++ {
		for i := uint32(0); i < stride && i < v.Header.StreamCount; i++ {
			s := v.Stream(m, i)
			rec := out[(m*stride+i)*StreamSize:]
			le.PutUint32(rec[0:], s.BaseOrCounts[0])
			le.PutUint32(rec[4:], s.BaseOrCounts[1])
			le.PutUint32(rec[8:], s.Bits)
			le.PutUint32(rec[12:], s.Offset+payloadBase)
		}
	}
	return out
}

// BoundsRecords lays the meshlet bounds out in BoundsRecordSize slots.
func (v *MeshView) BoundsRecords() []byte {
	out := make([]byte, int(v.PaddedMeshletCount())*BoundsRecordSize)
	le := binary.LittleEndian
	for m, b := range v.Bounds {
		rec := out[m*BoundsRecordSize:]
		for c := 0; c < 3; c++ {
			le.PutUint32(rec[4*c:], math.Float32bits(b.Center[c]))
		}
		le.PutUint32(rec[12:], math.Float32bits(b.Radius))
		for c := 0; c < 4; c++ {
			rec[16+c] = byte(b.ConeAxisCutoff[c])
		}
	}
	return out
}
