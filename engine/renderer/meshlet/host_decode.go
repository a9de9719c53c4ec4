package meshlet

/** @brief One meshlet expanded on the host. */
type DecodedMeshlet struct {
	/** @brief Meshlet-local vertex indices. */
	Primitives [][3]uint32
	/** @brief Words[s-1][vertex] holds the value of attribute stream s. */
	Words [][]uint32
}

// decodeMeshlet expands the first numStreams streams of one meshlet. streams
// are the meshlet's descriptors.
func decodeMeshlet(streams []Stream, payload []uint32, numStreams uint32) DecodedMeshlet {
	s0 := streams[0]
	prims, verts := s0.PrimitiveCount(), s0.VertexCount()

	out := DecodedMeshlet{
		Primitives: make([][3]uint32, prims),
		Words:      make([][]uint32, numStreams-1),
	}
	bit := s0.Offset * 32
	for p := uint32(0); p < prims; p++ {
		for k := 0; k < 3; k++ {
			out.Primitives[p][k] = readBits(payload, bit, s0.Bits)
			bit += s0.Bits
		}
	}

	for s := uint32(1); s < numStreams; s++ {
		st := streams[s]
		b0, b1 := st.laneBits()
		values := make([]uint32, verts)
		bit := st.Offset * 32
		for v := range values {
			lo := (readBits(payload, bit, b0) + st.BaseOrCounts[0]) & 0xffff
			bit += b0
			hi := (readBits(payload, bit, b1) + st.BaseOrCounts[1]) & 0xffff
			bit += b1
			values[v] = lo | hi<<16
		}
		out.Words[s-1] = values
	}
	return out
}

// DecodeMeshlet expands meshlet m on the host.
func (v *MeshView) DecodeMeshlet(m uint32) DecodedMeshlet {
	count := v.Header.StreamCount
	return decodeMeshlet(v.Streams[m*count:(m+1)*count], v.Payload, count)
}
