package meshlet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/go-gl/mathgl/mgl32"
)

/** @brief Indexed triangle list to be packed into a meshlet blob. */
type Mesh struct {
	Indices   []uint32
	Positions []mgl32.Vec3
	/** @brief Style.AttributeWords() packed words per vertex: normal, tangent, uv, bone indices, bone weights. */
	Attributes [][]uint32
}

type builtMeshlet struct {
	vertices   []uint32
	primitives [][3]uint32
}

// buildMeshlets greedily groups triangles in submission order.
func buildMeshlets(indices []uint32) []builtMeshlet {
	var out []builtMeshlet
	current := builtMeshlet{}
	local := make(map[uint32]uint32)

	flush := func() {
		if len(current.primitives) > 0 {
			out = append(out, current)
		}
		current = builtMeshlet{}
		local = make(map[uint32]uint32)
	}

	for t := 0; t+2 < len(indices); t += 3 {
		tri := [3]uint32{indices[t], indices[t+1], indices[t+2]}
		added := 0
		for k, idx := range tri {
			if _, ok := local[idx]; ok {
				continue
			}
			duplicate := false
			for j := 0; j < k; j++ {
				if tri[j] == idx {
					duplicate = true
				}
			}
			if !duplicate {
				added++
			}
		}
		if len(current.primitives)+1 > MaxElements || len(current.vertices)+added > MaxElements {
			flush()
		}

		var prim [3]uint32
		for k, idx := range tri {
			l, ok := local[idx]
			if !ok {
				l = uint32(len(current.vertices))
				local[idx] = l
				current.vertices = append(current.vertices, idx)
			}
			prim[k] = l
		}
		current.primitives = append(current.primitives, prim)
	}
	flush()
	return out
}

func positionExponent(positions []mgl32.Vec3) int {
	var maxAbs float64
	for _, p := range positions {
		for c := 0; c < 3; c++ {
			maxAbs = math.Max(maxAbs, math.Abs(float64(p[c])))
		}
	}
	if maxAbs == 0 {
		return 0
	}
	return int(math.Ceil(math.Log2(maxAbs / 32767)))
}

func quantize(v float32, exponent int) uint32 {
	q := math.Round(math.Ldexp(float64(v), -exponent))
	q = math.Max(math.Min(q, 32767), -32768)
	return uint32(uint16(int16(q)))
}

// EncodePosition packs a position into the two position words of a vertex.
func EncodePosition(p mgl32.Vec3, exponent int) (uint32, uint32) {
	w0 := quantize(p[0], exponent) | quantize(p[1], exponent)<<16
	w1 := quantize(p[2], exponent) | uint32(uint16(int16(exponent)))<<16
	return w0, w1
}

func DecodePosition(w0, w1 uint32) mgl32.Vec3 {
	exponent := int(int16(uint16(w1 >> 16)))
	dq := func(lane uint32) float32 {
		return float32(math.Ldexp(float64(int16(uint16(lane))), exponent))
	}
	return mgl32.Vec3{dq(w0), dq(w0 >> 16), dq(w1)}
}

func snorm8(v float32) int8 {
	return int8(mgl32.Clamp(float32(math.Round(float64(v*127))), -127, 127))
}

func meshletBounds(points []mgl32.Vec3, triangles [][3]mgl32.Vec3) Bounds {
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		for c := 0; c < 3; c++ {
			lo[c] = float32(math.Min(float64(lo[c]), float64(p[c])))
			hi[c] = float32(math.Max(float64(hi[c]), float64(p[c])))
		}
	}
	center := lo.Add(hi).Mul(0.5)
	var radius float32
	for _, p := range points {
		radius = float32(math.Max(float64(radius), float64(p.Sub(center).Len())))
	}

	b := Bounds{Center: [3]float32(center), Radius: radius, ConeAxisCutoff: [4]int8{0, 0, 0, 127}}

	var normals []mgl32.Vec3
	var axis mgl32.Vec3
	for _, tri := range triangles {
		n := tri[1].Sub(tri[0]).Cross(tri[2].Sub(tri[0]))
		if n.Len() == 0 {
			continue
		}
		n = n.Normalize()
		normals = append(normals, n)
		axis = axis.Add(n)
	}
	if len(normals) == 0 || axis.Len() == 0 {
		return b
	}
	axis = axis.Normalize()
	minDot := float32(1)
	for _, n := range normals {
		minDot = float32(math.Min(float64(minDot), float64(n.Dot(axis))))
	}
	if minDot <= 0 {
		return b
	}
	cutoff := float32(math.Sqrt(float64(1 - minDot*minDot)))
	b.ConeAxisCutoff = [4]int8{snorm8(axis[0]), snorm8(axis[1]), snorm8(axis[2]), snorm8(cutoff)}
	return b
}

func mergeBounds(group []Bounds) Bounds {
	lo := mgl32.Vec3(group[0].Center).Sub(mgl32.Vec3{group[0].Radius, group[0].Radius, group[0].Radius})
	hi := mgl32.Vec3(group[0].Center).Add(mgl32.Vec3{group[0].Radius, group[0].Radius, group[0].Radius})
	for _, b := range group[1:] {
		r := mgl32.Vec3{b.Radius, b.Radius, b.Radius}
		bl := mgl32.Vec3(b.Center).Sub(r)
		bh := mgl32.Vec3(b.Center).Add(r)
		for c := 0; c < 3; c++ {
			lo[c] = float32(math.Min(float64(lo[c]), float64(bl[c])))
			hi[c] = float32(math.Max(float64(hi[c]), float64(bh[c])))
		}
	}
	center := lo.Add(hi).Mul(0.5)
	var radius float32
	for _, b := range group {
		radius = float32(math.Max(float64(radius), float64(mgl32.Vec3(b.Center).Sub(center).Len()+b.Radius)))
	}
	return Bounds{Center: [3]float32(center), Radius: radius, ConeAxisCutoff: [4]int8{0, 0, 0, 127}}
}

func encodeLanes(w *bitWriter, values []uint32) Stream {
	loBase, hiBase := uint32(0xffff), uint32(0xffff)
	for _, v := range values {
		loBase = min(loBase, v&0xffff)
		hiBase = min(hiBase, v>>16)
	}
	var loMax, hiMax uint32
	for _, v := range values {
		loMax = max(loMax, (v&0xffff)-loBase)
		hiMax = max(hiMax, (v>>16)-hiBase)
	}
	b0 := uint32(bits.Len32(loMax))
	b1 := uint32(bits.Len32(hiMax))

	s := Stream{
		BaseOrCounts: [2]uint32{loBase, hiBase},
		Bits:         b0 | b1<<8,
		Offset:       w.align(),
	}
	for _, v := range values {
		w.write((v&0xffff)-loBase, b0)
		w.write((v>>16)-hiBase, b1)
	}
	return s
}

// Encode packs a triangle mesh into a meshlet blob of the given style.
func Encode(mesh *Mesh, style Style) ([]byte, error) {
	if !style.Valid() {
		return nil, fmt.Errorf("invalid mesh style %d", style)
	}
	if len(mesh.Indices) == 0 || len(mesh.Indices)%3 != 0 {
		return nil, fmt.Errorf("index count %d is not a non-empty triangle list", len(mesh.Indices))
	}
	for _, idx := range mesh.Indices {
		if int(idx) >= len(mesh.Positions) {
			return nil, fmt.Errorf("index %d out of %d vertices", idx, len(mesh.Positions))
		}
	}
	attrWords := int(style.AttributeWords())
	if attrWords > 0 {
		if len(mesh.Attributes) != len(mesh.Positions) {
			return nil, fmt.Errorf("style %s needs attributes for all %d vertices", style, len(mesh.Positions))
		}
		for v, a := range mesh.Attributes {
			if len(a) != attrWords {
				return nil, fmt.Errorf("vertex %d has %d attribute words, style %s needs %d", v, len(a), style, attrWords)
			}
		}
	}

	exponent := positionExponent(mesh.Positions)
	meshlets := buildMeshlets(mesh.Indices)
	streamCount := style.StreamCount()

	w := &bitWriter{}
	bounds := make([]Bounds, 0, len(meshlets))
	streams := make([]Stream, 0, len(meshlets)*int(streamCount))

	for _, m := range meshlets {
		verts := uint32(len(m.vertices))
		indexBits := uint32(bits.Len32(verts - 1))

		prim := Stream{
			BaseOrCounts: [2]uint32{uint32(len(m.primitives)), verts},
			Bits:         indexBits,
			Offset:       w.align(),
		}
		for _, p := range m.primitives {
			for _, idx := range p {
				w.write(idx, indexBits)
			}
		}
		streams = append(streams, prim)

		words := make([][]uint32, streamCount-1)
		points := make([]mgl32.Vec3, verts)
		for i, v := range m.vertices {
			w0, w1 := EncodePosition(mesh.Positions[v], exponent)
			points[i] = DecodePosition(w0, w1)
			words[0] = append(words[0], w0)
			words[1] = append(words[1], w1)
			for a := 0; a < attrWords; a++ {
				words[2+a] = append(words[2+a], mesh.Attributes[v][a])
			}
		}
		for _, lane := range words {
			streams = append(streams, encodeLanes(w, lane))
		}

		triangles := make([][3]mgl32.Vec3, len(m.primitives))
		for i, p := range m.primitives {
			triangles[i] = [3]mgl32.Vec3{points[p[0]], points[p[1]], points[p[2]]}
		}
		bounds = append(bounds, meshletBounds(points, triangles))
	}

	var chunkBounds []Bounds
	for start := 0; start < len(bounds); start += ChunkSize {
		end := min(start+ChunkSize, len(bounds))
		chunkBounds = append(chunkBounds, mergeBounds(bounds[start:end]))
	}

	buf := &bytes.Buffer{}
	buf.WriteString(Magic)
	header := Header{
		Style:            style,
		StreamCount:      streamCount,
		MeshletCount:     uint32(len(meshlets)),
		PayloadSizeWords: uint32(len(w.words)),
	}
	for _, v := range []interface{}{header, bounds, chunkBounds, streams, w.words} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("failed to serialize meshlet blob: %w", err)
		}
	}
	return buf.Bytes(), nil
}
