package meshlet

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

// RegisterKernels installs the host implementation of the decode program.
func RegisterKernels(reg gpu.KernelRegistrar) {
	reg.RegisterKernel(DecodeProgram, decodeKernel)
}

func putWord(dst []byte, index uint64, value uint32) error {
	if (index+1)*4 > uint64(len(dst)) {
		return fmt.Errorf("meshlet decode write of word %d outside %d byte buffer", index, len(dst))
	}
	binary.LittleEndian.PutUint32(dst[index*4:], value)
	return nil
}

func decodeKernel(inv gpu.KernelInvocation) error {
	le := binary.LittleEndian
	push := inv.PushConstants()
	if len(push) < 16 {
		return fmt.Errorf("meshlet decode push constants are %d bytes", len(push))
	}
	primBase := le.Uint32(push[0:])
	vertBase := le.Uint32(push[4:])
	meshletOffset := le.Uint32(push[8:])
	meshletCount := le.Uint32(push[12:])

	streamCount := uint32(inv.Define("MESHLET_STREAM_COUNT"))
	targetStreams := uint32(inv.Define("MESHLET_TARGET_STREAMS"))
	classic := inv.Define("MESHLET_CLASSIC") != 0

	rawStreams := inv.StorageBuffer(0, bindingStreams)
	rawPayload := inv.StorageBuffer(0, bindingPayload)
	rawOffsets := inv.StorageBuffer(0, bindingOffsets)
	indices := inv.StorageBuffer(0, bindingIndices)
	positions := inv.StorageBuffer(0, bindingVertices)
	varyings := inv.StorageBuffer(0, bindingVertices+1)
	skins := inv.StorageBuffer(0, bindingVertices+2)
	if rawStreams == nil || rawPayload == nil || rawOffsets == nil || indices == nil || positions == nil {
		return fmt.Errorf("meshlet decode is missing a required binding")
	}

	payload := make([]uint32, len(rawPayload)/4)
	for i := range payload {
		payload[i] = le.Uint32(rawPayload[i*4:])
	}

	groups := inv.Groups()[0]
	for g := uint32(0); g < groups; g++ {
		for l := uint32(0); l < MeshletsPerGroup; l++ {
			m := meshletOffset + g*MeshletsPerGroup + l
			if m >= meshletCount {
				break
			}
			if uint64(m+1)*uint64(streamCount)*StreamSize > uint64(len(rawStreams)) || uint64(m+1)*12 > uint64(len(rawOffsets)) {
				return fmt.Errorf("meshlet %d outside decode inputs", m)
			}

			streams := make([]Stream, streamCount)
			for s := range streams {
				rec := rawStreams[(m*streamCount+uint32(s))*StreamSize:]
				streams[s] = Stream{
					BaseOrCounts: [2]uint32{le.Uint32(rec[0:]), le.Uint32(rec[4:])},
					Bits:         le.Uint32(rec[8:]),
					Offset:       le.Uint32(rec[12:]),
				}
			}
			primOffset := le.Uint32(rawOffsets[m*12:])
			vertOffset := le.Uint32(rawOffsets[m*12+4:])
			indexOffset := uint32(0)
			if classic {
				indexOffset = le.Uint32(rawOffsets[m*12+8:])
			}

			decoded := decodeMeshlet(streams, payload, targetStreams)

			firstPrim := uint64(primBase + primOffset)
			for p, prim := range decoded.Primitives {
				for k := 0; k < 3; k++ {
					if err := putWord(indices, (firstPrim+uint64(p))*3+uint64(k), prim[k]+indexOffset); err != nil {
						return err
					}
				}
			}

			firstVert := uint64(vertBase + vertOffset)
			for v := range decoded.Words[0] {
				vert := firstVert + uint64(v)
				for w := 0; w < 2; w++ {
					if err := putWord(positions, vert*2+uint64(w), decoded.Words[w][v]); err != nil {
						return err
					}
				}
				for w := 2; w < len(decoded.Words) && w < 5; w++ {
					if varyings == nil {
						break
					}
					if err := putWord(varyings, vert*3+uint64(w-2), decoded.Words[w][v]); err != nil {
						return err
					}
				}
				for w := 5; w < len(decoded.Words); w++ {
					if skins == nil {
						break
					}
					if err := putWord(skins, vert*2+uint64(w-5), decoded.Words[w][v]); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
