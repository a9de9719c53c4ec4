package meshlet

import (
	"encoding/binary"

	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/math"
)

const (
	DecodeProgram = "builtin://shaders/meshlet_decode.comp"

	// MeshletsPerGroup is the number of meshlets one decode workgroup handles.
	MeshletsPerGroup = 8

	decodeSubgroupMinLog2 = 5
	decodeSubgroupMaxLog2 = 7

	bindingStreams  = 0
	bindingPayload  = 1
	bindingOffsets  = 2
	bindingIndices  = 3
	bindingVertices = 4
)

type DecodeMode int

const (
	// DecodeClassic writes mesh-global indices and indexed indirect draws.
	DecodeClassic DecodeMode = iota
	// DecodeMeshlet writes meshlet-local indices and decoded meshlet headers.
	DecodeMeshlet
)

type DecodeInfo struct {
	Mode DecodeMode
	/** @brief Streams decoded per vertex follow this style. */
	Target Style

	IndexBuffer gpu.Buffer
	/** @brief First primitive (index triplet) written in IndexBuffer. */
	PrimitiveOffset uint32

	/** @brief Position, varying and skin destinations. Only position is required. */
	VertexBuffers [3]gpu.Buffer
	/** @brief First vertex written in the vertex buffers. */
	VertexOffset uint32

	/** @brief Optional destination of indirect draws or decoded headers. */
	IndirectBuffer gpu.Buffer
	/** @brief First meshlet record written in IndirectBuffer. */
	IndirectOffset uint32
}

// SupportsDecode reports whether the device can run the decode program.
func SupportsDecode(device gpu.Device) bool {
	return device.SupportsSubgroupSizeLog2(true, decodeSubgroupMinLog2, decodeSubgroupMaxLog2)
}

func decodePushConstants(primBase, vertBase, meshletOffset, meshletCount uint32) []byte {
	push := make([]byte, 16)
	binary.LittleEndian.PutUint32(push[0:], primBase)
	binary.LittleEndian.PutUint32(push[4:], vertBase)
	binary.LittleEndian.PutUint32(push[8:], meshletOffset)
	binary.LittleEndian.PutUint32(push[12:], meshletCount)
	return push
}

func uploadBuffer(device gpu.Device, data []byte) (gpu.Buffer, error) {
	size := uint64(len(data))
	if size == 0 {
		size = 4
	}
	return device.CreateBuffer(gpu.BufferCreateInfo{
		Domain: gpu.BufferDomainLinkedDeviceHost,
		Size:   size,
		Usage:  gpu.BufferUsageStorage,
	}, data)
}

// DecodeMesh records the expansion of an encoded mesh into index and vertex
// buffers. It returns false without recording anything when the device or the
// destinations cannot serve the decode.
func DecodeMesh(cmd gpu.CommandBuffer, info *DecodeInfo, view *MeshView) bool {
	device := cmd.Device()
	if !SupportsDecode(device) {
		core.LogError("meshlet decode needs subgroup size control in [%d, %d]", decodeSubgroupMinLog2, decodeSubgroupMaxLog2)
		return false
	}
	if info.IndexBuffer == nil || info.VertexBuffers[0] == nil {
		core.LogError("meshlet decode needs an index buffer and a position buffer")
		return false
	}
	if view.Header.StreamCount < info.Target.StreamCount() {
		core.LogError("meshlet blob of style %s cannot be decoded as %s", view.Header.Style, info.Target)
		return false
	}

	count := view.Header.MeshletCount
	offsets := computeOffsets(view)

	var transient []gpu.Buffer
	defer func() {
		for _, b := range transient {
			b.Release()
		}
	}()
	for _, data := range [][]byte{view.StreamBytes(), view.PayloadBytes(), encodeOffsets(offsets)} {
		buf, err := uploadBuffer(device, data)
		if err != nil {
			core.LogError("failed to upload meshlet decode input: %s", err)
			return false
		}
		transient = append(transient, buf)
	}

	classic := 0
	if info.Mode == DecodeClassic {
		classic = 1
	}
	cmd.SetProgram(DecodeProgram, map[string]int{
		"MESHLET_STREAM_COUNT":   int(view.Header.StreamCount),
		"MESHLET_TARGET_STREAMS": int(info.Target.StreamCount()),
		"MESHLET_CLASSIC":        classic,
	})
	cmd.SetStorageBuffer(0, bindingStreams, transient[0])
	cmd.SetStorageBuffer(0, bindingPayload, transient[1])
	cmd.SetStorageBuffer(0, bindingOffsets, transient[2])
	cmd.SetStorageBuffer(0, bindingIndices, info.IndexBuffer)
	for i, buf := range info.VertexBuffers {
		if buf != nil {
			cmd.SetStorageBuffer(0, bindingVertices+uint32(i), buf)
		}
	}

	cmd.EnableSubgroupSizeControl(true)
	cmd.SetSubgroupSizeLog2(true, decodeSubgroupMinLog2, decodeSubgroupMaxLog2)

	maxGroups := device.Limits().MaxComputeWorkGroupCount[0]
	if maxGroups == 0 {
		maxGroups = 65535
	}
	groups := math.DivRoundUp(count, MeshletsPerGroup)
	for start := uint32(0); start < groups; start += maxGroups {
		batch := math.Min(groups-start, maxGroups)
		cmd.PushConstants(decodePushConstants(info.PrimitiveOffset, info.VertexOffset, start*MeshletsPerGroup, count))
		cmd.Dispatch(batch, 1, 1)
	}
	cmd.EnableSubgroupSizeControl(false)

	if info.IndirectBuffer != nil {
		cmd.Barrier(gpu.StageComputeShader, gpu.StageTransfer)
		var records []byte
		var size uint64
		if info.Mode == DecodeClassic {
			records = view.IndirectDraws(info.PrimitiveOffset, info.VertexOffset)
			size = IndirectRecordSize
		} else {
			records = view.DecodedHeaders(info.PrimitiveOffset, info.VertexOffset)
			size = DecodedHeaderSize
		}
		cmd.UpdateBuffer(info.IndirectBuffer, uint64(info.IndirectOffset)*size, records)
	}
	cmd.Barrier(gpu.StageComputeShader|gpu.StageTransfer, gpu.StageAllCommands)
	return true
}
