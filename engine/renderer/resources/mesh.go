package resources

import (
	"github.com/spaghettifunk/anima-stream/engine/assets"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/renderer/arena"
	"github.com/spaghettifunk/anima-stream/engine/renderer/meshlet"
	"github.com/spaghettifunk/anima-stream/engine/vfs"
)

// estimateMeshCost reads only the header, so it is cheap enough for the asset
// manager's iteration. Unreadable files estimate their size.
func (rm *ResourceManager) estimateMeshCost(file vfs.File) uint64 {
	mapping, err := file.Map()
	if err != nil {
		return file.Size()
	}
	defer mapping.Close()

	h, err := meshlet.ReadHeader(mapping.Data())
	if err != nil {
		return file.Size()
	}
	chunks := uint64(h.MeshletCount+meshlet.ChunkSize-1) / meshlet.ChunkSize
	return rm.bytesPerMeshlet() * chunks * meshlet.ChunkSize
}

func (rm *ResourceManager) bytesPerMeshlet() uint64 {
	var total uint64
	for r := arena.Range(0); r < arena.RangeCount; r++ {
		g := rm.meshBuffers.Allocator(r).Global()
		for slot := 0; slot < g.SoACount(); slot++ {
			total += g.ElementSize(slot)
		}
	}
	return total
}

// instantiateMesh parses a meshlet blob, reserves its arena ranges and records
// the upload or decode. The cost is the arena memory the mesh holds.
func (rm *ResourceManager) instantiateMesh(id assets.AssetID, file vfs.File) (instance, uint64) {
	if file.Size() == 0 {
		core.LogWarn("mesh asset %d (%s) is empty", id, file.Name())
		return instance{}, 0
	}
	mapping, err := file.Map()
	if err != nil {
		core.LogError("failed to map mesh asset %d: %s", id, err)
		return instance{}, 0
	}
	defer mapping.Close()

	view, err := meshlet.Parse(mapping.Data())
	if err != nil {
		core.LogError("failed to parse mesh asset %d (%s): %s", id, file.Name(), err)
		return instance{}, 0
	}
	if view.Header.StreamCount < rm.style.StreamCount() {
		core.LogError("mesh asset %d has style %s, %s is required", id, view.Header.Style, rm.style)
		return instance{}, 0
	}

	rm.allocMu.Lock()
	allocs, ok := rm.meshBuffers.AllocateMesh(uint64(view.NumChunks()))
	rm.allocMu.Unlock()
	if !ok {
		core.LogError("mesh arenas are exhausted, mesh asset %d with %d meshlets failed", id, view.Header.MeshletCount)
		return instance{}, 0
	}

	var cmd gpu.CommandBuffer
	var recorded bool
	if rm.encoding == MeshEncodingMeshletEncoded {
		cmd = rm.device.RequestCommandBuffer(gpu.QueueAsyncTransfer)
		rm.recordEncodedUpload(cmd, allocs, view)
		recorded = true
	} else {
		cmd = rm.device.RequestCommandBuffer(gpu.QueueAsyncCompute)
		recorded = rm.recordDecode(cmd, allocs, view)
	}

	if recorded {
		sem, err := rm.device.Submit(cmd, true)
		if err != nil {
			core.LogError("mesh asset %d submission failed: %s", id, err)
			recorded = false
		} else {
			rm.device.AddWaitSemaphore(gpu.QueueGeneric, sem, gpu.StageDrawIndirect|gpu.StageVertexInput|gpu.StageComputeShader)
		}
	}
	if !recorded {
		rm.allocMu.Lock()
		rm.meshBuffers.FreeMesh(allocs)
		rm.allocMu.Unlock()
		return instance{}, 0
	}

	result := instance{mesh: allocs, draw: rm.drawParams(allocs, view)}
	return result, rm.meshBuffers.CommittedBytes(allocs)
}

func (rm *ResourceManager) drawParams(allocs [arena.RangeCount]arena.Allocation, view *meshlet.MeshView) DrawParams {
	params := DrawParams{}
	for r := range allocs {
		params.Sets[r] = allocs[r].Set
	}
	header := uint32(allocs[arena.RangeIndirectOrHeader].Offset)
	if rm.encoding == MeshEncodingClassic {
		params.Kind = DrawClassic
		params.Classic = ClassicParams{IndirectOffset: header, DrawCount: view.Header.MeshletCount}
	} else {
		params.Kind = DrawMeshlet
		params.Meshlet = MeshletParams{HeaderOffset: header, MeshletCount: view.Header.MeshletCount, Style: rm.style}
	}
	return params
}

// recordEncodedUpload copies the blob into the arenas. Stream descriptors are
// rebased onto the payload arena and runtime headers onto the descriptor
// arena.
func (rm *ResourceManager) recordEncodedUpload(cmd gpu.CommandBuffer, allocs [arena.RangeCount]arena.Allocation, view *meshlet.MeshView) {
	mb := rm.meshBuffers
	payload := allocs[arena.RangeIndexOrPayload]
	streams := allocs[arena.RangeAttributeOrStream]
	headers := allocs[arena.RangeIndirectOrHeader]
	stride := rm.style.StreamCount()

	cmd.UpdateBuffer(mb.Buffer(arena.StreamPayload, payload.Set), mb.ByteOffset(arena.StreamPayload, payload), view.PayloadBytes())
	cmd.UpdateBuffer(mb.Buffer(arena.StreamDescriptors, streams.Set), mb.ByteOffset(arena.StreamDescriptors, streams),
		view.RebasedStreams(uint32(payload.Offset)*meshlet.PayloadWordsPerMeshlet, stride))
	cmd.UpdateBuffer(mb.Buffer(arena.StreamHeader, headers.Set), mb.ByteOffset(arena.StreamHeader, headers),
		view.RuntimeHeaders(uint32(streams.Offset)*stride, stride))
	cmd.UpdateBuffer(mb.Buffer(arena.StreamBounds, headers.Set), mb.ByteOffset(arena.StreamBounds, headers), view.BoundsRecords())
	cmd.Barrier(gpu.StageTransfer, gpu.StageAllCommands)
}

// recordDecode expands the blob into the index and vertex arenas and uploads
// the bounds next to the indirect draws or decoded headers.
func (rm *ResourceManager) recordDecode(cmd gpu.CommandBuffer, allocs [arena.RangeCount]arena.Allocation, view *meshlet.MeshView) bool {
	mb := rm.meshBuffers
	indices := allocs[arena.RangeIndexOrPayload]
	vertices := allocs[arena.RangeAttributeOrStream]
	headers := allocs[arena.RangeIndirectOrHeader]

	info := &meshlet.DecodeInfo{
		Mode:            meshlet.DecodeClassic,
		Target:          rm.style,
		IndexBuffer:     mb.Buffer(arena.StreamIndex, indices.Set),
		PrimitiveOffset: uint32(indices.Offset) * meshlet.MaxElements,
		VertexOffset:    uint32(vertices.Offset) * meshlet.MaxElements,
		IndirectBuffer:  mb.Buffer(arena.StreamIndirect, headers.Set),
		IndirectOffset:  uint32(headers.Offset),
	}
	if rm.encoding == MeshEncodingMeshletDecoded {
		info.Mode = meshlet.DecodeMeshlet
		info.IndirectBuffer = mb.Buffer(arena.StreamHeader, headers.Set)
	}
	for i, stream := range []arena.Stream{arena.StreamPosition, arena.StreamVarying, arena.StreamSkin} {
		if buf := mb.Buffer(stream, vertices.Set); buf != nil {
			info.VertexBuffers[i] = buf
		}
	}

	if !meshlet.DecodeMesh(cmd, info, view) {
		return false
	}
	cmd.UpdateBuffer(mb.Buffer(arena.StreamBounds, headers.Set), mb.ByteOffset(arena.StreamBounds, headers), view.BoundsRecords())
	return true
}
