package headless

import (
	"encoding/binary"
	"testing"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferCommandsExecuteOnSubmit(t *testing.T) {
	dev := New(DefaultCapabilities())

	a, err := dev.CreateBuffer(gpu.BufferCreateInfo{Size: 16, Usage: gpu.BufferUsageStorage}, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := dev.CreateBuffer(gpu.BufferCreateInfo{Size: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), dev.BufferCreations())

	cmd := dev.RequestCommandBuffer(gpu.QueueGeneric)
	cmd.FillBuffer(b, 0, 16, 0xaabbccdd)
	cmd.CopyBuffer(b, 4, a, 0, 4)
	cmd.UpdateBuffer(b, 12, []byte{9, 9})

	// Nothing runs until submission.
	data, err := dev.ReadBuffer(b, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), data)

	sem, err := dev.Submit(cmd, true)
	require.NoError(t, err)
	require.NotNil(t, sem)
	assert.Equal(t, gpu.QueueGeneric, sem.Queue)

	data, err = dev.ReadBuffer(b, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xdd, 0xcc, 0xbb, 0xaa, 1, 2, 3, 4, 0xdd, 0xcc, 0xbb, 0xaa, 9, 9, 0xbb, 0xaa}, data)
}

func TestSubmitOutOfRangeFails(t *testing.T) {
	dev := New(DefaultCapabilities())
	buf, err := dev.CreateBuffer(gpu.BufferCreateInfo{Size: 4}, nil)
	require.NoError(t, err)

	cmd := dev.RequestCommandBuffer(gpu.QueueGeneric)
	cmd.UpdateBuffer(buf, 2, []byte{1, 2, 3})
	_, err = dev.Submit(cmd, false)
	assert.Error(t, err)
}

func TestDispatchRunsRegisteredKernel(t *testing.T) {
	dev := New(DefaultCapabilities())
	dev.RegisterKernel("double", func(inv gpu.KernelInvocation) error {
		data := inv.StorageBuffer(0, 0)
		base := binary.LittleEndian.Uint32(inv.PushConstants())
		for i := uint32(0); i < inv.Groups()[0]; i++ {
			off := (base + i) * 4
			v := binary.LittleEndian.Uint32(data[off:])
			binary.LittleEndian.PutUint32(data[off:], v*uint32(inv.Define("FACTOR")))
		}
		return nil
	})

	init := make([]byte, 16)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(init[i*4:], uint32(i+1))
	}
	buf, err := dev.CreateBuffer(gpu.BufferCreateInfo{Size: 16}, init)
	require.NoError(t, err)

	cmd := dev.RequestCommandBuffer(gpu.QueueAsyncCompute)
	cmd.SetProgram("double", map[string]int{"FACTOR": 3})
	cmd.SetStorageBuffer(0, 0, buf)
	cmd.PushConstants([]byte{1, 0, 0, 0})
	cmd.Dispatch(2, 1, 1)
	_, err = dev.Submit(cmd, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), dev.Dispatches())

	data, err := dev.ReadBuffer(buf, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[0:]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(data[4:]))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(data[8:]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(data[12:]))
}

func TestDispatchUnknownProgram(t *testing.T) {
	dev := New(DefaultCapabilities())
	cmd := dev.RequestCommandBuffer(gpu.QueueGeneric)
	cmd.SetProgram("missing", nil)
	cmd.Dispatch(1, 1, 1)
	_, err := dev.Submit(cmd, false)
	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestDispatchRespectsWorkgroupLimit(t *testing.T) {
	caps := DefaultCapabilities()
	caps.Limits.MaxComputeWorkGroupCount = [3]uint32{4, 1, 1}
	dev := New(caps)
	dev.RegisterKernel("noop", func(gpu.KernelInvocation) error { return nil })

	cmd := dev.RequestCommandBuffer(gpu.QueueGeneric)
	cmd.SetProgram("noop", nil)
	cmd.Dispatch(5, 1, 1)
	_, err := dev.Submit(cmd, false)
	assert.ErrorIs(t, err, ErrWorkgroupLimit)
}

func TestCapabilities(t *testing.T) {
	caps := DefaultCapabilities()
	dev := New(caps)
	assert.True(t, dev.SupportsSubgroupSizeLog2(true, 5, 7))
	assert.False(t, dev.SupportsSubgroupSizeLog2(true, 4, 7))
	assert.True(t, dev.ImageFormatSupported(gpu.FormatBC1RGBAUnorm, gpu.FormatFeatureSampledImage))
	assert.False(t, dev.ImageFormatSupported(gpu.FormatBC1RGBAUnorm, gpu.FormatFeatureBlitSrc))
	assert.False(t, dev.SupportsMeshShader())

	caps.SubgroupSizeControl = false
	assert.False(t, New(caps).SupportsSubgroupSizeLog2(true, 5, 7))
}

func TestImageGenerateMips(t *testing.T) {
	dev := New(DefaultCapabilities())
	info := gpu.Immutable2DImage(2, 2, gpu.FormatR8Unorm)
	info.Levels = 0
	info.Misc = gpu.ImageMiscGenerateMips

	img, err := dev.CreateImage(info, []gpu.ImageInitialData{{Data: []byte{0, 100, 200, 100}}})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), img.CreateInfo().Levels)
	assert.Equal(t, uint64(5), img.AllocationSize())

	level1, err := dev.ReadImage(img, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{100}, level1)

	assert.Equal(t, int64(1), dev.LiveImages())
	img.Release()
	img.Release()
	assert.Equal(t, int64(0), dev.LiveImages())
}

func TestWaitSemaphores(t *testing.T) {
	dev := New(DefaultCapabilities())
	sem := gpu.NewSemaphore(gpu.QueueAsyncCompute, 1)
	dev.AddWaitSemaphore(gpu.QueueGeneric, sem, gpu.StageAllCommands)
	dev.AddWaitSemaphore(gpu.QueueGeneric, nil, gpu.StageAllCommands)

	waits := dev.PendingWaits(gpu.QueueGeneric)
	require.Len(t, waits, 1)
	assert.Equal(t, sem.ID, waits[0].ID)
	assert.Empty(t, dev.PendingWaits(gpu.QueueGeneric))
}

func TestReleaseIsDeferredUntilSubmitted(t *testing.T) {
	dev := New(DefaultCapabilities())
	src, err := dev.CreateBuffer(gpu.BufferCreateInfo{Size: 4}, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	dst, err := dev.CreateBuffer(gpu.BufferCreateInfo{Size: 4}, nil)
	require.NoError(t, err)

	cmd := dev.RequestCommandBuffer(gpu.QueueAsyncTransfer)
	cmd.CopyBuffer(dst, 0, src, 0, 4)
	src.Release()
	assert.Equal(t, int64(2), dev.LiveBuffers())

	_, err = dev.Submit(cmd, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dev.LiveBuffers())

	data, err := dev.ReadBuffer(dst, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}
