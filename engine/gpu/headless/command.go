package headless

import (
	"fmt"

	"github.com/spaghettifunk/anima-stream/engine/gpu"
)

type bindingKey struct {
	set, binding uint32
}

type imageBinding struct {
	image *Image
	level uint32
}

type retained interface {
	retain()
	drop()
}

// CommandBuffer records operations as closures that run when submitted.
type CommandBuffer struct {
	device    *Device
	queue     gpu.QueueType
	ops       []func() error
	refs      []retained
	err       error
	submitted bool

	program         string
	defines         map[string]int
	buffers         map[bindingKey]*Buffer
	images          map[bindingKey]imageBinding
	push            []byte
	subgroupControl bool
	subgroupMin     uint32
	subgroupMax     uint32
}

func (c *CommandBuffer) Queue() gpu.QueueType { return c.queue }
func (c *CommandBuffer) Device() gpu.Device { return c.device }

func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *CommandBuffer) reference(r retained) {
	c.device.mu.Lock()
	r.retain()
	c.device.mu.Unlock()
	c.refs = append(c.refs, r)
}

func (c *CommandBuffer) buffer(buf gpu.Buffer) *Buffer {
	b, ok := buf.(*Buffer)
	if !ok || b.device != c.device {
		c.fail(ErrForeignResource)
		return nil
	}
	c.reference(b)
	return b
}

func checkRange(b *Buffer, offset, size uint64) error {
	if b.data == nil {
		return ErrReleasedResource
	}
	if offset+size > uint64(len(b.data)) {
		return fmt.Errorf("range [%d, %d) outside buffer of %d bytes", offset, offset+size, len(b.data))
	}
	return nil
}

func (c *CommandBuffer) UpdateBuffer(dst gpu.Buffer, offset uint64, data []byte) {
	b := c.buffer(dst)
	if b == nil {
		return
	}
	payload := append([]byte(nil), data...)
	c.ops = append(c.ops, func() error {
		if err := checkRange(b, offset, uint64(len(payload))); err != nil {
			return err
		}
		copy(b.data[offset:], payload)
		return nil
	})
}

func (c *CommandBuffer) FillBuffer(dst gpu.Buffer, offset, size uint64, value uint32) {
	b := c.buffer(dst)
	if b == nil {
		return
	}
	c.ops = append(c.ops, func() error {
		if err := checkRange(b, offset, size); err != nil {
			return err
		}
		word := [4]byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
		for i := uint64(0); i < size; i++ {
			b.data[offset+i] = word[i&3]
		}
		return nil
	})
}

func (c *CommandBuffer) CopyBuffer(dst gpu.Buffer, dstOffset uint64, src gpu.Buffer, srcOffset, size uint64) {
	d := c.buffer(dst)
	s := c.buffer(src)
	if d == nil || s == nil {
		return
	}
	c.ops = append(c.ops, func() error {
		if err := checkRange(s, srcOffset, size); err != nil {
			return err
		}
		if err := checkRange(d, dstOffset, size); err != nil {
			return err
		}
		copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		return nil
	})
}

// Barrier is a no-op: recorded operations already execute in order.
func (c *CommandBuffer) Barrier(srcStages, dstStages gpu.PipelineStage) {}

func (c *CommandBuffer) SetProgram(name string, defines map[string]int) {
	c.program = name
	c.defines = make(map[string]int, len(defines))
	for k, v := range defines {
		c.defines[k] = v
	}
}

func (c *CommandBuffer) SetStorageBuffer(set, binding uint32, buf gpu.Buffer) {
	b := c.buffer(buf)
	if b == nil {
		return
	}
	if c.buffers == nil {
		c.buffers = make(map[bindingKey]*Buffer)
	}
	c.buffers[bindingKey{set, binding}] = b
}

func (c *CommandBuffer) SetStorageImage(set, binding uint32, img gpu.Image, level uint32) {
	i, ok := img.(*Image)
	if !ok || i.device != c.device {
		c.fail(ErrForeignResource)
		return
	}
	c.reference(i)
	if c.images == nil {
		c.images = make(map[bindingKey]imageBinding)
	}
	c.images[bindingKey{set, binding}] = imageBinding{image: i, level: level}
}

func (c *CommandBuffer) PushConstants(data []byte) {
	c.push = append([]byte(nil), data...)
}

func (c *CommandBuffer) EnableSubgroupSizeControl(enable bool) {
	c.subgroupControl = enable
}

func (c *CommandBuffer) SetSubgroupSizeLog2(allowFull bool, minLog2, maxLog2 uint32) {
	if !c.device.SupportsSubgroupSizeLog2(allowFull, minLog2, maxLog2) {
		c.fail(fmt.Errorf("subgroup size range [%d, %d] not supported", minLog2, maxLog2))
		return
	}
	c.subgroupMin, c.subgroupMax = minLog2, maxLog2
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	limits := c.device.Limits().MaxComputeWorkGroupCount
	if x > limits[0] || y > limits[1] || z > limits[2] {
		c.fail(fmt.Errorf("%w: (%d, %d, %d)", ErrWorkgroupLimit, x, y, z))
		return
	}
	if c.program == "" {
		c.fail(fmt.Errorf("dispatch without a program"))
		return
	}

	inv := &invocation{
		groups:  [3]uint32{x, y, z},
		defines: c.defines,
		push:    c.push,
		buffers: make(map[bindingKey]*Buffer, len(c.buffers)),
		images:  make(map[bindingKey]imageBinding, len(c.images)),
	}
	for k, v := range c.buffers {
		inv.buffers[k] = v
	}
	for k, v := range c.images {
		inv.images[k] = v
	}
	program := c.program
	c.ops = append(c.ops, func() error {
		kernel, ok := c.device.kernel(program)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProgram, program)
		}
		c.device.dispatches.Add(1)
		return kernel(inv)
	})
}

// execute runs the recorded operations. The caller holds the device's
// execution lock.
func (c *CommandBuffer) execute() error {
	defer func() {
		c.device.mu.Lock()
		for _, r := range c.refs {
			r.drop()
		}
		c.device.mu.Unlock()
		c.refs = nil
	}()

	if c.err != nil {
		return c.err
	}
	for _, op := range c.ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

type invocation struct {
	groups  [3]uint32
	defines map[string]int
	push    []byte
	buffers map[bindingKey]*Buffer
	images  map[bindingKey]imageBinding
}

func (inv *invocation) Groups() [3]uint32 { return inv.groups }
func (inv *invocation) Define(name string) int { return inv.defines[name] }
func (inv *invocation) PushConstants() []byte { return inv.push }

func (inv *invocation) StorageBuffer(set, binding uint32) []byte {
	b, ok := inv.buffers[bindingKey{set, binding}]
	if !ok {
		return nil
	}
	return b.data
}

func (inv *invocation) StorageImage(set, binding uint32) (gpu.ImageLevel, bool) {
	ib, ok := inv.images[bindingKey{set, binding}]
	if !ok || ib.level >= uint32(len(ib.image.levels)) {
		return gpu.ImageLevel{}, false
	}
	info := ib.image.info
	return gpu.ImageLevel{
		Format: info.Format,
		Width:  gpu.MipExtent(info.Width, ib.level),
		Height: gpu.MipExtent(info.Height, ib.level),
		Layers: ib.image.levels[ib.level],
	}, true
}
