package halbackend

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/native"
)

// errAllocatorRecording is returned when a second list is opened on an
// allocator whose previous list is still recording.
var errAllocatorRecording = errors.New("halbackend: allocator already has an open command list")

// Device is a HAL device. It implements native.Device.
type Device struct {
	hal   hal.Device
	queue hal.Queue
	owned bool
	cfg   Config

	// submitMu serializes Submit and PollCompleted on the shared hal.Queue
	// so the submission index recorded by a Queue belongs to its own list.
	submitMu sync.Mutex

	destroyed atomic.Bool
}

func newDevice(open hal.OpenDevice, owned bool, cfg Config) *Device {
	return &Device{hal: open.Device, queue: open.Queue, owned: owned, cfg: cfg}
}

// HAL returns the underlying HAL device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) {
	return d.hal, d.queue
}

// CreateQueue returns a queue of type t on the shared HAL queue.
func (d *Device) CreateQueue(t native.QueueType) (native.Queue, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("halbackend: create queue %v: %w", t, native.ErrWrongQueueType)
	}
	return &Queue{dev: d, typ: t}, nil
}

// CreateFence returns a fence at value 0.
func (d *Device) CreateFence() (native.Fence, error) {
	return &Fence{dev: d}, nil
}

// CreateCommandAllocator creates a HAL command encoder.
func (d *Device) CreateCommandAllocator(t native.QueueType) (native.CommandAllocator, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("halbackend: create allocator %v: %w", t, native.ErrWrongQueueType)
	}
	enc, err := d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "compute-" + t.String() + "-allocator",
	})
	if err != nil {
		return nil, fmt.Errorf("halbackend: create command encoder: %w", mapError(err))
	}
	return &CommandAllocator{dev: d, typ: t, enc: enc}, nil
}

// CreateCommandList begins encoding on allocator.
func (d *Device) CreateCommandList(t native.QueueType, allocator native.CommandAllocator) (native.CommandList, error) {
	a, ok := allocator.(*CommandAllocator)
	if !ok || a.dev != d {
		return nil, fmt.Errorf("halbackend: create list: %w", native.ErrForeignObject)
	}
	if a.typ != t {
		return nil, fmt.Errorf("halbackend: create %v list on %v allocator: %w", t, a.typ, native.ErrWrongQueueType)
	}
	if a.recording {
		return nil, errAllocatorRecording
	}
	if err := a.enc.BeginEncoding("compute-" + t.String() + "-list"); err != nil {
		return nil, fmt.Errorf("halbackend: begin encoding: %w", mapError(err))
	}
	a.recording = true
	return &CommandList{dev: d, typ: t, alloc: a}, nil
}

// CreateDescriptorHeap allocates a host-mapped buffer of capacity slots.
func (d *Device) CreateDescriptorHeap(capacity uint32) (native.DescriptorHeap, error) {
	h := &DescriptorHeap{dev: d, capacity: capacity, stride: d.cfg.DescriptorStride}
	size := uint64(capacity) * uint64(h.stride)
	if size == 0 {
		return h, nil
	}

	buf, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: "compute-descriptor-heap",
		Size:  size,
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("halbackend: create descriptor buffer: %w", mapError(err))
	}
	mapping, err := d.hal.MapBuffer(buf, 0, size)
	if err != nil {
		d.hal.DestroyBuffer(buf)
		return nil, fmt.Errorf("halbackend: map descriptor buffer: %w", mapError(err))
	}
	h.buffer = buf
	h.cpuBase = uint64(uintptr(mapping.Ptr))
	h.gpuBase = uint64(buf.NativeHandle())
	return h, nil
}

// Destroy waits for the GPU to go idle and releases an owned HAL device.
// A shared device is left to its owner.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) || !d.owned {
		return
	}
	if err := d.hal.WaitIdle(); err != nil {
		hal.Logger().Warn("halbackend: wait idle before destroy failed", "err", err)
	}
	d.hal.Destroy()
}

// mapError tags HAL device loss as a native device removal.
func mapError(err error) error {
	if errors.Is(err, hal.ErrDeviceLost) || errors.Is(err, hal.ErrDeviceOutOfMemory) {
		return fmt.Errorf("%w: %w", native.ErrDeviceRemoved, err)
	}
	return err
}
