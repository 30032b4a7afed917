// Package software implements the native boundary on a CPU timeline.
//
// Each queue owns a worker goroutine that plays the role of a GPU engine:
// executed command lists and fence signals are processed strictly in
// submission order, asynchronously with respect to the submitting
// goroutine. Commands are Go closures recorded with CommandList.Record.
//
// The backend tracks object lifetimes and detects allocator resets while
// the timeline still reads from the allocator, which makes it the reference
// backend for tests of the compute package.
package software

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute/native"
)

// ErrAllocatorInUse is returned by CommandAllocator.Reset when a list
// recorded into the allocator has not finished executing.
var ErrAllocatorInUse = errors.New("software: command allocator reset while in use")

// Fault selects native calls that fail on purpose.
type Fault uint32

const (
	// FaultCreateDevice fails Adapter.CreateDevice.
	FaultCreateDevice Fault = 1 << iota
	// FaultCreateQueue fails Device.CreateQueue.
	FaultCreateQueue
	// FaultCreateFence fails Device.CreateFence.
	FaultCreateFence
	// FaultCreateAllocator fails Device.CreateCommandAllocator.
	FaultCreateAllocator
	// FaultCreateHeap fails Device.CreateDescriptorHeap.
	FaultCreateHeap
	// FaultExecute fails Queue.ExecuteCommandList and removes the device.
	FaultExecute
	// FaultSignal fails Queue.Signal and removes the device.
	FaultSignal
	// FaultWait fails Fence.Wait on an unreached value and removes the device.
	FaultWait
)

// Default configuration values.
const (
	// DefaultDescriptorStride matches the CBV/SRV/UAV increment of common
	// D3D12 drivers.
	DefaultDescriptorStride = 32

	// DefaultTotalLaneCount is the reported lane count.
	DefaultTotalLaneCount = 256

	// DefaultWaveLaneCount is the reported wave width.
	DefaultWaveLaneCount = 8
)

// Config configures a software adapter.
type Config struct {
	// Desc is the adapter identity. Zero fields are filled with defaults.
	Desc native.AdapterDesc

	// Latency is how long the timeline spends on each executed list.
	Latency time.Duration

	// DescriptorStride is the byte size of one descriptor slot.
	// Defaults to DefaultDescriptorStride if zero.
	DescriptorStride uint32

	// Faults are injected into every device created from the adapter.
	Faults Fault
}

func (c Config) withDefaults() Config {
	if c.Desc.Name == "" {
		c.Desc.Name = "Software Adapter"
	}
	if c.Desc.LUID == 0 {
		c.Desc.LUID = 1
	}
	if c.Desc.TotalLaneCount == 0 {
		c.Desc.TotalLaneCount = DefaultTotalLaneCount
	}
	if c.Desc.WaveLaneCountMin == 0 {
		c.Desc.WaveLaneCountMin = DefaultWaveLaneCount
	}
	if c.Desc.DeviceType == gputypes.DeviceTypeOther {
		c.Desc.DeviceType = gputypes.DeviceTypeCPU
	}
	if c.DescriptorStride == 0 {
		c.DescriptorStride = DefaultDescriptorStride
	}
	return c
}

// Adapter is a software adapter. It implements native.Adapter.
type Adapter struct {
	cfg Config
}

// NewAdapter returns a software adapter.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg.withDefaults()}
}

// Describe returns the adapter identity.
func (a *Adapter) Describe() native.AdapterDesc {
	return a.cfg.Desc
}

// CreateDevice opens a software device.
func (a *Adapter) CreateDevice() (native.Device, error) {
	dev, err := a.Open()
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Open is CreateDevice returning the concrete type, for tests that need
// fault injection or statistics.
func (a *Adapter) Open() (*Device, error) {
	if a.cfg.Faults&FaultCreateDevice != 0 {
		return nil, fmt.Errorf("software: create device: %w", native.ErrDeviceRemoved)
	}
	d := &Device{cfg: a.cfg}
	d.faults.Store(uint32(a.cfg.Faults))
	return d, nil
}

// Stats counts native objects of a device.
type Stats struct {
	QueuesCreated     int64
	FencesCreated     int64
	AllocatorsCreated int64
	ListsCreated      int64
	HeapsCreated      int64
	ListsExecuted     int64
	AllocatorResets   int64

	// Live is the number of created objects not yet destroyed, the device
	// itself included.
	Live int64

	// DoubleDestroys counts Destroy calls on already destroyed objects.
	DoubleDestroys int64

	// UnsafeResets counts allocator resets attempted while in use.
	UnsafeResets int64
}

// Device is a software device. It implements native.Device.
type Device struct {
	cfg    Config
	faults atomic.Uint32

	removed   atomic.Bool
	destroyed atomic.Bool

	mu     sync.Mutex
	queues [native.QueueTypeCount]*Queue
	heaps  uint32

	queuesCreated     atomic.Int64
	fencesCreated     atomic.Int64
	allocatorsCreated atomic.Int64
	listsCreated      atomic.Int64
	heapsCreated      atomic.Int64
	listsExecuted     atomic.Int64
	allocatorResets   atomic.Int64
	live              atomic.Int64
	doubleDestroys    atomic.Int64
	unsafeResets      atomic.Int64
}

// InjectFault enables faults on the device.
func (d *Device) InjectFault(f Fault) {
	for {
		old := d.faults.Load()
		if d.faults.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearFaults disables every fault.
func (d *Device) ClearFaults() {
	d.faults.Store(0)
}

func (d *Device) hasFault(f Fault) bool {
	return d.faults.Load()&uint32(f) != 0
}

// Removed reports whether a fatal fault put the device in an undefined state.
func (d *Device) Removed() bool {
	return d.removed.Load()
}

// Stats returns a snapshot of the object counters.
func (d *Device) Stats() Stats {
	live := d.live.Load()
	if !d.destroyed.Load() {
		live++
	}
	return Stats{
		QueuesCreated:     d.queuesCreated.Load(),
		FencesCreated:     d.fencesCreated.Load(),
		AllocatorsCreated: d.allocatorsCreated.Load(),
		ListsCreated:      d.listsCreated.Load(),
		HeapsCreated:      d.heapsCreated.Load(),
		ListsExecuted:     d.listsExecuted.Load(),
		AllocatorResets:   d.allocatorResets.Load(),
		Live:              live,
		DoubleDestroys:    d.doubleDestroys.Load(),
		UnsafeResets:      d.unsafeResets.Load(),
	}
}

// Queue returns the queue of type t created last, or nil.
func (d *Device) Queue(t native.QueueType) *Queue {
	if !t.Valid() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues[t]
}

// CreateQueue creates a queue with its own timeline worker.
func (d *Device) CreateQueue(t native.QueueType) (native.Queue, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("software: create queue %v: %w", t, native.ErrWrongQueueType)
	}
	if d.hasFault(FaultCreateQueue) {
		return nil, fmt.Errorf("software: create queue %v: %w", t, native.ErrDeviceRemoved)
	}
	q := newQueue(d, t)
	d.mu.Lock()
	d.queues[t] = q
	d.mu.Unlock()
	d.queuesCreated.Add(1)
	d.live.Add(1)
	return q, nil
}

// CreateFence creates a fence at value 0.
func (d *Device) CreateFence() (native.Fence, error) {
	if d.hasFault(FaultCreateFence) {
		return nil, fmt.Errorf("software: create fence: %w", native.ErrDeviceRemoved)
	}
	d.fencesCreated.Add(1)
	d.live.Add(1)
	return newFence(d), nil
}

// CreateCommandAllocator creates an allocator for lists of type t.
func (d *Device) CreateCommandAllocator(t native.QueueType) (native.CommandAllocator, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("software: create allocator %v: %w", t, native.ErrWrongQueueType)
	}
	if d.hasFault(FaultCreateAllocator) {
		return nil, fmt.Errorf("software: create allocator: %w", native.ErrDeviceRemoved)
	}
	id := d.allocatorsCreated.Add(1)
	d.live.Add(1)
	return &CommandAllocator{dev: d, typ: t, id: id}, nil
}

// CreateCommandList opens a list recording into allocator.
func (d *Device) CreateCommandList(t native.QueueType, allocator native.CommandAllocator) (native.CommandList, error) {
	a, ok := allocator.(*CommandAllocator)
	if !ok || a.dev != d {
		return nil, fmt.Errorf("software: create list: %w", native.ErrForeignObject)
	}
	if a.typ != t {
		return nil, fmt.Errorf("software: create %v list on %v allocator: %w", t, a.typ, native.ErrWrongQueueType)
	}
	d.listsCreated.Add(1)
	d.live.Add(1)
	return &CommandList{dev: d, typ: t, alloc: a}, nil
}

// CreateDescriptorHeap creates a heap with synthetic, non-overlapping
// CPU and GPU address ranges.
func (d *Device) CreateDescriptorHeap(capacity uint32) (native.DescriptorHeap, error) {
	if d.hasFault(FaultCreateHeap) {
		return nil, fmt.Errorf("software: create descriptor heap: %w", native.ErrDeviceRemoved)
	}
	d.mu.Lock()
	idx := uint64(d.heaps)
	d.heaps++
	d.mu.Unlock()
	d.heapsCreated.Add(1)
	d.live.Add(1)
	return &DescriptorHeap{
		dev:      d,
		capacity: capacity,
		stride:   d.cfg.DescriptorStride,
		cpuBase:  0x0000_1000_0000_0000 + idx<<32,
		gpuBase:  0x0000_2000_0000_0000 + idx<<32,
	}, nil
}

// Destroy releases the device.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		d.doubleDestroys.Add(1)
	}
}

func (d *Device) release(destroyed *atomic.Bool) {
	if !destroyed.CompareAndSwap(false, true) {
		d.doubleDestroys.Add(1)
		return
	}
	d.live.Add(-1)
}

func (d *Device) remove() {
	d.removed.Store(true)
}
