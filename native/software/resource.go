package software

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compute/native"
)

// errListClosed is returned when recording into a closed list.
var errListClosed = errors.New("software: command list is closed")

// Fence is a software fence. It implements native.Fence.
type Fence struct {
	dev *Device

	mu        sync.Mutex
	completed uint64
	changed   chan struct{}

	destroyed atomic.Bool
}

func newFence(d *Device) *Fence {
	return &Fence{dev: d, changed: make(chan struct{})}
}

// signal runs on the queue timeline.
func (f *Fence) signal(value uint64) {
	f.mu.Lock()
	if value > f.completed {
		f.completed = value
	}
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

// CompletedValue returns the latest value reached by the timeline.
func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Wait blocks until the completed value reaches value or timeout elapses.
func (f *Fence) Wait(value uint64, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	if f.completed >= value {
		f.mu.Unlock()
		return true, nil
	}
	f.mu.Unlock()
	if f.dev.hasFault(FaultWait) {
		f.dev.remove()
		return false, fmt.Errorf("software: wait %d: %w", value, native.ErrDeviceRemoved)
	}
	if timeout <= 0 {
		return false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		f.mu.Lock()
		if f.completed >= value {
			f.mu.Unlock()
			return true, nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return f.CompletedValue() >= value, nil
		}
	}
}

// Destroy releases the fence.
func (f *Fence) Destroy() {
	f.dev.release(&f.destroyed)
}

// CommandAllocator is a software command allocator. It implements
// native.CommandAllocator.
type CommandAllocator struct {
	dev *Device
	typ native.QueueType
	id  int64

	// inflight counts executed lists whose commands have not run yet.
	inflight atomic.Int32
	resets   atomic.Int64

	destroyed atomic.Bool
}

// ID returns the creation ordinal of the allocator, starting at 1.
func (a *CommandAllocator) ID() int64 {
	return a.id
}

// Resets returns how many times the allocator was reset.
func (a *CommandAllocator) Resets() int64 {
	return a.resets.Load()
}

// Busy reports whether the timeline still has work recorded here.
func (a *CommandAllocator) Busy() bool {
	return a.inflight.Load() > 0
}

// Reset reclaims the allocator. It fails if the timeline has not finished
// the lists recorded into it.
func (a *CommandAllocator) Reset() error {
	if a.inflight.Load() > 0 {
		a.dev.unsafeResets.Add(1)
		return fmt.Errorf("software: allocator %d: %w", a.id, ErrAllocatorInUse)
	}
	a.resets.Add(1)
	a.dev.allocatorResets.Add(1)
	return nil
}

// Destroy releases the allocator.
func (a *CommandAllocator) Destroy() {
	a.dev.release(&a.destroyed)
}

// CommandList is a software command list. It implements native.CommandList.
type CommandList struct {
	dev   *Device
	typ   native.QueueType
	alloc *CommandAllocator

	mu       sync.Mutex
	ops      []func()
	heap     native.DescriptorHeap
	closed   bool
	executed bool

	destroyed atomic.Bool
}

// Type returns the list type.
func (l *CommandList) Type() native.QueueType {
	return l.typ
}

// Allocator returns the allocator the list records into.
func (l *CommandList) Allocator() *CommandAllocator {
	return l.alloc
}

// Record appends a command. The command runs on the queue timeline when
// the list executes.
func (l *CommandList) Record(op func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errListClosed
	}
	l.ops = append(l.ops, op)
	return nil
}

// Len returns the number of recorded commands.
func (l *CommandList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// SetDescriptorHeap binds heap for subsequent commands.
func (l *CommandList) SetDescriptorHeap(heap native.DescriptorHeap) {
	l.mu.Lock()
	l.heap = heap
	l.mu.Unlock()
}

// DescriptorHeap returns the bound heap, or nil.
func (l *CommandList) DescriptorHeap() native.DescriptorHeap {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heap
}

// Close finishes recording.
func (l *CommandList) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errListClosed
	}
	l.closed = true
	return nil
}

// Destroy releases the list.
func (l *CommandList) Destroy() {
	l.dev.release(&l.destroyed)
}

// DescriptorHeap is a software descriptor heap. It implements
// native.DescriptorHeap.
type DescriptorHeap struct {
	dev      *Device
	capacity uint32
	stride   uint32
	cpuBase  uint64
	gpuBase  uint64

	destroyed atomic.Bool
}

// Capacity returns the number of slots.
func (h *DescriptorHeap) Capacity() uint32 { return h.capacity }

// Stride returns the slot size in bytes.
func (h *DescriptorHeap) Stride() uint32 { return h.stride }

// CPUBase returns the CPU address of slot 0.
func (h *DescriptorHeap) CPUBase() uint64 { return h.cpuBase }

// GPUBase returns the GPU address of slot 0.
func (h *DescriptorHeap) GPUBase() uint64 { return h.gpuBase }

// Destroy releases the heap.
func (h *DescriptorHeap) Destroy() {
	h.dev.release(&h.destroyed)
}
