// Package descriptor hands out descriptor slots from one fixed-size heap.
package descriptor

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/compute/native"
)

// ErrExhausted is returned when every slot of the heap has been allocated.
var ErrExhausted = errors.New("descriptor: heap exhausted")

// CPUHandle is the CPU-visible address of a descriptor slot.
type CPUHandle uint64

// GPUHandle is the GPU-visible address of a descriptor slot.
type GPUHandle uint64

// Slot is a paired CPU/GPU handle at a fixed offset in the heap.
type Slot struct {
	Offset uint32
	CPU    CPUHandle
	GPU    GPUHandle
}

// Allocator is a bump allocator over a heap. Slots are never freed; their
// lifetime is the heap lifetime.
//
// Allocator is safe for concurrent use.
type Allocator struct {
	heap     native.DescriptorHeap
	capacity uint32
	stride   uint64
	cpuBase  uint64
	gpuBase  uint64

	next atomic.Uint32
}

// New returns an allocator over heap. The heap geometry is read once.
func New(heap native.DescriptorHeap) *Allocator {
	return &Allocator{
		heap:     heap,
		capacity: heap.Capacity(),
		stride:   uint64(heap.Stride()),
		cpuBase:  heap.CPUBase(),
		gpuBase:  heap.GPUBase(),
	}
}

// Allocate returns the next slot. The cursor never advances past the
// capacity, so failed calls leave the allocator unchanged.
func (a *Allocator) Allocate() (Slot, error) {
	for {
		i := a.next.Load()
		if i >= a.capacity {
			return Slot{}, fmt.Errorf("descriptor: allocate slot %d of %d: %w", i, a.capacity, ErrExhausted)
		}
		if a.next.CompareAndSwap(i, i+1) {
			off := uint64(i) * a.stride
			return Slot{
				Offset: i,
				CPU:    CPUHandle(a.cpuBase + off),
				GPU:    GPUHandle(a.gpuBase + off),
			}, nil
		}
	}
}

// Allocated returns the number of slots handed out.
func (a *Allocator) Allocated() uint32 {
	return a.next.Load()
}

// Capacity returns the heap capacity.
func (a *Allocator) Capacity() uint32 {
	return a.capacity
}

// Heap returns the underlying heap.
func (a *Allocator) Heap() native.DescriptorHeap {
	return a.heap
}

// Destroy releases the heap.
func (a *Allocator) Destroy() {
	a.heap.Destroy()
}
