// Package native defines the synchronous call boundary between the compute
// device layer and a concrete GPU API.
//
// Every method is blocking and returns once the native call has returned.
// Asynchrony lives on the GPU timeline only: work is executed on a Queue and
// progress is observed through a Fence. Implementations live in sub-packages:
//
//   - native/software: a CPU timeline, used for tests and headless CI
//   - native/halbackend: github.com/gogpu/wgpu/hal (Vulkan, Metal, DX12, GLES)
//
// All handles are owned: the creator calls Destroy exactly once.
package native

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
)

// QueueType identifies the class of hardware engine a queue submits to.
// The set is closed; code switching over it must handle every value.
type QueueType uint8

const (
	// QueueCompute submits to the compute engine.
	QueueCompute QueueType = iota

	// QueueCopy submits to the copy (DMA) engine.
	QueueCopy

	// QueueTypeCount is the number of queue types.
	QueueTypeCount
)

// String returns the queue type name.
func (t QueueType) String() string {
	switch t {
	case QueueCompute:
		return "Compute"
	case QueueCopy:
		return "Copy"
	default:
		return fmt.Sprintf("QueueType(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the supported queue types.
func (t QueueType) Valid() bool {
	return t < QueueTypeCount
}

// LUID is a locally unique adapter identifier.
type LUID uint64

// String formats the LUID as high:low hex words.
func (l LUID) String() string {
	return fmt.Sprintf("%08x:%08x", uint32(l>>32), uint32(l))
}

// AdapterDesc is the identity and capability report of an adapter.
type AdapterDesc struct {
	// LUID identifies the adapter within this machine.
	LUID LUID

	// Name is the adapter description string.
	Name string

	// DedicatedMemory is the dedicated video memory in bytes (0 if unknown).
	DedicatedMemory uint64

	// TotalLaneCount is the total number of shader lanes.
	TotalLaneCount uint32

	// WaveLaneCountMin is the minimum SIMD wave width.
	WaveLaneCountMin uint32

	// DeviceType classifies the adapter (discrete, integrated, CPU ...).
	DeviceType gputypes.DeviceType

	// Backend is the graphics API behind the adapter.
	Backend gputypes.Backend
}

// Adapter is an already selected physical or virtual GPU.
type Adapter interface {
	// Describe returns the adapter identity. It must not change over time.
	Describe() AdapterDesc

	// CreateDevice opens a logical device on the adapter.
	CreateDevice() (Device, error)
}

// Device creates the native objects the compute layer orchestrates.
type Device interface {
	// CreateQueue creates a hardware queue of the given type.
	CreateQueue(t QueueType) (Queue, error)

	// CreateFence creates a fence whose completed value starts at 0.
	CreateFence() (Fence, error)

	// CreateCommandAllocator creates an allocator for lists of type t.
	CreateCommandAllocator(t QueueType) (CommandAllocator, error)

	// CreateCommandList opens a new list recording into allocator.
	CreateCommandList(t QueueType, allocator CommandAllocator) (CommandList, error)

	// CreateDescriptorHeap creates a shader-visible heap with capacity slots.
	CreateDescriptorHeap(capacity uint32) (DescriptorHeap, error)

	// Destroy releases the device. Every object created from it must be
	// destroyed first.
	Destroy()
}

// Queue is an ordered submission channel to one hardware engine.
type Queue interface {
	// Type returns the queue type the queue was created with.
	Type() QueueType

	// ExecuteCommandList submits a closed list for execution.
	ExecuteCommandList(list CommandList) error

	// Signal records, in GPU order, an instruction that sets the fence's
	// completed value to value once all prior work on the queue is done.
	Signal(fence Fence, value uint64) error

	// Destroy releases the queue.
	Destroy()
}

// Fence is a GPU-ordered monotonic counter.
type Fence interface {
	// CompletedValue returns the latest value reached by the GPU.
	CompletedValue() uint64

	// Wait blocks until the completed value is at least value or the
	// timeout elapses. A zero or negative timeout polls without blocking.
	// Returns true if the value was reached.
	Wait(value uint64, timeout time.Duration) (bool, error)

	// Destroy releases the fence.
	Destroy()
}

// CommandAllocator is backing storage for recorded commands. It must not be
// reset while the GPU may still read from it.
type CommandAllocator interface {
	// Reset reclaims the memory of every list recorded into the allocator.
	Reset() error

	// Destroy releases the allocator.
	Destroy()
}

// CommandList is one recorded, submittable sequence of GPU commands.
type CommandList interface {
	// Type returns the queue type of the list.
	Type() QueueType

	// SetDescriptorHeap binds a shader-visible heap for subsequent commands.
	SetDescriptorHeap(heap DescriptorHeap)

	// Close finishes recording. A closed list can be executed.
	Close() error

	// Destroy releases the list. Lists that were never executed discard
	// their recorded commands.
	Destroy()
}

// DescriptorHeap is a fixed-capacity table of resource-binding slots.
type DescriptorHeap interface {
	// Capacity returns the number of slots.
	Capacity() uint32

	// Stride returns the byte distance between two slots.
	Stride() uint32

	// CPUBase returns the CPU-visible address of slot 0.
	CPUBase() uint64

	// GPUBase returns the GPU-visible address of slot 0.
	GPUBase() uint64

	// Destroy releases the heap.
	Destroy()
}
