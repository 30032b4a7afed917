package halbackend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/native"
)

// Queue submits to the device's HAL queue on behalf of one queue type.
type Queue struct {
	dev *Device
	typ native.QueueType

	mu        sync.Mutex
	lastIndex uint64 // submission index of the most recent list
}

// Type returns the queue type.
func (q *Queue) Type() native.QueueType { return q.typ }

// ExecuteCommandList submits a closed list.
func (q *Queue) ExecuteCommandList(list native.CommandList) error {
	l, ok := list.(*CommandList)
	if !ok || l.dev != q.dev {
		return fmt.Errorf("halbackend: execute: %w", native.ErrForeignObject)
	}
	if l.typ != q.typ {
		return fmt.Errorf("halbackend: execute %v list on %v queue: %w", l.typ, q.typ, native.ErrWrongQueueType)
	}
	if l.cb == nil {
		return native.ErrListNotClosed
	}

	q.dev.submitMu.Lock()
	idx, err := q.dev.queue.Submit([]hal.CommandBuffer{l.cb})
	q.dev.submitMu.Unlock()
	if err != nil {
		return fmt.Errorf("halbackend: submit: %w", mapError(err))
	}
	l.executed = true

	q.mu.Lock()
	if idx > q.lastIndex {
		q.lastIndex = idx
	}
	q.mu.Unlock()
	return nil
}

// Signal ties value to the most recent submission on this queue.
func (q *Queue) Signal(fence native.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok || f.dev != q.dev {
		return fmt.Errorf("halbackend: signal: %w", native.ErrForeignObject)
	}
	q.mu.Lock()
	idx := q.lastIndex
	q.mu.Unlock()
	f.mark(value, idx)
	return nil
}

// Destroy is a no-op; the HAL queue belongs to the device.
func (q *Queue) Destroy() {}

// mark is a fence value waiting for a submission index.
type mark struct {
	value uint64
	index uint64
}

// Fence maps fence values onto HAL submission indices.
type Fence struct {
	dev *Device

	mu        sync.Mutex
	pending   []mark
	completed uint64
}

func (f *Fence) mark(value, index uint64) {
	f.mu.Lock()
	f.pending = append(f.pending, mark{value: value, index: index})
	f.mu.Unlock()
}

// CompletedValue returns the highest value whose submission the GPU has
// finished.
func (f *Fence) CompletedValue() uint64 {
	f.dev.submitMu.Lock()
	done := f.dev.queue.PollCompleted()
	f.dev.submitMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.pending {
		if m.index > done {
			break
		}
		if m.value > f.completed {
			f.completed = m.value
		}
		n++
	}
	f.pending = f.pending[n:]
	return f.completed
}

// Wait polls until value is reached or timeout elapses. A non-positive
// timeout checks once.
func (f *Fence) Wait(value uint64, timeout time.Duration) (bool, error) {
	if f.CompletedValue() >= value {
		return true, nil
	}
	if timeout <= 0 {
		return false, nil
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(f.dev.cfg.PollInterval)
		if f.CompletedValue() >= value {
			return true, nil
		}
	}
	return false, nil
}

// Destroy drops pending marks.
func (f *Fence) Destroy() {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
}

// CommandAllocator owns a HAL command encoder and the command buffers
// produced from it since the last reset.
type CommandAllocator struct {
	dev *Device
	typ native.QueueType
	enc hal.CommandEncoder

	recording bool
	buffers   []hal.CommandBuffer
	destroyed bool
}

// Reset recycles every command buffer recorded since the previous reset.
func (a *CommandAllocator) Reset() error {
	if a.recording {
		return errAllocatorRecording
	}
	a.enc.ResetAll(a.buffers)
	a.buffers = a.buffers[:0]
	return nil
}

// Destroy releases the encoder and its command buffers.
func (a *CommandAllocator) Destroy() {
	if a.destroyed {
		return
	}
	a.destroyed = true
	if a.recording {
		a.enc.DiscardEncoding()
		a.recording = false
	}
	if len(a.buffers) > 0 {
		a.enc.ResetAll(a.buffers)
		a.buffers = nil
	}
	a.enc.Destroy()
}

// CommandList is one recording cycle of an allocator's encoder.
type CommandList struct {
	dev   *Device
	typ   native.QueueType
	alloc *CommandAllocator
	heap  *DescriptorHeap

	cb       hal.CommandBuffer
	executed bool
	done     bool
}

// Type returns the queue type the list targets.
func (l *CommandList) Type() native.QueueType { return l.typ }

// Encoder returns the HAL encoder for recording commands. It is valid
// until Close.
func (l *CommandList) Encoder() hal.CommandEncoder {
	if l.cb != nil || l.done {
		return nil
	}
	return l.alloc.enc
}

// SetDescriptorHeap records the heap for the list's dispatches.
func (l *CommandList) SetDescriptorHeap(heap native.DescriptorHeap) {
	if h, ok := heap.(*DescriptorHeap); ok {
		l.heap = h
	}
}

// DescriptorHeap returns the heap bound with SetDescriptorHeap.
func (l *CommandList) DescriptorHeap() *DescriptorHeap { return l.heap }

// Close ends encoding. The command buffer stays owned by the allocator
// until its next reset.
func (l *CommandList) Close() error {
	if l.cb != nil || l.done {
		return errors.New("halbackend: command list already closed")
	}
	cb, err := l.alloc.enc.EndEncoding()
	l.alloc.recording = false
	if err != nil {
		l.done = true
		return fmt.Errorf("halbackend: end encoding: %w", mapError(err))
	}
	l.cb = cb
	l.alloc.buffers = append(l.alloc.buffers, cb)
	return nil
}

// Destroy abandons an open recording. Closed lists need no cleanup.
func (l *CommandList) Destroy() {
	if l.done {
		return
	}
	l.done = true
	if l.cb == nil && l.alloc.recording {
		l.alloc.enc.DiscardEncoding()
		l.alloc.recording = false
	}
}

// DescriptorHeap is a host-mapped buffer holding capacity slots.
type DescriptorHeap struct {
	dev      *Device
	buffer   hal.Buffer
	capacity uint32
	stride   uint32
	cpuBase  uint64
	gpuBase  uint64
}

func (h *DescriptorHeap) Capacity() uint32 { return h.capacity }
func (h *DescriptorHeap) Stride() uint32   { return h.stride }
func (h *DescriptorHeap) CPUBase() uint64  { return h.cpuBase }
func (h *DescriptorHeap) GPUBase() uint64  { return h.gpuBase }

// Buffer returns the backing buffer, nil for an empty heap.
func (h *DescriptorHeap) Buffer() hal.Buffer { return h.buffer }

// Destroy unmaps and destroys the backing buffer.
func (h *DescriptorHeap) Destroy() {
	if h.buffer == nil {
		return
	}
	if err := h.dev.hal.UnmapBuffer(h.buffer); err != nil {
		hal.Logger().Warn("halbackend: unmap descriptor buffer", "err", err)
	}
	h.dev.hal.DestroyBuffer(h.buffer)
	h.buffer = nil
}
