package compute

import (
	"fmt"

	"github.com/gogpu/compute/native"
)

// CommandAllocator is a rented native command allocator. Pass it to
// Device.NewCommandList, or hand it back unused with Release.
type CommandAllocator struct {
	device *Device
	typ    QueueType
	native native.CommandAllocator
}

// Type returns the queue type the allocator records for.
func (a *CommandAllocator) Type() QueueType { return a.typ }

// Native returns the native allocator, or nil once ownership has moved.
func (a *CommandAllocator) Native() native.CommandAllocator { return a.native }

// Release returns an allocator that was never recorded into to its pool.
// After the device is closed it returns ErrDeviceClosed; Close has already
// released the native allocator.
func (a *CommandAllocator) Release() error {
	if a.native == nil {
		return opError("release allocator", ErrAllocatorNotRented)
	}
	s, err := a.device.slot(a.typ)
	if err != nil {
		return opError("release allocator", err)
	}

	d := a.device
	d.life.RLock()
	defer d.life.RUnlock()
	n := a.native
	a.native = nil
	if d.closed {
		return queueError("release allocator", a.typ, ErrDeviceClosed)
	}
	if err := s.pool.Enqueue(n, 0); err != nil {
		return queueError("release allocator", a.typ, fmt.Errorf("%w: %w", ErrAllocatorNotRented, err))
	}
	return nil
}

// CommandList is one recordable, submittable list bound to a queue type
// and an allocator. Ownership of both moves to the device on
// ExecuteCommandList; the CommandList is unusable afterwards.
//
// A CommandList must not be used from multiple goroutines at once.
type CommandList struct {
	device    *Device
	typ       QueueType
	allocator native.CommandAllocator
	list      native.CommandList
}

// Type returns the queue type the list targets.
func (cl *CommandList) Type() QueueType { return cl.typ }

// Native returns the native list for recording commands, or nil once the
// list has been executed or discarded.
func (cl *CommandList) Native() native.CommandList { return cl.list }

// Device returns the device that created the list.
func (cl *CommandList) Device() *Device { return cl.device }

// Discard drops the recorded commands and returns the allocator to its
// pool without submitting anything. After the device is closed it returns
// ErrDeviceClosed; Close has already released the native objects.
func (cl *CommandList) Discard() error {
	if cl.list == nil {
		return opError("discard", ErrCommandListConsumed)
	}
	s, err := cl.device.slot(cl.typ)
	if err != nil {
		return opError("discard", err)
	}

	d := cl.device
	d.life.RLock()
	defer d.life.RUnlock()
	alloc, list := cl.allocator, cl.list
	cl.allocator, cl.list = nil, nil
	if d.closed {
		return queueError("discard", cl.typ, ErrDeviceClosed)
	}

	s.untrack(list)
	list.Destroy()
	if err := s.pool.Enqueue(alloc, 0); err != nil {
		return queueError("discard", cl.typ, fmt.Errorf("%w: %w", ErrAllocatorNotRented, err))
	}
	return nil
}
