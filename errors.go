package compute

import (
	"errors"
	"fmt"
)

// Sentinel errors. Errors returned by Device and CommandList wrap one of
// these, usually inside an *OpError; test with errors.Is.
var (
	// ErrInvalidQueueType is returned for a queue type other than
	// QueueCompute or QueueCopy. No state is changed.
	ErrInvalidQueueType = errors.New("compute: invalid queue type")

	// ErrResourceExhausted is returned when the descriptor heap is full.
	ErrResourceExhausted = errors.New("compute: descriptor heap exhausted")

	// ErrDeviceLost is returned once the native device has failed. The
	// device stays lost; only Close is meaningful afterwards.
	ErrDeviceLost = errors.New("compute: device lost")

	// ErrDeviceClosed is returned by operations on a closed device.
	ErrDeviceClosed = errors.New("compute: device closed")

	// ErrFenceTimeout is returned when a wait exceeds WithFenceTimeout. The
	// submitted work stays in flight. A wait ended by its context returns
	// the context error instead.
	ErrFenceTimeout = errors.New("compute: fence wait timed out")

	// ErrCommandListConsumed is returned when a command list is nil or was
	// already executed or discarded.
	ErrCommandListConsumed = errors.New("compute: command list already consumed")

	// ErrForeignCommandList is returned when a command list is executed on
	// a device other than the one that created it.
	ErrForeignCommandList = errors.New("compute: command list belongs to another device")

	// ErrAllocatorNotRented is returned when an allocator is returned to a
	// pool that did not hand it out.
	ErrAllocatorNotRented = errors.New("compute: command allocator not rented")

	// ErrNilAdapter is returned by New for a nil adapter.
	ErrNilAdapter = errors.New("compute: adapter must not be nil")

	// ErrNoDefaultDevice is returned by Default when none is set.
	ErrNoDefaultDevice = errors.New("compute: no default device")

	// ErrUnsupportedProvider is returned by NewFromProvider when the
	// provider does not expose wgpu HAL objects.
	ErrUnsupportedProvider = errors.New("compute: device provider does not expose a HAL device")
)

// OpError records a failed device operation.
type OpError struct {
	Op    string    // operation, e.g. "execute" or "allocate descriptor"
	Queue QueueType // queue involved; meaningful when HasQueue is set
	// HasQueue reports whether the operation targeted a queue.
	HasQueue bool
	Err      error
}

func (e *OpError) Error() string {
	if e.HasQueue {
		return fmt.Sprintf("compute: %s on %v queue: %v", e.Op, e.Queue, e.Err)
	}
	return fmt.Sprintf("compute: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	return &OpError{Op: op, Err: err}
}

func queueError(op string, t QueueType, err error) error {
	return &OpError{Op: op, Queue: t, HasQueue: true, Err: err}
}
