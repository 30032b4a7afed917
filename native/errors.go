package native

import "errors"

// Errors shared by backends.
var (
	// ErrDeviceRemoved is returned by backends once the device is in an
	// undefined state (driver reset, injected fault, hung engine).
	ErrDeviceRemoved = errors.New("native: device removed")

	// ErrWrongQueueType is returned when a list is executed on a queue of a
	// different type, or an allocator is used with a list of another type.
	ErrWrongQueueType = errors.New("native: queue type mismatch")

	// ErrListNotClosed is returned when an open list is executed.
	ErrListNotClosed = errors.New("native: command list not closed")

	// ErrForeignObject is returned when an object from another backend or
	// device is passed in.
	ErrForeignObject = errors.New("native: object belongs to another device")
)
