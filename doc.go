// Package compute submits GPU command work and recycles the driver objects
// that work needs.
//
// # Overview
//
// A Device owns one native device with two independent queues, Compute and
// Copy. Each queue has its own fence and its own pool of command
// allocators. A fixed-size descriptor heap is shared by all compute work.
//
// Submission is synchronous: ExecuteCommandList returns only after the GPU
// has finished the list, and the list's allocator goes back to its pool
// tagged with the fence value that marks it safe to reset. Pipelining is
// done by recording several lists before executing them, not by changing
// that contract.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/compute"
//	    "github.com/gogpu/compute/native/halbackend"
//	)
//
//	adapter, err := halbackend.Open(gputypes.BackendVulkan, halbackend.Config{})
//	if err != nil {
//	    return err
//	}
//	defer adapter.Close()
//
//	dev, err := compute.New(adapter)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	cl, err := dev.BeginCommandList(compute.QueueCompute)
//	if err != nil {
//	    return err
//	}
//	// record into cl.Native()
//	if err := dev.ExecuteCommandList(cl); err != nil {
//	    return err
//	}
//
// # Backends
//
// The native package defines the boundary a backend implements:
//   - native/halbackend: gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES, noop)
//   - native/software: a CPU timeline for tests and headless use
//
// NewFromProvider shares the HAL device of a host application through
// gpucontext.DeviceProvider.
//
// # Errors
//
// Errors wrap the sentinels in errors.go. ErrResourceExhausted and
// ErrFenceTimeout are recoverable. ErrDeviceLost is not: the device should
// be closed and recreated.
//
// # Logging
//
// compute logs through log/slog and is silent by default; see SetLogger.
package compute
