// Package halbackend implements the native boundary on top of the
// gogpu/wgpu hardware abstraction layer.
//
// Mapping:
//
//   - CommandAllocator: a hal.CommandEncoder (a DX12 command allocator, a
//     Vulkan command pool) reset with ResetAll once the GPU is done
//   - CommandList: one BeginEncoding/EndEncoding cycle of that encoder
//   - Queue: the device's hal.Queue, shared by both queue types
//   - Fence: driven by the monotonically increasing submission index
//     returned by hal.Queue.Submit and observed with PollCompleted
//   - DescriptorHeap: a host-mapped hal.Buffer holding the slot table
//
// The HAL exposes a single queue per device, so Compute and Copy
// submissions are serialized on it; each queue type still owns its own
// fence values.
package halbackend

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/compute/native"
)

// ErrNoAdapter is returned when a HAL backend reports no adapters.
var ErrNoAdapter = errors.New("halbackend: no GPU adapters found")

// Default configuration values.
const (
	// DefaultWaveLaneCount is reported when the HAL does not expose the
	// subgroup width.
	DefaultWaveLaneCount = 32

	// DefaultDescriptorStride is the byte size of one slot in the table.
	DefaultDescriptorStride = 32

	// DefaultPollInterval is the sleep between PollCompleted calls while
	// waiting on a fence.
	DefaultPollInterval = 100 * time.Microsecond

	// defaultLaneCount is used when the adapter limits are empty.
	defaultLaneCount = 256
)

// Config configures a HAL adapter.
type Config struct {
	// Name overrides the adapter name reported by the HAL.
	Name string

	// DedicatedMemory is reported as the adapter memory size. The HAL does
	// not expose it.
	DedicatedMemory uint64

	// WaveLaneCount is reported as the wave width.
	// Defaults to DefaultWaveLaneCount if zero.
	WaveLaneCount uint32

	// DescriptorStride is the byte size of one descriptor slot.
	// Defaults to DefaultDescriptorStride if zero.
	DescriptorStride uint32

	// PollInterval is the fence polling period.
	// Defaults to DefaultPollInterval if zero.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.WaveLaneCount == 0 {
		c.WaveLaneCount = DefaultWaveLaneCount
	}
	if c.DescriptorStride == 0 {
		c.DescriptorStride = DefaultDescriptorStride
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Adapter is a HAL adapter. It implements native.Adapter.
type Adapter struct {
	cfg     Config
	info    gputypes.AdapterInfo
	limits  gputypes.Limits
	exposed *hal.ExposedAdapter

	// shared is set when the device is borrowed from a host application.
	shared *hal.OpenDevice

	instance hal.Instance
}

// NewAdapter wraps an adapter enumerated by the caller.
func NewAdapter(exposed hal.ExposedAdapter, cfg Config) *Adapter {
	return &Adapter{
		cfg:     cfg.withDefaults(),
		info:    exposed.Info,
		limits:  exposed.Capabilities.Limits,
		exposed: &exposed,
	}
}

// NewSharedAdapter wraps a device and queue owned by someone else, such as
// a gogpu window. Destroying the resulting native device does not destroy
// the HAL device.
func NewSharedAdapter(device hal.Device, queue hal.Queue, info gputypes.AdapterInfo, cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg.withDefaults(),
		info:   info,
		limits: gputypes.DefaultLimits(),
		shared: &hal.OpenDevice{Device: device, Queue: queue},
	}
}

// Open creates an instance of the given HAL backend and picks the first
// discrete or integrated GPU, falling back to the first adapter.
func Open(backend gputypes.Backend, cfg Config) (*Adapter, error) {
	b, ok := hal.GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("halbackend: %v: %w", backend, hal.ErrBackendNotFound)
	}
	return openBackend(b, cfg)
}

// OpenNoop opens the HAL noop backend. Every submission completes
// immediately; it is meant for tests and headless environments.
func OpenNoop(cfg Config) (*Adapter, error) {
	return openBackend(noop.API{}, cfg)
}

func openBackend(b hal.Backend, cfg Config) (*Adapter, error) {
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("halbackend: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	a := NewAdapter(*selected, cfg)
	a.instance = instance
	hal.Logger().Info("halbackend: adapter selected",
		"adapter", selected.Info.Name,
		"backend", selected.Info.Backend.String())
	return a, nil
}

// Describe returns the adapter identity.
func (a *Adapter) Describe() native.AdapterDesc {
	name := a.info.Name
	if a.cfg.Name != "" {
		name = a.cfg.Name
	}
	lanes := a.limits.MaxComputeInvocationsPerWorkgroup
	if lanes == 0 {
		lanes = defaultLaneCount
	}
	return native.AdapterDesc{
		LUID:             native.LUID(uint64(a.info.VendorID)<<32 | uint64(a.info.DeviceID)),
		Name:             name,
		DedicatedMemory:  a.cfg.DedicatedMemory,
		TotalLaneCount:   lanes,
		WaveLaneCountMin: a.cfg.WaveLaneCount,
		DeviceType:       a.info.DeviceType,
		Backend:          a.info.Backend,
	}
}

// CreateDevice opens the HAL device, or wraps the shared one.
func (a *Adapter) CreateDevice() (native.Device, error) {
	if a.shared != nil {
		return newDevice(*a.shared, false, a.cfg), nil
	}
	open, err := a.exposed.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("halbackend: open device: %w", err)
	}
	return newDevice(open, true, a.cfg), nil
}

// Close releases the HAL adapter and instance created by Open or OpenNoop.
// Devices created from the adapter must be destroyed first.
func (a *Adapter) Close() {
	if a.exposed != nil && a.instance != nil {
		a.exposed.Adapter.Destroy()
	}
	if a.instance != nil {
		a.instance.Destroy()
		a.instance = nil
	}
}
