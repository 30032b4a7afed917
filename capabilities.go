package compute

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute/native"
)

// Capabilities is the immutable identity of the adapter a device runs on.
type Capabilities struct {
	// AdapterID is the adapter's locally unique identifier.
	AdapterID native.LUID

	// Name is the adapter description.
	Name string

	// MemorySize is the dedicated video memory in bytes, 0 if unknown.
	MemorySize uint64

	// ComputeUnits is the total number of lanes the adapter runs at once.
	ComputeUnits uint32

	// WavefrontSize is the minimum wave (warp) width.
	WavefrontSize uint32

	// AdapterType classifies the adapter.
	AdapterType gpucontext.AdapterType

	// Backend is the graphics API behind the adapter.
	Backend gputypes.Backend
}

func capabilitiesOf(desc native.AdapterDesc) Capabilities {
	return Capabilities{
		AdapterID:     desc.LUID,
		Name:          desc.Name,
		MemorySize:    desc.DedicatedMemory,
		ComputeUnits:  desc.TotalLaneCount,
		WavefrontSize: desc.WaveLaneCountMin,
		AdapterType:   adapterType(desc.DeviceType),
		Backend:       desc.Backend,
	}
}

// adapterType folds the HAL device type into the ecosystem classification.
func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// deviceType is the inverse of adapterType.
func deviceType(t gpucontext.AdapterType) gputypes.DeviceType {
	switch t {
	case gpucontext.AdapterTypeDiscrete:
		return gputypes.DeviceTypeDiscreteGPU
	case gpucontext.AdapterTypeIntegrated:
		return gputypes.DeviceTypeIntegratedGPU
	case gpucontext.AdapterTypeSoftware:
		return gputypes.DeviceTypeCPU
	default:
		return gputypes.DeviceTypeOther
	}
}

// String returns a one-line summary, e.g.
// "RTX 4090 (Discrete, Vulkan) 24 GiB, 16384 lanes, wave 32, id 000010de:00002684".
func (c Capabilities) String() string {
	mem := "unknown memory"
	if c.MemorySize > 0 {
		mem = humanize.IBytes(c.MemorySize)
	}
	return fmt.Sprintf("%s (%v, %v) %s, %d lanes, wave %d, id %v",
		c.Name, c.AdapterType, c.Backend, mem, c.ComputeUnits, c.WavefrontSize, c.AdapterID)
}
