package compute

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/native/halbackend"
)

// NewFromProvider creates a device on the HAL device and queue of a host
// application, such as a gogpu window. The provider keeps ownership of the
// HAL device: closing the compute device releases only compute's own
// objects.
//
// The provider must return a hal.Device from Device() and a hal.Queue from
// Queue().
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	if provider == nil {
		return nil, ErrUnsupportedProvider
	}
	device, ok := provider.Device().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: device is %T", ErrUnsupportedProvider, provider.Device())
	}
	queue, ok := provider.Queue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: queue is %T", ErrUnsupportedProvider, provider.Queue())
	}

	info := provider.AdapterInfo()
	adapter := halbackend.NewSharedAdapter(device, queue, gputypes.AdapterInfo{
		Name:       info.Name,
		DeviceType: deviceType(info.Type),
	}, halbackend.Config{})
	return New(adapter, opts...)
}
