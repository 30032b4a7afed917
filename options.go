package compute

import (
	"log/slog"
	"time"

	"github.com/gogpu/compute/internal/fence"
)

// DefaultDescriptorCapacity is the number of descriptor slots a device
// reserves when WithDescriptorCapacity is not given.
const DefaultDescriptorCapacity = 1024

// Option configures a Device during creation.
//
// Example:
//
//	dev, err := compute.New(adapter,
//	    compute.WithDescriptorCapacity(4096),
//	    compute.WithFenceTimeout(5*time.Second),
//	)
type Option func(*options)

// options holds optional configuration for Device creation.
type options struct {
	descriptorCapacity uint32
	fenceTimeout       time.Duration
	pollInterval       time.Duration
	logger             *slog.Logger
}

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		descriptorCapacity: DefaultDescriptorCapacity,
		fenceTimeout:       0, // wait forever
		pollInterval:       fence.DefaultPollInterval,
	}
}

// WithDescriptorCapacity sets the size of the device descriptor heap.
// Zero is allowed; every allocation then fails with ErrResourceExhausted.
func WithDescriptorCapacity(n uint32) Option {
	return func(o *options) {
		o.descriptorCapacity = n
	}
}

// WithFenceTimeout bounds how long ExecuteCommandList waits for the GPU.
// Zero or negative waits forever.
//
// A timed out execution returns ErrFenceTimeout. Its command allocator is
// not reused until the GPU actually reaches the fence value.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fenceTimeout = d
	}
}

// WithFencePollInterval sets how often blocking waits, including Close
// waiting for operations in flight, recheck their context. Non-positive
// values keep the default.
func WithFencePollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the device logger. By default the device uses Logger()
// as of creation time.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
