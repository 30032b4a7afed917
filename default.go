package compute

import "sync"

var (
	defaultMu     sync.RWMutex
	defaultDevice *Device
)

// SetDefault registers d as the process default device and returns the
// device it replaces, which the caller still owns. Pass nil to clear the
// registration.
//
// Nothing creates a default device implicitly:
//
//	dev, err := compute.New(adapter)
//	if err != nil {
//	    return err
//	}
//	compute.SetDefault(dev)
//	defer compute.CloseDefault()
func SetDefault(d *Device) (previous *Device) {
	defaultMu.Lock()
	previous = defaultDevice
	defaultDevice = d
	defaultMu.Unlock()
	return previous
}

// Default returns the registered default device, or ErrNoDefaultDevice.
func Default() (*Device, error) {
	defaultMu.RLock()
	d := defaultDevice
	defaultMu.RUnlock()
	if d == nil {
		return nil, ErrNoDefaultDevice
	}
	return d, nil
}

// CloseDefault unregisters the default device and closes it. It is a no-op
// when none is registered.
func CloseDefault() error {
	d := SetDefault(nil)
	if d == nil {
		return nil
	}
	return d.Close()
}
