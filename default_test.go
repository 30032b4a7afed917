package compute

import (
	"errors"
	"testing"

	"github.com/gogpu/compute/native/software"
)

func TestDefaultRegistry(t *testing.T) {
	t.Cleanup(func() { SetDefault(nil) })
	SetDefault(nil)

	if _, err := Default(); !errors.Is(err, ErrNoDefaultDevice) {
		t.Fatalf("Default() with none set = %v, want ErrNoDefaultDevice", err)
	}
	if err := CloseDefault(); err != nil {
		t.Fatalf("CloseDefault() with none set = %v, want nil", err)
	}

	first, _ := newTestDevice(t, software.Config{})
	second, _ := newTestDevice(t, software.Config{})

	if prev := SetDefault(first); prev != nil {
		t.Errorf("SetDefault returned %p, want nil", prev)
	}
	if got, err := Default(); err != nil || got != first {
		t.Errorf("Default() = %p, %v, want first device", got, err)
	}
	if prev := SetDefault(second); prev != first {
		t.Error("SetDefault must return the replaced device")
	}

	if err := CloseDefault(); err != nil {
		t.Fatalf("CloseDefault() = %v", err)
	}
	if _, err := Default(); !errors.Is(err, ErrNoDefaultDevice) {
		t.Errorf("Default() after CloseDefault = %v, want ErrNoDefaultDevice", err)
	}
	if _, err := second.AllocateDescriptor(); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("default device not closed: AllocateDescriptor = %v", err)
	}
	if _, err := first.AllocateDescriptor(); err != nil {
		t.Errorf("replaced device must stay open: %v", err)
	}
}
