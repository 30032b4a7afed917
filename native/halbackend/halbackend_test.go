package halbackend

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute/native"
)

// openNoopDevice opens a device on the HAL noop backend.
func openNoopDevice(t *testing.T) (*Adapter, *Device) {
	t.Helper()
	a, err := OpenNoop(Config{})
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	nd, err := a.CreateDevice()
	if err != nil {
		a.Close()
		t.Fatalf("CreateDevice failed: %v", err)
	}
	dev := nd.(*Device)
	t.Cleanup(func() {
		dev.Destroy()
		a.Close()
	})
	return a, dev
}

func TestNoopDescribe(t *testing.T) {
	a, _ := openNoopDevice(t)
	d := a.Describe()

	if d.Name != "Noop Adapter" {
		t.Errorf("Name = %q, want %q", d.Name, "Noop Adapter")
	}
	if d.Backend != gputypes.BackendEmpty {
		t.Errorf("Backend = %v, want Empty", d.Backend)
	}
	if d.TotalLaneCount != gputypes.DefaultLimits().MaxComputeInvocationsPerWorkgroup {
		t.Errorf("TotalLaneCount = %d, want workgroup invocation limit", d.TotalLaneCount)
	}
	if d.WaveLaneCountMin != DefaultWaveLaneCount {
		t.Errorf("WaveLaneCountMin = %d, want %d", d.WaveLaneCountMin, DefaultWaveLaneCount)
	}
}

func TestNameOverride(t *testing.T) {
	a, err := OpenNoop(Config{Name: "headless", DedicatedMemory: 1 << 30})
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	defer a.Close()
	d := a.Describe()
	if d.Name != "headless" || d.DedicatedMemory != 1<<30 {
		t.Errorf("Describe = %+v, want overridden name and memory", d)
	}
}

func TestSubmitAdvancesFence(t *testing.T) {
	_, dev := openNoopDevice(t)

	q, err := dev.CreateQueue(native.QueueCompute)
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}
	f, _ := dev.CreateFence()
	alloc, err := dev.CreateCommandAllocator(native.QueueCompute)
	if err != nil {
		t.Fatalf("CreateCommandAllocator failed: %v", err)
	}
	defer alloc.Destroy()

	for v := uint64(1); v <= 3; v++ {
		if err := alloc.Reset(); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		list, err := dev.CreateCommandList(native.QueueCompute, alloc)
		if err != nil {
			t.Fatalf("CreateCommandList failed: %v", err)
		}
		if list.(*CommandList).Encoder() == nil {
			t.Fatal("open list must expose its encoder")
		}
		if err := list.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := q.ExecuteCommandList(list); err != nil {
			t.Fatalf("ExecuteCommandList failed: %v", err)
		}
		if err := q.Signal(f, v); err != nil {
			t.Fatalf("Signal failed: %v", err)
		}
		ok, err := f.Wait(v, DefaultPollInterval)
		if err != nil || !ok {
			t.Fatalf("Wait(%d) = %v, %v, want true", v, ok, err)
		}
		if got := f.CompletedValue(); got != v {
			t.Errorf("CompletedValue() = %d, want %d", got, v)
		}
		list.Destroy()
	}
}

func TestWaitUnsignaledTimesOut(t *testing.T) {
	_, dev := openNoopDevice(t)
	f, _ := dev.CreateFence()

	ok, err := f.Wait(1, 0)
	if err != nil || ok {
		t.Errorf("Wait(1, 0) = %v, %v, want false, nil", ok, err)
	}
	ok, _ = f.Wait(1, 2*DefaultPollInterval)
	if ok {
		t.Error("Wait on unsignaled value must time out")
	}
}

func TestListValidation(t *testing.T) {
	_, dev := openNoopDevice(t)

	alloc, _ := dev.CreateCommandAllocator(native.QueueCopy)
	defer alloc.Destroy()

	if _, err := dev.CreateCommandList(native.QueueCompute, alloc); !errors.Is(err, native.ErrWrongQueueType) {
		t.Errorf("compute list on copy allocator = %v, want ErrWrongQueueType", err)
	}

	list, err := dev.CreateCommandList(native.QueueCopy, alloc)
	if err != nil {
		t.Fatalf("CreateCommandList failed: %v", err)
	}
	if _, err := dev.CreateCommandList(native.QueueCopy, alloc); err == nil {
		t.Error("second open list on one allocator must fail")
	}

	q, _ := dev.CreateQueue(native.QueueCopy)
	if err := q.ExecuteCommandList(list); !errors.Is(err, native.ErrListNotClosed) {
		t.Errorf("execute open list = %v, want ErrListNotClosed", err)
	}

	compute, _ := dev.CreateQueue(native.QueueCompute)
	_ = list.Close()
	if err := compute.ExecuteCommandList(list); !errors.Is(err, native.ErrWrongQueueType) {
		t.Errorf("copy list on compute queue = %v, want ErrWrongQueueType", err)
	}
	if err := list.Close(); err == nil {
		t.Error("second Close must fail")
	}
	list.Destroy()
}

func TestDiscardOpenList(t *testing.T) {
	_, dev := openNoopDevice(t)
	alloc, _ := dev.CreateCommandAllocator(native.QueueCompute)
	defer alloc.Destroy()

	list, _ := dev.CreateCommandList(native.QueueCompute, alloc)
	list.Destroy()
	list.Destroy()

	if err := alloc.Reset(); err != nil {
		t.Errorf("Reset after discarded list = %v, want nil", err)
	}
	if _, err := dev.CreateCommandList(native.QueueCompute, alloc); err != nil {
		t.Errorf("CreateCommandList after discard = %v, want nil", err)
	}
}

func TestDescriptorHeapMapped(t *testing.T) {
	_, dev := openNoopDevice(t)

	h, err := dev.CreateDescriptorHeap(64)
	if err != nil {
		t.Fatalf("CreateDescriptorHeap failed: %v", err)
	}
	defer h.Destroy()
	if h.Capacity() != 64 || h.Stride() != DefaultDescriptorStride {
		t.Errorf("geometry = %d x %d, want 64 x %d", h.Capacity(), h.Stride(), DefaultDescriptorStride)
	}
	if h.CPUBase() == 0 {
		t.Error("CPUBase must point at the mapped buffer")
	}

	empty, err := dev.CreateDescriptorHeap(0)
	if err != nil {
		t.Fatalf("CreateDescriptorHeap(0) failed: %v", err)
	}
	if empty.(*DescriptorHeap).Buffer() != nil {
		t.Error("empty heap must not allocate a buffer")
	}
	empty.Destroy()
}

func TestSharedDeviceNotDestroyed(t *testing.T) {
	_, owner := openNoopDevice(t)

	hd, hq := owner.HAL()
	shared := NewSharedAdapter(hd, hq, gputypes.AdapterInfo{Name: "host"}, Config{})
	nd, err := shared.CreateDevice()
	if err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}
	nd.Destroy()
	if owner.destroyed.Load() {
		t.Error("destroying a shared device must not touch the owner")
	}
	if got := shared.Describe().Name; got != "host" {
		t.Errorf("Name = %q, want %q", got, "host")
	}
}
