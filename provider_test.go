package compute

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute/native/halbackend"
)

// hostProvider is a gpucontext.DeviceProvider over fixed objects.
type hostProvider struct {
	device any
	queue  any
	info   gpucontext.AdapterInfo
}

func (p *hostProvider) Device() gpucontext.Device             { return p.device }
func (p *hostProvider) Queue() gpucontext.Queue               { return p.queue }
func (p *hostProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }
func (p *hostProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *hostProvider) AdapterInfo() gpucontext.AdapterInfo   { return p.info }

// openNoopHost opens a HAL noop device playing the host application.
func openNoopHost(t *testing.T) *halbackend.Device {
	t.Helper()
	a, err := halbackend.OpenNoop(halbackend.Config{})
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	nd, err := a.CreateDevice()
	if err != nil {
		a.Close()
		t.Fatalf("CreateDevice failed: %v", err)
	}
	host := nd.(*halbackend.Device)
	t.Cleanup(func() {
		host.Destroy()
		a.Close()
	})
	return host
}

func TestNewFromProvider(t *testing.T) {
	host := openNoopHost(t)
	hd, hq := host.HAL()

	d, err := NewFromProvider(&hostProvider{
		device: hd,
		queue:  hq,
		info:   gpucontext.AdapterInfo{Name: "Host GPU", Type: gpucontext.AdapterTypeIntegrated},
	}, WithDescriptorCapacity(8))
	if err != nil {
		t.Fatalf("NewFromProvider failed: %v", err)
	}

	c := d.Capabilities()
	if c.Name != "Host GPU" || c.AdapterType != gpucontext.AdapterTypeIntegrated {
		t.Errorf("Capabilities() = %+v, want host name and integrated type", c)
	}

	for range 3 {
		cl, err := d.BeginCommandList(QueueCompute)
		if err != nil {
			t.Fatalf("BeginCommandList failed: %v", err)
		}
		if err := d.ExecuteCommandList(cl); err != nil {
			t.Fatalf("ExecuteCommandList failed: %v", err)
		}
	}
	if _, err := d.AllocateDescriptor(); err != nil {
		t.Errorf("AllocateDescriptor failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The host device must still work after compute is gone.
	if _, err := host.CreateFence(); err != nil {
		t.Errorf("host device unusable after Close: %v", err)
	}
}

func TestNewFromProviderUnsupported(t *testing.T) {
	tests := []struct {
		name     string
		provider gpucontext.DeviceProvider
	}{
		{"nil", nil},
		{"device", &hostProvider{device: 1, queue: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFromProvider(tt.provider); !errors.Is(err, ErrUnsupportedProvider) {
				t.Errorf("NewFromProvider = %v, want ErrUnsupportedProvider", err)
			}
		})
	}

	host := openNoopHost(t)
	hd, _ := host.HAL()
	if _, err := NewFromProvider(&hostProvider{device: hd, queue: "queue"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("NewFromProvider with bad queue = %v, want ErrUnsupportedProvider", err)
	}
}

func TestHALBackendSubmissions(t *testing.T) {
	a, err := halbackend.OpenNoop(halbackend.Config{})
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	defer a.Close()

	d, err := New(a)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Close()

	for _, qt := range QueueTypes {
		for range 3 {
			cl, err := d.BeginCommandList(qt)
			if err != nil {
				t.Fatalf("BeginCommandList(%v) failed: %v", qt, err)
			}
			if cl.Native().(*halbackend.CommandList).Encoder() == nil {
				t.Fatal("open HAL list must expose its encoder")
			}
			if err := d.ExecuteCommandList(cl); err != nil {
				t.Fatalf("ExecuteCommandList(%v) failed: %v", qt, err)
			}
		}
		qs := d.Stats().Queues[qt]
		if qs.Completed != 3 || qs.AllocatorsCreated != 1 || qs.AllocatorsReused != 2 {
			t.Errorf("%v stats = %+v, want completed 3, created 1, reused 2", qt, qs)
		}
	}

	cl, _ := d.BeginCommandList(QueueCompute)
	if cl.Native().(*halbackend.CommandList).DescriptorHeap() == nil {
		t.Error("compute list must have the descriptor heap bound")
	}
	if err := cl.Discard(); err != nil {
		t.Errorf("Discard failed: %v", err)
	}
}
