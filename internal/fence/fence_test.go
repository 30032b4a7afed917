package fence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/compute/native"
	"github.com/gogpu/compute/native/software"
)

// newTestFence creates a software device, a queue of type qt and a wrapped
// fence signaled by that queue.
func newTestFence(t *testing.T, qt native.QueueType) (*Fence, *software.Queue, *software.Device) {
	t.Helper()
	dev, err := software.NewAdapter(software.Config{}).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	q, err := dev.CreateQueue(qt)
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}
	nf, err := dev.CreateFence()
	if err != nil {
		t.Fatalf("CreateFence failed: %v", err)
	}
	t.Cleanup(func() {
		q.Destroy()
		nf.Destroy()
		dev.Destroy()
	})
	return New(nf, q, time.Millisecond), q.(*software.Queue), dev
}

func TestSignalValuesStrictlyIncrease(t *testing.T) {
	f, _, _ := newTestFence(t, native.QueueCompute)
	if got := f.NextValue(); got != 1 {
		t.Fatalf("NextValue() = %d, want 1", got)
	}

	var last uint64
	for i := 0; i < 10; i++ {
		v, err := f.Signal()
		if err != nil {
			t.Fatalf("Signal failed: %v", err)
		}
		if v <= last {
			t.Fatalf("Signal returned %d after %d", v, last)
		}
		last = v
	}
	if got := f.LastSignaled(); got != 10 {
		t.Errorf("LastSignaled() = %d, want 10", got)
	}
}

func TestCompletedNonDecreasing(t *testing.T) {
	f, _, _ := newTestFence(t, native.QueueCompute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if _, err := f.Signal(); err != nil {
				t.Errorf("Signal failed: %v", err)
				return
			}
		}
	}()

	var prev uint64
	for {
		c := f.Completed()
		if c < prev {
			t.Fatalf("Completed() went from %d to %d", prev, c)
		}
		prev = c
		select {
		case <-done:
			if err := f.Drain(context.Background(), time.Second); err != nil {
				t.Fatalf("Drain failed: %v", err)
			}
			if got := f.Completed(); got != 200 {
				t.Errorf("Completed() after drain = %d, want 200", got)
			}
			return
		default:
		}
	}
}

func TestWaitBlocksUntilReached(t *testing.T) {
	f, q, _ := newTestFence(t, native.QueueCopy)
	q.Pause()
	v, err := f.Signal()
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if f.Reached(v) {
		t.Fatal("value reached while timeline is paused")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Resume()
	}()
	if err := f.Wait(context.Background(), v, 0); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !f.Reached(v) {
		t.Error("Reached must be true after Wait")
	}
}

func TestWaitTimeout(t *testing.T) {
	f, q, _ := newTestFence(t, native.QueueCompute)
	q.Pause()
	defer q.Resume()
	v, _ := f.Signal()

	err := f.Wait(context.Background(), v, 15*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait error = %v, want ErrTimeout", err)
	}
}

func TestWaitCancelled(t *testing.T) {
	f, q, _ := newTestFence(t, native.QueueCompute)
	q.Pause()
	defer q.Resume()
	v, _ := f.Signal()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	err := f.Wait(ctx, v, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait error = %v, want context.DeadlineExceeded", err)
	}
}

func TestSignalFailureConsumesValue(t *testing.T) {
	f, _, dev := newTestFence(t, native.QueueCompute)
	dev.InjectFault(software.FaultSignal)

	v, err := f.Signal()
	if !errors.Is(err, native.ErrDeviceRemoved) {
		t.Fatalf("Signal error = %v, want ErrDeviceRemoved", err)
	}
	if v != 1 {
		t.Errorf("failed Signal value = %d, want 1", v)
	}
	if got := f.NextValue(); got != 2 {
		t.Errorf("NextValue() = %d, want 2", got)
	}
	if got := f.LastSignaled(); got != 0 {
		t.Errorf("LastSignaled() = %d, want 0", got)
	}
}

func TestDrainWithoutSignals(t *testing.T) {
	f, _, _ := newTestFence(t, native.QueueCompute)
	if err := f.Drain(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Drain on fresh fence = %v, want nil", err)
	}
}
