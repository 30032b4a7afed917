// Package fence implements the per-queue fence protocol: value allocation,
// GPU-ordered signaling and blocking waits.
package fence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compute/native"
)

// DefaultPollInterval is the longest single native wait issued while a
// context can still cancel the overall wait.
const DefaultPollInterval = 10 * time.Millisecond

// ErrTimeout is returned when a wait gives up before the value is reached.
var ErrTimeout = errors.New("fence: wait timed out")

// Fence wraps one native fence and the queue that signals it.
//
// Values come from a counter starting at 1 and are never reused. The
// completed value reported by Completed never decreases, even if the
// native fence were to report a smaller value later.
//
// Fence is safe for concurrent use.
type Fence struct {
	native native.Fence
	queue  native.Queue

	mu   sync.Mutex // guards next
	next uint64

	signaled  atomic.Uint64
	completed atomic.Uint64

	pollInterval time.Duration
}

// New wraps f, which is signaled by q.
func New(f native.Fence, q native.Queue, pollInterval time.Duration) *Fence {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Fence{native: f, queue: q, next: 1, pollInterval: pollInterval}
}

// Signal asks the queue to set the fence to the next value once all work
// submitted so far has finished, and returns that value. The value is
// consumed even if the native call fails.
//
// Callers that need the value to follow a specific submission must hold
// their own queue lock across execute and Signal.
func (f *Fence) Signal() (uint64, error) {
	f.mu.Lock()
	v := f.next
	f.next++
	f.mu.Unlock()

	if err := f.queue.Signal(f.native, v); err != nil {
		return v, fmt.Errorf("fence: signal %d: %w", v, err)
	}
	storeMax(&f.signaled, v)
	return v, nil
}

// NextValue returns the value the next Signal will use.
func (f *Fence) NextValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

// LastSignaled returns the highest value successfully signaled, or 0.
func (f *Fence) LastSignaled() uint64 {
	return f.signaled.Load()
}

// Completed queries the live completed value.
func (f *Fence) Completed() uint64 {
	return storeMax(&f.completed, f.native.CompletedValue())
}

// LastCompleted returns the highest completed value observed so far
// without querying the native fence.
func (f *Fence) LastCompleted() uint64 {
	return f.completed.Load()
}

// Reached reports whether the completed value is at least v.
func (f *Fence) Reached(v uint64) bool {
	return f.Completed() >= v
}

// Wait blocks until the completed value reaches v.
//
// A positive timeout bounds the wait and yields ErrTimeout. Cancelling ctx
// stops the wait with the context error. With a zero timeout and a context
// that is never done, Wait blocks for as long as the GPU takes.
func (f *Fence) Wait(ctx context.Context, v uint64, timeout time.Duration) error {
	if f.Reached(v) {
		return nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fence: wait %d: %w", v, err)
		}
		step := f.pollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return fmt.Errorf("fence: wait %d (completed %d): %w", v, f.Completed(), ErrTimeout)
			}
			step = min(step, remaining)
		}

		ok, err := f.native.Wait(v, step)
		if err != nil {
			return fmt.Errorf("fence: wait %d: %w", v, err)
		}
		if ok || f.Reached(v) {
			storeMax(&f.completed, v)
			return nil
		}
	}
}

// Drain waits for the last signaled value.
func (f *Fence) Drain(ctx context.Context, timeout time.Duration) error {
	return f.Wait(ctx, f.LastSignaled(), timeout)
}

// Native returns the wrapped native fence.
func (f *Fence) Native() native.Fence {
	return f.native
}

// storeMax raises p to v if v is larger and returns the resulting value.
func storeMax(p *atomic.Uint64, v uint64) uint64 {
	for {
		cur := p.Load()
		if v <= cur {
			return cur
		}
		if p.CompareAndSwap(cur, v) {
			return v
		}
	}
}
