package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/compute/internal/cmdpool"
	"github.com/gogpu/compute/internal/descriptor"
	"github.com/gogpu/compute/internal/fence"
	"github.com/gogpu/compute/native"
)

// DescriptorSlot is a descriptor heap slot: its offset and the CPU and GPU
// addresses of that offset.
type DescriptorSlot = descriptor.Slot

// queueSlot is the queue, fence and allocator pool of one queue type.
type queueSlot struct {
	typ   QueueType
	queue native.Queue
	fence *fence.Fence
	pool  *cmdpool.Pool

	// submitMu keeps execute and signal adjacent so each fence value
	// follows its own command list.
	submitMu  sync.Mutex
	submitted atomic.Uint64

	// retireMu guards retired and open.
	retireMu sync.Mutex
	retired  []retiredList
	open     map[native.CommandList]struct{}
}

// retiredList is a submitted native list that may still be read by the GPU.
type retiredList struct {
	list  native.CommandList
	value uint64
}

// retire defers destruction of list until value completes.
func (s *queueSlot) retire(list native.CommandList, value uint64) {
	s.retireMu.Lock()
	s.retired = append(s.retired, retiredList{list: list, value: value})
	s.retireMu.Unlock()
}

// collect destroys retired lists whose value has completed, or all of them.
func (s *queueSlot) collect(all bool) {
	s.retireMu.Lock()
	defer s.retireMu.Unlock()
	if len(s.retired) == 0 {
		return
	}
	completed := s.fence.Completed()
	kept := s.retired[:0]
	for _, r := range s.retired {
		if all || completed >= r.value {
			r.list.Destroy()
			continue
		}
		kept = append(kept, r)
	}
	clear(s.retired[len(kept):])
	s.retired = kept
}

// track records a list that is open for recording.
func (s *queueSlot) track(list native.CommandList) {
	s.retireMu.Lock()
	s.open[list] = struct{}{}
	s.retireMu.Unlock()
}

func (s *queueSlot) untrack(list native.CommandList) {
	s.retireMu.Lock()
	delete(s.open, list)
	s.retireMu.Unlock()
}

// destroyOpen destroys lists that were neither executed nor discarded and
// returns how many there were.
func (s *queueSlot) destroyOpen() int {
	s.retireMu.Lock()
	defer s.retireMu.Unlock()
	n := len(s.open)
	for list := range s.open {
		list.Destroy()
	}
	clear(s.open)
	return n
}

func (s *queueSlot) retiredCount() int {
	s.retireMu.Lock()
	defer s.retireMu.Unlock()
	return len(s.retired)
}

// Device owns one native device: a queue, fence and command allocator pool
// per queue type, and a descriptor heap shared by all compute work.
//
// ExecuteCommandList blocks until the GPU has finished the list, so an
// allocator is never reset while the GPU may still read it.
//
// Device is safe for concurrent use.
type Device struct {
	id          uuid.UUID
	caps        Capabilities
	opts        options
	log         *slog.Logger
	native      native.Device
	queues      [native.QueueTypeCount]*queueSlot
	descriptors *descriptor.Allocator

	// life is held shared by every operation and exclusively by Close, so
	// teardown waits for executions in flight. closers counts Close calls
	// waiting for it; new operations fail while it is non-zero.
	life    sync.RWMutex
	closed  bool
	closers atomic.Int32

	lostMu  sync.Mutex
	lostErr error
}

// New creates a device on adapter. On failure every native object created
// so far is released and no device is returned.
func New(adapter native.Adapter, opts ...Option) (*Device, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}

	desc := adapter.Describe()
	nd, err := adapter.CreateDevice()
	if err != nil {
		return nil, opError("create device", err)
	}

	id := uuid.New()
	log = log.With("device", id.String())
	d := &Device{
		id:     id,
		caps:   capabilitiesOf(desc),
		opts:   o,
		log:    log,
		native: nd,
	}

	var undo []func()
	fail := func(err error) (*Device, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		nd.Destroy()
		return nil, err
	}

	for t := range native.QueueTypeCount {
		q, err := nd.CreateQueue(t)
		if err != nil {
			return fail(queueError("create queue", t, err))
		}
		undo = append(undo, q.Destroy)

		nf, err := nd.CreateFence()
		if err != nil {
			return fail(queueError("create fence", t, err))
		}
		undo = append(undo, nf.Destroy)

		s := &queueSlot{
			typ:   t,
			queue: q,
			fence: fence.New(nf, q, o.pollInterval),
			pool:  cmdpool.New(t, nd, log),
			open:  make(map[native.CommandList]struct{}),
		}
		undo = append(undo, s.pool.Destroy)
		d.queues[t] = s
	}

	heap, err := nd.CreateDescriptorHeap(o.descriptorCapacity)
	if err != nil {
		return fail(opError("create descriptor heap", err))
	}
	d.descriptors = descriptor.New(heap)

	log.Info("compute: device created",
		"adapter", d.caps.Name,
		"backend", d.caps.Backend.String(),
		"descriptors", o.descriptorCapacity)
	return d, nil
}

// ID returns the identifier attached to the device's log records.
func (d *Device) ID() uuid.UUID {
	return d.id
}

// Capabilities returns the adapter identity captured at creation.
func (d *Device) Capabilities() Capabilities {
	return d.caps
}

// Native returns the native device.
func (d *Device) Native() native.Device {
	return d.native
}

// Err returns the failure that made the device lost, or nil.
func (d *Device) Err() error {
	d.lostMu.Lock()
	defer d.lostMu.Unlock()
	return d.lostErr
}

func (d *Device) slot(t QueueType) (*queueSlot, error) {
	switch t {
	case QueueCompute, QueueCopy:
		return d.queues[t], nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidQueueType, t)
	}
}

// usable must be called with d.life held.
func (d *Device) usable() error {
	if d.closed || d.closers.Load() > 0 {
		return ErrDeviceClosed
	}
	if err := d.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	return nil
}

// markLost records the first fatal native failure.
func (d *Device) markLost(op string, t QueueType, err error) error {
	d.lostMu.Lock()
	first := d.lostErr == nil
	if first {
		d.lostErr = err
	}
	d.lostMu.Unlock()
	if first {
		d.log.Error("compute: device lost", "op", op, "queue", t.String(), "err", err)
	}
	return queueError(op, t, fmt.Errorf("%w: %w", ErrDeviceLost, err))
}

// check marks the device lost if err reports device removal.
func (d *Device) check(op string, t QueueType, err error) error {
	if errors.Is(err, native.ErrDeviceRemoved) {
		return d.markLost(op, t, err)
	}
	return queueError(op, t, err)
}

// GetCommandAllocator rents a command allocator for queue type t. An
// allocator whose last submission has completed is reused; otherwise a new
// one is created. GetCommandAllocator never waits for the GPU.
func (d *Device) GetCommandAllocator(t QueueType) (*CommandAllocator, error) {
	s, err := d.slot(t)
	if err != nil {
		return nil, opError("get command allocator", err)
	}

	d.life.RLock()
	defer d.life.RUnlock()
	if err := d.usable(); err != nil {
		return nil, queueError("get command allocator", t, err)
	}

	a, err := s.pool.Get(s.fence)
	if err != nil {
		return nil, d.check("get command allocator", t, err)
	}
	return &CommandAllocator{device: d, typ: t, native: a}, nil
}

// BeginCommandList rents an allocator for queue type t and opens a command
// list on it. Compute lists have the device descriptor heap bound.
func (d *Device) BeginCommandList(t QueueType) (*CommandList, error) {
	a, err := d.GetCommandAllocator(t)
	if err != nil {
		return nil, err
	}
	cl, err := d.NewCommandList(a)
	if err != nil {
		_ = a.Release()
		return nil, err
	}
	return cl, nil
}

// NewCommandList opens a command list on a rented allocator and takes
// ownership of it. The allocator must not be used afterwards.
func (d *Device) NewCommandList(a *CommandAllocator) (*CommandList, error) {
	if a == nil || a.native == nil || a.device != d {
		return nil, opError("begin command list", ErrAllocatorNotRented)
	}
	s, err := d.slot(a.typ)
	if err != nil {
		return nil, opError("begin command list", err)
	}

	d.life.RLock()
	defer d.life.RUnlock()
	if err := d.usable(); err != nil {
		return nil, queueError("begin command list", a.typ, err)
	}

	list, err := d.native.CreateCommandList(a.typ, a.native)
	if err != nil {
		return nil, d.check("begin command list", a.typ, err)
	}
	if a.typ == QueueCompute {
		list.SetDescriptorHeap(d.descriptors.Heap())
	}
	s.track(list)

	cl := &CommandList{device: d, typ: a.typ, allocator: a.native, list: list}
	a.native = nil
	return cl, nil
}

// ExecuteCommandList submits cl on its queue and blocks until the GPU has
// finished it. The allocator is then returned to its pool and cl is
// consumed.
//
// A native execute or signal failure is fatal: the device is lost and every
// later call returns ErrDeviceLost.
func (d *Device) ExecuteCommandList(cl *CommandList) error {
	return d.ExecuteCommandListContext(context.Background(), cl)
}

// ExecuteCommandListContext is ExecuteCommandList with a cancellable wait.
//
// If ctx ends or the WithFenceTimeout limit passes before the GPU finishes,
// the work stays in flight and the error wraps ctx.Err() or
// ErrFenceTimeout. The allocator is still recycled, but only once the GPU
// actually reaches the list's fence value.
func (d *Device) ExecuteCommandListContext(ctx context.Context, cl *CommandList) error {
	if cl == nil || cl.list == nil {
		return opError("execute", ErrCommandListConsumed)
	}
	if cl.device != d {
		return opError("execute", ErrForeignCommandList)
	}
	s, err := d.slot(cl.typ)
	if err != nil {
		return opError("execute", err)
	}

	d.life.RLock()
	defer d.life.RUnlock()
	if err := d.usable(); err != nil {
		return queueError("execute", s.typ, err)
	}
	s.collect(false)

	alloc, list := cl.allocator, cl.list
	cl.allocator, cl.list = nil, nil
	s.untrack(list)

	if err := list.Close(); err != nil {
		list.Destroy()
		_ = s.pool.Enqueue(alloc, 0)
		return d.check("close command list", s.typ, err)
	}

	s.submitMu.Lock()
	if err := s.queue.ExecuteCommandList(list); err != nil {
		s.submitMu.Unlock()
		d.abandon(s, alloc, list)
		return d.markLost("execute", s.typ, err)
	}
	v, err := s.fence.Signal()
	s.submitMu.Unlock()
	if err != nil {
		d.abandon(s, alloc, list)
		return d.markLost("signal", s.typ, err)
	}
	s.submitted.Add(1)
	d.log.Debug("compute: submitted", "queue", s.typ.String(), "value", v)

	if err := s.fence.Wait(ctx, v, d.opts.fenceTimeout); err != nil {
		removed := errors.Is(err, native.ErrDeviceRemoved)
		switch {
		case !removed && errors.Is(err, fence.ErrTimeout):
			err = fmt.Errorf("%w: %w", ErrFenceTimeout, err)
		case !removed && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		default:
			d.abandon(s, alloc, list)
			return d.markLost("wait", s.typ, err)
		}
		s.retire(list, v)
		_ = s.pool.Enqueue(alloc, v)
		d.log.Warn("compute: wait abandoned with work in flight",
			"queue", s.typ.String(), "value", v, "err", err)
		return queueError("wait", s.typ, err)
	}

	list.Destroy()
	if err := s.pool.Enqueue(alloc, v); err != nil {
		return queueError("recycle allocator", s.typ, fmt.Errorf("%w: %w", ErrAllocatorNotRented, err))
	}
	return nil
}

// abandon parks objects whose GPU state is unknown until Close.
func (d *Device) abandon(s *queueSlot, alloc native.CommandAllocator, list native.CommandList) {
	s.pool.Abandon(alloc)
	s.retire(list, ^uint64(0))
}

// AllocateDescriptor returns the next descriptor slot. Slots are never
// freed. When the heap is full the error wraps ErrResourceExhausted.
func (d *Device) AllocateDescriptor() (DescriptorSlot, error) {
	d.life.RLock()
	defer d.life.RUnlock()
	if err := d.usable(); err != nil {
		return DescriptorSlot{}, opError("allocate descriptor", err)
	}
	slot, err := d.descriptors.Allocate()
	if err != nil {
		return DescriptorSlot{}, opError("allocate descriptor", fmt.Errorf("%w: %w", ErrResourceExhausted, err))
	}
	return slot, nil
}

// Close drains both queues and releases every native object. It blocks
// until work in flight, including concurrent ExecuteCommandList calls,
// has finished. Allocators still rented and lists still open are released
// too; handing them back afterwards returns ErrDeviceClosed. Close is
// idempotent.
func (d *Device) Close() error {
	return d.CloseContext(context.Background())
}

// CloseContext is Close bounded by ctx. While it waits, new operations fail
// with ErrDeviceClosed. If ctx ends before operations in flight return and
// the queues drain, nothing is released, the device stays usable and the
// context error is returned.
//
// A lost device is released without draining.
func (d *Device) CloseContext(ctx context.Context) error {
	d.closers.Add(1)
	defer d.closers.Add(-1)
	if err := d.lockLife(ctx); err != nil {
		return opError("close", err)
	}
	defer d.life.Unlock()
	if d.closed {
		return nil
	}

	if d.Err() == nil {
		g, gctx := errgroup.WithContext(ctx)
		for _, s := range d.queues {
			g.Go(func() error {
				if err := s.fence.Drain(gctx, 0); err != nil {
					return queueError("drain", s.typ, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	d.closed = true
	for _, s := range d.queues {
		if n := s.destroyOpen(); n > 0 {
			d.log.Warn("compute: closed with open command lists", "queue", s.typ.String(), "lists", n)
		}
		s.collect(true)
		s.pool.Destroy()
		s.fence.Native().Destroy()
		s.queue.Destroy()
	}
	d.descriptors.Destroy()
	d.native.Destroy()

	d.log.Info("compute: device closed", "adapter", d.caps.Name, "lost", d.Err() != nil)
	return nil
}

// lockLife takes life exclusively, polling so that ctx can end the wait.
func (d *Device) lockLife(ctx context.Context) error {
	if d.life.TryLock() {
		return nil
	}
	t := time.NewTicker(d.opts.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if d.life.TryLock() {
				return nil
			}
		}
	}
}
