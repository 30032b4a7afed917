// Package cmdpool recycles command allocators of one queue type.
//
// An allocator moves through Free -> Rented -> PendingSignal(v) -> Free.
// Returned allocators are kept in a queue ordered by the fence value that
// makes them safe to reset. Completed fence values never decrease, so only
// the head has to be checked.
package cmdpool

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/compute/native"
)

// Pool bookkeeping errors. They indicate a programming error in the caller.
var (
	// ErrNotRented is returned when an allocator that the pool did not hand
	// out, or that was already returned, is enqueued.
	ErrNotRented = errors.New("cmdpool: allocator is not rented")

	// ErrClosed is returned by operations on a destroyed pool.
	ErrClosed = errors.New("cmdpool: pool destroyed")
)

// Fence is the completed-value query the pool checks readiness against.
type Fence interface {
	// Completed returns the live completed value.
	Completed() uint64
}

// Creator creates native allocators for the pool's queue type.
type Creator interface {
	CreateCommandAllocator(t native.QueueType) (native.CommandAllocator, error)
}

type entry struct {
	allocator native.CommandAllocator
	value     uint64
}

// Stats is a snapshot of pool counters.
type Stats struct {
	// Created is the number of allocators created by the pool.
	Created int

	// Reused is the number of rentals served from the FIFO.
	Reused int

	// Pending is the number of allocators waiting in the FIFO.
	Pending int

	// Rented is the number of allocators currently handed out.
	Rented int

	// Abandoned is the number of allocators parked until Destroy.
	Abandoned int
}

// Pool is a command allocator pool for one queue type.
//
// Pool is safe for concurrent use.
type Pool struct {
	queueType native.QueueType
	creator   Creator
	log       *slog.Logger

	mu        sync.Mutex
	pending   []entry
	rented    map[native.CommandAllocator]struct{}
	abandoned []native.CommandAllocator
	tail      uint64
	created   int
	reused    int
	closed    bool
}

// New returns an empty pool. A nil logger discards output.
func New(t native.QueueType, creator Creator, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		queueType: t,
		creator:   creator,
		log:       log,
		rented:    make(map[native.CommandAllocator]struct{}),
	}
}

// QueueType returns the queue type of the pool.
func (p *Pool) QueueType() native.QueueType {
	return p.queueType
}

// Get rents an allocator. The head of the FIFO is reused if fence has
// reached its tag; otherwise a new allocator is created. Get never waits
// for the GPU.
func (p *Pool) Get(fence Fence) (native.CommandAllocator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	if len(p.pending) > 0 {
		head := p.pending[0]
		if completed := fence.Completed(); completed >= head.value {
			p.pending[0] = entry{}
			p.pending = p.pending[1:]
			if err := head.allocator.Reset(); err != nil {
				head.allocator.Destroy()
				return nil, fmt.Errorf("cmdpool: reset %v allocator (tag %d, completed %d): %w",
					p.queueType, head.value, completed, err)
			}
			p.rented[head.allocator] = struct{}{}
			p.reused++
			return head.allocator, nil
		}
	}

	a, err := p.creator.CreateCommandAllocator(p.queueType)
	if err != nil {
		return nil, fmt.Errorf("cmdpool: create %v allocator: %w", p.queueType, err)
	}
	p.rented[a] = struct{}{}
	p.created++
	p.log.Debug("cmdpool: allocator created",
		"queue", p.queueType.String(),
		"created", p.created,
		"pending", len(p.pending))
	return a, nil
}

// Enqueue returns a rented allocator, tagged with the fence value after
// which the GPU no longer reads from it.
func (p *Pool) Enqueue(a native.CommandAllocator, value uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.rented[a]; !ok {
		return fmt.Errorf("cmdpool: enqueue %v allocator: %w", p.queueType, ErrNotRented)
	}
	delete(p.rented, a)

	if p.closed {
		a.Destroy()
		return nil
	}

	// Submitters on one queue may finish waiting out of order. Keep the
	// queue sorted; the common in-order case appends.
	i := len(p.pending)
	for i > 0 && p.pending[i-1].value > value {
		i--
	}
	p.pending = slices.Insert(p.pending, i, entry{allocator: a, value: value})
	if value > p.tail {
		p.tail = value
	}
	return nil
}

// Abandon takes back a rented allocator that must never be reused, such as
// one whose submission failed. It is destroyed with the pool.
func (p *Pool) Abandon(a native.CommandAllocator) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.rented[a]; !ok {
		return
	}
	delete(p.rented, a)
	if p.closed {
		a.Destroy()
		return
	}
	p.abandoned = append(p.abandoned, a)
}

// Tail returns the highest tag ever enqueued.
func (p *Pool) Tail() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tail
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Created:   p.created,
		Reused:    p.reused,
		Pending:   len(p.pending),
		Rented:    len(p.rented),
		Abandoned: len(p.abandoned),
	}
}

// Destroy releases every allocator the pool created, including those still
// rented. The caller must have drained the queue and destroyed the command
// lists recorded into rented allocators first. Returning an allocator after
// Destroy fails with ErrNotRented.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for i := range p.pending {
		p.pending[i].allocator.Destroy()
		p.pending[i] = entry{}
	}
	p.pending = nil
	for _, a := range p.abandoned {
		a.Destroy()
	}
	p.abandoned = nil
	if n := len(p.rented); n > 0 {
		p.log.Warn("cmdpool: destroyed with rented allocators",
			"queue", p.queueType.String(),
			"rented", n)
		for a := range p.rented {
			a.Destroy()
		}
		clear(p.rented)
	}
}
