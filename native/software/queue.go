package software

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compute/native"
)

// Queue is a software queue. A worker goroutine drains submitted work in
// FIFO order. It implements native.Queue.
type Queue struct {
	dev *Device
	typ native.QueueType

	mu     sync.Mutex
	cond   *sync.Cond
	work   []func()
	paused bool
	closed bool
	done   chan struct{}

	destroyed atomic.Bool
}

func newQueue(d *Device, t native.QueueType) *Queue {
	q := &Queue{dev: d, typ: t, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for !q.closed && (len(q.work) == 0 || q.paused) {
			q.cond.Wait()
		}
		if len(q.work) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.work[0]
		q.work[0] = nil
		q.work = q.work[1:]
		q.mu.Unlock()
		job()
	}
}

func (q *Queue) push(job func()) {
	q.mu.Lock()
	q.work = append(q.work, job)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pause stops the timeline before the next job. Submissions keep queuing.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts a paused timeline.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pending returns the number of jobs not yet started.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.work)
}

// Type returns the queue type.
func (q *Queue) Type() native.QueueType {
	return q.typ
}

// ExecuteCommandList schedules the recorded commands of list.
func (q *Queue) ExecuteCommandList(list native.CommandList) error {
	l, ok := list.(*CommandList)
	if !ok || l.dev != q.dev {
		return fmt.Errorf("software: execute: %w", native.ErrForeignObject)
	}
	if l.typ != q.typ {
		return fmt.Errorf("software: execute %v list on %v queue: %w", l.typ, q.typ, native.ErrWrongQueueType)
	}
	if q.dev.removed.Load() {
		return fmt.Errorf("software: execute: %w", native.ErrDeviceRemoved)
	}
	if q.dev.hasFault(FaultExecute) {
		q.dev.remove()
		return fmt.Errorf("software: execute: %w", native.ErrDeviceRemoved)
	}

	l.mu.Lock()
	if !l.closed {
		l.mu.Unlock()
		return fmt.Errorf("software: execute: %w", native.ErrListNotClosed)
	}
	ops := l.ops
	l.executed = true
	l.mu.Unlock()

	alloc := l.alloc
	alloc.inflight.Add(1)
	latency := q.dev.cfg.Latency
	q.push(func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		for _, op := range ops {
			op()
		}
		alloc.inflight.Add(-1)
		q.dev.listsExecuted.Add(1)
	})
	return nil
}

// Signal schedules a fence update behind all prior work.
func (q *Queue) Signal(fence native.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok || f.dev != q.dev {
		return fmt.Errorf("software: signal: %w", native.ErrForeignObject)
	}
	if q.dev.removed.Load() {
		return fmt.Errorf("software: signal: %w", native.ErrDeviceRemoved)
	}
	if q.dev.hasFault(FaultSignal) {
		q.dev.remove()
		return fmt.Errorf("software: signal: %w", native.ErrDeviceRemoved)
	}
	q.push(func() { f.signal(value) })
	return nil
}

// Destroy finishes queued work and stops the worker.
func (q *Queue) Destroy() {
	if q.destroyed.Load() {
		q.dev.release(&q.destroyed)
		return
	}
	q.mu.Lock()
	q.closed = true
	q.paused = false
	q.mu.Unlock()
	q.cond.Broadcast()
	<-q.done
	q.dev.release(&q.destroyed)
}
