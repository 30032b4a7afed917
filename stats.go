package compute

import "github.com/gogpu/compute/native"

// QueueStats is a snapshot of one queue's submission and recycling state.
type QueueStats struct {
	Type QueueType

	// Submitted is the number of command lists executed on the queue.
	Submitted uint64

	// NextFenceValue is the value the next submission will signal.
	NextFenceValue uint64

	// LastSignaled is the highest value signaled, 0 before any submission.
	LastSignaled uint64

	// Completed is the fence value the GPU has reached.
	Completed uint64

	AllocatorsCreated   int
	AllocatorsReused    int
	AllocatorsPending   int
	AllocatorsRented    int
	AllocatorsAbandoned int

	// RetiredLists counts submitted lists awaiting destruction after an
	// abandoned wait.
	RetiredLists int
}

// Stats is a snapshot of device counters.
type Stats struct {
	Queues [native.QueueTypeCount]QueueStats

	DescriptorsAllocated uint32
	DescriptorCapacity   uint32
}

// Stats returns a snapshot of the device counters. The fence values of a
// closed device are those seen at teardown.
func (d *Device) Stats() Stats {
	d.life.RLock()
	defer d.life.RUnlock()

	var st Stats
	for i, s := range d.queues {
		ps := s.pool.Stats()
		qs := QueueStats{
			Type:                s.typ,
			Submitted:           s.submitted.Load(),
			NextFenceValue:      s.fence.NextValue(),
			LastSignaled:        s.fence.LastSignaled(),
			AllocatorsCreated:   ps.Created,
			AllocatorsReused:    ps.Reused,
			AllocatorsPending:   ps.Pending,
			AllocatorsRented:    ps.Rented,
			AllocatorsAbandoned: ps.Abandoned,
			RetiredLists:        s.retiredCount(),
		}
		if d.closed {
			qs.Completed = s.fence.LastCompleted()
		} else {
			qs.Completed = s.fence.Completed()
		}
		st.Queues[i] = qs
	}
	st.DescriptorsAllocated = min(d.descriptors.Allocated(), d.descriptors.Capacity())
	st.DescriptorCapacity = d.descriptors.Capacity()
	return st
}
