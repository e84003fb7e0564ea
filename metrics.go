package shm

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters for a Region/Segment pair. It is
// optional plumbing: a nil *Metrics anywhere in this package is always
// safe to use, since every recording method is a no-op on a nil
// receiver.
//
// Generalized from the teacher's own Metrics (atomic counters +
// Snapshot + Reset), trimmed to this domain's observables: block
// release/delivery counts instead of I/O op counts, ack batch counts
// instead of queue-depth sampling, allocator exhaustion instead of I/O
// errors.
type Metrics struct {
	BlocksReleased  atomic.Uint64 // ReleaseBlock calls accepted
	BatchesSent     atomic.Uint64 // ack batches handed to the queue
	BatchesReceived atomic.Uint64 // ack batches drained by a receiver
	SendRetries     atomic.Uint64 // trySend attempts that hit would-block
	CallbackPanics  atomic.Uint64 // user callback panics recovered

	AllocationsOK     atomic.Uint64 // successful Segment.Allocate calls
	AllocationsFailed atomic.Uint64 // Allocate calls that returned MessageBadAlloc
	Deallocations     atomic.Uint64 // successful Segment.Deallocate calls

	StartTime atomic.Int64 // UnixNano at NewMetrics
}

// NewMetrics creates a zeroed Metrics with its start time set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordReleasedBlock() {
	if m == nil {
		return
	}
	m.BlocksReleased.Add(1)
}

func (m *Metrics) recordBatchSent() {
	if m == nil {
		return
	}
	m.BatchesSent.Add(1)
}

func (m *Metrics) recordBatchReceived() {
	if m == nil {
		return
	}
	m.BatchesReceived.Add(1)
}

func (m *Metrics) recordSendRetry() {
	if m == nil {
		return
	}
	m.SendRetries.Add(1)
}

func (m *Metrics) recordCallbackPanic() {
	if m == nil {
		return
	}
	m.CallbackPanics.Add(1)
}

func (m *Metrics) recordAllocation(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.AllocationsOK.Add(1)
	} else {
		m.AllocationsFailed.Add(1)
	}
}

func (m *Metrics) recordDeallocation() {
	if m == nil {
		return
	}
	m.Deallocations.Add(1)
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to log or
// serialize without racing further updates.
type MetricsSnapshot struct {
	BlocksReleased    uint64
	BatchesSent       uint64
	BatchesReceived   uint64
	SendRetries       uint64
	CallbackPanics    uint64
	AllocationsOK     uint64
	AllocationsFailed uint64
	Deallocations     uint64
	UptimeNs          uint64
}

// Snapshot returns the current values of every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		BlocksReleased:    m.BlocksReleased.Load(),
		BatchesSent:       m.BatchesSent.Load(),
		BatchesReceived:   m.BatchesReceived.Load(),
		SendRetries:       m.SendRetries.Load(),
		CallbackPanics:    m.CallbackPanics.Load(),
		AllocationsOK:     m.AllocationsOK.Load(),
		AllocationsFailed: m.AllocationsFailed.Load(),
		Deallocations:     m.Deallocations.Load(),
		UptimeNs:          uint64(time.Now().UnixNano() - m.StartTime.Load()),
	}
}

// Reset zeroes every counter and restarts the uptime clock.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.BlocksReleased.Store(0)
	m.BatchesSent.Store(0)
	m.BatchesReceived.Store(0)
	m.SendRetries.Store(0)
	m.CallbackPanics.Store(0)
	m.AllocationsOK.Store(0)
	m.AllocationsFailed.Store(0)
	m.Deallocations.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
}
