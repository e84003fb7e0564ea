package shm

import (
	"testing"
	"unsafe"
)

func TestMetricsCountersAccumulate(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.BlocksReleased != 0 || snap.BatchesSent != 0 {
		t.Fatalf("expected zeroed initial snapshot, got %+v", snap)
	}

	m.recordReleasedBlock()
	m.recordReleasedBlock()
	m.recordBatchSent()
	m.recordSendRetry()
	m.recordBatchReceived()
	m.recordCallbackPanic()
	m.recordAllocation(true)
	m.recordAllocation(false)
	m.recordDeallocation()

	snap = m.Snapshot()
	if snap.BlocksReleased != 2 {
		t.Errorf("BlocksReleased = %d, want 2", snap.BlocksReleased)
	}
	if snap.BatchesSent != 1 {
		t.Errorf("BatchesSent = %d, want 1", snap.BatchesSent)
	}
	if snap.SendRetries != 1 {
		t.Errorf("SendRetries = %d, want 1", snap.SendRetries)
	}
	if snap.BatchesReceived != 1 {
		t.Errorf("BatchesReceived = %d, want 1", snap.BatchesReceived)
	}
	if snap.CallbackPanics != 1 {
		t.Errorf("CallbackPanics = %d, want 1", snap.CallbackPanics)
	}
	if snap.AllocationsOK != 1 || snap.AllocationsFailed != 1 {
		t.Errorf("AllocationsOK/Failed = %d/%d, want 1/1", snap.AllocationsOK, snap.AllocationsFailed)
	}
	if snap.Deallocations != 1 {
		t.Errorf("Deallocations = %d, want 1", snap.Deallocations)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.recordReleasedBlock()
	m.recordBatchSent()
	m.Reset()

	snap := m.Snapshot()
	if snap.BlocksReleased != 0 || snap.BatchesSent != 0 {
		t.Errorf("counters not cleared by Reset: %+v", snap)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.recordReleasedBlock()
	m.recordBatchSent()
	m.recordBatchReceived()
	m.recordSendRetry()
	m.recordCallbackPanic()
	m.recordAllocation(true)
	m.recordDeallocation()
	m.Reset()

	if snap := m.Snapshot(); snap != (MetricsSnapshot{}) {
		t.Errorf("nil Metrics Snapshot() = %+v, want zero value", snap)
	}
}

func TestRegionAndSegmentRecordMetrics(t *testing.T) {
	dir := t.TempDir()
	id, regionID := nextRegionTestIDs()

	m := NewMetrics()
	local, err := newLocalRegionUnregistered(id, regionID, Options{
		Size:     4096,
		FilePath: dir,
		Callback: func(ptr unsafe.Pointer, size, hint uint64) {},
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("newLocalRegionUnregistered: %v", err)
	}
	defer local.Close()

	remote, err := newRemoteRegionUnregistered(id, regionID, Options{FilePath: dir, Metrics: m})
	if err != nil {
		t.Fatalf("newRemoteRegionUnregistered: %v", err)
	}
	defer remote.Close()

	if err := remote.ReleaseBlock(RegionBlock{Handle: 0, Size: 8, Hint: 1}); err != nil {
		t.Fatalf("ReleaseBlock: %v", err)
	}
	if remote.Metrics().Snapshot().BlocksReleased != 1 {
		t.Errorf("BlocksReleased = %d, want 1", remote.Metrics().Snapshot().BlocksReleased)
	}

	segID := regionID
	seg, err := NewLocalSegment(id, segID, SegmentOptions{Size: 4096, FilePath: dir, Metrics: m})
	if err != nil {
		t.Fatalf("NewLocalSegment: %v", err)
	}
	defer seg.Close(true)

	if _, err := seg.Allocate(64, 1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if seg.Metrics().Snapshot().AllocationsOK != 1 {
		t.Errorf("AllocationsOK = %d, want 1", seg.Metrics().Snapshot().AllocationsOK)
	}
}
