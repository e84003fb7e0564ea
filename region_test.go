package shm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"
)

var regionTestShmID atomic.Uint64

func nextRegionTestIDs() (uint64, uint16) {
	return 0xBEEF000000000000 + regionTestShmID.Add(1), 1
}

// newRoundTripPair creates a local Region and, bypassing the one-Region-
// per-process registry (which models two separate processes), a remote
// Region attached to the same name — letting a single test process
// exercise the full release -> ack -> callback path.
func newRoundTripPair(t *testing.T, localOpts, remoteOpts Options) (*Region, *Region, uint64, uint16) {
	t.Helper()
	shmID, regionID := nextRegionTestIDs()

	local, err := newLocalRegionUnregistered(shmID, regionID, localOpts)
	if err != nil {
		t.Fatalf("newLocalRegionUnregistered: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	remote, err := newRemoteRegionUnregistered(shmID, regionID, remoteOpts)
	if err != nil {
		t.Fatalf("newRemoteRegionUnregistered: %v", err)
	}
	t.Cleanup(func() { remote.Close() })

	return local, remote, shmID, regionID
}

func TestRegionReleaseBlockDeliversPerBlockCallback(t *testing.T) {
	var mu sync.Mutex
	var received []RegionBlock

	localOpts := Options{
		Size: 4096,
		Callback: func(ptr unsafe.Pointer, size, hint uint64) {
			mu.Lock()
			received = append(received, RegionBlock{Size: size, Hint: hint})
			mu.Unlock()
		},
	}
	local, remote, _, _ := newRoundTripPair(t, localOpts, Options{})
	_ = local

	for i := uint64(0); i < 3; i++ {
		if err := remote.ReleaseBlock(RegionBlock{Handle: i * 8, Size: 8, Hint: i}); err != nil {
			t.Fatalf("ReleaseBlock: %v", err)
		}
	}
	// Force a flush: the sender only auto-wakes at ackBunchSize or the
	// 500ms timer, so give it the timer window rather than padding to
	// 256 blocks in a unit test.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("received %d callbacks, want 3: %+v", len(received), received)
	}
	for i, b := range received {
		if b.Size != 8 || b.Hint != uint64(i) {
			t.Errorf("block %d = %+v, want size=8 hint=%d", i, b, i)
		}
	}
}

func TestRegionBulkCallback(t *testing.T) {
	var mu sync.Mutex
	batches := 0

	localOpts := Options{
		Size: 4096,
		BulkCallback: func(blocks []RegionBlock) {
			mu.Lock()
			batches++
			mu.Unlock()
		},
	}
	_, remote, _, _ := newRoundTripPair(t, localOpts, Options{})

	for i := uint64(0); i < 5; i++ {
		if err := remote.ReleaseBlock(RegionBlock{Handle: 0, Size: 1, Hint: i}); err != nil {
			t.Fatalf("ReleaseBlock: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := batches
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if batches == 0 {
		t.Fatal("bulk callback was never invoked")
	}
}

func TestNewLocalRegionRejectsBothCallbackKinds(t *testing.T) {
	shmID, regionID := nextRegionTestIDs()
	_, err := NewLocalRegion(shmID, regionID, Options{
		Size:         4096,
		Callback:     func(ptr unsafe.Pointer, size, hint uint64) {},
		BulkCallback: func(blocks []RegionBlock) {},
	})
	if err == nil {
		t.Fatal("NewLocalRegion accepted both Callback and BulkCallback")
	}
	if !IsCode(err, CodeConfigError) {
		t.Errorf("error = %v, want CodeConfigError", err)
	}
}

func TestSecondRegionForSamePairIsRejected(t *testing.T) {
	shmID, regionID := nextRegionTestIDs()
	first, err := NewLocalRegion(shmID, regionID, Options{
		Size:     4096,
		Callback: func(ptr unsafe.Pointer, size, hint uint64) {},
	})
	if err != nil {
		t.Fatalf("NewLocalRegion: %v", err)
	}
	defer first.Close()

	_, err = NewLocalRegion(shmID, regionID, Options{
		Size:     4096,
		Callback: func(ptr unsafe.Pointer, size, hint uint64) {},
	})
	if err == nil {
		t.Fatal("a second Region for the same (ShmId, RegionId) pair was accepted in this process")
	}
	if !IsCode(err, CodeConfigError) {
		t.Errorf("error = %v, want CodeConfigError", err)
	}
}

func TestNewRemoteRegionFailsWhenNoLocalRegionExists(t *testing.T) {
	shmID, regionID := nextRegionTestIDs()
	_, err := NewRemoteRegion(shmID, regionID, Options{})
	if err == nil {
		t.Fatal("NewRemoteRegion succeeded against a region nobody created")
	}
	if !IsCode(err, CodeRegionNotFound) {
		t.Errorf("error = %v, want CodeRegionNotFound", err)
	}
}

func TestRegionCloseRemovesLocalArtifactsAndFreesPair(t *testing.T) {
	shmID, regionID := nextRegionTestIDs()
	local, err := NewLocalRegion(shmID, regionID, Options{
		Size:     4096,
		Callback: func(ptr unsafe.Pointer, size, hint uint64) {},
	})
	if err != nil {
		t.Fatalf("NewLocalRegion: %v", err)
	}
	if err := local.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if local.State() != StateStopped {
		t.Errorf("State() = %v, want StateStopped", local.State())
	}

	// A fresh local Region may now reuse the same (ShmId, RegionId) pair.
	second, err := NewLocalRegion(shmID, regionID, Options{
		Size:     4096,
		Callback: func(ptr unsafe.Pointer, size, hint uint64) {},
	})
	if err != nil {
		t.Fatalf("NewLocalRegion after Close: %v", err)
	}
	second.Close()
}
