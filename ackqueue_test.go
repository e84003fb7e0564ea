package shm

import (
	"testing"
	"time"
)

func uniqueAckQueueIDs(t *testing.T) (uint64, uint16) {
	return uint64(0xACC0 + len(t.Name())), uint16(1)
}

func TestAckQueueSendReceiveRoundTrip(t *testing.T) {
	shmID, regionID := uniqueAckQueueIDs(t)
	defer removeAckQueueByName(shmID, regionID)

	local, err := openOrCreateAckQueue(shmID, regionID)
	if err != nil {
		t.Fatalf("openOrCreateAckQueue: %v", err)
	}
	defer local.close()

	remote, err := openExistingAckQueue(shmID, regionID)
	if err != nil {
		t.Fatalf("openExistingAckQueue: %v", err)
	}
	defer remote.close()

	want := []RegionBlock{{Handle: 0, Size: 64, Hint: 7}}
	ok, err := remote.trySend(want)
	if err != nil {
		t.Fatalf("trySend: %v", err)
	}
	if !ok {
		t.Fatal("trySend reported would-block on an empty queue")
	}

	got, err := local.timedReceive(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("timedReceive: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("timedReceive = %+v, want %+v", got, want)
	}
}

func TestAckQueueTimedReceiveExpiresWithoutError(t *testing.T) {
	shmID, regionID := uniqueAckQueueIDs(t)
	defer removeAckQueueByName(shmID, regionID)

	local, err := openOrCreateAckQueue(shmID, regionID)
	if err != nil {
		t.Fatalf("openOrCreateAckQueue: %v", err)
	}
	defer local.close()

	start := time.Now()
	blocks, err := local.timedReceive(start.Add(50 * time.Millisecond))
	if err != nil {
		t.Fatalf("timedReceive: %v", err)
	}
	if blocks != nil {
		t.Errorf("timedReceive on an empty queue returned %+v, want nil", blocks)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Errorf("timedReceive returned too early: %v", time.Since(start))
	}
}

func TestOpenExistingAckQueueFailsWhenAbsent(t *testing.T) {
	shmID, regionID := uniqueAckQueueIDs(t)
	_, err := openExistingAckQueue(shmID, regionID)
	if err == nil {
		t.Fatal("openExistingAckQueue succeeded against a name nobody created")
	}
	if !IsCode(err, CodeRegionNotFound) {
		t.Errorf("error = %v, want CodeRegionNotFound", err)
	}
}
