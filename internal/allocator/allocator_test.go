package allocator

import "testing"

func TestAllocateDeallocateRoundTrip(t *testing.T) {
	a := New(4096)

	off, err := a.Allocate(256, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if off != 0 {
		t.Errorf("first Allocate offset = %d, want 0", off)
	}

	stats := a.Stats()
	if stats.Allocated != 256 {
		t.Errorf("Allocated = %d, want 256", stats.Allocated)
	}

	if err := a.Deallocate(off); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	stats = a.Stats()
	if stats.Allocated != 0 {
		t.Errorf("Allocated after Deallocate = %d, want 0", stats.Allocated)
	}
}

func TestAllocateBestFitPicksSmallestSufficientBlock(t *testing.T) {
	a := New(4096)

	// Carve out three free blocks of distinct sizes by allocating then
	// freeing them in a pattern that leaves gaps of 64, 128, and 256.
	big, err := a.Allocate(3648, 1) // leaves a 448-byte tail free block
	if err != nil {
		t.Fatalf("Allocate big: %v", err)
	}
	small, err := a.Allocate(64, 1)
	if err != nil {
		t.Fatalf("Allocate small: %v", err)
	}
	mid, err := a.Allocate(128, 1)
	if err != nil {
		t.Fatalf("Allocate mid: %v", err)
	}

	if err := a.Deallocate(small); err != nil {
		t.Fatalf("Deallocate small: %v", err)
	}
	if err := a.Deallocate(mid); err != nil {
		t.Fatalf("Deallocate mid: %v", err)
	}

	// A 100-byte request should best-fit into the freed 128-byte block
	// (mid), not the smaller 64-byte block or the much larger tail.
	got, err := a.Allocate(100, 1)
	if err != nil {
		t.Fatalf("Allocate 100: %v", err)
	}
	if got != mid {
		t.Errorf("best-fit Allocate(100) returned offset %d, want %d (the freed 128-byte block)", got, mid)
	}
	_ = big
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	a := New(128)
	if _, err := a.Allocate(128, 1); err != nil {
		t.Fatalf("Allocate full capacity: %v", err)
	}
	if _, err := a.Allocate(1, 1); err != ErrBadAlloc {
		t.Errorf("Allocate on exhausted allocator = %v, want ErrBadAlloc", err)
	}
}

func TestAllocateRespectsAlignment(t *testing.T) {
	a := New(4096)
	if _, err := a.Allocate(1, 1); err != nil {
		t.Fatalf("Allocate 1: %v", err)
	}
	off, err := a.Allocate(64, 64)
	if err != nil {
		t.Fatalf("Allocate aligned: %v", err)
	}
	if off%64 != 0 {
		t.Errorf("aligned Allocate returned offset %d, not a multiple of 64", off)
	}
}

func TestDeallocateUnknownHandle(t *testing.T) {
	a := New(128)
	if err := a.Deallocate(99); err != ErrUnknownHandle {
		t.Errorf("Deallocate unknown handle = %v, want ErrUnknownHandle", err)
	}
}

func TestResetClearsAllocations(t *testing.T) {
	a := New(1024)
	if _, err := a.Allocate(512, 1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Reset()
	stats := a.Stats()
	if stats.Allocated != 0 || stats.Free != 1024 {
		t.Errorf("Stats after Reset = %+v, want fully free", stats)
	}
}
