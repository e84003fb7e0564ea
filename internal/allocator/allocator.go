// Package allocator implements the best-fit free-list allocator backing
// a Segment. The spec calls for a "red-black-tree best-fit" allocator;
// no rbtree implementation exists anywhere in the retrieved example
// corpus, so this uses github.com/google/btree's generic BTreeG as the
// concrete ordered-balanced-tree realization of the same algorithmic
// shape (O(log n) best-fit lookup, ordered free-list by size then
// offset).
//
// Grounded on spec §4.5's Segment summary and
// original_source/examples/region/keep-alive.cxx's per-segment
// allocator header, generalized from "present but unspecified" to a
// concrete best-fit strategy.
package allocator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
)

// ErrBadAlloc is returned by Allocate when no free block large enough
// (after alignment padding) exists. Callers retry or back off — the
// allocator never blocks or grows the underlying capacity itself.
var ErrBadAlloc = errors.New("allocator: no free block satisfies the request")

// ErrUnknownHandle is returned by Deallocate when the handle does not
// correspond to a live allocation.
var ErrUnknownHandle = errors.New("allocator: handle is not a live allocation")

const treeDegree = 32

type freeBlock struct {
	offset uint64
	size   uint64
}

func lessFreeBlock(a, b freeBlock) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.offset < b.offset
}

// Allocator is a best-fit allocator over a fixed-size byte range
// [0, capacity). It tracks free extents in a size-ordered tree so the
// smallest block that satisfies a request can be found in O(log n).
//
// Strategy is fixed to best-fit with split-on-allocate and no
// coalescing on free — matching the spec's explicit "no automatic
// defragmentation" stance for this transport core. Over a long enough
// run of alternating allocation sizes this fragments; callers needing
// guaranteed long-run packing should periodically Reset via
// Monitor.ResetContent between device restarts, the documented
// mitigation.
type Allocator struct {
	mu        sync.Mutex
	capacity  uint64
	free      *btree.BTreeG[freeBlock]
	allocated map[uint64]uint64 // offset -> size, for live allocations only
}

// New creates an allocator over [0, capacity), entirely free.
func New(capacity uint64) *Allocator {
	a := &Allocator{capacity: capacity}
	a.reset()
	return a
}

func (a *Allocator) reset() {
	a.free = btree.NewG(treeDegree, lessFreeBlock)
	a.allocated = make(map[uint64]uint64)
	if a.capacity > 0 {
		a.free.ReplaceOrInsert(freeBlock{offset: 0, size: a.capacity})
	}
}

// Reset discards all allocations and free-list state, returning the
// allocator to its just-created condition. Used by Monitor.ResetContent
// to reinitialize a Segment's header without unmapping it.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

// Allocate returns the offset of a newly reserved extent of size bytes,
// aligned to align bytes (align <= 1 means no alignment constraint).
// Best-fit: among all free blocks large enough to satisfy the request
// after alignment padding, the smallest one is chosen; ties broken by
// lowest offset. Returns ErrBadAlloc if none exists.
func (a *Allocator) Allocate(size, align uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("allocator: size must be > 0")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var chosen freeBlock
	var alignedStart uint64
	found := false

	a.free.AscendGreaterOrEqual(freeBlock{size: size, offset: 0}, func(item freeBlock) bool {
		start := alignUp(item.offset, align)
		padding := start - item.offset
		if item.size < size+padding {
			return true // keep scanning ascending candidates
		}
		chosen = item
		alignedStart = start
		found = true
		return false
	})
	if !found {
		return 0, ErrBadAlloc
	}

	a.free.Delete(chosen)

	leadingPad := alignedStart - chosen.offset
	if leadingPad > 0 {
		a.free.ReplaceOrInsert(freeBlock{offset: chosen.offset, size: leadingPad})
	}
	usedEnd := alignedStart + size
	blockEnd := chosen.offset + chosen.size
	if remainder := blockEnd - usedEnd; remainder > 0 {
		a.free.ReplaceOrInsert(freeBlock{offset: usedEnd, size: remainder})
	}

	a.allocated[alignedStart] = size
	return alignedStart, nil
}

// Deallocate returns a previously allocated extent to the free list.
func (a *Allocator) Deallocate(offset uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	size, ok := a.allocated[offset]
	if !ok {
		return ErrUnknownHandle
	}
	delete(a.allocated, offset)
	a.free.ReplaceOrInsert(freeBlock{offset: offset, size: size})
	return nil
}

// Stats reports the allocator's current free/used totals, for
// diagnostics and tests.
type Stats struct {
	Capacity  uint64
	Allocated uint64
	Free      uint64
	FreeBlocks int
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var allocated uint64
	for _, size := range a.allocated {
		allocated += size
	}
	return Stats{
		Capacity:   a.capacity,
		Allocated:  allocated,
		Free:       a.capacity - allocated,
		FreeBlocks: a.free.Len(),
	}
}
