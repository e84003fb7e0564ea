package shm

import (
	"sync"

	"github.com/rbx/FairMQ/internal/allocator"
	"github.com/rbx/FairMQ/internal/mapping"
	"github.com/rbx/FairMQ/internal/naming"
)

// AllocStrategy names a Segment's allocation policy. "rbtree_best_fit"
// is the only supported value at present; the type exists so additional
// strategies can be added without changing the Segment API (spec §3).
type AllocStrategy string

const StrategyRBTreeBestFit AllocStrategy = "rbtree_best_fit"

// Segment is the managed-allocator sibling of Region: same mapping
// lifecycle (create/open/lock/zero), plus a best-fit allocator over the
// mapped bytes. The allocator's free-list lives in process memory, not
// literally inside the mapping — unlike a placement-new C++ allocator
// header, a Go value cannot be constructed in place inside an mmap'd
// byte range, so every process attached to a Segment maintains its own
// allocator bookkeeping; only the Allocate/Deallocate contract (offsets
// into the shared mapping) crosses process boundaries. See DESIGN.md's
// Open Questions for the full reasoning.
type Segment struct {
	shmID     uint64
	segmentID uint16
	strategy  AllocStrategy
	dir       string

	mapping *mapping.Mapping
	alloc   *allocator.Allocator
	metrics *Metrics

	mu     sync.Mutex
	closed bool
}

// SegmentOptions configures a Segment at construction time.
type SegmentOptions struct {
	Size     uint64
	FilePath string
	Numa     mapping.NumaPolicy
	NumaNode int
	Lock     bool
	Zero     bool
	Strategy AllocStrategy
	Metrics  *Metrics
}

// NewLocalSegment creates and owns a new Segment of the given capacity.
func NewLocalSegment(shmID uint64, segmentID uint16, opts SegmentOptions) (*Segment, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyRBTreeBestFit
	}
	if strategy != StrategyRBTreeBestFit {
		return nil, newError("NewLocalSegment", shmID, int32(segmentID), CodeConfigError,
			"unsupported allocation strategy: "+string(strategy))
	}

	name := naming.Segment(shmID, segmentID)
	mapCfg := mapping.Config{Numa: opts.Numa, NumaNode: opts.NumaNode, Lock: opts.Lock, Zero: opts.Zero, Dir: opts.FilePath}
	mp, err := mapping.CreateFileBacked(name, opts.Size, mapCfg)
	if err != nil {
		return nil, wrapError("NewLocalSegment", shmID, int32(segmentID), CodeRegionAlreadyExists, err)
	}

	return &Segment{
		shmID:     shmID,
		segmentID: segmentID,
		strategy:  strategy,
		dir:       opts.FilePath,
		mapping:   mp,
		alloc:     allocator.New(mp.Size),
		metrics:   opts.Metrics,
	}, nil
}

// NewRemoteSegment attaches to an existing Segment by name. Each
// attaching process gets its own independent allocator view seeded over
// the mapping's full capacity — Segment attachment is intended for a
// single owning process plus passive byte-range readers, not concurrent
// allocation from multiple processes (spec §4.5 is explicit that the
// region/segment is otherwise unmanaged).
func NewRemoteSegment(shmID uint64, segmentID uint16, opts SegmentOptions) (*Segment, error) {
	name := naming.Segment(shmID, segmentID)
	mapCfg := mapping.Config{Numa: opts.Numa, NumaNode: opts.NumaNode, Lock: opts.Lock, Dir: opts.FilePath}
	mp, err := mapping.OpenRemote(name, mapCfg)
	if err != nil {
		return nil, wrapError("NewRemoteSegment", shmID, int32(segmentID), CodeRegionNotFound, err)
	}

	return &Segment{
		shmID:     shmID,
		segmentID: segmentID,
		strategy:  StrategyRBTreeBestFit,
		dir:       opts.FilePath,
		mapping:   mp,
		alloc:     allocator.New(mp.Size),
		metrics:   opts.Metrics,
	}, nil
}

// Base returns the process-local base address of the segment's mapping.
func (s *Segment) Base() []byte { return s.mapping.Bytes() }

// Size returns the segment's total capacity in bytes.
func (s *Segment) Size() uint64 { return s.mapping.Size }

// Metrics returns the Segment's counters, or nil if none were configured.
func (s *Segment) Metrics() *Metrics { return s.metrics }

// Allocate reserves a size-byte extent aligned to align bytes, returning
// its offset from the segment base. Raises MessageBadAlloc when no free
// extent is large enough.
func (s *Segment) Allocate(size, align uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, newError("Allocate", s.shmID, int32(s.segmentID), CodeConfigError, "segment is closed")
	}
	offset, err := s.alloc.Allocate(size, align)
	if err != nil {
		s.metrics.recordAllocation(false)
		return 0, wrapError("Allocate", s.shmID, int32(s.segmentID), CodeMessageBadAlloc, err)
	}
	s.metrics.recordAllocation(true)
	return offset, nil
}

// Deallocate releases a previously allocated extent.
func (s *Segment) Deallocate(offset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.alloc.Deallocate(offset); err != nil {
		return wrapError("Deallocate", s.shmID, int32(s.segmentID), CodeConfigError, err)
	}
	s.metrics.recordDeallocation()
	return nil
}

// ResetContent reinitializes the allocator header without unmapping the
// segment, per Monitor.ResetContent (spec §4.6). Callers must ensure no
// peer process is concurrently allocating — this is a contract on the
// caller, not enforced here.
func (s *Segment) ResetContent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alloc.Reset()
}

// Stats reports current allocator occupancy, for diagnostics.
func (s *Segment) Stats() allocator.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc.Stats()
}

// Close unmaps the segment. A caller that owns the segment (created it
// locally) is responsible for removing the named object via
// Monitor.Cleanup or Close's own teardown path below.
func (s *Segment) Close(removeNamedObject bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.mapping.Close()
	if removeNamedObject {
		if unlinkErr := mapping.UnlinkAt(s.dir, naming.Segment(s.shmID, s.segmentID)); unlinkErr != nil && err == nil {
			err = unlinkErr
		}
	}
	return err
}
