package shm

import (
	"os"

	"github.com/rbx/FairMQ/internal/constants"
	"github.com/rbx/FairMQ/internal/logging"
	"github.com/rbx/FairMQ/internal/mapping"
	"github.com/rbx/FairMQ/internal/mqueue"
	"github.com/rbx/FairMQ/internal/naming"
)

// Monitor is a stateless façade over presence-checking and teardown of
// every artifact belonging to one ShmId namespace: the shared-memory
// objects backing Regions and Segments, their file mappings, and their
// ack queues. It holds no handles of its own — cmd/shm-manager uses it
// alongside the Region/Segment values it owns, not instead of them.
//
// Grounded on original_source/examples/region/keep-alive.cxx's
// ShmManager, which performs exactly this role (presence checks, mass
// cleanup, reset-without-unmap) ahead of creating the segments/regions
// it supervises.
type Monitor struct {
	logger *logging.Logger
}

// NewMonitor builds a Monitor. A nil logger selects the package default.
func NewMonitor(logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{logger: logger}
}

// RegionIsPresent reports whether a region's named shared-memory object
// currently exists under dir (empty means constants.ShmDir).
func (m *Monitor) RegionIsPresent(shmID uint64, regionID uint16, dir string) bool {
	return mapping.ExistsAt(dir, naming.Region(shmID, regionID))
}

// SegmentIsPresent reports whether a segment's named shared-memory
// object currently exists under dir (empty means constants.ShmDir).
func (m *Monitor) SegmentIsPresent(shmID uint64, segmentID uint16, dir string) bool {
	return mapping.ExistsAt(dir, naming.Segment(shmID, segmentID))
}

// Cleanup removes every artifact belonging to shmID: every shared-memory
// object (region or segment) under dir whose name carries shmID's
// prefix, and the ack queue paired with each region found. It is
// idempotent — missing artifacts are not an error — and safe to call
// before any Region/Segment for this shmID has been constructed, which
// is exactly how a supervising process uses it at startup.
func (m *Monitor) Cleanup(shmID uint64, dir string) error {
	root := dir
	if root == "" {
		root = constants.ShmDir
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrapError("Cleanup", shmID, -1, CodeBackingIoError, err)
	}

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, entry := range entries {
		kind, id, ok := naming.ParseArtifact(shmID, entry.Name())
		if !ok {
			continue
		}
		switch kind {
		case naming.KindRegion:
			m.logger.Debugf("cleanup: removing region artifact %s", entry.Name())
			note(mapping.UnlinkAt(dir, entry.Name()))
			note(ignoreMissing(mqueue.Unlink(naming.RegionQueue(shmID, id))))
		case naming.KindSegment:
			m.logger.Debugf("cleanup: removing segment artifact %s", entry.Name())
			note(mapping.UnlinkAt(dir, entry.Name()))
		case naming.KindRegionQueue:
			// Queues live outside the shm filesystem namespace in a real
			// POSIX mq mount; a stray entry here would only appear if a
			// caller passed a nonstandard dir. Unlink defensively anyway.
			note(ignoreMissing(mqueue.Unlink(entry.Name())))
		}
	}

	if firstErr != nil {
		return wrapError("Cleanup", shmID, -1, CodeBackingIoError, firstErr)
	}
	return nil
}

func ignoreMissing(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ResetContent reinitializes the declared regions and segments in place,
// without unmapping them: each region's data bytes are zeroed and each
// segment's allocator header is reset to fully-free. Callers are
// responsible for ensuring no peer is mid-transfer — this mirrors
// keep-alive.cxx's SIGUSR1-triggered reset, which assumes the same.
func (m *Monitor) ResetContent(regions []*Region, segments []*Segment) {
	for _, r := range regions {
		if r == nil {
			continue
		}
		r.Zero()
	}
	for _, s := range segments {
		if s == nil {
			continue
		}
		s.ResetContent()
	}
}
