// Package naming renders the canonical, bit-exact names used by every
// shared-memory artifact belonging to one ShmId namespace.
//
// Grounded on original_source/fairmq/shmem/Region.h, whose constructor
// builds fName/fQueueName as "fmq_" + shmId + "_rg_"/"_rgq_" + id; segment
// names follow the same shape with "_sg_" ("examples/region/keep-alive.cxx"
// builds one Segment per declared id).
package naming

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rbx/FairMQ/internal/constants"
)

// ShmIDHex renders a ShmId as a canonical 16-character lowercase hex
// string with leading zeros, e.g. 0x42 -> "0000000000000042".
func ShmIDHex(shmID uint64) string {
	return fmt.Sprintf("%016x", shmID)
}

// Region returns the canonical shared-memory object name for a region.
func Region(shmID uint64, regionID uint16) string {
	return fmt.Sprintf("%s%s_rg_%d", constants.NamePrefix, ShmIDHex(shmID), regionID)
}

// RegionQueue returns the canonical ack-queue name for a region.
func RegionQueue(shmID uint64, regionID uint16) string {
	return fmt.Sprintf("%s%s_rgq_%d", constants.NamePrefix, ShmIDHex(shmID), regionID)
}

// Segment returns the canonical shared-memory object name for a segment.
func Segment(shmID uint64, segmentID uint16) string {
	return fmt.Sprintf("%s%s_sg_%d", constants.NamePrefix, ShmIDHex(shmID), segmentID)
}

// Prefix returns the namespace prefix shared by every artifact belonging
// to shmID, used by Monitor.Cleanup to enumerate them.
func Prefix(shmID uint64) string {
	return constants.NamePrefix + ShmIDHex(shmID)
}

// Kind identifies which artifact class a canonical name refers to.
type Kind int

const (
	KindUnknown Kind = iota
	KindRegion
	KindRegionQueue
	KindSegment
)

// ParseArtifact recovers the artifact kind and numeric id from a name
// produced by Region/RegionQueue/Segment, given the shmID it was built
// from. Used by Monitor.Cleanup, which only knows a directory listing of
// raw names, to decide how to tear each one down.
func ParseArtifact(shmID uint64, name string) (Kind, uint16, bool) {
	prefix := Prefix(shmID)
	if !strings.HasPrefix(name, prefix) {
		return KindUnknown, 0, false
	}
	rest := name[len(prefix):]
	for _, m := range []struct {
		tag  string
		kind Kind
	}{
		{"_rgq_", KindRegionQueue},
		{"_rg_", KindRegion},
		{"_sg_", KindSegment},
	} {
		if strings.HasPrefix(rest, m.tag) {
			idStr := rest[len(m.tag):]
			id, err := strconv.ParseUint(idStr, 10, 16)
			if err != nil {
				return KindUnknown, 0, false
			}
			return m.kind, uint16(id), true
		}
	}
	return KindUnknown, 0, false
}
