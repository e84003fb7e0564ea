//go:build !linux

package mapping

import "fmt"

// This package's real implementation relies on /dev/shm and mmap(2),
// which are Linux-specific. Non-Linux builds get a clearly erroring stub
// rather than a silent no-op, matching the teacher's own Linux-only
// ublk scope (spec Non-goals: no cross-host or cross-platform transport).

var errUnsupported = fmt.Errorf("mapping: shared-memory mapping is only supported on linux")

func unsafeBytes(addr uintptr, size uint64) []byte { return nil }

func CreateAnonymous(size uint64, cfg Config) (*Mapping, error) { return nil, errUnsupported }

func CreateFileBacked(name string, size uint64, cfg Config) (*Mapping, error) {
	return nil, errUnsupported
}

func OpenRemote(name string, cfg Config) (*Mapping, error) { return nil, errUnsupported }

func (m *Mapping) Lock() error   { return errUnsupported }
func (m *Mapping) Unlock() error { return errUnsupported }
func (m *Mapping) Zero()         {}
func (m *Mapping) Close() error  { return nil }

func Unlink(name string) error                { return errUnsupported }
func UnlinkAt(dir, name string) error         { return errUnsupported }
func Exists(name string) bool                 { return false }
func ExistsAt(dir, name string) bool          { return false }
