package shm

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is a high-level error category, per spec §7.
type Code string

const (
	CodeRegionNotFound      Code = "region not found"
	CodeRegionAlreadyExists Code = "region already exists"
	CodeBackingIoError      Code = "backing I/O error"
	CodeMessageBadAlloc     Code = "segment allocator exhausted"
	CodeProtocolDesync      Code = "malformed ack batch"
	CodeConfigError         Code = "invalid configuration"
)

// Error is the structured error type raised by construction paths and
// returned from best-effort operations throughout the package.
type Error struct {
	Op       string        // operation that failed, e.g. "CreateLocalRegion"
	ShmID    uint64        // namespace the error occurred in
	RegionID int32         // region id, or -1 if not applicable
	Code     Code          // high-level category
	Errno    syscall.Errno // kernel errno, 0 if not applicable
	Msg      string        // human-readable detail
	Inner    error         // wrapped error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	parts = append(parts, fmt.Sprintf("shmId=%016x", e.ShmID))
	if e.RegionID >= 0 {
		parts = append(parts, fmt.Sprintf("region=%d", e.RegionID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("shm: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("shm: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Inner }

// Is lets errors.Is match two *Error values by Code alone, so callers can
// write errors.Is(err, &shm.Error{Code: shm.CodeRegionNotFound}).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

func newError(op string, shmID uint64, regionID int32, code Code, msg string) *Error {
	return &Error{Op: op, ShmID: shmID, RegionID: regionID, Code: code, Msg: msg}
}

func wrapError(op string, shmID uint64, regionID int32, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}
	e := &Error{Op: op, ShmID: shmID, RegionID: regionID, Code: code, Msg: inner.Error(), Inner: inner}
	if errno, ok := inner.(syscall.Errno); ok {
		e.Errno = errno
	}
	return e
}

// IsCode reports whether err is (or wraps) a *Error with the given Code.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
