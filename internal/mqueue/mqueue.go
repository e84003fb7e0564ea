// Package mqueue wraps the POSIX message-queue syscalls FairMQ's ack
// channel rides on. golang.org/x/sys/unix has no high-level mq_* helpers
// (unlike its Mmap/Munmap/Mlock wrappers), so this package calls the raw
// syscall numbers directly, the same way the teacher calls SYS_MMAP by
// number in internal/queue/runner.go.
package mqueue

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// OpenFlag mirrors the O_* flags accepted by mq_open(2).
type OpenFlag int

const (
	ReadOnly  OpenFlag = unix.O_RDONLY
	WriteOnly OpenFlag = unix.O_WRONLY
	ReadWrite OpenFlag = unix.O_RDWR
	Create    OpenFlag = unix.O_CREAT
	Excl      OpenFlag = unix.O_EXCL
	NonBlock  OpenFlag = unix.O_NONBLOCK
)

// Attr mirrors struct mq_attr from <mqueue.h>: flags, max queued
// messages, max message size, and current queue depth (ignored on
// open), plus the kernel's reserved padding. The Linux struct mq_attr
// mq_open(2) copies from user space is 8 longs (64 bytes on amd64/
// arm64), not just the 4 documented fields — omitting the trailing
// __reserved[4] here would have the kernel read 32 bytes past the end
// of this struct on every mq_open call that passes a non-nil Attr.
type Attr struct {
	Flags    int64
	MaxMsg   int64
	MsgSize  int64
	CurMsgs  int64
	reserved [4]int64
}

// Queue is an open POSIX message queue descriptor.
type Queue struct {
	fd int
}

// mqOpen calls mq_open(2) directly via its syscall number, since
// x/sys/unix exposes SYS_MQ_OPEN but not a typed wrapper around it.
func mqOpen(name string, flags OpenFlag, mode uint32, attr *Attr) (*Queue, error) {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("mq_open name: %w", err)
	}

	var attrPtr uintptr
	if attr != nil {
		attrPtr = uintptr(unsafe.Pointer(attr))
	}

	fd, _, errno := unix.Syscall6(
		unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(nameBytes)),
		uintptr(flags),
		uintptr(mode),
		attrPtr,
		0, 0,
	)
	if errno != 0 {
		return nil, fmt.Errorf("mq_open %s: %w", name, errno)
	}
	return &Queue{fd: int(fd)}, nil
}

// Open opens (optionally creating) a named POSIX message queue.
func Open(name string, flags OpenFlag, mode uint32, attr *Attr) (*Queue, error) {
	return mqOpen(name, flags, mode, attr)
}

// Close releases the queue descriptor. It does not remove the queue
// from the system — see Unlink.
func (q *Queue) Close() error {
	if q.fd < 0 {
		return nil
	}
	err := unix.Close(q.fd)
	q.fd = -1
	return err
}

// TimedSend enqueues msg with the given priority, blocking at most
// until deadline. A zero deadline blocks indefinitely; ErrTimedOut is
// returned on expiry.
func (q *Queue) TimedSend(msg []byte, priority uint, deadline time.Time) error {
	ts := toTimespec(deadline)
	var msgPtr unsafe.Pointer
	if len(msg) > 0 {
		msgPtr = unsafe.Pointer(&msg[0])
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_MQ_TIMEDSEND,
		uintptr(q.fd),
		uintptr(msgPtr),
		uintptr(len(msg)),
		uintptr(priority),
		uintptr(unsafe.Pointer(ts)),
		0,
	)
	if errno != 0 {
		return translateErrno(errno)
	}
	return nil
}

// TimedReceive dequeues the highest-priority message into buf, blocking
// at most until deadline. Returns the number of bytes written and the
// message's priority.
func (q *Queue) TimedReceive(buf []byte, deadline time.Time) (int, uint, error) {
	ts := toTimespec(deadline)
	var priority uint32
	var bufPtr unsafe.Pointer
	if len(buf) > 0 {
		bufPtr = unsafe.Pointer(&buf[0])
	}
	n, _, errno := unix.Syscall6(
		unix.SYS_MQ_TIMEDRECEIVE,
		uintptr(q.fd),
		uintptr(bufPtr),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&priority)),
		uintptr(unsafe.Pointer(ts)),
		0,
	)
	if errno != 0 {
		return 0, 0, translateErrno(errno)
	}
	return int(n), uint(priority), nil
}

// Unlink removes a named message queue from the system. Safe to call
// when the queue does not exist.
func Unlink(name string) error {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return fmt.Errorf("mq_unlink name: %w", err)
	}
	_, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(nameBytes)), 0, 0)
	if errno != 0 && errno != unix.ENOENT {
		return fmt.Errorf("mq_unlink %s: %w", name, errno)
	}
	return nil
}

func toTimespec(deadline time.Time) *unix.Timespec {
	if deadline.IsZero() {
		return nil
	}
	ts := unix.NsecToTimespec(deadline.UnixNano())
	return &ts
}

// translateErrno turns ETIMEDOUT into the sentinel callers branch on,
// passing everything else through as a plain errno error.
func translateErrno(errno unix.Errno) error {
	if errno == unix.ETIMEDOUT {
		return ErrTimedOut
	}
	return errno
}

// ErrTimedOut is returned by TimedSend/TimedReceive when the deadline
// passes before the operation can complete.
var ErrTimedOut = fmt.Errorf("mqueue: timed out")
