package shm

import (
	"time"

	"github.com/rbx/FairMQ/internal/constants"
	"github.com/rbx/FairMQ/internal/mqueue"
	"github.com/rbx/FairMQ/internal/naming"
)

// ackQueue is the typed façade over a POSIX message queue carrying
// batches of RegionBlock records, one batch per message, never a
// partial batch (spec §4.2). It is single-producer/single-consumer per
// direction per Region.
type ackQueue struct {
	name string
	q    *mqueue.Queue
}

// openOrCreateAckQueue opens the named queue, creating it with capacity
// constants.AckQueueCapacity and message size constants.AckMessageSize
// if it does not already exist.
func openOrCreateAckQueue(shmID uint64, regionID uint16) (*ackQueue, error) {
	name := naming.RegionQueue(shmID, regionID)
	attr := &mqueue.Attr{
		MaxMsg:  constants.AckQueueCapacity,
		MsgSize: constants.AckMessageSize,
	}
	q, err := mqueue.Open(name, mqueue.Create|mqueue.ReadWrite, 0o600, attr)
	if err != nil {
		return nil, wrapError("openOrCreateAckQueue", shmID, int32(regionID), CodeBackingIoError, err)
	}
	return &ackQueue{name: name, q: q}, nil
}

// openExistingAckQueue attaches to a queue a peer is expected to have
// already created; it never creates one.
func openExistingAckQueue(shmID uint64, regionID uint16) (*ackQueue, error) {
	name := naming.RegionQueue(shmID, regionID)
	q, err := mqueue.Open(name, mqueue.ReadWrite, 0, nil)
	if err != nil {
		return nil, wrapError("openExistingAckQueue", shmID, int32(regionID), CodeRegionNotFound, err)
	}
	return &ackQueue{name: name, q: q}, nil
}

// trySend attempts a single, non-blocking enqueue of the given blocks as
// one message. It reports whether the queue accepted the batch; a false
// return with a nil error means the queue was full (would-block).
func (a *ackQueue) trySend(blocks []RegionBlock) (bool, error) {
	buf := encodeBlocks(blocks)
	err := a.q.TimedSend(buf, 0, time.Now())
	if err == nil {
		return true, nil
	}
	if err == mqueue.ErrTimedOut {
		return false, nil
	}
	return false, err
}

// timedReceive blocks until a batch arrives or deadline passes. It
// returns io.EOF-free: a deadline-exceeded read yields (nil, nil) rather
// than an error, since that is the expected steady-state outcome of
// every polling iteration.
func (a *ackQueue) timedReceive(deadline time.Time) ([]RegionBlock, error) {
	buf := make([]byte, constants.AckMessageSize)
	n, _, err := a.q.TimedReceive(buf, deadline)
	if err == mqueue.ErrTimedOut {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBlocks(buf[:n])
}

func (a *ackQueue) close() error {
	return a.q.Close()
}

// removeAckQueueByName destroys the kernel object. Only the local role calls
// this, and only at teardown.
func removeAckQueueByName(shmID uint64, regionID uint16) error {
	return mqueue.Unlink(naming.RegionQueue(shmID, regionID))
}
