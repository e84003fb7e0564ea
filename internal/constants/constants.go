// Package constants holds the fixed tuning values of the shared-memory
// transport core. These are bit-exact with the naming scheme and timing
// behavior described by the transport's wire contract; they are not meant
// to be user-configurable.
package constants

import "time"

const (
	// AckBunchSize is the number of RegionBlock records carried in one
	// ack-queue message, and the batching target for the sender side.
	AckBunchSize = 256

	// AckQueueCapacity is the number of in-flight messages the ack queue
	// will buffer before try_send reports back-pressure.
	AckQueueCapacity = 1024

	// DefaultLinger is the grace period a local Region's receiver keeps
	// draining after StopAcks, before it gives up waiting for more acks.
	DefaultLinger = 100 * time.Millisecond

	// ReceiveTimeoutRunning is the AcksReceiver's timed_receive deadline
	// while the Region is in the Running state.
	ReceiveTimeoutRunning = 100 * time.Millisecond

	// SendWaitTimeout is how long the AcksSender waits on its condition
	// variable for pending blocks to accumulate before sending whatever
	// it has.
	SendWaitTimeout = 500 * time.Millisecond

	// ResetPollInterval is how often the supervisor polls its
	// reset-content flag.
	ResetPollInterval = 50 * time.Millisecond

	// PresencePollInterval is how often the supervisor's presence
	// watchdog re-checks declared artifacts.
	PresencePollInterval = 500 * time.Millisecond

	// RegionBlockSize is the wire size, in bytes, of one RegionBlock
	// record: three native-endian uint64 fields, no padding.
	RegionBlockSize = 24

	// AckMessageSize is the fixed message size agreed by all peers of one
	// AckQueue.
	AckMessageSize = AckBunchSize * RegionBlockSize

	// ShmDir is the Linux tmpfs mount that doubles as the POSIX shared
	// memory object namespace.
	ShmDir = "/dev/shm"

	// NamePrefix begins every artifact name belonging to one cooperating
	// process group (one ShmId).
	NamePrefix = "fmq_"
)

// NUMA policy tags understood by region/segment creation.
const (
	NumaDisabled   = -2
	NumaInterleave = -1
	// A value n >= 0 selects node n.
)
