package shm

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/rbx/FairMQ/internal/constants"
	"github.com/rbx/FairMQ/internal/logging"
	"github.com/rbx/FairMQ/internal/mapping"
	"github.com/rbx/FairMQ/internal/naming"
)

// Role distinguishes the owning side of a Region (local, creates and
// eventually destroys the named artifacts) from the attaching side
// (remote, never destroys anything).
type Role int

const (
	RoleLocal Role = iota
	RoleRemote
)

// State is a Region's lifecycle stage (spec §4.3/§4.4).
type State int32

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateStopped
)

// Callback is invoked once per released RegionBlock. ptr points at
// regionBase+handle and is valid only for the duration of the call.
type Callback func(ptr unsafe.Pointer, size, hint uint64)

// BulkCallback is invoked once per received ack batch.
type BulkCallback func(blocks []RegionBlock)

// regionKey identifies a Region uniquely within this process.
type regionKey struct {
	shmID    uint64
	regionID uint16
}

var regionRegistry sync.Map // regionKey -> struct{}

// Options configures a Region at construction time.
type Options struct {
	Size         uint64
	FilePath     string // directory of the backing object; empty means constants.ShmDir
	Numa         mapping.NumaPolicy
	NumaNode     int
	Lock         bool
	Zero         bool
	Linger       time.Duration
	Callback     Callback
	BulkCallback BulkCallback
	Logger       *logging.Logger
	Metrics      *Metrics
}

// DefaultOptions returns the zero-value-safe defaults: no locking, no
// zeroing, the spec's default 100ms linger.
func DefaultOptions() Options {
	return Options{Linger: constants.DefaultLinger, Numa: mapping.NumaDisabled}
}

// Region ties one MappedRegion to one AckQueue and runs the
// corresponding worker: AcksReceiver when local, AcksSender when
// remote. See spec §3/§4.3/§4.4.
type Region struct {
	shmID    uint64
	regionID uint16
	role     Role
	linger   time.Duration
	dir      string
	logger   *logging.Logger
	metrics  *Metrics

	mapping *mapping.Mapping
	ack     *ackQueue

	callback     Callback
	bulkCallback BulkCallback

	state atomic.Int32
	stop  atomic.Bool

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pendingAcks []RegionBlock

	wg sync.WaitGroup
}

func registerRegion(shmID uint64, regionID uint16) error {
	key := regionKey{shmID, regionID}
	if _, loaded := regionRegistry.LoadOrStore(key, struct{}{}); loaded {
		return newError("NewRegion", shmID, int32(regionID), CodeConfigError,
			"a Region for this (ShmId, RegionId) pair already exists in this process")
	}
	return nil
}

func unregisterRegion(shmID uint64, regionID uint16) {
	regionRegistry.Delete(regionKey{shmID, regionID})
}

func validateCallbacks(opts Options) error {
	if opts.Callback != nil && opts.BulkCallback != nil {
		return newError("NewRegion", 0, -1, CodeConfigError,
			"exactly one of Callback or BulkCallback may be set, not both")
	}
	return nil
}

// NewLocalRegion creates and owns a new Region: it allocates the backing
// mapping, creates the ack queue, and spawns the AcksReceiver worker
// that drains acks and invokes the configured callback.
func NewLocalRegion(shmID uint64, regionID uint16, opts Options) (*Region, error) {
	if err := validateCallbacks(opts); err != nil {
		return nil, err
	}
	if opts.Callback == nil && opts.BulkCallback == nil {
		return nil, newError("NewLocalRegion", shmID, int32(regionID), CodeConfigError,
			"exactly one of Callback or BulkCallback must be set")
	}
	if err := registerRegion(shmID, regionID); err != nil {
		return nil, err
	}

	r, err := newLocalRegionUnregistered(shmID, regionID, opts)
	if err != nil {
		unregisterRegion(shmID, regionID)
		return nil, err
	}
	return r, nil
}

func newLocalRegionUnregistered(shmID uint64, regionID uint16, opts Options) (*Region, error) {
	name := naming.Region(shmID, regionID)
	mapCfg := mapping.Config{Numa: opts.Numa, NumaNode: opts.NumaNode, Lock: opts.Lock, Zero: opts.Zero, Dir: opts.FilePath}

	mp, err := mapping.CreateFileBacked(name, opts.Size, mapCfg)
	if err != nil {
		return nil, wrapError("NewLocalRegion", shmID, int32(regionID), CodeRegionAlreadyExists, err)
	}

	ack, err := openOrCreateAckQueue(shmID, regionID)
	if err != nil {
		mp.Close()
		mapping.UnlinkAt(opts.FilePath, name)
		return nil, err
	}

	linger := opts.Linger
	if linger <= 0 {
		linger = constants.DefaultLinger
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("region", name)

	r := &Region{
		shmID:        shmID,
		regionID:     regionID,
		role:         RoleLocal,
		linger:       linger,
		dir:          opts.FilePath,
		logger:       logger,
		metrics:      opts.Metrics,
		mapping:      mp,
		ack:          ack,
		callback:     opts.Callback,
		bulkCallback: opts.BulkCallback,
	}
	r.pendingCond = sync.NewCond(&r.pendingMu)
	r.state.Store(int32(StateRunning))

	r.wg.Add(1)
	go r.acksReceiverLoop()

	return r, nil
}

// NewRemoteRegion attaches to an existing Region by name and spawns the
// AcksSender worker that batches ReleaseBlock calls onto the ack queue.
func NewRemoteRegion(shmID uint64, regionID uint16, opts Options) (*Region, error) {
	if err := registerRegion(shmID, regionID); err != nil {
		return nil, err
	}
	r, err := newRemoteRegionUnregistered(shmID, regionID, opts)
	if err != nil {
		unregisterRegion(shmID, regionID)
		return nil, err
	}
	return r, nil
}

func newRemoteRegionUnregistered(shmID uint64, regionID uint16, opts Options) (*Region, error) {
	name := naming.Region(shmID, regionID)
	createTimeout := 5 * time.Second
	mapCfg := mapping.Config{Numa: opts.Numa, NumaNode: opts.NumaNode, Lock: opts.Lock, CreateTimeout: createTimeout, Dir: opts.FilePath}
	mp, err := mapping.OpenRemote(name, mapCfg)
	if err != nil {
		return nil, wrapError("NewRemoteRegion", shmID, int32(regionID), CodeRegionNotFound, err)
	}

	ack, err := openExistingAckQueue(shmID, regionID)
	if err != nil {
		mp.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("region", name)

	r := &Region{
		shmID:    shmID,
		regionID: regionID,
		role:     RoleRemote,
		dir:      opts.FilePath,
		logger:   logger,
		metrics:  opts.Metrics,
		mapping:  mp,
		ack:      ack,
	}
	r.pendingCond = sync.NewCond(&r.pendingMu)
	r.state.Store(int32(StateRunning))

	r.wg.Add(1)
	go r.acksSenderLoop()

	return r, nil
}

// Base returns the process-local base address of the region's mapping.
func (r *Region) Base() unsafe.Pointer {
	data := r.mapping.Bytes()
	if len(data) == 0 {
		return nil
	}
	return unsafe.Pointer(&data[0])
}

// Size returns the mapping's size in bytes.
func (r *Region) Size() uint64 { return r.mapping.Size }

// State returns the Region's current lifecycle stage.
func (r *Region) State() State { return State(r.state.Load()) }

// Metrics returns the Region's counters, or nil if none were configured.
func (r *Region) Metrics() *Metrics { return r.metrics }

// Zero clears the region's data bytes in place, without unmapping. Used
// by Monitor.ResetContent to reinitialize a Region between supervised
// device restarts.
func (r *Region) Zero() { r.mapping.Zero() }

// ReleaseBlock hands a released byte-range back to the owning producer.
// Only valid on a remote Region. It never blocks on I/O — the block is
// appended to an in-process pending batch and flushed by the AcksSender
// worker. It returns a CodeConfigError error when called on a local
// Region or once the Region is stopping.
func (r *Region) ReleaseBlock(block RegionBlock) error {
	if r.role != RoleRemote {
		return newError("ReleaseBlock", r.shmID, int32(r.regionID), CodeConfigError,
			"ReleaseBlock is only valid on a remote Region")
	}
	if r.stop.Load() {
		return newError("ReleaseBlock", r.shmID, int32(r.regionID), CodeConfigError,
			"Region is stopping; no further ReleaseBlock calls are accepted")
	}

	r.pendingMu.Lock()
	r.pendingAcks = append(r.pendingAcks, block)
	shouldNotify := len(r.pendingAcks) >= constants.AckBunchSize
	r.pendingMu.Unlock()

	r.metrics.recordReleasedBlock()
	if shouldNotify {
		r.pendingCond.Broadcast()
	}
	return nil
}

// acksSenderLoop is the AcksSender worker of a remote Region (spec §4.4).
func (r *Region) acksSenderLoop() {
	defer r.wg.Done()
	for {
		batch, draining := r.takeBatch()
		if len(batch) == 0 {
			if draining {
				return
			}
			continue
		}
		r.sendBatchOrYieldUntilAccepted(batch)
		if draining {
			return
		}
	}
}

// takeBatch waits (with a 500ms timeout) for enough pending acks to
// accumulate, then removes and returns up to ackBunchSize of them. The
// second return value reports whether stop has been requested and there
// was nothing left to take (the returned batch is empty) — the sender's
// exit condition.
func (r *Region) takeBatch() ([]RegionBlock, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	if len(r.pendingAcks) == 0 && !r.stop.Load() {
		waitOnCondWithTimeout(r.pendingCond, constants.SendWaitTimeout)
	}

	n := len(r.pendingAcks)
	if n > constants.AckBunchSize {
		n = constants.AckBunchSize
	}
	batch := append([]RegionBlock(nil), r.pendingAcks[:n]...)
	r.pendingAcks = r.pendingAcks[n:]

	draining := r.stop.Load() && len(r.pendingAcks) == 0 && len(batch) == 0
	return batch, draining
}

// sendBatchOrYieldUntilAccepted retries try_send until the queue accepts
// the batch, yielding the scheduler between attempts, so a full queue
// never loses an ack, at the cost of stalling if the peer has died — that
// is documented behavior, not a bug (spec §5). A send error other than
// would-block is logged and the batch is dropped.
func (r *Region) sendBatchOrYieldUntilAccepted(batch []RegionBlock) {
	for {
		ok, err := r.ack.trySend(batch)
		if err != nil {
			r.logger.Error("ack send failed", "err", err)
			return
		}
		if ok {
			r.metrics.recordBatchSent()
			return
		}
		r.metrics.recordSendRetry()
		runtime.Gosched()
	}
}

// acksReceiverLoop is the AcksReceiver worker of a local Region (spec §4.3).
func (r *Region) acksReceiverLoop() {
	defer r.wg.Done()
	for {
		deadline := constants.ReceiveTimeoutRunning
		if State(r.state.Load()) == StateDraining {
			deadline = r.linger
		}

		blocks, err := r.ack.timedReceive(time.Now().Add(deadline))
		if err != nil {
			if IsCode(err, CodeProtocolDesync) {
				r.logger.Warn("dropping malformed ack batch", "err", err)
				continue
			}
			r.logger.Error("ack receive failed", "err", err)
			continue
		}

		if len(blocks) == 0 {
			if State(r.state.Load()) == StateDraining {
				return
			}
			continue
		}

		r.metrics.recordBatchReceived()
		r.dispatch(blocks)
	}
}

// dispatch invokes the configured callback(s), recovering from panics so
// a misbehaving user callback can never poison the receiver loop (spec
// §4.3 edge cases).
func (r *Region) dispatch(blocks []RegionBlock) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("callback panic recovered", "panic", rec)
			r.metrics.recordCallbackPanic()
		}
	}()

	base := r.Base()
	if r.bulkCallback != nil {
		r.bulkCallback(blocks)
		return
	}
	for _, b := range blocks {
		ptr := unsafe.Add(base, uintptr(b.Handle))
		r.callback(ptr, b.Size, b.Hint)
	}
}

// StopAcks begins graceful shutdown of a local Region's AcksReceiver: it
// transitions to Draining and shortens the receive deadline to linger,
// so any acks already in flight are still delivered.
func (r *Region) StopAcks() error {
	if r.role != RoleLocal {
		return newError("StopAcks", r.shmID, int32(r.regionID), CodeConfigError,
			"StopAcks is only valid on a local Region")
	}
	r.stop.Store(true)
	r.state.Store(int32(StateDraining))
	return nil
}

// Close tears down the Region. A local Region removes its named shared-
// memory object, file mapping, and message queue; a remote Region
// removes nothing, per spec §3 lifecycle rules.
func (r *Region) Close() error {
	r.stop.Store(true)
	if r.role == RoleRemote {
		r.pendingCond.Broadcast()
	} else if State(r.state.Load()) != StateDraining {
		r.state.Store(int32(StateDraining))
	}
	r.wg.Wait()
	r.state.Store(int32(StateStopped))

	var firstErr error
	if err := r.mapping.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if r.role == RoleLocal {
		if err := r.ack.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := removeAckQueueByName(r.shmID, r.regionID); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mapping.UnlinkAt(r.dir, naming.Region(r.shmID, r.regionID)); err != nil && firstErr == nil {
			firstErr = err
		}
	} else {
		_ = r.ack.close()
	}

	unregisterRegion(r.shmID, r.regionID)
	return firstErr
}

// waitOnCondWithTimeout waits on cond, which must be locked by the
// caller, until either Broadcast/Signal wakes it or timeout elapses.
// sync.Cond has no native timeout, so a timer goroutine provides the
// wake-up; this mirrors the bounded condition-variable wait the
// AcksSender/AcksReceiver loops require (spec §5).
func waitOnCondWithTimeout(cond *sync.Cond, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
