// Command shm-manager is the standalone supervisor: given a ShmId and a
// set of declared segments/regions, it cleans up any stale artifacts
// from a previous run, creates the declared segments and regions,
// locks and zeroes them, then idles until stopped — keeping every
// named shared-memory object alive for other processes to attach to.
//
// Grounded on original_source/examples/region/keep-alive.cxx's
// ShmManager (same create -> lock -> zero sequence, same SIGINT/SIGTERM
// stop handling, same exit code 2 on a fatal startup error) and the
// teacher's cmd/ublk-mem/main.go for flag parsing, logging setup, and
// signal-handler idiom.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	shm "github.com/rbx/FairMQ"
	"github.com/rbx/FairMQ/internal/constants"
	"github.com/rbx/FairMQ/internal/logging"
	"github.com/rbx/FairMQ/internal/mapping"
)

// repeatedFlag collects every occurrence of a flag.Var-bound flag,
// mirroring boost::program_options' ->multitoken()->composing() used by
// the original ShmManager for --segments/--regions.
type repeatedFlag []string

func (r *repeatedFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

type declared struct {
	id       uint16
	size     uint64
	numaNode int // -2 disabled, -1 interleave, >=0 bind to that node
}

func parseDeclared(flagName string, raw []string) ([]declared, error) {
	var out []declared
	for _, entry := range raw {
		parts := strings.Split(entry, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("incorrect format for --%s: expected <id>,<size>,<numaId>, got %q", flagName, entry)
		}
		id, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("--%s: invalid id %q: %w", flagName, parts[0], err)
		}
		size, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--%s: invalid size %q: %w", flagName, parts[1], err)
		}
		numaNode, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("--%s: invalid numaId %q: %w", flagName, parts[2], err)
		}
		out = append(out, declared{id: uint16(id), size: size, numaNode: numaNode})
	}
	return out, nil
}

func main() {
	var (
		shmID         uint64
		segmentsRaw   repeatedFlag
		regionsRaw    repeatedFlag
		dir           string
		nozero        bool
		nolock        bool
		checkPresence bool
		verbose       bool
	)

	flag.Uint64Var(&shmID, "shmid", 0, "Shm id (required)")
	flag.Var(&segmentsRaw, "segments", "Segment as <id>,<size>,<numaId>; repeat for multiple segments")
	flag.Var(&regionsRaw, "regions", "Region as <id>,<size>,<numaId>; repeat for multiple regions")
	flag.StringVar(&dir, "dir", "", "Directory for the shared-memory namespace (default: /dev/shm)")
	flag.BoolVar(&nozero, "nozero", false, "Skip zeroing segments/regions at startup")
	flag.BoolVar(&nolock, "nolock", false, "Skip mlock'ing segments/regions at startup")
	flag.BoolVar(&checkPresence, "check-presence", true, "Enable the presence watchdog: exit if a declared artifact disappears unexpectedly")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	segments, err := parseDeclared("segments", segmentsRaw)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}
	regions, err := parseDeclared("regions", regionsRaw)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}

	mon := shm.NewMonitor(logger)

	if err := run(mon, shmID, dir, segments, regions, nozero, nolock, checkPresence, logger); err != nil {
		logger.Errorf("shm-manager: %v", err)
		os.Exit(2)
	}
	os.Exit(0)
}

func run(mon *shm.Monitor, shmID uint64, dir string, segmentDecls, regionDecls []declared, nozero, nolock, checkPresence bool, logger *logging.Logger) error {
	if err := mon.Cleanup(shmID, dir); err != nil {
		return fmt.Errorf("cleanup before start: %w", err)
	}
	defer func() {
		if err := mon.Cleanup(shmID, dir); err != nil {
			logger.Errorf("cleanup on exit: %v", err)
		}
	}()

	var segments []*shm.Segment
	for _, d := range segmentDecls {
		seg, err := shm.NewLocalSegment(shmID, d.id, shm.SegmentOptions{
			Size: d.size, FilePath: dir, Lock: !nolock, Zero: !nozero,
			Numa: mapping.NumaPolicy(d.numaNode),
		})
		if err != nil {
			return fmt.Errorf("create segment %d: %w", d.id, err)
		}
		defer seg.Close(true)
		segments = append(segments, seg)
		logger.Infof("created segment %d of size %d, starting at %p", d.id, seg.Size(), seg.Base())
	}

	var regions []*shm.Region
	for _, d := range regionDecls {
		r, err := shm.NewLocalRegion(shmID, d.id, shm.Options{
			Size: d.size, FilePath: dir, Lock: !nolock, Zero: !nozero,
			Numa:         mapping.NumaPolicy(d.numaNode),
			BulkCallback: func(blocks []shm.RegionBlock) {},
		})
		if err != nil {
			return fmt.Errorf("create region %d: %w", d.id, err)
		}
		defer r.Close()
		regions = append(regions, r)
		logger.Infof("created region %d of size %d, starting at %p", d.id, r.Size(), r.Base())
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	// SIGUSR1 triggers a content reset without tearing anything down,
	// repurposed from the teacher's stack-dump use of the same signal.
	resetCh := make(chan os.Signal, 1)
	signal.Notify(resetCh, syscall.SIGUSR1)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-resetCh:
				logger.Infof("shm-manager: SIGUSR1 received, resetting content")
				mon.ResetContent(regions, segments)
			case <-done:
				return
			case <-time.After(constants.ResetPollInterval):
			}
		}
	}()

	if checkPresence {
		go watchPresenceLoop(mon, shmID, dir, segmentDecls, regionDecls, stopCh, done, logger)
	}

	logger.Infof("shm-manager: running, pid %d", os.Getpid())
	<-stopCh
	logger.Infof("shm-manager: stopping")
	return nil
}

func watchPresenceLoop(mon *shm.Monitor, shmID uint64, dir string, segmentDecls, regionDecls []declared, stopCh chan<- os.Signal, done <-chan struct{}, logger *logging.Logger) {
	ticker := time.NewTicker(constants.PresencePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, d := range segmentDecls {
				if !mon.SegmentIsPresent(shmID, d.id, dir) {
					logger.Errorf("shm-manager: segment %d vanished, requesting shutdown", d.id)
					stopCh <- syscall.SIGTERM
					return
				}
			}
			for _, d := range regionDecls {
				if !mon.RegionIsPresent(shmID, d.id, dir) {
					logger.Errorf("shm-manager: region %d vanished, requesting shutdown", d.id)
					stopCh <- syscall.SIGTERM
					return
				}
			}
		}
	}
}
