// Package sampler reads raw per-process and machine-wide counters once per
// tick. It never mutates shared state: every call returns a fresh Snapshot,
// which keeps it testable against synthetic sources.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"sysmate/internal/logging"
	"sysmate/internal/model"
)

var (
	// ErrSampleTimeout is returned when the OS read does not finish within
	// the configured budget. Callers keep their previous state for the tick.
	ErrSampleTimeout = errors.New("sample timeout")
	// ErrProcessGone is returned by SampleOne when the identity no longer
	// names a running process.
	ErrProcessGone = errors.New("process gone")
)

// RawProcess is what a Source reports for one process.
type RawProcess struct {
	PID        int32
	CreateTime int64 // unix milliseconds
	Name       string
	Cmdline    string
	User       string
	CPUSeconds float64
	RSSBytes   uint64
	ReadBytes  uint64
	WriteBytes uint64
	NetRxBytes uint64
	NetTxBytes uint64
}

// RawSystem is what a Source reports for the whole machine.
type RawSystem struct {
	NumCPU          int
	CPUBusySeconds  float64
	CPUTotalSeconds float64
	MemTotalBytes   uint64
	MemUsedBytes    uint64
	SwapTotalBytes  uint64
	SwapUsedBytes   uint64
	DiskReadBytes   uint64
	DiskWriteBytes  uint64
	NetRxBytes      uint64
	NetTxBytes      uint64
	Load1           float64
	Load5           float64
	Load15          float64
	UptimeSeconds   uint64
}

// Source is the OS capability the sampler consumes.
type Source interface {
	ReadProcessTable(ctx context.Context) ([]RawProcess, error)
	ReadSystemCounters(ctx context.Context) (RawSystem, error)
	// ReadProcess returns ErrProcessGone when pid does not exist.
	ReadProcess(ctx context.Context, pid int32) (RawProcess, error)
}

// Snapshot is the result of one tick's read.
type Snapshot struct {
	At        time.Time
	Processes []model.ResourceSample
	System    model.SystemSample
}

// Options configures a Sampler.
type Options struct {
	Timeout    time.Duration
	ClockTicks int
	Logger     logging.Logger
	Now        func() time.Time
}

// Sampler turns Source reads into timestamped, identity-ordered samples.
type Sampler struct {
	src        Source
	timeout    time.Duration
	clockTicks int
	log        logging.Logger
	now        func() time.Time
}

// New returns a Sampler reading from src.
func New(src Source, opts Options) *Sampler {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.ClockTicks <= 0 {
		opts.ClockTicks = 100
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sampler{
		src:        src,
		timeout:    opts.Timeout,
		clockTicks: opts.ClockTicks,
		log:        opts.Logger,
		now:        opts.Now,
	}
}

type readResult struct {
	procs  []RawProcess
	system RawSystem
	sysErr error
	err    error
}

// Sample reads the full process table and the system counters. The read is
// bounded by the sampler timeout; a stalled read yields ErrSampleTimeout.
func (s *Sampler) Sample(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan readResult, 1)
	go func() {
		var res readResult
		res.procs, res.err = s.src.ReadProcessTable(ctx)
		if res.err == nil {
			res.system, res.sysErr = s.src.ReadSystemCounters(ctx)
		}
		done <- res
	}()

	var res readResult
	select {
	case res = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Snapshot{}, fmt.Errorf("%w after %s", ErrSampleTimeout, s.timeout)
		}
		return Snapshot{}, ctx.Err()
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return Snapshot{}, fmt.Errorf("%w after %s: %v", ErrSampleTimeout, s.timeout, res.err)
		}
		return Snapshot{}, fmt.Errorf("read process table: %w", res.err)
	}

	at := s.now()
	snap := Snapshot{
		At:        at,
		Processes: make([]model.ResourceSample, 0, len(res.procs)),
	}
	for _, rp := range res.procs {
		snap.Processes = append(snap.Processes, s.toSample(rp, at))
	}
	slices.SortStableFunc(snap.Processes, func(a, b model.ResourceSample) int {
		return a.Identity.Compare(b.Identity)
	})

	if res.sysErr != nil {
		s.log.Debug("system counters unavailable", logging.Err(res.sysErr))
		snap.System = model.SystemSample{At: at}
	} else {
		snap.System = toSystemSample(res.system, at)
	}
	return snap, nil
}

// SampleOne re-reads a single process. It returns ErrProcessGone if the PID
// no longer exists or now belongs to a different process instance.
func (s *Sampler) SampleOne(ctx context.Context, id model.ProcessIdentity) (model.ResourceSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rp, err := s.src.ReadProcess(ctx, id.PID)
	if err != nil {
		if errors.Is(err, ErrProcessGone) {
			return model.ResourceSample{}, fmt.Errorf("%w: %s", ErrProcessGone, id)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return model.ResourceSample{}, fmt.Errorf("%w after %s", ErrSampleTimeout, s.timeout)
		}
		return model.ResourceSample{}, err
	}
	if rp.CreateTime != id.StartTime {
		return model.ResourceSample{}, fmt.Errorf("%w: pid %d reused (start %d != %d)", ErrProcessGone, id.PID, rp.CreateTime, id.StartTime)
	}
	return s.toSample(rp, s.now()), nil
}

// Alive reports whether id still names a running process.
func (s *Sampler) Alive(ctx context.Context, id model.ProcessIdentity) (bool, error) {
	_, err := s.SampleOne(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrProcessGone):
		return false, nil
	default:
		return false, err
	}
}

func (s *Sampler) toSample(rp RawProcess, at time.Time) model.ResourceSample {
	ticks := rp.CPUSeconds * float64(s.clockTicks)
	if ticks < 0 {
		ticks = 0
	}
	return model.ResourceSample{
		Identity:       model.ProcessIdentity{PID: rp.PID, StartTime: rp.CreateTime},
		Name:           rp.Name,
		Cmdline:        rp.Cmdline,
		User:           rp.User,
		At:             at,
		CPUTicks:       uint64(ticks + 0.5),
		RSSBytes:       rp.RSSBytes,
		DiskReadBytes:  rp.ReadBytes,
		DiskWriteBytes: rp.WriteBytes,
		NetRxBytes:     rp.NetRxBytes,
		NetTxBytes:     rp.NetTxBytes,
	}
}

func toSystemSample(rs RawSystem, at time.Time) model.SystemSample {
	return model.SystemSample{
		At:              at,
		Valid:           true,
		NumCPU:          rs.NumCPU,
		CPUBusySeconds:  rs.CPUBusySeconds,
		CPUTotalSeconds: rs.CPUTotalSeconds,
		MemTotalBytes:   rs.MemTotalBytes,
		MemUsedBytes:    rs.MemUsedBytes,
		SwapTotalBytes:  rs.SwapTotalBytes,
		SwapUsedBytes:   rs.SwapUsedBytes,
		DiskReadBytes:   rs.DiskReadBytes,
		DiskWriteBytes:  rs.DiskWriteBytes,
		NetRxBytes:      rs.NetRxBytes,
		NetTxBytes:      rs.NetTxBytes,
		Load1:           rs.Load1,
		Load5:           rs.Load5,
		Load15:          rs.Load15,
		UptimeSeconds:   rs.UptimeSeconds,
	}
}
