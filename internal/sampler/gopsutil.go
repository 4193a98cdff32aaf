package sampler

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// GopsutilSource reads counters through gopsutil. Per-process network bytes
// are not attributable through procfs, so they stay zero; machine-wide
// network throughput is reported in the system counters.
type GopsutilSource struct{}

// NewGopsutilSource returns the default OS-backed Source.
func NewGopsutilSource() *GopsutilSource { return &GopsutilSource{} }

func (GopsutilSource) ReadProcessTable(ctx context.Context) ([]RawProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RawProcess, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rp, err := readProcess(ctx, p)
		if err != nil {
			// exited between listing and reading
			continue
		}
		out = append(out, rp)
	}
	return out, nil
}

func (GopsutilSource) ReadProcess(ctx context.Context, pid int32) (RawProcess, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return RawProcess{}, ErrProcessGone
		}
		return RawProcess{}, err
	}
	rp, err := readProcess(ctx, p)
	if err != nil {
		if running, rerr := p.IsRunningWithContext(ctx); rerr == nil && !running {
			return RawProcess{}, ErrProcessGone
		}
		return RawProcess{}, err
	}
	return rp, nil
}

// readProcess fails only when the identity itself cannot be read; missing
// optional counters (IO of foreign processes, usernames) are left zero.
func readProcess(ctx context.Context, p *process.Process) (RawProcess, error) {
	created, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return RawProcess{}, fmt.Errorf("pid %d create time: %w", p.Pid, err)
	}
	rp := RawProcess{PID: p.Pid, CreateTime: created}
	rp.Name, _ = p.NameWithContext(ctx)
	rp.Cmdline, _ = p.CmdlineWithContext(ctx)
	rp.User, _ = p.UsernameWithContext(ctx)
	if times, err := p.TimesWithContext(ctx); err == nil && times != nil {
		rp.CPUSeconds = times.User + times.System
	}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		rp.RSSBytes = mi.RSS
	}
	if io, err := p.IOCountersWithContext(ctx); err == nil && io != nil {
		rp.ReadBytes = io.ReadBytes
		rp.WriteBytes = io.WriteBytes
	}
	return rp, nil
}

func (GopsutilSource) ReadSystemCounters(ctx context.Context) (RawSystem, error) {
	var rs RawSystem

	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return rs, fmt.Errorf("cpu times: %w", err)
	}
	if len(times) > 0 {
		t := times[0]
		idle := t.Idle + t.Iowait
		total := t.User + t.System + t.Nice + t.Irq + t.Softirq + t.Steal + idle
		rs.CPUTotalSeconds = total
		rs.CPUBusySeconds = total - idle
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		rs.NumCPU = n
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return rs, fmt.Errorf("virtual memory: %w", err)
	}
	rs.MemTotalBytes = vm.Total
	rs.MemUsedBytes = vm.Used
	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		rs.SwapTotalBytes = sw.Total
		rs.SwapUsedBytes = sw.Used
	}

	if counters, err := disk.IOCountersWithContext(ctx); err == nil {
		for _, c := range counters {
			rs.DiskReadBytes += c.ReadBytes
			rs.DiskWriteBytes += c.WriteBytes
		}
	}
	if nics, err := net.IOCountersWithContext(ctx, false); err == nil && len(nics) > 0 {
		rs.NetRxBytes = nics[0].BytesRecv
		rs.NetTxBytes = nics[0].BytesSent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		rs.Load1, rs.Load5, rs.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		rs.UptimeSeconds = up
	}
	return rs, nil
}
