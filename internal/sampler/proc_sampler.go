package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/dyxium/dia-core/internal/safety"
)

// LatencySource reports the decision loop's average latency in milliseconds
type LatencySource interface {
	AverageMs() float64
}

// ProcSampler reads host CPU and memory pressure from procfs. CPU usage is
// the busy share of jiffies between two consecutive samples, so the first
// call after construction compares against the baseline taken in New.
type ProcSampler struct {
	fs      procfs.FS
	latency LatencySource
	now     func() time.Time

	mu   sync.Mutex
	prev procfs.CPUStat
}

// New creates a sampler for the proc filesystem mounted at mountPoint
// (procfs.DefaultMountPoint in production)
func New(mountPoint string, latency LatencySource) (*ProcSampler, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}

	s := &ProcSampler{fs: fs, latency: latency, now: time.Now}
	stat, err := fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu baseline: %w", err)
	}
	s.prev = stat.CPUTotal
	return s, nil
}

var _ safety.Sampler = (*ProcSampler)(nil)

// Sample implements safety.Sampler
func (s *ProcSampler) Sample(ctx context.Context) (safety.ResourceSample, error) {
	if err := ctx.Err(); err != nil {
		return safety.ResourceSample{}, err
	}

	stat, err := s.fs.Stat()
	if err != nil {
		return safety.ResourceSample{}, fmt.Errorf("read cpu stat: %w", err)
	}
	mem, err := s.fs.Meminfo()
	if err != nil {
		return safety.ResourceSample{}, fmt.Errorf("read meminfo: %w", err)
	}

	ramPct, err := memoryUsedPct(mem)
	if err != nil {
		return safety.ResourceSample{}, err
	}

	s.mu.Lock()
	cpuPct := cpuBusyPct(s.prev, stat.CPUTotal)
	s.prev = stat.CPUTotal
	s.mu.Unlock()

	sample := safety.ResourceSample{
		CPUPct:  cpuPct,
		RAMPct:  ramPct,
		TakenAt: s.now(),
	}
	if s.latency != nil {
		sample.LatencyMs = s.latency.AverageMs()
	}
	return sample, nil
}

func cpuBusyPct(prev, cur procfs.CPUStat) float64 {
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	total := cpuTotal(cur) - cpuTotal(prev)
	if total <= 0 {
		return 0
	}
	busy := (total - idle) / total * 100
	if busy < 0 {
		return 0
	}
	if busy > 100 {
		return 100
	}
	return busy
}

func cpuTotal(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

func memoryUsedPct(mem procfs.Meminfo) (float64, error) {
	if mem.MemTotal == nil || *mem.MemTotal == 0 {
		return 0, fmt.Errorf("meminfo has no MemTotal")
	}
	total := float64(*mem.MemTotal)

	var available float64
	switch {
	case mem.MemAvailable != nil:
		available = float64(*mem.MemAvailable)
	case mem.MemFree != nil:
		// kernels before 3.14 have no MemAvailable
		available = float64(*mem.MemFree)
		if mem.Buffers != nil {
			available += float64(*mem.Buffers)
		}
		if mem.Cached != nil {
			available += float64(*mem.Cached)
		}
	default:
		return 0, fmt.Errorf("meminfo has neither MemAvailable nor MemFree")
	}

	return (total - available) / total * 100, nil
}
