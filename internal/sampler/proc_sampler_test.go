package sampler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLatency float64

func (f fixedLatency) AverageMs() float64 { return float64(f) }

func u64(v uint64) *uint64 { return &v }

func TestCPUBusyPct(t *testing.T) {
	prev := procfs.CPUStat{User: 100, System: 50, Idle: 800, Iowait: 50}
	cur := procfs.CPUStat{User: 160, System: 70, Idle: 900, Iowait: 70}

	// total delta 200, idle delta 120
	assert.InDelta(t, 40.0, cpuBusyPct(prev, cur), 1e-9)
	assert.Zero(t, cpuBusyPct(cur, cur))
}

func TestMemoryUsedPct(t *testing.T) {
	pct, err := memoryUsedPct(procfs.Meminfo{MemTotal: u64(1000), MemAvailable: u64(250)})
	require.NoError(t, err)
	assert.InDelta(t, 75.0, pct, 1e-9)

	pct, err = memoryUsedPct(procfs.Meminfo{MemTotal: u64(1000), MemFree: u64(100), Buffers: u64(50), Cached: u64(50)})
	require.NoError(t, err)
	assert.InDelta(t, 80.0, pct, 1e-9)

	_, err = memoryUsedPct(procfs.Meminfo{})
	assert.Error(t, err)
}

func writeProc(t *testing.T, dir, stat, meminfo string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o644))
}

func TestProcSampler_Sample(t *testing.T) {
	dir := t.TempDir()
	meminfo := "MemTotal:        8000000 kB\nMemFree:         1000000 kB\nMemAvailable:    2000000 kB\n"

	writeProc(t, dir, "cpu  1000 0 500 8000 500 0 0 0 0 0\nbtime 1700000000\n", meminfo)
	s, err := New(dir, fixedLatency(120))
	require.NoError(t, err)

	writeProc(t, dir, "cpu  1600 0 700 9000 700 0 0 0 0 0\nbtime 1700000000\n", meminfo)
	sample, err := s.Sample(context.Background())
	require.NoError(t, err)

	// jiffies: total delta 2000, idle delta 1200
	assert.InDelta(t, 40.0, sample.CPUPct, 1e-6)
	assert.InDelta(t, 75.0, sample.RAMPct, 1e-6)
	assert.Equal(t, 120.0, sample.LatencyMs)
	assert.False(t, sample.TakenAt.IsZero())
}

func TestProcSampler_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, "cpu  1 0 1 1 1 0 0 0 0 0\n", "MemTotal: 10 kB\nMemAvailable: 5 kB\n")
	s, err := New(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
