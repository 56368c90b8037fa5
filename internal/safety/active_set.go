package safety

import (
	"sync"
	"time"
)

// SelectActive trims active to at most limit instruments. Instruments listed
// in lowPriority are dropped first, in the order given; if the set is still
// too large the tail of active is dropped. The relative order of the kept
// instruments is preserved.
func SelectActive(active, lowPriority []string, limit int) []string {
	if limit < 0 {
		limit = 0
	}
	if len(active) <= limit {
		return append([]string(nil), active...)
	}

	excess := len(active) - limit
	present := make(map[string]bool, len(active))
	for _, sym := range active {
		present[sym] = true
	}

	drop := make(map[string]bool, excess)
	for _, sym := range lowPriority {
		if excess == 0 {
			break
		}
		if present[sym] && !drop[sym] {
			drop[sym] = true
			excess--
		}
	}

	kept := make([]string, 0, limit)
	for _, sym := range active {
		if drop[sym] {
			continue
		}
		if len(kept) == limit {
			break
		}
		kept = append(kept, sym)
	}
	return kept
}

// DefaultLatencyHistory is the number of loop latencies averaged
const DefaultLatencyHistory = 128

// LatencyTracker keeps a rolling average of decision-loop latency as
// reported by the trading loop. It is the third input of the guard.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	sum     float64
}

// NewLatencyTracker creates a tracker averaging the last size observations
func NewLatencyTracker(size int) *LatencyTracker {
	if size < 1 {
		size = DefaultLatencyHistory
	}
	return &LatencyTracker{samples: make([]float64, size)}
}

// Observe records one loop latency
func (t *LatencyTracker) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sum -= t.samples[t.next]
	t.samples[t.next] = ms
	t.sum += ms
	t.next = (t.next + 1) % len(t.samples)
	if t.next == 0 {
		t.full = true
	}
}

// AverageMs returns the rolling mean in milliseconds, 0 with no data
func (t *LatencyTracker) AverageMs() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.next
	if t.full {
		n = len(t.samples)
	}
	if n == 0 {
		return 0
	}
	return t.sum / float64(n)
}
