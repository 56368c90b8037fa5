package safety

import (
	"sync"
	"time"
)

// OrderRateWindow counts order submissions over a trailing window, one
// minute by default. Its Count feeds RiskMetrics.OrdersLastMinute.
type OrderRateWindow struct {
	window time.Duration
	events []time.Time // ascending
	now    func() time.Time
	mutex  sync.Mutex
}

// NewOrderRateWindow creates a sliding window counter
func NewOrderRateWindow(window time.Duration) *OrderRateWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &OrderRateWindow{
		window: window,
		now:    time.Now,
	}
}

// Record registers one submitted order at the current time
func (w *OrderRateWindow) Record() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	now := w.now()
	w.prune(now)
	w.events = append(w.events, now)
}

// Count returns the number of orders inside the window
func (w *OrderRateWindow) Count() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.prune(w.now())
	return len(w.events)
}

func (w *OrderRateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// RateLimiter implements token bucket rate limiting. The daemon uses it to
// cap how many alerts are delivered in a burst.
type RateLimiter struct {
	capacity   int           // Maximum number of tokens
	tokens     int           // Current number of tokens
	refillRate time.Duration // Time to earn one token
	lastRefill time.Time
	now        func() time.Time
	mutex      sync.Mutex
	name       string
}

// NewRateLimiter creates a new rate limiter that starts full
func NewRateLimiter(name string, capacity int, refillEvery time.Duration) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if refillEvery <= 0 {
		refillEvery = time.Second
	}
	return &RateLimiter{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillEvery,
		lastRefill: time.Now(),
		now:        time.Now,
		name:       name,
	}
}

// Allow takes one token if available
func (rl *RateLimiter) Allow() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillTokens()
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// refillTokens adds tokens based on elapsed time
func (rl *RateLimiter) refillTokens() {
	now := rl.now()
	earned := int(now.Sub(rl.lastRefill) / rl.refillRate)
	if earned <= 0 {
		return
	}
	rl.tokens += earned
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = rl.lastRefill.Add(time.Duration(earned) * rl.refillRate)
}

// RateLimiterStats holds statistics about a rate limiter
type RateLimiterStats struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Tokens   int    `json:"tokens"`
}

// GetStats returns current statistics about the rate limiter
func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillTokens()
	return RateLimiterStats{
		Name:     rl.name,
		Capacity: rl.capacity,
		Tokens:   rl.tokens,
	}
}
