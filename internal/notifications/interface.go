package notifications

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/dyxium/dia-core/internal/safety"
)

// Alert levels understood by every notifier
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level, message string) error
}

// MultiNotifier fans an alert out to every configured notifier. A failing
// channel does not stop delivery on the others.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a fan-out notifier; nil entries are skipped
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of channels
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// SendAlert delivers to all channels and combines their errors
func (m *MultiNotifier) SendAlert(level, message string) error {
	var err error
	for _, n := range m.notifiers {
		err = multierr.Append(err, n.SendAlert(level, message))
	}
	return err
}

// RateLimitedNotifier drops alerts once the token bucket is empty so a
// flapping guard cannot flood the operators
type RateLimitedNotifier struct {
	next    Notifier
	limiter *safety.RateLimiter
	dropped atomic.Int64
}

// NewRateLimitedNotifier wraps next with limiter
func NewRateLimitedNotifier(next Notifier, limiter *safety.RateLimiter) *RateLimitedNotifier {
	return &RateLimitedNotifier{next: next, limiter: limiter}
}

// ErrAlertDropped is returned when the rate limit swallowed an alert
var ErrAlertDropped = errors.New("alert dropped by rate limit")

// SendAlert forwards the alert if a token is available
func (r *RateLimitedNotifier) SendAlert(level, message string) error {
	if !r.limiter.Allow() {
		r.dropped.Add(1)
		return ErrAlertDropped
	}
	return r.next.SendAlert(level, message)
}

// Dropped returns how many alerts the limit swallowed
func (r *RateLimitedNotifier) Dropped() int64 {
	return r.dropped.Load()
}

// FormatGuardAlert renders an overload guard transition for humans
func FormatGuardAlert(a safety.Alert, active, kept []string) (level, message string) {
	var b strings.Builder

	if a.Kind == safety.AlertOverload {
		level = LevelWarning
		if a.To == safety.LevelMinimal {
			level = LevelError
		}
		fmt.Fprintf(&b, "Sustained overload detected (%s)\n", strings.Join(a.Breaches, ", "))
	} else {
		level = LevelSuccess
		b.WriteString("Load back under recover thresholds\n")
	}

	fmt.Fprintf(&b, "Throttle level: %s -> %s\n", a.From, a.To)
	fmt.Fprintf(&b, "Max active instruments: %d\n", a.MaxActiveInstruments)
	fmt.Fprintf(&b, "Sample: cpu=%.1f%% ram=%.1f%% latency=%.0fms\n", a.Sample.CPUPct, a.Sample.RAMPct, a.Sample.LatencyMs)

	if len(active) > 0 {
		fmt.Fprintf(&b, "Active instruments: %d -> %d\n", len(active), len(kept))
		if disabled := difference(active, kept); len(disabled) > 0 {
			fmt.Fprintf(&b, "Disabled: %s\n", strings.Join(disabled, ", "))
		}
	}
	if a.Kind == safety.AlertOverload {
		b.WriteString("Action: check for a runaway process or add capacity. The decision model is unchanged.\n")
	}

	return level, b.String()
}

func difference(all, kept []string) []string {
	keep := make(map[string]bool, len(kept))
	for _, s := range kept {
		keep[s] = true
	}
	var out []string
	for _, s := range all {
		if !keep[s] {
			out = append(out, s)
		}
	}
	return out
}
