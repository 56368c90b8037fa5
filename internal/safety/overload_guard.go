package safety

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/logger"
)

const guardComponent = "overload_guard"

// ThrottleLevel is the overload guard's current severity
type ThrottleLevel int

const (
	LevelNormal ThrottleLevel = iota
	LevelReduced
	LevelMinimal
)

// String returns the string representation of the throttle level
func (l ThrottleLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelReduced:
		return "REDUCED"
	case LevelMinimal:
		return "MINIMAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the level by name in JSON and YAML
func (l ThrottleLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Thresholds bound each sampled metric. Values are percentages for CPU and
// RAM and milliseconds for loop latency.
type Thresholds struct {
	CPUPct    float64 `yaml:"cpu_pct" json:"cpu_pct"`
	RAMPct    float64 `yaml:"ram_pct" json:"ram_pct"`
	LatencyMs float64 `yaml:"latency_ms" json:"latency_ms"`
}

// InstrumentCaps maps each level to the number of instruments the scheduler
// may trade concurrently
type InstrumentCaps struct {
	Normal  int `yaml:"normal" json:"normal"`
	Reduced int `yaml:"reduced" json:"reduced"`
	Minimal int `yaml:"minimal" json:"minimal"`
}

// For returns the cap for a level
func (c InstrumentCaps) For(level ThrottleLevel) int {
	switch level {
	case LevelReduced:
		return c.Reduced
	case LevelMinimal:
		return c.Minimal
	default:
		return c.Normal
	}
}

// GuardConfig holds configuration for the overload guard
type GuardConfig struct {
	Reduce        Thresholds     `yaml:"reduce" json:"reduce"`                 // a metric strictly above its reduce threshold counts as overload
	Recover       Thresholds     `yaml:"recover" json:"recover"`               // all metrics strictly below recover thresholds count as recovery
	EscalateAfter int            `yaml:"escalate_after" json:"escalate_after"` // consecutive overload samples before escalating one level
	RecoverAfter  int            `yaml:"recover_after" json:"recover_after"`   // consecutive recovery samples before stepping down one level
	SampleTimeout time.Duration  `yaml:"sample_timeout" json:"sample_timeout"` // a sample taking longer is treated as neutral
	Interval      time.Duration  `yaml:"interval" json:"interval"`             // tick period for Run
	Caps          InstrumentCaps `yaml:"caps" json:"caps"`                     // active instrument cap per level
}

// DefaultGuardConfig returns the production defaults
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Reduce:        Thresholds{CPUPct: 90, RAMPct: 90, LatencyMs: 250},
		Recover:       Thresholds{CPUPct: 75, RAMPct: 75, LatencyMs: 150},
		EscalateAfter: 3,
		RecoverAfter:  3,
		SampleTimeout: 2 * time.Second,
		Interval:      30 * time.Second,
		Caps:          InstrumentCaps{Normal: 20, Reduced: 12, Minimal: 4},
	}
}

// Validate rejects configurations that would make the FSM oscillate or
// grow the active set under load
func (c GuardConfig) Validate() error {
	var problems []string

	check := func(name string, reduce, recover float64) {
		if reduce <= 0 || recover <= 0 {
			problems = append(problems, fmt.Sprintf("%s thresholds must be positive", name))
		} else if recover >= reduce {
			problems = append(problems, fmt.Sprintf("%s recover threshold %.2f must be below reduce threshold %.2f", name, recover, reduce))
		}
	}
	check("cpu", c.Reduce.CPUPct, c.Recover.CPUPct)
	check("ram", c.Reduce.RAMPct, c.Recover.RAMPct)
	check("latency", c.Reduce.LatencyMs, c.Recover.LatencyMs)

	if c.EscalateAfter < 1 || c.RecoverAfter < 1 {
		problems = append(problems, "escalate_after and recover_after must be at least 1")
	}
	if c.SampleTimeout <= 0 {
		problems = append(problems, "sample_timeout must be positive")
	}
	if c.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if c.Caps.Minimal < 1 {
		problems = append(problems, "minimal instrument cap must be at least 1")
	}
	if c.Caps.Reduced > c.Caps.Normal || c.Caps.Minimal > c.Caps.Reduced {
		problems = append(problems, "instrument caps must not increase with severity")
	}

	if len(problems) == 0 {
		return nil
	}
	return rerrors.NewConfigurationError(guardComponent, "validate_config", strings.Join(problems, "; "))
}

// ResourceSample is one reading of process load
type ResourceSample struct {
	CPUPct    float64   `json:"cpu_pct"`
	RAMPct    float64   `json:"ram_pct"`
	LatencyMs float64   `json:"latency_ms"`
	TakenAt   time.Time `json:"taken_at"`
}

// Sampler reads current resource usage
type Sampler interface {
	Sample(ctx context.Context) (ResourceSample, error)
}

// SamplerFunc adapts a function to Sampler
type SamplerFunc func(ctx context.Context) (ResourceSample, error)

// Sample calls f
func (f SamplerFunc) Sample(ctx context.Context) (ResourceSample, error) {
	return f(ctx)
}

// GuardState is the guard's observable state. Only the tick writes it.
type GuardState struct {
	Level          ThrottleLevel  `json:"level"`
	LastSample     ResourceSample `json:"last_sample"`
	HasSample      bool           `json:"has_sample"`
	LastChange     time.Time      `json:"last_change"`
	OverloadStreak int            `json:"overload_streak"`
	RecoveryStreak int            `json:"recovery_streak"`
}

// AlertKind distinguishes escalations from recoveries
type AlertKind string

const (
	AlertOverload AlertKind = "overload"
	AlertRecovery AlertKind = "recovery"
)

// Alert is emitted on every level change
type Alert struct {
	Kind                 AlertKind      `json:"kind"`
	From                 ThrottleLevel  `json:"from"`
	To                   ThrottleLevel  `json:"to"`
	Breaches             []string       `json:"breaches,omitempty"`
	Sample               ResourceSample `json:"sample"`
	MaxActiveInstruments int            `json:"max_active_instruments"`
	At                   time.Time      `json:"at"`
}

// Reason summarizes why the level changed
func (a Alert) Reason() string {
	if a.Kind == AlertRecovery {
		return fmt.Sprintf("all metrics below recover thresholds (cpu=%.1f%% ram=%.1f%% lat=%.0fms)",
			a.Sample.CPUPct, a.Sample.RAMPct, a.Sample.LatencyMs)
	}
	return "sustained overload: " + strings.Join(a.Breaches, ", ")
}

// GuardObserver receives guard activity, typically for metrics
type GuardObserver interface {
	ObserveGuardSample(sample ResourceSample)
	ObserveGuardLevel(level ThrottleLevel, maxInstruments int)
	ObserveGuardTransition(alert Alert)
	ObserveSamplingFailure()
}

// GuardOption customizes an OverloadGuard
type GuardOption func(*OverloadGuard)

// WithGuardLogger sets the logger
func WithGuardLogger(l *logger.Logger) GuardOption {
	return func(g *OverloadGuard) { g.logger = l }
}

// WithGuardObserver sets the metrics observer
func WithGuardObserver(o GuardObserver) GuardOption {
	return func(g *OverloadGuard) { g.observer = o }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) GuardOption {
	return func(g *OverloadGuard) { g.now = now }
}

// OverloadGuard supervises CPU, RAM and loop latency and throttles how many
// instruments may be active. It never touches the decision model; the level
// is its only externally visible effect.
type OverloadGuard struct {
	config   GuardConfig
	sampler  Sampler
	logger   *logger.Logger
	observer GuardObserver
	now      func() time.Time

	tickMu sync.Mutex // serializes ticks

	mu      sync.RWMutex
	state   GuardState
	onAlert func(Alert)

	samplingFailures atomic.Uint64
}

// NewOverloadGuard creates a guard at LevelNormal
func NewOverloadGuard(config GuardConfig, sampler Sampler, opts ...GuardOption) (*OverloadGuard, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		return nil, rerrors.NewConfigurationError(guardComponent, "new", "sampler is required")
	}

	g := &OverloadGuard{
		config:  config,
		sampler: sampler,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.state = GuardState{Level: LevelNormal, LastChange: g.now()}

	if g.observer != nil {
		g.observer.ObserveGuardLevel(LevelNormal, config.Caps.Normal)
	}
	return g, nil
}

// SetAlertHandler sets the function called after every committed level
// change. It runs on the tick goroutine and must not call Sample or
// Evaluate.
func (g *OverloadGuard) SetAlertHandler(handler func(Alert)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onAlert = handler
}

// Config returns the guard configuration
func (g *OverloadGuard) Config() GuardConfig {
	return g.config
}

// State returns a copy of the current state
func (g *OverloadGuard) State() GuardState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Level returns the current throttle level
func (g *OverloadGuard) Level() ThrottleLevel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Level
}

// MaxActiveInstruments returns the cap for the current level
func (g *OverloadGuard) MaxActiveInstruments() int {
	return g.config.Caps.For(g.Level())
}

// SamplingFailures returns how many ticks produced a neutral sample
func (g *OverloadGuard) SamplingFailures() uint64 {
	return g.samplingFailures.Load()
}

// Sample takes one reading and advances the FSM. A sampling failure or
// timeout is a neutral sample: it is logged and counted, the streaks are
// left untouched and no alert is produced.
func (g *OverloadGuard) Sample(ctx context.Context) (GuardState, *Alert) {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()

	sample, err := g.sampleWithTimeout(ctx)
	if err != nil {
		g.samplingFailures.Add(1)
		g.logger.LogWarning("overload guard", "neutral sample: %v", samplingError(err))
		if g.observer != nil {
			g.observer.ObserveSamplingFailure()
		}
		return g.State(), nil
	}

	return g.step(sample)
}

// samplingError categorizes err as SAMPLING unless the sampler already did
func samplingError(err error) error {
	if rerrors.IsSampling(err) {
		return err
	}
	return rerrors.NewSamplingError(guardComponent, "sample", err)
}

// Evaluate advances the FSM with a sample supplied by the caller
func (g *OverloadGuard) Evaluate(sample ResourceSample) (GuardState, *Alert) {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()

	return g.step(sample)
}

// Run ticks the guard every Interval until ctx is cancelled. Each tick runs
// on a context detached from ctx, so a tick in flight at cancellation
// completes before Run returns.
func (g *OverloadGuard) Run(ctx context.Context) {
	tickCtx := context.WithoutCancel(ctx)
	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	g.logger.Guard("overload guard started: interval=%s level=%s cap=%d",
		g.config.Interval, g.Level(), g.MaxActiveInstruments())

	g.Sample(tickCtx)
	for {
		select {
		case <-ctx.Done():
			g.logger.Guard("overload guard stopped at level %s", g.Level())
			return
		case <-ticker.C:
			g.Sample(tickCtx)
		}
	}
}

func (g *OverloadGuard) sampleWithTimeout(ctx context.Context) (ResourceSample, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.SampleTimeout)
	defer cancel()

	type result struct {
		sample ResourceSample
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := g.sampler.Sample(ctx)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.sample.TakenAt.IsZero() {
			r.sample.TakenAt = g.now()
		}
		return r.sample, r.err
	case <-ctx.Done():
		return ResourceSample{}, fmt.Errorf("sample timed out after %s: %w", g.config.SampleTimeout, ctx.Err())
	}
}

// step applies one sample. The caller holds tickMu.
func (g *OverloadGuard) step(sample ResourceSample) (GuardState, *Alert) {
	if sample.TakenAt.IsZero() {
		sample.TakenAt = g.now()
	}
	if g.observer != nil {
		g.observer.ObserveGuardSample(sample)
	}

	g.mu.RLock()
	next := g.state
	g.mu.RUnlock()

	next.LastSample = sample
	next.HasSample = true

	breaches := overloadBreaches(sample, g.config.Reduce)
	var alert *Alert

	switch {
	case len(breaches) > 0:
		next.RecoveryStreak = 0
		if next.Level == LevelMinimal {
			next.OverloadStreak = 0
			break
		}
		next.OverloadStreak++
		if next.OverloadStreak >= g.config.EscalateAfter {
			alert = g.transition(&next, next.Level+1, AlertOverload, breaches, sample)
		}

	case belowRecover(sample, g.config.Recover):
		next.OverloadStreak = 0
		if next.Level == LevelNormal {
			next.RecoveryStreak = 0
			break
		}
		next.RecoveryStreak++
		if next.RecoveryStreak >= g.config.RecoverAfter {
			alert = g.transition(&next, next.Level-1, AlertRecovery, nil, sample)
		}

	default:
		// hysteresis band
		next.OverloadStreak = 0
		next.RecoveryStreak = 0
	}

	g.mu.Lock()
	g.state = next
	handler := g.onAlert
	g.mu.Unlock()

	g.logger.Debug("guard sample cpu=%.1f%% ram=%.1f%% lat=%.0fms level=%s overload_streak=%d recovery_streak=%d",
		sample.CPUPct, sample.RAMPct, sample.LatencyMs, next.Level, next.OverloadStreak, next.RecoveryStreak)

	if alert != nil {
		g.logger.LogGuardTransition(alert.From.String(), alert.To.String(), alert.Reason(), alert.MaxActiveInstruments)
		if g.observer != nil {
			g.observer.ObserveGuardTransition(*alert)
			g.observer.ObserveGuardLevel(alert.To, alert.MaxActiveInstruments)
		}
		if handler != nil {
			handler(*alert)
		}
	}

	return next, alert
}

func (g *OverloadGuard) transition(st *GuardState, to ThrottleLevel, kind AlertKind, breaches []string, sample ResourceSample) *Alert {
	from := st.Level
	st.Level = to
	st.LastChange = sample.TakenAt
	st.OverloadStreak = 0
	st.RecoveryStreak = 0

	return &Alert{
		Kind:                 kind,
		From:                 from,
		To:                   to,
		Breaches:             breaches,
		Sample:               sample,
		MaxActiveInstruments: g.config.Caps.For(to),
		At:                   sample.TakenAt,
	}
}

func overloadBreaches(s ResourceSample, reduce Thresholds) []string {
	var out []string
	if s.CPUPct > reduce.CPUPct {
		out = append(out, fmt.Sprintf("cpu=%.1f%% > %.1f%%", s.CPUPct, reduce.CPUPct))
	}
	if s.RAMPct > reduce.RAMPct {
		out = append(out, fmt.Sprintf("ram=%.1f%% > %.1f%%", s.RAMPct, reduce.RAMPct))
	}
	if s.LatencyMs > reduce.LatencyMs {
		out = append(out, fmt.Sprintf("latency=%.0fms > %.0fms", s.LatencyMs, reduce.LatencyMs))
	}
	return out
}

func belowRecover(s ResourceSample, recover Thresholds) bool {
	return s.CPUPct < recover.CPUPct && s.RAMPct < recover.RAMPct && s.LatencyMs < recover.LatencyMs
}
