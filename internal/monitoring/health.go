package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/safety"
)

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// GuardReader is the read side of the overload guard
type GuardReader interface {
	State() safety.GuardState
	MaxActiveInstruments() int
	SamplingFailures() uint64
}

// BreakerReader is the read side of a circuit breaker
type BreakerReader interface {
	GetState() safety.CircuitBreakerState
}

// LimiterReader is the read side of a token bucket
type LimiterReader interface {
	GetStats() safety.RateLimiterStats
}

// HealthChecker reports service health from the guard level, the last
// configuration reload and recent errors
type HealthChecker struct {
	guard      GuardReader
	errorStats *rerrors.ErrorStats
	startTime  time.Time
	now        func() time.Time

	mu           sync.RWMutex
	configError  string
	lastReload   time.Time
	breakers     map[string]BreakerReader
	alertLimiter LimiterReader
}

// HealthStatus is the /healthz response body
type HealthStatus struct {
	Status               string                   `json:"status"`
	Timestamp            time.Time                `json:"timestamp"`
	Uptime               string                   `json:"uptime"`
	GuardLevel           string                   `json:"guard_level"`
	MaxActiveInstruments int                      `json:"max_active_instruments"`
	SamplingFailures     uint64                   `json:"sampling_failures"`
	ConfigValid          bool                     `json:"config_valid"`
	ConfigError          string                   `json:"config_error,omitempty"`
	LastReload           time.Time                `json:"last_reload,omitempty"`
	Breakers             map[string]string        `json:"breakers,omitempty"`
	AlertBudget          *safety.RateLimiterStats `json:"alert_budget,omitempty"`
	Errors               []string                 `json:"errors,omitempty"`
}

// NewHealthChecker creates a health checker. errorStats may be nil.
func NewHealthChecker(guard GuardReader, errorStats *rerrors.ErrorStats) *HealthChecker {
	return &HealthChecker{
		guard:      guard,
		errorStats: errorStats,
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// SetConfigResult records the outcome of the latest configuration reload
func (h *HealthChecker) SetConfigResult(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastReload = h.now()
	if err != nil {
		h.configError = err.Error()
		return
	}
	h.configError = ""
}

// WatchBreaker reports b under name. An open breaker marks the service
// degraded.
func (h *HealthChecker) WatchBreaker(name string, b BreakerReader) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.breakers == nil {
		h.breakers = make(map[string]BreakerReader)
	}
	h.breakers[name] = b
}

// WatchAlertLimiter reports the remaining alert budget
func (h *HealthChecker) WatchAlertLimiter(l LimiterReader) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alertLimiter = l
}

// externalErrorThreshold is the number of recent EXTERNAL errors (exchange,
// journal, alert delivery) that marks the service degraded
const externalErrorThreshold = 3

// Check builds the current health status. MINIMAL or a failed reload is
// unhealthy; REDUCED, repeated external failures or an open breaker is
// degraded.
func (h *HealthChecker) Check() HealthStatus {
	h.mu.RLock()
	configError := h.configError
	lastReload := h.lastReload
	breakers := make(map[string]BreakerReader, len(h.breakers))
	for name, b := range h.breakers {
		breakers[name] = b
	}
	alertLimiter := h.alertLimiter
	h.mu.RUnlock()

	st := h.guard.State()
	status := HealthStatus{
		Status:               StatusHealthy,
		Timestamp:            h.now(),
		Uptime:               h.now().Sub(h.startTime).Round(time.Second).String(),
		GuardLevel:           st.Level.String(),
		MaxActiveInstruments: h.guard.MaxActiveInstruments(),
		SamplingFailures:     h.guard.SamplingFailures(),
		ConfigValid:          configError == "",
		ConfigError:          configError,
		LastReload:           lastReload,
	}
	breakerOpen := false
	if len(breakers) > 0 {
		status.Breakers = make(map[string]string, len(breakers))
		for name, b := range breakers {
			state := b.GetState()
			status.Breakers[name] = state.String()
			breakerOpen = breakerOpen || state == safety.StateOpen
		}
	}
	if alertLimiter != nil {
		stats := alertLimiter.GetStats()
		status.AlertBudget = &stats
	}

	externalFailing := false
	if h.errorStats != nil {
		status.Errors = h.errorStats.Recent()
		externalFailing = h.errorStats.HasRecentErrors(rerrors.ErrorCategoryExternal, externalErrorThreshold)
	}

	switch {
	case st.Level == safety.LevelMinimal || configError != "":
		status.Status = StatusUnhealthy
	case st.Level == safety.LevelReduced || externalFailing || breakerOpen:
		status.Status = StatusDegraded
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
