package monitoring

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dyxium/dia-core/internal/risk"
	"github.com/dyxium/dia-core/internal/safety"
)

// Metrics holds the risk core's Prometheus collectors. It implements
// risk.Recorder and safety.GuardObserver.
type Metrics struct {
	registry *prometheus.Registry

	sizingTotal        *prometheus.CounterVec
	decisionsTotal     *prometheus.CounterVec
	breachesTotal      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	samplingFailures   prometheus.Counter
	guardLevel         prometheus.Gauge
	maxInstruments     prometheus.Gauge
	resourceUsage      *prometheus.GaugeVec
	instrumentFallback *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
}

var (
	_ risk.Recorder        = (*Metrics)(nil)
	_ safety.GuardObserver = (*Metrics)(nil)
)

// NewMetrics creates the collectors on a fresh registry that also carries
// the Go runtime and process collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		sizingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dia_core_sizing_total",
				Help: "Position sizing calls by outcome",
			},
			[]string{"outcome"},
		),
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dia_core_order_decisions_total",
				Help: "Pre-trade validation decisions",
			},
			[]string{"result"},
		),
		breachesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dia_core_limit_breaches_total",
				Help: "Breached limits across rejected orders",
			},
			[]string{"limit"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dia_core_guard_transitions_total",
				Help: "Overload guard level changes",
			},
			[]string{"direction"},
		),
		samplingFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dia_core_guard_sampling_failures_total",
				Help: "Resource samples that failed or timed out",
			},
		),
		guardLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dia_core_guard_level",
				Help: "Current throttle level (0 normal, 1 reduced, 2 minimal)",
			},
		),
		maxInstruments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dia_core_guard_max_instruments",
				Help: "Maximum number of instruments allowed at the current level",
			},
		),
		resourceUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dia_core_resource_usage",
				Help: "Last sampled resource usage (cpu and ram in percent, latency in ms)",
			},
			[]string{"resource"},
		),
		instrumentFallback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dia_core_instrument_fallbacks_total",
				Help: "Instrument constraint lookups served from the static configuration",
			},
			[]string{"symbol"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dia_core_alerts_total",
				Help: "Guard alerts by delivery status",
			},
			[]string{"status"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dia_core_errors_total",
				Help: "Errors by category",
			},
			[]string{"category"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sizingTotal,
		m.decisionsTotal,
		m.breachesTotal,
		m.transitionsTotal,
		m.samplingFailures,
		m.guardLevel,
		m.maxInstruments,
		m.resourceUsage,
		m.instrumentFallback,
		m.alertsTotal,
		m.errorsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSizing implements risk.Recorder
func (m *Metrics) ObserveSizing(outcome string) {
	m.sizingTotal.WithLabelValues(outcome).Inc()
}

// ObserveDecision implements risk.Recorder
func (m *Metrics) ObserveDecision(accepted bool, breached []string) {
	if accepted {
		m.decisionsTotal.WithLabelValues("accept").Inc()
		return
	}
	m.decisionsTotal.WithLabelValues("reject").Inc()
	for _, limit := range breached {
		m.breachesTotal.WithLabelValues(limit).Inc()
	}
}

// ObserveGuardSample implements safety.GuardObserver
func (m *Metrics) ObserveGuardSample(sample safety.ResourceSample) {
	m.resourceUsage.WithLabelValues("cpu").Set(sample.CPUPct)
	m.resourceUsage.WithLabelValues("ram").Set(sample.RAMPct)
	m.resourceUsage.WithLabelValues("latency").Set(sample.LatencyMs)
}

// ObserveGuardLevel implements safety.GuardObserver
func (m *Metrics) ObserveGuardLevel(level safety.ThrottleLevel, maxInstruments int) {
	m.guardLevel.Set(float64(level))
	m.maxInstruments.Set(float64(maxInstruments))
}

// ObserveGuardTransition implements safety.GuardObserver
func (m *Metrics) ObserveGuardTransition(alert safety.Alert) {
	direction := "escalate"
	if alert.Kind == safety.AlertRecovery {
		direction = "recover"
	}
	m.transitionsTotal.WithLabelValues(direction).Inc()
}

// ObserveSamplingFailure implements safety.GuardObserver
func (m *Metrics) ObserveSamplingFailure() {
	m.samplingFailures.Inc()
}

// RecordInstrumentFallback counts a static constraint fallback
func (m *Metrics) RecordInstrumentFallback(symbol string) {
	m.instrumentFallback.WithLabelValues(symbol).Inc()
}

// RecordAlert counts an alert delivery attempt (sent, dropped, failed)
func (m *Metrics) RecordAlert(status string) {
	m.alertsTotal.WithLabelValues(status).Inc()
}

// RecordError records an error metric
func (m *Metrics) RecordError(category string) {
	m.errorsTotal.WithLabelValues(strings.ToLower(category)).Inc()
}
