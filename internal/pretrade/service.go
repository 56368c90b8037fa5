package pretrade

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyxium/dia-core/internal/config"
	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/instruments"
	"github.com/dyxium/dia-core/internal/journal"
	"github.com/dyxium/dia-core/internal/logger"
	"github.com/dyxium/dia-core/internal/risk"
	"github.com/dyxium/dia-core/internal/safety"
)

const serviceComponent = "pretrade"

// RejectionJournal persists rejected orders
type RejectionJournal interface {
	RecordRejection(ctx context.Context, r journal.Rejection) (journal.Rejection, error)
}

// SizeRequest asks for a position size. Policy and exchange constraints are
// looked up by symbol.
type SizeRequest struct {
	Symbol     string  `json:"symbol"`
	Equity     float64 `json:"equity"`
	Price      float64 `json:"price"`
	Volatility float64 `json:"atr"`
}

// SizeResult is a computed quantity with the inputs that produced it
type SizeResult struct {
	Symbol      string                  `json:"symbol"`
	Qty         decimal.Decimal         `json:"qty"`
	Notional    decimal.Decimal         `json:"notional"`
	Policy      config.SizingPolicy     `json:"policy"`
	Constraints instruments.Constraints `json:"constraints"`
}

// ValidateRequest checks a caller-supplied metrics snapshot
type ValidateRequest struct {
	Symbol  string           `json:"symbol"`
	Metrics risk.RiskMetrics `json:"metrics"`
}

// ProposeRequest sizes an order and validates it against the account state
type ProposeRequest struct {
	SizeRequest
	CurrentExposurePct float64 `json:"current_exposure_pct"`
	DailyLossPct       float64 `json:"daily_loss_pct"`
	DrawdownPct        float64 `json:"drawdown_pct"`
	OrdersLastMinute   int     `json:"orders_last_min"`
}

// ProposeResult is the sized order and its decision
type ProposeResult struct {
	Symbol               string          `json:"symbol"`
	Qty                  decimal.Decimal `json:"qty"`
	Notional             decimal.Decimal `json:"notional"`
	ProjectedExposurePct float64         `json:"projected_exposure_pct"`
	Accepted             bool            `json:"accepted"`
	Decision             risk.Decision   `json:"decision"`
	RejectionID          string          `json:"rejection_id,omitempty"`
}

// Service is the pre-trade entry point shared by the HTTP API and the CLI
type Service struct {
	limits      *config.LimitsStore
	constraints instruments.Provider
	manager     *risk.RiskManagerImpl
	validator   *safety.Validator
	orders      *safety.OrderRateWindow
	latency     *safety.LatencyTracker
	guard       *safety.OverloadGuard
	journal     RejectionJournal
	errorStats  *rerrors.ErrorStats
	logger      *logger.Logger

	mu         sync.Mutex
	lastActive []string
}

// Option configures optional collaborators
type Option func(*Service)

// WithJournal records rejected orders
func WithJournal(j RejectionJournal) Option {
	return func(s *Service) { s.journal = j }
}

// WithGuard enables active-set trimming by the overload guard
func WithGuard(g *safety.OverloadGuard) Option {
	return func(s *Service) { s.guard = g }
}

// WithLatencyTracker feeds reported loop latencies to the guard's sampler
func WithLatencyTracker(t *safety.LatencyTracker) Option {
	return func(s *Service) { s.latency = t }
}

// WithErrorStats counts service errors for the health check
func WithErrorStats(stats *rerrors.ErrorStats) Option {
	return func(s *Service) { s.errorStats = stats }
}

// NewService creates the pre-trade service
func NewService(limits *config.LimitsStore, constraints instruments.Provider, recorder risk.Recorder, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		limits:      limits,
		constraints: constraints,
		manager:     risk.NewRiskManager(log, recorder),
		validator:   safety.NewValidator(),
		orders:      safety.NewOrderRateWindow(time.Minute),
		logger:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the limits store
func (s *Service) Limits() *config.LimitsStore {
	return s.limits
}

// Size computes the position size for a symbol
func (s *Service) Size(ctx context.Context, req SizeRequest) (*SizeResult, error) {
	input, policy, c, err := s.buildInput(ctx, req)
	if err != nil {
		return nil, s.fail(err)
	}

	qty, err := s.manager.CalculatePositionSize(input)
	if err != nil {
		return nil, s.fail(rerrors.AddContext(err, "symbol", req.Symbol))
	}
	return &SizeResult{
		Symbol:      req.Symbol,
		Qty:         qty,
		Notional:    qty.Mul(input.Price),
		Policy:      policy,
		Constraints: c,
	}, nil
}

// Validate checks a metrics snapshot against the effective limits for the
// symbol. A rejection is a Decision, not an error.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (risk.Decision, error) {
	m := req.Metrics
	if r := s.validator.ValidateMetrics(map[string]float64{
		"current_exposure_pct":   m.CurrentExposurePct,
		"projected_exposure_pct": m.ProjectedExposurePct,
		"daily_loss_pct":         m.DailyLossPct,
		"drawdown_pct":           m.DrawdownPct,
		"orders_last_min":        float64(m.OrdersLastMinute),
	}); !r.Valid {
		return risk.Decision{}, s.fail(invalidRequest(r))
	}

	decision, err := s.manager.ValidateOrder(s.limits.LimitsFor(req.Symbol), m)
	if err != nil {
		return risk.Decision{}, s.fail(err)
	}
	if !decision.Accepted() {
		s.journalRejection(ctx, req.Symbol, "", "", m, decision)
	}
	return decision, nil
}

// Propose sizes an order and validates the exposure it would add. The order
// rate is the larger of the caller's count and the orders recorded here.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*ProposeResult, error) {
	input, _, _, err := s.buildInput(ctx, req.SizeRequest)
	if err != nil {
		return nil, s.fail(err)
	}
	if r := s.validator.ValidateMetrics(map[string]float64{
		"current_exposure_pct": req.CurrentExposurePct,
		"daily_loss_pct":       req.DailyLossPct,
		"drawdown_pct":         req.DrawdownPct,
		"orders_last_min":      float64(req.OrdersLastMinute),
	}); !r.Valid {
		return nil, s.fail(invalidRequest(r))
	}

	account := risk.AccountContext{
		CurrentExposurePct: req.CurrentExposurePct,
		DailyLossPct:       req.DailyLossPct,
		DrawdownPct:        req.DrawdownPct,
		OrdersLastMinute:   req.OrdersLastMinute,
	}
	if n := s.orders.Count(); n > account.OrdersLastMinute {
		account.OrdersLastMinute = n
	}

	proposal, err := s.manager.ProposeOrder(s.limits.LimitsFor(req.Symbol), input, account)
	if err != nil {
		return nil, s.fail(rerrors.AddContext(err, "symbol", req.Symbol))
	}

	result := &ProposeResult{
		Symbol:               req.Symbol,
		Qty:                  proposal.Qty,
		Notional:             proposal.Notional,
		ProjectedExposurePct: proposal.ProjectedExposurePct,
		Accepted:             proposal.Decision.Accepted(),
		Decision:             proposal.Decision,
	}
	if !result.Accepted {
		metrics := risk.RiskMetrics{
			CurrentExposurePct:   account.CurrentExposurePct,
			ProjectedExposurePct: proposal.ProjectedExposurePct,
			DailyLossPct:         account.DailyLossPct,
			DrawdownPct:          account.DrawdownPct,
			OrdersLastMinute:     account.OrdersLastMinute,
		}
		result.RejectionID = s.journalRejection(ctx, req.Symbol, proposal.Qty.String(), input.Price.String(), metrics, proposal.Decision)
	}
	return result, nil
}

// RecordOrder notes that an order was submitted, for the order-rate limit
func (s *Service) RecordOrder() int {
	s.orders.Record()
	return s.orders.Count()
}

// OrdersLastMinute returns the orders recorded in the last minute
func (s *Service) OrdersLastMinute() int {
	return s.orders.Count()
}

// ObserveLatency reports one decision-loop latency
func (s *Service) ObserveLatency(d time.Duration) error {
	if s.latency == nil {
		return rerrors.NewConfigurationError(serviceComponent, "observe_latency", "latency tracking is not enabled")
	}
	if d < 0 {
		return rerrors.NewConfigurationError(serviceComponent, "observe_latency", "latency must not be negative")
	}
	s.latency.Observe(d)
	return nil
}

// ActiveSet trims active to the guard's current instrument cap, dropping the
// configured low-priority symbols first. Without a guard it returns active.
func (s *Service) ActiveSet(active []string) (kept []string, maxActive int) {
	s.mu.Lock()
	s.lastActive = append([]string(nil), active...)
	s.mu.Unlock()

	if s.guard == nil {
		return append([]string(nil), active...), len(active)
	}
	maxActive = s.guard.MaxActiveInstruments()
	return safety.SelectActive(active, s.limits.Current().LowPriority(), maxActive), maxActive
}

// ActiveForAlert returns the last active set reported by the scheduler and
// what it trims to under the alert's instrument cap
func (s *Service) ActiveForAlert(a safety.Alert) (active, kept []string) {
	s.mu.Lock()
	active = append([]string(nil), s.lastActive...)
	s.mu.Unlock()

	if len(active) == 0 {
		return nil, nil
	}
	return active, safety.SelectActive(active, s.limits.Current().LowPriority(), a.MaxActiveInstruments)
}

func (s *Service) buildInput(ctx context.Context, req SizeRequest) (risk.SizingInput, config.SizingPolicy, instruments.Constraints, error) {
	policy := s.limits.SizingFor(req.Symbol)

	// exchange minimums come from the provider; the policy supplies the rest
	c, err := s.constraints.Constraints(ctx, req.Symbol)
	if err != nil {
		return risk.SizingInput{}, policy, c, rerrors.WrapError(err, rerrors.ErrorCategoryExternal, serviceComponent, "lookup_constraints").
			WithContext("symbol", req.Symbol)
	}

	minQty, _ := c.MinQty.Float64()
	minNotional, _ := c.MinNotional.Float64()
	if r := s.validator.ValidateSizingRequest(safety.SizingRequest{
		Symbol:          req.Symbol,
		Equity:          req.Equity,
		Price:           req.Price,
		Volatility:      req.Volatility,
		RiskPerTradePct: policy.RiskPerTradePct,
		VolMultiplier:   policy.KATR,
		MinQty:          minQty,
		MinNotional:     minNotional,
		QtyDecimals:     int(c.QtyDecimals),
	}); !r.Valid {
		return risk.SizingInput{}, policy, c, invalidRequest(r)
	}

	input := risk.SizingInput{
		Equity:          decimal.NewFromFloat(req.Equity),
		Price:           decimal.NewFromFloat(req.Price),
		Volatility:      decimal.NewFromFloat(req.Volatility),
		RiskPerTradePct: decimal.NewFromFloat(policy.RiskPerTradePct),
		VolMultiplier:   decimal.NewFromFloat(policy.KATR),
		MinQty:          c.MinQty,
		MinNotional:     c.MinNotional,
		QtyDecimals:     c.QtyDecimals,
	}
	return input, policy, c, nil
}

func (s *Service) journalRejection(ctx context.Context, symbol, qty, price string, m risk.RiskMetrics, d risk.Decision) string {
	if s.journal == nil {
		return ""
	}
	breaches := make([]string, 0, len(d.Breaches))
	for _, k := range d.Reasons() {
		breaches = append(breaches, string(k))
	}

	stored, err := s.journal.RecordRejection(ctx, journal.Rejection{
		Symbol:        symbol,
		Qty:           qty,
		Price:         price,
		Breaches:      breaches,
		ExposurePct:   m.ProjectedExposurePct,
		OrdersLastMin: m.OrdersLastMinute,
		DailyLossPct:  m.DailyLossPct,
		DrawdownPct:   m.DrawdownPct,
	})
	if err != nil {
		s.logger.LogError("journal rejection", err)
		return ""
	}
	return stored.ID
}

func (s *Service) fail(err error) error {
	if s.errorStats != nil {
		s.errorStats.RecordError(err)
	}
	return err
}

func invalidRequest(r safety.ValidationResult) error {
	return rerrors.NewConfigurationError(serviceComponent, "validate_request", r.Message).
		WithContext("code", r.Code)
}
