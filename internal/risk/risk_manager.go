package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/logger"
)

// AccountContext is the live account state used when proposing an order
type AccountContext struct {
	CurrentExposurePct float64
	DailyLossPct       float64
	DrawdownPct        float64
	OrdersLastMinute   int
}

// Proposal is a sized order together with its pre-trade decision
type Proposal struct {
	Qty                  decimal.Decimal
	Notional             decimal.Decimal
	ProjectedExposurePct float64
	Decision             Decision
}

// RiskManagerImpl wires the pure sizer and validator to logging and metrics
type RiskManagerImpl struct {
	logger   *logger.Logger
	recorder Recorder
}

// NewRiskManager creates a new risk manager instance. Both arguments may be nil.
func NewRiskManager(log *logger.Logger, recorder Recorder) *RiskManagerImpl {
	return &RiskManagerImpl{
		logger:   log,
		recorder: recorder,
	}
}

var _ RiskManager = (*RiskManagerImpl)(nil)

// CalculatePositionSize sizes an order and records the outcome
func (rm *RiskManagerImpl) CalculatePositionSize(input SizingInput) (decimal.Decimal, error) {
	qty, err := ComputePositionSize(input)
	if err != nil {
		rm.observeSizing(err)
		rm.logger.Sizing("sizing failed: %v", err)
		return decimal.Zero, err
	}

	rm.observeSizing(nil)
	rm.logger.Sizing("qty=%s price=%s notional=%s", qty, input.Price, qty.Mul(input.Price))
	return qty, nil
}

// ValidateOrder validates the limits themselves, then the metrics against them.
// A rejection is returned as a Decision, not as an error.
func (rm *RiskManagerImpl) ValidateOrder(limits RiskLimits, metrics RiskMetrics) (Decision, error) {
	if err := limits.Validate(); err != nil {
		rm.logger.LogError("validate order", err)
		return Decision{}, err
	}

	decision := ValidateOrder(limits, metrics)
	if rm.recorder != nil {
		breached := make([]string, 0, len(decision.Breaches))
		for _, k := range decision.Reasons() {
			breached = append(breached, string(k))
		}
		rm.recorder.ObserveDecision(decision.Accepted(), breached)
	}

	if decision.Accepted() {
		rm.logger.Decision("accept projected_exposure=%.2f%% orders_last_min=%d",
			metrics.ProjectedExposurePct, metrics.OrdersLastMinute)
	} else {
		rm.logger.Decision("%s", decision)
	}
	return decision, nil
}

// ProposeOrder sizes the order, projects the exposure it would add and runs
// the validator on the result.
func (rm *RiskManagerImpl) ProposeOrder(limits RiskLimits, input SizingInput, account AccountContext) (*Proposal, error) {
	qty, err := rm.CalculatePositionSize(input)
	if err != nil {
		return nil, err
	}

	notional := qty.Mul(input.Price)
	addedPct, _ := notional.Div(input.Equity).Mul(hundred).Float64()
	projected := account.CurrentExposurePct + addedPct

	decision, err := rm.ValidateOrder(limits, RiskMetrics{
		CurrentExposurePct:   account.CurrentExposurePct,
		ProjectedExposurePct: projected,
		DailyLossPct:         account.DailyLossPct,
		DrawdownPct:          account.DrawdownPct,
		OrdersLastMinute:     account.OrdersLastMinute,
	})
	if err != nil {
		return nil, err
	}

	return &Proposal{
		Qty:                  qty,
		Notional:             notional,
		ProjectedExposurePct: projected,
		Decision:             decision,
	}, nil
}

func (rm *RiskManagerImpl) observeSizing(err error) {
	if rm.recorder == nil {
		return
	}
	if err == nil {
		rm.recorder.ObserveSizing("ok")
		return
	}
	rm.recorder.ObserveSizing(strings.ToLower(string(rerrors.CategoryOf(err))))
}
