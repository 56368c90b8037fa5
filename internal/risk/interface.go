package risk

import "github.com/shopspring/decimal"

// RiskManager defines the interface for pre-trade risk management
type RiskManager interface {
	// CalculatePositionSize sizes an order from equity, price and volatility
	CalculatePositionSize(input SizingInput) (decimal.Decimal, error)

	// ValidateOrder checks live metrics against the given limits
	ValidateOrder(limits RiskLimits, metrics RiskMetrics) (Decision, error)

	// ProposeOrder sizes an order and validates its projected exposure
	ProposeOrder(limits RiskLimits, input SizingInput, account AccountContext) (*Proposal, error)
}

// Recorder receives sizing and validation outcomes, typically for metrics
type Recorder interface {
	ObserveSizing(outcome string)
	ObserveDecision(accepted bool, breached []string)
}
