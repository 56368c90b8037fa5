package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	rerrors "github.com/dyxium/dia-core/internal/errors"
)

// SizingInput holds everything the sizer needs for one candidate order.
// Monetary, price and volatility values are decimals so rounding to the
// exchange's quantity precision is exact.
type SizingInput struct {
	Equity          decimal.Decimal // account equity, account currency
	Price           decimal.Decimal // quote currency per unit
	Volatility      decimal.Decimal // e.g. average true range, price units
	RiskPerTradePct decimal.Decimal // percent of equity risked per trade, (0, 100]
	VolMultiplier   decimal.Decimal // stop distance = Volatility * VolMultiplier
	MinQty          decimal.Decimal // exchange minimum order quantity
	MinNotional     decimal.Decimal // exchange minimum order value
	QtyDecimals     int32           // quantity precision
}

// NewSizingInput builds a SizingInput from float values as they usually come
// out of config and market snapshots.
func NewSizingInput(equity, price, volatility, riskPerTradePct, volMultiplier, minQty, minNotional float64, qtyDecimals int32) SizingInput {
	return SizingInput{
		Equity:          decimal.NewFromFloat(equity),
		Price:           decimal.NewFromFloat(price),
		Volatility:      decimal.NewFromFloat(volatility),
		RiskPerTradePct: decimal.NewFromFloat(riskPerTradePct),
		VolMultiplier:   decimal.NewFromFloat(volMultiplier),
		MinQty:          decimal.NewFromFloat(minQty),
		MinNotional:     decimal.NewFromFloat(minNotional),
		QtyDecimals:     qtyDecimals,
	}
}

// Validate reports a configuration error for inputs the sizer must never
// silently accept.
func (in SizingInput) Validate() error {
	fail := func(field, msg string, value interface{}) error {
		return rerrors.NewConfigurationError(sizerComponent, "validate_input", msg).
			WithContext(field, value)
	}

	switch {
	case !in.Price.IsPositive():
		return fail("price", "price must be positive", in.Price.String())
	case !in.Volatility.IsPositive():
		return fail("volatility", "volatility must be positive", in.Volatility.String())
	case in.Equity.IsNegative():
		return fail("equity", "equity must not be negative", in.Equity.String())
	case !in.RiskPerTradePct.IsPositive() || in.RiskPerTradePct.GreaterThan(decimal.NewFromInt(100)):
		return fail("risk_per_trade_pct", "risk per trade must be in (0, 100]", in.RiskPerTradePct.String())
	case !in.VolMultiplier.IsPositive():
		return fail("k_atr", "volatility multiplier must be positive", in.VolMultiplier.String())
	case in.MinQty.IsNegative():
		return fail("min_qty", "min_qty must not be negative", in.MinQty.String())
	case in.MinNotional.IsNegative():
		return fail("min_notional", "min_notional must not be negative", in.MinNotional.String())
	case in.QtyDecimals < 0:
		return fail("qty_decimals", "qty_decimals must not be negative", in.QtyDecimals)
	}
	return nil
}

// RiskMetrics is a snapshot of live portfolio risk, sampled once per
// validation call by the external metrics supplier.
type RiskMetrics struct {
	CurrentExposurePct   float64 `json:"current_exposure_pct"`
	ProjectedExposurePct float64 `json:"projected_exposure_pct"`
	DailyLossPct         float64 `json:"daily_loss_pct"`
	DrawdownPct          float64 `json:"drawdown_pct"`
	OrdersLastMinute     int     `json:"orders_last_min"`
}

// RiskLimits are the configured hard limits checked before every order.
type RiskLimits struct {
	MaxExposurePct     float64 `yaml:"max_exposure_pct" json:"max_exposure_pct"`
	MaxOrdersPerMinute int     `yaml:"max_orders_per_min" json:"max_orders_per_min"`
	MaxDailyLossPct    float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxDrawdownPct     float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
}

// Validate reports inconsistent limits as a configuration error
func (l RiskLimits) Validate() error {
	var problems []string
	if l.MaxExposurePct <= 0 {
		problems = append(problems, "max_exposure_pct must be positive")
	}
	if l.MaxOrdersPerMinute < 1 {
		problems = append(problems, "max_orders_per_min must be at least 1")
	}
	if l.MaxDailyLossPct <= 0 || l.MaxDailyLossPct > 100 {
		problems = append(problems, "max_daily_loss_pct must be in (0, 100]")
	}
	if l.MaxDrawdownPct <= 0 || l.MaxDrawdownPct > 100 {
		problems = append(problems, "max_drawdown_pct must be in (0, 100]")
	}
	if len(problems) == 0 {
		return nil
	}
	return rerrors.NewConfigurationError(validatorComponent, "validate_limits", strings.Join(problems, "; "))
}

// LimitKind identifies which configured limit an order breached
type LimitKind string

const (
	LimitExposure  LimitKind = "max_exposure_pct"
	LimitOrderRate LimitKind = "max_orders_per_min"
	LimitDailyLoss LimitKind = "max_daily_loss_pct"
	LimitDrawdown  LimitKind = "max_drawdown_pct"
)

// AllLimitKinds lists the kinds in evaluation order
var AllLimitKinds = []LimitKind{LimitExposure, LimitOrderRate, LimitDailyLoss, LimitDrawdown}

// Breach records one violated limit with the observed value
type Breach struct {
	Kind     LimitKind `json:"kind"`
	Observed float64   `json:"observed"`
	Limit    float64   `json:"limit"`
}

func (b Breach) String() string {
	op := ">="
	if b.Kind == LimitExposure {
		op = ">"
	}
	if b.Kind == LimitOrderRate {
		return fmt.Sprintf("%s %d %s %d", b.Kind, int(b.Observed), op, int(b.Limit))
	}
	return fmt.Sprintf("%s %.2f%% %s %.2f%%", b.Kind, b.Observed, op, b.Limit)
}

// Decision is the validator outcome. An empty breach set means accept.
type Decision struct {
	Breaches []Breach `json:"breaches"`
}

// Accepted reports whether the order may be submitted
func (d Decision) Accepted() bool {
	return len(d.Breaches) == 0
}

// Reasons returns the set of breached limit kinds in evaluation order
func (d Decision) Reasons() []LimitKind {
	kinds := make([]LimitKind, 0, len(d.Breaches))
	for _, b := range d.Breaches {
		kinds = append(kinds, b.Kind)
	}
	return kinds
}

// Has reports whether kind is among the breaches
func (d Decision) Has(kind LimitKind) bool {
	for _, b := range d.Breaches {
		if b.Kind == kind {
			return true
		}
	}
	return false
}

// Err converts a rejection into a LIMIT_BREACH error; nil when accepted.
func (d Decision) Err() error {
	if d.Accepted() {
		return nil
	}
	kinds := make([]string, 0, len(d.Breaches))
	for _, k := range d.Reasons() {
		kinds = append(kinds, string(k))
	}
	return rerrors.NewLimitBreachError(validatorComponent, "validate_order", d.String()).
		WithContext("limits", strings.Join(kinds, ","))
}

func (d Decision) String() string {
	if d.Accepted() {
		return "accept"
	}
	parts := make([]string, 0, len(d.Breaches))
	for _, b := range d.Breaches {
		parts = append(parts, b.String())
	}
	return "reject: " + strings.Join(parts, "; ")
}
