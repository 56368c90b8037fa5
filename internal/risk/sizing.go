package risk

import (
	"github.com/shopspring/decimal"

	rerrors "github.com/dyxium/dia-core/internal/errors"
)

const sizerComponent = "sizer"

var hundred = decimal.NewFromInt(100)

// ComputePositionSize converts equity, price and volatility into an order
// quantity that risks RiskPerTradePct of equity over a stop distance of
// Volatility*VolMultiplier.
//
// The raw quantity is always rounded down to QtyDecimals. min_qty is then
// applied, followed by a single min_notional correction. The result is
// either >= MinQty with notional >= MinNotional, or an error: CONFIG for
// invalid inputs, CONSTRAINT when both floors cannot be met.
func ComputePositionSize(in SizingInput) (decimal.Decimal, error) {
	if err := in.Validate(); err != nil {
		return decimal.Zero, err
	}

	risked := in.Equity.Mul(in.RiskPerTradePct).Div(hundred)
	if !risked.IsPositive() {
		return decimal.Zero, unsatisfiable("risked amount is zero", in, risked)
	}

	perUnitRisk := in.Volatility.Mul(in.VolMultiplier)
	if !perUnitRisk.IsPositive() {
		return decimal.Zero, rerrors.NewConfigurationError(sizerComponent, "compute", "per-unit risk must be positive").
			WithContext("per_unit_risk", perUnitRisk.String())
	}

	// truncated at QtyDecimals, never rounded up
	qty, _ := risked.QuoRem(perUnitRisk, in.QtyDecimals)

	if qty.LessThan(in.MinQty) {
		qty = in.MinQty
	}

	if qty.Mul(in.Price).LessThan(in.MinNotional) {
		// one corrective pass, no fixpoint iteration
		qty, _ = in.MinNotional.QuoRem(in.Price, in.QtyDecimals)
		if qty.LessThan(in.MinQty) || qty.Mul(in.Price).LessThan(in.MinNotional) {
			return decimal.Zero, unsatisfiable("min_qty and min_notional cannot both be met", in, qty)
		}
	}

	if !qty.IsPositive() {
		return decimal.Zero, unsatisfiable("quantity rounds to zero", in, qty)
	}

	return qty, nil
}

func unsatisfiable(msg string, in SizingInput, value decimal.Decimal) error {
	return rerrors.NewConstraintError(sizerComponent, "compute", "cannot satisfy constraints: "+msg).
		WithContext("value", value.String()).
		WithContext("min_qty", in.MinQty.String()).
		WithContext("min_notional", in.MinNotional.String()).
		WithContext("qty_decimals", in.QtyDecimals)
}
