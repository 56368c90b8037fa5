package risk

import "math"

const validatorComponent = "validator"

// ValidateOrder evaluates every limit and returns the full set of breaches.
// Exposure uses a strict comparison so the limit itself is reachable; the
// rate, daily loss and drawdown limits are hard ceilings and trigger on
// equality. A NaN or infinite metric breaches its limit. The function only
// reads its arguments.
func ValidateOrder(limits RiskLimits, metrics RiskMetrics) Decision {
	var breaches []Breach

	if !finite(metrics.ProjectedExposurePct) || metrics.ProjectedExposurePct > limits.MaxExposurePct {
		breaches = append(breaches, Breach{
			Kind:     LimitExposure,
			Observed: metrics.ProjectedExposurePct,
			Limit:    limits.MaxExposurePct,
		})
	}

	if metrics.OrdersLastMinute >= limits.MaxOrdersPerMinute {
		breaches = append(breaches, Breach{
			Kind:     LimitOrderRate,
			Observed: float64(metrics.OrdersLastMinute),
			Limit:    float64(limits.MaxOrdersPerMinute),
		})
	}

	if !finite(metrics.DailyLossPct) || metrics.DailyLossPct >= limits.MaxDailyLossPct {
		breaches = append(breaches, Breach{
			Kind:     LimitDailyLoss,
			Observed: metrics.DailyLossPct,
			Limit:    limits.MaxDailyLossPct,
		})
	}

	if !finite(metrics.DrawdownPct) || metrics.DrawdownPct >= limits.MaxDrawdownPct {
		breaches = append(breaches, Breach{
			Kind:     LimitDrawdown,
			Observed: metrics.DrawdownPct,
			Limit:    limits.MaxDrawdownPct,
		})
	}

	return Decision{Breaches: breaches}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
