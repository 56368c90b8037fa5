package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/risk"
	"github.com/dyxium/dia-core/internal/safety"
	"github.com/dyxium/dia-core/pkg/reporting"
)

// runSelftest replays the reference scenarios for sizing, validation and
// the overload guard against the compiled code
func runSelftest() []reporting.CheckResult {
	var results []reporting.CheckResult
	results = append(results, sizingChecks()...)
	results = append(results, validatorChecks()...)
	results = append(results, guardChecks()...)
	return results
}

func check(name, expected, actual string) reporting.CheckResult {
	return reporting.CheckResult{Name: name, Expected: expected, Actual: actual, Passed: expected == actual}
}

func sizingChecks() []reporting.CheckResult {
	sized := func(in risk.SizingInput) string {
		qty, err := risk.ComputePositionSize(in)
		if err != nil {
			return "error: " + string(rerrors.CategoryOf(err))
		}
		return qty.String()
	}

	return []reporting.CheckResult{
		check("size equity=1000 price=200 atr=5",
			"1", sized(risk.NewSizingInput(1000, 200, 5, 1, 2, 0.001, 10, 3))),
		check("size equity=100 price=50000 atr=500",
			"0.001", sized(risk.NewSizingInput(100, 50000, 500, 1, 2, 0.0001, 10, 4))),
		check("size min_notional unreachable",
			"error: "+string(rerrors.ErrorCategoryConstraint), sized(risk.NewSizingInput(1000, 3, 5, 1, 2, 1, 5, 0))),
		check("size zero price",
			"error: "+string(rerrors.ErrorCategoryConfiguration), sized(risk.NewSizingInput(1000, 0, 5, 1, 2, 0, 0, 3))),
	}
}

func validatorChecks() []reporting.CheckResult {
	limits := risk.RiskLimits{MaxExposurePct: 50, MaxOrdersPerMinute: 10, MaxDailyLossPct: 5, MaxDrawdownPct: 10}

	accept := risk.ValidateOrder(limits, risk.RiskMetrics{ProjectedExposurePct: 10})
	atLimit := risk.ValidateOrder(limits, risk.RiskMetrics{ProjectedExposurePct: 50})
	reject := risk.ValidateOrder(limits, risk.RiskMetrics{
		ProjectedExposurePct: 55,
		OrdersLastMinute:     10,
		DailyLossPct:         5,
		DrawdownPct:          12,
	})

	return []reporting.CheckResult{
		check("validate projected exposure 10%", "accept", accept.String()),
		check("validate exposure at limit", "accept", atLimit.String()),
		check("validate every limit breached", reasons(risk.AllLimitKinds), reasons(reject.Reasons())),
	}
}

func reasons(kinds []risk.LimitKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ",")
}

func guardChecks() []reporting.CheckResult {
	cfg := safety.DefaultGuardConfig()
	noSampler := safety.SamplerFunc(func(context.Context) (safety.ResourceSample, error) {
		return safety.ResourceSample{}, errors.New("unused")
	})

	hot := safety.ResourceSample{CPUPct: 95, RAMPct: 40, LatencyMs: 20}
	band := safety.ResourceSample{CPUPct: 80, RAMPct: 40, LatencyMs: 20}
	calm := safety.ResourceSample{CPUPct: 30, RAMPct: 40, LatencyMs: 20}

	run := func(samples ...safety.ResourceSample) string {
		g, err := safety.NewOverloadGuard(cfg, noSampler)
		if err != nil {
			return "error: " + err.Error()
		}
		for _, s := range samples {
			g.Evaluate(s)
		}
		return fmt.Sprintf("%s/%d", g.Level(), g.MaxActiveInstruments())
	}

	return []reporting.CheckResult{
		check("guard escalates after 3 overloaded samples",
			fmt.Sprintf("REDUCED/%d", cfg.Caps.Reduced), run(hot, hot, hot)),
		check("guard band sample resets the streak",
			fmt.Sprintf("NORMAL/%d", cfg.Caps.Normal), run(hot, hot, band, hot, hot)),
		check("guard reaches minimal",
			fmt.Sprintf("MINIMAL/%d", cfg.Caps.Minimal), run(hot, hot, hot, hot, hot, hot)),
		check("guard recovers one level at a time",
			fmt.Sprintf("REDUCED/%d", cfg.Caps.Reduced), run(hot, hot, hot, hot, hot, hot, calm, calm, calm)),
	}
}
