package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/dyxium/dia-core/internal/config"
	"github.com/dyxium/dia-core/internal/journal"
	"github.com/dyxium/dia-core/internal/pretrade"
	"github.com/dyxium/dia-core/internal/risk"
)

// CheckResult is one line of the self test
type CheckResult struct {
	Name     string
	Expected string
	Actual   string
	Passed   bool
}

// ConsoleReporter renders operator tables
type ConsoleReporter struct {
	out io.Writer
}

// NewConsoleReporter creates a reporter writing to out
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

func (r *ConsoleReporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintRiskFile prints the global limits, the guard settings and the
// per-symbol effective limits
func (r *ConsoleReporter) PrintRiskFile(rf *config.RiskFile) {
	t := r.newTable("RISK LIMITS")
	t.AppendRows([]table.Row{
		{"Source", valueOr(rf.Path(), "(defaults)")},
		{"Max exposure", pct(rf.Limits.MaxExposurePct)},
		{"Max orders / min", rf.Limits.MaxOrdersPerMinute},
		{"Max daily loss", pct(rf.Limits.MaxDailyLossPct)},
		{"Max drawdown", pct(rf.Limits.MaxDrawdownPct)},
		{"Risk per trade", pct(rf.Sizing.RiskPerTradePct)},
		{"k_atr", rf.Sizing.KATR},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, Align: text.AlignRight},
	})
	t.Render()

	g := rf.Guard
	t = r.newTable("OVERLOAD GUARD")
	t.AppendHeader(table.Row{"", "CPU %", "RAM %", "Latency ms"})
	t.AppendRows([]table.Row{
		{"Reduce above", g.Reduce.CPUPct, g.Reduce.RAMPct, g.Reduce.LatencyMs},
		{"Recover below", g.Recover.CPUPct, g.Recover.RAMPct, g.Recover.LatencyMs},
	})
	t.AppendFooter(table.Row{
		"Caps N/R/M", fmt.Sprintf("%d/%d/%d", g.Caps.Normal, g.Caps.Reduced, g.Caps.Minimal),
		fmt.Sprintf("escalate %d", g.EscalateAfter), fmt.Sprintf("recover %d", g.RecoverAfter),
	})
	t.Render()

	names := rf.SymbolNames()
	if len(names) == 0 {
		return
	}
	t = r.newTable("SYMBOLS")
	t.AppendHeader(table.Row{"Symbol", "Exposure", "Daily Loss", "Drawdown", "Min Qty", "Min Notional", "Decimals", "Low Prio"})
	for _, sym := range names {
		l := rf.LimitsFor(sym)
		p := rf.SizingFor(sym)
		t.AppendRow(table.Row{
			sym, pct(l.MaxExposurePct), pct(l.MaxDailyLossPct), pct(l.MaxDrawdownPct),
			p.MinQty, p.MinNotional, p.QtyDecimals, rf.Symbols[sym].LowPriority,
		})
	}
	t.Render()
}

// PrintSelftest prints the reference checks and returns the failure count
func (r *ConsoleReporter) PrintSelftest(results []CheckResult) int {
	t := r.newTable("SELF TEST")
	t.AppendHeader(table.Row{"Check", "Expected", "Actual", "Result"})

	failed := 0
	for _, res := range results {
		status := text.FgGreen.Sprint("PASS")
		if !res.Passed {
			status = text.FgRed.Sprint("FAIL")
			failed++
		}
		t.AppendRow(table.Row{res.Name, res.Expected, res.Actual, status})
	}
	t.AppendFooter(table.Row{"", "", "failed", failed})
	t.Render()
	return failed
}

// PrintSize prints a sizing result
func (r *ConsoleReporter) PrintSize(res *pretrade.SizeResult) {
	t := r.newTable("POSITION SIZE " + res.Symbol)
	t.AppendRows([]table.Row{
		{"Quantity", res.Qty.String()},
		{"Notional", res.Notional.StringFixed(2)},
		{"Risk per trade", pct(res.Policy.RiskPerTradePct)},
		{"k_atr", res.Policy.KATR},
		{"Min qty", res.Constraints.MinQty.String()},
		{"Min notional", res.Constraints.MinNotional.String()},
		{"Qty decimals", res.Constraints.QtyDecimals},
		{"Constraints from", res.Constraints.Source},
	})
	t.Render()
}

// PrintDecision prints an accept/reject decision with every breach
func (r *ConsoleReporter) PrintDecision(title string, d risk.Decision) {
	t := r.newTable(title)
	if d.Accepted() {
		t.AppendRow(table.Row{text.FgGreen.Sprint("ACCEPT"), "no limit breached"})
		t.Render()
		return
	}

	t.AppendHeader(table.Row{"Limit", "Observed", "Limit Value"})
	for _, b := range d.Breaches {
		observed, limit := pct(b.Observed), pct(b.Limit)
		if b.Kind == risk.LimitOrderRate {
			observed, limit = fmt.Sprintf("%d", int(b.Observed)), fmt.Sprintf("%d", int(b.Limit))
		}
		t.AppendRow(table.Row{text.FgRed.Sprint(string(b.Kind)), observed, limit})
	}
	t.AppendFooter(table.Row{"REJECT", "", fmt.Sprintf("%d breach(es)", len(d.Breaches))})
	t.Render()
}

// PrintTransitions prints journaled guard transitions
func (r *ConsoleReporter) PrintTransitions(transitions []journal.Transition) {
	t := r.newTable("GUARD TRANSITIONS")
	t.AppendHeader(table.Row{"Time", "Kind", "From", "To", "Max Active", "Reason"})
	for _, tr := range transitions {
		t.AppendRow(table.Row{tr.At.UTC().Format("2006-01-02 15:04:05"), tr.Kind, tr.From, tr.To, tr.MaxActive, tr.Reason})
	}
	t.Render()
}

// PrintRejections prints journaled rejected orders
func (r *ConsoleReporter) PrintRejections(rejections []journal.Rejection) {
	t := r.newTable("REJECTED ORDERS")
	t.AppendHeader(table.Row{"Time", "Symbol", "Qty", "Price", "Breaches"})
	for _, rej := range rejections {
		t.AppendRow(table.Row{
			rej.At.UTC().Format("2006-01-02 15:04:05"), rej.Symbol,
			valueOr(rej.Qty, "-"), valueOr(rej.Price, "-"), strings.Join(rej.Breaches, ", "),
		})
	}
	t.Render()
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
