package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/risk"
	"github.com/dyxium/dia-core/internal/safety"
)

const configComponent = "config"

// Limits applied to a symbol missing from the symbols section. They only
// ever tighten the global limits.
const (
	UnknownSymbolMaxDrawdownPct = 15.0
	UnknownSymbolMaxExposurePct = 20.0
)

// SizingPolicy is the per-trade sizing policy plus static exchange
// constraints used when the live instrument lookup is disabled or down
type SizingPolicy struct {
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct" json:"risk_per_trade_pct"`
	KATR            float64 `yaml:"k_atr" json:"k_atr"`
	MinQty          float64 `yaml:"min_qty" json:"min_qty"`
	MinNotional     float64 `yaml:"min_notional" json:"min_notional"`
	QtyDecimals     int     `yaml:"qty_decimals" json:"qty_decimals"`
}

// SymbolOverride tightens or relaxes the global settings for one symbol.
// Nil fields inherit.
type SymbolOverride struct {
	MaxExposurePct  *float64 `yaml:"max_exposure_pct"`
	MaxDrawdownPct  *float64 `yaml:"max_drawdown_pct"`
	MaxDailyLossPct *float64 `yaml:"max_daily_loss_pct"`
	RiskPerTradePct *float64 `yaml:"risk_per_trade_pct"`
	KATR            *float64 `yaml:"k_atr"`
	MinQty          *float64 `yaml:"min_qty"`
	MinNotional     *float64 `yaml:"min_notional"`
	QtyDecimals     *int     `yaml:"qty_decimals"`
	LowPriority     bool     `yaml:"low_priority"`
}

// RiskFile is the YAML risk configuration
type RiskFile struct {
	Limits  risk.RiskLimits           `yaml:"limits"`
	Sizing  SizingPolicy              `yaml:"sizing"`
	Symbols map[string]SymbolOverride `yaml:"symbols"`
	Guard   safety.GuardConfig        `yaml:"guard"`

	path string
}

// DefaultRiskFile returns the defaults every loaded file starts from
func DefaultRiskFile() *RiskFile {
	return &RiskFile{
		Limits: risk.RiskLimits{
			MaxExposurePct:     50,
			MaxOrdersPerMinute: 10,
			MaxDailyLossPct:    5,
			MaxDrawdownPct:     10,
		},
		Sizing: SizingPolicy{
			RiskPerTradePct: 1,
			KATR:            2,
			MinQty:          0,
			MinNotional:     5,
			QtyDecimals:     6,
		},
		Symbols: map[string]SymbolOverride{},
		Guard:   safety.DefaultGuardConfig(),
	}
}

// LoadRiskFile reads and validates the YAML risk file. Fields missing from
// the file keep their defaults.
func LoadRiskFile(path string) (*RiskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rerrors.WrapError(err, rerrors.ErrorCategoryConfiguration, configComponent, "load_risk_file").
			WithContext("path", path)
	}

	rf, err := ParseRiskFile(data)
	if err != nil {
		return nil, err
	}
	rf.path = path
	return rf, nil
}

// ParseRiskFile decodes YAML on top of the defaults and validates it
func ParseRiskFile(data []byte) (*RiskFile, error) {
	rf := DefaultRiskFile()
	if err := yaml.Unmarshal(data, rf); err != nil {
		return nil, rerrors.WrapError(err, rerrors.ErrorCategoryConfiguration, configComponent, "parse_risk_file")
	}
	if rf.Symbols == nil {
		rf.Symbols = map[string]SymbolOverride{}
	}

	applyEnvOverrides(rf)

	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return rf, nil
}

// applyEnvOverrides lets operators tighten the global limits without editing
// the file
func applyEnvOverrides(rf *RiskFile) {
	rf.Limits.MaxExposurePct = getEnvFloat("DIA_MAX_EXPOSURE_PCT", rf.Limits.MaxExposurePct)
	rf.Limits.MaxOrdersPerMinute = getEnvInt("DIA_MAX_ORDERS_PER_MIN", rf.Limits.MaxOrdersPerMinute)
	rf.Limits.MaxDailyLossPct = getEnvFloat("DIA_MAX_DAILY_LOSS_PCT", rf.Limits.MaxDailyLossPct)
	rf.Limits.MaxDrawdownPct = getEnvFloat("DIA_MAX_DRAWDOWN_PCT", rf.Limits.MaxDrawdownPct)
}

// Path returns the file the configuration was loaded from, if any
func (rf *RiskFile) Path() string {
	return rf.path
}

// Validate reports every inconsistency as one CONFIG error
func (rf *RiskFile) Validate() error {
	var problems []string

	if err := rf.Limits.Validate(); err != nil {
		problems = append(problems, "limits: "+messageOf(err))
	}
	if err := rf.Sizing.validate(); err != nil {
		problems = append(problems, "sizing: "+err.Error())
	}
	if err := rf.Guard.Validate(); err != nil {
		problems = append(problems, "guard: "+messageOf(err))
	}

	for _, sym := range rf.SymbolNames() {
		if err := rf.LimitsFor(sym).Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("symbols.%s: %s", sym, messageOf(err)))
		}
		if err := rf.SizingFor(sym).validate(); err != nil {
			problems = append(problems, fmt.Sprintf("symbols.%s: %s", sym, err))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return configError("validate_risk_file", strings.Join(problems, "; "))
}

// SymbolNames returns the configured symbols in sorted order
func (rf *RiskFile) SymbolNames() []string {
	names := make([]string, 0, len(rf.Symbols))
	for sym := range rf.Symbols {
		names = append(names, sym)
	}
	sort.Strings(names)
	return names
}

// LimitsFor returns the effective limits for symbol. An empty symbol gets
// the global limits; a symbol without an override gets the global limits
// tightened to the unknown-symbol defaults.
func (rf *RiskFile) LimitsFor(symbol string) risk.RiskLimits {
	limits := rf.Limits
	if symbol == "" {
		return limits
	}

	o, ok := rf.Symbols[symbol]
	if !ok {
		limits.MaxExposurePct = minFloat(limits.MaxExposurePct, UnknownSymbolMaxExposurePct)
		limits.MaxDrawdownPct = minFloat(limits.MaxDrawdownPct, UnknownSymbolMaxDrawdownPct)
		return limits
	}

	if o.MaxExposurePct != nil {
		limits.MaxExposurePct = *o.MaxExposurePct
	}
	if o.MaxDrawdownPct != nil {
		limits.MaxDrawdownPct = *o.MaxDrawdownPct
	}
	if o.MaxDailyLossPct != nil {
		limits.MaxDailyLossPct = *o.MaxDailyLossPct
	}
	return limits
}

// SizingFor returns the effective sizing policy for symbol
func (rf *RiskFile) SizingFor(symbol string) SizingPolicy {
	policy := rf.Sizing
	o, ok := rf.Symbols[symbol]
	if !ok {
		return policy
	}

	if o.RiskPerTradePct != nil {
		policy.RiskPerTradePct = *o.RiskPerTradePct
	}
	if o.KATR != nil {
		policy.KATR = *o.KATR
	}
	if o.MinQty != nil {
		policy.MinQty = *o.MinQty
	}
	if o.MinNotional != nil {
		policy.MinNotional = *o.MinNotional
	}
	if o.QtyDecimals != nil {
		policy.QtyDecimals = *o.QtyDecimals
	}
	return policy
}

// LowPriority returns the symbols flagged low_priority, sorted
func (rf *RiskFile) LowPriority() []string {
	var out []string
	for _, sym := range rf.SymbolNames() {
		if rf.Symbols[sym].LowPriority {
			out = append(out, sym)
		}
	}
	return out
}

func (p SizingPolicy) validate() error {
	switch {
	case p.RiskPerTradePct <= 0 || p.RiskPerTradePct > 100:
		return fmt.Errorf("risk_per_trade_pct must be in (0, 100]")
	case p.KATR <= 0:
		return fmt.Errorf("k_atr must be positive")
	case p.MinQty < 0 || p.MinNotional < 0:
		return fmt.Errorf("min_qty and min_notional must not be negative")
	case p.QtyDecimals < 0:
		return fmt.Errorf("qty_decimals must not be negative")
	}
	return nil
}

func configError(op, msg string) error {
	return rerrors.NewConfigurationError(configComponent, op, msg)
}

func messageOf(err error) string {
	var re *rerrors.RiskError
	if stderrors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
