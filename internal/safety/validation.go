package safety

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Error returns the message of a failed result
func (r ValidationResult) Error() string {
	return r.Message
}

// Validator checks raw numbers arriving from the trading loop, the HTTP API
// or the CLI before they are converted to decimals. decimal.NewFromFloat
// panics on NaN and infinities, so every float must pass through here first.
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Message: fmt.Sprintf(format, args...), Code: code}
}

// ValidateFinite rejects NaN and infinite values
func (v *Validator) ValidateFinite(value float64, field string) ValidationResult {
	if math.IsNaN(value) {
		return invalid("NOT_A_NUMBER", "%s is NaN", field)
	}
	if math.IsInf(value, 0) {
		return invalid("INFINITE", "%s is infinite", field)
	}
	return ValidationResult{Valid: true}
}

// ValidatePositive requires a finite value strictly above zero
func (v *Validator) ValidatePositive(value float64, field string) ValidationResult {
	if r := v.ValidateFinite(value, field); !r.Valid {
		return r
	}
	if value <= 0 {
		return invalid("NOT_POSITIVE", "%s must be positive, got %g", field, value)
	}
	return ValidationResult{Valid: true}
}

// ValidateNonNegative requires a finite value at or above zero
func (v *Validator) ValidateNonNegative(value float64, field string) ValidationResult {
	if r := v.ValidateFinite(value, field); !r.Valid {
		return r
	}
	if value < 0 {
		return invalid("NEGATIVE", "%s must not be negative, got %g", field, value)
	}
	return ValidationResult{Valid: true}
}

// ValidatePrice validates a price value, including sanity bounds that catch
// obvious feed errors
func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	if r := v.ValidatePositive(price, "price"); !r.Valid {
		return r
	}
	if price > 1e10 {
		return invalid("PRICE_OUT_OF_BOUNDS", "suspicious price %.8f for %s: exceeds reasonable bounds", price, symbol)
	}
	if price < 1e-8 {
		return invalid("PRICE_TOO_SMALL", "suspicious price %.8f for %s: below reasonable bounds", price, symbol)
	}
	return ValidationResult{Valid: true}
}

// ValidatePercentageRange validates a percentage is within [min, max]
func (v *Validator) ValidatePercentageRange(percentage, min, max float64, field string) ValidationResult {
	if r := v.ValidateFinite(percentage, field); !r.Valid {
		return r
	}
	if percentage < min || percentage > max {
		return invalid("PERCENTAGE_OUT_OF_RANGE", "%s %.4f%% outside [%.2f%%, %.2f%%]", field, percentage, min, max)
	}
	return ValidationResult{Valid: true}
}

// ValidateQtyDecimals validates a quantity precision
func (v *Validator) ValidateQtyDecimals(decimals int) ValidationResult {
	if decimals < 0 || decimals > 18 {
		return invalid("INVALID_PRECISION", "qty_decimals must be in [0, 18], got %d", decimals)
	}
	return ValidationResult{Valid: true}
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// ValidateSymbol validates a trading symbol format such as BTCUSDT
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	if strings.TrimSpace(symbol) == "" {
		return invalid("EMPTY_SYMBOL", "symbol cannot be empty")
	}
	if !symbolPattern.MatchString(symbol) {
		return invalid("INVALID_SYMBOL_FORMAT", "invalid symbol format: %s", symbol)
	}
	return ValidationResult{Valid: true}
}

// SizingRequest is the float form of a sizing call before decimal conversion
type SizingRequest struct {
	Symbol          string  `json:"symbol,omitempty"`
	Equity          float64 `json:"equity"`
	Price           float64 `json:"price"`
	Volatility      float64 `json:"atr"`
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`
	VolMultiplier   float64 `json:"k_atr"`
	MinQty          float64 `json:"min_qty"`
	MinNotional     float64 `json:"min_notional"`
	QtyDecimals     int     `json:"qty_decimals"`
}

// ValidateSizingRequest runs every field check and returns the first failure
func (v *Validator) ValidateSizingRequest(req SizingRequest) ValidationResult {
	checks := []ValidationResult{
		v.ValidateNonNegative(req.Equity, "equity"),
		v.ValidatePrice(req.Price, req.Symbol),
		v.ValidatePositive(req.Volatility, "atr"),
		v.ValidatePercentageRange(req.RiskPerTradePct, 0, 100, "risk_per_trade_pct"),
		v.ValidatePositive(req.VolMultiplier, "k_atr"),
		v.ValidateNonNegative(req.MinQty, "min_qty"),
		v.ValidateNonNegative(req.MinNotional, "min_notional"),
		v.ValidateQtyDecimals(req.QtyDecimals),
	}
	if req.Symbol != "" {
		checks = append(checks, v.ValidateSymbol(req.Symbol))
	}
	for _, r := range checks {
		if !r.Valid {
			return r
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateMetrics checks a metrics snapshot supplied by the caller
func (v *Validator) ValidateMetrics(values map[string]float64) ValidationResult {
	for field, value := range values {
		if r := v.ValidateNonNegative(value, field); !r.Valid {
			return r
		}
	}
	return ValidationResult{Valid: true}
}
