package safety

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSizingRequest(t *testing.T) {
	v := NewValidator()
	valid := SizingRequest{
		Symbol:          "BTCUSDT",
		Equity:          1000,
		Price:           200,
		Volatility:      5,
		RiskPerTradePct: 1,
		VolMultiplier:   2,
		MinQty:          0.001,
		MinNotional:     10,
		QtyDecimals:     3,
	}
	assert.True(t, v.ValidateSizingRequest(valid).Valid)

	tests := []struct {
		name   string
		mutate func(r *SizingRequest)
		code   string
	}{
		{"nan price", func(r *SizingRequest) { r.Price = math.NaN() }, "NOT_A_NUMBER"},
		{"infinite equity", func(r *SizingRequest) { r.Equity = math.Inf(1) }, "INFINITE"},
		{"negative equity", func(r *SizingRequest) { r.Equity = -1 }, "NEGATIVE"},
		{"zero atr", func(r *SizingRequest) { r.Volatility = 0 }, "NOT_POSITIVE"},
		{"risk above 100", func(r *SizingRequest) { r.RiskPerTradePct = 150 }, "PERCENTAGE_OUT_OF_RANGE"},
		{"absurd price", func(r *SizingRequest) { r.Price = 1e12 }, "PRICE_OUT_OF_BOUNDS"},
		{"negative precision", func(r *SizingRequest) { r.QtyDecimals = -2 }, "INVALID_PRECISION"},
		{"lowercase symbol", func(r *SizingRequest) { r.Symbol = "btc-usdt" }, "INVALID_SYMBOL_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			result := v.ValidateSizingRequest(req)
			assert.False(t, result.Valid)
			assert.Equal(t, tt.code, result.Code)
			assert.NotEmpty(t, result.Error())
		})
	}
}

func TestValidateMetrics(t *testing.T) {
	v := NewValidator()

	assert.True(t, v.ValidateMetrics(map[string]float64{"drawdown_pct": 3, "daily_loss_pct": 0}).Valid)
	assert.False(t, v.ValidateMetrics(map[string]float64{"drawdown_pct": -1}).Valid)
	assert.False(t, v.ValidateMetrics(map[string]float64{"daily_loss_pct": math.NaN()}).Valid)
}
