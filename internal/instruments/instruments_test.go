package instruments

import (
	"context"
	"errors"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyxium/dia-core/internal/config"
	"github.com/dyxium/dia-core/internal/logger"
	"github.com/dyxium/dia-core/internal/safety"
)

func spotResponse(symbol, status string) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{
		RetCode: 0,
		RetMsg:  "OK",
		Result: map[string]interface{}{
			"category": "spot",
			"list": []interface{}{
				map[string]interface{}{
					"symbol": symbol,
					"status": status,
					"lotSizeFilter": map[string]interface{}{
						"basePrecision": "0.000001",
						"minOrderQty":   "0.000048",
						"minOrderAmt":   "1",
					},
				},
			},
		},
	}
}

func linearResponse(symbol string) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{
		RetCode: 0,
		Result: map[string]interface{}{
			"category": "linear",
			"list": []interface{}{
				map[string]interface{}{
					"symbol": symbol,
					"status": "Trading",
					"lotSizeFilter": map[string]interface{}{
						"qtyStep":          "0.001",
						"minOrderQty":      "0.001",
						"minNotionalValue": "5",
					},
				},
			},
		},
	}
}

type countingFetcher struct {
	calls int
	resp  *bybit_api.ServerResponse
	err   error
}

func (f *countingFetcher) fetch(_ context.Context, params map[string]interface{}) (interface{}, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestParseInstrumentResponse_Spot(t *testing.T) {
	c, err := parseInstrumentResponse(spotResponse("BTCUSDT", "Trading"), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.True(t, c.MinQty.Equal(decimal.RequireFromString("0.000048")))
	assert.True(t, c.MinNotional.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int32(6), c.QtyDecimals)
	assert.Equal(t, SourceBybit, c.Source)
}

func TestParseInstrumentResponse_Linear(t *testing.T) {
	c, err := parseInstrumentResponse(linearResponse("ETHUSDT"), "ETHUSDT")
	require.NoError(t, err)

	assert.True(t, c.MinQty.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, c.MinNotional.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int32(3), c.QtyDecimals)
}

func TestParseInstrumentResponse_Errors(t *testing.T) {
	_, err := parseInstrumentResponse("not a response", "BTCUSDT")
	assert.Error(t, err)

	_, err = parseInstrumentResponse(&bybit_api.ServerResponse{RetCode: 10001, RetMsg: "params error"}, "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params error")

	_, err = parseInstrumentResponse(spotResponse("ETHUSDT", "Trading"), "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = parseInstrumentResponse(spotResponse("BTCUSDT", "PreLaunch"), "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not trading")
}

func TestDecimalsOfStep(t *testing.T) {
	tests := []struct {
		step string
		want int32
	}{
		{"1", 0},
		{"5", 0},
		{"0.1", 1},
		{"0.001", 3},
		{"0.0010", 3},
		{"0.00000001", 8},
		{"0", 0},
		// steps that are not a power of ten only map to a precision; the
		// quantity is not snapped to multiples of the step
		{"0.5", 1},
		{"0.25", 2},
		{"10", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decimalsOfStep(decimal.RequireFromString(tt.step)), tt.step)
	}
}

func TestBybitProvider_CachesUntilTTL(t *testing.T) {
	f := &countingFetcher{resp: linearResponse("ETHUSDT")}
	p := newBybitProvider(f.fetch, BybitConfig{Category: "linear", CacheTTL: time.Hour})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	_, err := p.Constraints(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	_, err = p.Constraints(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)

	now = now.Add(61 * time.Minute)
	c, err := p.Constraints(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, now, c.FetchedAt)

	p.Invalidate()
	_, err = p.Constraints(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
}

func TestBybitProvider_BreakerOpensAfterFailures(t *testing.T) {
	f := &countingFetcher{err: errors.New("connection refused")}
	p := newBybitProvider(f.fetch, BybitConfig{})

	for i := 0; i < 3; i++ {
		_, err := p.Constraints(context.Background(), "BTCUSDT")
		require.Error(t, err)
	}
	assert.Equal(t, safety.StateOpen, p.Breaker().GetState())

	_, err := p.Constraints(context.Background(), "BTCUSDT")
	var open *safety.ErrCircuitOpen
	assert.ErrorAs(t, err, &open)
	assert.Equal(t, 3, f.calls)

	f.err = nil
	f.resp = linearResponse("BTCUSDT")
	p.Reset()
	assert.Equal(t, safety.StateClosed, p.Breaker().GetState())
	_, err = p.Constraints(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 4, f.calls)
}

func TestStaticProvider_UsesSymbolPolicy(t *testing.T) {
	rf := config.DefaultRiskFile()
	minQty := 0.5
	decimals := 2
	rf.Symbols["SOLUSDT"] = config.SymbolOverride{MinQty: &minQty, QtyDecimals: &decimals}
	store := config.NewStaticLimitsStore(rf)

	c, err := NewStaticProvider(store).Constraints(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.True(t, c.MinQty.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, c.MinNotional.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int32(2), c.QtyDecimals)
	assert.Equal(t, SourceStatic, c.Source)
}

func TestFallbackProvider(t *testing.T) {
	store := config.NewStaticLimitsStore(config.DefaultRiskFile())
	f := &countingFetcher{err: errors.New("timeout")}
	primary := newBybitProvider(f.fetch, BybitConfig{})

	p := NewFallbackProvider(primary, NewStaticProvider(store), logger.NewNopLogger())
	var fellBack []string
	p.OnFallback(func(symbol string, err error) { fellBack = append(fellBack, symbol) })

	c, err := p.Constraints(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, SourceStatic, c.Source)
	assert.Equal(t, []string{"BTCUSDT"}, fellBack)

	f.err = nil
	f.resp = spotResponse("BTCUSDT", "Trading")
	c, err = p.Constraints(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, SourceBybit, c.Source)
}
