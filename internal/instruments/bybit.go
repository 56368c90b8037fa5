package instruments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"

	"github.com/dyxium/dia-core/internal/safety"
)

// BybitConfig configures the public instrument lookup. No order endpoint is
// ever called; the key pair is optional.
type BybitConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Category  string // spot, linear, inverse
	CacheTTL  time.Duration
}

type instrumentFetcher func(ctx context.Context, params map[string]interface{}) (interface{}, error)

type cachedConstraints struct {
	constraints Constraints
	fetchedAt   time.Time
}

// BybitProvider reads lot size filters from Bybit's instruments-info
// endpoint and caches them per symbol
type BybitProvider struct {
	fetch    instrumentFetcher
	category string
	ttl      time.Duration
	breaker  *safety.CircuitBreaker
	now      func() time.Time

	mutex sync.RWMutex
	cache map[string]cachedConstraints
}

// NewBybitProvider creates a provider using the official Bybit client
func NewBybitProvider(cfg BybitConfig) *BybitProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = bybit_api.MAINNET
	}
	client := bybit_api.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit_api.WithBaseURL(baseURL))

	fetch := func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	}
	return newBybitProvider(fetch, cfg)
}

func newBybitProvider(fetch instrumentFetcher, cfg BybitConfig) *BybitProvider {
	if cfg.Category == "" {
		cfg.Category = "spot"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &BybitProvider{
		fetch:    fetch,
		category: cfg.Category,
		ttl:      cfg.CacheTTL,
		breaker: safety.NewCircuitBreaker("bybit_instruments", safety.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		}),
		now:   time.Now,
		cache: make(map[string]cachedConstraints),
	}
}

// Breaker exposes the circuit breaker for status reporting
func (p *BybitProvider) Breaker() *safety.CircuitBreaker {
	return p.breaker
}

// Constraints implements Provider. A cached entry younger than the TTL is
// served without a request.
func (p *BybitProvider) Constraints(ctx context.Context, symbol string) (Constraints, error) {
	p.mutex.RLock()
	entry, ok := p.cache[symbol]
	p.mutex.RUnlock()
	if ok && p.now().Sub(entry.fetchedAt) < p.ttl {
		return entry.constraints, nil
	}

	var c Constraints
	err := p.breaker.Call(func() error {
		params := map[string]interface{}{
			"category": p.category,
			"symbol":   symbol,
		}
		resp, err := p.fetch(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to fetch instrument info: %w", err)
		}
		c, err = parseInstrumentResponse(resp, symbol)
		return err
	})
	if err != nil {
		return Constraints{}, err
	}

	c.FetchedAt = p.now()
	p.mutex.Lock()
	p.cache[symbol] = cachedConstraints{constraints: c, fetchedAt: c.FetchedAt}
	p.mutex.Unlock()
	return c, nil
}

// Invalidate drops the cache, forcing fresh lookups
func (p *BybitProvider) Invalidate() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cache = make(map[string]cachedConstraints)
}

// Reset drops the cache and closes the breaker so the next lookup goes to
// the exchange immediately
func (p *BybitProvider) Reset() {
	p.Invalidate()
	p.breaker.Reset()
}

// lotSizeFilter covers both the spot (basePrecision, minOrderAmt) and the
// derivatives (qtyStep, minNotionalValue) shapes
type lotSizeFilter struct {
	MinOrderQty      string `json:"minOrderQty"`
	QtyStep          string `json:"qtyStep"`
	BasePrecision    string `json:"basePrecision"`
	MinNotionalValue string `json:"minNotionalValue"`
	MinOrderAmt      string `json:"minOrderAmt"`
}

type instrumentList struct {
	Category string `json:"category"`
	List     []struct {
		Symbol        string        `json:"symbol"`
		Status        string        `json:"status"`
		LotSizeFilter lotSizeFilter `json:"lotSizeFilter"`
	} `json:"list"`
}

func parseInstrumentResponse(response interface{}, symbol string) (Constraints, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return Constraints{}, fmt.Errorf("invalid response type %T", response)
	}
	if serverResp.RetCode != 0 {
		return Constraints{}, fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return Constraints{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	var result instrumentList
	if err := json.Unmarshal(resultBytes, &result); err != nil {
		return Constraints{}, fmt.Errorf("failed to unmarshal instrument result: %w", err)
	}

	for _, item := range result.List {
		if item.Symbol != symbol {
			continue
		}
		if item.Status != "" && item.Status != "Trading" {
			return Constraints{}, fmt.Errorf("instrument %s is not trading (status %s)", symbol, item.Status)
		}
		return constraintsFromFilter(symbol, item.LotSizeFilter)
	}
	return Constraints{}, fmt.Errorf("instrument %s not found", symbol)
}

func constraintsFromFilter(symbol string, f lotSizeFilter) (Constraints, error) {
	minQty, err := parseDecimal(f.MinOrderQty)
	if err != nil {
		return Constraints{}, fmt.Errorf("minOrderQty: %w", err)
	}

	step := f.QtyStep
	if step == "" {
		step = f.BasePrecision
	}
	stepDec, err := parseDecimal(step)
	if err != nil {
		return Constraints{}, fmt.Errorf("qtyStep: %w", err)
	}

	notional := f.MinNotionalValue
	if notional == "" {
		notional = f.MinOrderAmt
	}
	minNotional, err := parseDecimal(notional)
	if err != nil {
		return Constraints{}, fmt.Errorf("minNotionalValue: %w", err)
	}

	return Constraints{
		Symbol:      symbol,
		MinQty:      minQty,
		MinNotional: minNotional,
		QtyDecimals: decimalsOfStep(stepDec),
		Source:      SourceBybit,
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// decimalsOfStep returns the number of fractional digits in a step such as
// 0.001 (3). Integer steps give 0. A step that is not a power of ten (0.5,
// 10) only sets the precision: quantities are not snapped to multiples of
// the step.
// TODO: carry the step itself in Constraints and floor to it in the sizer.
func decimalsOfStep(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	for places := int32(0); places <= 18; places++ {
		if step.Shift(places).IsInteger() {
			return places
		}
	}
	return 18
}
