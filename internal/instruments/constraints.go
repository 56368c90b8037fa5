package instruments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyxium/dia-core/internal/config"
	"github.com/dyxium/dia-core/internal/logger"
)

// Constraint sources
const (
	SourceBybit  = "bybit"
	SourceStatic = "static"
)

// Constraints are the exchange minimums the sizer must honor for one symbol
type Constraints struct {
	Symbol      string          `json:"symbol"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
	QtyDecimals int32           `json:"qty_decimals"`
	Source      string          `json:"source"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

// Provider returns the constraints for a symbol
type Provider interface {
	Constraints(ctx context.Context, symbol string) (Constraints, error)
}

// PolicySource is satisfied by config.LimitsStore
type PolicySource interface {
	SizingFor(symbol string) config.SizingPolicy
}

// StaticProvider serves the constraints written in the risk file
type StaticProvider struct {
	policies PolicySource
}

// NewStaticProvider creates a provider backed by the risk file
func NewStaticProvider(policies PolicySource) *StaticProvider {
	return &StaticProvider{policies: policies}
}

// Constraints implements Provider
func (p *StaticProvider) Constraints(_ context.Context, symbol string) (Constraints, error) {
	policy := p.policies.SizingFor(symbol)
	return Constraints{
		Symbol:      symbol,
		MinQty:      decimal.NewFromFloat(policy.MinQty),
		MinNotional: decimal.NewFromFloat(policy.MinNotional),
		QtyDecimals: int32(policy.QtyDecimals),
		Source:      SourceStatic,
	}, nil
}

// FallbackProvider asks primary first and falls back on any error
type FallbackProvider struct {
	primary    Provider
	fallback   Provider
	logger     *logger.Logger
	onFallback func(symbol string, err error)
}

// NewFallbackProvider chains two providers
func NewFallbackProvider(primary, fallback Provider, log *logger.Logger) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback, logger: log}
}

// OnFallback registers a hook called whenever the fallback is used
func (p *FallbackProvider) OnFallback(fn func(symbol string, err error)) {
	p.onFallback = fn
}

// Constraints implements Provider
func (p *FallbackProvider) Constraints(ctx context.Context, symbol string) (Constraints, error) {
	c, err := p.primary.Constraints(ctx, symbol)
	if err == nil {
		return c, nil
	}

	p.logger.LogWarning("instruments", "using static constraints for %s: %v", symbol, err)
	if p.onFallback != nil {
		p.onFallback(symbol, err)
	}
	return p.fallback.Constraints(ctx, symbol)
}
