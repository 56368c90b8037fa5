package pretrade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyxium/dia-core/internal/config"
	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/instruments"
	"github.com/dyxium/dia-core/internal/journal"
	"github.com/dyxium/dia-core/internal/logger"
	"github.com/dyxium/dia-core/internal/risk"
	"github.com/dyxium/dia-core/internal/safety"
)

type memoryJournal struct {
	rejections []journal.Rejection
	err        error
}

func (m *memoryJournal) RecordRejection(_ context.Context, r journal.Rejection) (journal.Rejection, error) {
	if m.err != nil {
		return journal.Rejection{}, m.err
	}
	r.ID = fmt.Sprintf("rej-%d", len(m.rejections)+1)
	m.rejections = append(m.rejections, r)
	return r, nil
}

type failingProvider struct{}

func (failingProvider) Constraints(context.Context, string) (instruments.Constraints, error) {
	return instruments.Constraints{}, errors.New("exchange unavailable")
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memoryJournal) {
	t.Helper()
	rf := config.DefaultRiskFile()
	rf.Symbols["BTCUSDT"] = config.SymbolOverride{}
	rf.Symbols["DOGEUSDT"] = config.SymbolOverride{LowPriority: true}
	wholeUnits := 0
	rf.Symbols["ADAUSDT"] = config.SymbolOverride{QtyDecimals: &wholeUnits}
	store := config.NewStaticLimitsStore(rf)

	j := &memoryJournal{}
	opts = append([]Option{WithJournal(j)}, opts...)
	svc := NewService(store, instruments.NewStaticProvider(store), nil, logger.NewNopLogger(), opts...)
	return svc, j
}

func TestService_Size(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Size(context.Background(), SizeRequest{Symbol: "BTCUSDT", Equity: 1000, Price: 200, Volatility: 5})
	require.NoError(t, err)
	assert.Equal(t, "1", res.Qty.String())
	assert.Equal(t, "200", res.Notional.String())
	assert.Equal(t, instruments.SourceStatic, res.Constraints.Source)
	assert.Equal(t, 2.0, res.Policy.KATR)
}

func TestService_SizeRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Size(context.Background(), SizeRequest{Symbol: "BTCUSDT", Equity: 1000, Price: 0, Volatility: 5})
	require.Error(t, err)
	assert.True(t, rerrors.IsConfiguration(err))

	_, err = svc.Size(context.Background(), SizeRequest{Symbol: "btc-usdt", Equity: 1000, Price: 200, Volatility: 5})
	require.Error(t, err)
	assert.True(t, rerrors.IsConfiguration(err))
}

func TestService_SizeConstraintErrorCarriesSymbol(t *testing.T) {
	svc, _ := newTestService(t)

	// one whole unit at price 3 stays below min notional 5
	_, err := svc.Size(context.Background(), SizeRequest{Symbol: "ADAUSDT", Equity: 1000, Price: 3, Volatility: 1000})
	require.Error(t, err)

	var re *rerrors.RiskError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rerrors.ErrorCategoryConstraint, re.Category)
	assert.Equal(t, "ADAUSDT", re.Context["symbol"])
}

func TestService_ProviderFailureIsExternal(t *testing.T) {
	rf := config.DefaultRiskFile()
	store := config.NewStaticLimitsStore(rf)
	stats := rerrors.NewErrorStats(10)
	svc := NewService(store, failingProvider{}, nil, logger.NewNopLogger(), WithErrorStats(stats))

	_, err := svc.Size(context.Background(), SizeRequest{Symbol: "BTCUSDT", Equity: 1000, Price: 200, Volatility: 5})
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrorCategoryExternal, rerrors.CategoryOf(err))
	assert.Equal(t, 1, stats.TotalErrors)
}

func TestService_ProposeAccepts(t *testing.T) {
	svc, j := newTestService(t)

	res, err := svc.Propose(context.Background(), ProposeRequest{
		SizeRequest:        SizeRequest{Symbol: "BTCUSDT", Equity: 1000, Price: 200, Volatility: 5},
		CurrentExposurePct: 10,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.InDelta(t, 30.0, res.ProjectedExposurePct, 1e-9)
	assert.Empty(t, res.RejectionID)
	assert.Empty(t, j.rejections)
}

func TestService_ProposeRejectsAndJournals(t *testing.T) {
	svc, j := newTestService(t)

	res, err := svc.Propose(context.Background(), ProposeRequest{
		SizeRequest:        SizeRequest{Symbol: "BTCUSDT", Equity: 1000, Price: 200, Volatility: 5},
		CurrentExposurePct: 40,
		DrawdownPct:        10,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.Decision.Has(risk.LimitExposure))
	assert.True(t, res.Decision.Has(risk.LimitDrawdown))
	assert.Equal(t, "rej-1", res.RejectionID)

	require.Len(t, j.rejections, 1)
	assert.Equal(t, "BTCUSDT", j.rejections[0].Symbol)
	assert.Equal(t, "1", j.rejections[0].Qty)
	assert.Equal(t, []string{"max_exposure_pct", "max_drawdown_pct"}, j.rejections[0].Breaches)
}

func TestService_ProposeUsesUnknownSymbolLimits(t *testing.T) {
	svc, _ := newTestService(t)

	// 20% projected is allowed for unknown symbols, anything above is not
	res, err := svc.Propose(context.Background(), ProposeRequest{
		SizeRequest:        SizeRequest{Symbol: "XRPUSDT", Equity: 1000, Price: 200, Volatility: 5},
		CurrentExposurePct: 1,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, []risk.LimitKind{risk.LimitExposure}, res.Decision.Reasons())
}

func TestService_ProposeCountsRecordedOrders(t *testing.T) {
	svc, _ := newTestService(t)

	for i := 0; i < 10; i++ {
		svc.RecordOrder()
	}
	assert.Equal(t, 10, svc.OrdersLastMinute())

	res, err := svc.Propose(context.Background(), ProposeRequest{
		SizeRequest:      SizeRequest{Symbol: "BTCUSDT", Equity: 1000, Price: 200, Volatility: 5},
		OrdersLastMinute: 2,
	})
	require.NoError(t, err)
	assert.True(t, res.Decision.Has(risk.LimitOrderRate))
}

func TestService_ValidateJournalsRejection(t *testing.T) {
	svc, j := newTestService(t)

	d, err := svc.Validate(context.Background(), ValidateRequest{
		Symbol:  "BTCUSDT",
		Metrics: risk.RiskMetrics{ProjectedExposurePct: 10, DailyLossPct: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, []risk.LimitKind{risk.LimitDailyLoss}, d.Reasons())
	require.Len(t, j.rejections, 1)
	assert.Empty(t, j.rejections[0].Qty)

	_, err = svc.Validate(context.Background(), ValidateRequest{Metrics: risk.RiskMetrics{DrawdownPct: -1}})
	assert.True(t, rerrors.IsConfiguration(err))
}

func TestService_JournalFailureDoesNotFailDecision(t *testing.T) {
	svc, j := newTestService(t)
	j.err = errors.New("disk full")

	d, err := svc.Validate(context.Background(), ValidateRequest{Metrics: risk.RiskMetrics{DrawdownPct: 50}})
	require.NoError(t, err)
	assert.False(t, d.Accepted())
}

func TestService_ActiveSetFollowsGuard(t *testing.T) {
	cfg := safety.DefaultGuardConfig()
	sampler := safety.SamplerFunc(func(context.Context) (safety.ResourceSample, error) {
		return safety.ResourceSample{}, nil
	})
	guard, err := safety.NewOverloadGuard(cfg, sampler)
	require.NoError(t, err)

	svc, _ := newTestService(t, WithGuard(guard))

	active := make([]string, 0, 14)
	active = append(active, "DOGEUSDT")
	for i := 0; i < 13; i++ {
		active = append(active, fmt.Sprintf("SYM%dUSDT", i))
	}

	kept, maxActive := svc.ActiveSet(active)
	assert.Equal(t, 20, maxActive)
	assert.Equal(t, active, kept)

	for i := 0; i < cfg.EscalateAfter; i++ {
		guard.Evaluate(safety.ResourceSample{CPUPct: 95, RAMPct: 10, LatencyMs: 10})
	}
	kept, maxActive = svc.ActiveSet(active)
	assert.Equal(t, 12, maxActive)
	require.Len(t, kept, 12)
	assert.NotContains(t, kept, "DOGEUSDT")
	assert.Equal(t, "SYM0USDT", kept[0])
}

func TestService_ObserveLatency(t *testing.T) {
	svc, _ := newTestService(t)
	assert.Error(t, svc.ObserveLatency(time.Millisecond))

	tracker := safety.NewLatencyTracker(4)
	svc, _ = newTestService(t, WithLatencyTracker(tracker))
	require.NoError(t, svc.ObserveLatency(100*time.Millisecond))
	require.NoError(t, svc.ObserveLatency(200*time.Millisecond))
	assert.InDelta(t, 150.0, tracker.AverageMs(), 1e-9)
	assert.Error(t, svc.ObserveLatency(-time.Second))
}

func TestService_ActiveForAlert(t *testing.T) {
	svc, _ := newTestService(t)

	active, kept := svc.ActiveForAlert(safety.Alert{MaxActiveInstruments: 1})
	assert.Nil(t, active)
	assert.Nil(t, kept)

	svc.ActiveSet([]string{"DOGEUSDT", "BTCUSDT", "ETHUSDT"})
	active, kept = svc.ActiveForAlert(safety.Alert{MaxActiveInstruments: 1})
	assert.Equal(t, []string{"DOGEUSDT", "BTCUSDT", "ETHUSDT"}, active)
	assert.Equal(t, []string{"BTCUSDT"}, kept)
}
