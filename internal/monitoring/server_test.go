package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyxium/dia-core/internal/config"
	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/instruments"
	"github.com/dyxium/dia-core/internal/journal"
	"github.com/dyxium/dia-core/internal/logger"
	"github.com/dyxium/dia-core/internal/pretrade"
	"github.com/dyxium/dia-core/internal/safety"
)

type memoryJournal struct {
	transitions []journal.Transition
	rejections  []journal.Rejection
}

func (m *memoryJournal) RecordRejection(_ context.Context, r journal.Rejection) (journal.Rejection, error) {
	r.ID = "rej-1"
	m.rejections = append(m.rejections, r)
	return r, nil
}

func (m *memoryJournal) RecentTransitions(_ context.Context, limit int) ([]journal.Transition, error) {
	return m.transitions, nil
}

func (m *memoryJournal) RecentRejections(_ context.Context, limit int) ([]journal.Rejection, error) {
	if limit < len(m.rejections) {
		return m.rejections[:limit], nil
	}
	return m.rejections, nil
}

type testServer struct {
	srv     *Server
	guard   *safety.OverloadGuard
	metrics *Metrics
	journal *memoryJournal
	reloads int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	rf := config.DefaultRiskFile()
	rf.Symbols["BTCUSDT"] = config.SymbolOverride{}
	rf.Symbols["DOGEUSDT"] = config.SymbolOverride{LowPriority: true}
	store := config.NewStaticLimitsStore(rf)

	metrics := NewMetrics()
	guard, err := safety.NewOverloadGuard(rf.Guard, safety.SamplerFunc(func(context.Context) (safety.ResourceSample, error) {
		return safety.ResourceSample{}, nil
	}), safety.WithGuardObserver(metrics))
	require.NoError(t, err)

	j := &memoryJournal{}
	log := logger.NewNopLogger()
	svc := pretrade.NewService(store, instruments.NewStaticProvider(store), metrics, log,
		pretrade.WithJournal(j),
		pretrade.WithGuard(guard),
		pretrade.WithLatencyTracker(safety.NewLatencyTracker(8)),
	)

	ts := &testServer{guard: guard, metrics: metrics, journal: j}
	ts.srv = NewServer("127.0.0.1:0", ServerDeps{
		Service: svc,
		Guard:   guard,
		Health:  NewHealthChecker(guard, nil),
		Metrics: metrics,
		Journal: j,
		Reload: func() error {
			ts.reloads++
			return nil
		},
		Logger: log,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestServer_Size(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/size", map[string]interface{}{
		"symbol": "BTCUSDT", "equity": 1000, "price": 200, "atr": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Qty      string `json:"qty"`
		Notional string `json:"notional"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1", body.Qty)
	assert.Equal(t, "200", body.Notional)
}

func TestServer_SizeErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/size", map[string]interface{}{
		"symbol": "BTCUSDT", "equity": 1000, "price": -1, "atr": 5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "CONFIG", errBody.Code)

	rec = ts.do(t, http.MethodPost, "/v1/size", map[string]interface{}{"symbol": "BTCUSDT", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JSON")
}

func TestServer_ValidateReportsAllBreaches(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/validate", map[string]interface{}{
		"metrics": map[string]interface{}{
			"projected_exposure_pct": 60,
			"orders_last_min":        10,
			"daily_loss_pct":         5,
			"drawdown_pct":           10,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Accepted bool     `json:"accepted"`
		Reasons  []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Accepted)
	assert.Equal(t, []string{"max_exposure_pct", "max_orders_per_min", "max_daily_loss_pct", "max_drawdown_pct"}, body.Reasons)
	assert.Len(t, ts.journal.rejections, 1)
}

func TestServer_ProposeAndOrders(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/propose", map[string]interface{}{
		"symbol": "BTCUSDT", "equity": 1000, "price": 200, "atr": 5, "current_exposure_pct": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"accepted":true`)

	for i := 0; i < 3; i++ {
		rec = ts.do(t, http.MethodPost, "/v1/orders", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/v1/orders", nil)
	assert.JSONEq(t, `{"orders_last_min":3}`, rec.Body.String())
}

func TestServer_GuardAndActive(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		ts.guard.Evaluate(safety.ResourceSample{CPUPct: 10, RAMPct: 95, LatencyMs: 10, TakenAt: time.Now()})
	}

	rec := ts.do(t, http.MethodGet, "/guard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var guard GuardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &guard))
	assert.Equal(t, 12, guard.MaxActiveInstruments)
	assert.Contains(t, rec.Body.String(), `"REDUCED"`)

	symbols := []string{"DOGEUSDT"}
	for i := 0; i < 12; i++ {
		symbols = append(symbols, "SYM"+string(rune('A'+i))+"USDT")
	}
	rec = ts.do(t, http.MethodPost, "/v1/active", map[string]interface{}{"symbols": symbols})
	require.Equal(t, http.StatusOK, rec.Code)
	var active activeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Len(t, active.Active, 12)
	assert.NotContains(t, active.Active, "DOGEUSDT")

	rec = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusDegraded)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), "dia_core_guard_max_instruments 12")
}

func TestServer_LatencyReloadJournal(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/latency", map[string]interface{}{"latency_ms": 42})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/latency", map[string]interface{}{"latency_ms": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/reload", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, ts.reloads)

	ts.journal.transitions = []journal.Transition{{ID: "t1", Kind: "overload", To: "REDUCED"}}
	rec = ts.do(t, http.MethodGet, "/v1/journal/transitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"t1"`)

	rec = ts.do(t, http.MethodGet, "/v1/journal/rejections?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ReloadFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.srv = NewServer("127.0.0.1:0", ServerDeps{
		Service: nil,
		Guard:   ts.guard,
		Health:  NewHealthChecker(ts.guard, nil),
		Metrics: ts.metrics,
		Reload: func() error {
			return rerrors.NewConfigurationError("config", "validate_risk_file", "limits: max_exposure_pct must be positive")
		},
		Logger: logger.NewNopLogger(),
	})

	rec := ts.do(t, http.MethodPost, "/v1/reload", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "max_exposure_pct")

	rec = ts.do(t, http.MethodGet, "/v1/journal/transitions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RecoversFromPanic(t *testing.T) {
	ts := newTestServer(t)
	ts.srv = NewServer("127.0.0.1:0", ServerDeps{
		Guard:   ts.guard,
		Health:  NewHealthChecker(ts.guard, nil),
		Metrics: ts.metrics,
		Logger:  logger.NewNopLogger(),
	})

	// nil service panics inside the handler
	rec := ts.do(t, http.MethodGet, "/v1/orders", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}
