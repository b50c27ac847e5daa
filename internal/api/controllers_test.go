package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-core/internal/coordinator"
	"leverage-core/internal/engine"
	"leverage-core/internal/events"
	"leverage-core/internal/exchange"
	"leverage-core/internal/monitor"
	"leverage-core/internal/risk"
	"leverage-core/pkg/db"
)

const testSecret = "test-secret"

type harness struct {
	srv    *Server
	coord  *coordinator.Coordinator
	eng    *engine.Engine
	risk   *risk.Manager
	token  string
	closer func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus()
	exchanges := exchange.NewManager(nil)
	exchanges.Add("primary", exchange.NewMock(exchange.MockConfig{Seed: 7, Latency: -1, FillRate: 1}), true)

	exec := engine.NewSimulatedExecutor(engine.SimConfig{Latency: -1, SuccessRate: 1, Seed: 7})
	eng := engine.New(nil, exec, engine.DefaultConfig(), nil, engine.WithBus(bus))
	rm := risk.NewManager(risk.DefaultLimits(), nil)
	metrics := monitor.NewSystemMetrics()

	coord, err := coordinator.New(coordinator.Registry{
		Exchanges: exchanges,
		Engine:    eng,
		Risk:      rm,
		Bus:       bus,
		Metrics:   metrics,
	}, coordinator.Config{Symbol: "BTCUSDT", UpdateInterval: time.Hour, MinHistory: 1000}, nil)
	require.NoError(t, err)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	srv, err := NewServer(Deps{
		Coordinator: coord,
		Engine:      eng,
		Risk:        rm,
		Queries:     database.Queries(),
		Metrics:     metrics,
	}, Options{JWTSecret: testSecret, RateLimit: 1000, RateBurst: 1000, Version: "test"}, nil)
	require.NoError(t, err)

	token, _, err := GenerateToken("ops", testSecret, time.Hour)
	require.NoError(t, err)

	h := &harness{srv: srv, coord: coord, eng: eng, risk: rm, token: token}
	h.closer = func() {
		if coord.State().Active() {
			_ = coord.Stop(context.Background())
		}
		database.Close()
	}
	t.Cleanup(h.closer)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{}, Options{JWTSecret: "x"}, nil)
	assert.Error(t, err)
}

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"stopped"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_TOKEN")

	other, _, err := GenerateToken("ops", "another-secret", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")

	expired, _, err := GenerateToken("ops", testSecret, -time.Minute)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?token="+expired, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?token="+h.token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTradingLifecycleEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/trading/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/trading/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[coordinator.TradingStatus](t, rec)
	assert.Equal(t, coordinator.StateRunning, st.State)
	assert.NotEmpty(t, st.SessionID)

	rec = h.do(t, http.MethodPost, "/api/trading/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, coordinator.StatePaused, decode[coordinator.TradingStatus](t, rec).State)

	rec = h.do(t, http.MethodPost, "/api/trading/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/market", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	market := decode[map[string]coordinator.MarketSnapshot](t, rec)
	assert.Greater(t, market["BTCUSDT"].Price, 0.0)

	rec = h.do(t, http.MethodPost, "/api/trading/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, coordinator.StateStopped, decode[coordinator.TradingStatus](t, rec).State)
}

func TestManualOrderAndClose(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/orders", gin.H{"symbol": "BTCUSDT", "side": "buy", "quantity": 0.01})
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/trading/start", nil).Code)

	rec = h.do(t, http.MethodPost, "/api/orders", gin.H{"symbol": "BTCUSDT", "side": "hold", "quantity": 0.01})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/orders", gin.H{"symbol": "btcusdt", "side": "buy", "quantity": 0.01, "leverage": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	placed := decode[orderView](t, rec)
	assert.Equal(t, "filled", string(placed.Status))
	assert.Equal(t, "ops", placed.Metadata["operator"])

	rec = h.do(t, http.MethodGet, "/api/orders/"+placed.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decode[engine.PositionsSummary](t, rec)
	require.Equal(t, 1, positions.TotalPositions)
	assert.Equal(t, "BTCUSDT", positions.Positions[0].Symbol)

	rec = h.do(t, http.MethodPost, "/api/orders", gin.H{"symbol": "BTCUSDT", "side": "buy", "quantity": 1, "price": 50000})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/positions/ETHUSDT/close", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/positions/btcusdt/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"closed":true`)

	rec = h.do(t, http.MethodGet, "/api/performance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	perf := decode[coordinator.Performance](t, rec)
	assert.Equal(t, 2, perf.Trading.ExecutedOrders)
}

func TestUnknownOrderIsNotFound(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/orders/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/orders/nope", nil).Code)
}

func TestRiskLimitsUpdate(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPut, "/api/risk/limits", gin.H{"max_drawdown": 0.2, "max_position_count": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.2, h.risk.Limits().MaxDrawdown)
	assert.Equal(t, 3, h.risk.Limits().MaxPositionCount)
	assert.Equal(t, risk.DefaultLimits().MaxLeverage, h.risk.Limits().MaxLeverage)

	rec = h.do(t, http.MethodPut, "/api/risk/limits", gin.H{"max_leverage": 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, risk.DefaultLimits().MaxLeverage, h.risk.Limits().MaxLeverage)

	rec = h.do(t, http.MethodGet, "/api/risk/limits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"max_drawdown":0.2`)
}

func TestRiskReportHistoryAndAlerts(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/risk", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/risk/history?window=abc", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/risk/history?window=30m", nil).Code)

	rec := h.do(t, http.MethodGet, "/api/alerts?unresolved=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/alerts?source=stored", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/alerts/missing/resolve", nil).Code)

	rec = h.do(t, http.MethodPost, "/api/risk/emergency/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"emergency_mode":false`)
}

func TestOptionalDepsAnswerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.srv.deps.Balances = nil
	h.srv.deps.Queries = nil
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/api/balances", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/api/sessions", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/metrics", nil).Code)
}

func TestRateLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)
	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("5.6.7.8"))
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + h.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; publish until one arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				h.coord.Bus().ErrorOccurred.Publish(events.ErrorOccurred{Where: "test", Error: "boom", At: time.Now()})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "error_occurred", env.Event)
	assert.Equal(t, "boom", env.Payload["error"])
}
