package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/talos/internal/api/handlers"
	"github.com/wonny/talos/internal/coordinator"
	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/execution"
	"github.com/wonny/talos/internal/hedge"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/pyramid"
	"github.com/wonny/talos/internal/reentry"
	"github.com/wonny/talos/internal/risk"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/internal/trailing"
	"github.com/wonny/talos/pkg/config"
	"github.com/wonny/talos/pkg/logger"
)

func newTestRouter(mock *exchange.Mock) http.Handler {
	cfg := &config.Config{}
	cfg.Trading.DefaultLeverage = 10
	cfg.Trading.DefaultRiskPercent = 1.0
	cfg.Trading.MaxPositionSize = 1000
	cfg.Trading.PyramidSteps = 5
	cfg.Trading.TickSize = 0.01
	cfg.Trading.QtyStep = 0.001
	cfg.Trading.TrailingInterval = 10 * time.Millisecond
	cfg.Trading.MonitorInterval = 10 * time.Millisecond
	cfg.Risk.MaxDailyLoss = 500
	cfg.Risk.MaxOpenPositions = 5
	cfg.Risk.TrailingStopPercent = 2.0
	cfg.Risk.AutoHedgeThreshold = -5.0

	log := logger.NewNop()
	notifier := notify.NewLogNotifier(log)

	riskMgr := risk.NewManager(cfg, log)
	orders := execution.NewEngine(mock, notifier, cfg.Trading.TickSize, cfg.Trading.QtyStep, log)
	pyramidEng := pyramid.NewEngine(mock, orders, notifier, cfg.Trading.TickSize, cfg.Trading.QtyStep, log)
	trailingEng := trailing.NewEngine(mock, notifier, cfg.Risk.TrailingStopPercent, cfg.Trading.TickSize, log)
	hedgeEng := hedge.NewEngine(mock, orders, notifier, cfg.Trading.QtyStep, log)
	reentryEng := reentry.NewEngine(mock, orders, notifier, cfg.Trading.TickSize, log)

	coord := coordinator.New(cfg, mock, riskMgr, orders, pyramidEng, trailingEng, hedgeEng, reentryEng, notifier, log)
	return NewRouter(handlers.NewBotHandler(coord, log), log)
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(exchange.NewMock(10000))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(exchange.NewMock(10000))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/bot/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var metrics risk.Metrics
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&metrics))
	assert.Equal(t, 0, metrics.OpenPositions)
	assert.InDelta(t, 500, metrics.RemainingLossBuffer, 1e-9)
}

func TestGetBalance(t *testing.T) {
	router := newTestRouter(exchange.NewMock(10000))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/bot/balance", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Coin    string  `json:"coin"`
		Balance float64 `json:"balance"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "USDT", body.Coin)
	assert.InDelta(t, 10000, body.Balance, 1e-9)
}

func TestSignalEndpoint(t *testing.T) {
	mock := exchange.NewMock(10000)
	router := newTestRouter(mock)

	payload, _ := json.Marshal(map[string]interface{}{
		"symbol":    "BTCUSDT",
		"side":      "LONG",
		"entries":   []float64{50000},
		"stop_loss": 49000,
		"leverage":  10,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/bot/signal", bytes.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, mock.Placed, 2)
}

func TestSignalEndpointRejectsBadSide(t *testing.T) {
	router := newTestRouter(exchange.NewMock(10000))

	payload, _ := json.Marshal(map[string]interface{}{
		"symbol":  "BTCUSDT",
		"side":    "SIDEWAYS",
		"entries": []float64{50000},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/bot/signal", bytes.NewReader(payload)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalEndpointRejectsBadBody(t *testing.T) {
	router := newTestRouter(exchange.NewMock(10000))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/bot/signal", bytes.NewReader([]byte("{not json"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseEndpoint(t *testing.T) {
	mock := exchange.NewMock(10000)
	router := newTestRouter(mock)

	// Open a position first
	payload, _ := json.Marshal(map[string]interface{}{
		"symbol":    "BTCUSDT",
		"side":      "LONG",
		"entries":   []float64{50000},
		"stop_loss": 49000,
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/bot/signal", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	mock.SetPosition("BTCUSDT", signal.SideBuy, 0.2, 50000)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/bot/close/BTCUSDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, mock.Closed, "BTCUSDT")
}

func TestStopEndpoint(t *testing.T) {
	router := newTestRouter(exchange.NewMock(10000))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/bot/stop", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "stopped", body["status"])
}

func TestCloseEndpointUnknownSymbol(t *testing.T) {
	router := newTestRouter(exchange.NewMock(10000))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/bot/close/XRPUSDT", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
