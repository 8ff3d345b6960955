package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/config"
	"github.com/wonny/talos/pkg/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := &config.Config{}
	cfg.Risk.MaxDailyLoss = 500
	cfg.Risk.MaxOpenPositions = 2
	cfg.Trading.MaxPositionSize = 1000
	cfg.Trading.DefaultRiskPercent = 1.0
	cfg.Trading.DefaultLeverage = 10
	cfg.Trading.QtyStep = 0.001

	return NewManager(cfg, logger.NewNop())
}

func TestCanOpenPosition(t *testing.T) {
	m := newTestManager(t)

	ok, reason := m.CanOpenPosition()
	require.True(t, ok, reason)

	// Daily loss limit hit
	m.UpdateDailyPnL(-500)
	ok, _ = m.CanOpenPosition()
	assert.False(t, ok)

	// Becomes true again only after the date rolls over
	m.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	ok, reason = m.CanOpenPosition()
	assert.True(t, ok, reason)
}

func TestCanOpenPositionMaxPositions(t *testing.T) {
	m := newTestManager(t)

	m.AddPosition("BTCUSDT", ActivePosition{EntryPrice: 50000, Quantity: 1, Side: signal.SideBuy})
	m.AddPosition("ETHUSDT", ActivePosition{EntryPrice: 3000, Quantity: 1, Side: signal.SideBuy})

	ok, reason := m.CanOpenPosition()
	assert.False(t, ok)
	assert.Contains(t, reason, "max open positions")
}

func TestPositionSize(t *testing.T) {
	m := newTestManager(t)

	// (10000×1%×50000)/1000 ×10 = 50000, capped at 1000
	size := m.PositionSize(10000, 50000, 49000, 0, 0)
	assert.InDelta(t, 1000, size, 1e-9)

	// Degenerate risk distance
	assert.Zero(t, m.PositionSize(10000, 50000, 50000, 0, 0))
}

func TestValidateOrder(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name     string
		symbol   string
		qty      float64
		price    float64
		stopLoss float64
		wantOK   bool
	}{
		{"valid", "BTCUSDT", 0.5, 50000, 49000, true},
		{"no stop", "BTCUSDT", 0.5, 50000, 0, true},
		{"zero qty", "BTCUSDT", 0, 50000, 49000, false},
		{"qty over max", "BTCUSDT", 1001, 50000, 49000, false},
		{"zero price", "BTCUSDT", 0.5, 0, 0, false},
		{"stop too close", "BTCUSDT", 0.5, 50000, 49900, false}, // 0.2%
		{"stop too far", "BTCUSDT", 0.5, 50000, 39000, false},   // 22%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := m.ValidateOrder(tt.symbol, tt.qty, tt.price, tt.stopLoss)
			assert.Equal(t, tt.wantOK, ok, reason)
		})
	}

	// One-position-per-symbol invariant
	m.AddPosition("BTCUSDT", ActivePosition{EntryPrice: 50000, Quantity: 0.5, Side: signal.SideBuy})
	ok, reason := m.ValidateOrder("BTCUSDT", 0.5, 50000, 49000)
	assert.False(t, ok)
	assert.Contains(t, reason, "already exists")
}

func TestRemovePositionIdempotent(t *testing.T) {
	m := newTestManager(t)

	m.AddPosition("BTCUSDT", ActivePosition{EntryPrice: 50000, Quantity: 0.5, Side: signal.SideBuy})

	pos, ok := m.RemovePosition("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 50000, pos.EntryPrice, 1e-9)

	// Second removal is a no-op
	pos, ok = m.RemovePosition("BTCUSDT")
	assert.False(t, ok)
	assert.Nil(t, pos)
}

func TestTwoTierDeRisking(t *testing.T) {
	m := newTestManager(t)

	assert.False(t, m.ShouldReduceRisk())
	assert.InDelta(t, 1.0, m.AdjustedRiskPercent(), 1e-9)

	// Past half the daily loss limit
	m.UpdateDailyPnL(-250)
	assert.True(t, m.ShouldReduceRisk())
	assert.InDelta(t, 0.5, m.AdjustedRiskPercent(), 1e-9)
}

func TestMetrics(t *testing.T) {
	m := newTestManager(t)

	m.UpdateDailyPnL(-100)
	m.AddPosition("BTCUSDT", ActivePosition{EntryPrice: 50000, Quantity: 0.5, Side: signal.SideBuy})
	m.UpdatePositionPnL("BTCUSDT", 42.5)

	metrics := m.GetMetrics()
	assert.InDelta(t, -100, metrics.DailyPnL, 1e-9)
	assert.Equal(t, 1, metrics.DailyTrades)
	assert.Equal(t, 1, metrics.OpenPositions)
	assert.InDelta(t, 42.5, metrics.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 400, metrics.RemainingLossBuffer, 1e-9)
}
