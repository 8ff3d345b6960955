package trailing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

func newTestEngine(mock *exchange.Mock) *Engine {
	log := logger.NewNop()
	return NewEngine(mock, notify.NewLogNotifier(log), 2.0, 0.01, log)
}

func TestUpdateStopRatchet(t *testing.T) {
	e := newTestEngine(exchange.NewMock(10000))
	e.Enable("BTCUSDT", signal.SideBuy, 100, 2.0)

	// Price at entry: no new extreme, no movement
	_, moved := e.UpdateStop("BTCUSDT", 100)
	assert.False(t, moved)

	// New high at 107: candidate stop 104.86 beats the entry, commits
	stop, moved := e.UpdateStop("BTCUSDT", 107)
	require.True(t, moved)
	assert.InDelta(t, 104.86, stop, 1e-6)

	status := e.GetStatus("BTCUSDT")
	require.NotNil(t, status)
	assert.True(t, status.Activated)
	assert.InDelta(t, 4.86, status.ProfitLocked, 0.01)

	// Price falls back: extreme unchanged, stop never retreats
	_, moved = e.UpdateStop("BTCUSDT", 103)
	assert.False(t, moved)
	assert.InDelta(t, 104.86, e.GetStatus("BTCUSDT").CurrentStop, 1e-6)

	// Higher extreme ratchets the stop up again
	stop, moved = e.UpdateStop("BTCUSDT", 110)
	require.True(t, moved)
	assert.InDelta(t, 107.8, stop, 1e-6)
}

func TestUpdateStopClampedToEntry(t *testing.T) {
	e := newTestEngine(exchange.NewMock(10000))
	e.Enable("BTCUSDT", signal.SideBuy, 100, 2.0)

	// New high whose candidate stop (101*0.98 = 98.98) is below entry:
	// the stop stays at entry, so nothing improves and nothing commits
	_, moved := e.UpdateStop("BTCUSDT", 101)
	assert.False(t, moved)
	assert.False(t, e.GetStatus("BTCUSDT").Activated)
}

func TestUpdateStopSell(t *testing.T) {
	e := newTestEngine(exchange.NewMock(10000))
	e.Enable("ETHUSDT", signal.SideSell, 100, 2.0)

	stop, moved := e.UpdateStop("ETHUSDT", 90)
	require.True(t, moved)
	assert.InDelta(t, 91.8, stop, 1e-6)

	// Adverse move up does not retreat the stop
	_, moved = e.UpdateStop("ETHUSDT", 95)
	assert.False(t, moved)
	assert.InDelta(t, 91.8, e.GetStatus("ETHUSDT").CurrentStop, 1e-6)
}

func TestCheckTriggerRequiresActivation(t *testing.T) {
	e := newTestEngine(exchange.NewMock(10000))
	e.Enable("BTCUSDT", signal.SideBuy, 100, 2.0)

	// Stop never ratcheted: price below entry does not trigger
	assert.False(t, e.CheckTrigger("BTCUSDT", 90))

	// Activate, then an adverse cross triggers
	_, moved := e.UpdateStop("BTCUSDT", 110)
	require.True(t, moved)
	assert.False(t, e.CheckTrigger("BTCUSDT", 108))
	assert.True(t, e.CheckTrigger("BTCUSDT", 107.8))
	assert.True(t, e.CheckTrigger("BTCUSDT", 105))
}

func TestMonitorClosesOnTrigger(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)

	var closedSymbol string
	var closedSide signal.Side
	e.SetCloseHook(func(symbol string, side signal.Side, exitPrice float64) {
		closedSymbol = symbol
		closedSide = side
	})

	e.Enable("BTCUSDT", signal.SideBuy, 100, 2.0)
	mock.SetPosition("BTCUSDT", signal.SideBuy, 1, 100)

	// Ratchet the stop up to 107.8
	mock.SetPrice("BTCUSDT", 110)
	e.poll(context.Background())
	require.True(t, e.GetStatus("BTCUSDT").Activated)

	// Price crosses the stop: position closed, trailing disabled
	mock.SetPrice("BTCUSDT", 107)
	e.poll(context.Background())

	assert.Equal(t, []string{"BTCUSDT"}, mock.Closed)
	assert.Nil(t, e.GetStatus("BTCUSDT"))
	assert.Equal(t, "BTCUSDT", closedSymbol)
	assert.Equal(t, signal.SideBuy, closedSide)
}

func TestMonitorSurvivesTickerError(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)

	// No price set for BTCUSDT: ticker fetch fails, ETHUSDT still runs
	e.Enable("BTCUSDT", signal.SideBuy, 100, 2.0)
	e.Enable("ETHUSDT", signal.SideSell, 100, 2.0)
	mock.SetPrice("ETHUSDT", 90)

	e.poll(context.Background())

	assert.True(t, e.GetStatus("ETHUSDT").Activated)
	assert.False(t, e.GetStatus("BTCUSDT").Activated)
}

func TestStartStopMonitoring(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)

	e.StartMonitoring(context.Background(), 10*time.Millisecond)
	e.StartMonitoring(context.Background(), 10*time.Millisecond) // idempotent
	e.StopMonitoring()
	e.StopMonitoring() // idempotent
}

func TestAdjustTrailPercent(t *testing.T) {
	e := newTestEngine(exchange.NewMock(10000))
	e.Enable("BTCUSDT", signal.SideBuy, 100, 2.0)

	assert.True(t, e.AdjustTrailPercent("BTCUSDT", 1.0))
	assert.InDelta(t, 1.0, e.GetStatus("BTCUSDT").TrailPercent, 1e-9)
	assert.False(t, e.AdjustTrailPercent("BTCUSDT", 0))
	assert.False(t, e.AdjustTrailPercent("ETHUSDT", 1.0))
}
