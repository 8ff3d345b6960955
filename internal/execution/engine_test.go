package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

func newTestEngine(mock *exchange.Mock) *Engine {
	log := logger.NewNop()
	return NewEngine(mock, notify.NewLogNotifier(log), 0.01, 0.001, log)
}

func TestSecondLegPrice(t *testing.T) {
	e := newTestEngine(exchange.NewMock(10000))

	// BUY: 0.2% lower, SELL: 0.2% higher
	assert.InDelta(t, 49900, e.SecondLegPrice(signal.SideBuy, 50000), 1e-9)
	assert.InDelta(t, 50100, e.SecondLegPrice(signal.SideSell, 50000), 1e-9)
}

func TestExecuteDualLimit(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	err := e.ExecuteDualLimit(ctx, "BTCUSDT", signal.SideBuy, 50000, 1.0, 49000, 0)
	require.NoError(t, err)

	require.Len(t, mock.Placed, 2)
	assert.InDelta(t, 0.5, mock.Placed[0].Qty, 1e-9)
	assert.InDelta(t, 50000, mock.Placed[0].Price, 1e-9)
	assert.InDelta(t, 49900, mock.Placed[1].Price, 1e-9)

	assert.Len(t, e.TrackedOrders("BTCUSDT"), 2)
}

func TestExecuteDualLimitFirstLegFails(t *testing.T) {
	mock := exchange.NewMock(10000)
	mock.FailPlace = true
	e := newTestEngine(mock)

	err := e.ExecuteDualLimit(context.Background(), "BTCUSDT", signal.SideBuy, 50000, 1.0, 0, 0)
	require.Error(t, err)
	assert.Empty(t, mock.Placed)
	assert.Empty(t, e.TrackedOrders("BTCUSDT"))
}

func TestExecuteDualLimitSecondLegCompensation(t *testing.T) {
	mock := exchange.NewMock(10000)
	mock.FailPlaceAfter = 1 // first leg succeeds, second rejected
	e := newTestEngine(mock)

	err := e.ExecuteDualLimit(context.Background(), "BTCUSDT", signal.SideBuy, 50000, 1.0, 0, 0)
	require.Error(t, err)

	// First leg was cancelled and nothing is tracked
	require.Len(t, mock.Placed, 1)
	assert.Equal(t, []string{mock.Placed[0].ID}, mock.Cancelled)
	assert.Empty(t, e.TrackedOrders("BTCUSDT"))
}

func TestMergePartialFills(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.ExecuteDualLimit(ctx, "BTCUSDT", signal.SideBuy, 50000, 1.0, 0, 0))
	ids := e.TrackedOrders("BTCUSDT")
	require.Len(t, ids, 2)

	// Nothing filled yet: both legs still open, no merge
	changed, err := e.MergePartialFills(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, changed)

	// First leg fills and a position appears
	mock.RemoveOpenOrder("BTCUSDT", ids[0])
	mock.SetPosition("BTCUSDT", signal.SideBuy, 0.5, 50000)

	changed, err = e.MergePartialFills(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, changed)

	// Losing leg cancelled, tracking cleared
	assert.Contains(t, mock.Cancelled, ids[1])
	assert.Empty(t, e.TrackedOrders("BTCUSDT"))

	// Idempotent once cleared
	changed, err = e.MergePartialFills(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMergePartialFillsNoPosition(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.ExecuteDualLimit(ctx, "BTCUSDT", signal.SideBuy, 50000, 1.0, 0, 0))
	ids := e.TrackedOrders("BTCUSDT")
	mock.RemoveOpenOrder("BTCUSDT", ids[0])

	// One leg gone but no position reported: leave everything alone
	changed, err := e.MergePartialFills(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, e.TrackedOrders("BTCUSDT"), 2)
}

func TestReplaceLimitOrder(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.ExecuteDualLimit(ctx, "BTCUSDT", signal.SideBuy, 50000, 1.0, 0, 0))
	firstID := e.TrackedOrders("BTCUSDT")[0]

	err := e.ReplaceLimitOrder(ctx, "BTCUSDT", 50000, 49500, 0.5, signal.SideBuy)
	require.NoError(t, err)

	assert.Contains(t, mock.Cancelled, firstID)
	assert.Len(t, e.TrackedOrders("BTCUSDT"), 2)
	assert.NotContains(t, e.TrackedOrders("BTCUSDT"), firstID)
}

func TestReplaceLimitOrderCancelFails(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.ExecuteDualLimit(ctx, "BTCUSDT", signal.SideBuy, 50000, 1.0, 0, 0))
	placedBefore := len(mock.Placed)

	mock.FailCancel = true
	err := e.ReplaceLimitOrder(ctx, "BTCUSDT", 50000, 49500, 0.5, signal.SideBuy)
	require.Error(t, err)

	// No replacement placed after the failed cancel
	assert.Len(t, mock.Placed, placedBefore)
	assert.Len(t, e.TrackedOrders("BTCUSDT"), 2)
}

func TestCancelAllSymbolOrders(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.ExecuteDualLimit(ctx, "BTCUSDT", signal.SideBuy, 50000, 1.0, 0, 0))
	require.NoError(t, e.CancelAllSymbolOrders(ctx, "BTCUSDT"))

	assert.Len(t, mock.Cancelled, 2)
	assert.Empty(t, e.TrackedOrders("BTCUSDT"))
	assert.Empty(t, e.TrackedSymbols())
}

func TestCleanupFilledOrders(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.ExecuteDualLimit(ctx, "BTCUSDT", signal.SideBuy, 50000, 1.0, 0, 0))
	ids := e.TrackedOrders("BTCUSDT")

	// One leg fills
	mock.RemoveOpenOrder("BTCUSDT", ids[0])
	require.NoError(t, e.CleanupFilledOrders(ctx, "BTCUSDT"))
	assert.Equal(t, []string{ids[1]}, e.TrackedOrders("BTCUSDT"))

	// Both gone: tracking fully cleared
	mock.RemoveOpenOrder("BTCUSDT", ids[1])
	require.NoError(t, e.CleanupFilledOrders(ctx, "BTCUSDT"))
	assert.Empty(t, e.TrackedOrders("BTCUSDT"))
	assert.Empty(t, e.TrackedSymbols())
}
