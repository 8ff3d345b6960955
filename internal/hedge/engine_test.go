package hedge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/execution"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

func newTestEngine(mock *exchange.Mock) *Engine {
	log := logger.NewNop()
	orders := execution.NewEngine(mock, notify.NewLogNotifier(log), 0.01, 0.001, log)
	return NewEngine(mock, orders, notify.NewLogNotifier(log), 0.001, log)
}

func TestCreateFull(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)

	err := e.CreateFull(context.Background(), "BTCUSDT", signal.SideBuy, 1.5, 50000)
	require.NoError(t, err)

	require.Len(t, mock.Placed, 1)
	assert.Equal(t, signal.SideSell, mock.Placed[0].Side)
	assert.InDelta(t, 1.5, mock.Placed[0].Qty, 1e-9)

	require.True(t, e.IsHedged("BTCUSDT"))
	status := e.GetStatus("BTCUSDT")
	assert.Equal(t, KindFull, status.Kind)
	assert.True(t, status.IsActive)
}

func TestCreatePartial(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.Error(t, e.CreatePartial(ctx, "BTCUSDT", signal.SideBuy, 1.0, 0))
	require.Error(t, e.CreatePartial(ctx, "BTCUSDT", signal.SideBuy, 1.0, 101))

	err := e.CreatePartial(ctx, "BTCUSDT", signal.SideBuy, 1.0, 50)
	require.NoError(t, err)

	require.Len(t, mock.Placed, 1)
	assert.InDelta(t, 0.5, mock.Placed[0].Qty, 1e-9)
	assert.Equal(t, signal.SideSell, mock.Placed[0].Side)

	status := e.GetStatus("BTCUSDT")
	assert.Equal(t, KindPartial, status.Kind)
	assert.InDelta(t, 50, status.HedgePercent, 1e-9)
}

func TestStopHedgeTrigger(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.CreateStop(ctx, "BTCUSDT", signal.SideBuy, 48000, 1.0))
	assert.False(t, e.IsHedged("BTCUSDT"))
	assert.Empty(t, mock.Placed)

	// Price above trigger: still armed
	mock.SetPrice("BTCUSDT", 49000)
	e.CheckStopTriggers(ctx)
	assert.False(t, e.IsHedged("BTCUSDT"))
	assert.Empty(t, mock.Placed)

	// Price reaches trigger: hedge opens and activates
	mock.SetPrice("BTCUSDT", 48000)
	e.CheckStopTriggers(ctx)
	assert.True(t, e.IsHedged("BTCUSDT"))
	require.Len(t, mock.Placed, 1)
	assert.Equal(t, signal.SideSell, mock.Placed[0].Side)

	// Already active: no duplicate order on the next pass
	e.CheckStopTriggers(ctx)
	assert.Len(t, mock.Placed, 1)
}

func TestRemove(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	assert.Error(t, e.Remove(ctx, "BTCUSDT"))

	// Inactive stop hedge: untracked without touching the exchange
	require.NoError(t, e.CreateStop(ctx, "BTCUSDT", signal.SideBuy, 48000, 1.0))
	require.NoError(t, e.Remove(ctx, "BTCUSDT"))
	assert.Empty(t, mock.Closed)
	assert.Nil(t, e.GetStatus("BTCUSDT"))

	// Active hedge: closed at market
	require.NoError(t, e.CreateFull(ctx, "ETHUSDT", signal.SideBuy, 1.0, 3000))
	require.NoError(t, e.Remove(ctx, "ETHUSDT"))
	assert.Equal(t, []string{"ETHUSDT"}, mock.Closed)
	assert.False(t, e.IsHedged("ETHUSDT"))
}

func TestAdjust(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.CreateFull(ctx, "BTCUSDT", signal.SideBuy, 1.0, 50000))
	require.Len(t, mock.Placed, 1)

	// Increase: same side as hedge, for the difference
	require.NoError(t, e.Adjust(ctx, "BTCUSDT", 1.5))
	require.Len(t, mock.Placed, 2)
	assert.Equal(t, signal.SideSell, mock.Placed[1].Side)
	assert.InDelta(t, 0.5, mock.Placed[1].Qty, 1e-9)

	// Decrease: opposite side
	require.NoError(t, e.Adjust(ctx, "BTCUSDT", 1.2))
	require.Len(t, mock.Placed, 3)
	assert.Equal(t, signal.SideBuy, mock.Placed[2].Side)
	assert.InDelta(t, 0.3, mock.Placed[2].Qty, 1e-9)

	assert.InDelta(t, 1.2, e.GetStatus("BTCUSDT").HedgeQty, 1e-9)

	// No-op when unchanged
	require.NoError(t, e.Adjust(ctx, "BTCUSDT", 1.2))
	assert.Len(t, mock.Placed, 3)
}

func TestAutoHedgeOnLoss(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	mock.SetPosition("BTCUSDT", signal.SideBuy, 2.0, 50000)

	// Above the threshold: no-op
	created, err := e.AutoHedgeOnLoss(ctx, "BTCUSDT", signal.SideBuy, -3.0, -5.0)
	require.NoError(t, err)
	assert.False(t, created)

	// At the threshold: full hedge sized to the live position
	created, err = e.AutoHedgeOnLoss(ctx, "BTCUSDT", signal.SideBuy, -5.0, -5.0)
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, mock.Placed, 1)
	assert.InDelta(t, 2.0, mock.Placed[0].Qty, 1e-9)

	// Already hedged: no duplicate
	created, err = e.AutoHedgeOnLoss(ctx, "BTCUSDT", signal.SideBuy, -6.0, -5.0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, mock.Placed, 1)
}
