package pyramid

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
	return NewEngine(mock, orders, notify.NewLogNotifier(log), 0.01, 0.001, log)
}

func TestInitialize(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	err := e.Initialize(ctx, "BTCUSDT", signal.SideBuy, 100, 200, 7, 95, 5)
	require.NoError(t, err)
	require.True(t, e.IsActive("BTCUSDT"))

	// Only step 0 placed, at the entry price
	require.Len(t, mock.Placed, 1)
	assert.InDelta(t, 100, mock.Placed[0].Price, 1e-9)
	assert.InDelta(t, 1.4, mock.Placed[0].Qty, 1e-9) // 7/5 floored to step

	status := e.GetStatus("BTCUSDT")
	require.NotNil(t, status)
	assert.Equal(t, 5, status.TotalSteps)
	assert.Equal(t, 1, status.CurrentStep)
	assert.False(t, status.Completed)
}

func TestInitializePlaceFailure(t *testing.T) {
	mock := exchange.NewMock(10000)
	mock.FailPlace = true
	e := newTestEngine(mock)

	err := e.Initialize(context.Background(), "BTCUSDT", signal.SideBuy, 100, 200, 7, 0, 5)
	require.Error(t, err)
	assert.False(t, e.IsActive("BTCUSDT"))
}

func TestCheckAndScaleAdvancesOneStepPerCall(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.Initialize(ctx, "BTCUSDT", signal.SideBuy, 100, 200, 7, 0, 5))

	// Nothing filled yet
	placed, err := e.CheckAndScale(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, placed)

	// Three steps' worth of quantity filled at once (1.4 per step)
	mock.SetPosition("BTCUSDT", signal.SideBuy, 4.2, 110)

	// Still advances exactly one step per call
	placed, err = e.CheckAndScale(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, placed)
	require.Len(t, mock.Placed, 2)
	assert.InDelta(t, 125, mock.Placed[1].Price, 1e-9)

	placed, err = e.CheckAndScale(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, placed)
	require.Len(t, mock.Placed, 3)
	assert.InDelta(t, 150, mock.Placed[2].Price, 1e-9)

	placed, err = e.CheckAndScale(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, placed)
	require.Len(t, mock.Placed, 4)
	assert.InDelta(t, 175, mock.Placed[3].Price, 1e-9)

	// expected(3) no longer exceeds current step(3): no further order
	placed, err = e.CheckAndScale(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, placed)
	assert.Len(t, mock.Placed, 4)
}

func TestCheckAndScaleCompletes(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.Initialize(ctx, "BTCUSDT", signal.SideBuy, 100, 200, 7, 0, 5))

	// Walk the ladder to the last step
	mock.SetPosition("BTCUSDT", signal.SideBuy, 7, 140)
	for i := 0; i < 4; i++ {
		_, err := e.CheckAndScale(ctx, "BTCUSDT")
		require.NoError(t, err)
	}
	require.Len(t, mock.Placed, 5)

	// One more pass transitions to completed without placing anything
	placed, err := e.CheckAndScale(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, placed)
	assert.Len(t, mock.Placed, 5)

	status := e.GetStatus("BTCUSDT")
	require.NotNil(t, status)
	assert.True(t, status.Completed)
	assert.InDelta(t, 100, status.Completion, 1e-9)

	// Completed pyramid never places again
	placed, err = e.CheckAndScale(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, placed)
	assert.Len(t, mock.Placed, 5)
}

func TestAdjustStop(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.Initialize(ctx, "BTCUSDT", signal.SideBuy, 100, 200, 7, 95, 5))

	assert.True(t, e.AdjustStop("BTCUSDT", 97))
	assert.False(t, e.AdjustStop("ETHUSDT", 97))
}

func TestCancel(t *testing.T) {
	mock := exchange.NewMock(10000)
	e := newTestEngine(mock)
	ctx := context.Background()

	require.NoError(t, e.Initialize(ctx, "BTCUSDT", signal.SideBuy, 100, 200, 7, 0, 5))
	require.NoError(t, e.Cancel(ctx, "BTCUSDT"))

	assert.False(t, e.IsActive("BTCUSDT"))
	assert.Nil(t, e.GetStatus("BTCUSDT"))
	assert.Error(t, e.Cancel(ctx, "BTCUSDT"))
}
