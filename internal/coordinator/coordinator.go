package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/execution"
	"github.com/wonny/talos/internal/hedge"
	"github.com/wonny/talos/internal/market"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/pyramid"
	"github.com/wonny/talos/internal/reentry"
	"github.com/wonny/talos/internal/risk"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/internal/trailing"
	"github.com/wonny/talos/pkg/config"
	"github.com/wonny/talos/pkg/logger"
)

// Coordinator routes signals to the right entry strategy and runs the
// periodic reconciliation pass over every open position.
// ⭐ SSOT: 전략 조합과 포지션 수명 주기는 여기서만
type Coordinator struct {
	cfg      *config.Config
	gateway  exchange.Gateway
	risk     *risk.Manager
	orders   *execution.Engine
	pyramid  *pyramid.Engine
	trailing *trailing.Engine
	hedge    *hedge.Engine
	reentry  *reentry.Engine
	notifier notify.Notifier
	logger   *logger.Logger

	// Per-symbol critical sections for read-decide-mutate-call
	locks *symLock

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New wires the strategy engines together.
func New(
	cfg *config.Config,
	gateway exchange.Gateway,
	riskMgr *risk.Manager,
	orders *execution.Engine,
	pyramidEng *pyramid.Engine,
	trailingEng *trailing.Engine,
	hedgeEng *hedge.Engine,
	reentryEng *reentry.Engine,
	notifier notify.Notifier,
	log *logger.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		gateway:  gateway,
		risk:     riskMgr,
		orders:   orders,
		pyramid:  pyramidEng,
		trailing: trailingEng,
		hedge:    hedgeEng,
		reentry:  reentryEng,
		notifier: notifier,
		logger:   log,
		locks:    newSymLock(),
	}

	// Stopped-out positions feed back into re-entry tracking
	trailingEng.SetCloseHook(c.onTrailingClose)
	return c
}

// Start launches the trailing monitor and the reconciliation loop.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.runMu.Unlock()

	c.trailing.StartMonitoring(ctx, c.cfg.Trading.TrailingInterval)

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(c.cfg.Trading.MonitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				c.Reconcile(ctx)
			}
		}
	}()

	c.logger.Info("🚀 Coordinator started")
}

// Stop terminates the monitors and waits for the loop to exit.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if !c.running {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.running = false

	c.trailing.StopMonitoring()
	c.logger.Info("Coordinator stopped")
}

// HandleSignal validates an inbound signal and executes it.
func (c *Coordinator) HandleSignal(ctx context.Context, sig *signal.Signal) error {
	sig.Normalize()
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": sig.Symbol,
		"side":   sig.Side,
		"entry":  sig.Entry(),
	}).Info("Signal received")

	return c.ExecuteTrade(ctx, sig)
}

// ExecuteTrade runs the full entry flow: risk gate, sizing,
// validation, then dual-limit or pyramid placement.
func (c *Coordinator) ExecuteTrade(ctx context.Context, sig *signal.Signal) error {
	symbol := sig.Symbol
	c.locks.Lock(symbol)
	defer c.locks.Unlock(symbol)

	ok, reason := c.risk.CanOpenPosition()
	if !ok {
		c.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		}).Warn("Trade blocked")
		c.notifier.Publish(ctx, notify.Event{
			Type:    notify.EventTradeBlocked,
			Level:   notify.LevelWarning,
			Symbol:  symbol,
			Message: fmt.Sprintf("⛔ Trade blocked: %s", reason),
		})
		return fmt.Errorf("trade blocked: %s", reason)
	}

	balance, err := c.gateway.GetBalance(ctx, "USDT")
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	leverage := sig.Leverage
	if leverage <= 0 {
		leverage = c.cfg.Trading.DefaultLeverage
	}
	if err := c.gateway.SetLeverage(ctx, symbol, leverage); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}

	entry := sig.Entry()
	var quantity float64
	if sig.StopLoss > 0 {
		quantity = c.risk.PositionSize(balance, entry, sig.StopLoss, c.risk.AdjustedRiskPercent(), leverage)
	} else {
		// No stop to size against: 1% of balance at leverage
		quantity = market.RoundQuantity(balance*0.01*float64(leverage)/entry, c.cfg.Trading.QtyStep)
	}

	if ok, msg := c.risk.ValidateOrder(symbol, quantity, entry, sig.StopLoss); !ok {
		c.notifier.Publish(ctx, notify.Event{
			Type:    notify.EventTradeBlocked,
			Level:   notify.LevelError,
			Symbol:  symbol,
			Message: fmt.Sprintf("⛔ Order invalid: %s", msg),
		})
		return fmt.Errorf("order validation failed: %s", msg)
	}

	if sig.IsRanged() {
		return c.executePyramidTrade(ctx, sig, quantity)
	}

	takeProfit := 0.0
	if len(sig.Targets) > 0 {
		takeProfit = sig.Targets[0]
	}

	if err := c.orders.ExecuteDualLimit(ctx, symbol, sig.Side, entry, quantity, sig.StopLoss, takeProfit); err != nil {
		return fmt.Errorf("execute trade: %w", err)
	}

	c.risk.AddPosition(symbol, risk.ActivePosition{
		EntryPrice: entry,
		Quantity:   quantity,
		Side:       sig.Side,
		StopLoss:   sig.StopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   time.Now(),
	})
	c.trailing.Enable(symbol, sig.Side, entry, c.cfg.Risk.TrailingStopPercent)

	c.logger.WithField("symbol", symbol).Info("✅ Trade executed")
	return nil
}

// executePyramidTrade scales in across the signal's entry range.
func (c *Coordinator) executePyramidTrade(ctx context.Context, sig *signal.Signal, quantity float64) error {
	symbol := sig.Symbol
	entryPrice := sig.Entries[0]
	targetPrice := sig.Entries[len(sig.Entries)-1]

	err := c.pyramid.Initialize(ctx, symbol, sig.Side, entryPrice, targetPrice, quantity, sig.StopLoss, c.cfg.Trading.PyramidSteps)
	if err != nil {
		return fmt.Errorf("pyramid trade: %w", err)
	}

	c.risk.AddPosition(symbol, risk.ActivePosition{
		EntryPrice: entryPrice,
		Quantity:   quantity,
		Side:       sig.Side,
		StopLoss:   sig.StopLoss,
		OpenedAt:   time.Now(),
	})
	c.trailing.Enable(symbol, sig.Side, entryPrice, c.cfg.Risk.TrailingStopPercent)

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"range":  fmt.Sprintf("%.2f - %.2f", entryPrice, targetPrice),
	}).Info("Pyramid trade initialized")
	return nil
}

// ClosePosition closes a position at market and clears all strategy
// state for the symbol.
func (c *Coordinator) ClosePosition(ctx context.Context, symbol string) error {
	c.locks.Lock(symbol)
	defer c.locks.Unlock(symbol)

	pos, err := c.gateway.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	if pos == nil || pos.Size == 0 {
		return fmt.Errorf("no open position for %s", symbol)
	}

	if err := c.gateway.ClosePosition(ctx, symbol, pos.Side); err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	removed, tracked := c.risk.RemovePosition(symbol)
	c.trailing.Disable(symbol)

	// Manual closes are not re-entry candidates, but the exit is still
	// routed through the engine so the reason filter stays the one gate.
	if tracked {
		c.reentry.RegisterExit(symbol, pos.Side, pos.AvgPrice, "MANUAL", removed.Quantity)
	}

	if c.pyramid.IsActive(symbol) {
		if err := c.pyramid.Cancel(ctx, symbol); err != nil {
			c.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"error":  err,
			}).Warn("Pyramid cancel on close failed")
		}
	}

	c.notifier.Publish(ctx, notify.Event{
		Type:    notify.EventPositionClosed,
		Level:   notify.LevelSuccess,
		Symbol:  symbol,
		Message: fmt.Sprintf("Position closed: %s", symbol),
		Fields: map[string]interface{}{
			"size": pos.Size,
			"side": pos.Side,
		},
	})
	return nil
}

// UpdatePosition applies a stop-loss or target revision. A stop
// change cancels resting entry orders; re-placement follows on the
// next signal.
func (c *Coordinator) UpdatePosition(ctx context.Context, symbol string, stopLoss float64, targets []float64) error {
	c.locks.Lock(symbol)
	defer c.locks.Unlock(symbol)

	if stopLoss > 0 {
		if err := c.orders.CancelAllSymbolOrders(ctx, symbol); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		c.pyramid.AdjustStop(symbol, stopLoss)
		c.logger.WithFields(map[string]interface{}{
			"symbol":    symbol,
			"stop_loss": stopLoss,
		}).Info("Stop loss updated")
	}

	if len(targets) > 0 {
		c.logger.WithFields(map[string]interface{}{
			"symbol":  symbol,
			"targets": targets,
		}).Info("Targets updated")
	}
	return nil
}

// Reconcile runs one reconciliation pass over every open position:
// pyramid scaling, partial-fill merging, PnL refresh, auto-hedging,
// and re-entry checks. Errors are logged per symbol, never fatal.
func (c *Coordinator) Reconcile(ctx context.Context) {
	c.hedge.CheckStopTriggers(ctx)

	for _, symbol := range c.risk.OpenSymbols() {
		c.reconcileSymbol(ctx, symbol)
	}

	// Re-entry candidates live past position close
	for _, symbol := range c.reentry.TrackedSymbols() {
		c.checkReentry(ctx, symbol)
	}
}

func (c *Coordinator) reconcileSymbol(ctx context.Context, symbol string) {
	c.locks.Lock(symbol)
	defer c.locks.Unlock(symbol)

	if c.pyramid.IsActive(symbol) {
		if _, err := c.pyramid.CheckAndScale(ctx, symbol); err != nil {
			c.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"error":  err,
			}).Error("Pyramid scale check failed")
		}
	}

	if _, err := c.orders.MergePartialFills(ctx, symbol); err != nil {
		c.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"error":  err,
		}).Error("Partial fill merge failed")
	}

	pos, ok := c.risk.GetPosition(symbol)
	if !ok {
		return
	}

	ticker, err := c.gateway.GetTicker(ctx, symbol)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"error":  err,
		}).Error("Ticker fetch failed")
		return
	}

	pnl := market.PnL(pos.EntryPrice, ticker.LastPrice, pos.Quantity, pos.Side)
	pnlPct := market.PnLPercent(pos.EntryPrice, ticker.LastPrice, pos.Side)
	c.risk.UpdatePositionPnL(symbol, pnl)

	if _, err := c.hedge.AutoHedgeOnLoss(ctx, symbol, pos.Side, pnlPct, c.cfg.Risk.AutoHedgeThreshold); err != nil {
		c.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"error":  err,
		}).Error("Auto-hedge check failed")
	}
}

func (c *Coordinator) checkReentry(ctx context.Context, symbol string) {
	c.locks.Lock(symbol)
	defer c.locks.Unlock(symbol)

	ticker, err := c.gateway.GetTicker(ctx, symbol)
	if err != nil {
		return
	}
	if !c.reentry.CheckOpportunity(symbol, ticker.LastPrice) {
		return
	}

	if err := c.reentry.ExecuteReentry(ctx, symbol, 0, 0); err != nil {
		c.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"error":  err,
		}).Warn("Re-entry attempt failed")
	}
}

// onTrailingClose records a trailing-stop exit so the re-entry engine
// can track it, and drops the position from the risk registry.
func (c *Coordinator) onTrailingClose(symbol string, side signal.Side, exitPrice float64) {
	pos, removed := c.risk.RemovePosition(symbol)
	qty := 0.0
	if removed {
		qty = pos.Quantity
		realized := market.PnL(pos.EntryPrice, exitPrice, pos.Quantity, side)
		c.risk.UpdateDailyPnL(realized)
	}

	c.reentry.RegisterExit(symbol, side, exitPrice, "TRAILING STOP", qty)
}

// Status returns the current risk metrics snapshot.
func (c *Coordinator) Status() risk.Metrics {
	return c.risk.GetMetrics()
}

// Balance fetches the wallet balance.
func (c *Coordinator) Balance(ctx context.Context) (float64, error) {
	return c.gateway.GetBalance(ctx, "USDT")
}

// PositionView is a live position joined with its tracked state.
type PositionView struct {
	Symbol        string      `json:"symbol"`
	Side          signal.Side `json:"side"`
	Size          float64     `json:"size"`
	AvgPrice      float64     `json:"avg_price"`
	UnrealizedPnL float64     `json:"unrealized_pnl"`
}

// Positions lists every registered position with live exchange data.
func (c *Coordinator) Positions(ctx context.Context) ([]PositionView, error) {
	views := make([]PositionView, 0)
	for _, symbol := range c.risk.OpenSymbols() {
		pos, err := c.gateway.GetPosition(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("get position %s: %w", symbol, err)
		}
		if pos == nil {
			continue
		}
		views = append(views, PositionView{
			Symbol:        symbol,
			Side:          pos.Side,
			Size:          pos.Size,
			AvgPrice:      pos.AvgPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
		})
	}
	return views, nil
}
