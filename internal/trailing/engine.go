package trailing

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/market"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

// state is the per-symbol ratchet stop.
type state struct {
	Side         signal.Side
	EntryPrice   float64
	TrailPercent float64
	HighestPrice float64 // favorable extreme for BUY
	LowestPrice  float64 // favorable extreme for SELL
	CurrentStop  float64
	Activated    bool // true once the stop has ratcheted at least once
	ProfitLocked float64
}

// Status is the externally visible trailing state for a symbol.
type Status struct {
	Symbol       string      `json:"symbol"`
	Side         signal.Side `json:"side"`
	EntryPrice   float64     `json:"entry_price"`
	CurrentStop  float64     `json:"current_stop"`
	TrailPercent float64     `json:"trail_percent"`
	ExtremePrice float64     `json:"extreme_price"`
	Activated    bool        `json:"activated"`
	ProfitLocked float64     `json:"profit_locked"`
}

// CloseFunc is invoked after the monitor closes a position on trigger.
// Used to feed the exit into re-entry tracking.
type CloseFunc func(symbol string, side signal.Side, exitPrice float64)

// Engine ratchets protective stops behind a moving price and closes
// positions when the stop is crossed.
// ⭐ SSOT: 트레일링 스탑 상태는 여기서만
type Engine struct {
	gateway  exchange.Gateway
	notifier notify.Notifier
	logger   *logger.Logger

	defaultTrailPct float64
	tickSize        float64

	mu        sync.Mutex
	positions map[string]*state
	onClose   CloseFunc

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEngine creates a trailing stop engine.
func NewEngine(gateway exchange.Gateway, notifier notify.Notifier, defaultTrailPct, tickSize float64, log *logger.Logger) *Engine {
	if tickSize <= 0 {
		tickSize = market.DefaultTickSize
	}
	return &Engine{
		gateway:         gateway,
		notifier:        notifier,
		logger:          log,
		defaultTrailPct: defaultTrailPct,
		tickSize:        tickSize,
		positions:       make(map[string]*state),
	}
}

// SetCloseHook registers a callback fired after a monitored position
// is closed by its trailing stop.
func (e *Engine) SetCloseHook(fn CloseFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = fn
}

// Enable starts trailing for a position. Extremes and stop start at
// the entry price; the stop is not armed until it ratchets once.
func (e *Engine) Enable(symbol string, side signal.Side, entryPrice, trailPercent float64) {
	if trailPercent <= 0 {
		trailPercent = e.defaultTrailPct
	}

	e.mu.Lock()
	e.positions[symbol] = &state{
		Side:         side,
		EntryPrice:   entryPrice,
		TrailPercent: trailPercent,
		HighestPrice: entryPrice,
		LowestPrice:  entryPrice,
		CurrentStop:  entryPrice,
	}
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"symbol":        symbol,
		"side":          side,
		"entry_price":   entryPrice,
		"trail_percent": trailPercent,
	}).Info("Trailing enabled")
}

// Disable stops trailing for a symbol.
func (e *Engine) Disable(symbol string) {
	e.mu.Lock()
	_, ok := e.positions[symbol]
	delete(e.positions, symbol)
	e.mu.Unlock()

	if ok {
		e.logger.WithField("symbol", symbol).Info("Trailing disabled")
	}
}

// UpdateStop recomputes the stop from a new price. Acts only when the
// price makes a new favorable extreme, and commits only when the
// candidate improves the current stop. Returns the new stop and
// whether it moved.
func (e *Engine) UpdateStop(symbol string, currentPrice float64) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.positions[symbol]
	if !ok {
		return 0, false
	}

	switch t.Side {
	case signal.SideBuy:
		if currentPrice <= t.HighestPrice {
			return 0, false
		}
		t.HighestPrice = currentPrice
	default:
		if currentPrice >= t.LowestPrice {
			return 0, false
		}
		t.LowestPrice = currentPrice
	}

	newStop := market.TrailingStop(t.EntryPrice, currentPrice, t.Side, t.TrailPercent, e.tickSize)

	// Ratchet: the stop only moves in the favorable direction
	improved := (t.Side == signal.SideBuy && newStop > t.CurrentStop) ||
		(t.Side == signal.SideSell && newStop < t.CurrentStop)
	if !improved {
		return 0, false
	}

	oldStop := t.CurrentStop
	t.CurrentStop = newStop
	t.Activated = true
	if t.Side == signal.SideBuy {
		t.ProfitLocked = (newStop - t.EntryPrice) / t.EntryPrice * 100
	} else {
		t.ProfitLocked = (t.EntryPrice - newStop) / t.EntryPrice * 100
	}

	e.logger.WithFields(map[string]interface{}{
		"symbol":        symbol,
		"old_stop":      oldStop,
		"new_stop":      newStop,
		"profit_locked": t.ProfitLocked,
	}).Info("Trailing stop updated")

	return newStop, true
}

// CheckTrigger reports whether the price has crossed the stop
// adversely. An unactivated stop never triggers; it must have moved
// at least once from its initial value.
func (e *Engine) CheckTrigger(symbol string, currentPrice float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.positions[symbol]
	if !ok || !t.Activated {
		return false
	}

	if t.Side == signal.SideBuy && currentPrice <= t.CurrentStop {
		e.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"price":  currentPrice,
			"stop":   t.CurrentStop,
		}).Warn("Trailing stop triggered")
		return true
	}
	if t.Side == signal.SideSell && currentPrice >= t.CurrentStop {
		e.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"price":  currentPrice,
			"stop":   t.CurrentStop,
		}).Warn("Trailing stop triggered")
		return true
	}
	return false
}

// StartMonitoring runs the polling loop until StopMonitoring is
// called. Errors are logged per iteration; a single symbol's failure
// never terminates the loop.
func (e *Engine) StartMonitoring(ctx context.Context, interval time.Duration) {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh, doneCh := e.stopCh, e.doneCh
	e.runMu.Unlock()

	e.logger.WithField("interval", interval.String()).Info("Trailing monitor started")

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				e.poll(ctx)
			}
		}
	}()
}

// poll runs one monitoring pass over every trailed symbol.
func (e *Engine) poll(ctx context.Context) {
	e.mu.Lock()
	symbols := lo.Keys(e.positions)
	e.mu.Unlock()

	for _, symbol := range symbols {
		ticker, err := e.gateway.GetTicker(ctx, symbol)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"error":  err,
			}).Error("Trailing monitor ticker fetch failed")
			continue
		}
		price := ticker.LastPrice
		if price <= 0 {
			continue
		}

		e.UpdateStop(symbol, price)

		if !e.CheckTrigger(symbol, price) {
			continue
		}

		e.mu.Lock()
		t, ok := e.positions[symbol]
		var side signal.Side
		var hook CloseFunc
		if ok {
			side = t.Side
			hook = e.onClose
		}
		e.mu.Unlock()
		if !ok {
			continue
		}

		if err := e.gateway.ClosePosition(ctx, symbol, side); err != nil {
			e.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"error":  err,
			}).Error("Failed to close position on trailing trigger")
			continue
		}

		e.Disable(symbol)

		e.notifier.Publish(ctx, notify.Event{
			Type:    notify.EventPositionClosed,
			Level:   notify.LevelWarning,
			Symbol:  symbol,
			Message: "🛑 Position closed by trailing stop",
			Fields: map[string]interface{}{
				"side":  side,
				"price": price,
			},
		})

		if hook != nil {
			hook(symbol, side, price)
		}
	}
}

// StopMonitoring terminates the polling loop and waits for it to exit.
func (e *Engine) StopMonitoring() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.running {
		return
	}
	close(e.stopCh)
	<-e.doneCh
	e.running = false
	e.logger.Info("Trailing monitor stopped")
}

// GetStatus returns the trailing state for a symbol, nil if none.
func (e *Engine) GetStatus(symbol string) *Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.positions[symbol]
	if !ok {
		return nil
	}

	extreme := t.HighestPrice
	if t.Side == signal.SideSell {
		extreme = t.LowestPrice
	}
	return &Status{
		Symbol:       symbol,
		Side:         t.Side,
		EntryPrice:   t.EntryPrice,
		CurrentStop:  t.CurrentStop,
		TrailPercent: t.TrailPercent,
		ExtremePrice: extreme,
		Activated:    t.Activated,
		ProfitLocked: t.ProfitLocked,
	}
}

// ActiveSymbols returns every symbol currently being trailed.
func (e *Engine) ActiveSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Keys(e.positions)
}

// AdjustTrailPercent changes the trail distance for a symbol.
func (e *Engine) AdjustTrailPercent(symbol string, newPercent float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.positions[symbol]
	if !ok || newPercent <= 0 {
		return false
	}

	old := t.TrailPercent
	t.TrailPercent = newPercent
	e.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"old":    old,
		"new":    newPercent,
	}).Info("Trail percent adjusted")
	return true
}
