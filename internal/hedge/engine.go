package hedge

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/execution"
	"github.com/wonny/talos/internal/market"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

// Kind classifies a hedge. The three kinds have independent shapes,
// there is no shared state machine between them.
type Kind string

const (
	KindFull    Kind = "full"
	KindPartial Kind = "partial"
	KindStop    Kind = "stop"
)

// record tracks one hedge per symbol.
type record struct {
	Kind         Kind
	MainSide     signal.Side
	MainQty      float64
	MainEntry    float64
	HedgeSide    signal.Side
	HedgeQty     float64
	HedgePercent float64 // partial only
	TriggerPrice float64 // stop only
	OrderID      string  // stop only
	IsActive     bool
}

// Status is the externally visible hedge state for a symbol.
type Status struct {
	Symbol       string      `json:"symbol"`
	Kind         Kind        `json:"kind"`
	MainSide     signal.Side `json:"main_side"`
	HedgeSide    signal.Side `json:"hedge_side"`
	HedgeQty     float64     `json:"hedge_quantity"`
	HedgePercent float64     `json:"hedge_percent,omitempty"`
	TriggerPrice float64     `json:"trigger_price,omitempty"`
	IsActive     bool        `json:"is_active"`
}

// Engine opens opposite-side positions to cap downside on a losing
// main position.
// ⭐ SSOT: 헤지 상태는 여기서만
type Engine struct {
	gateway  exchange.Gateway
	orders   *execution.Engine
	notifier notify.Notifier
	logger   *logger.Logger

	qtyStep float64

	mu     sync.Mutex
	hedges map[string]*record
}

// NewEngine creates a hedge engine.
func NewEngine(gateway exchange.Gateway, orders *execution.Engine, notifier notify.Notifier, qtyStep float64, log *logger.Logger) *Engine {
	if qtyStep <= 0 {
		qtyStep = market.DefaultQtyStep
	}
	return &Engine{
		gateway:  gateway,
		orders:   orders,
		notifier: notifier,
		logger:   log,
		qtyStep:  qtyStep,
		hedges:   make(map[string]*record),
	}
}

// CreateFull opens a market position opposite to the main position,
// sized 1:1.
func (e *Engine) CreateFull(ctx context.Context, symbol string, mainSide signal.Side, mainQty, mainEntry float64) error {
	hedgeSide := mainSide.Opposite()

	e.logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"main_side": mainSide,
		"qty":       mainQty,
	}).Info("Creating full hedge")

	if err := e.orders.ExecuteMarketOrder(ctx, symbol, hedgeSide, mainQty, 0, 0); err != nil {
		return fmt.Errorf("full hedge: %w", err)
	}

	e.mu.Lock()
	e.hedges[symbol] = &record{
		Kind:      KindFull,
		MainSide:  mainSide,
		MainQty:   mainQty,
		MainEntry: mainEntry,
		HedgeSide: hedgeSide,
		HedgeQty:  mainQty,
		IsActive:  true,
	}
	e.mu.Unlock()

	e.notifier.Publish(ctx, notify.Event{
		Type:    notify.EventHedgeCreated,
		Level:   notify.LevelWarning,
		Symbol:  symbol,
		Message: fmt.Sprintf("🛡️ Full hedge created: %s %.4f", hedgeSide, mainQty),
		Fields: map[string]interface{}{
			"kind":       KindFull,
			"hedge_side": hedgeSide,
			"quantity":   mainQty,
		},
	})
	return nil
}

// CreatePartial hedges a percentage of the main position.
func (e *Engine) CreatePartial(ctx context.Context, symbol string, mainSide signal.Side, mainQty, percent float64) error {
	if percent <= 0 || percent > 100 {
		return fmt.Errorf("invalid hedge percent: %v", percent)
	}

	hedgeQty := market.RoundQuantity(mainQty*percent/100, e.qtyStep)
	if hedgeQty <= 0 {
		return fmt.Errorf("hedge quantity too small: %v%% of %v", percent, mainQty)
	}
	hedgeSide := mainSide.Opposite()

	if err := e.orders.ExecuteMarketOrder(ctx, symbol, hedgeSide, hedgeQty, 0, 0); err != nil {
		return fmt.Errorf("partial hedge: %w", err)
	}

	e.mu.Lock()
	e.hedges[symbol] = &record{
		Kind:         KindPartial,
		MainSide:     mainSide,
		MainQty:      mainQty,
		HedgeSide:    hedgeSide,
		HedgeQty:     hedgeQty,
		HedgePercent: percent,
		IsActive:     true,
	}
	e.mu.Unlock()

	e.notifier.Publish(ctx, notify.Event{
		Type:    notify.EventHedgeCreated,
		Level:   notify.LevelWarning,
		Symbol:  symbol,
		Message: fmt.Sprintf("🛡️ Partial hedge created: %.0f%% (%s %.4f)", percent, hedgeSide, hedgeQty),
		Fields: map[string]interface{}{
			"kind":     KindPartial,
			"percent":  percent,
			"quantity": hedgeQty,
		},
	})
	return nil
}

// CreateStop records a hedge that activates only once price reaches
// the trigger. The exchange offers no conditional-order primitive
// here, so activation detection happens in CheckStopTriggers.
func (e *Engine) CreateStop(ctx context.Context, symbol string, mainSide signal.Side, triggerPrice, hedgeQty float64) error {
	hedgeSide := mainSide.Opposite()

	e.mu.Lock()
	e.hedges[symbol] = &record{
		Kind:         KindStop,
		MainSide:     mainSide,
		HedgeSide:    hedgeSide,
		HedgeQty:     hedgeQty,
		TriggerPrice: triggerPrice,
		IsActive:     false,
	}
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"trigger": triggerPrice,
		"qty":     hedgeQty,
	}).Info("Stop hedge armed")
	return nil
}

// CheckStopTriggers scans armed stop hedges against the current price
// and opens the hedge position for any whose trigger has been reached.
// Called from the reconciliation pass.
func (e *Engine) CheckStopTriggers(ctx context.Context) {
	e.mu.Lock()
	armed := make(map[string]record)
	for symbol, h := range e.hedges {
		if h.Kind == KindStop && !h.IsActive {
			armed[symbol] = *h
		}
	}
	e.mu.Unlock()

	for symbol, h := range armed {
		ticker, err := e.gateway.GetTicker(ctx, symbol)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"error":  err,
			}).Warn("Stop hedge trigger check failed")
			continue
		}
		price := ticker.LastPrice

		// Trigger fires when price moves adversely for the main side
		hit := (h.MainSide == signal.SideBuy && price <= h.TriggerPrice) ||
			(h.MainSide == signal.SideSell && price >= h.TriggerPrice)
		if !hit {
			continue
		}

		if err := e.orders.ExecuteMarketOrder(ctx, symbol, h.HedgeSide, h.HedgeQty, 0, 0); err != nil {
			e.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"error":  err,
			}).Error("Stop hedge execution failed")
			continue
		}

		e.mu.Lock()
		if cur, ok := e.hedges[symbol]; ok {
			cur.IsActive = true
		}
		e.mu.Unlock()

		e.notifier.Publish(ctx, notify.Event{
			Type:    notify.EventHedgeCreated,
			Level:   notify.LevelWarning,
			Symbol:  symbol,
			Message: fmt.Sprintf("🛡️ Stop hedge triggered @ %.2f", price),
			Fields: map[string]interface{}{
				"kind":    KindStop,
				"trigger": h.TriggerPrice,
				"price":   price,
			},
		})
	}
}

// Remove unwinds a hedge. An inactive hedge has nothing to unwind and
// is simply untracked.
func (e *Engine) Remove(ctx context.Context, symbol string) error {
	e.mu.Lock()
	h, ok := e.hedges[symbol]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no hedge for %s", symbol)
	}
	active := h.IsActive
	hedgeSide := h.HedgeSide
	if !active {
		delete(e.hedges, symbol)
	}
	e.mu.Unlock()

	if !active {
		e.logger.WithField("symbol", symbol).Info("Inactive hedge untracked")
		return nil
	}

	if err := e.gateway.ClosePosition(ctx, symbol, hedgeSide); err != nil {
		return fmt.Errorf("close hedge: %w", err)
	}

	e.mu.Lock()
	delete(e.hedges, symbol)
	e.mu.Unlock()

	e.logger.WithField("symbol", symbol).Info("Hedge removed")
	return nil
}

// Adjust resizes an active hedge with a single market order for the
// signed difference. Tracked quantity updates only on success.
func (e *Engine) Adjust(ctx context.Context, symbol string, newQty float64) error {
	e.mu.Lock()
	h, ok := e.hedges[symbol]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no hedge for %s", symbol)
	}
	currentQty := h.HedgeQty
	hedgeSide := h.HedgeSide
	e.mu.Unlock()

	if newQty == currentQty {
		return nil
	}

	diff := newQty - currentQty
	side := hedgeSide
	if diff < 0 {
		side = hedgeSide.Opposite()
	}

	if err := e.orders.ExecuteMarketOrder(ctx, symbol, side, market.RoundQuantity(absFloat(diff), e.qtyStep), 0, 0); err != nil {
		return fmt.Errorf("adjust hedge: %w", err)
	}

	e.mu.Lock()
	if cur, ok := e.hedges[symbol]; ok {
		cur.HedgeQty = newQty
	}
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"old":    currentQty,
		"new":    newQty,
	}).Info("Hedge adjusted")
	return nil
}

// AutoHedgeOnLoss opens a full hedge once unrealized PnL falls to the
// loss threshold, unless the symbol is already hedged. The policy hook
// the reconciliation pass calls every cycle. Returns whether a hedge
// was created.
func (e *Engine) AutoHedgeOnLoss(ctx context.Context, symbol string, mainSide signal.Side, pnlPercent, lossThreshold float64) (bool, error) {
	if pnlPercent > lossThreshold {
		return false, nil
	}
	if e.IsHedged(symbol) {
		return false, nil
	}

	e.logger.WithFields(map[string]interface{}{
		"symbol":      symbol,
		"pnl_percent": pnlPercent,
		"threshold":   lossThreshold,
	}).Warn("Auto-hedge triggered 🚨")

	pos, err := e.gateway.GetPosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("get position: %w", err)
	}
	if pos == nil || pos.Size == 0 {
		return false, nil
	}

	if err := e.CreateFull(ctx, symbol, mainSide, pos.Size, pos.AvgPrice); err != nil {
		return false, err
	}
	return true, nil
}

// IsHedged reports whether the symbol has an active hedge.
func (e *Engine) IsHedged(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.hedges[symbol]
	return ok && h.IsActive
}

// GetStatus returns the hedge state for a symbol, nil if none.
func (e *Engine) GetStatus(symbol string) *Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hedges[symbol]
	if !ok {
		return nil
	}
	return &Status{
		Symbol:       symbol,
		Kind:         h.Kind,
		MainSide:     h.MainSide,
		HedgeSide:    h.HedgeSide,
		HedgeQty:     h.HedgeQty,
		HedgePercent: h.HedgePercent,
		TriggerPrice: h.TriggerPrice,
		IsActive:     h.IsActive,
	}
}

// TrackedSymbols returns every symbol with a tracked hedge.
func (e *Engine) TrackedSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Keys(e.hedges)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
