package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/market"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

// secondLegOffsetPct is how much more favorable the second dual-limit
// leg is priced relative to the first (lower for BUY, higher for SELL).
const secondLegOffsetPct = 0.2

// Engine places and cancels orders through the exchange gateway and
// reconciles partially filled dual-limit entries.
// ⭐ SSOT: 주문 추적 상태는 여기서만
type Engine struct {
	gateway  exchange.Gateway
	notifier notify.Notifier
	logger   *logger.Logger

	tickSize float64
	qtyStep  float64

	mu sync.Mutex
	// pending: symbol -> order ids from the dual-limit entry, in
	// placement order. At most 2 entries per symbol.
	pending map[string][]string
	// limits: symbol -> limit price -> order id (replace-by-price용)
	limits map[string]map[float64]string
}

// NewEngine creates an order execution engine.
func NewEngine(gateway exchange.Gateway, notifier notify.Notifier, tickSize, qtyStep float64, log *logger.Logger) *Engine {
	if tickSize <= 0 {
		tickSize = market.DefaultTickSize
	}
	if qtyStep <= 0 {
		qtyStep = market.DefaultQtyStep
	}
	return &Engine{
		gateway:  gateway,
		notifier: notifier,
		logger:   log,
		tickSize: tickSize,
		qtyStep:  qtyStep,
		pending:  make(map[string][]string),
		limits:   make(map[string]map[float64]string),
	}
}

// SecondLegPrice computes the price of the second dual-limit leg:
// 0.2% more favorable than the first, rounded to tick size.
func (e *Engine) SecondLegPrice(side signal.Side, entryPrice float64) float64 {
	offset := entryPrice * secondLegOffsetPct / 100
	if side == signal.SideBuy {
		return market.RoundPrice(entryPrice-offset, e.tickSize)
	}
	return market.RoundPrice(entryPrice+offset, e.tickSize)
}

// ExecuteDualLimit splits quantity into two equal legs and places them
// as limit orders: the first at entryPrice, the second 0.2% more
// favorable. If the second leg fails after the first succeeded, the
// first is cancelled so no partial dual-limit state is left behind.
func (e *Engine) ExecuteDualLimit(ctx context.Context, symbol string, side signal.Side, entryPrice, quantity, stopLoss, takeProfit float64) error {
	legQty := market.RoundQuantity(quantity/2, e.qtyStep)
	if legQty <= 0 {
		return fmt.Errorf("dual limit quantity too small: %v", quantity)
	}

	secondPrice := e.SecondLegPrice(side, entryPrice)

	e.logger.WithFields(map[string]interface{}{
		"symbol":       symbol,
		"side":         side,
		"entry_price":  entryPrice,
		"second_price": secondPrice,
		"leg_qty":      legQty,
	}).Info("Executing dual limit entry")

	first, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       exchange.OrderTypeLimit,
		Qty:        legQty,
		Price:      entryPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		return fmt.Errorf("first leg failed: %w", err)
	}

	second, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       exchange.OrderTypeLimit,
		Qty:        legQty,
		Price:      secondPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		// 보상 트랜잭션: 첫 번째 주문 취소
		if cancelErr := e.gateway.CancelOrder(ctx, symbol, first.ID); cancelErr != nil {
			e.logger.WithFields(map[string]interface{}{
				"symbol":   symbol,
				"order_id": first.ID,
				"error":    cancelErr,
			}).Error("Failed to cancel first leg after second leg failure")
		}
		return fmt.Errorf("second leg failed: %w", err)
	}

	e.mu.Lock()
	e.pending[symbol] = []string{first.ID, second.ID}
	e.limits[symbol] = map[float64]string{
		entryPrice:  first.ID,
		secondPrice: second.ID,
	}
	e.mu.Unlock()

	e.notifier.Publish(ctx, notify.Event{
		Type:    notify.EventTradeExecuted,
		Level:   notify.LevelSuccess,
		Symbol:  symbol,
		Message: fmt.Sprintf("✅ Dual limit placed: %s %s %.4f @ %.2f / %.2f", symbol, side, legQty*2, entryPrice, secondPrice),
		Fields: map[string]interface{}{
			"side":         side,
			"entry_price":  entryPrice,
			"second_price": secondPrice,
			"quantity":     legQty * 2,
		},
	})

	return nil
}

// ExecuteMarketOrder places a single immediate order.
func (e *Engine) ExecuteMarketOrder(ctx context.Context, symbol string, side signal.Side, quantity, stopLoss, takeProfit float64) error {
	order, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Qty:        quantity,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"side":   side,
			"qty":    quantity,
			"error":  err,
		}).Error("Market order failed")
		return err
	}

	e.logger.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"qty":      quantity,
		"order_id": order.ID,
	}).Info("Market order executed")
	return nil
}

// MergePartialFills reconciles a dual-limit entry after one leg fills.
// When the exchange reports a nonzero position and some but not all
// tracked orders remain open, the still-open legs are cancelled and
// tracking for the symbol is cleared. Returns whether anything changed.
func (e *Engine) MergePartialFills(ctx context.Context, symbol string) (bool, error) {
	e.mu.Lock()
	tracked := append([]string(nil), e.pending[symbol]...)
	e.mu.Unlock()

	if len(tracked) == 0 {
		return false, nil
	}

	pos, err := e.gateway.GetPosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("get position: %w", err)
	}
	if pos == nil || pos.Size == 0 {
		return false, nil
	}

	open, err := e.gateway.GetOpenOrders(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("get open orders: %w", err)
	}

	openIDs := lo.SliceToMap(open, func(o exchange.Order) (string, struct{}) {
		return o.ID, struct{}{}
	})
	stillOpen := lo.Filter(tracked, func(id string, _ int) bool {
		_, ok := openIDs[id]
		return ok
	})

	// All legs still resting or both already gone: nothing to merge
	if len(stillOpen) == 0 || len(stillOpen) == len(tracked) {
		return false, nil
	}

	for _, id := range stillOpen {
		if err := e.gateway.CancelOrder(ctx, symbol, id); err != nil {
			e.logger.WithFields(map[string]interface{}{
				"symbol":   symbol,
				"order_id": id,
				"error":    err,
			}).Warn("Failed to cancel losing leg")
		}
	}

	e.mu.Lock()
	delete(e.pending, symbol)
	delete(e.limits, symbol)
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"cancelled": len(stillOpen),
		"position":  pos.Size,
	}).Info("Merged partial fills")
	return true, nil
}

// ReplaceLimitOrder cancels the order resting at oldPrice and places a
// new one at newPrice. If cancellation fails the new order is NOT
// placed, to avoid duplicate exposure.
func (e *Engine) ReplaceLimitOrder(ctx context.Context, symbol string, oldPrice, newPrice, quantity float64, side signal.Side) error {
	e.mu.Lock()
	priceMap, ok := e.limits[symbol]
	var oldID string
	if ok {
		oldID = priceMap[oldPrice]
	}
	e.mu.Unlock()

	if oldID == "" {
		return fmt.Errorf("no tracked order at price %.4f for %s", oldPrice, symbol)
	}

	if err := e.gateway.CancelOrder(ctx, symbol, oldID); err != nil {
		return fmt.Errorf("cancel before replace: %w", err)
	}

	order, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: symbol,
		Side:   side,
		Type:   exchange.OrderTypeLimit,
		Qty:    quantity,
		Price:  newPrice,
	})
	if err != nil {
		// 취소는 이미 성공, 추적에서만 제거
		e.mu.Lock()
		delete(e.limits[symbol], oldPrice)
		e.pending[symbol] = lo.Without(e.pending[symbol], oldID)
		e.mu.Unlock()
		return fmt.Errorf("place replacement: %w", err)
	}

	e.mu.Lock()
	delete(e.limits[symbol], oldPrice)
	e.limits[symbol][newPrice] = order.ID
	e.pending[symbol] = append(lo.Without(e.pending[symbol], oldID), order.ID)
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"old_price": oldPrice,
		"new_price": newPrice,
		"order_id":  order.ID,
	}).Info("Limit order replaced")
	return nil
}

// CancelAllSymbolOrders cancels every open order for the symbol and
// clears tracking on success.
func (e *Engine) CancelAllSymbolOrders(ctx context.Context, symbol string) error {
	if err := e.gateway.CancelAllOrders(ctx, symbol); err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}

	e.mu.Lock()
	delete(e.pending, symbol)
	delete(e.limits, symbol)
	e.mu.Unlock()

	e.logger.WithField("symbol", symbol).Info("All symbol orders cancelled")
	return nil
}

// CleanupFilledOrders drops tracking entries whose order ids no longer
// appear among open orders. When none remain open, both tracking maps
// are cleared for the symbol.
func (e *Engine) CleanupFilledOrders(ctx context.Context, symbol string) error {
	e.mu.Lock()
	tracked := append([]string(nil), e.pending[symbol]...)
	e.mu.Unlock()

	if len(tracked) == 0 {
		return nil
	}

	open, err := e.gateway.GetOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}

	openIDs := lo.SliceToMap(open, func(o exchange.Order) (string, struct{}) {
		return o.ID, struct{}{}
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := lo.Filter(e.pending[symbol], func(id string, _ int) bool {
		_, ok := openIDs[id]
		return ok
	})

	if len(remaining) == 0 {
		delete(e.pending, symbol)
		delete(e.limits, symbol)
		e.logger.WithField("symbol", symbol).Debug("Order tracking cleared")
		return nil
	}

	e.pending[symbol] = remaining
	for price, id := range e.limits[symbol] {
		if _, ok := openIDs[id]; !ok {
			delete(e.limits[symbol], price)
		}
	}
	return nil
}

// TrackedOrders returns the tracked pending order ids for the symbol.
func (e *Engine) TrackedOrders(symbol string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.pending[symbol]...)
}

// TrackedSymbols returns every symbol that currently has pending orders.
func (e *Engine) TrackedSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Keys(e.pending)
}
