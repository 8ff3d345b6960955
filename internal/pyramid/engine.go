package pyramid

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/samber/lo"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/execution"
	"github.com/wonny/talos/internal/market"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

// DefaultSteps is the default number of pyramid levels.
const DefaultSteps = 7

// stepOrder records one placed pyramid step order.
type stepOrder struct {
	Step     int
	OrderID  string
	Price    float64
	Quantity float64
}

// plan is the per-symbol scaling state machine.
// uninitialized -> active(step=0..N-1) -> completed
type plan struct {
	Side         signal.Side
	Prices       []float64
	QtyPerStep   float64
	TotalQty     float64
	StopLoss     float64
	CurrentStep  int // index of the last placed step
	FilledSteps  []int
	Orders       []stepOrder
	AverageEntry float64
	TotalFilled  float64
	Completed    bool
}

// Status is the externally visible view of a pyramid.
type Status struct {
	Symbol       string  `json:"symbol"`
	TotalSteps   int     `json:"total_steps"`
	CurrentStep  int     `json:"current_step"` // 1-based for display
	FilledSteps  int     `json:"filled_steps"`
	AverageEntry float64 `json:"average_entry"`
	TotalFilled  float64 `json:"total_filled"`
	TargetQty    float64 `json:"target_quantity"`
	Completion   float64 `json:"completion"`
	Completed    bool    `json:"completed"`
}

// Engine scales into positions step by step as earlier steps fill.
// ⭐ SSOT: 피라미드 상태 전이는 여기서만
type Engine struct {
	gateway  exchange.Gateway
	orders   *execution.Engine
	notifier notify.Notifier
	logger   *logger.Logger

	tickSize float64
	qtyStep  float64

	mu       sync.Mutex
	pyramids map[string]*plan
}

// NewEngine creates a pyramid scaling engine.
func NewEngine(gateway exchange.Gateway, orders *execution.Engine, notifier notify.Notifier, tickSize, qtyStep float64, log *logger.Logger) *Engine {
	if tickSize <= 0 {
		tickSize = market.DefaultTickSize
	}
	if qtyStep <= 0 {
		qtyStep = market.DefaultQtyStep
	}
	return &Engine{
		gateway:  gateway,
		orders:   orders,
		notifier: notifier,
		logger:   log,
		tickSize: tickSize,
		qtyStep:  qtyStep,
		pyramids: make(map[string]*plan),
	}
}

// Initialize computes the step ladder between entry and target and
// places the limit order for step 0 only. Later steps are placed by
// CheckAndScale as fills arrive.
func (e *Engine) Initialize(ctx context.Context, symbol string, side signal.Side, entryPrice, targetPrice, totalQty, stopLoss float64, steps int) error {
	if steps <= 0 {
		steps = DefaultSteps
	}

	prices := market.PyramidLadder(entryPrice, targetPrice, steps, e.tickSize)
	qtyPerStep := market.RoundQuantity(totalQty/float64(steps), e.qtyStep)
	if qtyPerStep <= 0 {
		return fmt.Errorf("pyramid quantity too small: %v over %d steps", totalQty, steps)
	}

	e.logger.WithFields(map[string]interface{}{
		"symbol":       symbol,
		"steps":        steps,
		"prices":       prices,
		"qty_per_step": qtyPerStep,
	}).Info("Initializing pyramid")

	p := &plan{
		Side:       side,
		Prices:     prices,
		QtyPerStep: qtyPerStep,
		TotalQty:   totalQty,
		StopLoss:   stopLoss,
	}

	e.mu.Lock()
	e.pyramids[symbol] = p
	e.mu.Unlock()

	if err := e.placeStep(ctx, symbol, p, 0); err != nil {
		e.mu.Lock()
		delete(e.pyramids, symbol)
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) placeStep(ctx context.Context, symbol string, p *plan, step int) error {
	if step >= len(p.Prices) {
		return fmt.Errorf("step %d exceeds pyramid levels", step)
	}

	price := p.Prices[step]
	order, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     p.Side,
		Type:     exchange.OrderTypeLimit,
		Qty:      p.QtyPerStep,
		Price:    price,
		StopLoss: p.StopLoss,
	})
	if err != nil {
		return fmt.Errorf("place pyramid step %d: %w", step, err)
	}

	p.Orders = append(p.Orders, stepOrder{
		Step:     step,
		OrderID:  order.ID,
		Price:    price,
		Quantity: p.QtyPerStep,
	})

	e.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"step":   fmt.Sprintf("%d/%d", step+1, len(p.Prices)),
		"price":  price,
	}).Info("Pyramid step placed")

	e.notifier.Publish(ctx, notify.Event{
		Type:    notify.EventPyramidStepPlaced,
		Level:   notify.LevelInfo,
		Symbol:  symbol,
		Message: fmt.Sprintf("📐 Pyramid step %d/%d placed @ %.2f", step+1, len(p.Prices), price),
		Fields: map[string]interface{}{
			"step":     step + 1,
			"price":    price,
			"quantity": p.QtyPerStep,
		},
	})
	return nil
}

// CheckAndScale polls the exchange position and places the next step
// when enough quantity has filled. At most one new order per call, so
// the ladder never skips ahead even if several steps fill in one poll.
// Returns whether a new step order was placed.
func (e *Engine) CheckAndScale(ctx context.Context, symbol string) (bool, error) {
	e.mu.Lock()
	p, ok := e.pyramids[symbol]
	e.mu.Unlock()
	if !ok {
		return false, nil
	}

	pos, err := e.gateway.GetPosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("get position: %w", err)
	}
	if pos == nil {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p.TotalFilled = pos.Size
	p.AverageEntry = pos.AvgPrice

	expectedFilled := int(math.Floor(pos.Size / p.QtyPerStep))
	if expectedFilled <= p.CurrentStep || p.Completed {
		return false, nil
	}

	nextStep := p.CurrentStep + 1
	if nextStep >= len(p.Prices) {
		p.Completed = true
		p.CurrentStep = len(p.Prices)
		e.logger.WithField("symbol", symbol).Info("Pyramid complete 🎉")
		return false, nil
	}

	if err := e.placeStep(ctx, symbol, p, nextStep); err != nil {
		return false, err
	}
	p.CurrentStep = nextStep
	p.FilledSteps = append(p.FilledSteps, nextStep-1)
	return true, nil
}

// AdjustStop updates only the tracked stop value. Resting orders keep
// their original protective stop; the exchange does not support
// modifying it in place, so propagation needs a cancel and replace.
func (e *Engine) AdjustStop(symbol string, newStop float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pyramids[symbol]
	if !ok {
		return false
	}
	p.StopLoss = newStop

	e.logger.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"new_stop": newStop,
	}).Info("Pyramid stop updated")
	return true
}

// Cancel cancels all open orders for the symbol and discards the plan.
func (e *Engine) Cancel(ctx context.Context, symbol string) error {
	e.mu.Lock()
	_, ok := e.pyramids[symbol]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pyramid for %s", symbol)
	}

	if err := e.orders.CancelAllSymbolOrders(ctx, symbol); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.pyramids, symbol)
	e.mu.Unlock()

	e.logger.WithField("symbol", symbol).Info("Pyramid cancelled")
	return nil
}

// GetStatus returns the pyramid status for a symbol, nil if none.
func (e *Engine) GetStatus(symbol string) *Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pyramids[symbol]
	if !ok {
		return nil
	}

	completion := 0.0
	if p.TotalQty > 0 {
		completion = p.TotalFilled / p.TotalQty * 100
	}
	return &Status{
		Symbol:       symbol,
		TotalSteps:   len(p.Prices),
		CurrentStep:  p.CurrentStep + 1,
		FilledSteps:  len(p.FilledSteps),
		AverageEntry: p.AverageEntry,
		TotalFilled:  p.TotalFilled,
		TargetQty:    p.TotalQty,
		Completion:   completion,
		Completed:    p.Completed,
	}
}

// IsActive reports whether a pyramid plan exists for the symbol.
func (e *Engine) IsActive(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pyramids[symbol]
	return ok
}

// ActiveSymbols returns every symbol with an active pyramid plan.
func (e *Engine) ActiveSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Keys(e.pyramids)
}
