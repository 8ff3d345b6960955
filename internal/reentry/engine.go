package reentry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/execution"
	"github.com/wonny/talos/internal/market"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

// Default re-entry policy.
const (
	DefaultMaxAttempts     = 3
	DefaultCooldown        = 5 * time.Minute
	DefaultImprovementPct  = 0.5 // target price 0.5% better than the exit
	DefaultSizingFactor    = 0.8 // re-enter with 80% of the exited quantity
	DefaultCandidateMaxAge = 24 * time.Hour
)

// candidate tracks one stopped-out position eligible for re-entry.
type candidate struct {
	Side        signal.Side
	ExitPrice   float64
	ExitReason  string
	Quantity    float64
	ExitTime    time.Time
	Attempts    int
	LastAttempt time.Time // zero until the first attempt
	TargetPrice float64
	IsActive    bool
}

// Status is the externally visible re-entry state for a symbol.
type Status struct {
	Symbol      string      `json:"symbol"`
	Side        signal.Side `json:"side"`
	ExitPrice   float64     `json:"exit_price"`
	TargetPrice float64     `json:"target_reentry_price"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	IsActive    bool        `json:"is_active"`
	ExitTime    time.Time   `json:"exit_time"`
	LastAttempt *time.Time  `json:"last_attempt,omitempty"`
}

// Engine re-enters positions after stop-loss exits once price returns
// to a better level.
// ⭐ SSOT: 재진입 후보 상태는 여기서만
type Engine struct {
	gateway  exchange.Gateway
	orders   *execution.Engine
	notifier notify.Notifier
	logger   *logger.Logger

	tickSize float64

	mu             sync.Mutex
	candidates     map[string]*candidate
	maxAttempts    int
	cooldown       time.Duration
	improvementPct float64

	now func() time.Time
}

// NewEngine creates a re-entry engine with the default policy.
func NewEngine(gateway exchange.Gateway, orders *execution.Engine, notifier notify.Notifier, tickSize float64, log *logger.Logger) *Engine {
	if tickSize <= 0 {
		tickSize = market.DefaultTickSize
	}
	return &Engine{
		gateway:        gateway,
		orders:         orders,
		notifier:       notifier,
		logger:         log,
		tickSize:       tickSize,
		candidates:     make(map[string]*candidate),
		maxAttempts:    DefaultMaxAttempts,
		cooldown:       DefaultCooldown,
		improvementPct: DefaultImprovementPct,
		now:            time.Now,
	}
}

// isStopExit reports whether the exit reason denotes a stop-loss.
func isStopExit(reason string) bool {
	upper := strings.ToUpper(reason)
	return strings.Contains(upper, "STOP") || strings.Contains(upper, "SL")
}

// RegisterExit records a closed position as a re-entry candidate.
// Only stop-loss exits are tracked; everything else is ignored.
func (e *Engine) RegisterExit(symbol string, side signal.Side, exitPrice float64, exitReason string, quantity float64) {
	if !isStopExit(exitReason) {
		e.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"reason": exitReason,
		}).Debug("Exit not eligible for re-entry")
		return
	}

	e.mu.Lock()
	e.candidates[symbol] = &candidate{
		Side:        side,
		ExitPrice:   exitPrice,
		ExitReason:  exitReason,
		Quantity:    quantity,
		ExitTime:    e.now(),
		TargetPrice: e.targetPrice(exitPrice, side),
		IsActive:    true,
	}
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"symbol":     symbol,
		"exit_price": exitPrice,
		"reason":     exitReason,
	}).Info("Re-entry candidate registered")
}

// targetPrice is 0.5% more favorable than the exit: lower for a BUY
// re-entry, higher for a SELL.
func (e *Engine) targetPrice(exitPrice float64, side signal.Side) float64 {
	offset := exitPrice * e.improvementPct / 100
	if side == signal.SideBuy {
		return market.RoundPrice(exitPrice-offset, e.tickSize)
	}
	return market.RoundPrice(exitPrice+offset, e.tickSize)
}

// CheckOpportunity reports whether the symbol should re-enter at the
// given price. Reaching the attempt cap deactivates the candidate.
func (e *Engine) CheckOpportunity(symbol string, currentPrice float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkOpportunityLocked(symbol, currentPrice)
}

func (e *Engine) checkOpportunityLocked(symbol string, currentPrice float64) bool {
	c, ok := e.candidates[symbol]
	if !ok || !c.IsActive {
		return false
	}

	if c.Attempts >= e.maxAttempts {
		c.IsActive = false
		e.logger.WithField("symbol", symbol).Info("Max re-entry attempts reached")
		return false
	}

	if !c.LastAttempt.IsZero() && e.now().Sub(c.LastAttempt) < e.cooldown {
		return false
	}

	if c.Side == signal.SideBuy {
		return currentPrice <= c.TargetPrice
	}
	return currentPrice >= c.TargetPrice
}

// ExecuteReentry re-validates against a freshly fetched price and
// places the re-entry as a dual-limit at the target, sized at 80% of
// the exited quantity. The attempt counter advances whether or not
// the order placement succeeds, and a successful re-entry keeps the
// candidate tracked for further attempts up to the cap.
func (e *Engine) ExecuteReentry(ctx context.Context, symbol string, stopLoss, takeProfit float64) error {
	ticker, err := e.gateway.GetTicker(ctx, symbol)
	if err != nil {
		return fmt.Errorf("get ticker: %w", err)
	}

	e.mu.Lock()
	c, ok := e.candidates[symbol]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no re-entry candidate for %s", symbol)
	}
	if !e.checkOpportunityLocked(symbol, ticker.LastPrice) {
		e.mu.Unlock()
		return fmt.Errorf("price no longer favorable for %s re-entry", symbol)
	}
	c.Attempts++
	c.LastAttempt = e.now()
	attempts := c.Attempts
	side := c.Side
	target := c.TargetPrice
	qty := c.Quantity * DefaultSizingFactor
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"attempt": fmt.Sprintf("%d/%d", attempts, e.maxAttempts),
		"target":  target,
	}).Info("Executing re-entry")

	if err := e.orders.ExecuteDualLimit(ctx, symbol, side, target, qty, stopLoss, takeProfit); err != nil {
		return fmt.Errorf("re-entry order: %w", err)
	}

	e.notifier.Publish(ctx, notify.Event{
		Type:    notify.EventReentryExecuted,
		Level:   notify.LevelInfo,
		Symbol:  symbol,
		Message: fmt.Sprintf("🔄 Re-entry %d/%d placed @ %.2f", attempts, e.maxAttempts, target),
		Fields: map[string]interface{}{
			"side":     side,
			"target":   target,
			"quantity": qty,
		},
	})
	return nil
}

// ExecuteAggressive re-enters immediately at market, skipping the
// price condition. Same attempt accounting as ExecuteReentry.
func (e *Engine) ExecuteAggressive(ctx context.Context, symbol string) error {
	e.mu.Lock()
	c, ok := e.candidates[symbol]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no re-entry candidate for %s", symbol)
	}
	c.Attempts++
	c.LastAttempt = e.now()
	side := c.Side
	qty := c.Quantity * DefaultSizingFactor
	e.mu.Unlock()

	e.logger.WithField("symbol", symbol).Info("Aggressive re-entry at market")

	if err := e.orders.ExecuteMarketOrder(ctx, symbol, side, qty, 0, 0); err != nil {
		return fmt.Errorf("aggressive re-entry: %w", err)
	}
	return nil
}

// Cancel deactivates re-entry tracking for a symbol.
func (e *Engine) Cancel(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.candidates[symbol]; ok {
		c.IsActive = false
		e.logger.WithField("symbol", symbol).Info("Re-entry cancelled")
	}
}

// ClearOldCandidates purges candidates older than maxAge, regardless
// of attempts or active flag.
func (e *Engine) ClearOldCandidates(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultCandidateMaxAge
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for symbol, c := range e.candidates {
		if now.Sub(c.ExitTime) > maxAge {
			delete(e.candidates, symbol)
			removed++
			e.logger.WithField("symbol", symbol).Info("Old re-entry candidate removed")
		}
	}
	return removed
}

// GetStatus returns the re-entry state for a symbol, nil if none.
func (e *Engine) GetStatus(symbol string) *Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.candidates[symbol]
	if !ok {
		return nil
	}

	var last *time.Time
	if !c.LastAttempt.IsZero() {
		t := c.LastAttempt
		last = &t
	}
	return &Status{
		Symbol:      symbol,
		Side:        c.Side,
		ExitPrice:   c.ExitPrice,
		TargetPrice: c.TargetPrice,
		Attempts:    c.Attempts,
		MaxAttempts: e.maxAttempts,
		IsActive:    c.IsActive,
		ExitTime:    c.ExitTime,
		LastAttempt: last,
	}
}

// TrackedSymbols returns every symbol with a re-entry candidate.
func (e *Engine) TrackedSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Keys(e.candidates)
}

// AdjustSettings tunes the re-entry policy. Zero values leave the
// corresponding setting unchanged.
func (e *Engine) AdjustSettings(maxAttempts int, cooldown time.Duration, improvementPct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if maxAttempts > 0 {
		e.maxAttempts = maxAttempts
	}
	if cooldown > 0 {
		e.cooldown = cooldown
	}
	if improvementPct > 0 {
		e.improvementPct = improvementPct
	}

	e.logger.WithFields(map[string]interface{}{
		"max_attempts":    e.maxAttempts,
		"cooldown":        e.cooldown.String(),
		"improvement_pct": e.improvementPct,
	}).Info("Re-entry settings adjusted")
}
