package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/wonny/talos/internal/market"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/config"
	"github.com/wonny/talos/pkg/logger"
)

// Stop-loss distance sanity window, percent of price.
const (
	minStopDistancePct = 0.5
	maxStopDistancePct = 20
)

// ActivePosition is a registered open position
type ActivePosition struct {
	EntryPrice    float64     `json:"entry_price"`
	Quantity      float64     `json:"quantity"`
	Side          signal.Side `json:"side"`
	StopLoss      float64     `json:"stop_loss,omitempty"`
	TakeProfit    float64     `json:"take_profit,omitempty"`
	OpenedAt      time.Time   `json:"opened_at"`
	UnrealizedPnL float64     `json:"unrealized_pnl"`
}

// Metrics is a snapshot of the current risk state
type Metrics struct {
	DailyPnL            float64 `json:"daily_pnl"`
	DailyTrades         int     `json:"daily_trades"`
	OpenPositions       int     `json:"open_positions"`
	UnrealizedPnL       float64 `json:"unrealized_pnl"`
	MaxDailyLoss        float64 `json:"max_daily_loss"`
	MaxOpenPositions    int     `json:"max_open_positions"`
	RemainingLossBuffer float64 `json:"remaining_loss_buffer"`
}

// Manager enforces daily limits, sizes positions, and validates orders.
// ⭐ SSOT: 신규 포지션 리스크 체크는 여기서만.
// Fails closed: any limit breach rejects the trade before a network call.
type Manager struct {
	maxDailyLoss       float64
	maxOpenPositions   int
	maxPositionSize    float64
	defaultRiskPercent float64
	defaultLeverage    int
	qtyStep            float64

	mu          sync.Mutex
	dailyPnL    float64
	dailyTrades int
	lastReset   time.Time // date of last daily reset
	positions   map[string]*ActivePosition

	logger *logger.Logger
	now    func() time.Time
}

// NewManager creates a risk manager from config
func NewManager(cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{
		maxDailyLoss:       cfg.Risk.MaxDailyLoss,
		maxOpenPositions:   cfg.Risk.MaxOpenPositions,
		maxPositionSize:    cfg.Trading.MaxPositionSize,
		defaultRiskPercent: cfg.Trading.DefaultRiskPercent,
		defaultLeverage:    cfg.Trading.DefaultLeverage,
		qtyStep:            cfg.Trading.QtyStep,
		lastReset:          time.Now(),
		positions:          make(map[string]*ActivePosition),
		logger:             log,
		now:                time.Now,
	}
}

// resetDailyStatsLocked lazily resets counters once the date advances.
// 타이머 없이 모든 진입점에서 호출 시점에 평가한다.
func (m *Manager) resetDailyStatsLocked() {
	now := m.now()
	y1, m1, d1 := m.lastReset.Date()
	y2, m2, d2 := now.Date()
	if y2 > y1 || (y2 == y1 && (m2 > m1 || (m2 == m1 && d2 > d1))) {
		m.logger.Info("Resetting daily statistics")
		m.dailyPnL = 0
		m.dailyTrades = 0
		m.lastReset = now
	}
}

// UpdateDailyPnL records a realized PnL delta and counts the trade
func (m *Manager) UpdateDailyPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyStatsLocked()
	m.dailyPnL += pnl
	m.dailyTrades++

	m.logger.WithFields(map[string]interface{}{
		"daily_pnl":    m.dailyPnL,
		"daily_trades": m.dailyTrades,
	}).Info("Daily PnL updated")
}

// CanOpenPosition checks whether a new position is admissible
func (m *Manager) CanOpenPosition() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyStatsLocked()

	if m.dailyPnL <= -m.maxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached: %.2f", m.dailyPnL)
	}

	if len(m.positions) >= m.maxOpenPositions {
		return false, fmt.Sprintf("max open positions reached: %d", len(m.positions))
	}

	return true, "OK"
}

// PositionSize calculates a risk-based position size, capped at the
// configured maximum. riskPercent/leverage 0 use the configured defaults.
func (m *Manager) PositionSize(balance, entryPrice, stopLoss float64, riskPercent float64, leverage int) float64 {
	if riskPercent <= 0 {
		riskPercent = m.defaultRiskPercent
	}
	if leverage <= 0 {
		leverage = m.defaultLeverage
	}

	size := market.PositionSize(balance, riskPercent, entryPrice, stopLoss, leverage, m.qtyStep)

	if size > m.maxPositionSize {
		m.logger.WithFields(map[string]interface{}{
			"size": size,
			"cap":  m.maxPositionSize,
		}).Warn("Position size capped")
		size = m.maxPositionSize
	}

	return size
}

// ValidateOrder checks order parameters before anything touches the gateway
func (m *Manager) ValidateOrder(symbol string, quantity, price, stopLoss float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[symbol]; exists {
		return false, fmt.Sprintf("position already exists for %s", symbol)
	}

	if quantity <= 0 || quantity > m.maxPositionSize {
		return false, fmt.Sprintf("invalid quantity: %v", quantity)
	}

	if price <= 0 {
		return false, fmt.Sprintf("invalid price: %v", price)
	}

	if stopLoss > 0 {
		distPct := abs(price-stopLoss) / price * 100
		if distPct < minStopDistancePct {
			return false, fmt.Sprintf("stop loss too close: %.2f%%", distPct)
		}
		if distPct > maxStopDistancePct {
			return false, fmt.Sprintf("stop loss too far: %.2f%%", distPct)
		}
	}

	return true, "OK"
}

// AddPosition registers an open position
func (m *Manager) AddPosition(symbol string, pos ActivePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = m.now()
	}
	m.positions[symbol] = &pos

	m.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"total":  len(m.positions),
	}).Info("Position added")
}

// RemovePosition deregisters a position. Idempotent: returns nil, false
// when the symbol is unknown.
func (m *Manager) RemovePosition(symbol string) (*ActivePosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil, false
	}
	delete(m.positions, symbol)

	m.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"total":  len(m.positions),
	}).Info("Position removed")

	return pos, true
}

// UpdatePositionPnL updates the last known unrealized PnL for a symbol
func (m *Manager) UpdatePositionPnL(symbol string, unrealizedPnL float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pos, ok := m.positions[symbol]; ok {
		pos.UnrealizedPnL = unrealizedPnL
	}
}

// GetPosition returns a copy of the registered position
func (m *Manager) GetPosition(symbol string) (ActivePosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return ActivePosition{}, false
	}
	return *pos, true
}

// OpenSymbols lists symbols with a registered position
func (m *Manager) OpenSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbols := make([]string, 0, len(m.positions))
	for s := range m.positions {
		symbols = append(symbols, s)
	}
	return symbols
}

// TotalUnrealizedPnL sums unrealized PnL across registered positions
func (m *Manager) TotalUnrealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, pos := range m.positions {
		total += pos.UnrealizedPnL
	}
	return total
}

// GetMetrics returns the current risk snapshot
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyStatsLocked()

	var unrealized float64
	for _, pos := range m.positions {
		unrealized += pos.UnrealizedPnL
	}

	return Metrics{
		DailyPnL:            m.dailyPnL,
		DailyTrades:         m.dailyTrades,
		OpenPositions:       len(m.positions),
		UnrealizedPnL:       unrealized,
		MaxDailyLoss:        m.maxDailyLoss,
		MaxOpenPositions:    m.maxOpenPositions,
		RemainingLossBuffer: m.maxDailyLoss + m.dailyPnL,
	}
}

// ShouldReduceRisk reports whether the de-risking tier is active
// (daily PnL past half the loss limit)
func (m *Manager) ShouldReduceRisk() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyStatsLocked()
	return m.dailyPnL <= -(m.maxDailyLoss * 0.5)
}

// AdjustedRiskPercent halves the default risk percent while de-risking
func (m *Manager) AdjustedRiskPercent() float64 {
	if m.ShouldReduceRisk() {
		return m.defaultRiskPercent * 0.5
	}
	return m.defaultRiskPercent
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
