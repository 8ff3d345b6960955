package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/wonny/talos/internal/signal"
)

// Mock implements Gateway in memory for tests and paper runs.
// ⭐ 실제 운영에서는 bybit.Client 사용
type Mock struct {
	mu sync.Mutex

	balance   float64
	prices    map[string]float64
	positions map[string]*Position
	open      map[string][]Order // symbol -> open orders
	nextID    int

	// Failure injection
	FailPlace     bool
	FailPlaceAfter int // fail once this many orders have been placed (0 = disabled)
	FailCancel    bool

	// Call recording
	Placed    []Order
	Cancelled []string
	Closed    []string
	LeverageSet map[string]int
}

// NewMock creates a mock gateway with a starting balance
func NewMock(balance float64) *Mock {
	return &Mock{
		balance:     balance,
		prices:      make(map[string]float64),
		positions:   make(map[string]*Position),
		open:        make(map[string][]Order),
		LeverageSet: make(map[string]int),
	}
}

// SetPrice sets the mock ticker price for a symbol
func (m *Mock) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetPosition sets the mock position for a symbol (nil size 0 clears)
func (m *Mock) SetPosition(symbol string, side signal.Side, size, avgPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size == 0 {
		delete(m.positions, symbol)
		return
	}
	m.positions[symbol] = &Position{
		Symbol:   symbol,
		Side:     side,
		Size:     size,
		AvgPrice: avgPrice,
	}
}

// RemoveOpenOrder drops an open order without recording a cancel,
// simulating a fill.
func (m *Mock) RemoveOpenOrder(symbol, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropOrder(symbol, orderID)
}

func (m *Mock) dropOrder(symbol, orderID string) {
	orders := m.open[symbol]
	for i, o := range orders {
		if o.ID == orderID {
			m.open[symbol] = append(orders[:i:i], orders[i+1:]...)
			return
		}
	}
}

// GetBalance retrieves the wallet balance
func (m *Mock) GetBalance(ctx context.Context, coin string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

// GetPosition retrieves the current position, nil if flat
func (m *Mock) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

// SetLeverage records the requested leverage
func (m *Mock) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeverageSet[symbol] = leverage
	return nil
}

// PlaceOrder submits an order into the open set
func (m *Mock) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPlace {
		return nil, fmt.Errorf("mock: order rejected")
	}
	if m.FailPlaceAfter > 0 && len(m.Placed) >= m.FailPlaceAfter {
		return nil, fmt.Errorf("mock: order rejected after %d placements", m.FailPlaceAfter)
	}

	m.nextID++
	order := Order{
		ID:     fmt.Sprintf("MOCK-%d", m.nextID),
		Symbol: req.Symbol,
		Side:   req.Side,
		Type:   req.Type,
		Qty:    req.Qty,
		Price:  req.Price,
	}
	m.Placed = append(m.Placed, order)

	// Market orders execute immediately; limits rest
	if req.Type == OrderTypeLimit {
		m.open[req.Symbol] = append(m.open[req.Symbol], order)
	}

	return &order, nil
}

// CancelOrder cancels an open order by id
func (m *Mock) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCancel {
		return fmt.Errorf("mock: cancel rejected")
	}

	m.Cancelled = append(m.Cancelled, orderID)
	m.dropOrder(symbol, orderID)
	return nil
}

// CancelAllOrders cancels every open order for a symbol
func (m *Mock) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCancel {
		return fmt.Errorf("mock: cancel rejected")
	}

	for _, o := range m.open[symbol] {
		m.Cancelled = append(m.Cancelled, o.ID)
	}
	delete(m.open, symbol)
	return nil
}

// GetOpenOrders lists open orders for a symbol
func (m *Mock) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Order(nil), m.open[symbol]...), nil
}

// GetTicker retrieves the mock ticker
func (m *Mock) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no price for %s", symbol)
	}
	return &Ticker{Symbol: symbol, LastPrice: price, Bid: price, Ask: price}, nil
}

// ClosePosition closes the position at market
func (m *Mock) ClosePosition(ctx context.Context, symbol string, side signal.Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = append(m.Closed, symbol)
	delete(m.positions, symbol)
	return nil
}
