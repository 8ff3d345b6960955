package exchange

import (
	"context"

	"github.com/wonny/talos/internal/signal"
)

// OrderType distinguishes resting and immediate orders
type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"
)

// Gateway defines the exchange boundary of the strategy engine.
// ⭐ SSOT: 거래소 연동 인터페이스는 여기서만 정의.
// A nil-result/error return always means "the operation did not happen";
// callers must compensate or abandon, never assume partial effects.
type Gateway interface {
	// GetBalance retrieves the wallet balance for a coin
	GetBalance(ctx context.Context, coin string) (float64, error)

	// GetPosition retrieves the current position, nil if flat
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// SetLeverage sets leverage for a symbol
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceOrder submits an order
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// CancelOrder cancels an order by id
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// CancelAllOrders cancels every open order for a symbol
	CancelAllOrders(ctx context.Context, symbol string) error

	// GetOpenOrders lists currently open orders for a symbol
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// GetTicker retrieves the latest ticker for a symbol
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// ClosePosition closes the position at market with reduce-only
	ClosePosition(ctx context.Context, symbol string, side signal.Side) error
}

// OrderRequest carries everything needed to place one order
type OrderRequest struct {
	Symbol         string
	Side           signal.Side
	Type           OrderType
	Qty            float64
	Price          float64 // limit price, 0 for market
	StopLoss       float64
	TakeProfit     float64
	ReduceOnly     bool
	CloseOnTrigger bool
}

// Order is a normalized order record
type Order struct {
	ID     string
	Symbol string
	Side   signal.Side
	Type   OrderType
	Qty    float64
	Price  float64
}

// Position is a normalized position snapshot
type Position struct {
	Symbol        string
	Side          signal.Side
	Size          float64
	AvgPrice      float64
	UnrealizedPnL float64
	Leverage      int
}

// Ticker is a normalized market snapshot
type Ticker struct {
	Symbol    string
	LastPrice float64
	Bid       float64
	Ask       float64
}
