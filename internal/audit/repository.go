package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/risk"
	"github.com/wonny/talos/internal/signal"
)

// Repository persists trades, events, and risk snapshots.
// A nil pool disables persistence; every method becomes a no-op so the
// engine runs without a database in paper or test setups.
// ⭐ SSOT: Audit 데이터 저장은 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an audit repository. pool may be nil.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enabled reports whether persistence is configured
func (r *Repository) Enabled() bool {
	return r != nil && r.pool != nil
}

// TradeRecord is one executed entry or exit
type TradeRecord struct {
	Symbol     string      `json:"symbol"`
	Side       signal.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	Price      float64     `json:"price"`
	StopLoss   float64     `json:"stop_loss,omitempty"`
	TakeProfit float64     `json:"take_profit,omitempty"`
	Strategy   string      `json:"strategy"` // dual_limit, pyramid, hedge, reentry
	ExecutedAt time.Time   `json:"executed_at"`
}

// SaveTrade stores an executed trade
func (r *Repository) SaveTrade(ctx context.Context, trade *TradeRecord) error {
	if !r.Enabled() {
		return nil
	}

	query := `
		INSERT INTO audit.trades (
			symbol, side, quantity, price, stop_loss, take_profit, strategy, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		trade.Symbol, string(trade.Side), trade.Quantity, trade.Price,
		trade.StopLoss, trade.TakeProfit, trade.Strategy, trade.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// SaveEvent stores a strategy event
func (r *Repository) SaveEvent(ctx context.Context, event notify.Event) error {
	if !r.Enabled() {
		return nil
	}

	fieldsJSON, err := json.Marshal(event.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal event fields: %w", err)
	}

	query := `
		INSERT INTO audit.events (event_type, level, symbol, message, fields, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	occurredAt := event.At
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	_, err = r.pool.Exec(ctx, query,
		string(event.Type), string(event.Level), event.Symbol, event.Message, fieldsJSON, occurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// SaveRiskSnapshot stores an end-of-day risk metrics snapshot
func (r *Repository) SaveRiskSnapshot(ctx context.Context, metrics risk.Metrics) error {
	if !r.Enabled() {
		return nil
	}

	query := `
		INSERT INTO audit.risk_snapshots (
			date, daily_pnl, daily_trades, open_positions, unrealized_pnl
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE SET
			daily_pnl = EXCLUDED.daily_pnl,
			daily_trades = EXCLUDED.daily_trades,
			open_positions = EXCLUDED.open_positions,
			unrealized_pnl = EXCLUDED.unrealized_pnl
	`
	_, err := r.pool.Exec(ctx, query,
		time.Now().Truncate(24*time.Hour), metrics.DailyPnL, metrics.DailyTrades,
		metrics.OpenPositions, metrics.UnrealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk snapshot: %w", err)
	}
	return nil
}
