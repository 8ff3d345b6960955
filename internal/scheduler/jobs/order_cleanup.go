package jobs

import (
	"context"

	"github.com/wonny/talos/internal/execution"
	"github.com/wonny/talos/pkg/logger"
)

// OrderCleanupJob drops order tracking entries that no longer rest on
// the exchange.
type OrderCleanupJob struct {
	orders *execution.Engine
	logger *logger.Logger
}

// NewOrderCleanupJob creates an order tracking cleanup job
func NewOrderCleanupJob(orders *execution.Engine, log *logger.Logger) *OrderCleanupJob {
	return &OrderCleanupJob{
		orders: orders,
		logger: log,
	}
}

// Name returns the job name
func (j *OrderCleanupJob) Name() string {
	return "order_cleanup"
}

// Schedule returns the cron schedule (every 5 minutes)
func (j *OrderCleanupJob) Schedule() string {
	return "0 */5 * * * *"
}

// Run reconciles tracked order ids against the exchange
func (j *OrderCleanupJob) Run(ctx context.Context) error {
	for _, symbol := range j.orders.TrackedSymbols() {
		if err := j.orders.CleanupFilledOrders(ctx, symbol); err != nil {
			j.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"error":  err,
			}).Warn("Order cleanup failed for symbol")
		}
	}
	return nil
}
