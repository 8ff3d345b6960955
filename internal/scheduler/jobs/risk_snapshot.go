package jobs

import (
	"context"

	"github.com/wonny/talos/internal/audit"
	"github.com/wonny/talos/internal/risk"
	"github.com/wonny/talos/pkg/logger"
)

// RiskSnapshotJob persists a daily risk metrics snapshot for audit
type RiskSnapshotJob struct {
	risk   *risk.Manager
	repo   *audit.Repository
	logger *logger.Logger
}

// NewRiskSnapshotJob creates a daily risk snapshot job
func NewRiskSnapshotJob(riskMgr *risk.Manager, repo *audit.Repository, log *logger.Logger) *RiskSnapshotJob {
	return &RiskSnapshotJob{
		risk:   riskMgr,
		repo:   repo,
		logger: log,
	}
}

// Name returns the job name
func (j *RiskSnapshotJob) Name() string {
	return "risk_snapshot"
}

// Schedule returns the cron schedule (23:55 daily, before the reset)
func (j *RiskSnapshotJob) Schedule() string {
	return "0 55 23 * * *"
}

// Run stores the end-of-day risk metrics
func (j *RiskSnapshotJob) Run(ctx context.Context) error {
	metrics := j.risk.GetMetrics()
	if err := j.repo.SaveRiskSnapshot(ctx, metrics); err != nil {
		return err
	}

	j.logger.WithFields(map[string]interface{}{
		"daily_pnl":    metrics.DailyPnL,
		"daily_trades": metrics.DailyTrades,
	}).Info("Risk snapshot stored")
	return nil
}
