package jobs

import (
	"context"
	"time"

	"github.com/wonny/talos/internal/reentry"
	"github.com/wonny/talos/pkg/logger"
)

// ReentryCleanupJob purges stale re-entry candidates
type ReentryCleanupJob struct {
	reentry *reentry.Engine
	maxAge  time.Duration
	logger  *logger.Logger
}

// NewReentryCleanupJob creates a re-entry candidate cleanup job
func NewReentryCleanupJob(eng *reentry.Engine, maxAge time.Duration, log *logger.Logger) *ReentryCleanupJob {
	if maxAge <= 0 {
		maxAge = reentry.DefaultCandidateMaxAge
	}
	return &ReentryCleanupJob{
		reentry: eng,
		maxAge:  maxAge,
		logger:  log,
	}
}

// Name returns the job name
func (j *ReentryCleanupJob) Name() string {
	return "reentry_cleanup"
}

// Schedule returns the cron schedule (hourly)
func (j *ReentryCleanupJob) Schedule() string {
	return "0 0 * * * *"
}

// Run purges candidates older than the age threshold
func (j *ReentryCleanupJob) Run(ctx context.Context) error {
	removed := j.reentry.ClearOldCandidates(j.maxAge)
	if removed > 0 {
		j.logger.WithField("removed", removed).Info("Re-entry cleanup completed")
	}
	return nil
}
