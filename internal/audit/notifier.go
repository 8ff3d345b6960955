package audit

import (
	"context"

	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/pkg/logger"
)

// Notifier persists every published event through the repository.
// Joined into the notify fanout alongside the log notifier.
type Notifier struct {
	repo   *Repository
	logger *logger.Logger
}

// NewNotifier creates an audit-backed event sink
func NewNotifier(repo *Repository, log *logger.Logger) *Notifier {
	return &Notifier{repo: repo, logger: log}
}

// Publish stores the event; persistence failures are logged, never
// propagated into the strategy path.
func (n *Notifier) Publish(ctx context.Context, event notify.Event) {
	if err := n.repo.SaveEvent(ctx, event); err != nil {
		n.logger.WithError(err).Warn("Failed to persist event")
	}
}
