package cleanup

import (
	"context"
	"time"

	"github.com/AlibekovAA/carai-auth/internal/common/clock"
	"github.com/AlibekovAA/carai-auth/internal/common/constants"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	"github.com/AlibekovAA/carai-auth/internal/observability/metrics"
)

type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper removes session rows whose expiry has passed. Reconciliation already
// drops stale rows it meets; the sweep catches users who never come back.
type Sweeper struct {
	repo     ExpiredDeleter
	clock    clock.Clock
	interval time.Duration
	log      *logger.Logger
}

func NewSweeper(repo ExpiredDeleter, clk clock.Clock, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = constants.SessionCleanupInterval
	}
	return &Sweeper{repo: repo, clock: clk, interval: interval, log: log}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithFields(ctx, logger.Fields{
		"interval": s.interval.String(),
		"action":   "session_cleanup_start",
	}).Info("session cleanup started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"action": "session_cleanup_failed",
		}).Errorf("session cleanup failed: %v", err)
		return 0, err
	}

	if deleted > 0 {
		metrics.SessionsCleanupDeleted.Add(float64(deleted))
		s.log.WithFields(ctx, logger.Fields{
			"deleted": deleted,
			"action":  "session_cleanup",
		}).Infof("session cleanup: deleted %d expired sessions", deleted)
	}
	return deleted, nil
}
