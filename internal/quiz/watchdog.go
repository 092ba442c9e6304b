package quiz

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunExpiryWatchdog completes quizzes whose time limit has elapsed, checking every interval until ctx is done.
// Quizzes otherwise stay ACTIVE until a tutor ends them or a new question replaces them.
func (o *Orchestrator) RunExpiryWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	o.logger.Info("quiz expiry watchdog started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("quiz expiry watchdog stopped")
			return
		case <-ticker.C:
			o.SweepExpired(ctx)
		}
	}
}

// SweepExpired completes every ACTIVE quiz past its deadline and returns how many it completed.
func (o *Orchestrator) SweepExpired(ctx context.Context) int {
	expired, err := o.store.ListExpiredQuizzes(ctx, o.now().UTC())
	if err != nil {
		o.logger.Warn("list expired quizzes", zap.Error(err))
		return 0
	}
	n := 0
	for _, q := range expired {
		done, err := o.expire(ctx, q)
		if err != nil {
			o.logger.Warn("expire quiz", zap.String("quiz_id", q.ID.String()), zap.Error(err))
			continue
		}
		if done {
			n++
		}
	}
	return n
}
