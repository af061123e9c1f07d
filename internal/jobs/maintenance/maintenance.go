// Package maintenance runs the periodic session housekeeping pass: expired
// sessions are swept inactive, and rows past the retention window are purged.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// Job owns the maintenance loop. Construct with New, then either call Run
// for a single pass or Start to loop until the context is cancelled.
type Job struct {
	sessions  model.SessionStore
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func New(sessions model.SessionStore, interval time.Duration, retentionDays int, logger *zap.Logger) *Job {
	if interval <= 0 {
		interval = time.Hour
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		sessions:  sessions,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

// Run executes one sweep-then-purge pass. A sweep failure does not stop the
// purge; both errors are reported so a caller can alert on them.
func (j *Job) Run(ctx context.Context) error {
	now := j.now().UTC()

	var firstErr error
	swept, err := j.sessions.SweepExpired(ctx, now)
	if err != nil {
		firstErr = fmt.Errorf("sweep expired sessions: %w", err)
		j.logger.Error("session sweep failed", zap.Error(err))
	} else if swept > 0 {
		j.logger.Info("expired sessions swept", zap.Int("count", swept))
	}

	purged, err := j.sessions.PurgeOlderThan(ctx, now.Add(-j.retention))
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("purge old sessions: %w", err)
		}
		j.logger.Error("session purge failed", zap.Error(err))
	} else if purged > 0 {
		j.logger.Info("old sessions purged", zap.Int("count", purged))
	}

	return firstErr
}

// Start runs a pass immediately and then on every interval tick until ctx is
// cancelled. Pass failures are logged and the loop keeps going.
func (j *Job) Start(ctx context.Context) {
	j.logger.Info("session maintenance started",
		zap.Duration("interval", j.interval),
		zap.Duration("retention", j.retention))

	if err := j.Run(ctx); err != nil {
		j.logger.Warn("maintenance pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session maintenance stopped")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Warn("maintenance pass failed", zap.Error(err))
			}
		}
	}
}
