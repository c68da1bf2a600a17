package capacity

import (
	"context"
	"time"

	"github.com/ignite/lead-router/internal/pkg/distlock"
	"github.com/ignite/lead-router/internal/pkg/logger"
)

// Reaper periodically releases expired reservations. When several
// processes share a Redis tracker only the lock holder reaps in a tick.
type Reaper struct {
	tracker  Tracker
	lock     distlock.DistLock
	interval time.Duration
}

// NewReaper creates a reaper. lock may be nil for single-process use.
func NewReaper(tracker Tracker, lock distlock.DistLock, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if lock == nil {
		lock = distlock.NewLock(nil, nil, "capacity-reaper", interval)
	}
	return &Reaper{tracker: tracker, lock: lock, interval: interval}
}

// RunOnce performs a single reap pass under the lock.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	reaped := 0
	_, err := distlock.RunExclusive(ctx, r.lock, func(ctx context.Context) error {
		n, err := r.tracker.ReapExpired(ctx)
		reaped = n
		return err
	})
	return reaped, err
}

// Start blocks, reaping every interval until ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				logger.Error("capacity reaper failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("released expired reservations", "count", n)
			}
		}
	}
}
