package mqtt

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// rateLimiter caps relayed events per interval so a burst of turns
// cannot flood the broker. It uses atomic counters on the hot path.
type rateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// run resets the counter every interval until ctx is cancelled, logging
// a warning when events were dropped.
func (r *rateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *rateLimiter) tick() {
	count := r.count.Swap(0)
	if dropped := r.dropped.Swap(0); dropped > 0 {
		r.logger.Warn("mqtt events dropped due to rate limit",
			"received", count,
			"dropped", dropped,
			"interval", r.interval.String(),
			"limit", r.limit,
		)
	}
}

// allow reports whether another event fits in the current interval.
func (r *rateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
