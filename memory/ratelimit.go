package memory

import (
	"context"
	"sync"
	"time"
)

// slidingWindowLimiter admits at most limit requests per window. When the
// window is full, Wait sleeps until the oldest timestamp exits the window.
// Waits block only the calling goroutine, never the whole pipeline.
type slidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

func newSlidingWindowLimiter(limit int, window time.Duration) *slidingWindowLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &slidingWindowLimiter{limit: limit, window: window}
}

// Wait blocks until the caller is admitted or ctx is done. A zero limit
// disables rate limiting.
func (l *slidingWindowLimiter) Wait(ctx context.Context) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)
		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		sleep := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if sleep <= 0 {
			continue
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps that have left the window. Caller holds the mutex.
func (l *slidingWindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
