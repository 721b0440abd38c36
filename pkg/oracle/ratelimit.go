package oracle

import (
	"sync"
	"time"
)

// limiter is a single-slot rate limiter: it tracks the timestamp of the last
// call and blocks the caller until at least minInterval has elapsed. There is
// no burst credit. Concurrent callers for the same model serialize on the
// mutex; each model gets its own limiter so callers for different models
// never block each other.
type limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
}

func newLimiter(rps float64) *limiter {
	if rps <= 0 {
		rps = 1
	}
	return &limiter{
		minInterval: time.Duration(float64(time.Second) / rps),
	}
}

// wait blocks until the minimum inter-call interval has elapsed, then marks
// the current time as the last call. The sleep happens under the mutex so a
// queue of concurrent callers drains at exactly the configured rate.
func (l *limiter) wait() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elapsed := time.Since(l.last); elapsed < l.minInterval {
		time.Sleep(l.minInterval - elapsed)
	}
	l.last = time.Now()
}
