package broker

import (
	"sync"
	"time"
)

// slidingWindowLimiter is a per-connection emit-rate limiter: a deque of
// recent emit timestamps, pruned to the trailing one-second window on
// every check. Grounded on hydra-mail/src/main.rs's handle_conn, which
// hand-rolls exactly this with a VecDeque<Instant> rather than reaching
// for a token-bucket crate — a rate limit of 0 disables the check
// entirely, matching spec.md §4.7.
type slidingWindowLimiter struct {
	mu    sync.Mutex
	times []time.Time
	limit int
}

func newSlidingWindowLimiter(limit int) *slidingWindowLimiter {
	return &slidingWindowLimiter{limit: limit}
}

// Allow prunes timestamps older than one second, then reports whether a
// new emit at now may proceed. A true result also records now as a
// consumed slot.
func (l *slidingWindowLimiter) Allow(now time.Time) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	i := 0
	for i < len(l.times) && now.Sub(l.times[i]) > time.Second {
		i++
	}
	if i > 0 {
		l.times = l.times[i:]
	}

	if len(l.times) >= l.limit {
		return false
	}
	l.times = append(l.times, now)
	return true
}
