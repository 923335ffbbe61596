package insights

import (
	"sync"
	"time"
)

const (
	pollLimitWindow = 1 * time.Second

	// Sweep once the map holds this many entries. Entries older than the
	// window no longer influence Allow, so they are reclaimable.
	pollEntryCeiling = 4096
)

type pollKey struct {
	caller string
	jobID  string
}

// pollLimiter enforces a minimum spacing between job-status reads per
// caller and job so a hot UI loop cannot poll faster than the window.
type pollLimiter struct {
	mu     sync.Mutex
	seen   map[pollKey]time.Time
	window time.Duration
	now    func() time.Time
}

func newPollLimiter(window time.Duration, now func() time.Time) *pollLimiter {
	if window <= 0 {
		window = pollLimitWindow
	}
	if now == nil {
		now = time.Now
	}
	return &pollLimiter{
		seen:   make(map[pollKey]time.Time),
		window: window,
		now:    now,
	}
}

// Allow records the poll and reports whether it came at least one window
// after the previous one for the same caller and job.
func (l *pollLimiter) Allow(caller, jobID string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.seen) >= pollEntryCeiling {
		l.sweepLocked(now)
	}
	key := pollKey{caller: caller, jobID: jobID}
	if last, ok := l.seen[key]; ok && now.Sub(last) < l.window {
		return false
	}
	l.seen[key] = now
	return true
}

// RetryAfterSeconds is the Retry-After value for a throttled poll,
// rounded down to whole seconds.
func (l *pollLimiter) RetryAfterSeconds() int {
	window := pollLimitWindow
	if l != nil {
		window = l.window
	}
	return int(window.Seconds())
}

func (l *pollLimiter) sweepLocked(now time.Time) {
	for key, last := range l.seen {
		if now.Sub(last) >= l.window {
			delete(l.seen, key)
		}
	}
}
