package logging

import (
	"sync"
	"time"
)

// DefaultWarnInterval is how long a distinct warning key is suppressed
// after it has been emitted once.
const DefaultWarnInterval = 60 * time.Second

// limiterMaxKeys bounds the dedup map so a noisy producer emitting
// unbounded distinct keys cannot grow memory forever.
const limiterMaxKeys = 1024

// Limiter deduplicates repeated warnings by key. A key is allowed through
// at most once per interval; expired entries are swept lazily on Allow.
//
// Malformed log lines and unknown tool names arrive on every re-parse of a
// growing file, so unthrottled warnings would flood the log at the watcher's
// polling cadence.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	seen     map[string]time.Time
	now      func() time.Time
}

// NewLimiter creates a Limiter with the given suppression interval.
// A non-positive interval falls back to DefaultWarnInterval.
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = DefaultWarnInterval
	}
	return &Limiter{
		interval: interval,
		seen:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether a warning with the given key may be emitted now.
// The first call for a key returns true; subsequent calls return false
// until the interval has elapsed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	if last, ok := l.seen[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.seen[key] = now
	return true
}

// sweep drops expired entries. If the map is still over budget afterwards
// (all entries fresh), it is cleared outright; occasional duplicate warnings
// are preferable to unbounded growth.
func (l *Limiter) sweep(now time.Time) {
	for key, last := range l.seen {
		if now.Sub(last) >= l.interval {
			delete(l.seen, key)
		}
	}
	if len(l.seen) > limiterMaxKeys {
		l.seen = make(map[string]time.Time)
	}
}
