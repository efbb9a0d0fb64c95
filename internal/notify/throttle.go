package notify

import (
	"sync"
	"time"
)

// Throttler enforces a per-kind cooldown between notifications. The window
// is sliding: every check stamps the kind, so a condition that keeps
// retriggering stays quiet until it has been calm for a full window.
type Throttler struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[Kind]time.Time
	now    func() time.Time
}

func NewThrottler(window time.Duration) *Throttler {
	return &Throttler{
		window: window,
		seen:   make(map[Kind]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether a notification of the given kind may fire now and
// records the attempt either way.
func (t *Throttler) Allow(kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, ok := t.seen[kind]
	t.seen[kind] = now

	return !ok || now.Sub(last) >= t.window
}
