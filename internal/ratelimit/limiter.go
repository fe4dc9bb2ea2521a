package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	DefaultWindow  = time.Minute
	DefaultMax     = 30
	DefaultMaxKeys = 10000
)

type Config struct {
	// Window is the length of the sliding window.
	Window time.Duration
	// Max is the number of requests allowed per key inside one window.
	Max int
	// MaxKeys caps the number of tracked keys. The least recently used key is
	// evicted when the cap is exceeded.
	MaxKeys int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type window struct {
	key        string
	mu         sync.Mutex
	timestamps []time.Time
	lastSeen   time.Time

	// dead is set under mu once the window has left the map; callers holding
	// a stale pointer must look the key up again.
	dead bool
}

// Limiter is a per-key sliding-window rate limiter. Calls for one key are
// serialized by that key's lock; the shared map lock is held only for lookup.
type Limiter struct {
	window  time.Duration
	max     int
	maxKeys int
	now     func() time.Time

	mu      sync.Mutex
	windows map[string]*list.Element
	lru     *list.List
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		window:  cfg.Window,
		max:     cfg.Max,
		maxKeys: cfg.MaxKeys,
		now:     cfg.Now,
		windows: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

func (l *Limiter) Limit() int {
	return l.max
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow records a request for key when fewer than Max requests fall inside
// the trailing window, and reports the decision. Denied requests are not
// recorded.
func (l *Limiter) Allow(key string) Decision {
	for {
		if decision, ok := l.admit(l.windowFor(key)); ok {
			return decision
		}
	}
}

// admit applies the window check to w. It reports false when w was removed
// by Sweep or eviction after the lookup.
func (l *Limiter) admit(w *window) (Decision, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return Decision{}, false
	}

	now := l.now()
	w.timestamps = prune(w.timestamps, now.Add(-l.window))
	w.lastSeen = now

	if len(w.timestamps) >= l.max {
		resetAt := w.timestamps[0].Add(l.window)
		return Decision{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}, true
	}

	w.timestamps = append(w.timestamps, now)
	return Decision{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - len(w.timestamps),
		ResetAt:   w.timestamps[0].Add(l.window),
	}, true
}

func (l *Limiter) windowFor(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	if element, ok := l.windows[key]; ok {
		l.lru.MoveToFront(element)
		return element.Value.(*window)
	}

	w := &window{key: key}
	l.windows[key] = l.lru.PushFront(w)
	for l.lru.Len() > l.maxKeys {
		oldest := l.lru.Back()
		l.lru.Remove(oldest)
		evicted := oldest.Value.(*window)
		evicted.mu.Lock()
		evicted.dead = true
		evicted.mu.Unlock()
		delete(l.windows, evicted.key)
	}
	return w
}

// Sweep drops keys with no request inside the current window and returns
// how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for element := l.lru.Back(); element != nil; {
		previous := element.Prev()
		w := element.Value.(*window)
		w.mu.Lock()
		w.timestamps = prune(w.timestamps, cutoff)
		idle := len(w.timestamps) == 0
		if idle {
			w.dead = true
		}
		w.mu.Unlock()
		if idle {
			l.lru.Remove(element)
			delete(l.windows, w.key)
			removed++
		}
		element = previous
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// clock order so the kept ones form a suffix.
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	index := 0
	for index < len(timestamps) && !timestamps[index].After(cutoff) {
		index++
	}
	if index == 0 {
		return timestamps
	}
	kept := make([]time.Time, len(timestamps)-index)
	copy(kept, timestamps[index:])
	return kept
}
