package ratelimit

import (
	"context"
	"sync"
	"time"
)

type clientWindow struct {
	mu      sync.Mutex
	hits    []time.Time // ascending
	window  time.Duration
	evicted bool
}

// SlidingWindow is an in-memory sliding window log. One instance is created at
// process start and shared by every request; state does not survive restarts.
type SlidingWindow struct {
	mu      sync.RWMutex
	windows map[string]*clientWindow
	now     func() time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		windows: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (sw *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	sw.now = now
	return sw
}

// Allow reports whether key may proceed, recording the attempt only when it does.
func (sw *SlidingWindow) Allow(key string, limit int, window time.Duration) bool {
	return sw.admit(key, limit, window).Allowed
}

func (sw *SlidingWindow) Admit(_ context.Context, key string, limit int, window time.Duration) Decision {
	return sw.admit(key, limit, window)
}

func (sw *SlidingWindow) admit(key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: false, RetryAfter: window}
	}
	for {
		cw := sw.get(key)
		cw.mu.Lock()
		if cw.evicted {
			// Swept between lookup and lock; retry against the live entry.
			cw.mu.Unlock()
			continue
		}
		d := cw.admit(sw.now(), limit, window)
		cw.mu.Unlock()
		return d
	}
}

func (sw *SlidingWindow) get(key string) *clientWindow {
	sw.mu.RLock()
	cw, ok := sw.windows[key]
	sw.mu.RUnlock()
	if ok {
		return cw
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if cw, ok = sw.windows[key]; ok {
		return cw
	}
	cw = &clientWindow{}
	sw.windows[key] = cw
	return cw
}

// Sweep drops keys whose timestamps have all expired and returns how many were
// removed. An absent key and an empty one admit identically.
func (sw *SlidingWindow) Sweep() int {
	now := sw.now()

	sw.mu.Lock()
	defer sw.mu.Unlock()

	removed := 0
	for key, cw := range sw.windows {
		cw.mu.Lock()
		cw.prune(now)
		if len(cw.hits) == 0 {
			cw.evicted = true
			delete(sw.windows, key)
			removed++
		}
		cw.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (sw *SlidingWindow) Len() int {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return len(sw.windows)
}

// caller holds cw.mu
func (cw *clientWindow) admit(now time.Time, limit int, window time.Duration) Decision {
	cw.window = window
	cw.prune(now)

	if len(cw.hits) >= limit {
		// A slot frees once len-limit+1 entries have aged out.
		frees := cw.hits[len(cw.hits)-limit].Add(window)
		return Decision{Allowed: false, RetryAfter: frees.Sub(now)}
	}
	cw.hits = append(cw.hits, now)
	return Decision{Allowed: true}
}

// prune drops entries aged >= window. Only entries strictly younger are kept.
func (cw *clientWindow) prune(now time.Time) {
	i := 0
	for i < len(cw.hits) && now.Sub(cw.hits[i]) >= cw.window {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(cw.hits, cw.hits[i:])
	cw.hits = cw.hits[:n]
}
