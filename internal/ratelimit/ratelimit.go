package ratelimit

import (
	"sync"
	"time"

	"github.com/enderfga/sasha-relay/internal/database"
)

// Result reports one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted event leaves the window, i.e. the
	// earliest instant a rejected caller can retry.
	ResetAt time.Time
}

type window struct {
	mu       sync.Mutex
	requests []time.Time
}

// Limiter admits up to limit events per sliding window per key. Per-key
// overrides come from the database and are cached briefly.
type Limiter struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	windows sync.Map // key -> *window

	overrideMu  sync.RWMutex
	overrides   map[string]overrideEntry
	overrideTTL time.Duration
}

type overrideEntry struct {
	perMinute int
	fetchedAt time.Time
}

func New(limit int, windowLen time.Duration) *Limiter {
	return &Limiter{
		limit:       limit,
		window:      windowLen,
		now:         time.Now,
		overrides:   make(map[string]overrideEntry),
		overrideTTL: time.Minute,
	}
}

// SetNow injects a clock for tests.
func (l *Limiter) SetNow(now func() time.Time) { l.now = now }

func (l *Limiter) getWindow(key string) *window {
	val, _ := l.windows.LoadOrStore(key, &window{})
	return val.(*window)
}

// limitFor resolves the effective limit for a key, honoring DB overrides.
func (l *Limiter) limitFor(key string) int {
	l.overrideMu.RLock()
	entry, ok := l.overrides[key]
	l.overrideMu.RUnlock()
	if ok && l.now().Sub(entry.fetchedAt) < l.overrideTTL {
		if entry.perMinute > 0 {
			return entry.perMinute
		}
		return l.limit
	}

	perMinute := database.GetRateLimitOverride(key)
	l.overrideMu.Lock()
	l.overrides[key] = overrideEntry{perMinute: perMinute, fetchedAt: l.now()}
	l.overrideMu.Unlock()

	if perMinute > 0 {
		return perMinute
	}
	return l.limit
}

// Check admits or rejects one event for key and records it when admitted.
func (l *Limiter) Check(key string) Result {
	limit := l.limitFor(key)
	w := l.getWindow(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Prune events that slid out of the window
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	w.requests = w.requests[i:]

	if len(w.requests) >= limit {
		return Result{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   w.requests[0].Add(l.window),
		}
	}

	w.requests = append(w.requests, now)
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.requests),
		ResetAt:   w.requests[0].Add(l.window),
	}
}
