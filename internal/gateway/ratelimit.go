package gateway

import (
	"sync"
	"time"
)

// DefaultRateWindow is the trailing window every route limit applies to.
const DefaultRateWindow = time.Minute

// DefaultRouteLimits maps "METHOD:/path" to requests allowed per window.
// Routes not listed are not limited.
func DefaultRouteLimits() map[string]int {
	return map[string]int{
		"GET:/v1/status":             120,
		"GET:/v1/apps":               60,
		"GET:/v1/system/resources":   120,
		"GET:/v1/media/now-playing":  120,
		"GET:/v1/media/art":          60,
		"GET:/v1/notifications":      120,
		"POST:/v1/exec":              30,
		"POST:/v1/system/brightness": 30,
		"POST:/v1/system/volume":     30,
		"POST:/v1/screen/lock":       20,
		"POST:/v1/auth/rotate":       5,
	}
}

// SlidingWindow admits at most max requests in any trailing window.
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	stamps []time.Time
}

// NewSlidingWindow creates a limiter. now defaults to time.Now.
func NewSlidingWindow(max int, window time.Duration, now func() time.Time) *SlidingWindow {
	if now == nil {
		now = time.Now
	}
	return &SlidingWindow{max: max, window: window, now: now}
}

// Allow records and admits the request, or rejects it without recording.
func (l *SlidingWindow) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	drop := 0
	for drop < len(l.stamps) && now.Sub(l.stamps[drop]) > l.window {
		drop++
	}
	l.stamps = l.stamps[drop:]

	if len(l.stamps) >= l.max {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// Limiters is the per-route limiter table. It is built once and only
// read afterwards; each limiter carries its own lock.
type Limiters struct {
	byRoute map[string]*SlidingWindow
}

// NewLimiters builds a table from route limits.
func NewLimiters(limits map[string]int, window time.Duration, now func() time.Time) *Limiters {
	if window <= 0 {
		window = DefaultRateWindow
	}
	byRoute := make(map[string]*SlidingWindow, len(limits))
	for route, max := range limits {
		byRoute[route] = NewSlidingWindow(max, window, now)
	}
	return &Limiters{byRoute: byRoute}
}

// Allow applies the limiter for route, if any.
func (l *Limiters) Allow(route string) bool {
	limiter, ok := l.byRoute[route]
	if !ok {
		return true
	}
	return limiter.Allow()
}
