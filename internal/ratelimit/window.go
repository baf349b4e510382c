package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the sliding window length for the edge limiter.
	DefaultWindow = 60 * time.Second
	// DefaultWindowLimit is the request cap per identifier per window.
	DefaultWindowLimit = 5
)

// Result reports the outcome of a window check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Window is a sliding-window request counter keyed by identifier. The
// read-modify-write sequence is guarded by a mutex; counts are exact
// within a single process.
type Window struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewWindow creates a limiter. Non-positive arguments select the defaults.
func NewWindow(window time.Duration, limit int) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultWindowLimit
	}
	return &Window{
		window: window,
		limit:  limit,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a request for id unless the window is full. When full,
// ResetAt is the oldest surviving timestamp plus the window length.
func (w *Window) Allow(id string) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	kept := w.hits[id][:0:0]
	for _, ts := range w.hits[id] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= w.limit {
		w.hits[id] = kept
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   kept[0].Add(w.window),
		}
	}

	kept = append(kept, now)
	w.hits[id] = kept
	return Result{
		Allowed:   true,
		Remaining: w.limit - len(kept),
		ResetAt:   kept[0].Add(w.window),
	}
}

// Reset drops all recorded request timestamps.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hits = make(map[string][]time.Time)
}
