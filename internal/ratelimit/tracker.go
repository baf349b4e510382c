// Package ratelimit tracks the remote GitHub API budget from response
// headers and enforces the edge service's per-identity request window.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github-issue-mirror/internal/model"
)

// DefaultWarningThreshold is the remaining/limit ratio at or below which
// the threshold callback fires.
const DefaultWarningThreshold = 0.2

// Tracker holds the rate-limit state derived from the most recent GitHub
// response. State is process-lifetime only; Reset clears it.
type Tracker struct {
	mu          sync.Mutex
	state       *model.RateLimitState
	threshold   float64
	onThreshold func(model.RateLimitState)
	now         func() time.Time
}

// NewTracker creates a tracker. A non-positive threshold selects
// DefaultWarningThreshold.
func NewTracker(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}
	return &Tracker{
		threshold: threshold,
		now:       time.Now,
	}
}

// ParseHeaders extracts rate-limit state from GitHub response headers.
// It returns nil unless limit, remaining and reset are all present and
// numeric. Lookup is case-insensitive and multi-value headers use the
// first value.
func ParseHeaders(h http.Header) *model.RateLimitState {
	limit, ok := headerInt(h, "X-RateLimit-Limit")
	if !ok {
		return nil
	}
	remaining, ok := headerInt(h, "X-RateLimit-Remaining")
	if !ok {
		return nil
	}
	reset, ok := headerInt(h, "X-RateLimit-Reset")
	if !ok {
		return nil
	}

	state := &model.RateLimitState{
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(int64(reset), 0),
		Resource:  h.Get("X-RateLimit-Resource"),
	}
	if used, ok := headerInt(h, "X-RateLimit-Used"); ok {
		state.Used = used
	}
	return state
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Update parses the headers and, on success, replaces the current state.
// The threshold callback fires when 0 < remaining/limit <= threshold.
func (t *Tracker) Update(h http.Header) *model.RateLimitState {
	state := ParseHeaders(h)
	if state == nil {
		return nil
	}

	t.mu.Lock()
	t.state = state
	callback := t.onThreshold
	fire := false
	if callback != nil && state.Limit > 0 {
		ratio := float64(state.Remaining) / float64(state.Limit)
		fire = ratio > 0 && ratio <= t.threshold
	}
	t.mu.Unlock()

	if fire {
		callback(*state)
	}
	return state
}

// OnThreshold registers the warning callback. At most one callback is
// registered at a time; the last registration wins.
func (t *Tracker) OnThreshold(fn func(model.RateLimitState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onThreshold = fn
}

// CanMakeRequest reports whether a request should be attempted: true with
// no recorded state, true while budget remains, otherwise true only once
// the reset time has passed.
func (t *Tracker) CanMakeRequest() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		return true
	}
	if t.state.Remaining > 0 {
		return true
	}
	return !t.now().Before(t.state.Reset)
}

// TimeUntilReset returns the time left until the budget resets, clamped
// to zero.
func (t *Tracker) TimeUntilReset() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		return 0
	}
	d := t.state.Reset.Sub(t.now())
	if d < 0 {
		return 0
	}
	return d
}

// State returns a copy of the current state, or nil if none was recorded.
func (t *Tracker) State() *model.RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		return nil
	}
	s := *t.state
	return &s
}

// Reset clears the recorded state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = nil
}
