package ratelimit

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-issue-mirror/internal/model"
)

func headersFor(limit, remaining, reset string) http.Header {
	h := http.Header{}
	if limit != "" {
		h.Set("X-RateLimit-Limit", limit)
	}
	if remaining != "" {
		h.Set("X-RateLimit-Remaining", remaining)
	}
	if reset != "" {
		h.Set("X-RateLimit-Reset", reset)
	}
	return h
}

func TestParseHeaders(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()

	t.Run("parses a complete header set", func(t *testing.T) {
		state := ParseHeaders(headersFor("5000", "4999", fmt.Sprintf("%d", reset)))
		require.NotNil(t, state)
		assert.Equal(t, 5000, state.Limit)
		assert.Equal(t, 4999, state.Remaining)
		assert.Equal(t, time.Unix(reset, 0), state.Reset)
	})

	t.Run("returns nil when any header is missing or malformed", func(t *testing.T) {
		tests := []struct {
			name                    string
			limit, remaining, reset string
		}{
			{"missing limit", "", "4999", "1700000000"},
			{"missing remaining", "5000", "", "1700000000"},
			{"missing reset", "5000", "4999", ""},
			{"non-numeric remaining", "5000", "lots", "1700000000"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				assert.Nil(t, ParseHeaders(headersFor(tc.limit, tc.remaining, tc.reset)))
			})
		}
	})
}

func TestTracker_ThresholdCallback(t *testing.T) {
	reset := fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix())

	t.Run("fires at or below the threshold", func(t *testing.T) {
		tracker := NewTracker(0)
		var fired []model.RateLimitState
		tracker.OnThreshold(func(state model.RateLimitState) {
			fired = append(fired, state)
		})

		tracker.Update(headersFor("5000", "800", reset))

		require.Len(t, fired, 1)
		assert.Equal(t, 800, fired[0].Remaining)
	})

	t.Run("does not fire above the threshold", func(t *testing.T) {
		tracker := NewTracker(0)
		fired := false
		tracker.OnThreshold(func(model.RateLimitState) { fired = true })

		tracker.Update(headersFor("5000", "2500", reset))

		assert.False(t, fired)
	})

	t.Run("does not fire at zero remaining", func(t *testing.T) {
		tracker := NewTracker(0)
		fired := false
		tracker.OnThreshold(func(model.RateLimitState) { fired = true })

		tracker.Update(headersFor("5000", "0", reset))

		assert.False(t, fired)
	})
}

func TestTracker_CanMakeRequest(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	resetAt := base.Add(30 * time.Minute)

	tracker := NewTracker(0)
	tracker.now = func() time.Time { return base }

	t.Run("allows with no recorded state", func(t *testing.T) {
		assert.True(t, tracker.CanMakeRequest())
	})

	tracker.Update(headersFor("5000", "0", fmt.Sprintf("%d", resetAt.Unix())))

	t.Run("blocks at zero remaining before the reset", func(t *testing.T) {
		assert.False(t, tracker.CanMakeRequest())
		assert.Equal(t, 30*time.Minute, tracker.TimeUntilReset())
	})

	t.Run("allows again once the reset has passed", func(t *testing.T) {
		tracker.now = func() time.Time { return resetAt.Add(time.Second) }
		assert.True(t, tracker.CanMakeRequest())
		assert.Equal(t, time.Duration(0), tracker.TimeUntilReset())
	})

	t.Run("allows while budget remains", func(t *testing.T) {
		tracker.Update(headersFor("5000", "1", fmt.Sprintf("%d", resetAt.Unix())))
		tracker.now = func() time.Time { return base }
		assert.True(t, tracker.CanMakeRequest())
	})

	t.Run("reset clears recorded state", func(t *testing.T) {
		tracker.Reset()
		assert.Nil(t, tracker.State())
		assert.True(t, tracker.CanMakeRequest())
	})
}
