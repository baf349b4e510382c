package tokencache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-issue-mirror/internal/model"
)

func tokenFor(id int64, value string, expiresAt time.Time) model.CachedInstallationToken {
	return model.CachedInstallationToken{
		InstallationID: id,
		Token:          value,
		ExpiresAt:      expiresAt,
	}
}

func TestCache_LazyExpiry(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := New()
	cache.now = func() time.Time { return base }

	cache.Put(tokenFor(1, "ghs_live", base.Add(time.Hour)))

	t.Run("returns a live token", func(t *testing.T) {
		tok := cache.Get(1)
		require.NotNil(t, tok)
		assert.Equal(t, "ghs_live", tok.Token)
		assert.True(t, cache.Has(1))
	})

	t.Run("evicts exactly at expiry", func(t *testing.T) {
		cache.now = func() time.Time { return base.Add(time.Hour) }
		assert.Nil(t, cache.Get(1))
		assert.False(t, cache.Has(1))
	})

	t.Run("unknown installation yields nil", func(t *testing.T) {
		assert.Nil(t, cache.Get(99))
	})
}

func TestCache_PutOverwrites(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := New()
	cache.now = func() time.Time { return base }

	cache.Put(tokenFor(1, "ghs_old", base.Add(time.Hour)))
	cache.Put(tokenFor(1, "ghs_new", base.Add(2*time.Hour)))

	tok := cache.Get(1)
	require.NotNil(t, tok)
	assert.Equal(t, "ghs_new", tok.Token)
}

func TestCache_EvictExpired(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := New()
	cache.now = func() time.Time { return base }

	cache.Put(tokenFor(1, "ghs_a", base.Add(time.Minute)))
	cache.Put(tokenFor(2, "ghs_b", base.Add(time.Hour)))
	cache.Put(tokenFor(3, "ghs_c", base.Add(2*time.Hour)))

	cache.now = func() time.Time { return base.Add(30 * time.Minute) }
	assert.Equal(t, 1, cache.EvictExpired())
	assert.False(t, cache.Has(1))
	assert.True(t, cache.Has(2))
	assert.True(t, cache.Has(3))
}

func TestCache_SnapshotRestore(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := New()
	cache.now = func() time.Time { return base }

	cache.Put(tokenFor(1, "ghs_short", base.Add(time.Minute)))
	cache.Put(tokenFor(2, "ghs_long", base.Add(time.Hour)))

	snapshot, err := cache.Snapshot()
	require.NoError(t, err)

	// Restore after the short token expired.
	restored := New()
	restored.now = func() time.Time { return base.Add(10 * time.Minute) }
	require.NoError(t, restored.Restore(snapshot))

	assert.False(t, restored.Has(1), "expired entries are dropped on restore")
	assert.True(t, restored.Has(2))

	t.Run("rejects malformed snapshots", func(t *testing.T) {
		assert.Error(t, New().Restore([]byte("{")))
	})
}
