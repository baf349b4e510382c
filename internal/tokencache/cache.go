// Package tokencache holds installation access tokens in memory, one live
// entry per installation id, with expiry checked lazily on read.
package tokencache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github-issue-mirror/internal/model"
)

// Cache is an in-memory installation token cache. Callers construct and
// own the instance; there is no process-wide state.
type Cache struct {
	mu      sync.Mutex
	entries map[int64]model.CachedInstallationToken
	now     func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[int64]model.CachedInstallationToken),
		now:     time.Now,
	}
}

// Get returns the cached token for the installation. A token whose
// ExpiresAt has passed is evicted and nil is returned.
func (c *Cache) Get(installationID int64) *model.CachedInstallationToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.entries[installationID]
	if !ok {
		return nil
	}
	if !tok.ExpiresAt.After(c.now()) {
		delete(c.entries, installationID)
		return nil
	}
	return &tok
}

// Put stores the token, overwriting any previous entry for the
// installation.
func (c *Cache) Put(tok model.CachedInstallationToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tok.InstallationID] = tok
}

// Has reports whether a live token exists for the installation.
func (c *Cache) Has(installationID int64) bool {
	return c.Get(installationID) != nil
}

// EvictExpired sweeps out all expired entries and returns how many were
// removed. Lazy expiry in Get keeps the cache correct without it.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for id, tok := range c.entries {
		if !tok.ExpiresAt.After(now) {
			delete(c.entries, id)
			evicted++
		}
	}
	return evicted
}

// Snapshot serializes the live entries.
func (c *Cache) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]model.CachedInstallationToken, 0, len(c.entries))
	for _, tok := range c.entries {
		entries = append(entries, tok)
	}
	return json.Marshal(entries)
}

// Restore replaces the cache contents from a snapshot, silently dropping
// entries that have expired since it was taken.
func (c *Cache) Restore(data []byte) error {
	var entries []model.CachedInstallationToken
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode token cache snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries = make(map[int64]model.CachedInstallationToken, len(entries))
	for _, tok := range entries {
		if tok.ExpiresAt.After(now) {
			c.entries[tok.InstallationID] = tok
		}
	}
	return nil
}

// Reset empties the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]model.CachedInstallationToken)
}
