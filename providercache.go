package cloudauth

import (
	"context"
	"sync"
	"time"

	"github.com/mwapstack/cloudauth/storage"
)

// providerCache is a read-through cache of provider configurations with a
// bounded TTL and explicit invalidation on administrative update. Provider
// records are read-mostly; the TTL keeps a stale secret or endpoint from
// outliving an administrative change by more than a few minutes.
type providerCache struct {
	store storage.ProviderStore
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]providerCacheEntry
}

type providerCacheEntry struct {
	provider *storage.Provider
	loadedAt time.Time
}

func newProviderCache(store storage.ProviderStore, ttl time.Duration) *providerCache {
	return &providerCache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]providerCacheEntry),
	}
}

// GetProvider returns the cached record, re-reading from storage when the
// entry is missing or older than the TTL.
func (c *providerCache) GetProvider(ctx context.Context, id string) (*storage.Provider, error) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	c.mu.Unlock()

	if ok && time.Since(entry.loadedAt) < c.ttl {
		return entry.provider, nil
	}

	provider, err := c.store.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[id] = providerCacheEntry{provider: provider, loadedAt: time.Now()}
	c.mu.Unlock()

	return provider, nil
}

// Invalidate drops a cached entry after an administrative update.
func (c *providerCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
